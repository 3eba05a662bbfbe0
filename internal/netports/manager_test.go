package netports_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/devfleet/devfleet/internal/netports"
	"github.com/devfleet/devfleet/internal/registry"
	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freeProbe reports every port as available.
func freeProbe(int) bool { return false }

// busyProbe marks a fixed set of ports as live-occupied.
func busyProbe(busy ...int) netports.ProbeFunc {
	return func(port int) bool {
		for _, b := range busy {
			if b == port {
				return true
			}
		}
		return false
	}
}

func newTestRegistry(t *testing.T, probe netports.ProbeFunc) *registry.Registry {
	t.Helper()
	reg, err := registry.New(store.NewFileStore(t.TempDir()),
		registry.WithPortOptions(netports.WithProbe(probe)))
	require.NoError(t, err)
	return reg
}

func setRanges(t *testing.T, reg *registry.Registry, fe, be domain.PortRange) {
	t.Helper()
	require.NoError(t, reg.Update("test", func(snap *domain.Snapshot) error {
		snap.PortAllocation.FrontendRange = fe
		snap.PortAllocation.BackendRange = be
		return nil
	}))
}

func TestFindAvailable_ScansAscendingSkippingReserved(t *testing.T) {
	reg := newTestRegistry(t, freeProbe)
	m := reg.Ports()
	setRanges(t, reg,
		domain.PortRange{Start: 3000, End: 3002, Reserved: []int{3000}},
		domain.PortRange{Start: 8000, End: 8001},
	)
	ctx := context.Background()

	// 3000 is reserved: first candidate is 3001, then 3002, then exhausted.
	port, err := m.FindAvailable(ctx, domain.RoleFrontend, nil)
	require.NoError(t, err)
	assert.Equal(t, 3001, port)

	_, err = m.Allocate(ctx, "one", true, false, nil)
	require.NoError(t, err)

	port, err = m.FindAvailable(ctx, domain.RoleFrontend, nil)
	require.NoError(t, err)
	assert.Equal(t, 3002, port)

	_, err = m.Allocate(ctx, "two", true, false, nil)
	require.NoError(t, err)

	_, err = m.FindAvailable(ctx, domain.RoleFrontend, nil)
	assert.ErrorIs(t, err, domain.ErrPortExhausted)
}

func TestFindAvailable_SkipsExcludedAndLiveOccupied(t *testing.T) {
	reg := newTestRegistry(t, busyProbe(3001))
	m := reg.Ports()
	setRanges(t, reg,
		domain.PortRange{Start: 3000, End: 3004, Reserved: []int{3000}},
		domain.PortRange{Start: 8000, End: 8001},
	)

	// 3000 reserved, 3001 live-occupied, 3002 excluded -> 3003.
	port, err := m.FindAvailable(context.Background(), domain.RoleFrontend, []int{3002})
	require.NoError(t, err)
	assert.Equal(t, 3003, port)
}

func TestAllocate_AtomicOnPartialFailure(t *testing.T) {
	reg := newTestRegistry(t, freeProbe)
	m := reg.Ports()
	setRanges(t, reg,
		domain.PortRange{Start: 3000, End: 3001},
		domain.PortRange{Start: 8000, End: 8000},
	)
	ctx := context.Background()

	// Exhaust the backend range.
	_, err := m.Allocate(ctx, "hog", false, true, nil)
	require.NoError(t, err)

	// Frontend would succeed, backend is exhausted: nothing may commit.
	_, err = m.Allocate(ctx, "victim", true, true, nil)
	assert.ErrorIs(t, err, domain.ErrPortExhausted)

	reg.View(func(snap *domain.Snapshot) {
		for _, holder := range snap.PortAllocation.Allocated {
			assert.NotEqual(t, "victim", holder, "partial allocation leaked")
		}
	})
}

func TestRelease_Idempotent(t *testing.T) {
	reg := newTestRegistry(t, freeProbe)
	m := reg.Ports()
	ctx := context.Background()

	got, err := m.Allocate(ctx, "blog", true, true, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	freed, err := m.Release("blog")
	require.NoError(t, err)
	assert.Len(t, freed, 2)

	freed, err = m.Release("blog")
	require.NoError(t, err)
	assert.Empty(t, freed, "second release should be a no-op")

	// Released ports are allocatable again.
	port, err := m.FindAvailable(ctx, domain.RoleFrontend, nil)
	require.NoError(t, err)
	assert.Equal(t, got[domain.RoleFrontend], port)
}

func TestAllocate_UniquenessUnderChurn(t *testing.T) {
	reg := newTestRegistry(t, freeProbe)
	m := reg.Ports()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		name := "proj-" + strconv.Itoa(i)
		_, err := m.Allocate(ctx, name, true, true, nil)
		require.NoError(t, err)
		if i%3 == 0 {
			_, err = m.Release(name)
			require.NoError(t, err)
		}

		// Invariant: no port held twice, every allocation in range.
		reg.View(func(snap *domain.Snapshot) {
			for key, holder := range snap.PortAllocation.Allocated {
				port, err := strconv.Atoi(key)
				require.NoError(t, err)
				inFE := snap.PortAllocation.FrontendRange.Contains(port)
				inBE := snap.PortAllocation.BackendRange.Contains(port)
				assert.True(t, inFE || inBE, "port %d outside both ranges (held by %s)", port, holder)
			}
		})
	}
}

func TestAllocate_ConcurrentCallersNeverShareAPort(t *testing.T) {
	reg := newTestRegistry(t, freeProbe)
	m := reg.Ports()
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	results := make([]map[domain.ServiceRole]int, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Allocate(ctx, "conc-"+strconv.Itoa(i), true, true, nil)
		}(i)
	}
	wg.Wait()

	seen := make(map[int]int)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		for _, port := range results[i] {
			if prev, dup := seen[port]; dup {
				t.Fatalf("port %d handed to both caller %d and %d", port, prev, i)
			}
			seen[port] = i
		}
	}
}

func TestAllocate_HonorsCancellation(t *testing.T) {
	reg := newTestRegistry(t, freeProbe)
	m := reg.Ports()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Allocate(ctx, "late", true, false, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate(t *testing.T) {
	reg := newTestRegistry(t, busyProbe(8005))
	m := reg.Ports()
	ctx := context.Background()
	setRanges(t, reg,
		domain.PortRange{Start: 3000, End: 3010},
		domain.PortRange{Start: 8000, End: 8010, Reserved: []int{8002}},
	)

	_, err := m.Allocate(ctx, "blog", false, true, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		port int
		role domain.ServiceRole
		ok   bool
	}{
		{"out of range", 9000, domain.RoleBackend, false},
		{"reserved", 8002, domain.RoleBackend, false},
		{"already allocated", 8000, domain.RoleBackend, false},
		{"live occupied", 8005, domain.RoleBackend, false},
		{"usable", 8001, domain.RoleBackend, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := m.Validate(tt.port, tt.role)
			assert.Equal(t, tt.ok, ok, reason)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestStatus_FlagsStaleEntries(t *testing.T) {
	reg := newTestRegistry(t, freeProbe)
	m := reg.Ports()

	require.NoError(t, reg.Update("test", func(snap *domain.Snapshot) error {
		// Allocation held by a project that is not registered.
		snap.PortAllocation.Claim(8003, "ghost")
		return nil
	}))

	report := m.Status(context.Background())
	assert.Contains(t, report.Backend.Used, 8003)
	require.NotEmpty(t, report.Backend.Conflicts)
	assert.Contains(t, report.Backend.Conflicts[0], "ghost")
	assert.NotZero(t, report.Backend.NextAvailable)
	assert.NotEmpty(t, report.Backend.Utilization)
}

func TestListenProbe(t *testing.T) {
	// Bind a real socket and verify the probe sees it as occupied.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	assert.True(t, netports.ListenProbe(port), "bound port should read as occupied")

	ln.Close()
	assert.False(t, netports.ListenProbe(port), "released port should read as free")
}

func TestFindAvailable_ExhaustionIsCoded(t *testing.T) {
	reg := newTestRegistry(t, busyProbe(3001, 3002))
	m := reg.Ports()
	setRanges(t, reg,
		domain.PortRange{Start: 3000, End: 3002, Reserved: []int{3000}},
		domain.PortRange{Start: 8000, End: 8001},
	)

	_, err := m.FindAvailable(context.Background(), domain.RoleFrontend, nil)
	require.Error(t, err)
	assert.Equal(t, domain.CodePortExhausted, domain.CodeOf(err))
	assert.NotEmpty(t, domain.HintsOf(err))
	assert.False(t, errors.Is(err, domain.ErrPortInUse))
}
