package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/devfleet/devfleet/internal/store"
	"github.com/devfleet/devfleet/pkg/domain"
)

// Ensure FileStore implements SnapshotStore
var _ store.SnapshotStore = (*store.FileStore)(nil)

func TestFileStore_Contract(t *testing.T) {
	s := store.NewFileStore(t.TempDir())
	store.RunSnapshotStoreContract(t, s)
}

func TestFileStore_CorruptedFileIsConfigError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "projects.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	s := store.NewFileStore(dir)
	_, err := s.Load(context.Background())
	if err == nil {
		t.Fatal("Load of corrupt store should fail")
	}
	if errors.Is(err, store.ErrNotFound) {
		t.Fatal("corrupt store must not be treated as missing")
	}
	if domain.CodeOf(err) != domain.CodeConfigError {
		t.Errorf("error code = %q, want %q", domain.CodeOf(err), domain.CodeConfigError)
	}
	if len(domain.HintsOf(err)) == 0 {
		t.Error("config error should carry remediation hints")
	}
}

func TestFileStore_RefusesUnknownMajorVersion(t *testing.T) {
	dir := t.TempDir()
	s := store.NewFileStore(dir)
	ctx := context.Background()

	snap := domain.NewSnapshot()
	snap.Version = "2.0.0"
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, err := s.Load(ctx)
	if domain.CodeOf(err) != domain.CodeConfigError {
		t.Errorf("loading major version 2 snapshot: err = %v, want CONFIG_ERROR", err)
	}
}

func TestFileStore_AtomicWriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	s := store.NewFileStore(dir)
	ctx := context.Background()

	if err := s.Save(ctx, domain.NewSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "projects.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after commit")
	}
	if _, err := os.Stat(filepath.Join(dir, "projects.json")); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
}

func TestFileStore_RestoreRejectsPathTraversal(t *testing.T) {
	s := store.NewFileStore(t.TempDir())
	_, err := s.Restore(context.Background(), "../projects.json")
	if err == nil || errors.Is(err, store.ErrNotFound) {
		t.Errorf("Restore with traversal name should fail outright, got %v", err)
	}
}
