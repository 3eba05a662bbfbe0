package netports

import (
	"net"
	"strconv"
)

// ProbeFunc reports whether a port is occupied by a live process.
type ProbeFunc func(port int) bool

// ListenProbe checks occupancy by attempting to bind a listening socket.
// A successful bind means the port is free (the socket is closed again
// immediately). A failed bind is treated as occupied regardless of cause:
// address-in-use is the common case, and anything else (e.g. permission
// denied on a low port) means we could not use the port anyway.
func ListenProbe(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}
