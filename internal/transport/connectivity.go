package transport

import "net"

// Connectivity reports whether the host has any usable network.
type Connectivity interface {
	Online() bool
}

// ConnectivityFunc adapts a plain function to Connectivity.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) Online() bool {
	return f()
}

// InterfaceProbe reports online when at least one non-loopback interface is
// up. If interfaces cannot be listed it assumes online so that the generic
// network message is used.
var InterfaceProbe = ConnectivityFunc(func() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
})
