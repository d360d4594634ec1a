package discovery

import (
	"errors"
	"net"
	"os"

	"github.com/google/uuid"
)

// NewInstanceID returns a fresh process-instance identifier. It only lets a
// process recognize its own broadcast echoes and carries no authority.
func NewInstanceID() string {
	return uuid.NewString()
}

// LocalIPv4 returns the IPv4 address of the interface holding the default
// route. Dialing UDP sends no packets.
func LocalIPv4() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, errors.New("unexpected local address type")
	}
	ip := localAddr.IP.To4()
	if ip == nil {
		return nil, errors.New("local address is not IPv4")
	}
	return ip, nil
}

// LocalDeviceName returns the hostname, or an empty name when it cannot be
// resolved.
func LocalDeviceName() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

// BroadcastAddress forms the subnet broadcast destination for a local
// address by replacing its last octet with 255. Non-IPv4 or missing
// addresses fall back to 255.255.255.255.
func BroadcastAddress(local net.IP, port int) *net.UDPAddr {
	if v4 := local.To4(); v4 != nil {
		return &net.UDPAddr{IP: net.IPv4(v4[0], v4[1], v4[2], 255), Port: port}
	}
	return &net.UDPAddr{IP: net.IPv4bcast, Port: port}
}
