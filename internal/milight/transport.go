package milight

import (
	"net"
)

const (
	// DefaultPort is the UDP port the bridge listens on.
	DefaultPort = 8899
	// LocalPort is the fixed source port used for every datagram.
	LocalPort = 8899
)

// Packet is the on-wire command: opcode, 0x00, 0x55.
type Packet [3]byte

// NewPacket wraps an opcode in the fixed 3-byte frame.
func NewPacket(op Opcode) Packet {
	return Packet{byte(op), 0x00, 0x55}
}

// Opcode returns the command byte of the packet.
func (p Packet) Opcode() Opcode {
	return Opcode(p[0])
}

// Valid reports whether the trailer bytes match the protocol frame.
func (p Packet) Valid() bool {
	return p[1] == 0x00 && p[2] == 0x55
}

// Transport delivers one packet to the bridge.
type Transport interface {
	Send(dst *net.UDPAddr, p Packet) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(dst *net.UDPAddr, p Packet) error

func (f TransportFunc) Send(dst *net.UDPAddr, p Packet) error {
	return f(dst, p)
}

// UDPTransport opens a fresh socket for every datagram.
// The bridge keeps no session, so nothing is held between sends.
type UDPTransport struct {
	// Local is the bind address. Nil means 0.0.0.0:8899.
	Local *net.UDPAddr
}

// NewUDPTransport returns a transport bound to the wildcard address on LocalPort.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

func (t *UDPTransport) local() *net.UDPAddr {
	if t.Local != nil {
		return t.Local
	}
	return &net.UDPAddr{IP: net.IPv4zero, Port: LocalPort}
}

// Send binds, writes the datagram once, and closes the socket.
func (t *UDPTransport) Send(dst *net.UDPAddr, p Packet) error {
	local := t.local()
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return &TransportError{Op: "bind", Addr: local, Err: err}
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(p[:], dst); err != nil {
		return &TransportError{Op: "send", Addr: dst, Err: err}
	}
	return nil
}
