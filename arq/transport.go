package arq

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
)

// Datagram is the tagged result of Transport.Receive. When Timeout is set
// nothing arrived within the wait and Data and Addr are empty.
type Datagram struct {
	Data    []byte
	Addr    net.Addr
	Timeout bool
}

// Transport is an unreliable, unordered datagram channel bound to a fixed
// local address. Send never waits for delivery. Receive blocks for at most
// timeout, or indefinitely when timeout <= 0, and reports an expired wait
// through Datagram.Timeout rather than an error.
type Transport interface {
	Send(addr net.Addr, data []byte) error
	Receive(timeout time.Duration) (Datagram, error)
	LocalAddr() net.Addr
	Close() error
}

type UDPTransport struct {
	udp  *net.UDPConn
	buff []byte
	tos  int
}

type Option func(*UDPTransport) error

// WithTOS marks outgoing IPv4 datagrams with the given type-of-service byte.
// It is a no-op on IPv6-only sockets that refuse the option.
func WithTOS(tos int) Option {
	return func(u *UDPTransport) error {
		if tos == 0 {
			return nil
		}
		if err := ipv4.NewConn(u.udp).SetTOS(tos); err != nil {
			if isIPv6(u.udp.LocalAddr()) {
				return nil
			}
			return fmt.Errorf("set tos %#x: %w", tos, err)
		}
		u.tos = tos
		return nil
	}
}

// ListenUDP binds laddr ("host:port"). An empty laddr binds an ephemeral
// port on all interfaces, which is what a sender wants.
func ListenUDP(laddr string, opts ...Option) (*UDPTransport, error) {
	var local *net.UDPAddr
	if laddr != "" {
		addr, err := net.ResolveUDPAddr("udp", laddr)
		if err != nil {
			return nil, err
		}
		local = addr
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, err
	}

	u := &UDPTransport{udp: conn, buff: make([]byte, MAX_DATAGRAM)}
	for _, opt := range opts {
		if err := opt(u); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return u, nil
}

func (u *UDPTransport) Send(addr net.Addr, data []byte) error {
	_, err := u.udp.WriteTo(data, addr)
	return err
}

func (u *UDPTransport) Receive(timeout time.Duration) (Datagram, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := u.udp.SetReadDeadline(deadline); err != nil {
		return Datagram{}, err
	}

	cnt, raddr, err := u.udp.ReadFromUDP(u.buff)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return Datagram{Timeout: true}, nil
		}
		return Datagram{}, err
	}
	data := make([]byte, cnt)
	copy(data, u.buff[:cnt])
	return Datagram{Data: data, Addr: raddr}, nil
}

func (u *UDPTransport) LocalAddr() net.Addr {
	return u.udp.LocalAddr()
}

func (u *UDPTransport) Close() error {
	return u.udp.Close()
}

func isIPv6(addr net.Addr) bool {
	udp, ok := addr.(*net.UDPAddr)
	return ok && udp.IP != nil && udp.IP.To4() == nil
}

// ResolvePeer builds the UDP address of host:port.
func ResolvePeer(host string, port int) (*net.UDPAddr, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// sameAddr compares by string form so *net.UDPAddr and test addresses both
// work.
func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Network() == b.Network() && a.String() == b.String()
}
