// Package transport carries swarm frames over UDP broadcast and unicast.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	retry "github.com/avast/retry-go/v4"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/iggydv12/lightswarm/internal/packet"
)

// Datagram is one received frame and the address it came from.
type Datagram struct {
	Payload []byte
	From    netip.Addr
}

// Config describes the UDP socket.
type Config struct {
	// Port is the swarm port frames are addressed to.
	Port int
	// ListenAddr overrides the local bind address, ":Port" by default.
	ListenAddr  string
	Broadcast   string
	Interface   string
	BindRetries uint
	PollWindow  time.Duration
}

// UDPTransport sends and receives swarm frames on a single UDP socket.
// Poll and Receive must not be called concurrently.
type UDPTransport struct {
	raw       net.PacketConn
	conn      *ipv4.PacketConn
	broadcast *net.UDPAddr
	port      int
	ifIndex   int
	poll      time.Duration
	buf       []byte
	logger    *zap.Logger
}

// Listen binds the swarm port, retrying while the network comes up.
func Listen(ctx context.Context, cfg Config, logger *zap.Logger) (*UDPTransport, error) {
	bcast, err := netip.ParseAddr(cfg.Broadcast)
	if err != nil {
		return nil, fmt.Errorf("broadcast address %q: %w", cfg.Broadcast, err)
	}

	listen := cfg.ListenAddr
	if listen == "" {
		listen = fmt.Sprintf(":%d", cfg.Port)
	}

	var raw net.PacketConn
	attempts := cfg.BindRetries
	if attempts == 0 {
		attempts = 1
	}
	err = retry.Do(func() error {
		c, err := net.ListenPacket("udp4", listen)
		if err != nil {
			return err
		}
		raw = c
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("UDP bind retry", zap.Uint("attempt", n), zap.String("addr", listen), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bind udp %s: %w", listen, err)
	}

	// Port 0 binds an ephemeral port; peers are then addressed on the same one.
	port := cfg.Port
	if ua, ok := raw.LocalAddr().(*net.UDPAddr); ok && port == 0 {
		port = ua.Port
	}

	t := &UDPTransport{
		raw:       raw,
		conn:      ipv4.NewPacketConn(raw),
		broadcast: net.UDPAddrFromAddrPort(netip.AddrPortFrom(bcast, uint16(port))),
		port:      port,
		poll:      cfg.PollWindow,
		buf:       make([]byte, packet.MaxFrameSize),
		logger:    logger,
	}
	if t.poll <= 0 {
		t.poll = 5 * time.Millisecond
	}

	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("interface %q: %w", cfg.Interface, err)
		}
		t.ifIndex = ifi.Index
	}
	if err := t.conn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		logger.Debug("IPv4 control messages unavailable", zap.Error(err))
	}

	logger.Info("UDP transport listening",
		zap.String("local", raw.LocalAddr().String()),
		zap.Int("port", port),
		zap.String("broadcast", t.broadcast.String()),
	)
	return t, nil
}

// Broadcast sends frame to the swarm broadcast address.
func (t *UDPTransport) Broadcast(frame []byte) error {
	var cm *ipv4.ControlMessage
	if t.ifIndex > 0 {
		cm = &ipv4.ControlMessage{IfIndex: t.ifIndex}
	}
	_, err := t.conn.WriteTo(frame, cm, t.broadcast)
	return err
}

// SendTo unicasts frame to addr on the swarm port.
func (t *UDPTransport) SendTo(addr netip.Addr, frame []byte) error {
	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, uint16(t.port)))
	_, err := t.conn.WriteTo(frame, nil, dst)
	return err
}

// Poll returns at most one pending datagram, waiting no longer than the
// configured poll window.
func (t *UDPTransport) Poll() (Datagram, bool, error) {
	return t.read(time.Now().Add(t.poll))
}

// Receive blocks until a datagram arrives or ctx is done.
func (t *UDPTransport) Receive(ctx context.Context) (Datagram, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Datagram{}, err
		}
		d, ok, err := t.read(time.Now().Add(250 * time.Millisecond))
		if err != nil {
			return Datagram{}, err
		}
		if ok {
			return d, nil
		}
	}
}

func (t *UDPTransport) read(deadline time.Time) (Datagram, bool, error) {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, false, err
	}
	n, cm, src, err := t.conn.ReadFrom(t.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return Datagram{}, false, nil
		}
		return Datagram{}, false, err
	}
	if t.ifIndex > 0 && cm != nil && cm.IfIndex != t.ifIndex {
		return Datagram{}, false, nil
	}
	d := Datagram{Payload: append([]byte(nil), t.buf[:n]...)}
	if ua, ok := src.(*net.UDPAddr); ok {
		d.From = ua.AddrPort().Addr().Unmap()
	}
	return d, true, nil
}

// LocalAddr returns the bound socket address.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.raw.LocalAddr()
}

// Close releases the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// InterfaceIPv4 returns the first IPv4 address of the named interface, or of
// the first non-loopback interface that is up when name is empty.
func InterfaceIPv4(name string) (netip.Addr, error) {
	var ifaces []net.Interface
	if name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return netip.Addr{}, err
		}
		ifaces = []net.Interface{*ifi}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return netip.Addr{}, err
		}
		for _, ifi := range all {
			if ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagLoopback == 0 {
				ifaces = append(ifaces, ifi)
			}
		}
	}
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipn.IP); ok && ip.Unmap().Is4() {
				return ip.Unmap(), nil
			}
		}
	}
	return netip.Addr{}, fmt.Errorf("no IPv4 address on interface %q", name)
}

// SwarmAddress is the last octet of an IPv4 address.
func SwarmAddress(ip netip.Addr) uint8 {
	b := ip.As4()
	return b[3]
}
