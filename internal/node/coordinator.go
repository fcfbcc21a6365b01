package node

import (
	"encoding/hex"
	"errors"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/iggydv12/lightswarm/internal/device"
	"github.com/iggydv12/lightswarm/internal/election"
	"github.com/iggydv12/lightswarm/internal/packet"
	"github.com/iggydv12/lightswarm/internal/status"
	"github.com/iggydv12/lightswarm/internal/swarm"
	"github.com/iggydv12/lightswarm/internal/telemetry"
	"github.com/iggydv12/lightswarm/internal/transport"
)

// Transport is the frame link a Coordinator drives once per cycle.
type Transport interface {
	Broadcast(frame []byte) error
	SendTo(addr netip.Addr, frame []byte) error
	Poll() (transport.Datagram, bool, error)
}

// Sensor reports the local brightness metric.
type Sensor interface {
	Read() (int, error)
}

// Indicator presents the local role and metric.
type Indicator interface {
	Show(device.Indication) error
}

// Clock supplies monotonic millisecond timestamps greater than swarm.Expired.
type Clock interface {
	NowMillis() int64
}

// ActionKind names work the cycle loop must perform after a cycle.
type ActionKind int

const (
	ActionNone ActionKind = iota
	// ActionBlink holds the indicator at full brightness and pauses the node.
	ActionBlink
)

// Action is a scheduled follow-up returned by Cycle and Handle.
type Action struct {
	Kind     ActionKind
	Duration time.Duration
}

// Coordinator runs the per-cycle protocol for one node. It owns the peer
// table and must be driven from a single goroutine.
type Coordinator struct {
	address   uint8
	version   uint8
	table     *swarm.Table
	master    bool
	role      election.Role
	collector netip.Addr
	metric    int
	cycles    uint64

	transport Transport
	sensor    Sensor
	indicator Indicator
	clock     Clock
	logger    *zap.Logger
}

// NewCoordinator creates a Coordinator for the node at address. A node starts
// as Master until it learns of a brighter peer.
func NewCoordinator(address, version uint8, tr Transport, sensor Sensor, ind Indicator, clock Clock, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		address:   address,
		version:   version,
		table:     swarm.NewTable(address, version),
		master:    true,
		role:      election.RoleMaster,
		transport: tr,
		sensor:    sensor,
		indicator: ind,
		clock:     clock,
		logger:    logger.With(zap.Uint8("address", address)),
	}
}

// Master reports the current masterState.
func (c *Coordinator) Master() bool { return c.master }

// Collector returns the log collector address, if one has been defined.
func (c *Coordinator) Collector() (netip.Addr, bool) {
	return c.collector, c.collector.IsValid()
}

// Snapshot returns a copy of the peer table.
func (c *Coordinator) Snapshot() []swarm.PeerRecord { return c.table.Snapshot() }

// Cycle runs one sense, ingest, elect and announce round.
func (c *Coordinator) Cycle() Action {
	start := time.Now()
	defer func() { telemetry.CycleDuration.Observe(time.Since(start).Seconds()) }()

	c.sense()
	now := c.clock.NowMillis()
	c.table.TouchSelf(c.metric, c.version, c.master, now)
	c.table.Age(now)

	var action Action
	d, ok, err := c.transport.Poll()
	switch {
	case err != nil:
		c.logger.Warn("Receive failed", zap.Error(err))
	case ok:
		action = c.Handle(d)
	}

	c.elect()
	c.show(action)
	c.announce()
	c.export()
	c.cycles++
	return action
}

func (c *Coordinator) sense() {
	m, err := c.sensor.Read()
	if err != nil {
		c.logger.Warn("Sensor read failed, keeping last metric", zap.Int("metric", c.metric), zap.Error(err))
		return
	}
	c.metric = device.ClampMetric(m)
}

// Handle decodes one inbound datagram and applies it.
func (c *Coordinator) Handle(d transport.Datagram) Action {
	p, err := packet.Decode(d.Payload)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, packet.ErrUnknownKind) {
			reason = "unknown_kind"
		}
		telemetry.DecodeErrors.WithLabelValues(reason).Inc()
		c.logger.Warn("Discarding frame", zap.Stringer("from", d.From), zap.Error(err))
		return Action{}
	}
	telemetry.PacketsReceived.WithLabelValues(p.Kind().String()).Inc()

	switch v := p.(type) {
	case packet.LightUpdate:
		// Broadcasts loop back to the sender.
		if v.Sender == 0 || v.Sender == c.address {
			return Action{}
		}
		slot := c.table.ApplyUpdate(v.Sender, int(v.Metric), v.Version, v.Master, c.clock.NowMillis())
		c.logger.Debug("Peer update",
			zap.Uint8("peer", v.Sender),
			zap.Uint16("metric", v.Metric),
			zap.Bool("master", v.Master),
			zap.Int("slot", slot),
		)
	case packet.ResetSwarm:
		c.logger.Info("Swarm reset received", zap.Stringer("from", d.From))
		c.master = true
	case packet.ResetMe:
		if v.Target == c.address {
			c.logger.Info("Reset received", zap.Stringer("from", d.From))
			c.master = true
		}
	case packet.DefineServerLogger:
		addr := v.Addr()
		if addr.IsUnspecified() {
			c.logger.Warn("Ignoring unspecified collector address", zap.Stringer("from", d.From))
			return Action{}
		}
		if addr != c.collector {
			c.logger.Info("Log collector defined", zap.Stringer("collector", addr))
		}
		c.collector = addr
	case packet.BlinkBrightLed:
		if v.Target == c.address {
			c.logger.Info("Blink requested", zap.Duration("duration", v.Delay()))
			return Action{Kind: ActionBlink, Duration: v.Delay()}
		}
	case packet.ChangeTest:
		c.logger.Debug("Change test frame", zap.String("frame", hex.EncodeToString(v.Raw[:])))
	default:
		c.logger.Debug("Ignoring frame", zap.Stringer("kind", p.Kind()), zap.Stringer("from", d.From))
	}
	return Action{}
}

func (c *Coordinator) elect() {
	role := election.Elect(c.table.Snapshot())
	if role != c.role {
		c.logger.Info("Role changed",
			zap.Stringer("from", c.role),
			zap.Stringer("role", role),
			zap.Int("metric", c.metric),
		)
		telemetry.RoleTransitions.WithLabelValues(role.String()).Inc()
	}
	c.role = role
	c.master = role.IsMaster()
	c.table.SetSelfRole(c.master)

	telemetry.SetMaster(c.master)
	telemetry.LivePeers.Set(float64(c.table.LivePeers()))
}

func (c *Coordinator) show(action Action) {
	ind := device.NewIndication(c.role, c.metric)
	if action.Kind == ActionBlink {
		ind = device.HoldIndication(c.role, c.metric)
	}
	if err := c.indicator.Show(ind); err != nil {
		c.logger.Warn("Indicator update failed", zap.Error(err))
	}
}

func (c *Coordinator) announce() {
	self := c.table.Self()
	c.send(packet.LightUpdate{
		Sender:  c.address,
		Master:  c.master,
		Version: c.version,
		Metric:  uint16(self.Metric),
	}, c.transport.Broadcast)
}

func (c *Coordinator) export() {
	if !c.master || !c.collector.IsValid() {
		return
	}
	collector := c.collector
	c.send(packet.LogToServer{
		Sender:   c.address,
		Version:  c.version,
		Snapshot: swarm.FormatSnapshot(c.table.Snapshot()),
	}, func(frame []byte) error { return c.transport.SendTo(collector, frame) })
}

func (c *Coordinator) send(p packet.Packet, write func([]byte) error) {
	kind := p.Kind().String()
	frame, err := packet.Encode(p)
	if err == nil {
		err = write(frame)
	}
	if err != nil {
		telemetry.SendErrors.WithLabelValues(kind).Inc()
		c.logger.Warn("Send failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	telemetry.PacketsSent.WithLabelValues(kind).Inc()
}

// Status builds an immutable view of the node after the last cycle.
func (c *Coordinator) Status(instanceID string) status.Status {
	snap := c.table.Snapshot()
	leaders := election.Leaders(snap)
	ls := make([]int, len(leaders))
	for i, a := range leaders {
		ls[i] = int(a)
	}
	s := status.Status{
		InstanceID: instanceID,
		Address:    c.address,
		Role:       c.role.String(),
		Master:     c.master,
		Metric:     c.metric,
		Leaders:    ls,
		Peers:      status.PeersFrom(snap),
		LivePeers:  c.table.LivePeers(),
		Cycles:     c.cycles,
		UpdatedAt:  time.Now(),
	}
	if c.collector.IsValid() {
		s.Collector = c.collector.String()
	}
	return s
}

// MonotonicClock counts milliseconds since it was created, starting at 1.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// NowMillis returns elapsed milliseconds plus one.
func (m *MonotonicClock) NowMillis() int64 {
	return time.Since(m.start).Milliseconds() + 1
}
