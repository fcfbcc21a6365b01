// Package collector receives the swarm snapshots exported by masters, keeps
// per-master statistics and issues control frames to the swarm.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iggydv12/lightswarm/internal/packet"
	"github.com/iggydv12/lightswarm/internal/swarm"
	"github.com/iggydv12/lightswarm/internal/telemetry"
	"github.com/iggydv12/lightswarm/internal/transport"
)

// MaxBlinkTenths is the longest blink the collector will request, in
// hundreds of milliseconds.
const MaxBlinkTenths = 126

// ErrInvalidAddress is returned for control targets that cannot be encoded.
var ErrInvalidAddress = errors.New("invalid address")

// Report is one decoded LogToServer frame.
type Report struct {
	Sender   uint8         `json:"sender"`
	Version  uint8         `json:"version"`
	From     string        `json:"from"`
	Received time.Time     `json:"received"`
	Entries  []swarm.Entry `json:"entries"`
	Raw      string        `json:"raw"`
}

// MasterMetric returns the metric the sender reported for itself.
func (r Report) MasterMetric() (int, bool) {
	for _, e := range r.Entries {
		if e.Slot == swarm.SelfSlot {
			return e.Metric, true
		}
	}
	return 0, false
}

// MasterStats summarizes the reports received from one master.
type MasterStats struct {
	Address       uint8     `json:"address"`
	Reports       uint64    `json:"reports"`
	AverageMetric float64   `json:"averageMetric"`
	LastReport    time.Time `json:"lastReport"`
	metricSum     float64
}

// Link is the swarm socket the collector listens and broadcasts on.
type Link interface {
	Broadcast(frame []byte) error
	Receive(ctx context.Context) (transport.Datagram, error)
}

// Store persists reports.
type Store interface {
	Append(Report) error
	History(limit int) ([]Report, error)
}

// Publisher fans reports out to other consumers.
type Publisher interface {
	Publish(Report) error
}

// Options tune a Collector.
type Options struct {
	CacheSize   int
	PersistRate float64
	Version     uint8
	// Address is announced by DefineLogger when no explicit address is given.
	Address netip.Addr
}

// Collector ingests snapshots from a Link.
type Collector struct {
	link      Link
	store     Store
	publisher Publisher
	latest    *lru.Cache
	limiter   *rate.Limiter
	version   uint8
	address   netip.Addr
	logger    *zap.Logger

	mu      sync.Mutex
	masters map[uint8]*MasterStats
}

// New creates a Collector. store and publisher may be nil.
func New(link Link, store Store, publisher Publisher, opts Options, logger *zap.Logger) (*Collector, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = 64
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	limit := rate.Inf
	if opts.PersistRate > 0 {
		limit = rate.Limit(opts.PersistRate)
	}
	return &Collector{
		link:      link,
		store:     store,
		publisher: publisher,
		latest:    cache,
		limiter:   rate.NewLimiter(limit, 1),
		version:   opts.Version,
		address:   opts.Address,
		logger:    logger,
		masters:   make(map[uint8]*MasterStats),
	}, nil
}

// Run receives frames until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Collector running")
	for {
		d, err := c.link.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("collector receive: %w", err)
		}
		c.Handle(d)
	}
}

// Handle decodes and applies one datagram.
func (c *Collector) Handle(d transport.Datagram) {
	p, err := packet.Decode(d.Payload)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, packet.ErrUnknownKind) {
			reason = "unknown_kind"
		}
		telemetry.DecodeErrors.WithLabelValues(reason).Inc()
		c.logger.Warn("Discarding frame", zap.Stringer("from", d.From), zap.Error(err))
		return
	}
	telemetry.PacketsReceived.WithLabelValues(p.Kind().String()).Inc()

	switch v := p.(type) {
	case packet.LogToServer:
		c.ingest(v, d.From)
	case packet.LightUpdate:
		c.logger.Debug("Light update",
			zap.Uint8("sender", v.Sender),
			zap.Uint16("metric", v.Metric),
			zap.Bool("master", v.Master),
			zap.Stringer("from", d.From),
		)
	default:
		c.logger.Debug("Swarm frame", zap.Stringer("kind", p.Kind()), zap.Stringer("from", d.From))
	}
}

func (c *Collector) ingest(p packet.LogToServer, from netip.Addr) {
	entries, err := swarm.ParseSnapshot(p.Snapshot)
	if err != nil {
		telemetry.CollectorSnapshots.WithLabelValues("rejected").Inc()
		c.logger.Warn("Rejecting snapshot", zap.Uint8("sender", p.Sender), zap.Error(err))
		return
	}
	r := Report{
		Sender:   p.Sender,
		Version:  p.Version,
		Received: time.Now(),
		Entries:  entries,
		Raw:      p.Snapshot,
	}
	if from.IsValid() {
		r.From = from.String()
	}

	c.latest.Add(r.Sender, r)
	c.recordMaster(r)

	outcome := "cached"
	if c.store != nil && c.limiter.Allow() {
		if err := c.store.Append(r); err != nil {
			outcome = "store_error"
			c.logger.Warn("Persisting snapshot failed", zap.Error(err))
		} else {
			outcome = "persisted"
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Publish(r); err != nil {
			c.logger.Warn("Publishing snapshot failed", zap.Error(err))
		}
	}
	telemetry.CollectorSnapshots.WithLabelValues(outcome).Inc()
	c.logger.Debug("Snapshot", zap.Uint8("sender", r.Sender), zap.String("snapshot", r.Raw))
}

func (c *Collector) recordMaster(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.masters[r.Sender]
	if !ok {
		st = &MasterStats{Address: r.Sender}
		c.masters[r.Sender] = st
		c.logger.Info("New master reporting", zap.Uint8("address", r.Sender))
	}
	st.Reports++
	if m, ok := r.MasterMetric(); ok {
		st.metricSum += float64(m)
	}
	st.AverageMetric = st.metricSum / float64(st.Reports)
	st.LastReport = r.Received
}

// Latest returns the most recent report of every cached sender, newest first.
func (c *Collector) Latest() []Report {
	keys := c.latest.Keys()
	out := make([]Report, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := c.latest.Peek(keys[i]); ok {
			out = append(out, v.(Report))
		}
	}
	return out
}

// Masters returns per-master statistics ordered by address.
func (c *Collector) Masters() []MasterStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MasterStats, 0, len(c.masters))
	for _, st := range c.masters {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// History returns up to limit persisted reports, newest first.
func (c *Collector) History(limit int) ([]Report, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.History(limit)
}

// ResetSwarm makes every node assume the master role.
func (c *Collector) ResetSwarm() error {
	return c.broadcast(packet.ResetSwarm{})
}

// Reset makes the node at target assume the master role.
func (c *Collector) Reset(target uint8) error {
	if target == 0 {
		return fmt.Errorf("reset %d: %w", target, ErrInvalidAddress)
	}
	return c.broadcast(packet.ResetMe{Target: target})
}

// DefineLogger tells the swarm where to send snapshots. An invalid addr
// announces the collector's own address.
func (c *Collector) DefineLogger(addr netip.Addr) error {
	if !addr.IsValid() {
		addr = c.address
	}
	addr = addr.Unmap()
	if !addr.Is4() || addr.IsUnspecified() {
		return fmt.Errorf("define logger %v: %w", addr, ErrInvalidAddress)
	}
	return c.broadcast(packet.DefineServerLogger{Collector: addr.As4()})
}

// Blink asks the node at target to hold its light for the given time,
// rounded to tenths of a second and capped at MaxBlinkTenths.
func (c *Collector) Blink(target uint8, d time.Duration) error {
	if target == 0 {
		return fmt.Errorf("blink %d: %w", target, ErrInvalidAddress)
	}
	tenths := (d + 50*time.Millisecond) / (100 * time.Millisecond)
	if tenths < 1 {
		tenths = 1
	}
	if tenths > MaxBlinkTenths {
		tenths = MaxBlinkTenths
	}
	return c.broadcast(packet.BlinkBrightLed{Target: target, Version: c.version, Duration: uint8(tenths)})
}

// ChangeTest sends a diagnostic frame.
func (c *Collector) ChangeTest() error {
	return c.broadcast(packet.ChangeTest{})
}

func (c *Collector) broadcast(p packet.Packet) error {
	kind := p.Kind().String()
	frame, err := packet.Encode(p)
	if err == nil {
		err = c.link.Broadcast(frame)
	}
	if err != nil {
		telemetry.SendErrors.WithLabelValues(kind).Inc()
		return fmt.Errorf("send %s: %w", kind, err)
	}
	telemetry.PacketsSent.WithLabelValues(kind).Inc()
	c.logger.Info("Control frame sent", zap.String("kind", kind))
	return nil
}
