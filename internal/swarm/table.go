// Package swarm provides the fixed-capacity peer table each node keeps of
// the swarm. The table is owned by a single cycle goroutine and is not safe
// for concurrent use; readers on other goroutines receive copies from Snapshot.
package swarm

const (
	// Capacity is the number of slots, self included.
	Capacity = 6
	// StaleThresholdMillis is how long a peer may stay silent before it expires.
	StaleThresholdMillis int64 = 30000
	// SelfSlot is the slot permanently held by the local node.
	SelfSlot = 0
)

// Sentinel values of PeerRecord.LastSeen. Real timestamps are always > Expired.
const (
	NeverSeen int64 = -1
	Expired   int64 = 0
)

// MaxMetric is the largest brightness value a sensor reports.
const MaxMetric = 1023

// PeerRecord is one slot of the table. Address 0 marks an empty slot.
type PeerRecord struct {
	Address  uint8
	Metric   int
	Version  uint8
	Master   bool
	LastSeen int64 // monotonic milliseconds, NeverSeen or Expired
}

// Live reports whether the record currently carries a real timestamp.
func (r PeerRecord) Live() bool {
	return r.LastSeen > Expired
}

// State classifies the record for log export.
func (r PeerRecord) State() State {
	switch {
	case r.LastSeen == NeverSeen:
		return StateNeverSeen
	case r.LastSeen == Expired:
		return StateTimedOut
	default:
		return StatePresent
	}
}

// Table tracks the latest observed state of up to Capacity nodes.
type Table struct {
	slots [Capacity]PeerRecord
}

// NewTable creates a table whose self slot holds selfAddress.
func NewTable(selfAddress uint8, version uint8) *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i] = PeerRecord{LastSeen: NeverSeen}
	}
	t.slots[SelfSlot] = PeerRecord{Address: selfAddress, Version: version, Master: true, LastSeen: NeverSeen}
	return t
}

// Self returns the local node's record.
func (t *Table) Self() PeerRecord {
	return t.slots[SelfSlot]
}

// TouchSelf overwrites the self slot unconditionally.
func (t *Table) TouchSelf(metric int, version uint8, master bool, now int64) {
	s := &t.slots[SelfSlot]
	s.Metric = clampMetric(metric)
	s.Version = version
	s.Master = master
	s.LastSeen = now
}

// SetSelfRole records the local role without touching the timestamp.
func (t *Table) SetSelfRole(master bool) {
	t.slots[SelfSlot].Master = master
}

// ApplyUpdate stores a peer's announced state and returns the slot used.
// Slots are resolved by exact address match, then the first empty slot,
// then by evicting the peer slot with the smallest LastSeen.
func (t *Table) ApplyUpdate(address uint8, metric int, version uint8, master bool, now int64) int {
	idx := t.slotFor(address)
	t.slots[idx] = PeerRecord{
		Address:  address,
		Metric:   clampMetric(metric),
		Version:  version,
		Master:   master,
		LastSeen: now,
	}
	return idx
}

func (t *Table) slotFor(address uint8) int {
	for i := range t.slots {
		if t.slots[i].Address == address {
			return i
		}
	}
	for i := SelfSlot + 1; i < Capacity; i++ {
		if t.slots[i].Address == 0 {
			return i
		}
	}
	// Full: the first minimum found wins, self is never a candidate.
	oldest := SelfSlot + 1
	for i := oldest + 1; i < Capacity; i++ {
		if t.slots[i].LastSeen < t.slots[oldest].LastSeen {
			oldest = i
		}
	}
	return oldest
}

// Age expires every peer slot that has never been seen or has been silent
// for longer than StaleThresholdMillis, zeroing its metric. Returns the
// number of slots that transitioned to Expired.
func (t *Table) Age(now int64) int {
	expired := 0
	for i := SelfSlot + 1; i < Capacity; i++ {
		s := &t.slots[i]
		if s.LastSeen == Expired {
			continue
		}
		if s.LastSeen == NeverSeen || now-s.LastSeen > StaleThresholdMillis {
			s.LastSeen = Expired
			s.Metric = 0
			expired++
		}
	}
	return expired
}

// Snapshot returns a copy of every slot ordered by slot index.
func (t *Table) Snapshot() []PeerRecord {
	out := make([]PeerRecord, Capacity)
	copy(out, t.slots[:])
	return out
}

// LivePeers counts peer slots, self excluded, carrying a real timestamp.
func (t *Table) LivePeers() int {
	n := 0
	for i := SelfSlot + 1; i < Capacity; i++ {
		if t.slots[i].Live() {
			n++
		}
	}
	return n
}

func clampMetric(m int) int {
	if m < 0 {
		return 0
	}
	if m > MaxMetric {
		return MaxMetric
	}
	return m
}
