// Package status carries the node's per-cycle view to readers outside the
// cycle goroutine.
package status

import (
	"sync"
	"time"

	"github.com/iggydv12/lightswarm/internal/swarm"
)

// Peer is one table slot as reported to API clients.
type Peer struct {
	Slot     int         `json:"slot"`
	Address  uint8       `json:"address"`
	Metric   int         `json:"metric"`
	Version  uint8       `json:"version"`
	Master   bool        `json:"master"`
	State    swarm.State `json:"state"`
	LastSeen int64       `json:"lastSeen"`
}

// Status is an immutable view of a node after one cycle.
type Status struct {
	InstanceID string    `json:"instanceId"`
	Address    uint8     `json:"address"`
	Role       string    `json:"role"`
	Master     bool      `json:"master"`
	Metric     int       `json:"metric"`
	Collector  string    `json:"collector,omitempty"`
	Leaders    []int     `json:"leaders"`
	Peers      []Peer    `json:"peers"`
	LivePeers  int       `json:"livePeers"`
	Cycles     uint64    `json:"cycles"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PeersFrom converts a table snapshot.
func PeersFrom(records []swarm.PeerRecord) []Peer {
	out := make([]Peer, len(records))
	for i, r := range records {
		out[i] = Peer{
			Slot:     i,
			Address:  r.Address,
			Metric:   r.Metric,
			Version:  r.Version,
			Master:   r.Master,
			State:    r.State(),
			LastSeen: r.LastSeen,
		}
	}
	return out
}

// Board holds the latest published Status.
type Board struct {
	mu        sync.RWMutex
	cur       Status
	published bool
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{}
}

// Publish replaces the current Status. The caller must not modify s afterwards.
func (b *Board) Publish(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cur = s
	b.published = true
}

// Current returns the latest Status and whether any has been published.
func (b *Board) Current() (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cur, b.published
}
