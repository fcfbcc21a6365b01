// Package election derives the local node's role from a peer table snapshot.
//
// A node is Master when no other live slot reports a strictly greater
// brightness metric. Equal maxima all elect themselves, so several Masters
// may coexist; expired slots never suppress the local node.
package election

import "github.com/iggydv12/lightswarm/internal/swarm"

// Elect returns the role of the record in snapshot[swarm.SelfSlot].
// It has no side effects.
func Elect(snapshot []swarm.PeerRecord) Role {
	if len(snapshot) <= swarm.SelfSlot {
		return RoleMaster
	}
	self := snapshot[swarm.SelfSlot]
	for i, r := range snapshot {
		if i == swarm.SelfSlot || !r.Live() {
			continue
		}
		if r.Metric > self.Metric {
			return RoleFollower
		}
	}
	return RoleMaster
}

// Leaders returns the addresses of every live slot whose metric equals the
// swarm maximum, in slot order.
func Leaders(snapshot []swarm.PeerRecord) []uint8 {
	best := -1
	for i, r := range snapshot {
		if i != swarm.SelfSlot && !r.Live() {
			continue
		}
		if r.Metric > best {
			best = r.Metric
		}
	}
	var out []uint8
	for i, r := range snapshot {
		if i != swarm.SelfSlot && !r.Live() {
			continue
		}
		if r.Metric == best {
			out = append(out, r.Address)
		}
	}
	return out
}
