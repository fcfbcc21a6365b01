package swarm

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the liveness label used in exported snapshots.
type State string

const (
	StatePresent   State = "PR"
	StateTimedOut  State = "TO"
	StateNeverSeen State = "NP"
)

// Entry is one parsed slot of an exported snapshot.
type Entry struct {
	Slot    int   `json:"slot"`
	Master  bool  `json:"master"`
	Version int   `json:"version"`
	Metric  int   `json:"metric"`
	State   State `json:"state"`
	Address uint8 `json:"address"`
}

// FormatSnapshot renders records as the pipe-separated text carried by
// LogToServer frames: " slot,role,version,metric,state,address " per slot.
func FormatSnapshot(records []PeerRecord) string {
	var b strings.Builder
	for i, r := range records {
		role := 0
		if r.Master {
			role = 1
		}
		fmt.Fprintf(&b, " %d,%d,%d,%d,%s,%d ", i, role, r.Version, r.Metric, r.State(), r.Address)
		if i < len(records)-1 {
			b.WriteByte('|')
		}
	}
	return b.String()
}

// ParseSnapshot is the inverse of FormatSnapshot.
func ParseSnapshot(s string) ([]Entry, error) {
	s = strings.TrimRight(s, "\x00")
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, "|")
	entries := make([]Entry, 0, len(parts))
	for i, part := range parts {
		e, err := parseEntry(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseEntry(s string) (Entry, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 6 {
		return Entry{}, fmt.Errorf("want 6 fields, got %d in %q", len(fields), s)
	}
	nums := make([]int, 0, 5)
	for _, idx := range []int{0, 1, 2, 3, 5} {
		n, err := strconv.Atoi(strings.TrimSpace(fields[idx]))
		if err != nil {
			return Entry{}, fmt.Errorf("field %d: %w", idx, err)
		}
		nums = append(nums, n)
	}
	state := State(strings.TrimSpace(fields[4]))
	switch state {
	case StatePresent, StateTimedOut, StateNeverSeen:
	default:
		return Entry{}, fmt.Errorf("unknown state %q", state)
	}
	if nums[4] < 0 || nums[4] > 255 {
		return Entry{}, fmt.Errorf("address %d out of range", nums[4])
	}
	return Entry{
		Slot:    nums[0],
		Master:  nums[1] != 0,
		Version: nums[2],
		Metric:  nums[3],
		State:   state,
		Address: uint8(nums[4]),
	}, nil
}
