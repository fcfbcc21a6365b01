// Package packet implements the fixed-layout binary frames exchanged between
// swarm nodes and the log collector.
package packet

import (
	"net/netip"
	"time"
)

// Kind is the packet discriminant carried at offset 1 of every frame.
type Kind uint8

const (
	KindLightUpdate Kind = iota
	KindResetSwarm
	KindChangeTest
	KindResetMe
	KindDefineServerLogger
	KindLogToServer
	KindMasterChange
	KindBlinkBrightLed
)

const (
	StartMarker byte = 0xF0
	EndMarker   byte = 0x0F

	// FrameSize is the length of every inter-node frame.
	FrameSize = 14
	// MaxFrameSize bounds the variable-length LogToServer frame.
	MaxFrameSize = 1024
	// MaxSnapshotLen is the largest snapshot the one-byte length field can describe.
	MaxSnapshotLen = 255

	logHeaderSize = 5
)

func (k Kind) String() string {
	switch k {
	case KindLightUpdate:
		return "light-update"
	case KindResetSwarm:
		return "reset-swarm"
	case KindChangeTest:
		return "change-test"
	case KindResetMe:
		return "reset-me"
	case KindDefineServerLogger:
		return "define-server-logger"
	case KindLogToServer:
		return "log-to-server"
	case KindMasterChange:
		return "master-change"
	case KindBlinkBrightLed:
		return "blink-bright-led"
	default:
		return "unknown"
	}
}

// Packet is implemented by every decoded frame type.
type Packet interface {
	Kind() Kind
}

// LightUpdate is the periodic state broadcast of one node.
type LightUpdate struct {
	Sender  uint8
	Master  bool
	Version uint8
	Metric  uint16
	// Red, Green and Blue are reserved color channels; election ignores them.
	Red   uint16
	Green uint16
	Blue  uint16
}

// ResetSwarm makes every receiver Master.
type ResetSwarm struct{}

// ChangeTest is a diagnostic frame. Raw holds the frame as received.
type ChangeTest struct {
	Raw [FrameSize]byte
}

// ResetMe makes the node whose address equals Target Master.
type ResetMe struct {
	Target uint8
}

// DefineServerLogger announces the log collector's IPv4 address.
type DefineServerLogger struct {
	Collector [4]byte
}

// Addr returns the collector address as a netip.Addr.
func (p DefineServerLogger) Addr() netip.Addr {
	return netip.AddrFrom4(p.Collector)
}

// LogToServer is the variable-length peer table export sent by a Master.
type LogToServer struct {
	Sender   uint8
	Version  uint8
	Snapshot string
}

// MasterChange is reserved and carries no payload.
type MasterChange struct{}

// BlinkBrightLed asks the node at Target to hold its indicator for
// Duration hundreds of milliseconds.
type BlinkBrightLed struct {
	Target   uint8
	Version  uint8
	Duration uint8
}

// Delay converts Duration to a time.Duration.
func (p BlinkBrightLed) Delay() time.Duration {
	return time.Duration(p.Duration) * 100 * time.Millisecond
}

func (LightUpdate) Kind() Kind        { return KindLightUpdate }
func (ResetSwarm) Kind() Kind         { return KindResetSwarm }
func (ChangeTest) Kind() Kind         { return KindChangeTest }
func (ResetMe) Kind() Kind            { return KindResetMe }
func (DefineServerLogger) Kind() Kind { return KindDefineServerLogger }
func (LogToServer) Kind() Kind        { return KindLogToServer }
func (MasterChange) Kind() Kind       { return KindMasterChange }
func (BlinkBrightLed) Kind() Kind     { return KindBlinkBrightLed }
