package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for frames that are too short, oversized or
	// missing their markers.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownKind is returned for frames whose discriminant is not a known Kind.
	ErrUnknownKind = errors.New("unknown packet kind")
	// ErrSnapshotTooLong is returned when a LogToServer snapshot does not fit its length byte.
	ErrSnapshotTooLong = errors.New("snapshot too long")
)

// DecodeError describes why a buffer could not be decoded.
type DecodeError struct {
	Reason error
	Kind   Kind
	Len    int
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("decode %d bytes (kind %d): %v: %s", e.Len, uint8(e.Kind), e.Reason, e.Detail)
	}
	return fmt.Sprintf("decode %d bytes (kind %d): %v", e.Len, uint8(e.Kind), e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Reason }

func malformed(buf []byte, detail string) error {
	e := &DecodeError{Reason: ErrMalformed, Len: len(buf), Detail: detail}
	if len(buf) > 1 {
		e.Kind = Kind(buf[1])
	}
	return e
}

// Encode serializes p into a freshly allocated frame.
func Encode(p Packet) ([]byte, error) {
	if lp, ok := p.(LogToServer); ok {
		return encodeLog(lp)
	}

	buf := make([]byte, FrameSize)
	buf[0] = StartMarker
	buf[1] = byte(p.Kind())
	buf[FrameSize-1] = EndMarker

	switch v := p.(type) {
	case LightUpdate:
		buf[2] = v.Sender
		if v.Master {
			buf[3] = 1
		}
		buf[4] = v.Version
		binary.BigEndian.PutUint16(buf[5:7], v.Metric)
		binary.BigEndian.PutUint16(buf[7:9], v.Red)
		binary.BigEndian.PutUint16(buf[9:11], v.Green)
		binary.BigEndian.PutUint16(buf[11:13], v.Blue)
	case ResetSwarm, MasterChange:
	case ChangeTest:
		copy(buf[2:FrameSize-1], v.Raw[2:FrameSize-1])
	case ResetMe:
		buf[2] = v.Target
	case DefineServerLogger:
		copy(buf[4:8], v.Collector[:])
	case BlinkBrightLed:
		buf[2] = v.Target
		buf[3] = v.Version
		buf[4] = v.Duration
	default:
		return nil, fmt.Errorf("encode %T: %w", p, ErrUnknownKind)
	}
	return buf, nil
}

func encodeLog(p LogToServer) ([]byte, error) {
	if len(p.Snapshot) > MaxSnapshotLen {
		return nil, fmt.Errorf("encode log of %d bytes: %w", len(p.Snapshot), ErrSnapshotTooLong)
	}
	// header, snapshot, trailing NUL
	buf := make([]byte, logHeaderSize+len(p.Snapshot)+1)
	buf[0] = StartMarker
	buf[1] = byte(KindLogToServer)
	buf[2] = p.Sender
	buf[3] = byte(len(p.Snapshot))
	buf[4] = p.Version
	copy(buf[logHeaderSize:], p.Snapshot)
	return buf, nil
}

// Decode parses one frame. It never reads beyond len(buf) and performs no
// semantic validation of addresses or metrics.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < 2 {
		return nil, malformed(buf, "shorter than header")
	}
	if len(buf) > MaxFrameSize {
		return nil, malformed(buf, "longer than max frame")
	}
	if buf[0] != StartMarker {
		return nil, malformed(buf, "bad start marker")
	}

	kind := Kind(buf[1])
	if kind > KindBlinkBrightLed {
		return nil, &DecodeError{Reason: ErrUnknownKind, Kind: kind, Len: len(buf)}
	}
	if kind == KindLogToServer {
		return decodeLog(buf)
	}

	if len(buf) < FrameSize {
		return nil, malformed(buf, "shorter than fixed frame")
	}
	if buf[FrameSize-1] != EndMarker {
		return nil, malformed(buf, "bad end marker")
	}

	switch kind {
	case KindLightUpdate:
		return LightUpdate{
			Sender:  buf[2],
			Master:  buf[3] != 0,
			Version: buf[4],
			Metric:  binary.BigEndian.Uint16(buf[5:7]),
			Red:     binary.BigEndian.Uint16(buf[7:9]),
			Green:   binary.BigEndian.Uint16(buf[9:11]),
			Blue:    binary.BigEndian.Uint16(buf[11:13]),
		}, nil
	case KindResetSwarm:
		return ResetSwarm{}, nil
	case KindChangeTest:
		var ct ChangeTest
		copy(ct.Raw[:], buf[:FrameSize])
		return ct, nil
	case KindResetMe:
		return ResetMe{Target: buf[2]}, nil
	case KindDefineServerLogger:
		var d DefineServerLogger
		copy(d.Collector[:], buf[4:8])
		return d, nil
	case KindMasterChange:
		return MasterChange{}, nil
	default: // KindBlinkBrightLed
		return BlinkBrightLed{Target: buf[2], Version: buf[3], Duration: buf[4]}, nil
	}
}

func decodeLog(buf []byte) (Packet, error) {
	if len(buf) < logHeaderSize {
		return nil, malformed(buf, "shorter than log header")
	}
	n := int(buf[3])
	if len(buf) < logHeaderSize+n {
		return nil, malformed(buf, "snapshot length exceeds frame")
	}
	return LogToServer{
		Sender:   buf[2],
		Version:  buf[4],
		Snapshot: string(buf[logHeaderSize : logHeaderSize+n]),
	}, nil
}
