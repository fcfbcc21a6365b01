package packet_test

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iggydv12/lightswarm/internal/packet"
)

func TestLightUpdateRoundTrip(t *testing.T) {
	cases := []packet.LightUpdate{
		{Sender: 1, Master: false, Version: 28, Metric: 0},
		{Sender: 42, Master: true, Version: 28, Metric: 1023},
		{Sender: 255, Master: true, Version: 255, Metric: 512, Red: 7, Green: 0x0102, Blue: 0xFFFF},
	}
	for _, want := range cases {
		buf, err := packet.Encode(want)
		require.NoError(t, err)
		require.Len(t, buf, packet.FrameSize)
		assert.Equal(t, packet.StartMarker, buf[0])
		assert.Equal(t, packet.EndMarker, buf[packet.FrameSize-1])

		got, err := packet.Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLightUpdateLayout(t *testing.T) {
	buf, err := packet.Encode(packet.LightUpdate{Sender: 9, Master: true, Version: 28, Metric: 0x0304})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xF0, 0, 9, 1, 28, 0x03, 0x04, 0, 0, 0, 0, 0, 0, 0x0F}, buf)
}

func TestControlFrames(t *testing.T) {
	frames := []packet.Packet{
		packet.ResetSwarm{},
		packet.ResetMe{Target: 17},
		packet.DefineServerLogger{Collector: [4]byte{192, 168, 1, 20}},
		packet.MasterChange{},
		packet.BlinkBrightLed{Target: 3, Version: 7, Duration: 25},
	}
	for _, p := range frames {
		buf, err := packet.Encode(p)
		require.NoError(t, err)
		got, err := packet.Decode(buf)
		require.NoError(t, err, p.Kind().String())
		assert.Equal(t, p, got)
	}
}

func TestDefineServerLoggerOffsets(t *testing.T) {
	buf, err := packet.Encode(packet.DefineServerLogger{Collector: [4]byte{10, 0, 0, 5}})
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 0, 0, 5}, buf[4:8])

	got, err := packet.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), got.(packet.DefineServerLogger).Addr())
}

func TestBlinkDelay(t *testing.T) {
	assert.Equal(t, 2500*time.Millisecond, packet.BlinkBrightLed{Duration: 25}.Delay())
}

func TestChangeTestKeepsRawFrame(t *testing.T) {
	raw := []byte{0xF0, 2, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 0x0F}
	got, err := packet.Decode(raw)
	require.NoError(t, err)
	ct := got.(packet.ChangeTest)
	assert.Equal(t, raw, ct.Raw[:])

	again, err := packet.Encode(ct)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}

func TestLogToServerRoundTrip(t *testing.T) {
	want := packet.LogToServer{Sender: 12, Version: 28, Snapshot: " 0,1,28,700,PR,12 | 1,0,28,300,PR,14 "}
	buf, err := packet.Encode(want)
	require.NoError(t, err)
	assert.Len(t, buf, 5+len(want.Snapshot)+1)
	assert.Equal(t, byte(len(want.Snapshot)), buf[3])
	assert.Equal(t, byte(0), buf[len(buf)-1])

	got, err := packet.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLogToServerTooLong(t *testing.T) {
	long := make([]byte, packet.MaxSnapshotLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := packet.Encode(packet.LogToServer{Snapshot: string(long)})
	assert.ErrorIs(t, err, packet.ErrSnapshotTooLong)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := packet.Encode(packet.LightUpdate{Sender: 1, Metric: 100})
	require.NoError(t, err)

	badEnd := append([]byte(nil), valid...)
	badEnd[packet.FrameSize-1] = 0xAA
	badStart := append([]byte(nil), valid...)
	badStart[0] = 0x00

	cases := map[string][]byte{
		"nil":           nil,
		"one byte":      {0xF0},
		"truncated":     valid[:packet.FrameSize-1],
		"header only":   valid[:2],
		"bad end":       badEnd,
		"bad start":     badStart,
		"log header":    {0xF0, byte(packet.KindLogToServer), 1, 0},
		"log overrun":   {0xF0, byte(packet.KindLogToServer), 1, 10, 28, 'a', 'b'},
		"oversize":      make([]byte, packet.MaxFrameSize+1),
		"short control": {0xF0, byte(packet.KindBlinkBrightLed), 3, 7, 25, 0x0F},
	}
	for name, buf := range cases {
		_, err := packet.Decode(buf)
		require.Error(t, err, name)
		assert.ErrorIs(t, err, packet.ErrMalformed, name)

		var de *packet.DecodeError
		assert.True(t, errors.As(err, &de), name)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	buf := make([]byte, packet.FrameSize)
	buf[0] = packet.StartMarker
	buf[1] = 8
	buf[packet.FrameSize-1] = packet.EndMarker

	_, err := packet.Decode(buf)
	assert.ErrorIs(t, err, packet.ErrUnknownKind)
	assert.NotErrorIs(t, err, packet.ErrMalformed)
}

func TestDecodeEveryTruncation(t *testing.T) {
	valid, err := packet.Encode(packet.LightUpdate{Sender: 5, Master: true, Version: 28, Metric: 800})
	require.NoError(t, err)
	for n := 0; n < len(valid); n++ {
		_, err := packet.Decode(valid[:n])
		assert.Error(t, err, "length %d", n)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "light-update", packet.KindLightUpdate.String())
	assert.Equal(t, "blink-bright-led", packet.KindBlinkBrightLed.String())
	assert.Equal(t, "unknown", packet.Kind(99).String())
}
