package node_test

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iggydv12/lightswarm/internal/device"
	"github.com/iggydv12/lightswarm/internal/election"
	"github.com/iggydv12/lightswarm/internal/node"
	"github.com/iggydv12/lightswarm/internal/packet"
	"github.com/iggydv12/lightswarm/internal/swarm"
	"github.com/iggydv12/lightswarm/internal/transport"
)

const (
	self    uint8 = 7
	version uint8 = 28
)

var collectorAddr = netip.MustParseAddr("10.0.0.100")

type sentFrame struct {
	to    netip.Addr
	frame []byte
}

type fakeTransport struct {
	inbound    []transport.Datagram
	broadcasts [][]byte
	sent       []sentFrame
	pollErr    error
}

func (f *fakeTransport) Broadcast(frame []byte) error {
	f.broadcasts = append(f.broadcasts, frame)
	return nil
}

func (f *fakeTransport) SendTo(addr netip.Addr, frame []byte) error {
	f.sent = append(f.sent, sentFrame{to: addr, frame: frame})
	return nil
}

func (f *fakeTransport) Poll() (transport.Datagram, bool, error) {
	if f.pollErr != nil {
		return transport.Datagram{}, false, f.pollErr
	}
	if len(f.inbound) == 0 {
		return transport.Datagram{}, false, nil
	}
	d := f.inbound[0]
	f.inbound = f.inbound[1:]
	return d, true, nil
}

func (f *fakeTransport) push(t *testing.T, p packet.Packet) {
	t.Helper()
	f.inbound = append(f.inbound, datagram(t, p))
}

func (f *fakeTransport) lastBroadcast(t *testing.T) packet.LightUpdate {
	t.Helper()
	require.NotEmpty(t, f.broadcasts)
	p, err := packet.Decode(f.broadcasts[len(f.broadcasts)-1])
	require.NoError(t, err)
	lu, ok := p.(packet.LightUpdate)
	require.True(t, ok, "broadcast is %T", p)
	return lu
}

type fakeSensor struct {
	values []int
	err    error
	i      int
}

func (s *fakeSensor) Read() (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	v := s.values[s.i%len(s.values)]
	s.i++
	return v, nil
}

type fakeIndicator struct {
	shown []device.Indication
}

func (f *fakeIndicator) Show(ind device.Indication) error {
	f.shown = append(f.shown, ind)
	return nil
}

type manualClock struct {
	now int64
}

func (c *manualClock) NowMillis() int64 { return c.now }

func datagram(t *testing.T, p packet.Packet) transport.Datagram {
	t.Helper()
	frame, err := packet.Encode(p)
	require.NoError(t, err)
	return transport.Datagram{Payload: frame, From: netip.MustParseAddr("10.0.0.1")}
}

type harness struct {
	tr    *fakeTransport
	s     *fakeSensor
	ind   *fakeIndicator
	clock *manualClock
	c     *node.Coordinator
}

func newHarness(metrics ...int) *harness {
	h := &harness{
		tr:    &fakeTransport{},
		s:     &fakeSensor{values: metrics},
		ind:   &fakeIndicator{},
		clock: &manualClock{now: 1000},
	}
	h.c = node.NewCoordinator(self, version, h.tr, h.s, h.ind, h.clock, zap.NewNop())
	return h
}

func peerUpdate(sender uint8, metric uint16) packet.LightUpdate {
	return packet.LightUpdate{Sender: sender, Version: version, Metric: metric}
}

func TestLoneNodeIsMasterAndBroadcastsOnce(t *testing.T) {
	h := newHarness(500)

	action := h.c.Cycle()

	assert.Equal(t, node.ActionNone, action.Kind)
	require.Len(t, h.tr.broadcasts, 1)
	assert.Equal(t, packet.LightUpdate{Sender: self, Master: true, Version: version, Metric: 500}, h.tr.lastBroadcast(t))
	assert.Empty(t, h.tr.sent)
	assert.True(t, h.c.Master())
}

func TestBrighterPeerMakesFollower(t *testing.T) {
	h := newHarness(400)
	h.tr.push(t, peerUpdate(20, 600))

	h.c.Cycle()

	assert.False(t, h.c.Master())
	assert.False(t, h.tr.lastBroadcast(t).Master)
	require.NotEmpty(t, h.ind.shown)
	assert.Equal(t, election.RoleFollower, h.ind.shown[len(h.ind.shown)-1].Role)
}

func TestTieKeepsMaster(t *testing.T) {
	h := newHarness(500)
	h.tr.push(t, peerUpdate(20, 500))
	h.tr.push(t, peerUpdate(21, 300))

	h.c.Cycle()
	h.c.Cycle()

	assert.True(t, h.c.Master())
	assert.Equal(t, 2, countLive(h.c.Snapshot()))
}

func TestOnePacketPerCycle(t *testing.T) {
	h := newHarness(500)
	h.tr.push(t, peerUpdate(20, 100))
	h.tr.push(t, peerUpdate(21, 100))
	h.tr.push(t, peerUpdate(22, 100))

	h.c.Cycle()

	assert.Equal(t, 1, countLive(h.c.Snapshot()))
	assert.Len(t, h.tr.inbound, 2)
	assert.Len(t, h.tr.broadcasts, 1)
}

func TestExpiredPeerCannotBlockMaster(t *testing.T) {
	h := newHarness(400)
	h.tr.push(t, peerUpdate(20, 900))
	h.c.Cycle()
	require.False(t, h.c.Master())

	h.clock.now += swarm.StaleThresholdMillis
	h.c.Cycle()
	assert.False(t, h.c.Master(), "exactly at the threshold the peer is still live")

	h.clock.now++
	h.c.Cycle()
	assert.True(t, h.c.Master())

	snap := h.c.Snapshot()
	assert.Equal(t, swarm.Expired, snap[1].LastSeen)
	assert.Equal(t, 0, snap[1].Metric)
}

func TestRoleFlapsWithMetric(t *testing.T) {
	h := newHarness(300, 700)
	var roles []bool
	for i := 0; i < 4; i++ {
		h.tr.push(t, peerUpdate(20, 500))
		h.c.Cycle()
		roles = append(roles, h.c.Master())
	}
	assert.Equal(t, []bool{false, true, false, true}, roles)
}

func TestResetMeTargetsOnlySelf(t *testing.T) {
	h := newHarness(400)
	h.tr.push(t, peerUpdate(20, 900))
	h.c.Cycle()
	require.False(t, h.c.Master())

	h.c.Handle(datagram(t, packet.ResetMe{Target: 20}))
	assert.False(t, h.c.Master())

	h.c.Handle(datagram(t, packet.ResetMe{Target: self}))
	assert.True(t, h.c.Master())
}

func TestResetSwarmForcesMaster(t *testing.T) {
	h := newHarness(400)
	h.tr.push(t, peerUpdate(20, 900))
	h.c.Cycle()
	require.False(t, h.c.Master())

	h.c.Handle(datagram(t, packet.ResetSwarm{}))
	assert.True(t, h.c.Master())

	// Election in the next cycle still sees the brighter peer.
	h.c.Cycle()
	assert.False(t, h.c.Master())
}

func TestMasterExportsSnapshotToCollector(t *testing.T) {
	h := newHarness(800)
	h.tr.push(t, packet.DefineServerLogger{Collector: collectorAddr.As4()})
	h.c.Cycle()

	addr, ok := h.c.Collector()
	require.True(t, ok)
	assert.Equal(t, collectorAddr, addr)

	require.Len(t, h.tr.sent, 1)
	assert.Equal(t, collectorAddr, h.tr.sent[0].to)
	p, err := packet.Decode(h.tr.sent[0].frame)
	require.NoError(t, err)
	lt, ok := p.(packet.LogToServer)
	require.True(t, ok)
	assert.Equal(t, self, lt.Sender)

	entries, err := swarm.ParseSnapshot(lt.Snapshot)
	require.NoError(t, err)
	require.Len(t, entries, swarm.Capacity)
	assert.Equal(t, swarm.Entry{Slot: 0, Master: true, Version: int(version), Metric: 800, State: swarm.StatePresent, Address: self}, entries[0])
}

func TestFollowerDoesNotExport(t *testing.T) {
	h := newHarness(200)
	h.tr.push(t, packet.DefineServerLogger{Collector: collectorAddr.As4()})
	h.tr.push(t, peerUpdate(20, 900))
	h.c.Cycle()
	require.Len(t, h.tr.sent, 1)

	h.c.Cycle()
	assert.False(t, h.c.Master())
	assert.Len(t, h.tr.sent, 1)
}

func TestCollectorAddressPersistsAndIgnoresUnspecified(t *testing.T) {
	h := newHarness(800)
	h.c.Handle(datagram(t, packet.DefineServerLogger{}))
	_, ok := h.c.Collector()
	assert.False(t, ok)

	h.c.Handle(datagram(t, packet.DefineServerLogger{Collector: collectorAddr.As4()}))
	h.c.Handle(datagram(t, packet.DefineServerLogger{}))
	addr, ok := h.c.Collector()
	require.True(t, ok)
	assert.Equal(t, collectorAddr, addr)
}

func TestBlinkReturnsAction(t *testing.T) {
	h := newHarness(500)
	h.tr.push(t, packet.BlinkBrightLed{Target: self, Duration: 15})

	action := h.c.Cycle()

	assert.Equal(t, node.Action{Kind: node.ActionBlink, Duration: 1500 * time.Millisecond}, action)
	last := h.ind.shown[len(h.ind.shown)-1]
	assert.True(t, last.Hold)
	assert.Equal(t, 255, last.Duty)

	assert.Equal(t, node.Action{}, h.c.Handle(datagram(t, packet.BlinkBrightLed{Target: 20, Duration: 15})))
}

func TestIgnoresOwnEchoAndAddressZero(t *testing.T) {
	h := newHarness(100)
	h.tr.push(t, peerUpdate(self, 900))
	h.tr.push(t, peerUpdate(0, 900))

	h.c.Cycle()
	h.c.Cycle()

	assert.True(t, h.c.Master())
	assert.Equal(t, 0, countLive(h.c.Snapshot()))
}

func TestMalformedFramesChangeNothing(t *testing.T) {
	h := newHarness(500)
	before := h.c.Snapshot()

	for _, payload := range [][]byte{
		nil,
		{0xF0},
		{0xF0, 0x09, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x0F},
		{0xAA, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x0F},
		{0xF0, 0x03, self, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x00},
	} {
		assert.Equal(t, node.Action{}, h.c.Handle(transport.Datagram{Payload: payload}))
	}
	assert.Equal(t, before, h.c.Snapshot())
	assert.True(t, h.c.Master())
}

func TestChangeTestAndMasterChangeAreInert(t *testing.T) {
	h := newHarness(500)
	before := h.c.Snapshot()
	h.c.Handle(datagram(t, packet.ChangeTest{}))
	h.c.Handle(datagram(t, packet.MasterChange{}))
	assert.Equal(t, before, h.c.Snapshot())
}

func TestSensorFailureKeepsLastMetric(t *testing.T) {
	h := newHarness(650)
	h.c.Cycle()

	h.s.err = errors.New("adc busy")
	h.c.Cycle()

	assert.Equal(t, uint16(650), h.tr.lastBroadcast(t).Metric)
	assert.Len(t, h.tr.broadcasts, 2)
}

func TestPollErrorStillBroadcasts(t *testing.T) {
	h := newHarness(650)
	h.tr.pollErr = errors.New("socket reset")

	h.c.Cycle()
	assert.Len(t, h.tr.broadcasts, 1)
}

func TestSensorValueIsClamped(t *testing.T) {
	h := newHarness(5000)
	h.c.Cycle()
	assert.Equal(t, uint16(swarm.MaxMetric), h.tr.lastBroadcast(t).Metric)
}

func TestStatus(t *testing.T) {
	h := newHarness(700)
	h.tr.push(t, peerUpdate(20, 700))
	h.c.Cycle()

	st := h.c.Status("instance-1")
	assert.Equal(t, "instance-1", st.InstanceID)
	assert.Equal(t, self, st.Address)
	assert.Equal(t, "master", st.Role)
	assert.True(t, st.Master)
	assert.Equal(t, 700, st.Metric)
	assert.Equal(t, []int{int(self), 20}, st.Leaders)
	assert.Equal(t, 1, st.LivePeers)
	assert.Equal(t, uint64(1), st.Cycles)
	assert.Len(t, st.Peers, swarm.Capacity)
	assert.Empty(t, st.Collector)
}

func countLive(snap []swarm.PeerRecord) int {
	n := 0
	for i, r := range snap {
		if i != swarm.SelfSlot && r.Live() {
			n++
		}
	}
	return n
}
