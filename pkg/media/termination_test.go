package media

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callcontrol/pkg/session"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type collector struct {
	mu      sync.Mutex
	packets []*rtp.Packet
	digits  []DTMFDigit
	frames  [][]byte
}

func (c *collector) onPacket(_ int, p *rtp.Packet) {
	c.mu.Lock()
	c.packets = append(c.packets, p)
	c.mu.Unlock()
}

func (c *collector) onDTMF(_ int, ev DTMFEvent) {
	c.mu.Lock()
	c.digits = append(c.digits, ev.Digit)
	c.mu.Unlock()
}

func (c *collector) RenderFrame(_ session.VideoFormat, frame []byte, _ uint32) error {
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	c.mu.Unlock()
	return nil
}

func (c *collector) packetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.packets)
}

func (c *collector) digitList() []DTMFDigit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DTMFDigit(nil), c.digits...)
}

func (c *collector) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// pair две терминации на loopback, поток 1 у каждой направлен на другую.
func pair(t *testing.T, video bool) (*Termination, *Termination, *collector) {
	t.Helper()
	rx := &collector{}
	a := NewTermination(Config{LocalIP: "127.0.0.1", Logger: quietLogger()})
	b := NewTermination(Config{LocalIP: "127.0.0.1", Logger: quietLogger(), OnPacket: rx.onPacket, OnDTMF: rx.onDTMF})
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	portA, err := a.OpenStream(1, video)
	require.NoError(t, err)
	portB, err := b.OpenStream(1, video)
	require.NoError(t, err)

	require.NoError(t, a.ConnectStream(1, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: portB}, PayloadTypePCMU, 101))
	require.NoError(t, b.ConnectStream(1, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: portA}, PayloadTypePCMU, 101))
	return a, b, rx
}

func TestTerminationAudioRoundTrip(t *testing.T) {
	a, _, rx := pair(t, false)
	st, ok := a.Stream(1)
	require.True(t, ok)

	require.NoError(t, st.WritePayload(make([]byte, 160), 160))

	require.Eventually(t, func() bool { return rx.packetCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), st.Stats().PacketsSent)
}

func TestTerminationMuteDropsPackets(t *testing.T) {
	a, _, rx := pair(t, false)
	st, _ := a.Stream(1)

	require.NoError(t, a.Mute(1, true))
	require.NoError(t, st.WritePayload(make([]byte, 160), 160))
	require.NoError(t, a.Mute(1, false))
	require.NoError(t, st.WritePayload(make([]byte, 160), 160))

	require.Eventually(t, func() bool { return rx.packetCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), st.Stats().PacketsDropped)
	assert.False(t, st.Muted())
}

func TestTerminationSendsDTMF(t *testing.T) {
	a, _, rx := pair(t, false)

	require.NoError(t, a.SendDTMF(1, 11))
	require.NoError(t, a.SendDTMF(1, 3))

	require.Eventually(t, func() bool { return len(rx.digitList()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []DTMFDigit{DTMFPound, 3}, rx.digitList())
	assert.Zero(t, rx.packetCount(), "пакеты telephone-event не передаются как аудио")
}

func TestTerminationRejectsInvalidRequests(t *testing.T) {
	term := NewTermination(Config{LocalIP: "127.0.0.1", Logger: quietLogger()})
	defer term.Close()

	assert.ErrorIs(t, term.Mute(9, true), ErrStreamNotFound)
	assert.ErrorIs(t, term.SendDTMF(9, 20), ErrDTMFInvalidDigit)

	_, err := term.OpenStream(1, false)
	require.NoError(t, err)
	_, err = term.OpenStream(1, false)
	assert.ErrorIs(t, err, ErrStreamExists)

	assert.ErrorIs(t, term.SetVolume(1, 101), ErrVolumeInvalid)
	assert.NoError(t, term.SetVolume(1, 80))
	assert.ErrorIs(t, term.SendDTMF(1, 1), ErrStreamNotConnected)
	assert.ErrorIs(t, term.Video().Mute(1, true), ErrStreamKind)

	require.NoError(t, term.ConnectStream(1, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}, PayloadTypePCMU, -1))
	assert.ErrorIs(t, term.SendDTMF(1, 1), ErrDTMFNotEnabled)

	require.NoError(t, term.CloseStream(1))
	require.NoError(t, term.CloseStream(1))
	assert.Empty(t, term.StreamIDs())

	require.NoError(t, term.Close())
	_, err = term.OpenStream(2, false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestVideoTerminationRendersFrames(t *testing.T) {
	a, b, rx := pair(t, true)
	video := b.Video()

	require.NoError(t, video.SetExternalRenderer(1, 7, rx))
	require.NoError(t, video.SetRemoteWindow(1, 42))
	st, _ := a.Stream(1)
	require.NoError(t, st.WritePayload([]byte{1, 2, 3}, 3000))

	require.Eventually(t, func() bool { return rx.frameCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, rx.packetCount())
	bst, _ := b.Stream(1)
	assert.Equal(t, uintptr(42), bst.RemoteWindow())
}

func TestVideoTerminationAudioLinkAndKeyframe(t *testing.T) {
	var requested []session.CallHandle
	term := NewTermination(Config{
		LocalIP:           "127.0.0.1",
		Logger:            quietLogger(),
		OnKeyframeRequest: func(h session.CallHandle) { requested = append(requested, h) },
	})
	defer term.Close()
	_, err := term.OpenStream(1, false)
	require.NoError(t, err)

	video := term.Video()
	require.NoError(t, video.SetAudioStreamID(1))
	assert.Equal(t, 1, video.LipSyncStream())
	assert.ErrorIs(t, video.SetAudioStreamID(2), ErrStreamNotFound)

	require.NoError(t, video.SendIFrame(5))
	assert.Equal(t, []session.CallHandle{5}, requested)
}

func TestTerminationPortRange(t *testing.T) {
	term := NewTermination(Config{LocalIP: "127.0.0.1", PortMin: 42000, PortMax: 42010, Logger: quietLogger()})
	defer term.Close()

	p1, err := term.OpenStream(1, false)
	require.NoError(t, err)
	p2, err := term.OpenStream(2, true)
	require.NoError(t, err)

	assert.Zero(t, p1%2)
	assert.Zero(t, p2%2)
	assert.NotEqual(t, p1, p2)
	assert.GreaterOrEqual(t, p1, 42000)
	assert.LessOrEqual(t, p2, 42010)
}

func TestDefaultVolume(t *testing.T) {
	assert.Equal(t, DefaultVolume, NewTermination(Config{}).DefaultVolume())
	assert.Equal(t, 70, NewTermination(Config{DefaultVolume: 70}).DefaultVolume())
}

func TestG711RoundTrip(t *testing.T) {
	for _, v := range []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000} {
		u := decodeULaw(encodeULaw(v))
		a := decodeALaw(encodeALaw(v))
		tolerance := float64(abs(int(v)))/16 + 16
		assert.InDelta(t, v, u, tolerance, "μ-law %d", v)
		assert.InDelta(t, v, a, tolerance, "A-law %d", v)
	}
}

func TestApplyGain(t *testing.T) {
	payload := []byte{encodeULaw(4000), encodeULaw(-4000)}

	applyGain(PayloadTypePCMU, payload, 0.5)

	assert.InDelta(t, 2000, decodeULaw(payload[0]), 150)
	assert.InDelta(t, -2000, decodeULaw(payload[1]), 150)

	other := []byte{1, 2, 3}
	applyGain(96, other, 2)
	assert.Equal(t, []byte{1, 2, 3}, other)

	assert.InDelta(t, 1.0, gainForVolume(50), 0)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
