package signaling

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callcontrol/pkg/session"
)

const waitTimeout = 5 * time.Second

type connectedStream struct {
	remote      *net.UDPAddr
	payloadType uint8
	dtmf        int
}

// fakeMedia MediaPlane без сокетов: порты выдаются по номеру потока.
type fakeMedia struct {
	mu        sync.Mutex
	open      map[int]bool
	connected map[int]connectedStream
	closed    []int
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{open: make(map[int]bool), connected: make(map[int]connectedStream)}
}

func (m *fakeMedia) OpenStream(id int, video bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[id] = video
	return 30000 + id*2, nil
}

func (m *fakeMedia) ConnectStream(id int, remote *net.UDPAddr, pt uint8, dtmf int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[id] = connectedStream{remote: remote, payloadType: pt, dtmf: dtmf}
	return nil
}

func (m *fakeMedia) CloseStream(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, id)
	m.closed = append(m.closed, id)
	return nil
}

func (m *fakeMedia) connectedTo(port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.connected {
		if c.remote.Port == port {
			return true
		}
	}
	return false
}

func (m *fakeMedia) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

type callRecord struct {
	ev   session.CallEvent
	h    session.CallHandle
	info session.CallInfo
}

// recorder session.Listener, запоминающий все события.
type recorder struct {
	mu       sync.Mutex
	devices  []session.DeviceEvent
	lines    []session.LineInfo
	lineEvs  []session.LineEvent
	features []session.FeatureInfo
	calls    []callRecord
	added    map[session.CallHandle][]int
}

func newRecorder() *recorder {
	return &recorder{added: make(map[session.CallHandle][]int)}
}

func (r *recorder) OnDeviceEvent(ev session.DeviceEvent, _ session.DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, ev)
}

func (r *recorder) OnFeatureEvent(_ session.FeatureEvent, info session.FeatureInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features = append(r.features, info)
}

func (r *recorder) OnLineEvent(ev session.LineEvent, info session.LineInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lineEvs = append(r.lineEvs, ev)
	r.lines = append(r.lines, info)
}

func (r *recorder) OnCallEvent(ev session.CallEvent, h session.CallHandle, info session.CallInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, callRecord{ev: ev, h: h, info: info})
}

func (r *recorder) OnStreamAdded(h session.CallHandle, id int, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added[h] = append(r.added[h], id)
}

func (r *recorder) OnStreamRemoved(session.CallHandle, int) {}

func (r *recorder) callEvents(h session.CallHandle) []callRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []callRecord
	for _, c := range r.calls {
		if c.h == h {
			out = append(out, c)
		}
	}
	return out
}

// handleInState первый вызов, побывавший в состоянии st.
func (r *recorder) handleInState(st session.CallState) (session.CallHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ev == session.CallEventState && c.info.State == st {
			return c.h, true
		}
	}
	return 0, false
}

// waitIncoming ждёт входящий вызов в состоянии RINGIN.
func (r *recorder) waitIncoming(t *testing.T) session.CallHandle {
	t.Helper()
	var h session.CallHandle
	require.Eventually(t, func() bool {
		var ok bool
		h, ok = r.handleInState(session.CallStateRingIn)
		return ok
	}, waitTimeout, 10*time.Millisecond, "нет входящего вызова")
	return h
}

func (r *recorder) streamsAdded(h session.CallHandle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.added[h])
}

func (r *recorder) hasEvent(h session.CallHandle, ev session.CallEvent) bool {
	for _, c := range r.callEvents(h) {
		if c.ev == ev {
			return true
		}
	}
	return false
}

// stateCount сколько раз вызов h переходил в st.
func (r *recorder) stateCount(h session.CallHandle, st session.CallState) int {
	n := 0
	for _, c := range r.callEvents(h) {
		if c.ev == session.CallEventState && c.info.State == st {
			n++
		}
	}
	return n
}

func (r *recorder) waitState(t *testing.T, h session.CallHandle, st session.CallState) {
	t.Helper()
	require.Eventually(t, func() bool { return r.stateCount(h, st) > 0 }, waitTimeout, 10*time.Millisecond,
		"вызов %d не перешёл в %s", h, st)
}

// waitStateWithin как waitState, но с собственным сроком.
func (r *recorder) waitStateWithin(t *testing.T, h session.CallHandle, st session.CallState, d time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool { return r.stateCount(h, st) > 0 }, d, 10*time.Millisecond,
		"вызов %d не перешёл в %s за %s", h, st, d)
}

func (r *recorder) waitEvent(t *testing.T, h session.CallHandle, ev session.CallEvent) {
	t.Helper()
	require.Eventually(t, func() bool { return r.hasEvent(h, ev) }, waitTimeout, 10*time.Millisecond,
		"нет события %s для вызова %d", ev, h)
}

func (r *recorder) lineEvents(ev session.LineEvent) []session.LineInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.LineInfo
	for i, e := range r.lineEvs {
		if e == ev {
			out = append(out, r.lines[i])
		}
	}
	return out
}

func (r *recorder) deviceEvents() []session.DeviceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.DeviceEvent(nil), r.devices...)
}

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testDevice(dn string) DeviceConfig {
	return DeviceConfig{
		Name:      "SEP" + dn,
		Proxy:     "127.0.0.1",
		Port:      defaultSIPPort,
		Transport: TransportUDP,
		Lines: []LineConfig{{
			ID: 1, DN: dn, DisplayName: "Абонент " + dn, Contact: dn,
			Proxy: "127.0.0.1", Port: defaultSIPPort,
		}},
	}
}

// startEngine движок на loopback без регистрации на прокси.
func startEngine(t *testing.T, dn string) (*Engine, *fakeMedia, *recorder) {
	t.Helper()
	media := newFakeMedia()
	e, err := NewEngine(Options{
		Device:         testDevice(dn),
		LocalIP:        "127.0.0.1",
		Media:          media,
		RequestTimeout: 3 * time.Second,
		Logger:         quietLogger(),
	})
	require.NoError(t, err)
	rec := newRecorder()
	require.NoError(t, e.Start(context.Background(), rec))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e, media, rec
}
