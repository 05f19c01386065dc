package callcontrol

import (
	"context"
	"sync"

	"github.com/arzzra/callcontrol/pkg/provisioning"
	"github.com/arzzra/callcontrol/pkg/session"
)

type fetchResult struct {
	devices provisioning.DeviceMap
	err     error
}

// stubFetcher каталог устройств с заранее заданным ответом по серверу.
type stubFetcher struct {
	mu      sync.Mutex
	results map[string]fetchResult
	servers []string
	users   []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{results: make(map[string]fetchResult)}
}

func (f *stubFetcher) respond(server string, devices provisioning.DeviceMap, err error) {
	f.mu.Lock()
	f.results[server] = fetchResult{devices: devices, err: err}
	f.mu.Unlock()
}

func (f *stubFetcher) FetchDevices(_ context.Context, server, user, _ string, _ provisioning.CertLevel) (provisioning.DeviceMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers = append(f.servers, server)
	f.users = append(f.users, user)
	r, ok := f.results[server]
	if !ok {
		return nil, provisioning.ErrDeviceListTimeout
	}
	return r.devices, r.err
}

func (f *stubFetcher) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.servers...)
}

// stubRetriever источник конфигурации с фиксированным ответом.
type stubRetriever struct {
	mu       sync.Mutex
	result   provisioning.ConfigResult
	err      error
	requests []provisioning.ConfigRequest
}

func (r *stubRetriever) RetrieveConfig(_ context.Context, req provisioning.ConfigRequest) (provisioning.ConfigResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.result, r.err
}

func (r *stubRetriever) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

type phoneEvent struct {
	ev   AvailablePhoneEvent
	name string
}

// connRecorder записывает события ConnectionObserver.
type connRecorder struct {
	mu     sync.Mutex
	phones []phoneEvent
	auth   []AuthenticationState
	conn   []ConnectionState
}

func (r *connRecorder) OnAvailablePhoneEvent(ev AvailablePhoneEvent, p *PhoneDetails) {
	r.mu.Lock()
	r.phones = append(r.phones, phoneEvent{ev: ev, name: p.Name()})
	r.mu.Unlock()
}

func (r *connRecorder) OnAuthenticationStatusChange(s AuthenticationState) {
	r.mu.Lock()
	r.auth = append(r.auth, s)
	r.mu.Unlock()
}

func (r *connRecorder) OnConnectionStatusChange(s ConnectionState) {
	r.mu.Lock()
	r.conn = append(r.conn, s)
	r.mu.Unlock()
}

func (r *connRecorder) connectionStates() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.conn...)
}

func (r *connRecorder) authStates() []AuthenticationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuthenticationState(nil), r.auth...)
}

func (r *connRecorder) phoneEvents() []phoneEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]phoneEvent(nil), r.phones...)
}

// callRecorder записывает события, ретранслированные менеджером.
type callRecorder struct {
	mu      sync.Mutex
	devices []session.DeviceEvent
	lines   []session.LineInfo
	calls   []session.CallInfo
	feature []session.FeatureEvent
}

func (r *callRecorder) OnDeviceEvent(ev session.DeviceEvent, _ *session.Device, _ session.DeviceInfo) {
	r.mu.Lock()
	r.devices = append(r.devices, ev)
	r.mu.Unlock()
}

func (r *callRecorder) OnFeatureEvent(ev session.FeatureEvent, _ *session.Device, _ session.FeatureInfo) {
	r.mu.Lock()
	r.feature = append(r.feature, ev)
	r.mu.Unlock()
}

func (r *callRecorder) OnLineEvent(_ session.LineEvent, _ *session.Device, info session.LineInfo) {
	r.mu.Lock()
	r.lines = append(r.lines, info)
	r.mu.Unlock()
}

func (r *callRecorder) OnCallEvent(_ session.CallEvent, _ *session.Call, info session.CallInfo) {
	r.mu.Lock()
	r.calls = append(r.calls, info)
	r.mu.Unlock()
}

func (r *callRecorder) callInfos() []session.CallInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.CallInfo(nil), r.calls...)
}

// selfRemovingObserver отписывается при первом событии подключения.
type selfRemovingObserver struct {
	connRecorder
	m *Manager
}

func (o *selfRemovingObserver) OnConnectionStatusChange(s ConnectionState) {
	o.connRecorder.OnConnectionStatusChange(s)
	o.m.RemoveConnectionObserver(o)
}
