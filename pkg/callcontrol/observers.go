package callcontrol

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

// ConnectionObserver получатель событий подключения, аутентификации и
// хранилища устройств.
type ConnectionObserver interface {
	OnAvailablePhoneEvent(ev AvailablePhoneEvent, phone *PhoneDetails)
	OnAuthenticationStatusChange(status AuthenticationState)
	OnConnectionStatusChange(status ConnectionState)
}

// observerSet множество наблюдателей в порядке регистрации. Повторная
// регистрация того же наблюдателя игнорируется. Рассылка идёт по снимку,
// поэтому наблюдатель может добавлять и удалять наблюдателей прямо из
// обработчика события.
type observerSet[T comparable] struct {
	mu        sync.Mutex
	observers []T
}

func (s *observerSet[T]) add(o T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.observers {
		if existing == o {
			return false
		}
	}
	s.observers = append(s.observers, o)
	return true
}

func (s *observerSet[T]) remove(o T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.observers {
		if existing == o {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return true
		}
	}
	return false
}

func (s *observerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.observers))
	copy(out, s.observers)
	return out
}

func (s *observerSet[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

// AddCallObserver регистрирует получателя событий устройства, линий,
// кнопок и вызовов.
func (m *Manager) AddCallObserver(o session.Observer) {
	if o == nil {
		m.log.Error("попытка зарегистрировать nil наблюдателя вызовов")
		return
	}
	if !m.callObservers.add(o) {
		m.log.Debug("наблюдатель вызовов уже зарегистрирован")
	}
}

func (m *Manager) RemoveCallObserver(o session.Observer) {
	if o == nil || !m.callObservers.remove(o) {
		m.log.Debug("удаление незарегистрированного наблюдателя вызовов")
	}
}

// AddConnectionObserver регистрирует получателя событий подключения.
func (m *Manager) AddConnectionObserver(o ConnectionObserver) {
	if o == nil {
		m.log.Error("попытка зарегистрировать nil наблюдателя подключения")
		return
	}
	if !m.connObservers.add(o) {
		m.log.Debug("наблюдатель подключения уже зарегистрирован")
	}
}

func (m *Manager) RemoveConnectionObserver(o ConnectionObserver) {
	if o == nil || !m.connObservers.remove(o) {
		m.log.Debug("удаление незарегистрированного наблюдателя подключения")
	}
}

func (m *Manager) notifyAvailablePhone(ev AvailablePhoneEvent, p *PhoneDetails) {
	m.log.WithFields(logrus.Fields{"event": ev, "device": p.Name()}).Debug("событие хранилища устройств")
	for _, o := range m.connObservers.snapshot() {
		o.OnAvailablePhoneEvent(ev, p)
	}
}

func (m *Manager) notifyAuthenticationStatus(s AuthenticationState) {
	for _, o := range m.connObservers.snapshot() {
		o.OnAuthenticationStatusChange(s)
	}
}

func (m *Manager) notifyConnectionStatus(s ConnectionState) {
	for _, o := range m.connObservers.snapshot() {
		o.OnConnectionStatusChange(s)
	}
}

// relay наблюдатель сессии устройства. Пересылает события наблюдателям
// менеджера и поддерживает сведения об активном устройстве.
type relay struct {
	m *Manager
}

func (r relay) OnDeviceEvent(ev session.DeviceEvent, dev *session.Device, info session.DeviceInfo) {
	r.m.metrics.relayedEvents.WithLabelValues("device").Inc()
	if ev == session.DeviceEventState || ev == session.DeviceEventConfigChanged {
		if p, ok := r.m.phones.get(dev.Name()); ok {
			p.setServiceState(info.ServiceState)
		}
	}
	for _, o := range r.m.callObservers.snapshot() {
		o.OnDeviceEvent(ev, dev, info)
	}
}

func (r relay) OnFeatureEvent(ev session.FeatureEvent, dev *session.Device, info session.FeatureInfo) {
	r.m.metrics.relayedEvents.WithLabelValues("feature").Inc()
	for _, o := range r.m.callObservers.snapshot() {
		o.OnFeatureEvent(ev, dev, info)
	}
}

func (r relay) OnLineEvent(ev session.LineEvent, dev *session.Device, info session.LineInfo) {
	r.m.metrics.relayedEvents.WithLabelValues("line").Inc()
	if ev == session.LineEventConfigChanged && info.Number != "" {
		if p, ok := r.m.phones.get(dev.Name()); ok {
			p.setLines(mergeLine(p.LineDNs(), info.Number))
		}
	}
	for _, o := range r.m.callObservers.snapshot() {
		o.OnLineEvent(ev, dev, info)
	}
}

func (r relay) OnCallEvent(ev session.CallEvent, call *session.Call, info session.CallInfo) {
	r.m.metrics.relayedEvents.WithLabelValues("call").Inc()
	if ev == session.CallEventState {
		r.m.trackCall(call.Handle(), info.State)
	}
	for _, o := range r.m.callObservers.snapshot() {
		o.OnCallEvent(ev, call, info)
	}
}

func mergeLine(lines []string, dn string) []string {
	for _, l := range lines {
		if l == dn {
			return lines
		}
	}
	return append(lines, dn)
}
