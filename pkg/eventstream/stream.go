// Package eventstream публикует события менеджера вызовов в WebSocket
// клиентов в виде JSON.
//
// Stream реализует session.Observer и callcontrol.ConnectionObserver:
// его регистрируют в менеджере через AddCallObserver и
// AddConnectionObserver, а ServeHTTP подключают к маршруту /events.
package eventstream

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/callcontrol"
	"github.com/arzzra/callcontrol/pkg/session"
)

const (
	defaultBufferSize   = 64
	defaultWriteTimeout = 5 * time.Second
	pingInterval        = 30 * time.Second
)

// ErrClosed поток событий закрыт.
var ErrClosed = errors.New("поток событий закрыт")

// Категории событий.
const (
	CategoryDevice         = "device"
	CategoryFeature        = "feature"
	CategoryLine           = "line"
	CategoryCall           = "call"
	CategoryPhone          = "phone"
	CategoryAuthentication = "authentication"
	CategoryConnection     = "connection"
)

// Event сообщение, которое получает клиент.
type Event struct {
	ID       string             `json:"id"`
	Time     time.Time          `json:"time"`
	Category string             `json:"category"`
	Type     string             `json:"type"`
	Device   string             `json:"device,omitempty"`
	Call     session.CallHandle `json:"call,omitempty"`
	Data     any                `json:"data,omitempty"`
}

// PhoneView сведения об устройстве в событии category=phone.
type PhoneView struct {
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Model            int      `json:"model"`
	ModelDescription string   `json:"model_description,omitempty"`
	SoftPhone        bool     `json:"soft_phone"`
	ConfigStatus     string   `json:"config_status"`
	LineDNs          []string `json:"line_dns,omitempty"`
	ServiceState     string   `json:"service_state"`
}

// Options параметры потока.
type Options struct {
	// BufferSize очередь сообщений одного клиента. Клиент, не успевающий
	// читать, отключается.
	BufferSize   int
	WriteTimeout time.Duration
	// CheckOrigin проверка Origin при upgrade. По умолчанию разрешены все.
	CheckOrigin func(r *http.Request) bool
	Logger      *logrus.Entry
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Stream рассылает события всем подключённым клиентам.
type Stream struct {
	log          *logrus.Entry
	upgrader     websocket.Upgrader
	bufferSize   int
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

var (
	_ session.Observer               = (*Stream)(nil)
	_ callcontrol.ConnectionObserver = (*Stream)(nil)
)

func New(opts Options) *Stream {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Stream{
		log:          log.WithField("component", "EventStream"),
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096, CheckOrigin: checkOrigin},
		bufferSize:   opts.BufferSize,
		writeTimeout: opts.WriteTimeout,
		clients:      make(map[*client]struct{}),
	}
}

// ServeHTTP переводит соединение в WebSocket и держит его до
// отключения клиента или закрытия потока. Входящие сообщения клиента
// игнорируются.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ошибка upgrade WebSocket")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, s.bufferSize), done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	s.log.WithField("remote", r.RemoteAddr).Info("клиент потока событий подключён")

	go s.writeLoop(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.drop(c)
	s.log.WithField("remote", r.RemoteAddr).Info("клиент потока событий отключён")
}

func (s *Stream) writeLoop(c *client) {
	defer s.wg.Done()
	defer c.conn.Close()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.WithError(err).Debug("ошибка записи в WebSocket")
				s.drop(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				s.drop(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeTimeout))
			return
		}
	}
}

func (s *Stream) drop(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.stop()
}

// Clients число подключённых клиентов.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Publish рассылает событие. Пустые ID и Time заполняются.
func (s *Stream) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		s.log.WithError(err).WithField("type", ev.Type).Error("ошибка сериализации события")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.log.Warn("клиент потока событий не успевает читать, отключён")
			delete(s.clients, c)
			c.stop()
		}
	}
}

// Close отключает всех клиентов.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		c.stop()
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Stream) OnDeviceEvent(ev session.DeviceEvent, dev *session.Device, info session.DeviceInfo) {
	s.Publish(Event{Category: CategoryDevice, Type: ev.String(), Device: deviceName(dev), Data: info})
}

func (s *Stream) OnFeatureEvent(ev session.FeatureEvent, dev *session.Device, info session.FeatureInfo) {
	s.Publish(Event{Category: CategoryFeature, Type: ev.String(), Device: deviceName(dev), Data: info})
}

func (s *Stream) OnLineEvent(ev session.LineEvent, dev *session.Device, info session.LineInfo) {
	s.Publish(Event{Category: CategoryLine, Type: ev.String(), Device: deviceName(dev), Data: info})
}

func (s *Stream) OnCallEvent(ev session.CallEvent, call *session.Call, info session.CallInfo) {
	h := info.Handle
	if call != nil {
		h = call.Handle()
	}
	s.Publish(Event{Category: CategoryCall, Type: ev.String(), Call: h, Data: info})
}

func (s *Stream) OnAvailablePhoneEvent(ev callcontrol.AvailablePhoneEvent, phone *callcontrol.PhoneDetails) {
	if phone == nil {
		return
	}
	s.Publish(Event{Category: CategoryPhone, Type: ev.String(), Device: phone.Name(), Data: phoneView(phone)})
}

func (s *Stream) OnAuthenticationStatusChange(status callcontrol.AuthenticationState) {
	s.Publish(Event{Category: CategoryAuthentication, Type: status.String()})
}

func (s *Stream) OnConnectionStatusChange(status callcontrol.ConnectionState) {
	s.Publish(Event{Category: CategoryConnection, Type: status.String()})
}

func phoneView(p *callcontrol.PhoneDetails) PhoneView {
	return PhoneView{
		Name:             p.Name(),
		Description:      p.Description(),
		Model:            p.Model(),
		ModelDescription: p.ModelDescription(),
		SoftPhone:        p.IsSoftPhone(),
		ConfigStatus:     p.ConfigStatus().String(),
		LineDNs:          p.LineDNs(),
		ServiceState:     p.ServiceState().String(),
	}
}

func deviceName(dev *session.Device) string {
	if dev == nil {
		return ""
	}
	return dev.Name()
}
