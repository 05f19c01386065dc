package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

const (
	defaultUserAgent      = "callcontrol-softphone"
	defaultRegisterExpiry = time.Hour
	defaultRequestTimeout = 32 * time.Second
	queueSize             = 256

	// LogMaskSIP бит маски журналирования, включающий трассировку SIP.
	LogMaskSIP = 1
)

var (
	ErrEngineStopped    = errors.New("движок сигнализации не запущен")
	ErrEngineStarted    = errors.New("движок сигнализации уже запускался")
	ErrEngineBusy       = errors.New("очередь операций движка переполнена")
	ErrCallNotFound     = errors.New("вызов не найден")
	ErrLineNotFound     = errors.New("линия не найдена")
	ErrNoMediaPlane     = errors.New("не задан медиа слой")
	ErrRegistration     = errors.New("ни одна линия не зарегистрирована")
	ErrInvalidOperation = errors.New("операция недопустима в текущем состоянии вызова")
)

// MediaPlane RTP потоки, которыми движок управляет при согласовании SDP.
// media.Termination реализует этот интерфейс.
type MediaPlane interface {
	OpenStream(id int, video bool) (int, error)
	ConnectStream(id int, remote *net.UDPAddr, payloadType uint8, dtmfPayloadType int) error
	CloseStream(id int) error
}

// Options параметры движка.
type Options struct {
	Device DeviceConfig
	// LocalIP адрес для Contact, Via и SDP.
	LocalIP string
	Gateway string
	// ListenPort порт SIP. 0 выбирает свободный порт.
	ListenPort     int
	UserAgent      string
	RegisterExpiry time.Duration
	RequestTimeout time.Duration
	LogMask        int
	Media          MediaPlane
	Logger         *logrus.Entry
}

// lineState линия устройства. Поле registered и далее принадлежат
// рабочей горутине.
type lineState struct {
	id  session.LineID
	cfg LineConfig

	registered bool
	cfwdAll    bool
	cfwdTarget string
	mwi        bool
	lastDialed string
}

func (l *lineState) info() session.LineInfo {
	name := l.cfg.Label
	if name == "" {
		name = l.cfg.DisplayName
	}
	return session.LineInfo{
		ID:            l.id,
		Name:          name,
		Number:        l.cfg.DN,
		Registered:    l.registered,
		CFwdAll:       l.cfwdAll,
		CFwdAllTarget: l.cfwdTarget,
		MWI:           l.mwi,
	}
}

// Engine движок сигнализации устройства на sipgo.
//
// Все изменения состояния вызовов и линий выполняет одна рабочая
// горутина: операции CallController ставятся в очередь, ответы на
// транзакции и входящие запросы тоже приходят через неё. Поэтому
// события Listener доставляются из одной горутины и упорядочены.
type Engine struct {
	opts Options
	log  *logrus.Entry

	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan func()
	wg     sync.WaitGroup

	// состояние рабочей горутины
	lines    []*lineState
	calls    map[session.CallHandle]*sipCall
	sdpIDs   uint64
	streamID int
	// blfDialogs ранние диалоги BLF: speed dial -> значение Replaces
	blfDialogs map[string]string

	mu         sync.Mutex
	started    bool
	running    bool
	listener   session.Listener
	localIP    string
	gateway    string
	listenPort int
	service    session.ServiceState
	mwiLamp    bool
	snapshots  map[session.CallHandle]session.CallInfo
	byCallID   map[string]session.CallHandle
	nextHandle session.CallHandle
}

// NewEngine создаёт движок. Сеть не используется до Start.
func NewEngine(opts Options) (*Engine, error) {
	if len(opts.Device.Lines) == 0 {
		return nil, ErrNoLines
	}
	if opts.Media == nil {
		return nil, ErrNoMediaPlane
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RegisterExpiry <= 0 {
		opts.RegisterExpiry = defaultRegisterExpiry
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Device.Transport == "" {
		opts.Device.Transport = TransportUDP
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:       opts,
		log:        log.WithFields(logrus.Fields{"component": "SipEngine", "device": opts.Device.Name}),
		ctx:        ctx,
		cancel:     cancel,
		queue:      make(chan func(), queueSize),
		calls:      make(map[session.CallHandle]*sipCall),
		blfDialogs: make(map[string]string),
		localIP:    opts.LocalIP,
		gateway:    opts.Gateway,
		snapshots:  make(map[session.CallHandle]session.CallInfo),
		byCallID:   make(map[string]session.CallHandle),
		sdpIDs:     uint64(time.Now().Unix()),
		service:    session.ServiceStateUnknown,
		listenPort: opts.ListenPort,
	}
	for i, lc := range opts.Device.Lines {
		e.lines = append(e.lines, &lineState{id: session.LineID(i + 1), cfg: lc})
	}
	return e, nil
}

// Start поднимает SIP стек, регистрирует линии и подключает слушателя.
// Ошибка возвращается, если не зарегистрировалась ни одна линия.
func (e *Engine) Start(ctx context.Context, l session.Listener) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrEngineStarted
	}
	e.started = true
	e.listener = l
	localIP := e.localIP
	e.mu.Unlock()

	if e.opts.LogMask&LogMaskSIP != 0 {
		sip.SIPDebug = true
	}

	if err := e.startStack(localIP); err != nil {
		e.cancel()
		return err
	}

	e.wg.Add(1)
	go e.run()

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	results := make([]error, len(e.lines))
	if e.opts.Device.RegisterWithProxy {
		for i, line := range e.lines {
			results[i] = e.register(ctx, line.cfg, e.opts.RegisterExpiry)
			if results[i] != nil {
				e.log.WithError(results[i]).WithField("line", line.cfg.DN).Warn("регистрация линии не выполнена")
			}
		}
	}

	registered := 0
	for _, err := range results {
		if err == nil {
			registered++
		}
	}

	done := make(chan struct{})
	e.post(func() {
		defer close(done)
		e.announce(results)
	})
	select {
	case <-done:
	case <-ctx.Done():
	}

	if registered == 0 {
		e.log.Error("ни одна линия не зарегистрирована")
		_ = e.Stop(context.Background())
		return ErrRegistration
	}

	if e.opts.Device.RegisterWithProxy {
		e.wg.Add(1)
		go e.refreshLoop()
		e.post(e.subscribeBLF)
	}
	e.log.WithField("lines", registered).Info("движок сигнализации запущен")
	return nil
}

func (e *Engine) startStack(localIP string) error {
	host := localIP
	if host == "" {
		host = "0.0.0.0"
	}
	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(e.opts.UserAgent),
		sipgo.WithUserAgentHostname(host),
	)
	if err != nil {
		return fmt.Errorf("ошибка создания SIP агента: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return fmt.Errorf("ошибка создания SIP сервера: %w", err)
	}
	cli, err := sipgo.NewClient(ua, sipgo.WithClientHostname(host))
	if err != nil {
		_ = ua.Close()
		return fmt.Errorf("ошибка создания SIP клиента: %w", err)
	}
	e.ua, e.server, e.client = ua, srv, cli
	e.registerHandlers()

	addr := net.JoinHostPort(host, strconv.Itoa(e.opts.ListenPort))
	switch e.opts.Device.Transport {
	case TransportTCP, TransportTLS:
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = ua.Close()
			return fmt.Errorf("ошибка открытия SIP порта %s: %w", addr, err)
		}
		e.setListenPort(ln.Addr().(*net.TCPAddr).Port)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := srv.ServeTCP(ln); err != nil && !errors.Is(err, net.ErrClosed) {
				e.log.WithError(err).Warn("SIP сервер TCP остановлен")
			}
		}()
		go func() {
			<-e.ctx.Done()
			_ = ln.Close()
		}()
	default:
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			_ = ua.Close()
			return fmt.Errorf("ошибка открытия SIP порта %s: %w", addr, err)
		}
		e.setListenPort(conn.LocalAddr().(*net.UDPAddr).Port)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := srv.ServeUDP(conn); err != nil && !errors.Is(err, net.ErrClosed) {
				e.log.WithError(err).Warn("SIP сервер UDP остановлен")
			}
		}()
		go func() {
			<-e.ctx.Done()
			_ = conn.Close()
		}()
	}
	return nil
}

func (e *Engine) setListenPort(port int) {
	e.mu.Lock()
	e.listenPort = port
	e.mu.Unlock()
	e.log.WithField("port", port).Debug("SIP порт открыт")
}

// ListenPort фактический SIP порт после Start.
func (e *Engine) ListenPort() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listenPort
}

// Stop завершает вызовы, снимает регистрацию и останавливает стек.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		e.cancel()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	done := make(chan struct{})
	if e.post(func() {
		defer close(done)
		e.releaseAll()
	}) {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	if e.opts.Device.RegisterWithProxy {
		for _, line := range e.lines {
			uctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := e.register(uctx, line.cfg, 0); err != nil {
				e.log.WithError(err).WithField("line", line.cfg.DN).Debug("снятие регистрации не выполнено")
			}
			cancel()
		}
	}

	e.cancel()
	if e.ua != nil {
		_ = e.ua.Close()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.listener = nil
	e.service = session.ServiceStateOutOfService
	e.mu.Unlock()
	e.log.Info("движок сигнализации остановлен")
	return nil
}

// run рабочая горутина.
func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case fn := <-e.queue:
			fn()
		}
	}
}

// post ставит внутреннее действие в очередь, ожидая место.
func (e *Engine) post(fn func()) bool {
	select {
	case e.queue <- fn:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// submit ставит операцию над вызовом в очередь без ожидания.
func (e *Engine) submit(h session.CallHandle, op string, fn func(c *sipCall)) error {
	e.mu.Lock()
	running := e.running
	_, known := e.snapshots[h]
	e.mu.Unlock()
	if !running {
		return ErrEngineStopped
	}
	if !known {
		return fmt.Errorf("%s: %w", op, ErrCallNotFound)
	}
	task := func() {
		c, ok := e.calls[h]
		if !ok {
			e.log.WithFields(logrus.Fields{"call": h, "op": op}).Debug("вызов завершён до выполнения операции")
			return
		}
		fn(c)
	}
	select {
	case e.queue <- task:
		return nil
	default:
		return ErrEngineBusy
	}
}

func (e *Engine) currentListener() session.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener
}

// DeviceInfo снимок устройства.
func (e *Engine) DeviceInfo() session.DeviceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceInfoLocked()
}

func (e *Engine) deviceInfoLocked() session.DeviceInfo {
	lines := make([]session.LineID, 0, len(e.lines))
	for _, l := range e.lines {
		lines = append(lines, l.id)
	}
	return session.DeviceInfo{
		Name:         e.opts.Device.Name,
		ServiceState: e.service,
		Lines:        lines,
		Server:       e.opts.Device.Proxy,
		MWILamp:      e.mwiLamp,
	}
}

// SetLocalAddress меняет адрес для новых запросов и SDP. На работающем
// движке линии перерегистрируются с новым Contact.
func (e *Engine) SetLocalAddress(ip, gateway string) {
	e.mu.Lock()
	changed := ip != e.localIP
	e.localIP, e.gateway = ip, gateway
	running := e.running && e.opts.Device.RegisterWithProxy
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"ip": ip, "gateway": gateway}).Info("локальный адрес изменён")
	if changed && running {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.refreshRegistrations()
		}()
	}
}

func (e *Engine) localAddress() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.localIP != "" {
		return e.localIP
	}
	return "127.0.0.1"
}

// CallInfo последний опубликованный снимок вызова.
func (e *Engine) CallInfo(h session.CallHandle) (session.CallInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.snapshots[h]
	if !ok {
		return session.CallInfo{}, ErrCallNotFound
	}
	return info, nil
}

// CreateCall выделяет handle исходящего вызова на линии. События
// CALL_CREATED и состояние OFFHOOK приходят через Listener.
func (e *Engine) CreateCall(line session.LineID) (session.CallHandle, error) {
	if line < 1 || int(line) > len(e.lines) {
		return 0, ErrLineNotFound
	}
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return 0, ErrEngineStopped
	}
	h := e.allocHandleLocked()
	e.snapshots[h] = session.CallInfo{Handle: h, Line: line, State: session.CallStateOffHook}
	e.mu.Unlock()

	if !e.post(func() {
		c := e.newCall(h, e.lines[line-1], session.CallDirectionOutgoing)
		e.emitCall(c, session.CallEventCreated)
		e.emitCall(c, session.CallEventState)
	}) {
		return 0, ErrEngineStopped
	}
	return h, nil
}

func (e *Engine) allocHandleLocked() session.CallHandle {
	e.nextHandle++
	return e.nextHandle
}

func (e *Engine) newCall(h session.CallHandle, line *lineState, dir session.CallDirection) *sipCall {
	e.sdpIDs++
	c := &sipCall{
		handle:     h,
		line:       line,
		state:      session.CallStateOffHook,
		direction:  dir,
		audioDir:   session.DirectionSendRecv,
		videoDir:   session.DirectionInactive,
		localTag:   sip.RandString(10),
		sdpSession: e.sdpIDs,
		connected:  make(map[int]bool),
	}
	e.calls[h] = c
	return c
}

// emitCall публикует снимок вызова и доставляет событие слушателю.
// Выполняется только в рабочей горутине.
func (e *Engine) emitCall(c *sipCall, ev session.CallEvent) {
	info := c.info()
	e.mu.Lock()
	if ev == session.CallEventState && c.state == session.CallStateOnHook {
		delete(e.snapshots, c.handle)
		if c.callID != "" {
			delete(e.byCallID, c.callID)
		}
	} else {
		e.snapshots[c.handle] = info
	}
	l := e.listener
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{"call": c.handle, "event": ev, "state": c.state}).Debug("событие вызова")
	if l != nil {
		l.OnCallEvent(ev, c.handle, info)
	}
	if ev == session.CallEventState && c.state == session.CallStateOnHook {
		delete(e.calls, c.handle)
	}
}

func (e *Engine) emitLine(line *lineState, ev session.LineEvent) {
	if l := e.currentListener(); l != nil {
		l.OnLineEvent(ev, line.info())
	}
}

func (e *Engine) emitDevice(ev session.DeviceEvent) {
	e.mu.Lock()
	info := e.deviceInfoLocked()
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l.OnDeviceEvent(ev, info)
	}
}

func (e *Engine) trackCallID(c *sipCall) {
	e.mu.Lock()
	e.byCallID[c.callID] = c.handle
	e.mu.Unlock()
}

func (e *Engine) lookupCallID(callID string) (session.CallHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.byCallID[callID]
	return h, ok
}

// announce первичные события после регистрации.
func (e *Engine) announce(results []error) {
	e.mu.Lock()
	e.service = session.ServiceStateOutOfService
	for _, err := range results {
		if err == nil {
			e.service = session.ServiceStateInService
		}
	}
	e.mu.Unlock()

	e.emitDevice(session.DeviceEventConfigChanged)
	for i, line := range e.lines {
		line.registered = results[i] == nil
		e.emitLine(line, session.LineEventConfigChanged)
		e.emitLine(line, session.LineEventRegState)
	}
	if l := e.currentListener(); l != nil {
		for _, f := range e.opts.Device.Features {
			l.OnFeatureEvent(session.FeatureEventConfigChanged, session.FeatureInfo{
				ID:        f.ID,
				Label:     f.Label,
				SpeedDial: f.SpeedDial,
			})
		}
	}
	e.emitDevice(session.DeviceEventState)
}

// releaseAll завершает все вызовы при остановке. Исходящие вызовы
// без ответа не ждут 487.
func (e *Engine) releaseAll() {
	for _, c := range e.calls {
		e.hangup(c, "остановка устройства")
		if c.state != session.CallStateOnHook {
			e.setOnHook(c)
		}
	}
}
