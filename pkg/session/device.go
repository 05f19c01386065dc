package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DeviceOptions зависимости сессии устройства.
type DeviceOptions struct {
	Audio  AudioTermination
	Video  VideoTermination
	Logger *logrus.Entry
}

// Device сессия управляемого устройства. Владеет движком сигнализации и
// реестром вызовов, является источником событий устройства, линий,
// функциональных кнопок и вызовов.
//
// Наблюдатель хранится как невладеющая ссылка: его жизненным циклом
// управляет тот, кто владеет самой сессией.
type Device struct {
	id     string
	name   string
	engine Engine
	audio  AudioTermination
	video  VideoTermination
	log    *logrus.Entry

	mu       sync.Mutex
	calls    map[CallHandle]*Call
	observer Observer
	started  bool
}

// NewDevice создаёт сессию устройства name поверх engine.
func NewDevice(name string, engine Engine, opts DeviceOptions) *Device {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	id := uuid.NewString()
	return &Device{
		id:     id,
		name:   name,
		engine: engine,
		audio:  opts.Audio,
		video:  opts.Video,
		log:    log.WithFields(logrus.Fields{"component": "DeviceSession", "device": name, "session": id}),
		calls:  make(map[CallHandle]*Call),
	}
}

// ID уникальный идентификатор экземпляра сессии.
func (d *Device) ID() string { return d.id }

// Name имя устройства.
func (d *Device) Name() string { return d.name }

// SetObserver назначает получателя событий. nil отсоединяет текущего.
func (d *Device) SetObserver(o Observer) {
	d.mu.Lock()
	d.observer = o
	d.mu.Unlock()
}

// Start запускает движок сигнализации.
func (d *Device) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return ErrDeviceStarted
	}
	d.started = true
	d.mu.Unlock()

	if err := d.engine.Start(ctx, &deviceListener{d: d}); err != nil {
		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		d.log.WithError(err).Error("не удалось запустить движок сигнализации")
		return fmt.Errorf("ошибка запуска устройства %s: %w", d.name, err)
	}
	d.log.Info("сессия устройства запущена")
	return nil
}

// Stop останавливает движок и сбрасывает реестр вызовов.
// Повторный вызов ничего не делает.
func (d *Device) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.calls = make(map[CallHandle]*Call)
	d.mu.Unlock()

	if err := d.engine.Stop(ctx); err != nil {
		d.log.WithError(err).Warn("ошибка остановки движка сигнализации")
		return fmt.Errorf("ошибка остановки устройства %s: %w", d.name, err)
	}
	d.log.Info("сессия устройства остановлена")
	return nil
}

// Started сообщает, запущен ли движок.
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// CreateCall выделяет новый вызов на линии.
func (d *Device) CreateCall(line LineID) (*Call, error) {
	if !d.Started() {
		return nil, ErrDeviceNotStarted
	}
	h, err := d.engine.CreateCall(line)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания вызова на линии %d: %w", line, err)
	}
	return d.callFor(h, line), nil
}

// Call ищет вызов по handle.
func (d *Device) Call(h CallHandle) (*Call, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.calls[h]
	return c, ok
}

// Calls живые вызовы по возрастанию handle.
func (d *Device) Calls() []*Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Call, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

// Info снимок устройства из движка.
func (d *Device) Info() DeviceInfo {
	return d.engine.DeviceInfo()
}

// SetLocalAddress передаёт движку новый локальный адрес и шлюз.
func (d *Device) SetLocalAddress(ip, gateway string) {
	d.engine.SetLocalAddress(ip, gateway)
}

// callFor возвращает вызов по handle, создавая его при первом обращении.
func (d *Device) callFor(h CallHandle, line LineID) *Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.calls[h]; ok {
		return c
	}
	c := NewCall(h, d.engine, CallOptions{
		Line:   line,
		Audio:  d.audio,
		Video:  d.video,
		Logger: d.log,
	})
	d.calls[h] = c
	return c
}

func (d *Device) forget(h CallHandle) {
	d.mu.Lock()
	delete(d.calls, h)
	d.mu.Unlock()
}

func (d *Device) currentObserver() Observer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observer
}

// deviceListener переводит события движка в события сессии.
type deviceListener struct {
	d *Device
}

func (l *deviceListener) OnDeviceEvent(ev DeviceEvent, info DeviceInfo) {
	if o := l.d.currentObserver(); o != nil {
		o.OnDeviceEvent(ev, l.d, info)
	}
}

func (l *deviceListener) OnFeatureEvent(ev FeatureEvent, info FeatureInfo) {
	if o := l.d.currentObserver(); o != nil {
		o.OnFeatureEvent(ev, l.d, info)
	}
}

func (l *deviceListener) OnLineEvent(ev LineEvent, info LineInfo) {
	if o := l.d.currentObserver(); o != nil {
		o.OnLineEvent(ev, l.d, info)
	}
}

func (l *deviceListener) OnCallEvent(ev CallEvent, h CallHandle, info CallInfo) {
	call := l.d.callFor(h, info.Line)
	media := call.MediaState()
	info.Media = &media

	if o := l.d.currentObserver(); o != nil {
		o.OnCallEvent(ev, call, info)
	}

	if ev == CallEventState && info.State == CallStateOnHook {
		l.d.forget(h)
	}
}

func (l *deviceListener) OnStreamAdded(h CallHandle, streamID int, isVideo bool) {
	call, ok := l.d.Call(h)
	if !ok {
		call = l.d.callFor(h, 0)
	}
	call.AddStream(streamID, isVideo)
}

func (l *deviceListener) OnStreamRemoved(h CallHandle, streamID int) {
	call, ok := l.d.Call(h)
	if !ok {
		l.d.log.WithFields(logrus.Fields{"call": h, "stream": streamID}).Error("удаление потока неизвестного вызова")
		return
	}
	call.RemoveStream(streamID)
}
