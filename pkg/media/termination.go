package media

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

// DefaultVolume громкость новых потоков.
const DefaultVolume = 50

// Config параметры RTP терминации.
type Config struct {
	// LocalIP адрес, на котором открываются RTP сокеты. Пусто - все адреса.
	LocalIP string
	// PortMin, PortMax диапазон чётных RTP портов. 0 - любой свободный.
	PortMin int
	PortMax int
	// DefaultVolume громкость по умолчанию, 0-100.
	DefaultVolume int
	Logger        *logrus.Entry

	// OnPacket получает входящие аудио пакеты и видео пакеты потоков
	// без внешнего рендерера.
	OnPacket PacketHandler
	OnDTMF   DTMFHandler
	// OnKeyframeRequest вызывается по SendIFrame.
	OnKeyframeRequest func(h session.CallHandle)
}

type renderTarget struct {
	format   session.VideoFormat
	renderer session.ExternalRenderer
}

// Termination RTP медиа терминация устройства. Реализует
// session.AudioTermination, видео часть доступна через Video().
// Потоки открывает движок сигнализации по мере согласования SDP.
type Termination struct {
	cfg Config
	log *logrus.Entry

	mu        sync.Mutex
	streams   map[int]*Stream
	renderers map[int]renderTarget
	lipSync   int
	closed    bool
	nextPort  int
}

// NewTermination создаёт терминацию без потоков.
func NewTermination(cfg Config) *Termination {
	if cfg.DefaultVolume <= 0 || cfg.DefaultVolume > 100 {
		cfg.DefaultVolume = DefaultVolume
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Termination{
		cfg:       cfg,
		log:       log.WithField("component", "RTPTermination"),
		streams:   make(map[int]*Stream),
		renderers: make(map[int]renderTarget),
		nextPort:  cfg.PortMin,
	}
}

// OpenStream открывает RTP сокет потока и возвращает его порт.
func (t *Termination) OpenStream(id int, video bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	if _, ok := t.streams[id]; ok {
		return 0, newMediaError(ErrorCodeStreamExists, id, "поток уже открыт", nil)
	}

	conn, err := t.listenLocked()
	if err != nil {
		return 0, newMediaError(ErrorCodeRTPListenFailed, id, "не удалось открыть RTP сокет", err)
	}
	st := newStream(id, video, conn, t.log)
	st.onPacket = t.dispatchPacket
	st.onDTMF = t.cfg.OnDTMF
	st.gain = gainForVolume(t.cfg.DefaultVolume)
	t.streams[id] = st
	go st.readLoop()

	port := st.LocalAddr().Port
	t.log.WithFields(logrus.Fields{"stream": id, "video": video, "port": port}).Debug("RTP поток открыт")
	return port, nil
}

func (t *Termination) listenLocked() (*net.UDPConn, error) {
	if t.cfg.PortMin <= 0 || t.cfg.PortMax < t.cfg.PortMin {
		return net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(t.cfg.LocalIP)})
	}
	span := t.cfg.PortMax - t.cfg.PortMin + 1
	var lastErr error
	for i := 0; i < span; i += 2 {
		port := t.nextPort
		t.nextPort += 2
		if t.nextPort > t.cfg.PortMax {
			t.nextPort = t.cfg.PortMin
		}
		addr := net.JoinHostPort(t.cfg.LocalIP, strconv.Itoa(port))
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, err
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("нет свободных портов в диапазоне %d-%d: %w", t.cfg.PortMin, t.cfg.PortMax, lastErr)
}

// ConnectStream задаёт удалённый адрес и согласованные payload type.
// dtmfPayloadType < 0 означает, что telephone-event не согласован.
func (t *Termination) ConnectStream(id int, remote *net.UDPAddr, payloadType uint8, dtmfPayloadType int) error {
	st, err := t.stream(id)
	if err != nil {
		return err
	}
	st.connect(remote, payloadType, uint8(max(dtmfPayloadType, 0)), dtmfPayloadType >= 0)
	t.log.WithFields(logrus.Fields{"stream": id, "remote": remote.String(), "pt": payloadType}).Debug("RTP поток подключён")
	return nil
}

// CloseStream закрывает поток. Отсутствующий поток не ошибка.
func (t *Termination) CloseStream(id int) error {
	t.mu.Lock()
	st, ok := t.streams[id]
	delete(t.streams, id)
	delete(t.renderers, id)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	t.log.WithField("stream", id).Debug("RTP поток закрыт")
	return st.close()
}

// Stream поток по номеру.
func (t *Termination) Stream(id int) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.streams[id]
	return st, ok
}

// StreamIDs номера открытых потоков по возрастанию.
func (t *Termination) StreamIDs() []int {
	t.mu.Lock()
	ids := make([]int, 0, len(t.streams))
	for id := range t.streams {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Ints(ids)
	return ids
}

// Close закрывает все потоки.
func (t *Termination) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	streams := t.streams
	t.streams = make(map[int]*Stream)
	t.mu.Unlock()

	var firstErr error
	for _, st := range streams {
		if err := st.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Termination) stream(id int) (*Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	st, ok := t.streams[id]
	if !ok {
		return nil, newMediaError(ErrorCodeStreamNotFound, id, "поток не найден", nil)
	}
	return st, nil
}

func (t *Termination) kindStream(id int, video bool) (*Stream, error) {
	st, err := t.stream(id)
	if err != nil {
		return nil, err
	}
	if st.video != video {
		return nil, newMediaError(ErrorCodeStreamKindMismatch, id, "неверный тип потока", nil)
	}
	return st, nil
}

func (t *Termination) dispatchPacket(id int, pkt *rtp.Packet) {
	t.mu.Lock()
	target, ok := t.renderers[id]
	t.mu.Unlock()
	if ok && target.renderer != nil {
		if err := target.renderer.RenderFrame(target.format, pkt.Payload, pkt.Timestamp); err != nil {
			t.log.WithError(err).WithField("stream", id).Debug("рендерер отклонил кадр")
		}
		return
	}
	if t.cfg.OnPacket != nil {
		t.cfg.OnPacket(id, pkt)
	}
}

// session.AudioTermination

func (t *Termination) DefaultVolume() int { return t.cfg.DefaultVolume }

func (t *Termination) Mute(streamID int, mute bool) error {
	st, err := t.kindStream(streamID, false)
	if err != nil {
		return err
	}
	st.setMuted(mute)
	return nil
}

func (t *Termination) SetVolume(streamID int, level int) error {
	if level < 0 || level > 100 {
		return newMediaError(ErrorCodeVolumeInvalid, streamID, "громкость вне диапазона 0-100", nil)
	}
	st, err := t.kindStream(streamID, false)
	if err != nil {
		return err
	}
	st.setGain(gainForVolume(level))
	return nil
}

func (t *Termination) SendDTMF(streamID int, tone int) error {
	if !IsValidDTMFDigit(tone) {
		return newMediaError(ErrorCodeDTMFInvalidDigit, streamID, "недопустимый код тона "+strconv.Itoa(tone), nil)
	}
	st, err := t.kindStream(streamID, false)
	if err != nil {
		return err
	}
	return st.SendDTMF(DTMFDigit(tone), DefaultDTMFDuration)
}

// Video видео часть терминации.
func (t *Termination) Video() *VideoTermination {
	return &VideoTermination{t: t}
}

// VideoTermination реализует session.VideoTermination поверх тех же
// RTP потоков. Декодирование не выполняется: RTP payload передаётся
// внешнему рендереру как есть.
type VideoTermination struct {
	t *Termination
}

func (v *VideoTermination) Mute(streamID int, mute bool) error {
	st, err := v.t.kindStream(streamID, true)
	if err != nil {
		return err
	}
	st.setMuted(mute)
	return nil
}

func (v *VideoTermination) SetRemoteWindow(streamID int, window session.WindowHandle) error {
	st, err := v.t.kindStream(streamID, true)
	if err != nil {
		return err
	}
	st.mu.Lock()
	st.window = uintptr(window)
	st.mu.Unlock()
	return nil
}

func (v *VideoTermination) SetExternalRenderer(streamID int, format session.VideoFormat, r session.ExternalRenderer) error {
	if _, err := v.t.kindStream(streamID, true); err != nil {
		return err
	}
	v.t.mu.Lock()
	if r == nil {
		delete(v.t.renderers, streamID)
	} else {
		v.t.renderers[streamID] = renderTarget{format: format, renderer: r}
	}
	v.t.mu.Unlock()
	return nil
}

// SetAudioStreamID запоминает аудио поток для синхронизации с видео.
func (v *VideoTermination) SetAudioStreamID(streamID int) error {
	if _, err := v.t.kindStream(streamID, false); err != nil {
		return err
	}
	v.t.mu.Lock()
	v.t.lipSync = streamID
	v.t.mu.Unlock()
	return nil
}

// LipSyncStream аудио поток, заданный SetAudioStreamID.
func (v *VideoTermination) LipSyncStream() int {
	v.t.mu.Lock()
	defer v.t.mu.Unlock()
	return v.t.lipSync
}

func (v *VideoTermination) SendIFrame(h session.CallHandle) error {
	v.t.log.WithField("call", h).Debug("запрошен опорный кадр")
	if v.t.cfg.OnKeyframeRequest != nil {
		v.t.cfg.OnKeyframeRequest(h)
	}
	return nil
}

var (
	_ session.AudioTermination = (*Termination)(nil)
	_ session.VideoTermination = (*VideoTermination)(nil)
)
