package session

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// streamInfo запись карты потоков вызова.
type streamInfo struct {
	isVideo bool
}

// mediaData медиа состояние вызова. Защищено Call.mu.
type mediaData struct {
	volume       int
	audioMuted   bool
	videoMuted   bool
	remoteWindow WindowHandle
	renderer     ExternalRenderer
	videoFormat  VideoFormat
	streams      map[int]streamInfo
}

// Call сессия одного вызова, привязанная к CallHandle движка.
//
// Функциональные операции (Hold, Transfer, ...) просто пересылаются в
// движок. Медиа операции (mute, громкость, DTMF) дополнительно применяются
// ко всем подходящим потокам под мьютексом вызова, так как потоки
// добавляются и удаляются из контекста медиа движка параллельно с
// вызовами приложения.
type Call struct {
	handle CallHandle
	line   LineID
	engine CallController
	audio  AudioTermination
	video  VideoTermination
	log    *logrus.Entry

	mu    sync.Mutex
	media mediaData
}

// CallOptions зависимости сессии вызова.
type CallOptions struct {
	Line   LineID
	Audio  AudioTermination
	Video  VideoTermination
	Logger *logrus.Entry
}

// NewCall создаёт сессию вызова для handle. Громкость по умолчанию берётся
// из аудио терминации.
func NewCall(h CallHandle, engine CallController, opts CallOptions) *Call {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Call{
		handle: h,
		line:   opts.Line,
		engine: engine,
		audio:  opts.Audio,
		video:  opts.Video,
		log:    log.WithFields(logrus.Fields{"component": "CallSession", "call": h}),
		media: mediaData{
			streams: make(map[int]streamInfo),
		},
	}
	if c.audio != nil {
		c.media.volume = c.audio.DefaultVolume()
	}
	c.log.Info("создана сессия вызова")
	return c
}

// Handle возвращает handle вызова в движке.
func (c *Call) Handle() CallHandle { return c.handle }

// Line возвращает линию вызова.
func (c *Call) Line() LineID { return c.line }

// Info возвращает снимок вызова из движка с приложенным медиа состоянием.
func (c *Call) Info() (CallInfo, error) {
	info, err := c.engine.CallInfo(c.handle)
	if err != nil {
		return CallInfo{}, fmt.Errorf("call info %d: %w", c.handle, err)
	}
	media := c.MediaState()
	info.Media = &media
	return info, nil
}

func (c *Call) Originate(dir MediaDirection, digits string) error {
	return c.engine.Originate(c.handle, dir, digits)
}

// OriginateP2P вызов напрямую на ip без регистратора.
func (c *Call) OriginateP2P(dir MediaDirection, digits, ip string) error {
	return c.engine.OriginateP2P(c.handle, dir, digits, ip)
}

func (c *Call) Answer(dir MediaDirection) error {
	return c.engine.Answer(c.handle, dir)
}

func (c *Call) Hold(reason HoldReason) error {
	return c.engine.Hold(c.handle, reason)
}

func (c *Call) Resume(dir MediaDirection) error {
	return c.engine.Resume(c.handle, dir)
}

func (c *Call) End() error {
	return c.engine.End(c.handle)
}

func (c *Call) Backspace() error {
	return c.engine.Backspace(c.handle)
}

func (c *Call) Redial(dir MediaDirection) error {
	return c.engine.Redial(c.handle, dir)
}

func (c *Call) InitiateCallForwardAll() error {
	return c.engine.InitiateCallForwardAll(c.handle)
}

func (c *Call) EndConsultativeCall() error {
	return c.engine.EndConsultativeCall(c.handle)
}

func (c *Call) ConferenceStart(dir MediaDirection) error {
	return c.engine.ConferenceStart(c.handle, dir)
}

// ConferenceComplete объединяет этот вызов с other в конференцию.
func (c *Call) ConferenceComplete(other *Call, dir MediaDirection) error {
	if other == nil {
		return fmt.Errorf("conference complete: второе плечо не задано")
	}
	return c.engine.ConferenceComplete(c.handle, other.handle, dir)
}

func (c *Call) TransferStart(dir MediaDirection) error {
	return c.engine.TransferStart(c.handle, dir)
}

// TransferComplete завершает консультативный перевод на other.
func (c *Call) TransferComplete(other *Call, dir MediaDirection) error {
	if other == nil {
		return fmt.Errorf("transfer complete: второе плечо не задано")
	}
	return c.engine.TransferComplete(c.handle, other.handle, dir)
}

func (c *Call) CancelTransferOrConference() error {
	return c.engine.CancelTransferOrConference(c.handle)
}

func (c *Call) DirectTransfer(target *Call) error {
	if target == nil {
		return fmt.Errorf("direct transfer: цель не задана")
	}
	return c.engine.DirectTransfer(c.handle, target.handle)
}

func (c *Call) JoinAcrossLine(target *Call) error {
	if target == nil {
		return fmt.Errorf("join across line: цель не задана")
	}
	return c.engine.JoinAcrossLine(c.handle, target.handle)
}

func (c *Call) BLFCallPickup(dir MediaDirection, speedDial string) error {
	return c.engine.BLFCallPickup(c.handle, dir, speedDial)
}

func (c *Call) Select() error {
	return c.engine.Select(c.handle)
}

func (c *Call) UpdateVideoMediaCap(dir MediaDirection) error {
	return c.engine.UpdateVideoMediaCap(c.handle, dir)
}

// SendInfo отправляет SIP INFO внутри диалога вызова.
func (c *Call) SendInfo(infoPackage, infoType, body string) error {
	return c.engine.SendInfo(c.handle, infoPackage, infoType, body)
}

// SendIFrame просит видео кодер выдать опорный кадр.
func (c *Call) SendIFrame() error {
	if c.video == nil {
		return ErrNoVideoTermination
	}
	return c.video.SendIFrame(c.handle)
}
