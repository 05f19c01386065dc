package sessiontest

import (
	"errors"
	"sync"

	"github.com/arzzra/callcontrol/pkg/session"
)

// ErrStreamRejected ошибка, которую возвращают подмены для потоков из
// списков отказа.
var ErrStreamRejected = errors.New("поток отклонил операцию")

// DTMF отправленный тон.
type DTMF struct {
	Stream int
	Tone   int
}

// Audio аудио терминация в памяти.
type Audio struct {
	mu sync.Mutex

	Default    int
	FailMute   map[int]bool
	FailVolume map[int]bool
	FailDTMF   map[int]bool

	Muted   map[int]bool
	Volumes map[int]int
	Tones   []DTMF
}

// NewAudio терминация с громкостью по умолчанию def.
func NewAudio(def int) *Audio {
	return &Audio{
		Default:    def,
		FailMute:   make(map[int]bool),
		FailVolume: make(map[int]bool),
		FailDTMF:   make(map[int]bool),
		Muted:      make(map[int]bool),
		Volumes:    make(map[int]int),
	}
}

func (a *Audio) DefaultVolume() int { return a.Default }

func (a *Audio) Mute(id int, mute bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailMute[id] {
		return ErrStreamRejected
	}
	a.Muted[id] = mute
	return nil
}

func (a *Audio) SetVolume(id int, level int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailVolume[id] {
		return ErrStreamRejected
	}
	a.Volumes[id] = level
	return nil
}

func (a *Audio) SendDTMF(id int, tone int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailDTMF[id] {
		return ErrStreamRejected
	}
	a.Tones = append(a.Tones, DTMF{Stream: id, Tone: tone})
	return nil
}

// IsMuted состояние mute потока.
func (a *Audio) IsMuted(id int) (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.Muted[id]
	return m, ok
}

// Volume громкость потока.
func (a *Audio) Volume(id int) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.Volumes[id]
	return v, ok
}

// Video видео терминация в памяти.
type Video struct {
	mu sync.Mutex

	FailMute map[int]bool

	Muted      map[int]bool
	Windows    map[int]session.WindowHandle
	Renderers  map[int]session.ExternalRenderer
	AudioLinks []int
	IFrames    []session.CallHandle
}

func NewVideo() *Video {
	return &Video{
		FailMute:  make(map[int]bool),
		Muted:     make(map[int]bool),
		Windows:   make(map[int]session.WindowHandle),
		Renderers: make(map[int]session.ExternalRenderer),
	}
}

func (v *Video) Mute(id int, mute bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.FailMute[id] {
		return ErrStreamRejected
	}
	v.Muted[id] = mute
	return nil
}

func (v *Video) SetRemoteWindow(id int, w session.WindowHandle) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Windows[id] = w
	return nil
}

func (v *Video) SetExternalRenderer(id int, _ session.VideoFormat, r session.ExternalRenderer) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Renderers[id] = r
	return nil
}

func (v *Video) SetAudioStreamID(id int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.AudioLinks = append(v.AudioLinks, id)
	return nil
}

func (v *Video) SendIFrame(h session.CallHandle) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.IFrames = append(v.IFrames, h)
	return nil
}

var (
	_ session.AudioTermination = (*Audio)(nil)
	_ session.VideoTermination = (*Video)(nil)
)
