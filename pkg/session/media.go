package session

// WindowHandle нативный дескриптор окна для отрисовки удалённого видео.
// Ноль означает отсутствие окна.
type WindowHandle uintptr

// VideoFormat согласованный формат кадров внешнего рендерера.
type VideoFormat uint32

// ExternalRenderer принимает декодированные кадры удалённого видео.
type ExternalRenderer interface {
	RenderFrame(format VideoFormat, frame []byte, timestamp uint32) error
}

// AudioTermination аудио часть медиа слоя. Все операции best-effort:
// ошибки логируются вызывающей стороной и не прерывают операцию вызова.
type AudioTermination interface {
	DefaultVolume() int
	Mute(streamID int, mute bool) error
	SetVolume(streamID int, level int) error
	SendDTMF(streamID int, tone int) error
}

// VideoTermination видео часть медиа слоя.
type VideoTermination interface {
	Mute(streamID int, mute bool) error
	SetRemoteWindow(streamID int, window WindowHandle) error
	SetExternalRenderer(streamID int, format VideoFormat, r ExternalRenderer) error
	// SetAudioStreamID связывает видео с аудио потоком (lip sync).
	SetAudioStreamID(streamID int) error
	SendIFrame(h CallHandle) error
}

// MediaState снимок медиа состояния вызова.
type MediaState struct {
	Volume              int          `json:"volume"`
	AudioMuted          bool         `json:"audio_muted"`
	VideoMuted          bool         `json:"video_muted"`
	RemoteWindow        WindowHandle `json:"remote_window,omitempty"`
	VideoFormat         VideoFormat  `json:"video_format,omitempty"`
	HasExternalRenderer bool         `json:"has_external_renderer"`
	// Streams id потока -> isVideo
	Streams map[int]bool `json:"streams"`
}
