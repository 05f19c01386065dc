package session

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// SendDigit переводит цифру в тон и отправляет его на первый аудио поток,
// который примет тон, затем передаёт цифру движку. Отказ медиа слоя только
// логируется, результат определяется движком.
func (c *Call) SendDigit(digit rune) error {
	tone, ok := ToneForDigit(digit)
	if !ok {
		c.log.WithField("digit", string(digit)).Error("неизвестная цифра DTMF, тон не отправлен")
	} else if c.audio != nil {
		c.mu.Lock()
		ids := c.streamIDsLocked(false)
		sent := false
		for _, id := range ids {
			if err := c.audio.SendDTMF(id, tone); err != nil {
				c.log.WithError(err).WithField("stream", id).Warn("поток не принял тон DTMF")
				continue
			}
			sent = true
			break
		}
		c.mu.Unlock()
		if !sent {
			c.log.WithField("digit", string(digit)).Error("не удалось отправить тон DTMF ни в один поток")
		}
	}
	return c.engine.SendDigit(c.handle, digit)
}

func (c *Call) MuteAudio() error   { return c.SetAudioMute(true) }
func (c *Call) UnmuteAudio() error { return c.SetAudioMute(false) }
func (c *Call) MuteVideo() error   { return c.SetVideoMute(true) }
func (c *Call) UnmuteVideo() error { return c.SetVideoMute(false) }

// SetAudioMute запоминает флаг, применяет его ко всем аудио потокам и
// сообщает движку. Успех требует хотя бы одного принявшего потока и
// успешного ответа движка; ошибка движка имеет приоритет.
func (c *Call) SetAudioMute(mute bool) error {
	c.mu.Lock()
	c.media.audioMuted = mute
	updated := 0
	if c.audio != nil {
		for _, id := range c.streamIDsLocked(false) {
			if err := c.audio.Mute(id, mute); err != nil {
				c.log.WithError(err).WithField("stream", id).Warn("аудио поток не принял mute")
				continue
			}
			updated++
		}
	}
	c.mu.Unlock()

	if err := c.engine.SetAudioMute(c.handle, mute); err != nil {
		return err
	}
	if updated == 0 {
		return ErrNoStreamUpdated
	}
	return nil
}

// SetVideoMute то же, что SetAudioMute, для видео потоков.
func (c *Call) SetVideoMute(mute bool) error {
	c.mu.Lock()
	c.media.videoMuted = mute
	updated := 0
	if c.video != nil {
		for _, id := range c.streamIDsLocked(true) {
			if err := c.video.Mute(id, mute); err != nil {
				c.log.WithError(err).WithField("stream", id).Warn("видео поток не принял mute")
				continue
			}
			updated++
		}
	}
	c.mu.Unlock()

	if err := c.engine.SetVideoMute(c.handle, mute); err != nil {
		return err
	}
	if updated == 0 {
		return ErrNoStreamUpdated
	}
	return nil
}

// SetVolume применяет уровень ко всем аудио потокам. Уровень сохраняется,
// если его принял хотя бы один поток. Движок не участвует.
func (c *Call) SetVolume(level int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.audio == nil {
		return ErrNoAudioTermination
	}
	updated := 0
	for _, id := range c.streamIDsLocked(false) {
		if err := c.audio.SetVolume(id, level); err != nil {
			c.log.WithError(err).WithField("stream", id).Warn("аудио поток не принял громкость")
			continue
		}
		updated++
	}
	if updated == 0 {
		return ErrNoStreamUpdated
	}
	c.media.volume = level
	return nil
}

// Volume текущий сохранённый уровень громкости.
func (c *Call) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media.volume
}

// AddStream регистрирует поток и применяет к нему сохранённое состояние.
// Вызывается из контекста медиа движка. Ошибки применения логируются.
func (c *Call) AddStream(streamID int, isVideo bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.media.streams[streamID] = streamInfo{isVideo: isVideo}
	log := c.log.WithFields(logrus.Fields{"stream": streamID, "video": isVideo})
	log.Info("добавлен медиа поток")

	if isVideo {
		if c.video == nil {
			log.Warn("видео поток без видео терминации")
			return
		}
		if c.media.remoteWindow != 0 {
			if err := c.video.SetRemoteWindow(streamID, c.media.remoteWindow); err != nil {
				log.WithError(err).Error("не удалось назначить окно видео")
			}
		}
		if c.media.renderer != nil {
			if err := c.video.SetExternalRenderer(streamID, c.media.videoFormat, c.media.renderer); err != nil {
				log.WithError(err).Error("не удалось назначить внешний рендерер")
			}
		}
		for _, audioID := range c.streamIDsLocked(false) {
			if err := c.video.SetAudioStreamID(audioID); err != nil {
				log.WithError(err).WithField("audio_stream", audioID).Error("не удалось связать видео с аудио потоком")
			}
		}
		if err := c.video.Mute(streamID, c.media.videoMuted); err != nil {
			log.WithError(err).Error("не удалось применить mute видео")
		}
		return
	}

	if c.audio == nil {
		log.Warn("аудио поток без аудио терминации")
		return
	}
	if err := c.audio.Mute(streamID, c.media.audioMuted); err != nil {
		log.WithError(err).Error("не удалось применить mute аудио")
	}
	if err := c.audio.SetVolume(streamID, c.media.volume); err != nil {
		log.WithError(err).Error("не удалось применить громкость")
	}
}

// RemoveStream удаляет поток из карты. Отсутствующий id логируется.
func (c *Call) RemoveStream(streamID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.media.streams[streamID]; !ok {
		c.log.WithField("stream", streamID).Error("удаление неизвестного медиа потока")
		return
	}
	delete(c.media.streams, streamID)
	c.log.WithField("stream", streamID).Info("медиа поток удалён")
}

// SetRemoteWindow запоминает окно и применяет его к первому видео потоку.
// Без видео потока окно будет применено при его добавлении.
func (c *Call) SetRemoteWindow(window WindowHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.media.remoteWindow = window
	id, ok := c.firstVideoStreamLocked()
	if !ok || c.video == nil {
		return nil
	}
	return c.video.SetRemoteWindow(id, window)
}

// SetExternalRenderer запоминает рендерер и применяет его к первому
// видео потоку.
func (c *Call) SetExternalRenderer(format VideoFormat, r ExternalRenderer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.media.videoFormat = format
	c.media.renderer = r
	id, ok := c.firstVideoStreamLocked()
	if !ok || c.video == nil {
		return nil
	}
	return c.video.SetExternalRenderer(id, format, r)
}

// MediaState снимок медиа состояния вызова.
func (c *Call) MediaState() MediaState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := MediaState{
		Volume:              c.media.volume,
		AudioMuted:          c.media.audioMuted,
		VideoMuted:          c.media.videoMuted,
		RemoteWindow:        c.media.remoteWindow,
		VideoFormat:         c.media.videoFormat,
		HasExternalRenderer: c.media.renderer != nil,
		Streams:             make(map[int]bool, len(c.media.streams)),
	}
	for id, s := range c.media.streams {
		st.Streams[id] = s.isVideo
	}
	return st
}

// streamIDsLocked id потоков заданного типа по возрастанию.
func (c *Call) streamIDsLocked(video bool) []int {
	ids := make([]int, 0, len(c.media.streams))
	for id, s := range c.media.streams {
		if s.isVideo == video {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

func (c *Call) firstVideoStreamLocked() (int, bool) {
	ids := c.streamIDsLocked(true)
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}
