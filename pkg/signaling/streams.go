package signaling

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

func (e *Engine) nextStreamID() int {
	e.streamID++
	return e.streamID
}

// openMedia открывает локальные потоки вызова. Видео поток
// открывается или закрывается по флагу video.
func (e *Engine) openMedia(c *sipCall, video bool) error {
	if c.audioStream == 0 {
		id := e.nextStreamID()
		port, err := e.opts.Media.OpenStream(id, false)
		if err != nil {
			return fmt.Errorf("ошибка открытия аудио потока: %w", err)
		}
		c.audioStream, c.audioPort = id, port
	}
	switch {
	case video && c.videoStream == 0:
		id := e.nextStreamID()
		port, err := e.opts.Media.OpenStream(id, true)
		if err != nil {
			return fmt.Errorf("ошибка открытия видео потока: %w", err)
		}
		c.videoStream, c.videoPort = id, port
	case !video && c.videoStream != 0:
		e.closeStream(c, c.videoStream)
		c.videoStream, c.videoPort = 0, 0
	}
	return nil
}

// applyRemote разбирает SDP удалённой стороны и подключает потоки.
func (e *Engine) applyRemote(c *sipCall, body []byte) error {
	remote, err := parseRemote(body)
	if err != nil {
		return err
	}
	hadVideo := c.remote.video != nil
	c.remote = remote
	if remote.video == nil && c.videoStream != 0 {
		e.closeStream(c, c.videoStream)
		c.videoStream, c.videoPort = 0, 0
	}
	e.connectMedia(c)
	if remote.video != nil && !hadVideo {
		e.emitCall(c, session.CallEventVideoAvail)
	}
	return nil
}

// connectMedia направляет открытые потоки на адреса удалённой стороны.
func (e *Engine) connectMedia(c *sipCall) {
	if r := c.remote.audio; r != nil && c.audioStream != 0 {
		e.connectStream(c, c.audioStream, false, r)
	}
	if r := c.remote.video; r != nil && c.videoStream != 0 {
		e.connectStream(c, c.videoStream, true, r)
	}
}

func (e *Engine) connectStream(c *sipCall, id int, video bool, r *remoteStream) {
	dtmf := r.dtmfType
	if video {
		dtmf = -1
	}
	if err := e.opts.Media.ConnectStream(id, r.addr, r.payloadType, dtmf); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"call": c.handle, "stream": id}).Error("не удалось подключить медиа поток")
		return
	}
	if c.connected[id] {
		return
	}
	c.connected[id] = true
	if l := e.currentListener(); l != nil {
		l.OnStreamAdded(c.handle, id, video)
	}
}

func (e *Engine) closeStream(c *sipCall, id int) {
	if err := e.opts.Media.CloseStream(id); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"call": c.handle, "stream": id}).Warn("ошибка закрытия медиа потока")
	}
	if c.connected[id] {
		delete(c.connected, id)
		if l := e.currentListener(); l != nil {
			l.OnStreamRemoved(c.handle, id)
		}
	}
}

// closeMedia закрывает все потоки вызова.
func (e *Engine) closeMedia(c *sipCall) {
	if c.audioStream != 0 {
		e.closeStream(c, c.audioStream)
		c.audioStream, c.audioPort = 0, 0
	}
	if c.videoStream != 0 {
		e.closeStream(c, c.videoStream)
		c.videoStream, c.videoPort = 0, 0
	}
}

// offer SDP offer вызова с направлениями аудио и видео.
func (e *Engine) offer(c *sipCall, dir, videoDir session.MediaDirection) ([]byte, error) {
	c.sdpVersion++
	return buildOffer(localMedia{
		host:      e.localAddress(),
		sessionID: c.sdpSession,
		version:   c.sdpVersion,
		audioPort: c.audioPort,
		audioDir:  dir,
		videoPort: c.videoPort,
		videoDir:  videoDir,
	})
}

// answer SDP ответ на offer удалённой стороны c.remote.
func (e *Engine) answer(c *sipCall, dir session.MediaDirection) ([]byte, error) {
	c.sdpVersion++
	l := localMedia{
		host:      e.localAddress(),
		sessionID: c.sdpSession,
		version:   c.sdpVersion,
		audioPort: c.audioPort,
		audioPT:   c.remote.audio.payloadType,
		audioDir:  answerDirection(dir, c.remote.audio.dir),
		dtmfPT:    c.remote.audio.dtmfType,
	}
	if v := c.remote.video; v != nil {
		l.videoOffered = true
		l.videoPT = v.payloadType
		l.videoPort = c.videoPort
		l.videoDir = answerDirection(c.videoDir, v.dir)
	}
	return buildAnswer(l)
}

// localDirection направление аудио, которое вызов сейчас предлагает.
func (c *sipCall) localDirection() session.MediaDirection {
	if c.state == session.CallStateHold {
		return session.DirectionSendOnly
	}
	return c.audioDir
}

// wantVideo вызов согласует видео поток.
func (c *sipCall) wantVideo() bool {
	return c.videoDir != session.DirectionInactive
}
