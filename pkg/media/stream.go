package media

import (
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const maxPacketSize = 1500

// PacketHandler получает входящие RTP пакеты потока (после извлечения
// DTMF). Вызывается из горутины чтения потока.
type PacketHandler func(streamID int, packet *rtp.Packet)

// DTMFHandler получает принятые тоны telephone-event.
type DTMFHandler func(streamID int, event DTMFEvent)

// StreamStats счётчики потока.
type StreamStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsDropped  uint64
	DTMFSent        uint64
	DTMFReceived    uint64
}

// Stream один RTP поток вызова: UDP сокет, удалённый адрес и
// согласованные payload type.
type Stream struct {
	id    int
	video bool
	conn  *net.UDPConn
	log   *logrus.Entry

	mu          sync.Mutex
	remote      *net.UDPAddr
	payloadType uint8
	dtmfType    uint8
	dtmfEnabled bool
	muted       bool
	gain        float64
	ssrc        uint32
	seq         uint16
	timestamp   uint32
	lastSend    time.Time
	stats       StreamStats
	window      uintptr

	onPacket PacketHandler
	onDTMF   DTMFHandler
	done     chan struct{}
}

func newStream(id int, video bool, conn *net.UDPConn, log *logrus.Entry) *Stream {
	return &Stream{
		id:        id,
		video:     video,
		conn:      conn,
		log:       log.WithField("stream", id),
		gain:      1,
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		timestamp: rand.Uint32(),
		done:      make(chan struct{}),
	}
}

// ID номер потока.
func (s *Stream) ID() int { return s.id }

// IsVideo true для видео потока.
func (s *Stream) IsVideo() bool { return s.video }

// LocalAddr адрес локального RTP сокета.
func (s *Stream) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Stats копия счётчиков.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RemoteWindow окно отрисовки видео потока.
func (s *Stream) RemoteWindow() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Muted состояние отправки.
func (s *Stream) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Stream) connect(remote *net.UDPAddr, payloadType, dtmfType uint8, dtmf bool) {
	s.mu.Lock()
	s.remote = remote
	s.payloadType = payloadType
	s.dtmfType = dtmfType
	s.dtmfEnabled = dtmf
	s.mu.Unlock()
}

func (s *Stream) setMuted(mute bool) {
	s.mu.Lock()
	s.muted = mute
	s.mu.Unlock()
}

func (s *Stream) setGain(g float64) {
	s.mu.Lock()
	s.gain = g
	s.mu.Unlock()
}

// WritePayload отправляет один кадр. При отключённом звуке кадр
// отбрасывается, timestamp всё равно продвигается на samples.
func (s *Stream) WritePayload(payload []byte, samples uint32) error {
	s.mu.Lock()
	if s.remote == nil {
		s.mu.Unlock()
		return newMediaError(ErrorCodeStreamNotConnected, s.id, "удалённый адрес не задан", nil)
	}
	if s.muted {
		s.timestamp += samples
		s.stats.PacketsDropped++
		s.mu.Unlock()
		return nil
	}
	data := append([]byte(nil), payload...)
	if !s.video {
		applyGain(s.payloadType, data, s.gain)
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: data,
	}
	s.seq++
	s.timestamp += samples
	remote := s.remote
	s.mu.Unlock()

	return s.send(remote, pkt)
}

// SendDTMF отправляет событие telephone-event.
func (s *Stream) SendDTMF(digit DTMFDigit, duration time.Duration) error {
	s.mu.Lock()
	if s.remote == nil {
		s.mu.Unlock()
		return newMediaError(ErrorCodeStreamNotConnected, s.id, "удалённый адрес не задан", nil)
	}
	if !s.dtmfEnabled {
		s.mu.Unlock()
		return newMediaError(ErrorCodeDTMFNotEnabled, s.id, "telephone-event не согласован", nil)
	}
	sender := NewDTMFSender(s.dtmfType, s.ssrc)
	packets, err := sender.GeneratePackets(DTMFEvent{
		Digit:     digit,
		Duration:  duration,
		Volume:    DefaultDTMFVolume,
		Timestamp: s.timestamp,
	}, s.seq)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.seq += uint16(len(packets))
	s.timestamp += uint32(duration.Seconds() * dtmfClockRate)
	s.stats.DTMFSent++
	remote := s.remote
	s.mu.Unlock()

	for _, pkt := range packets {
		if err := s.send(remote, pkt); err != nil {
			return err
		}
	}
	s.log.WithField("digit", digit).Debug("DTMF отправлен")
	return nil
}

func (s *Stream) send(remote *net.UDPAddr, pkt *rtp.Packet) error {
	raw, err := pkt.Marshal()
	if err != nil {
		return newMediaError(ErrorCodeRTPSendFailed, s.id, "ошибка сериализации RTP", err)
	}
	if _, err := s.conn.WriteToUDP(raw, remote); err != nil {
		return newMediaError(ErrorCodeRTPSendFailed, s.id, "ошибка отправки RTP", err)
	}
	s.mu.Lock()
	s.stats.PacketsSent++
	s.lastSend = time.Now()
	s.mu.Unlock()
	return nil
}

// readLoop принимает пакеты до закрытия сокета.
func (s *Stream) readLoop() {
	defer close(s.done)

	buf := make([]byte, maxPacketSize)
	var receiver *DTMFReceiver
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.WithError(err).Warn("ошибка чтения RTP")
			}
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), buf[:n]...)); err != nil {
			s.log.WithError(err).Debug("отброшен некорректный RTP пакет")
			continue
		}

		s.mu.Lock()
		s.stats.PacketsReceived++
		dtmfType, dtmfEnabled := s.dtmfType, s.dtmfEnabled
		onPacket, onDTMF := s.onPacket, s.onDTMF
		s.mu.Unlock()

		if dtmfEnabled && !s.video {
			if receiver == nil || receiver.payloadType != dtmfType {
				receiver = NewDTMFReceiver(dtmfType, func(ev DTMFEvent) {
					s.mu.Lock()
					s.stats.DTMFReceived++
					s.mu.Unlock()
					if onDTMF != nil {
						onDTMF(s.id, ev)
					}
				})
			}
			isDTMF, err := receiver.ProcessPacket(pkt)
			if err != nil {
				s.log.WithError(err).Debug("некорректный пакет telephone-event")
			}
			if isDTMF {
				continue
			}
		}
		if onPacket != nil {
			onPacket(s.id, pkt)
		}
	}
}

func (s *Stream) close() error {
	err := s.conn.Close()
	<-s.done
	return err
}
