package media

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// DTMFDigit код события RFC 4733. 0-9 цифры, 10 '*', 11 '#', 12-15 A-D,
// 16 flash.
type DTMFDigit uint8

const (
	DTMFStar  DTMFDigit = 10
	DTMFPound DTMFDigit = 11
	DTMFA     DTMFDigit = 12
	DTMFD     DTMFDigit = 15
	DTMFFlash DTMFDigit = 16
)

const dtmfDigits = "0123456789*#ABCD"

func (d DTMFDigit) String() string {
	switch {
	case int(d) < len(dtmfDigits):
		return string(dtmfDigits[d])
	case d == DTMFFlash:
		return "flash"
	default:
		return "?"
	}
}

// IsValidDTMFDigit проверяет корректность кода тона.
func IsValidDTMFDigit(tone int) bool {
	return tone >= 0 && tone <= int(DTMFFlash)
}

const (
	// DefaultDTMFDuration длительность тона при отправке.
	DefaultDTMFDuration = 100 * time.Millisecond
	// DefaultDTMFVolume уровень тона, -dBm0.
	DefaultDTMFVolume = 10

	dtmfClockRate = 8000
	// Конечный пакет повторяется для надёжности (RFC 4733, 2.5.1.4).
	dtmfEndRepeats = 3
)

// DTMFEvent одно событие telephone-event.
type DTMFEvent struct {
	Digit     DTMFDigit
	Duration  time.Duration
	Volume    uint8
	Timestamp uint32
}

// DTMFPayload полезная нагрузка telephone-event (RFC 4733, 2.3).
type DTMFPayload struct {
	Event    uint8
	EndFlag  bool
	Volume   uint8
	Duration uint16
}

// Marshal сериализует payload в 4 байта.
func (p DTMFPayload) Marshal() []byte {
	data := make([]byte, 4)
	data[0] = p.Event
	if p.EndFlag {
		data[1] |= 0x80
	}
	data[1] |= p.Volume & 0x3F
	data[2] = byte(p.Duration >> 8)
	data[3] = byte(p.Duration)
	return data
}

// UnmarshalDTMFPayload разбирает payload telephone-event.
func UnmarshalDTMFPayload(data []byte) (DTMFPayload, error) {
	if len(data) < 4 {
		return DTMFPayload{}, fmt.Errorf("некорректный размер DTMF payload: %d", len(data))
	}
	return DTMFPayload{
		Event:    data[0],
		EndFlag:  data[1]&0x80 != 0,
		Volume:   data[1] & 0x3F,
		Duration: uint16(data[2])<<8 | uint16(data[3]),
	}, nil
}

// DTMFSender формирует RTP пакеты telephone-event. Нумерацию пакетов
// и SSRC задаёт поток, которому принадлежит отправитель.
type DTMFSender struct {
	payloadType uint8
	ssrc        uint32
}

func NewDTMFSender(payloadType uint8, ssrc uint32) *DTMFSender {
	return &DTMFSender{payloadType: payloadType, ssrc: ssrc}
}

// GeneratePackets пакеты одного события: начальный с маркером, промежуточные
// каждые 20 мс и три конечных с флагом E. Все пакеты несут timestamp
// начала события. seq первый номер последовательности.
func (ds *DTMFSender) GeneratePackets(event DTMFEvent, seq uint16) ([]*rtp.Packet, error) {
	if event.Duration <= 0 {
		return nil, fmt.Errorf("длительность DTMF должна быть положительной")
	}
	if !IsValidDTMFDigit(int(event.Digit)) {
		return nil, ErrDTMFInvalidDigit
	}

	total := uint16(event.Duration.Seconds() * dtmfClockRate)
	step := uint16(dtmfClockRate / 50)

	var packets []*rtp.Packet
	add := func(duration uint16, end, marker bool) {
		payload := DTMFPayload{
			Event:    uint8(event.Digit),
			EndFlag:  end,
			Volume:   event.Volume,
			Duration: duration,
		}
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         marker,
				PayloadType:    ds.payloadType,
				SequenceNumber: seq,
				Timestamp:      event.Timestamp,
				SSRC:           ds.ssrc,
			},
			Payload: payload.Marshal(),
		})
		seq++
	}

	for d := step; d < total; d += step {
		add(d, false, d == step)
	}
	if len(packets) == 0 {
		add(total, false, true)
	}
	for i := 0; i < dtmfEndRepeats; i++ {
		add(total, true, false)
	}
	return packets, nil
}

// DTMFReceiver выделяет события из входящих пакетов telephone-event.
// Обработчик вызывается один раз на событие, по первому пакету.
type DTMFReceiver struct {
	payloadType uint8
	onDigit     func(DTMFEvent)

	active    bool
	timestamp uint32
}

func NewDTMFReceiver(payloadType uint8, onDigit func(DTMFEvent)) *DTMFReceiver {
	return &DTMFReceiver{payloadType: payloadType, onDigit: onDigit}
}

// ProcessPacket возвращает true, если пакет относится к telephone-event.
func (dr *DTMFReceiver) ProcessPacket(packet *rtp.Packet) (bool, error) {
	if packet.PayloadType != dr.payloadType {
		return false, nil
	}
	payload, err := UnmarshalDTMFPayload(packet.Payload)
	if err != nil {
		return true, err
	}

	newEvent := !dr.active || dr.timestamp != packet.Timestamp
	if newEvent && dr.onDigit != nil && !(payload.EndFlag && dr.timestamp == packet.Timestamp) {
		dr.onDigit(DTMFEvent{
			Digit:     DTMFDigit(payload.Event),
			Duration:  time.Duration(payload.Duration) * time.Second / dtmfClockRate,
			Volume:    payload.Volume,
			Timestamp: packet.Timestamp,
		})
	}
	dr.timestamp = packet.Timestamp
	dr.active = !payload.EndFlag
	return true, nil
}
