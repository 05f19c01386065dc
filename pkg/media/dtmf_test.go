package media

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTMFPayloadMarshal(t *testing.T) {
	p := DTMFPayload{Event: 11, EndFlag: true, Volume: 10, Duration: 800}

	data := p.Marshal()

	assert.Equal(t, []byte{11, 0x80 | 10, 0x03, 0x20}, data)
	back, err := UnmarshalDTMFPayload(data)
	require.NoError(t, err)
	assert.Equal(t, p, back)

	_, err = UnmarshalDTMFPayload([]byte{1, 2})
	assert.Error(t, err)
}

func TestDTMFSenderGeneratePackets(t *testing.T) {
	sender := NewDTMFSender(101, 0xCAFE)

	packets, err := sender.GeneratePackets(DTMFEvent{
		Digit:     5,
		Duration:  100 * time.Millisecond,
		Volume:    10,
		Timestamp: 1000,
	}, 65534)
	require.NoError(t, err)

	// 4 промежуточных (20, 40, 60, 80 мс) и 3 конечных
	require.Len(t, packets, 7)
	assert.True(t, packets[0].Marker)
	for i, pkt := range packets {
		assert.Equal(t, uint8(101), pkt.PayloadType)
		assert.Equal(t, uint32(1000), pkt.Timestamp)
		assert.Equal(t, uint32(0xCAFE), pkt.SSRC)
		assert.Equal(t, uint16(65534+i), pkt.SequenceNumber, "номер пакета переходит через 0")
		if i > 0 {
			assert.False(t, pkt.Marker)
		}
	}
	last, err := UnmarshalDTMFPayload(packets[6].Payload)
	require.NoError(t, err)
	assert.True(t, last.EndFlag)
	assert.Equal(t, uint16(800), last.Duration)
}

func TestDTMFSenderRejectsInvalidEvents(t *testing.T) {
	sender := NewDTMFSender(101, 1)

	_, err := sender.GeneratePackets(DTMFEvent{Digit: 1}, 0)
	assert.Error(t, err)

	_, err = sender.GeneratePackets(DTMFEvent{Digit: 17, Duration: time.Second}, 0)
	assert.ErrorIs(t, err, ErrDTMFInvalidDigit)
}

func TestDTMFReceiverReportsEachEventOnce(t *testing.T) {
	var got []DTMFDigit
	receiver := NewDTMFReceiver(101, func(ev DTMFEvent) { got = append(got, ev.Digit) })
	sender := NewDTMFSender(101, 7)

	first, err := sender.GeneratePackets(DTMFEvent{Digit: 1, Duration: 60 * time.Millisecond, Timestamp: 100}, 1)
	require.NoError(t, err)
	second, err := sender.GeneratePackets(DTMFEvent{Digit: DTMFPound, Duration: 60 * time.Millisecond, Timestamp: 900}, 20)
	require.NoError(t, err)

	for _, pkt := range append(first, second...) {
		isDTMF, err := receiver.ProcessPacket(pkt)
		require.NoError(t, err)
		assert.True(t, isDTMF)
	}

	assert.Equal(t, []DTMFDigit{1, DTMFPound}, got)

	isDTMF, err := receiver.ProcessPacket(&rtp.Packet{Header: rtp.Header{PayloadType: 0}, Payload: []byte{0xFF}})
	assert.NoError(t, err)
	assert.False(t, isDTMF)
}

func TestDTMFDigitString(t *testing.T) {
	assert.Equal(t, "0", DTMFDigit(0).String())
	assert.Equal(t, "*", DTMFStar.String())
	assert.Equal(t, "#", DTMFPound.String())
	assert.Equal(t, "A", DTMFA.String())
	assert.Equal(t, "D", DTMFD.String())
	assert.Equal(t, "flash", DTMFFlash.String())
	assert.Equal(t, "?", DTMFDigit(40).String())
}
