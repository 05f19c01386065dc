package signaling

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callcontrol/pkg/session"
)

const remoteOffer = "v=0\r\n" +
	"o=- 100 1 IN IP4 192.168.1.20\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.168.1.20\r\n" +
	"t=0 0\r\n" +
	"m=audio 20000 RTP/AVP 18 8 0 110\r\n" +
	"a=rtpmap:18 G729/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:110 telephone-event/8000\r\n" +
	"a=fmtp:110 0-15\r\n" +
	"a=sendrecv\r\n" +
	"m=video 20002 RTP/AVP 97\r\n" +
	"a=rtpmap:97 H264/90000\r\n" +
	"a=recvonly\r\n"

func TestBuildOfferRoundTrip(t *testing.T) {
	body, err := buildOffer(localMedia{
		host:      "10.0.0.5",
		sessionID: 7,
		version:   1,
		audioPort: 4000,
		audioDir:  session.DirectionSendRecv,
		videoPort: 4002,
		videoDir:  session.DirectionSendRecv,
	})
	require.NoError(t, err)

	var desc sdp.SessionDescription
	require.NoError(t, desc.Unmarshal(body))
	require.Len(t, desc.MediaDescriptions, 2)
	audio := desc.MediaDescriptions[0]
	assert.Equal(t, "audio", audio.MediaName.Media)
	assert.Equal(t, []string{"0", "8", "101"}, audio.MediaName.Formats)

	remote, err := parseRemote(body)
	require.NoError(t, err)
	require.NotNil(t, remote.audio)
	assert.Equal(t, "10.0.0.5", remote.audio.addr.IP.String())
	assert.Equal(t, 4000, remote.audio.addr.Port)
	assert.Equal(t, payloadPCMU, remote.audio.payloadType)
	assert.Equal(t, int(payloadDTMF), remote.audio.dtmfType)
	require.NotNil(t, remote.video)
	assert.Equal(t, payloadH264, remote.video.payloadType)
	assert.Equal(t, 4002, remote.video.addr.Port)
}

func TestBuildOfferWithoutVideo(t *testing.T) {
	body, err := buildOffer(localMedia{host: "10.0.0.5", audioPort: 4000, audioDir: session.DirectionSendOnly})
	require.NoError(t, err)

	remote, err := parseRemote(body)
	require.NoError(t, err)
	assert.Nil(t, remote.video)
	assert.Equal(t, session.DirectionSendOnly, remote.audio.dir)
	assert.True(t, remote.audio.held())
}

func TestParseRemoteSelectsFirstSupportedCodec(t *testing.T) {
	remote, err := parseRemote([]byte(remoteOffer))
	require.NoError(t, err)

	assert.Equal(t, payloadPCMA, remote.audio.payloadType)
	assert.Equal(t, 110, remote.audio.dtmfType)
	assert.Equal(t, 20000, remote.audio.addr.Port)
	assert.False(t, remote.audio.held())
	require.NotNil(t, remote.video)
	assert.Equal(t, uint8(97), remote.video.payloadType)
	assert.Equal(t, session.DirectionRecvOnly, remote.video.dir)
}

func TestParseRemoteErrors(t *testing.T) {
	noAudio := "v=0\r\no=- 1 1 IN IP4 1.2.3.4\r\ns=-\r\nc=IN IP4 1.2.3.4\r\nt=0 0\r\n" +
		"m=video 5000 RTP/AVP 96\r\na=rtpmap:96 H264/90000\r\n"
	_, err := parseRemote([]byte(noAudio))
	assert.ErrorIs(t, err, ErrNoAudioMedia)

	g729Only := "v=0\r\no=- 1 1 IN IP4 1.2.3.4\r\ns=-\r\nc=IN IP4 1.2.3.4\r\nt=0 0\r\n" +
		"m=audio 5000 RTP/AVP 18\r\na=rtpmap:18 G729/8000\r\n"
	_, err = parseRemote([]byte(g729Only))
	assert.ErrorIs(t, err, ErrIncompatibleCodec)

	_, err = parseRemote([]byte("not sdp"))
	assert.Error(t, err)
}

func TestParseRemoteHeldByZeroAddress(t *testing.T) {
	held := "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nc=IN IP4 0.0.0.0\r\nt=0 0\r\n" +
		"m=audio 5000 RTP/AVP 0\r\n"
	remote, err := parseRemote([]byte(held))
	require.NoError(t, err)
	assert.True(t, remote.audio.held())
	assert.Equal(t, payloadPCMU, remote.audio.payloadType)
	assert.Equal(t, -1, remote.audio.dtmfType)
}

func TestBuildAnswerDeclinesVideo(t *testing.T) {
	body, err := buildAnswer(localMedia{
		host:         "10.0.0.5",
		audioPort:    4000,
		audioPT:      payloadPCMA,
		audioDir:     session.DirectionSendRecv,
		dtmfPT:       110,
		videoOffered: true,
		videoPT:      97,
		videoDir:     session.DirectionInactive,
	})
	require.NoError(t, err)

	var desc sdp.SessionDescription
	require.NoError(t, desc.Unmarshal(body))
	require.Len(t, desc.MediaDescriptions, 2)
	assert.Equal(t, []string{"8", "110"}, desc.MediaDescriptions[0].MediaName.Formats)
	assert.Equal(t, 0, desc.MediaDescriptions[1].MediaName.Port.Value)

	remote, err := parseRemote(body)
	require.NoError(t, err)
	assert.Nil(t, remote.video)
	assert.Equal(t, payloadPCMA, remote.audio.payloadType)
}

func TestAnswerDirection(t *testing.T) {
	tests := []struct {
		local, remote, want session.MediaDirection
	}{
		{session.DirectionSendRecv, session.DirectionSendRecv, session.DirectionSendRecv},
		{session.DirectionSendRecv, session.DirectionSendOnly, session.DirectionRecvOnly},
		{session.DirectionSendRecv, session.DirectionRecvOnly, session.DirectionSendOnly},
		{session.DirectionSendRecv, session.DirectionInactive, session.DirectionInactive},
		{session.DirectionSendOnly, session.DirectionSendRecv, session.DirectionSendOnly},
		{session.DirectionRecvOnly, session.DirectionRecvOnly, session.DirectionInactive},
		{session.DirectionInactive, session.DirectionSendRecv, session.DirectionInactive},
	}
	for _, tt := range tests {
		t.Run(tt.local.String()+"_"+tt.remote.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, answerDirection(tt.local, tt.remote))
		})
	}
}
