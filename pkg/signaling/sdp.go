package signaling

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/callcontrol/pkg/session"
)

const (
	payloadPCMU        uint8 = 0
	payloadPCMA        uint8 = 8
	payloadDTMF        uint8 = 101
	payloadH264        uint8 = 96
	sdpSessionName           = "softphone"
	videoCodecName           = "H264"
	videoClockRate           = 90000
	telephoneEvent           = "telephone-event"
	telephoneEventFmtp       = "0-16"
)

var (
	ErrNoAudioMedia      = errors.New("в SDP нет аудио потока")
	ErrIncompatibleCodec = errors.New("нет общего аудио кодека")
)

// audioCodecs поддерживаемые кодеки в порядке предпочтения.
var audioCodecs = []struct {
	pt   uint8
	name string
}{
	{payloadPCMU, "PCMU"},
	{payloadPCMA, "PCMA"},
}

// localMedia описание собственной стороны для offer/answer.
type localMedia struct {
	host      string
	sessionID uint64
	version   uint64
	audioPort int
	audioDir  session.MediaDirection
	// audioPT при ответе выбранный кодек, при offer не используется
	audioPT   uint8
	dtmfPT    int
	videoPort int
	videoDir  session.MediaDirection
	videoPT   uint8
	// videoOffered в offer был видео поток: ответ обязан его содержать,
	// с нулевым портом при отказе
	videoOffered bool
}

// remoteStream согласованные параметры одного потока удалённой стороны.
type remoteStream struct {
	addr        *net.UDPAddr
	payloadType uint8
	dtmfType    int
	dir         session.MediaDirection
}

// held удалённая сторона перестала принимать медиа.
func (r *remoteStream) held() bool {
	if r == nil {
		return false
	}
	return r.dir == session.DirectionSendOnly || r.dir == session.DirectionInactive || r.addr.IP.IsUnspecified()
}

type remoteMedia struct {
	audio *remoteStream
	video *remoteStream
}

// buildOffer собирает SDP offer: PCMU, PCMA и telephone-event в аудио,
// H264 в видео при ненулевом videoPort.
func buildOffer(l localMedia) ([]byte, error) {
	formats := make([]string, 0, len(audioCodecs)+1)
	for _, c := range audioCodecs {
		formats = append(formats, strconv.Itoa(int(c.pt)))
	}
	attrs := []sdp.Attribute{}
	for _, c := range audioCodecs {
		attrs = append(attrs, sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/8000", c.pt, c.name)))
	}
	formats = append(formats, strconv.Itoa(int(payloadDTMF)))
	attrs = append(attrs, dtmfAttributes(int(payloadDTMF))...)
	attrs = append(attrs, sdp.NewAttribute("ptime", "20"), directionAttribute(l.audioDir))

	desc := newSessionDescription(l)
	desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: l.audioPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		Attributes: attrs,
	})
	if l.videoPort != 0 {
		desc.MediaDescriptions = append(desc.MediaDescriptions, videoDescription(l.videoPort, payloadH264, l.videoDir))
	}
	return desc.Marshal()
}

// buildAnswer собирает ответ с одним выбранным кодеком.
func buildAnswer(l localMedia) ([]byte, error) {
	formats := []string{strconv.Itoa(int(l.audioPT))}
	attrs := []sdp.Attribute{sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/8000", l.audioPT, codecName(l.audioPT)))}
	if l.dtmfPT >= 0 {
		formats = append(formats, strconv.Itoa(l.dtmfPT))
		attrs = append(attrs, dtmfAttributes(l.dtmfPT)...)
	}
	attrs = append(attrs, sdp.NewAttribute("ptime", "20"), directionAttribute(l.audioDir))

	desc := newSessionDescription(l)
	desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: l.audioPort},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		Attributes: attrs,
	})
	if l.videoPort != 0 || l.videoOffered {
		desc.MediaDescriptions = append(desc.MediaDescriptions, videoDescription(l.videoPort, l.videoPT, l.videoDir))
	}
	return desc.Marshal()
}

func newSessionDescription(l localMedia) *sdp.SessionDescription {
	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      l.sessionID,
			SessionVersion: l.version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: l.host,
		},
		SessionName: sdp.SessionName(sdpSessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: l.host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}
}

func videoDescription(port int, pt uint8, dir session.MediaDirection) *sdp.MediaDescription {
	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "video",
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(int(pt))},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/%d", pt, videoCodecName, videoClockRate)),
			sdp.NewAttribute("fmtp", fmt.Sprintf("%d packetization-mode=1", pt)),
			directionAttribute(dir),
		},
	}
}

func dtmfAttributes(pt int) []sdp.Attribute {
	return []sdp.Attribute{
		sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/8000", pt, telephoneEvent)),
		sdp.NewAttribute("fmtp", fmt.Sprintf("%d %s", pt, telephoneEventFmtp)),
	}
}

func directionAttribute(dir session.MediaDirection) sdp.Attribute {
	return sdp.NewPropertyAttribute(dir.String())
}

func codecName(pt uint8) string {
	for _, c := range audioCodecs {
		if c.pt == pt {
			return c.name
		}
	}
	return "PCMU"
}

// parseRemote разбирает SDP удалённой стороны. Кодек выбирается по
// порядку форматов удалённой стороны среди поддерживаемых.
func parseRemote(body []byte) (remoteMedia, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return remoteMedia{}, fmt.Errorf("ошибка разбора SDP: %w", err)
	}

	var out remoteMedia
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			if out.audio != nil {
				continue
			}
			st, err := parseStream(&desc, md, false)
			if err != nil {
				return remoteMedia{}, err
			}
			out.audio = st
		case "video":
			if out.video != nil || md.MediaName.Port.Value == 0 {
				continue
			}
			st, err := parseStream(&desc, md, true)
			if err != nil {
				continue
			}
			out.video = st
		}
	}
	if out.audio == nil {
		return remoteMedia{}, ErrNoAudioMedia
	}
	return out, nil
}

func parseStream(desc *sdp.SessionDescription, md *sdp.MediaDescription, video bool) (*remoteStream, error) {
	conn := md.ConnectionInformation
	if conn == nil {
		conn = desc.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return nil, errors.New("в SDP нет адреса соединения")
	}
	ip := net.ParseIP(conn.Address.Address)
	if ip == nil {
		addrs, err := net.LookupIP(conn.Address.Address)
		if err != nil || len(addrs) == 0 {
			return nil, fmt.Errorf("некорректный адрес в SDP: %s", conn.Address.Address)
		}
		ip = addrs[0]
	}

	rtpmap := make(map[string]string)
	for _, attr := range md.Attributes {
		if attr.Key == "rtpmap" {
			parts := strings.SplitN(attr.Value, " ", 2)
			if len(parts) == 2 {
				rtpmap[parts[0]] = strings.ToUpper(parts[1])
			}
		}
	}

	st := &remoteStream{
		addr:     &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value},
		dtmfType: -1,
		dir:      mediaDirection(md),
	}
	selected := false
	for _, format := range md.MediaName.Formats {
		pt, err := strconv.Atoi(format)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		name := rtpmap[format]
		switch {
		case strings.HasPrefix(name, strings.ToUpper(telephoneEvent)+"/"):
			if st.dtmfType < 0 {
				st.dtmfType = pt
			}
		case selected:
		case video && strings.HasPrefix(name, videoCodecName+"/"):
			st.payloadType, selected = uint8(pt), true
		case !video && supportedAudio(uint8(pt), name):
			st.payloadType, selected = uint8(pt), true
		}
	}
	if !selected {
		return nil, ErrIncompatibleCodec
	}
	return st, nil
}

func supportedAudio(pt uint8, rtpmap string) bool {
	for _, c := range audioCodecs {
		if rtpmap == "" && c.pt == pt {
			return true
		}
		if strings.HasPrefix(rtpmap, c.name+"/8000") {
			return true
		}
	}
	return false
}

func mediaDirection(md *sdp.MediaDescription) session.MediaDirection {
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "sendonly":
			return session.DirectionSendOnly
		case "recvonly":
			return session.DirectionRecvOnly
		case "inactive":
			return session.DirectionInactive
		case "sendrecv":
			return session.DirectionSendRecv
		}
	}
	return session.DirectionSendRecv
}

// answerDirection направление ответа на offer с направлением remote
// при желаемом локальном local.
func answerDirection(local, remote session.MediaDirection) session.MediaDirection {
	send := canSend(local) && canRecv(remote)
	recv := canRecv(local) && canSend(remote)
	switch {
	case send && recv:
		return session.DirectionSendRecv
	case send:
		return session.DirectionSendOnly
	case recv:
		return session.DirectionRecvOnly
	default:
		return session.DirectionInactive
	}
}

func canSend(d session.MediaDirection) bool {
	return d == session.DirectionSendRecv || d == session.DirectionSendOnly
}

func canRecv(d session.MediaDirection) bool {
	return d == session.DirectionSendRecv || d == session.DirectionRecvOnly
}
