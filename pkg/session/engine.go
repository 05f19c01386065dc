package session

import "context"

// CallHandle непрозрачный идентификатор одного плеча вызова,
// выдаваемый движком сигнализации. Значение 0 не используется.
type CallHandle uint32

// LineID номер линии устройства, начиная с 1.
type LineID int

// MediaDirection направление медиа, которое запрашивается у движка
// при исходящем вызове, ответе, возобновлении и т.д.
type MediaDirection int

const (
	DirectionInactive MediaDirection = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionSendRecv
)

func (d MediaDirection) String() string {
	switch d {
	case DirectionInactive:
		return "inactive"
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionSendRecv:
		return "sendrecv"
	default:
		return "unknown"
	}
}

// HoldReason причина постановки вызова на удержание.
type HoldReason int

const (
	HoldReasonNone HoldReason = iota
	HoldReasonTransfer
	HoldReasonConference
	HoldReasonSwap
	HoldReasonInternal
)

func (r HoldReason) String() string {
	switch r {
	case HoldReasonNone:
		return "none"
	case HoldReasonTransfer:
		return "transfer"
	case HoldReasonConference:
		return "conference"
	case HoldReasonSwap:
		return "swap"
	case HoldReasonInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// CallController операции над вызовом, адресуемые по CallHandle.
//
// Все методы неблокирующие: движок ставит операцию в свою внутреннюю
// очередь и сообщает результат постановки. Фактическое состояние вызова
// приходит позже через Listener.OnCallEvent.
type CallController interface {
	Originate(h CallHandle, dir MediaDirection, digits string) error
	OriginateP2P(h CallHandle, dir MediaDirection, digits, ip string) error
	Answer(h CallHandle, dir MediaDirection) error
	Hold(h CallHandle, reason HoldReason) error
	Resume(h CallHandle, dir MediaDirection) error
	End(h CallHandle) error
	SendDigit(h CallHandle, digit rune) error
	Backspace(h CallHandle) error
	Redial(h CallHandle, dir MediaDirection) error
	InitiateCallForwardAll(h CallHandle) error
	EndConsultativeCall(h CallHandle) error
	ConferenceStart(h CallHandle, dir MediaDirection) error
	ConferenceComplete(h, other CallHandle, dir MediaDirection) error
	TransferStart(h CallHandle, dir MediaDirection) error
	TransferComplete(h, other CallHandle, dir MediaDirection) error
	CancelTransferOrConference(h CallHandle) error
	DirectTransfer(h, target CallHandle) error
	JoinAcrossLine(h, target CallHandle) error
	BLFCallPickup(h CallHandle, dir MediaDirection, speedDial string) error
	Select(h CallHandle) error
	UpdateVideoMediaCap(h CallHandle, dir MediaDirection) error
	SendInfo(h CallHandle, infoPackage, infoType, body string) error
	SetAudioMute(h CallHandle, mute bool) error
	SetVideoMute(h CallHandle, mute bool) error

	// CallInfo возвращает снимок состояния вызова в движке.
	CallInfo(h CallHandle) (CallInfo, error)
}

// Engine движок сигнализации (SIP стек), которым владеет сессия устройства.
type Engine interface {
	CallController

	// Start запускает движок и регистрирует l как единственного
	// получателя событий. Возвращает ошибку, если регистрация не удалась.
	Start(ctx context.Context, l Listener) error

	// Stop останавливает движок и отсоединяет слушателя.
	Stop(ctx context.Context) error

	// CreateCall выделяет новый handle вызова на линии.
	CreateCall(line LineID) (CallHandle, error)

	DeviceInfo() DeviceInfo
	SetLocalAddress(ip, gateway string)
}

// Listener получает события движка. Вызовы могут приходить из
// внутренних горутин движка и медиа слоя.
type Listener interface {
	OnDeviceEvent(ev DeviceEvent, info DeviceInfo)
	OnFeatureEvent(ev FeatureEvent, info FeatureInfo)
	OnLineEvent(ev LineEvent, info LineInfo)
	OnCallEvent(ev CallEvent, h CallHandle, info CallInfo)

	// OnStreamAdded/OnStreamRemoved приходят из контекста медиа движка
	// при появлении и исчезновении медиа потока вызова.
	OnStreamAdded(h CallHandle, streamID int, isVideo bool)
	OnStreamRemoved(h CallHandle, streamID int)
}
