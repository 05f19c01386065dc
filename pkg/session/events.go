package session

// DeviceEvent события уровня устройства.
type DeviceEvent int

const (
	DeviceEventConfigChanged DeviceEvent = iota
	DeviceEventState
	DeviceEventIdleSet
	DeviceEventMWILamp
	DeviceEventNotifyPrompt
	DeviceEventMWI
	DeviceEventServerStatus
)

func (e DeviceEvent) String() string {
	switch e {
	case DeviceEventConfigChanged:
		return "DEVICE_CONFIG_CHANGED"
	case DeviceEventState:
		return "DEVICE_STATE"
	case DeviceEventIdleSet:
		return "DEVICE_IDLE_SET"
	case DeviceEventMWILamp:
		return "DEVICE_MWI_LAMP"
	case DeviceEventNotifyPrompt:
		return "DEVICE_NOTIFY_PROMPT"
	case DeviceEventMWI:
		return "DEVICE_MWI"
	case DeviceEventServerStatus:
		return "DEVICE_SERVER_STATUS"
	default:
		return "DEVICE_UNKNOWN"
	}
}

// FeatureEvent события функциональных кнопок устройства (BLF, speed dial).
type FeatureEvent int

const (
	FeatureEventConfigChanged FeatureEvent = iota
	FeatureEventBLF
	FeatureEventState
)

func (e FeatureEvent) String() string {
	switch e {
	case FeatureEventConfigChanged:
		return "FEATURE_CONFIG_CHANGED"
	case FeatureEventBLF:
		return "FEATURE_BLF"
	case FeatureEventState:
		return "FEATURE_STATE"
	default:
		return "FEATURE_UNKNOWN"
	}
}

// LineEvent события линии.
type LineEvent int

const (
	LineEventConfigChanged LineEvent = iota
	LineEventRegState
	LineEventCapsetChanged
	LineEventCFwdAll
	LineEventMWI
)

func (e LineEvent) String() string {
	switch e {
	case LineEventConfigChanged:
		return "LINE_CONFIG_CHANGED"
	case LineEventRegState:
		return "LINE_REG_STATE"
	case LineEventCapsetChanged:
		return "LINE_CAPSET_CHANGED"
	case LineEventCFwdAll:
		return "LINE_CFWDALL"
	case LineEventMWI:
		return "LINE_MWI"
	default:
		return "LINE_UNKNOWN"
	}
}

// CallEvent события вызова.
type CallEvent int

const (
	CallEventCreated CallEvent = iota
	CallEventState
	CallEventCallInfo
	CallEventAttr
	CallEventStatus
	CallEventSelect
	CallEventLastDigitDeleted
	CallEventXferOrConfCancelled
	CallEventCapability
	CallEventVideoAvail
	CallEventVideoOffered
	CallEventReceivedInfo
)

var callEventNames = map[CallEvent]string{
	CallEventCreated:             "CALL_CREATED",
	CallEventState:               "CALL_STATE",
	CallEventCallInfo:            "CALL_CALLINFO",
	CallEventAttr:                "CALL_ATTR",
	CallEventStatus:              "CALL_STATUS",
	CallEventSelect:              "CALL_SELECT",
	CallEventLastDigitDeleted:    "CALL_LAST_DIGIT_DELETED",
	CallEventXferOrConfCancelled: "CALL_XFR_OR_CNF_CANCELLED",
	CallEventCapability:          "CALL_CAPABILITY",
	CallEventVideoAvail:          "CALL_VIDEO_AVAIL",
	CallEventVideoOffered:        "CALL_VIDEO_OFFERED",
	CallEventReceivedInfo:        "CALL_RECEIVED_INFO",
}

func (e CallEvent) String() string {
	if name, ok := callEventNames[e]; ok {
		return name
	}
	return "CALL_UNKNOWN"
}

// CallState состояние вызова в движке сигнализации.
type CallState int

const (
	CallStateOffHook CallState = iota
	CallStateOnHook
	CallStateDialing
	CallStateProceed
	CallStateRingOut
	CallStateRingIn
	CallStateConnected
	CallStateBusy
	CallStateReorder
	CallStateHold
	CallStateRemoteHold
	CallStateResume
	CallStateConference
	CallStateRemoteInUse
)

var callStateNames = map[CallState]string{
	CallStateOffHook:     "OFFHOOK",
	CallStateOnHook:      "ONHOOK",
	CallStateDialing:     "DIALING",
	CallStateProceed:     "PROCEED",
	CallStateRingOut:     "RINGOUT",
	CallStateRingIn:      "RINGIN",
	CallStateConnected:   "CONNECTED",
	CallStateBusy:        "BUSY",
	CallStateReorder:     "REORDER",
	CallStateHold:        "HOLD",
	CallStateRemoteHold:  "REMHOLD",
	CallStateResume:      "RESUME",
	CallStateConference:  "CONFERENCE",
	CallStateRemoteInUse: "REMINUSE",
}

func (s CallState) String() string {
	if name, ok := callStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// CallDirection кто инициировал вызов.
type CallDirection int

const (
	CallDirectionOutgoing CallDirection = iota
	CallDirectionIncoming
)

func (d CallDirection) String() string {
	if d == CallDirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// ServiceState состояние обслуживания устройства.
type ServiceState int

const (
	ServiceStateUnknown ServiceState = iota
	ServiceStateInService
	ServiceStateOutOfService
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStateInService:
		return "IN_SERVICE"
	case ServiceStateOutOfService:
		return "OUT_OF_SERVICE"
	default:
		return "UNKNOWN"
	}
}

// DeviceInfo снимок состояния устройства.
type DeviceInfo struct {
	Name         string       `json:"name"`
	ServiceState ServiceState `json:"service_state"`
	Lines        []LineID     `json:"lines,omitempty"`
	Server       string       `json:"server,omitempty"`
	MWILamp      bool         `json:"mwi_lamp"`
	Prompt       string       `json:"prompt,omitempty"`
}

// FeatureInfo описание функциональной кнопки устройства.
type FeatureInfo struct {
	ID        int    `json:"id"`
	Label     string `json:"label"`
	SpeedDial string `json:"speed_dial,omitempty"`
	BLFState  string `json:"blf_state,omitempty"`
}

// LineInfo снимок состояния линии.
type LineInfo struct {
	ID            LineID `json:"id"`
	Name          string `json:"name"`
	Number        string `json:"number"`
	Registered    bool   `json:"registered"`
	CFwdAll       bool   `json:"cfwd_all"`
	CFwdAllTarget string `json:"cfwd_all_target,omitempty"`
	MWI           bool   `json:"mwi"`
}

// CallInfo снимок вызова: данные движка плюс медиа состояние,
// которым владеет сам Call.
type CallInfo struct {
	Handle             CallHandle     `json:"handle"`
	Line               LineID         `json:"line"`
	State              CallState      `json:"state"`
	Direction          CallDirection  `json:"direction"`
	CallingPartyName   string         `json:"calling_party_name,omitempty"`
	CallingPartyNumber string         `json:"calling_party_number,omitempty"`
	CalledPartyName    string         `json:"called_party_name,omitempty"`
	CalledPartyNumber  string         `json:"called_party_number,omitempty"`
	DialedDigits       string         `json:"dialed_digits,omitempty"`
	Status             string         `json:"status,omitempty"`
	VideoDirection     MediaDirection `json:"video_direction"`
	Selected           bool           `json:"selected"`
	Capabilities       []string       `json:"capabilities,omitempty"`
	InfoPackage        string         `json:"info_package,omitempty"`
	InfoBody           string         `json:"info_body,omitempty"`

	Media *MediaState `json:"media,omitempty"`
}

// Observer получатель событий сессии устройства. Менеджер вызовов
// реализует этот интерфейс и ретранслирует события своим наблюдателям.
type Observer interface {
	OnDeviceEvent(ev DeviceEvent, dev *Device, info DeviceInfo)
	OnFeatureEvent(ev FeatureEvent, dev *Device, info FeatureInfo)
	OnLineEvent(ev LineEvent, dev *Device, info LineInfo)
	OnCallEvent(ev CallEvent, call *Call, info CallInfo)
}
