package media

import (
	"fmt"
)

// MediaErrorCode типизированные коды ошибок медиа терминации.
type MediaErrorCode int

const (
	// Ошибки потоков
	ErrorCodeStreamNotFound MediaErrorCode = iota + 1000
	ErrorCodeStreamExists
	ErrorCodeStreamNotConnected
	ErrorCodeStreamKindMismatch

	// Ошибки RTP
	ErrorCodeRTPListenFailed
	ErrorCodeRTPSendFailed

	// Ошибки DTMF
	ErrorCodeDTMFNotEnabled
	ErrorCodeDTMFInvalidDigit

	// Ошибки управления
	ErrorCodeVolumeInvalid
	ErrorCodeTerminationClosed
)

// String возвращает строковое представление кода ошибки
func (code MediaErrorCode) String() string {
	switch code {
	case ErrorCodeStreamNotFound:
		return "StreamNotFound"
	case ErrorCodeStreamExists:
		return "StreamExists"
	case ErrorCodeStreamNotConnected:
		return "StreamNotConnected"
	case ErrorCodeStreamKindMismatch:
		return "StreamKindMismatch"
	case ErrorCodeRTPListenFailed:
		return "RTPListenFailed"
	case ErrorCodeRTPSendFailed:
		return "RTPSendFailed"
	case ErrorCodeDTMFNotEnabled:
		return "DTMFNotEnabled"
	case ErrorCodeDTMFInvalidDigit:
		return "DTMFInvalidDigit"
	case ErrorCodeVolumeInvalid:
		return "VolumeInvalid"
	case ErrorCodeTerminationClosed:
		return "TerminationClosed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// MediaError ошибка медиа терминации с кодом и номером потока.
type MediaError struct {
	Code     MediaErrorCode
	Message  string
	StreamID int
	Wrapped  error
}

// Error реализует интерфейс error, возвращая форматированное сообщение об ошибке.
func (e *MediaError) Error() string {
	msg := fmt.Sprintf("[медиа:%s] поток %d: %s", e.Code, e.StreamID, e.Message)
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap возвращает обернутую ошибку, поддерживая errors.Unwrap.
func (e *MediaError) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, позволяя сравнивать ошибки по коду.
func (e *MediaError) Is(target error) bool {
	if t, ok := target.(*MediaError); ok {
		return e.Code == t.Code
	}
	return false
}

func newMediaError(code MediaErrorCode, streamID int, message string, wrapped error) *MediaError {
	return &MediaError{Code: code, Message: message, StreamID: streamID, Wrapped: wrapped}
}

// Образцы для errors.Is.
var (
	ErrStreamNotFound     = &MediaError{Code: ErrorCodeStreamNotFound, Message: "поток не найден"}
	ErrStreamExists       = &MediaError{Code: ErrorCodeStreamExists, Message: "поток уже открыт"}
	ErrStreamNotConnected = &MediaError{Code: ErrorCodeStreamNotConnected, Message: "удалённый адрес не задан"}
	ErrStreamKind         = &MediaError{Code: ErrorCodeStreamKindMismatch, Message: "неверный тип потока"}
	ErrDTMFNotEnabled     = &MediaError{Code: ErrorCodeDTMFNotEnabled, Message: "telephone-event не согласован"}
	ErrDTMFInvalidDigit   = &MediaError{Code: ErrorCodeDTMFInvalidDigit, Message: "недопустимый код тона"}
	ErrVolumeInvalid      = &MediaError{Code: ErrorCodeVolumeInvalid, Message: "громкость вне диапазона 0-100"}
	ErrClosed             = &MediaError{Code: ErrorCodeTerminationClosed, Message: "терминация закрыта"}
)
