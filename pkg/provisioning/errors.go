package provisioning

import (
	"errors"
	"fmt"
)

// DeviceListErrorCode классы отказа получения списка устройств.
type DeviceListErrorCode int

const (
	// DeviceListTimeout сервер недоступен, не ответил вовремя или
	// вернул неожиданный HTTP статус.
	DeviceListTimeout DeviceListErrorCode = iota + 100
	DeviceListAuthFailed
	DeviceListEmptyResponse
	DeviceListParseFailed
	// DeviceListCertRejected сертификат сервера не прошёл проверку.
	DeviceListCertRejected
)

func (c DeviceListErrorCode) String() string {
	switch c {
	case DeviceListTimeout:
		return "Timeout"
	case DeviceListAuthFailed:
		return "AuthFailed"
	case DeviceListEmptyResponse:
		return "EmptyResponse"
	case DeviceListParseFailed:
		return "ParseFailed"
	case DeviceListCertRejected:
		return "CertRejected"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// DeviceListError ошибка получения списка устройств с сервера.
type DeviceListError struct {
	Code    DeviceListErrorCode
	Server  string
	Message string
	Wrapped error
}

func (e *DeviceListError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Server != "" {
		msg += " (сервер " + e.Server + ")"
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *DeviceListError) Unwrap() error { return e.Wrapped }

// Is сравнивает по коду, что позволяет проверять errors.Is(err, ErrDeviceListAuthFailed).
func (e *DeviceListError) Is(target error) bool {
	t, ok := target.(*DeviceListError)
	return ok && t.Code == e.Code
}

var (
	ErrDeviceListTimeout      = &DeviceListError{Code: DeviceListTimeout, Message: "сервер недоступен"}
	ErrDeviceListAuthFailed   = &DeviceListError{Code: DeviceListAuthFailed, Message: "учётные данные отклонены"}
	ErrDeviceListEmpty        = &DeviceListError{Code: DeviceListEmptyResponse, Message: "пустой ответ"}
	ErrDeviceListParseFailed  = &DeviceListError{Code: DeviceListParseFailed, Message: "некорректный XML"}
	ErrDeviceListCertRejected = &DeviceListError{Code: DeviceListCertRejected, Message: "сертификат сервера отклонён"}
)

func newDeviceListError(code DeviceListErrorCode, server, message string, wrapped error) *DeviceListError {
	return &DeviceListError{Code: code, Server: server, Message: message, Wrapped: wrapped}
}

// DeviceListCode извлекает код из цепочки ошибок.
func DeviceListCode(err error) (DeviceListErrorCode, bool) {
	var dle *DeviceListError
	if errors.As(err, &dle) {
		return dle.Code, true
	}
	return 0, false
}

// RetrievalFailure коды отказа получения конфигурации устройства.
// Значения сами реализуют error и возвращаются без обёртки.
type RetrievalFailure int

const (
	RetrievalNoServersConfigured RetrievalFailure = iota + 1
	RetrievalNoDeviceNameConfigured
	RetrievalCouldNotConnect
	RetrievalFileNotFound
	RetrievalFileEmpty
	RetrievalFileInvalid
)

func (f RetrievalFailure) String() string {
	switch f {
	case RetrievalNoServersConfigured:
		return "NoServersConfigured"
	case RetrievalNoDeviceNameConfigured:
		return "NoDeviceNameConfigured"
	case RetrievalCouldNotConnect:
		return "CouldNotConnect"
	case RetrievalFileNotFound:
		return "FileNotFound"
	case RetrievalFileEmpty:
		return "FileEmpty"
	case RetrievalFileInvalid:
		return "FileInvalid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

func (f RetrievalFailure) Error() string {
	switch f {
	case RetrievalNoServersConfigured:
		return "не настроены серверы конфигурации"
	case RetrievalNoDeviceNameConfigured:
		return "не задано имя устройства"
	case RetrievalCouldNotConnect:
		return "не удалось получить конфигурацию ни с одного сервера"
	case RetrievalFileNotFound:
		return "файл конфигурации не найден"
	case RetrievalFileEmpty:
		return "файл конфигурации пуст"
	case RetrievalFileInvalid:
		return "файл конфигурации повреждён"
	default:
		return "ошибка получения конфигурации: " + f.String()
	}
}
