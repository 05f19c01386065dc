package callcontrol

import (
	"errors"
	"fmt"
)

// AuthFailure код результата аутентификации. Значения реализуют error,
// AuthNoError используется только как метка результата в метриках.
type AuthFailure int

const (
	AuthNoError AuthFailure = iota
	AuthNoServersConfigured
	AuthNoCredentialsConfigured
	AuthCouldNotConnect
	AuthServerCertificateRejected
	AuthCredentialsRejected
	AuthResponseEmpty
	AuthResponseInvalid
)

func (f AuthFailure) String() string {
	switch f {
	case AuthNoError:
		return "NoError"
	case AuthNoServersConfigured:
		return "NoServersConfigured"
	case AuthNoCredentialsConfigured:
		return "NoCredentialsConfigured"
	case AuthCouldNotConnect:
		return "CouldNotConnect"
	case AuthServerCertificateRejected:
		return "ServerCertificateRejected"
	case AuthCredentialsRejected:
		return "CredentialsRejected"
	case AuthResponseEmpty:
		return "ResponseEmpty"
	case AuthResponseInvalid:
		return "ResponseInvalid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

func (f AuthFailure) Error() string {
	switch f {
	case AuthNoServersConfigured:
		return "аутентификация: не настроены серверы CCMCIP"
	case AuthNoCredentialsConfigured:
		return "аутентификация: не заданы учётные данные"
	case AuthCouldNotConnect:
		return "аутентификация: не удалось подключиться ни к одному серверу"
	case AuthServerCertificateRejected:
		return "аутентификация: сертификат сервера отклонён"
	case AuthCredentialsRejected:
		return "аутентификация: учётные данные отклонены"
	case AuthResponseEmpty:
		return "аутентификация: пустой ответ сервера"
	case AuthResponseInvalid:
		return "аутентификация: некорректный ответ сервера"
	default:
		return "аутентификация: " + f.String()
	}
}

// Предусловия connect/registerUser.
var (
	ErrAlreadyConnected   = errors.New("устройство уже подключено")
	ErrNoLocalAddress     = errors.New("не задан локальный IP адрес (или задан 127.0.0.1)")
	ErrLineDNNotSupported = errors.New("выбор линии по DN не поддерживается")
	ErrNoDeviceSelected   = errors.New("не удалось выбрать устройство")
	ErrNoDeviceConfig     = errors.New("нет конфигурации устройства")
	ErrNotConnected       = errors.New("устройство не подключено")

	ErrNoEngineFactory = errors.New("не задана фабрика движка сигнализации")
)
