package callcontrol

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/provisioning"
)

// Authenticate получает каталог устройств пользователя с серверов CCMCIP.
//
// Серверы опрашиваются по порядку до первого успеха. Отказ в учётных
// данных переводит подключение в Failed и прекращает перебор, если не
// включён режим нескольких кластеров. При успехе устройства каталога
// сливаются в хранилище (Found для новых, Updated для известных).
// Возвращает nil или AuthFailure.
func (m *Manager) Authenticate(ctx context.Context) error {
	m.log.Info("аутентификация")
	m.setConnectionState(ConnectionRegistering)

	cfg := m.snapshotSettings()
	if len(cfg.provisioningServers) == 0 {
		m.log.Error("аутентификация невозможна: не настроены серверы")
		m.setConnectionState(ConnectionFailed)
		return AuthNoServersConfigured
	}
	if cfg.user == "" {
		m.log.Error("аутентификация невозможна: не заданы учётные данные")
		m.setConnectionState(ConnectionFailed)
		return AuthNoCredentialsConfigured
	}
	if m.fetcher == nil {
		m.log.Error("аутентификация невозможна: не задан клиент каталога")
		m.setConnectionState(ConnectionFailed)
		return AuthCouldNotConnect
	}

	m.setAuthState(AuthInProgress)

	var (
		devices provisioning.DeviceMap
		result  = AuthNoServersConfigured
	)
	for _, server := range cfg.provisioningServers {
		log := m.log.WithField("server", server)

		found, err := m.fetcher.FetchDevices(ctx, server, cfg.user, cfg.password, cfg.certLevel)
		result = classifyDeviceListError(err)
		m.metrics.authAttempts.WithLabelValues(result.String()).Inc()

		if result == AuthNoError {
			log.Info("аутентификация успешна")
			devices = found
			m.mu.Lock()
			m.lastProvisioningServer = server
			m.mu.Unlock()
			break
		}

		log.WithError(err).WithField("result", result).Warn("сервер каталога не аутентифицировал пользователя")
		if result == AuthCredentialsRejected {
			m.setConnectionState(ConnectionFailed)
			if !cfg.multiCluster {
				log.Error("учётные данные отклонены, перебор серверов прекращён")
				break
			}
			log.Debug("учётные данные отклонены, пробуем следующий сервер")
		}
	}

	if result != AuthNoError {
		m.log.WithField("result", result).Error("аутентификация не удалась")
		m.setConnectionState(ConnectionFailed)
		m.setAuthState(AuthFailed)
		return result
	}

	m.mergeDevices(devices)
	m.setAuthState(AuthAuthenticated)
	return nil
}

// mergeDevices обновляет хранилище по каталогу в порядке имён.
func (m *Manager) mergeDevices(devices provisioning.DeviceMap) {
	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		info := devices[name]
		p, created := m.phones.upsert(name)
		p.setDirectoryInfo(info.Description, info.Model)

		ev := PhoneUpdated
		if created {
			ev = PhoneFound
		}
		m.log.WithFields(logrus.Fields{"device": name, "event": ev}).Debug("устройство из каталога")
		m.notifyAvailablePhone(ev, p)
	}
}

// classifyDeviceListError переводит ошибку каталога в AuthFailure.
// Неизвестные ошибки считаются CouldNotConnect.
func classifyDeviceListError(err error) AuthFailure {
	if err == nil {
		return AuthNoError
	}
	code, ok := provisioning.DeviceListCode(err)
	if !ok {
		return AuthCouldNotConnect
	}
	switch code {
	case provisioning.DeviceListTimeout:
		return AuthCouldNotConnect
	case provisioning.DeviceListAuthFailed:
		return AuthCredentialsRejected
	case provisioning.DeviceListEmptyResponse:
		return AuthResponseEmpty
	case provisioning.DeviceListParseFailed:
		return AuthResponseInvalid
	case provisioning.DeviceListCertRejected:
		return AuthServerCertificateRejected
	default:
		return AuthCouldNotConnect
	}
}
