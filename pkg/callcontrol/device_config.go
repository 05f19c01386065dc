package callcontrol

import (
	"context"

	"github.com/arzzra/callcontrol/pkg/provisioning"
)

// FetchDeviceConfig получает конфигурацию устройства name с серверов
// конфигурации и сохраняет её в хранилище со статусом FetchedConfig
// (CachedConfig, если сервера недоступны и ответ взят из кэша).
// Ошибка получения возвращается без изменений.
func (m *Manager) FetchDeviceConfig(ctx context.Context, name string) error {
	log := m.log.WithField("device", name)
	log.Info("получение конфигурации устройства")

	cfg := m.snapshotSettings()
	if len(cfg.configServers) == 0 {
		log.Error("не настроены серверы конфигурации")
		m.metrics.configFetches.WithLabelValues(provisioning.RetrievalNoServersConfigured.String()).Inc()
		return provisioning.RetrievalNoServersConfigured
	}
	if name == "" {
		log.Error("не задано имя устройства")
		m.metrics.configFetches.WithLabelValues(provisioning.RetrievalNoDeviceNameConfigured.String()).Inc()
		return provisioning.RetrievalNoDeviceNameConfigured
	}
	if m.retriever == nil {
		log.Error("не задан источник конфигурации")
		return provisioning.RetrievalCouldNotConnect
	}

	res, err := m.retriever.RetrieveConfig(ctx, provisioning.ConfigRequest{
		Servers:      cfg.configServers,
		AuthString:   cfg.authString,
		CachePath:    cfg.cachePath,
		MultiCluster: cfg.multiCluster,
		DeviceName:   name,
	})
	if err != nil {
		log.WithError(err).Error("не удалось получить конфигурацию устройства")
		m.metrics.configFetches.WithLabelValues("error").Inc()
		return err
	}

	status := FetchedConfig
	if res.FromCache {
		status = CachedConfig
	} else {
		m.mu.Lock()
		m.lastConfigServer = res.Server
		m.mu.Unlock()
	}
	m.metrics.configFetches.WithLabelValues(status.String()).Inc()
	log.WithField("server", res.Server).WithField("status", status).Info("конфигурация устройства получена")

	m.storeConfig(name, status, res.Config)
	return nil
}

// SetDeviceConfig сохраняет конфигурацию, полученную без сети (например
// из собственного кэша приложения). Пустая конфигурация сбрасывает запись
// в NoConfig.
func (m *Manager) SetDeviceConfig(name string, config []byte) {
	status := CachedConfig
	if len(config) == 0 {
		status = NoConfig
	}
	m.log.WithField("device", name).WithField("status", status).Info("конфигурация устройства задана")
	m.storeConfig(name, status, config)
}

func (m *Manager) storeConfig(name string, status ConfigStatus, config []byte) {
	p, created := m.phones.upsert(name)
	p.setConfig(status, config)
	ev := PhoneUpdated
	if created {
		ev = PhoneFound
	}
	m.notifyAvailablePhone(ev, p)
}
