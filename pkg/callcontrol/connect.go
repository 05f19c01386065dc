package callcontrol

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

const loopbackAddress = "127.0.0.1"

// Connect подключается к устройству и запускает сессию сигнализации.
//
// Без preferredDevice устройство выбирается автоматически: если
// аутентификация ещё не выполнялась, а серверы CCMCIP и пользователь
// заданы, сначала выполняется Authenticate, затем берётся первое по имени
// устройство, которое является программным клиентом (или любое, если
// аутентификация не выполнялась). Без конфигурации устройства она
// запрашивается через FetchDeviceConfig.
//
// Если сессия уже есть, возвращает ErrAlreadyConnected и не меняет
// состояние, наблюдатели получают текущее состояние повторно.
// Остальные отказы переводят подключение в Failed.
func (m *Manager) Connect(ctx context.Context, preferredDevice, preferredLineDN string) error {
	log := m.log.WithFields(logrus.Fields{"device": preferredDevice, "line_dn": preferredLineDN})
	log.Info("подключение")

	if m.ActiveDevice() != nil {
		log.Error("подключение отклонено: устройство уже подключено")
		m.reassertConnectionState()
		return ErrAlreadyConnected
	}

	m.setConnectionState(ConnectionRegistering)

	cfg := m.snapshotSettings()
	if !usableLocalAddress(cfg.localIP) {
		log.Error("подключение невозможно: не задан локальный IP адрес")
		m.setConnectionState(ConnectionFailed)
		return ErrNoLocalAddress
	}

	selected := preferredDevice
	if selected == "" {
		if m.AuthenticationStatus() == AuthNotAuthenticated && len(cfg.provisioningServers) > 0 && cfg.user != "" {
			if err := m.Authenticate(ctx); err != nil {
				log.WithError(err).Error("подключение невозможно: аутентификация не удалась")
				m.setConnectionState(ConnectionFailed)
				return err
			}
		}
		selected = m.selectDevice()
	}
	if selected == "" {
		log.Error("подключение невозможно: устройство не выбрано")
		m.setConnectionState(ConnectionFailed)
		return ErrNoDeviceSelected
	}
	log = log.WithField("selected", selected)
	log.Info("выбрано устройство")

	if preferredLineDN != "" {
		log.Error("подключение невозможно: выбор линии по DN не поддерживается")
		m.setConnectionState(ConnectionFailed)
		return ErrLineDNNotSupported
	}

	details, ok := m.phones.get(selected)
	if !ok || details.ConfigStatus() == NoConfig {
		if err := m.FetchDeviceConfig(ctx, selected); err != nil {
			log.WithError(err).Error("подключение невозможно: не удалось получить конфигурацию")
			m.setConnectionState(ConnectionFailed)
			return fmt.Errorf("%w: %w", ErrNoDeviceConfig, err)
		}
		details, ok = m.phones.get(selected)
	}
	if !ok || details.ConfigStatus() == NoConfig {
		log.Error("подключение невозможно: нет конфигурации устройства")
		m.setConnectionState(ConnectionFailed)
		return ErrNoDeviceConfig
	}

	m.mu.Lock()
	m.preferredDevice = selected
	m.preferredLineDN = preferredLineDN
	m.mu.Unlock()

	return m.startDevice(ctx, selected, EngineConfig{
		DeviceName: details.Name(),
		Config:     details.Config(),
		LocalAddr:  cfg.localIP,
		Gateway:    cfg.gateway,
		LogMask:    cfg.logMask,
	})
}

// RegisterUser запускает сессию сигнализации по явно заданным
// параметрам, без каталога и получения конфигурации.
func (m *Manager) RegisterUser(ctx context.Context, device, user, domain, contact string) error {
	log := m.log.WithFields(logrus.Fields{"device": device, "user": user, "domain": domain})
	log.Info("регистрация пользователя")

	if m.ActiveDevice() != nil {
		log.Error("регистрация отклонена: устройство уже подключено")
		m.reassertConnectionState()
		return ErrAlreadyConnected
	}

	m.setConnectionState(ConnectionRegistering)

	cfg := m.snapshotSettings()
	if !usableLocalAddress(cfg.localIP) {
		log.Error("регистрация невозможна: не задан локальный IP адрес")
		m.setConnectionState(ConnectionFailed)
		return ErrNoLocalAddress
	}

	return m.startDevice(ctx, device, EngineConfig{
		DeviceName: device,
		User:       user,
		Domain:     domain,
		Contact:    contact,
		LocalAddr:  cfg.localIP,
		Gateway:    cfg.gateway,
		LogMask:    cfg.logMask,
	})
}

func (m *Manager) startDevice(ctx context.Context, name string, ecfg EngineConfig) error {
	if m.newEngine == nil {
		m.log.Error("не задана фабрика движка сигнализации")
		m.setConnectionState(ConnectionFailed)
		return ErrNoEngineFactory
	}
	engine, err := m.newEngine(ecfg)
	if err != nil {
		m.log.WithError(err).Error("не удалось создать движок сигнализации")
		m.setConnectionState(ConnectionFailed)
		return fmt.Errorf("ошибка создания движка сигнализации: %w", err)
	}

	dev := session.NewDevice(name, engine, session.DeviceOptions{
		Audio:  m.audio,
		Video:  m.video,
		Logger: m.log,
	})
	dev.SetObserver(relay{m: m})

	m.mu.Lock()
	m.device = dev
	m.mu.Unlock()

	if err := dev.Start(ctx); err != nil {
		dev.SetObserver(nil)
		m.mu.Lock()
		m.device = nil
		m.mu.Unlock()
		m.setConnectionState(ConnectionFailed)
		return err
	}

	m.setConnectionState(ConnectionReady)
	return nil
}

// Disconnect останавливает сессию устройства и возвращает подключение в
// Idle. Без сессии ничего не делает.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	dev := m.device
	m.device = nil
	m.activeCalls = make(map[session.CallHandle]struct{})
	m.mu.Unlock()

	if dev == nil {
		return nil
	}
	m.log.WithField("device", dev.Name()).Info("отключение")
	m.metrics.activeCalls.Set(0)

	dev.SetObserver(nil)
	err := dev.Stop(ctx)
	if err != nil {
		m.log.WithError(err).Warn("ошибка остановки сессии устройства")
	}
	m.setConnectionState(ConnectionIdle)
	return err
}

// Close освобождает менеджер.
func (m *Manager) Close(ctx context.Context) error {
	return m.Disconnect(ctx)
}

// selectDevice первое по имени устройство, подходящее для управления.
func (m *Manager) selectDevice() string {
	authenticated := m.AuthenticationStatus() == AuthAuthenticated
	for _, p := range m.phones.list() {
		if p.IsSoftPhone() || !authenticated {
			return p.Name()
		}
	}
	return ""
}

func usableLocalAddress(ip string) bool {
	return ip != "" && ip != loopbackAddress
}

// CreateCall новый вызов на линии активного устройства.
func (m *Manager) CreateCall(line session.LineID) (*session.Call, error) {
	dev := m.ActiveDevice()
	if dev == nil {
		return nil, ErrNotConnected
	}
	return dev.CreateCall(line)
}
