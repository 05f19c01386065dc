package callcontrol

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/provisioning"
	"github.com/arzzra/callcontrol/pkg/session"
)

// DeviceListFetcher получает каталог устройств пользователя с сервера
// CCMCIP. Ошибки классифицируются по provisioning.DeviceListError.
type DeviceListFetcher interface {
	FetchDevices(ctx context.Context, server, user, password string, level provisioning.CertLevel) (provisioning.DeviceMap, error)
}

// ConfigRetriever получает конфигурацию устройства. Ошибки возвращаются
// менеджером без изменений.
type ConfigRetriever interface {
	RetrieveConfig(ctx context.Context, req provisioning.ConfigRequest) (provisioning.ConfigResult, error)
}

// EngineConfig параметры движка сигнализации для одного устройства.
// Для connect заполнены DeviceName и Config, для registerUser
// User, Domain и Contact.
type EngineConfig struct {
	DeviceName string
	Config     []byte
	User       string
	Domain     string
	Contact    string
	LocalAddr  string
	Gateway    string
	LogMask    int
}

// EngineFactory создаёт движок сигнализации.
type EngineFactory func(cfg EngineConfig) (session.Engine, error)

// Options зависимости менеджера.
type Options struct {
	DeviceListFetcher DeviceListFetcher
	ConfigRetriever   ConfigRetriever
	EngineFactory     EngineFactory
	Audio             session.AudioTermination
	Video             session.VideoTermination
	Logger            *logrus.Entry
	// Registerer для метрик. По умолчанию собственный реестр менеджера.
	Registerer prometheus.Registerer
}

type settings struct {
	user                string
	password            string
	certLevel           provisioning.CertLevel
	provisioningServers []string
	configServers       []string
	multiCluster        bool
	logMask             int
	authString          string
	cachePath           string
	localIP             string
	gateway             string
}

// Manager менеджер управления вызовами: жизненный цикл подключения к
// устройству, аутентификация, хранилище устройств и рассылка событий.
//
// Connect, RegisterUser, Authenticate и FetchDeviceConfig не
// предназначены для параллельного вызова друг с другом: вызывающая
// сторона держит не более одной попытки подключения одновременно.
type Manager struct {
	log       *logrus.Entry
	fetcher   DeviceListFetcher
	retriever ConfigRetriever
	newEngine EngineFactory
	audio     session.AudioTermination
	video     session.VideoTermination
	metrics   *metrics
	registry  *prometheus.Registry

	conn   *fsm.FSM
	phones *phoneStore

	callObservers observerSet[session.Observer]
	connObservers observerSet[ConnectionObserver]

	mu                     sync.Mutex
	cfg                    settings
	authState              AuthenticationState
	lastProvisioningServer string
	lastConfigServer       string
	preferredDevice        string
	preferredLineDN        string
	device                 *session.Device
	activeCalls            map[session.CallHandle]struct{}
}

// NewManager создаёт менеджер в состоянии Idle.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{
		log:         log.WithField("component", "CallControlManager"),
		fetcher:     opts.DeviceListFetcher,
		retriever:   opts.ConfigRetriever,
		newEngine:   opts.EngineFactory,
		audio:       opts.Audio,
		video:       opts.Video,
		phones:      newPhoneStore(),
		activeCalls: make(map[session.CallHandle]struct{}),
	}
	reg := opts.Registerer
	if reg == nil {
		m.registry = prometheus.NewRegistry()
		reg = m.registry
	}
	m.metrics = newMetrics(reg)
	m.conn = newConnectionFSM(func(from, to ConnectionState) {
		m.metrics.connectionTransitions.WithLabelValues(from.String(), to.String()).Inc()
	})
	return m
}

// Registry собственный реестр метрик. nil, если Registerer передан в Options.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// setConnectionState переводит автомат и всегда уведомляет наблюдателей,
// в том числе при повторе текущего состояния.
func (m *Manager) setConnectionState(s ConnectionState) {
	if err := fireConnectionEvent(m.conn, s); err != nil {
		m.log.WithError(err).WithField("to", s).Error("недопустимый переход состояния подключения")
	}
	current := m.ConnectionStatus()
	m.metrics.connectionState.Set(float64(current))
	m.log.WithField("state", current).Debug("состояние подключения")
	m.notifyConnectionStatus(current)
}

// reassertConnectionState сообщает наблюдателям текущее состояние без
// перехода.
func (m *Manager) reassertConnectionState() {
	m.notifyConnectionStatus(m.ConnectionStatus())
}

func (m *Manager) setAuthState(s AuthenticationState) {
	m.mu.Lock()
	m.authState = s
	m.mu.Unlock()
	m.log.WithField("state", s).Debug("состояние аутентификации")
	m.notifyAuthenticationStatus(s)
}

func (m *Manager) trackCall(h session.CallHandle, state session.CallState) {
	m.mu.Lock()
	if state == session.CallStateOnHook {
		delete(m.activeCalls, h)
	} else {
		m.activeCalls[h] = struct{}{}
	}
	n := len(m.activeCalls)
	m.mu.Unlock()
	m.metrics.activeCalls.Set(float64(n))
}

func (m *Manager) snapshotSettings() settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.cfg
	cfg.provisioningServers = append([]string(nil), m.cfg.provisioningServers...)
	cfg.configServers = append([]string(nil), m.cfg.configServers...)
	return cfg
}

// Настройки.

// SetAuthenticationCredentials пользователь и пароль для CCMCIP.
func (m *Manager) SetAuthenticationCredentials(user, password string) {
	m.mu.Lock()
	m.cfg.user, m.cfg.password = user, password
	m.mu.Unlock()
}

// SetAuthenticationPolicy проверка сертификата серверов CCMCIP.
func (m *Manager) SetAuthenticationPolicy(level provisioning.CertLevel) {
	m.mu.Lock()
	m.cfg.certLevel = level
	m.mu.Unlock()
}

// SetProvisioningServers серверы CCMCIP в порядке опроса.
func (m *Manager) SetProvisioningServers(servers []string) {
	m.mu.Lock()
	m.cfg.provisioningServers = append([]string(nil), servers...)
	m.mu.Unlock()
}

// SetConfigServers серверы конфигурации (TFTP) в порядке опроса.
func (m *Manager) SetConfigServers(servers []string) {
	m.mu.Lock()
	m.cfg.configServers = append([]string(nil), servers...)
	m.mu.Unlock()
}

// SetMultiClusterMode продолжать опрос серверов после отказа в
// учётных данных.
func (m *Manager) SetMultiClusterMode(enabled bool) {
	m.mu.Lock()
	m.cfg.multiCluster = enabled
	m.mu.Unlock()
}

// SetSignalingLogMask маска журналирования следующего движка
// сигнализации.
func (m *Manager) SetSignalingLogMask(mask int) {
	m.mu.Lock()
	m.cfg.logMask = mask
	m.mu.Unlock()
}

// SetAuthenticationString строка авторизации запросов конфигурации.
func (m *Manager) SetAuthenticationString(s string) {
	m.mu.Lock()
	m.cfg.authString = s
	m.mu.Unlock()
}

// SetSecureCachePath каталог кэша конфигураций устройств.
func (m *Manager) SetSecureCachePath(path string) {
	m.mu.Lock()
	m.cfg.cachePath = path
	m.mu.Unlock()
}

// SetLocalAddressAndGateway задаёт локальный адрес. Живой сессии
// устройства адрес передаётся сразу.
func (m *Manager) SetLocalAddressAndGateway(ip, gateway string) {
	m.mu.Lock()
	m.cfg.localIP, m.cfg.gateway = ip, gateway
	dev := m.device
	m.mu.Unlock()
	if dev != nil {
		dev.SetLocalAddress(ip, gateway)
	}
}

// Запросы состояния.

// ActiveDevice сессия подключённого устройства или nil.
func (m *Manager) ActiveDevice() *session.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// AvailablePhoneDetails все известные устройства по возрастанию имени.
func (m *Manager) AvailablePhoneDetails() []*PhoneDetails {
	return m.phones.list()
}

// PhoneDetails сведения об устройстве name.
func (m *Manager) PhoneDetails(name string) (*PhoneDetails, bool) {
	return m.phones.get(name)
}

// ConnectionStatus текущее состояние подключения.
func (m *Manager) ConnectionStatus() ConnectionState {
	return parseConnectionState(m.conn.Current())
}

// AuthenticationStatus состояние последней аутентификации.
func (m *Manager) AuthenticationStatus() AuthenticationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authState
}

// LastProvisioningServer сервер CCMCIP последней успешной аутентификации.
func (m *Manager) LastProvisioningServer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastProvisioningServer
}

// LastConfigServer сервер последней успешно полученной конфигурации.
func (m *Manager) LastConfigServer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConfigServer
}

// PreferredDeviceName устройство, выбранное последним Connect.
func (m *Manager) PreferredDeviceName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preferredDevice
}

// PreferredLineDN номер линии, запрошенный последним Connect.
func (m *Manager) PreferredLineDN() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preferredLineDN
}

// CurrentServer сервер регистрации активного устройства, пусто без
// подключения.
func (m *Manager) CurrentServer() string {
	dev := m.ActiveDevice()
	if dev == nil {
		return ""
	}
	return dev.Info().Server
}
