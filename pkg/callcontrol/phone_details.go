package callcontrol

import (
	"sort"
	"strings"
	"sync"

	"github.com/arzzra/callcontrol/pkg/session"
)

// ConfigStatus откуда взята конфигурация устройства.
type ConfigStatus int

const (
	NoConfig ConfigStatus = iota
	FetchedConfig
	CachedConfig
)

func (s ConfigStatus) String() string {
	switch s {
	case FetchedConfig:
		return "fetched"
	case CachedConfig:
		return "cached"
	default:
		return "none"
	}
}

// Описания моделей программных клиентов. Сравнение без учёта регистра.
var softPhoneModels = []string{
	"Client Services Framework",
	"Client Services Core",
	"Cisco IP Communicator",
	"Cisco Unified Personal Communicator",
}

// PhoneDetails сведения об одном известном устройстве. Запись создаётся
// при первом упоминании устройства и далее обновляется на месте, так что
// указатель остаётся действительным между попытками аутентификации.
type PhoneDetails struct {
	mu sync.RWMutex

	name             string
	description      string
	model            int
	modelDescription string
	configStatus     ConfigStatus
	config           []byte
	lineDNs          []string
	serviceState     session.ServiceState
}

func newPhoneDetails(name string) *PhoneDetails {
	return &PhoneDetails{name: name, model: -1}
}

func (p *PhoneDetails) Name() string { return p.name }

func (p *PhoneDetails) Description() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.description
}

// Model числовой код модели, -1 если неизвестен.
func (p *PhoneDetails) Model() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *PhoneDetails) ModelDescription() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modelDescription
}

// IsSoftPhone true для программных клиентов.
func (p *PhoneDetails) IsSoftPhone() bool {
	desc := p.ModelDescription()
	for _, m := range softPhoneModels {
		if strings.EqualFold(desc, m) {
			return true
		}
	}
	return false
}

func (p *PhoneDetails) ConfigStatus() ConfigStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.configStatus
}

// Config копия конфигурации устройства.
func (p *PhoneDetails) Config() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.config == nil {
		return nil
	}
	out := make([]byte, len(p.config))
	copy(out, p.config)
	return out
}

func (p *PhoneDetails) LineDNs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.lineDNs...)
}

func (p *PhoneDetails) ServiceState() session.ServiceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.serviceState
}

func (p *PhoneDetails) setDirectoryInfo(description, modelDescription string) {
	p.mu.Lock()
	p.description = description
	p.modelDescription = modelDescription
	p.mu.Unlock()
}

func (p *PhoneDetails) setConfig(status ConfigStatus, config []byte) {
	p.mu.Lock()
	p.configStatus = status
	if len(config) == 0 {
		p.config = nil
	} else {
		p.config = append([]byte(nil), config...)
	}
	p.mu.Unlock()
}

func (p *PhoneDetails) setLines(lineDNs []string) {
	p.mu.Lock()
	p.lineDNs = append([]string(nil), lineDNs...)
	p.mu.Unlock()
}

func (p *PhoneDetails) setServiceState(s session.ServiceState) {
	p.mu.Lock()
	p.serviceState = s
	p.mu.Unlock()
}

// phoneStore хранилище PhoneDetails по имени. Обход по возрастанию имени.
type phoneStore struct {
	mu     sync.RWMutex
	phones map[string]*PhoneDetails
}

func newPhoneStore() *phoneStore {
	return &phoneStore{phones: make(map[string]*PhoneDetails)}
}

// upsert возвращает запись и признак того, что она только что создана.
func (s *phoneStore) upsert(name string) (*PhoneDetails, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.phones[name]; ok {
		return p, false
	}
	p := newPhoneDetails(name)
	s.phones[name] = p
	return p, true
}

func (s *phoneStore) get(name string) (*PhoneDetails, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.phones[name]
	return p, ok
}

func (s *phoneStore) list() []*PhoneDetails {
	s.mu.RLock()
	out := make([]*PhoneDetails, 0, len(s.phones))
	for _, p := range s.phones {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
