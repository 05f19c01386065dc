package signaling

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Transport транспорт SIP сигнализации устройства.
type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
	TransportTLS Transport = "tls"
)

const (
	defaultSIPPort    = 5060
	defaultSIPTLSPort = 5061

	// proxyUseCallManager значение <proxy>, при котором линия
	// регистрируется на сервере вызовов из devicePool.
	proxyUseCallManager = "USECALLMANAGER"

	featureLine      = 9
	featureSpeedDial = 2
	featureBLF       = 21
)

var (
	ErrEmptyDeviceConfig = errors.New("пустая конфигурация устройства")
	ErrNoLines           = errors.New("в конфигурации устройства нет линий")
	ErrNoProxy           = errors.New("не задан SIP сервер устройства")
)

// LineConfig параметры одной линии устройства.
type LineConfig struct {
	ID           int
	DN           string
	DisplayName  string
	Label        string
	AuthName     string
	AuthPassword string
	Contact      string
	Proxy        string
	Port         int
}

// FeatureConfig функциональная кнопка устройства (speed dial, BLF).
type FeatureConfig struct {
	ID        int
	Label     string
	SpeedDial string
	BLF       bool
}

// DeviceConfig настройки сигнализации, извлечённые из <device>.cnf.xml
// или заданные явно при регистрации пользователя.
type DeviceConfig struct {
	Name              string
	UserID            string
	Proxy             string
	Port              int
	Transport         Transport
	RegisterWithProxy bool
	Lines             []LineConfig
	Features          []FeatureConfig
}

type cnfDevice struct {
	XMLName                xml.Name      `xml:"device"`
	UserID                 string        `xml:"userId"`
	TransportLayerProtocol int           `xml:"transportLayerProtocol"`
	Members                []cnfMember   `xml:"devicePool>callManagerGroup>members>member"`
	Profile                cnfSIPProfile `xml:"sipProfile"`
}

type cnfMember struct {
	Priority    int    `xml:"priority,attr"`
	Name        string `xml:"callManager>name"`
	ProcessNode string `xml:"callManager>processNodeName"`
	SIPPort     int    `xml:"callManager>ports>sipPort"`
	SIPSPort    int    `xml:"callManager>ports>securedSipPort"`
}

type cnfSIPProfile struct {
	PhoneLabel        string    `xml:"phoneLabel"`
	RegisterWithProxy string    `xml:"sipProxies>registerWithProxy"`
	Lines             []cnfLine `xml:"sipLines>line"`
}

type cnfLine struct {
	Button          int    `xml:"button,attr"`
	LineIndex       int    `xml:"lineIndex,attr"`
	FeatureID       int    `xml:"featureID"`
	FeatureLabel    string `xml:"featureLabel"`
	Proxy           string `xml:"proxy"`
	Port            int    `xml:"port"`
	Name            string `xml:"name"`
	DisplayName     string `xml:"displayName"`
	AuthName        string `xml:"authName"`
	AuthPassword    string `xml:"authPassword"`
	Contact         string `xml:"contact"`
	SpeedDialNumber string `xml:"speedDialNumber"`
}

// ParseDeviceConfig разбирает конфигурацию устройства (<имя>.cnf.xml).
//
// SIP сервер берётся из первого по приоритету члена группы серверов
// вызовов. Линии с <proxy>USECALLMANAGER</proxy> или без proxy
// регистрируются на нём. Кнопки с featureID 2 и 21 становятся
// функциональными кнопками (speed dial и BLF).
func ParseDeviceConfig(name string, data []byte) (DeviceConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return DeviceConfig{}, ErrEmptyDeviceConfig
	}
	var doc cnfDevice
	if err := xml.Unmarshal(data, &doc); err != nil {
		return DeviceConfig{}, fmt.Errorf("ошибка разбора конфигурации устройства %s: %w", name, err)
	}

	cfg := DeviceConfig{
		Name:              name,
		UserID:            doc.UserID,
		Transport:         transportFromCode(doc.TransportLayerProtocol),
		RegisterWithProxy: !strings.EqualFold(strings.TrimSpace(doc.Profile.RegisterWithProxy), "false"),
	}

	members := append([]cnfMember(nil), doc.Members...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].Priority < members[j].Priority })
	for _, m := range members {
		host := strings.TrimSpace(m.ProcessNode)
		if host == "" {
			host = strings.TrimSpace(m.Name)
		}
		if host == "" {
			continue
		}
		cfg.Proxy = host
		cfg.Port = m.SIPPort
		if cfg.Transport == TransportTLS && m.SIPSPort != 0 {
			cfg.Port = m.SIPSPort
		}
		break
	}
	if cfg.Port == 0 {
		cfg.Port = cfg.Transport.defaultPort()
	}

	for _, l := range doc.Profile.Lines {
		switch l.FeatureID {
		case featureSpeedDial, featureBLF:
			cfg.Features = append(cfg.Features, FeatureConfig{
				ID:        l.Button,
				Label:     strings.TrimSpace(l.FeatureLabel),
				SpeedDial: strings.TrimSpace(l.SpeedDialNumber),
				BLF:       l.FeatureID == featureBLF,
			})
		case featureLine, 0:
			line := LineConfig{
				ID:           len(cfg.Lines) + 1,
				DN:           strings.TrimSpace(l.Name),
				DisplayName:  strings.TrimSpace(l.DisplayName),
				Label:        strings.TrimSpace(l.FeatureLabel),
				AuthName:     strings.TrimSpace(l.AuthName),
				AuthPassword: l.AuthPassword,
				Contact:      strings.TrimSpace(l.Contact),
				Proxy:        strings.TrimSpace(l.Proxy),
				Port:         l.Port,
			}
			if line.DN == "" {
				continue
			}
			if line.Proxy == "" || strings.EqualFold(line.Proxy, proxyUseCallManager) {
				line.Proxy = cfg.Proxy
			}
			if line.Port == 0 {
				line.Port = cfg.Port
			}
			if line.Contact == "" {
				line.Contact = line.DN
			}
			if line.AuthName == "" {
				line.AuthName = line.DN
			}
			cfg.Lines = append(cfg.Lines, line)
		}
	}

	if len(cfg.Lines) == 0 {
		return DeviceConfig{}, ErrNoLines
	}
	if cfg.Proxy == "" && cfg.Lines[0].Proxy == "" {
		return DeviceConfig{}, ErrNoProxy
	}
	if cfg.Proxy == "" {
		cfg.Proxy, cfg.Port = cfg.Lines[0].Proxy, cfg.Lines[0].Port
	}
	return cfg, nil
}

// UserDeviceConfig конфигурация одной линии для регистрации по явно
// заданным параметрам. domain задаётся как host или host:port.
func UserDeviceConfig(device, user, domain, contact string) (DeviceConfig, error) {
	if user == "" {
		return DeviceConfig{}, ErrNoLines
	}
	host, port, err := splitHostPort(domain)
	if err != nil {
		return DeviceConfig{}, err
	}
	if contact == "" {
		contact = user
	}
	return DeviceConfig{
		Name:              device,
		UserID:            user,
		Proxy:             host,
		Port:              port,
		Transport:         TransportUDP,
		RegisterWithProxy: true,
		Lines: []LineConfig{{
			ID:       1,
			DN:       user,
			AuthName: user,
			Contact:  contact,
			Proxy:    host,
			Port:     port,
		}},
	}, nil
}

func splitHostPort(domain string) (string, int, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", 0, ErrNoProxy
	}
	host, portStr, err := net.SplitHostPort(domain)
	if err != nil {
		return domain, defaultSIPPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("некорректный порт в домене %q", domain)
	}
	return host, port, nil
}

func transportFromCode(code int) Transport {
	switch code {
	case 1:
		return TransportTCP
	case 3, 4:
		return TransportTLS
	default:
		return TransportUDP
	}
}

func (t Transport) defaultPort() int {
	if t == TransportTLS {
		return defaultSIPTLSPort
	}
	return defaultSIPPort
}

// network имя транспорта для sipgo.
func (t Transport) network() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportTLS:
		return "tls"
	default:
		return "udp"
	}
}
