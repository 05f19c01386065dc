// Package config загружает настройки софтфона: ini файл, поверх него
// переменные окружения SOFTPHONE_* (включая .env файл), и строит
// журнал процесса.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	ini "gopkg.in/ini.v1"

	"github.com/arzzra/callcontrol/pkg/provisioning"
)

// EnvPrefix префикс переменных окружения.
const EnvPrefix = "SOFTPHONE_"

// EnvFileVariable переменная с путём к .env файлу.
const EnvFileVariable = "ENV_FILE"

var (
	ErrInvalidTransport = errors.New("неизвестный SIP транспорт")
	ErrInvalidPortRange = errors.New("некорректный диапазон RTP портов")
	ErrNoIdentity       = errors.New("не задано ни устройство, ни пользователь для регистрации")
)

// Provisioning серверы CCMCIP и конфигураций, учётные данные.
type Provisioning struct {
	Servers       []string `env:"SERVERS" envSeparator:","`
	ConfigServers []string `env:"CONFIG_SERVERS" envSeparator:","`
	User          string   `env:"USER"`
	Password      string   `env:"PASSWORD"`
	// CertLevel "accept-all" или "verify".
	CertLevel    string `env:"CERT_LEVEL"`
	AuthString   string `env:"AUTH_STRING"`
	MultiCluster bool   `env:"MULTI_CLUSTER"`
}

// Device какое устройство подключать. Если задан User, устройство
// регистрируется напрямую без получения конфигурации.
type Device struct {
	Name    string `env:"NAME"`
	LineDN  string `env:"LINE_DN"`
	User    string `env:"USER"`
	Domain  string `env:"DOMAIN"`
	Contact string `env:"CONTACT"`
}

type SIP struct {
	ListenPort     int           `env:"LISTEN_PORT"`
	Transport      string        `env:"TRANSPORT"`
	LocalIP        string        `env:"LOCAL_IP"`
	Gateway        string        `env:"GATEWAY"`
	UserAgent      string        `env:"USER_AGENT"`
	Password       string        `env:"PASSWORD"`
	RegisterExpiry time.Duration `env:"REGISTER_EXPIRY"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
	LogMask        int           `env:"LOG_MASK"`
}

type Media struct {
	PortMin int `env:"PORT_MIN"`
	PortMax int `env:"PORT_MAX"`
	Volume  int `env:"VOLUME"`
}

// Logging уровни журнала консоли и файла. Пустой File отключает файл.
type Logging struct {
	Level      string `env:"LEVEL"`
	FileLevel  string `env:"FILE_LEVEL"`
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB"`
	MaxBackups int    `env:"MAX_BACKUPS"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS"`
	Compress   bool   `env:"COMPRESS"`
}

type HTTP struct {
	// Addr адрес /metrics и /events. Пусто - HTTP не поднимается.
	Addr string `env:"ADDR"`
}

// Cache кэш конфигураций устройств: каталог или Redis.
type Cache struct {
	Path          string        `env:"PATH"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	RedisPrefix   string        `env:"REDIS_PREFIX"`
	TTL           time.Duration `env:"TTL"`
}

// Settings все настройки процесса.
type Settings struct {
	Provisioning Provisioning `envPrefix:"PROVISIONING_"`
	Device       Device       `envPrefix:"DEVICE_"`
	SIP          SIP          `envPrefix:"SIP_"`
	Media        Media        `envPrefix:"MEDIA_"`
	Logging      Logging      `envPrefix:"LOG_"`
	HTTP         HTTP         `envPrefix:"HTTP_"`
	Cache        Cache        `envPrefix:"CACHE_"`
}

// Default настройки по умолчанию.
func Default() Settings {
	return Settings{
		Provisioning: Provisioning{CertLevel: provisioning.CertAcceptAll.String()},
		SIP: SIP{
			Transport:      "udp",
			RegisterExpiry: time.Hour,
			RequestTimeout: 32 * time.Second,
		},
		Media: Media{PortMin: 16384, PortMax: 32766, Volume: 50},
		Logging: Logging{
			Level:      "info",
			FileLevel:  "debug",
			MaxSizeMB:  100,
			MaxBackups: 1,
		},
		HTTP: HTTP{Addr: "127.0.0.1:9090"},
	}
}

// Load читает настройки: значения по умолчанию, затем ini файл path
// (если задан), затем .env и переменные окружения SOFTPHONE_*.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		f, err := ini.Load(path)
		if err != nil {
			return Settings{}, fmt.Errorf("ошибка чтения файла настроек %s: %w", path, err)
		}
		s.applyINI(f)
	}
	if err := LoadEnvFile(); err != nil {
		return Settings{}, err
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadEnvFile загружает файл из ENV_FILE или .env из текущего каталога.
// Отсутствие .env не ошибка. Уже заданные переменные не переопределяются.
func LoadEnvFile() error {
	path := os.Getenv(EnvFileVariable)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("ошибка загрузки %s: %w", path, err)
	}
	return nil
}

func (s *Settings) applyEnv() error {
	if err := env.ParseWithOptions(s, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("ошибка разбора переменных окружения: %w", err)
	}
	return nil
}

func (s *Settings) applyINI(f *ini.File) {
	sec := f.Section("provisioning")
	s.Provisioning.Servers = listKey(sec, "servers", s.Provisioning.Servers)
	s.Provisioning.ConfigServers = listKey(sec, "config_servers", s.Provisioning.ConfigServers)
	s.Provisioning.User = sec.Key("user").MustString(s.Provisioning.User)
	s.Provisioning.Password = sec.Key("password").MustString(s.Provisioning.Password)
	s.Provisioning.CertLevel = sec.Key("cert_level").MustString(s.Provisioning.CertLevel)
	s.Provisioning.AuthString = sec.Key("auth_string").MustString(s.Provisioning.AuthString)
	s.Provisioning.MultiCluster = sec.Key("multi_cluster").MustBool(s.Provisioning.MultiCluster)

	sec = f.Section("device")
	s.Device.Name = sec.Key("name").MustString(s.Device.Name)
	s.Device.LineDN = sec.Key("line_dn").MustString(s.Device.LineDN)
	s.Device.User = sec.Key("user").MustString(s.Device.User)
	s.Device.Domain = sec.Key("domain").MustString(s.Device.Domain)
	s.Device.Contact = sec.Key("contact").MustString(s.Device.Contact)

	sec = f.Section("sip")
	s.SIP.ListenPort = sec.Key("listen_port").MustInt(s.SIP.ListenPort)
	s.SIP.Transport = sec.Key("transport").MustString(s.SIP.Transport)
	s.SIP.LocalIP = sec.Key("local_ip").MustString(s.SIP.LocalIP)
	s.SIP.Gateway = sec.Key("gateway").MustString(s.SIP.Gateway)
	s.SIP.UserAgent = sec.Key("user_agent").MustString(s.SIP.UserAgent)
	s.SIP.Password = sec.Key("password").MustString(s.SIP.Password)
	s.SIP.RegisterExpiry = sec.Key("register_expiry").MustDuration(s.SIP.RegisterExpiry)
	s.SIP.RequestTimeout = sec.Key("request_timeout").MustDuration(s.SIP.RequestTimeout)
	s.SIP.LogMask = sec.Key("log_mask").MustInt(s.SIP.LogMask)

	sec = f.Section("media")
	s.Media.PortMin = sec.Key("port_min").MustInt(s.Media.PortMin)
	s.Media.PortMax = sec.Key("port_max").MustInt(s.Media.PortMax)
	s.Media.Volume = sec.Key("volume").MustInt(s.Media.Volume)

	sec = f.Section("logging")
	s.Logging.Level = sec.Key("level").MustString(s.Logging.Level)
	s.Logging.FileLevel = sec.Key("file_level").MustString(s.Logging.FileLevel)
	s.Logging.File = sec.Key("file").MustString(s.Logging.File)
	s.Logging.MaxSizeMB = sec.Key("max_size_mb").MustInt(s.Logging.MaxSizeMB)
	s.Logging.MaxBackups = sec.Key("max_backups").MustInt(s.Logging.MaxBackups)
	s.Logging.MaxAgeDays = sec.Key("max_age_days").MustInt(s.Logging.MaxAgeDays)
	s.Logging.Compress = sec.Key("compress").MustBool(s.Logging.Compress)

	sec = f.Section("http")
	s.HTTP.Addr = sec.Key("addr").MustString(s.HTTP.Addr)

	sec = f.Section("cache")
	s.Cache.Path = sec.Key("path").MustString(s.Cache.Path)
	s.Cache.RedisAddr = sec.Key("redis_addr").MustString(s.Cache.RedisAddr)
	s.Cache.RedisPassword = sec.Key("redis_password").MustString(s.Cache.RedisPassword)
	s.Cache.RedisDB = sec.Key("redis_db").MustInt(s.Cache.RedisDB)
	s.Cache.RedisPrefix = sec.Key("redis_prefix").MustString(s.Cache.RedisPrefix)
	s.Cache.TTL = sec.Key("ttl").MustDuration(s.Cache.TTL)
}

// listKey список через запятую. Отсутствующий ключ оставляет def.
func listKey(sec *ini.Section, name string, def []string) []string {
	if !sec.HasKey(name) {
		return def
	}
	var out []string
	for _, v := range sec.Key(name).Strings(",") {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate проверяет согласованность настроек.
func (s Settings) Validate() error {
	switch strings.ToLower(s.SIP.Transport) {
	case "udp", "tcp", "tls":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, s.SIP.Transport)
	}
	if s.Media.PortMin < 0 || s.Media.PortMax < 0 || s.Media.PortMax > 65535 ||
		(s.Media.PortMax != 0 && s.Media.PortMin > s.Media.PortMax) {
		return fmt.Errorf("%w: %d-%d", ErrInvalidPortRange, s.Media.PortMin, s.Media.PortMax)
	}
	if _, err := logrus.ParseLevel(s.Logging.Level); err != nil {
		return fmt.Errorf("уровень журнала: %w", err)
	}
	if s.Logging.File != "" {
		if _, err := logrus.ParseLevel(s.Logging.FileLevel); err != nil {
			return fmt.Errorf("уровень журнала файла: %w", err)
		}
	}
	if s.Device.Name == "" && s.Device.User == "" && len(s.Provisioning.Servers) == 0 {
		return ErrNoIdentity
	}
	return nil
}

// CertLevel политика проверки сертификата CCMCIP.
func (s Settings) CertLevel() provisioning.CertLevel {
	if strings.EqualFold(strings.TrimSpace(s.Provisioning.CertLevel), provisioning.CertVerify.String()) {
		return provisioning.CertVerify
	}
	return provisioning.CertAcceptAll
}

// RegisterDirectly устройство регистрируется по явному пользователю.
func (s Settings) RegisterDirectly() bool {
	return s.Device.User != ""
}
