package provisioning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultConfigPort HTTP сторона TFTP сервиса CUCM.
	DefaultConfigPort           = 6970
	DefaultConfigRequestTimeout = 10 * time.Second

	// AuthStringHeader заголовок со строкой авторизации устройства.
	AuthStringHeader = "X-Device-Auth"

	maxConfigSize = 1 << 20
)

// ConfigRequest параметры получения конфигурации устройства.
type ConfigRequest struct {
	Servers      []string
	AuthString   string
	CachePath    string
	MultiCluster bool
	DeviceName   string
}

// ConfigResult полученная конфигурация и её источник.
type ConfigResult struct {
	Config []byte
	// Server сервер, отдавший конфигурацию. Пуст, если она взята из кэша.
	Server    string
	FromCache bool
}

// ConfigCache хранилище последних полученных конфигураций устройств.
type ConfigCache interface {
	Load(ctx context.Context, device string) ([]byte, error)
	Store(ctx context.Context, device string, config []byte) error
}

// ErrCacheMiss конфигурации нет в кэше.
var ErrCacheMiss = errors.New("конфигурация отсутствует в кэше")

// ConfigRetriever получает <device>.cnf.xml, перебирая серверы по порядку.
type ConfigRetriever struct {
	port    int
	timeout time.Duration
	client  *http.Client
	cache   ConfigCache
	log     *logrus.Entry

	mu         sync.Mutex
	lastServer string
}

// ConfigRetrieverOption настройка ConfigRetriever.
type ConfigRetrieverOption func(*ConfigRetriever)

func WithConfigPort(port int) ConfigRetrieverOption {
	return func(r *ConfigRetriever) { r.port = port }
}

func WithConfigTimeout(d time.Duration) ConfigRetrieverOption {
	return func(r *ConfigRetriever) { r.timeout = d }
}

func WithHTTPClient(c *http.Client) ConfigRetrieverOption {
	return func(r *ConfigRetriever) { r.client = c }
}

// WithConfigCache кэш, в который сохраняется каждая полученная
// конфигурация и из которого она берётся, если ни один сервер не ответил.
func WithConfigCache(c ConfigCache) ConfigRetrieverOption {
	return func(r *ConfigRetriever) { r.cache = c }
}

func WithConfigLogger(log *logrus.Entry) ConfigRetrieverOption {
	return func(r *ConfigRetriever) { r.log = log }
}

func NewConfigRetriever(opts ...ConfigRetrieverOption) *ConfigRetriever {
	r := &ConfigRetriever{
		port:    DefaultConfigPort,
		timeout: DefaultConfigRequestTimeout,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: r.timeout}
	}
	r.log = r.log.WithField("component", "ConfigRetriever")
	return r
}

// LastServer последний сервер, с которого конфигурация получена успешно.
func (r *ConfigRetriever) LastServer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastServer
}

// RetrieveConfig получает конфигурацию устройства req.DeviceName.
//
// Серверы опрашиваются по порядку, первый успешный ответ запоминается
// как последний использованный сервер. Если ни один сервер не ответил,
// используется кэш (кэш из опций, иначе файловый кэш в req.CachePath).
// Ошибки возвращаются значениями RetrievalFailure.
func (r *ConfigRetriever) RetrieveConfig(ctx context.Context, req ConfigRequest) (ConfigResult, error) {
	log := r.log.WithField("device", req.DeviceName)
	if len(req.Servers) == 0 {
		log.Error("не настроены серверы конфигурации")
		return ConfigResult{}, RetrievalNoServersConfigured
	}
	if req.DeviceName == "" {
		log.Error("не задано имя устройства")
		return ConfigResult{}, RetrievalNoDeviceNameConfigured
	}

	lastFailure := RetrievalCouldNotConnect
	for _, server := range req.Servers {
		config, err := r.fetch(ctx, server, req)
		if err == nil {
			r.mu.Lock()
			r.lastServer = server
			r.mu.Unlock()
			log.WithField("server", server).Info("получена конфигурация устройства")
			r.storeCache(ctx, r.cacheFor(req), req.DeviceName, config, log)
			return ConfigResult{Config: config, Server: server}, nil
		}

		entry := log.WithError(err).WithField("server", server)
		if req.MultiCluster {
			entry.Debug("не удалось получить конфигурацию, пробуем следующий сервер")
		} else {
			entry.Warn("не удалось получить конфигурацию, пробуем следующий сервер")
		}
		var failure RetrievalFailure
		if errors.As(err, &failure) {
			lastFailure = failure
		}
		if ctx.Err() != nil {
			break
		}
	}

	if cache := r.cacheFor(req); cache != nil {
		config, err := cache.Load(ctx, req.DeviceName)
		if err == nil && len(config) > 0 {
			log.Warn("серверы недоступны, используется конфигурация из кэша")
			return ConfigResult{Config: config, FromCache: true}, nil
		}
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			log.WithError(err).Warn("ошибка чтения кэша конфигурации")
		}
	}

	log.Error("не удалось получить конфигурацию устройства")
	if lastFailure == RetrievalFileNotFound || lastFailure == RetrievalFileEmpty {
		return ConfigResult{}, lastFailure
	}
	return ConfigResult{}, RetrievalCouldNotConnect
}

func (r *ConfigRetriever) fetch(ctx context.Context, server string, req ConfigRequest) ([]byte, error) {
	u := url.URL{
		Scheme: "http",
		Host:   r.hostPort(server),
		Path:   "/" + req.DeviceName + ".cnf.xml",
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", RetrievalCouldNotConnect, err)
	}
	if req.AuthString != "" {
		httpReq.Header.Set(AuthStringHeader, req.AuthString)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", RetrievalCouldNotConnect, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, RetrievalFileNotFound
	default:
		return nil, fmt.Errorf("%w: HTTP статус %d", RetrievalCouldNotConnect, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", RetrievalCouldNotConnect, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, RetrievalFileEmpty
	}
	return data, nil
}

func (r *ConfigRetriever) cacheFor(req ConfigRequest) ConfigCache {
	if r.cache != nil {
		return r.cache
	}
	if req.CachePath != "" {
		return NewFileCache(req.CachePath)
	}
	return nil
}

func (r *ConfigRetriever) storeCache(ctx context.Context, cache ConfigCache, device string, config []byte, log *logrus.Entry) {
	if cache == nil {
		return
	}
	if err := cache.Store(ctx, device, config); err != nil {
		log.WithError(err).Warn("не удалось сохранить конфигурацию в кэш")
	}
}

func (r *ConfigRetriever) hostPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, strconv.Itoa(r.port))
}
