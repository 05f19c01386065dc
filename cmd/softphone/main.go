// Команда softphone подключает устройство к серверу вызовов и держит
// сессию до сигнала завершения. События публикуются в /events
// (WebSocket), метрики в /metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/callcontrol/pkg/callcontrol"
	"github.com/arzzra/callcontrol/pkg/config"
	"github.com/arzzra/callcontrol/pkg/eventstream"
	"github.com/arzzra/callcontrol/pkg/media"
	"github.com/arzzra/callcontrol/pkg/provisioning"
	"github.com/arzzra/callcontrol/pkg/signaling"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath = flag.String("config", "", "Путь к ini файлу настроек")
		debug      = flag.Bool("debug", false, "Трассировка SIP сообщений")
	)
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки настроек: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		settings.SIP.LogMask |= signaling.LogMaskSIP
	}

	logger, closer, err := config.NewLogger(settings.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка настройки журнала: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logrus.NewEntry(logger)); err != nil {
		logger.WithError(err).Error("софтфон завершился с ошибкой")
		os.Exit(1)
	}
}

func run(ctx context.Context, s config.Settings, log *logrus.Entry) error {
	localIP := s.SIP.LocalIP
	if localIP == "" {
		ip, err := outboundIP(s)
		if err != nil {
			return fmt.Errorf("не удалось определить локальный адрес: %w", err)
		}
		localIP = ip
	}

	term := media.NewTermination(media.Config{
		LocalIP:       localIP,
		PortMin:       s.Media.PortMin,
		PortMax:       s.Media.PortMax,
		DefaultVolume: s.Media.Volume,
		Logger:        log,
	})
	defer term.Close()

	retrieverOpts := []provisioning.ConfigRetrieverOption{provisioning.WithConfigLogger(log)}
	if s.Cache.RedisAddr != "" {
		cache, err := provisioning.NewRedisCache(ctx, provisioning.RedisCacheConfig{
			Addr:     s.Cache.RedisAddr,
			Password: s.Cache.RedisPassword,
			DB:       s.Cache.RedisDB,
			Prefix:   s.Cache.RedisPrefix,
			TTL:      s.Cache.TTL,
		})
		if err != nil {
			return err
		}
		defer cache.Close()
		retrieverOpts = append(retrieverOpts, provisioning.WithConfigCache(cache))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	manager := callcontrol.NewManager(callcontrol.Options{
		DeviceListFetcher: provisioning.NewCCMCIPClient(provisioning.WithCCMCIPLogger(log)),
		ConfigRetriever:   provisioning.NewConfigRetriever(retrieverOpts...),
		EngineFactory: signaling.NewFactory(signaling.FactoryOptions{
			Media:          term,
			ListenPort:     s.SIP.ListenPort,
			Transport:      signaling.Transport(s.SIP.Transport),
			AuthPassword:   s.SIP.Password,
			UserAgent:      s.SIP.UserAgent,
			RegisterExpiry: s.SIP.RegisterExpiry,
			RequestTimeout: s.SIP.RequestTimeout,
			Logger:         log,
		}),
		Audio:      term,
		Video:      term.Video(),
		Logger:     log,
		Registerer: registry,
	})
	manager.SetAuthenticationCredentials(s.Provisioning.User, s.Provisioning.Password)
	manager.SetAuthenticationPolicy(s.CertLevel())
	manager.SetProvisioningServers(s.Provisioning.Servers)
	manager.SetConfigServers(configServers(s))
	manager.SetMultiClusterMode(s.Provisioning.MultiCluster)
	manager.SetAuthenticationString(s.Provisioning.AuthString)
	manager.SetSecureCachePath(s.Cache.Path)
	manager.SetSignalingLogMask(s.SIP.LogMask)
	manager.SetLocalAddressAndGateway(localIP, s.SIP.Gateway)

	events := eventstream.New(eventstream.Options{Logger: log})
	manager.AddCallObserver(events)
	manager.AddConnectionObserver(events)
	defer events.Close()

	g, ctx := errgroup.WithContext(ctx)

	if s.HTTP.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.Handle("/events", events)
		srv := &http.Server{Addr: s.HTTP.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.WithField("addr", s.HTTP.Addr).Info("HTTP сервер запущен")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP сервер: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := connect(ctx, manager, s); err != nil {
			return err
		}
		log.WithField("server", manager.CurrentServer()).Info("устройство подключено")
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return manager.Close(shutdownCtx)
	})

	return g.Wait()
}

func connect(ctx context.Context, m *callcontrol.Manager, s config.Settings) error {
	if s.RegisterDirectly() {
		return m.RegisterUser(ctx, s.Device.Name, s.Device.User, s.Device.Domain, s.Device.Contact)
	}
	return m.Connect(ctx, s.Device.Name, s.Device.LineDN)
}

// configServers серверы конфигураций, по умолчанию серверы CCMCIP.
func configServers(s config.Settings) []string {
	if len(s.Provisioning.ConfigServers) > 0 {
		return s.Provisioning.ConfigServers
	}
	return s.Provisioning.Servers
}

// outboundIP адрес интерфейса, через который уходит трафик к серверу.
func outboundIP(s config.Settings) (string, error) {
	target := s.Device.Domain
	if target == "" && len(s.Provisioning.Servers) > 0 {
		target = s.Provisioning.Servers[0]
	}
	if target == "" {
		return "", errors.New("не задан сервер")
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "5060")
	}
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
