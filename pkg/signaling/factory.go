package signaling

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/callcontrol"
	"github.com/arzzra/callcontrol/pkg/session"
)

// FactoryOptions общие параметры движков, создаваемых фабрикой.
type FactoryOptions struct {
	Media      MediaPlane
	ListenPort int
	Transport  Transport
	// AuthPassword пароль линии для registerUser.
	AuthPassword   string
	UserAgent      string
	RegisterExpiry time.Duration
	RequestTimeout time.Duration
	Logger         *logrus.Entry
}

// NewFactory фабрика движков для менеджера вызовов. Для connect
// конфигурация устройства берётся из cnf.xml, для registerUser
// собирается из явных параметров.
func NewFactory(opts FactoryOptions) callcontrol.EngineFactory {
	return func(cfg callcontrol.EngineConfig) (session.Engine, error) {
		var (
			device DeviceConfig
			err    error
		)
		if cfg.User != "" {
			device, err = UserDeviceConfig(cfg.DeviceName, cfg.User, cfg.Domain, cfg.Contact)
		} else {
			device, err = ParseDeviceConfig(cfg.DeviceName, cfg.Config)
		}
		if err != nil {
			return nil, err
		}
		if cfg.User != "" {
			if opts.Transport != "" {
				device.Transport = opts.Transport
			}
			for i := range device.Lines {
				device.Lines[i].AuthPassword = opts.AuthPassword
			}
		}
		return NewEngine(Options{
			Device:         device,
			LocalIP:        cfg.LocalAddr,
			Gateway:        cfg.Gateway,
			ListenPort:     opts.ListenPort,
			UserAgent:      opts.UserAgent,
			RegisterExpiry: opts.RegisterExpiry,
			RequestTimeout: opts.RequestTimeout,
			LogMask:        cfg.LogMask,
			Media:          opts.Media,
			Logger:         opts.Logger,
		})
	}
}
