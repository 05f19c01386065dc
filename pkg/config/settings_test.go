package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callcontrol/pkg/provisioning"
)

const sampleINI = `
[provisioning]
servers = cucm1, cucm2
config_servers = tftp1
user = alice
password = secret
cert_level = verify
multi_cluster = true

[device]
name = SEP001122334455
line_dn = 1001

[sip]
listen_port = 5070
transport = tcp
local_ip = 10.0.0.5
register_expiry = 30m

[media]
port_min = 20000
port_max = 20100

[logging]
level = debug
file = softphone.log

[http]
addr = :9100

[cache]
redis_addr = 127.0.0.1:6379
ttl = 24h
`

func writeINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "softphone.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// isolateEnv переходит во временный каталог без .env.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv(EnvFileVariable, "")
}

func TestLoadINI(t *testing.T) {
	isolateEnv(t)
	s, err := Load(writeINI(t, sampleINI))
	require.NoError(t, err)

	assert.Equal(t, []string{"cucm1", "cucm2"}, s.Provisioning.Servers)
	assert.Equal(t, []string{"tftp1"}, s.Provisioning.ConfigServers)
	assert.Equal(t, "alice", s.Provisioning.User)
	assert.True(t, s.Provisioning.MultiCluster)
	assert.Equal(t, provisioning.CertVerify, s.CertLevel())

	assert.Equal(t, "SEP001122334455", s.Device.Name)
	assert.Equal(t, "1001", s.Device.LineDN)
	assert.False(t, s.RegisterDirectly())

	assert.Equal(t, 5070, s.SIP.ListenPort)
	assert.Equal(t, "tcp", s.SIP.Transport)
	assert.Equal(t, 30*time.Minute, s.SIP.RegisterExpiry)
	assert.Equal(t, 32*time.Second, s.SIP.RequestTimeout, "значение по умолчанию сохраняется")

	assert.Equal(t, 20000, s.Media.PortMin)
	assert.Equal(t, 50, s.Media.Volume)
	assert.Equal(t, "debug", s.Logging.Level)
	assert.Equal(t, ":9100", s.HTTP.Addr)
	assert.Equal(t, 24*time.Hour, s.Cache.TTL)
}

func TestEnvironmentOverridesINI(t *testing.T) {
	isolateEnv(t)
	t.Setenv("SOFTPHONE_SIP_TRANSPORT", "tls")
	t.Setenv("SOFTPHONE_PROVISIONING_SERVERS", "cucm9")
	t.Setenv("SOFTPHONE_DEVICE_USER", "1002")
	t.Setenv("SOFTPHONE_DEVICE_DOMAIN", "pbx.local:5080")
	t.Setenv("SOFTPHONE_SIP_REQUEST_TIMEOUT", "5s")

	s, err := Load(writeINI(t, sampleINI))
	require.NoError(t, err)
	assert.Equal(t, "tls", s.SIP.Transport)
	assert.Equal(t, []string{"cucm9"}, s.Provisioning.Servers)
	assert.Equal(t, 5*time.Second, s.SIP.RequestTimeout)
	assert.True(t, s.RegisterDirectly())
	assert.Equal(t, "pbx.local:5080", s.Device.Domain)
	assert.Equal(t, 5070, s.SIP.ListenPort)
}

func TestEnvFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, "softphone.env")
	require.NoError(t, os.WriteFile(envPath, []byte("SOFTPHONE_DEVICE_NAME=SEPENV\nSOFTPHONE_MEDIA_VOLUME=70\n"), 0o600))
	t.Setenv(EnvFileVariable, envPath)
	t.Setenv("SOFTPHONE_DEVICE_NAME", "")
	os.Unsetenv("SOFTPHONE_DEVICE_NAME")
	t.Setenv("SOFTPHONE_MEDIA_VOLUME", "")
	os.Unsetenv("SOFTPHONE_MEDIA_VOLUME")

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "SEPENV", s.Device.Name)
	assert.Equal(t, 70, s.Media.Volume)
}

func TestLoadErrors(t *testing.T) {
	isolateEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)

	_, err = Load(writeINI(t, "[device]\nname = SEP1\n[sip]\ntransport = sctp\n"))
	assert.ErrorIs(t, err, ErrInvalidTransport)

	_, err = Load(writeINI(t, "[device]\nname = SEP1\n[media]\nport_min = 30000\nport_max = 20000\n"))
	assert.ErrorIs(t, err, ErrInvalidPortRange)

	_, err = Load(writeINI(t, "[device]\nname = SEP1\n[logging]\nlevel = loud\n"))
	assert.Error(t, err)

	_, err = Load("")
	assert.ErrorIs(t, err, ErrNoIdentity)

	t.Setenv("SOFTPHONE_SIP_LISTEN_PORT", "not-a-number")
	_, err = Load(writeINI(t, "[device]\nname = SEP1\n"))
	assert.Error(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "softphone.log")
	logger, closer, err := NewLogger(Logging{Level: "warn", FileLevel: "debug", File: file, MaxSizeMB: 1}, &console)
	require.NoError(t, err)

	logger.WithField("component", "test").Debug("отладка")
	logger.Warn("предупреждение")
	require.NoError(t, closer.Close())

	assert.NotContains(t, console.String(), "отладка")
	assert.Contains(t, console.String(), "предупреждение")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "отладка")
	assert.Contains(t, string(data), "предупреждение")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	_, _, err = NewLogger(Logging{Level: "loud"}, &console)
	assert.Error(t, err)
}
