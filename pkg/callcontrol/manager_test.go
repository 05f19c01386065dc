package callcontrol

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/arzzra/callcontrol/pkg/provisioning"
	"github.com/arzzra/callcontrol/pkg/session"
	"github.com/arzzra/callcontrol/pkg/session/sessiontest"
)

// ManagerTestSuite тесты менеджера поверх подменённых каталога,
// источника конфигурации и движка сигнализации.
type ManagerTestSuite struct {
	suite.Suite
	ctx       context.Context
	fetcher   *stubFetcher
	retriever *stubRetriever
	engine    *sessiontest.Engine
	engineMu  sync.Mutex
	engineCfg []EngineConfig
	factory   error
	manager   *Manager
	conn      *connRecorder
}

func (s *ManagerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.fetcher = newStubFetcher()
	s.retriever = &stubRetriever{}
	s.engine = sessiontest.NewEngine()
	s.engineCfg = nil
	s.factory = nil

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s.manager = NewManager(Options{
		DeviceListFetcher: s.fetcher,
		ConfigRetriever:   s.retriever,
		EngineFactory: func(cfg EngineConfig) (session.Engine, error) {
			s.engineMu.Lock()
			defer s.engineMu.Unlock()
			s.engineCfg = append(s.engineCfg, cfg)
			if s.factory != nil {
				return nil, s.factory
			}
			return s.engine, nil
		},
		Audio:  sessiontest.NewAudio(50),
		Video:  sessiontest.NewVideo(),
		Logger: logrus.NewEntry(logger),
	})
	s.conn = &connRecorder{}
	s.manager.AddConnectionObserver(s.conn)
}

func (s *ManagerTestSuite) TearDownTest() {
	s.Require().NoError(s.manager.Close(s.ctx))
}

func (s *ManagerTestSuite) lastEngineConfig() EngineConfig {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	s.Require().NotEmpty(s.engineCfg)
	return s.engineCfg[len(s.engineCfg)-1]
}

// connectReady подключает устройство SEP0001 с готовой конфигурацией.
func (s *ManagerTestSuite) connectReady() {
	s.manager.SetLocalAddressAndGateway("10.0.0.5", "10.0.0.1")
	s.manager.SetDeviceConfig("SEP0001", []byte("<device/>"))
	s.Require().NoError(s.manager.Connect(s.ctx, "SEP0001", ""))
	s.Require().Equal(ConnectionReady, s.manager.ConnectionStatus())
}

func (s *ManagerTestSuite) TestInitialState() {
	s.Equal(ConnectionIdle, s.manager.ConnectionStatus())
	s.Equal(AuthNotAuthenticated, s.manager.AuthenticationStatus())
	s.Empty(s.manager.AvailablePhoneDetails())
	s.Nil(s.manager.ActiveDevice())
	s.Empty(s.manager.CurrentServer())
	s.NotNil(s.manager.Registry())
}

func (s *ManagerTestSuite) TestAuthenticateWithoutServers() {
	s.manager.SetAuthenticationCredentials("alice", "secret")

	err := s.manager.Authenticate(s.ctx)

	s.ErrorIs(err, AuthNoServersConfigured)
	s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
	s.Empty(s.fetcher.called())
	s.Equal([]ConnectionState{ConnectionRegistering, ConnectionFailed}, s.conn.connectionStates())
}

func (s *ManagerTestSuite) TestAuthenticateWithoutCredentials() {
	s.manager.SetProvisioningServers([]string{"cucm1"})

	err := s.manager.Authenticate(s.ctx)

	s.ErrorIs(err, AuthNoCredentialsConfigured)
	s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
	s.Empty(s.fetcher.called())
}

func (s *ManagerTestSuite) TestAuthenticateTriesServersInOrder() {
	s.manager.SetAuthenticationCredentials("alice", "secret")
	s.manager.SetProvisioningServers([]string{"cucm1", "cucm2", "cucm3"})
	s.fetcher.respond("cucm3", provisioning.DeviceMap{
		"SEP0001":  {Name: "SEP0001", Description: "desk", Model: "Cisco 7960"},
		"CSFALICE": {Name: "CSFALICE", Description: "soft", Model: "Client Services Framework"},
	}, nil)

	s.Require().NoError(s.manager.Authenticate(s.ctx))

	s.Equal([]string{"cucm1", "cucm2", "cucm3"}, s.fetcher.called())
	s.Equal("cucm3", s.manager.LastProvisioningServer())
	s.Equal(AuthAuthenticated, s.manager.AuthenticationStatus())
	s.Equal([]AuthenticationState{AuthInProgress, AuthAuthenticated}, s.conn.authStates())

	s.Equal([]phoneEvent{
		{ev: PhoneFound, name: "CSFALICE"},
		{ev: PhoneFound, name: "SEP0001"},
	}, s.conn.phoneEvents())

	phones := s.manager.AvailablePhoneDetails()
	s.Require().Len(phones, 2)
	s.Equal("CSFALICE", phones[0].Name())
	s.True(phones[0].IsSoftPhone())
	s.False(phones[1].IsSoftPhone())
	s.Equal(NoConfig, phones[1].ConfigStatus())
	s.Equal(-1, phones[1].Model())

	s.InDelta(2, testutil.ToFloat64(s.manager.metrics.authAttempts.WithLabelValues("CouldNotConnect")), 0)
	s.InDelta(1, testutil.ToFloat64(s.manager.metrics.authAttempts.WithLabelValues("NoError")), 0)
}

func (s *ManagerTestSuite) TestReauthenticateReportsUpdated() {
	s.manager.SetAuthenticationCredentials("alice", "secret")
	s.manager.SetProvisioningServers([]string{"cucm1"})
	s.fetcher.respond("cucm1", provisioning.DeviceMap{
		"SEP0001": {Name: "SEP0001", Model: "Cisco 7960"},
	}, nil)

	s.Require().NoError(s.manager.Authenticate(s.ctx))
	first, ok := s.manager.PhoneDetails("SEP0001")
	s.Require().True(ok)
	s.Require().NoError(s.manager.Authenticate(s.ctx))
	second, _ := s.manager.PhoneDetails("SEP0001")

	s.Same(first, second)
	s.Equal([]phoneEvent{
		{ev: PhoneFound, name: "SEP0001"},
		{ev: PhoneUpdated, name: "SEP0001"},
	}, s.conn.phoneEvents())
}

func (s *ManagerTestSuite) TestCredentialsRejectedStopsWithoutMultiCluster() {
	s.manager.SetAuthenticationCredentials("alice", "wrong")
	s.manager.SetProvisioningServers([]string{"cucm1", "cucm2"})
	s.fetcher.respond("cucm1", nil, provisioning.ErrDeviceListAuthFailed)
	s.fetcher.respond("cucm2", provisioning.DeviceMap{"SEP0001": {Name: "SEP0001"}}, nil)

	err := s.manager.Authenticate(s.ctx)

	s.ErrorIs(err, AuthCredentialsRejected)
	s.Equal([]string{"cucm1"}, s.fetcher.called())
	s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
	s.Equal(AuthFailed, s.manager.AuthenticationStatus())
	s.Empty(s.manager.AvailablePhoneDetails())
}

func (s *ManagerTestSuite) TestCredentialsRejectedContinuesInMultiCluster() {
	s.manager.SetAuthenticationCredentials("alice", "secret")
	s.manager.SetProvisioningServers([]string{"cucm1", "cucm2"})
	s.manager.SetMultiClusterMode(true)
	s.fetcher.respond("cucm1", nil, provisioning.ErrDeviceListAuthFailed)
	s.fetcher.respond("cucm2", provisioning.DeviceMap{"SEP0001": {Name: "SEP0001"}}, nil)

	s.Require().NoError(s.manager.Authenticate(s.ctx))

	s.Equal([]string{"cucm1", "cucm2"}, s.fetcher.called())
	s.Equal("cucm2", s.manager.LastProvisioningServer())
	s.Equal(AuthAuthenticated, s.manager.AuthenticationStatus())
}

func (s *ManagerTestSuite) TestSetDeviceConfigRoundTrip() {
	s.manager.SetDeviceConfig("SEP0001", []byte("<device/>"))

	p, ok := s.manager.PhoneDetails("SEP0001")
	s.Require().True(ok)
	s.Equal(CachedConfig, p.ConfigStatus())
	s.Equal([]byte("<device/>"), p.Config())

	s.manager.SetDeviceConfig("SEP0001", nil)

	s.Equal(NoConfig, p.ConfigStatus())
	s.Empty(p.Config())
	s.Equal([]phoneEvent{
		{ev: PhoneFound, name: "SEP0001"},
		{ev: PhoneUpdated, name: "SEP0001"},
	}, s.conn.phoneEvents())
}

func (s *ManagerTestSuite) TestFetchDeviceConfigPreconditions() {
	s.ErrorIs(s.manager.FetchDeviceConfig(s.ctx, "SEP0001"), provisioning.RetrievalNoServersConfigured)

	s.manager.SetConfigServers([]string{"tftp1"})
	s.ErrorIs(s.manager.FetchDeviceConfig(s.ctx, ""), provisioning.RetrievalNoDeviceNameConfigured)
	s.Zero(s.retriever.calls())
}

func (s *ManagerTestSuite) TestFetchDeviceConfig() {
	s.manager.SetConfigServers([]string{"tftp1", "tftp2"})
	s.manager.SetAuthenticationString("token")
	s.manager.SetSecureCachePath("/var/cache/softphone")
	s.retriever.result = provisioning.ConfigResult{Config: []byte("<device/>"), Server: "tftp2"}

	s.Require().NoError(s.manager.FetchDeviceConfig(s.ctx, "SEP0001"))

	p, ok := s.manager.PhoneDetails("SEP0001")
	s.Require().True(ok)
	s.Equal(FetchedConfig, p.ConfigStatus())
	s.Equal("tftp2", s.manager.LastConfigServer())

	req := s.retriever.requests[0]
	s.Equal([]string{"tftp1", "tftp2"}, req.Servers)
	s.Equal("token", req.AuthString)
	s.Equal("/var/cache/softphone", req.CachePath)
	s.Equal("SEP0001", req.DeviceName)
}

func (s *ManagerTestSuite) TestFetchDeviceConfigFromCache() {
	s.manager.SetConfigServers([]string{"tftp1"})
	s.retriever.result = provisioning.ConfigResult{Config: []byte("<device/>"), FromCache: true}

	s.Require().NoError(s.manager.FetchDeviceConfig(s.ctx, "SEP0001"))

	p, _ := s.manager.PhoneDetails("SEP0001")
	s.Equal(CachedConfig, p.ConfigStatus())
	s.Empty(s.manager.LastConfigServer())
}

func (s *ManagerTestSuite) TestFetchDeviceConfigPassesFailureThrough() {
	s.manager.SetConfigServers([]string{"tftp1"})
	s.retriever.err = provisioning.RetrievalFileNotFound

	err := s.manager.FetchDeviceConfig(s.ctx, "SEP0001")

	s.Equal(provisioning.RetrievalFileNotFound, err)
	_, ok := s.manager.PhoneDetails("SEP0001")
	s.False(ok)
}

func (s *ManagerTestSuite) TestObserverRegistrationIsIdempotent() {
	s.manager.AddConnectionObserver(s.conn)
	s.manager.AddConnectionObserver(nil)
	s.Equal(1, s.manager.connObservers.count())

	s.manager.SetDeviceConfig("SEP0001", []byte("x"))
	s.Len(s.conn.phoneEvents(), 1)

	s.manager.RemoveConnectionObserver(s.conn)
	s.manager.RemoveConnectionObserver(s.conn)
	s.Zero(s.manager.connObservers.count())

	s.manager.SetDeviceConfig("SEP0001", nil)
	s.Len(s.conn.phoneEvents(), 1)

	rec := &callRecorder{}
	s.manager.AddCallObserver(rec)
	s.manager.AddCallObserver(rec)
	s.manager.AddCallObserver(nil)
	s.Equal(1, s.manager.callObservers.count())
}

func (s *ManagerTestSuite) TestObserverMayRemoveItselfDuringDelivery() {
	o := &selfRemovingObserver{m: s.manager}
	s.manager.AddConnectionObserver(o)
	s.manager.SetLocalAddressAndGateway("", "")

	s.Error(s.manager.Connect(s.ctx, "SEP0001", ""))

	s.Equal([]ConnectionState{ConnectionRegistering}, o.connectionStates())
	s.Equal([]ConnectionState{ConnectionRegistering, ConnectionFailed}, s.conn.connectionStates())
}

func (s *ManagerTestSuite) TestConnectRequiresLocalAddress() {
	for _, ip := range []string{"", "127.0.0.1"} {
		s.manager.SetLocalAddressAndGateway(ip, "")
		err := s.manager.Connect(s.ctx, "SEP0001", "")
		s.ErrorIs(err, ErrNoLocalAddress, ip)
		s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
	}
	s.Zero(s.engine.Starts)
}

func (s *ManagerTestSuite) TestConnectSelectsSoftPhoneAfterAuthentication() {
	s.manager.SetLocalAddressAndGateway("10.0.0.5", "10.0.0.1")
	s.manager.SetAuthenticationCredentials("alice", "secret")
	s.manager.SetProvisioningServers([]string{"cucm1"})
	s.manager.SetConfigServers([]string{"tftp1"})
	s.manager.SetSignalingLogMask(7)
	s.fetcher.respond("cucm1", provisioning.DeviceMap{
		"ASEP0001": {Name: "ASEP0001", Model: "Cisco 7960"},
		"CSFALICE": {Name: "CSFALICE", Model: "client services framework"},
	}, nil)
	s.retriever.result = provisioning.ConfigResult{Config: []byte("<device/>"), Server: "tftp1"}

	s.Require().NoError(s.manager.Connect(s.ctx, "", ""))

	s.Equal(ConnectionReady, s.manager.ConnectionStatus())
	s.Equal("CSFALICE", s.manager.PreferredDeviceName())
	s.Require().NotNil(s.manager.ActiveDevice())
	s.Equal("CSFALICE", s.manager.ActiveDevice().Name())
	s.Equal(1, s.engine.Starts)

	cfg := s.lastEngineConfig()
	s.Equal("CSFALICE", cfg.DeviceName)
	s.Equal([]byte("<device/>"), cfg.Config)
	s.Equal("10.0.0.5", cfg.LocalAddr)
	s.Equal("10.0.0.1", cfg.Gateway)
	s.Equal(7, cfg.LogMask)

	states := s.conn.connectionStates()
	s.Equal(ConnectionRegistering, states[0])
	s.Equal(ConnectionReady, states[len(states)-1])
}

func (s *ManagerTestSuite) TestConnectWithoutAnyDevice() {
	s.manager.SetLocalAddressAndGateway("10.0.0.5", "")

	err := s.manager.Connect(s.ctx, "", "")

	s.ErrorIs(err, ErrNoDeviceSelected)
	s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
}

func (s *ManagerTestSuite) TestConnectRejectsLineDN() {
	s.manager.SetLocalAddressAndGateway("10.0.0.5", "")
	s.manager.SetConfigServers([]string{"tftp1"})

	err := s.manager.Connect(s.ctx, "SEP0001", "1000")

	s.ErrorIs(err, ErrLineDNNotSupported)
	s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
	s.Zero(s.retriever.calls())
}

func (s *ManagerTestSuite) TestConnectFailsWithoutConfig() {
	s.manager.SetLocalAddressAndGateway("10.0.0.5", "")
	s.manager.SetConfigServers([]string{"tftp1"})
	s.retriever.err = provisioning.RetrievalFileNotFound

	err := s.manager.Connect(s.ctx, "SEP0001", "")

	s.ErrorIs(err, ErrNoDeviceConfig)
	s.ErrorIs(err, provisioning.RetrievalFileNotFound)
	s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
	s.Nil(s.manager.ActiveDevice())
}

func (s *ManagerTestSuite) TestConnectUsesKnownConfig() {
	s.connectReady()

	s.Zero(s.retriever.calls())
	s.Equal([]byte("<device/>"), s.lastEngineConfig().Config)
}

func (s *ManagerTestSuite) TestSecondConnectIsRejected() {
	s.connectReady()
	before := s.conn.connectionStates()

	s.ErrorIs(s.manager.Connect(s.ctx, "SEP0001", ""), ErrAlreadyConnected)
	s.ErrorIs(s.manager.RegisterUser(s.ctx, "SEP0001", "alice", "example.com", ""), ErrAlreadyConnected)

	s.Equal(ConnectionReady, s.manager.ConnectionStatus())
	s.Equal(append(before, ConnectionReady, ConnectionReady), s.conn.connectionStates())
	s.Equal(1, s.engine.Starts)
}

func (s *ManagerTestSuite) TestEngineStartFailure() {
	s.engine.StartErr = errors.New("transport down")
	s.manager.SetLocalAddressAndGateway("10.0.0.5", "")
	s.manager.SetDeviceConfig("SEP0001", []byte("<device/>"))

	err := s.manager.Connect(s.ctx, "SEP0001", "")

	s.Error(err)
	s.ErrorIs(err, s.engine.StartErr)
	s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
	s.Nil(s.manager.ActiveDevice())

	s.engine.StartErr = nil
	s.Require().NoError(s.manager.Connect(s.ctx, "SEP0001", ""))
	s.Equal(ConnectionReady, s.manager.ConnectionStatus())
}

func (s *ManagerTestSuite) TestEngineFactoryFailure() {
	s.factory = errors.New("bad config")
	s.manager.SetLocalAddressAndGateway("10.0.0.5", "")
	s.manager.SetDeviceConfig("SEP0001", []byte("<device/>"))

	s.ErrorIs(s.manager.Connect(s.ctx, "SEP0001", ""), s.factory)
	s.Equal(ConnectionFailed, s.manager.ConnectionStatus())
}

func (s *ManagerTestSuite) TestRegisterUser() {
	s.manager.SetLocalAddressAndGateway("10.0.0.5", "")

	s.Require().NoError(s.manager.RegisterUser(s.ctx, "SEP0001", "alice", "example.com", "sip:alice@10.0.0.5"))

	cfg := s.lastEngineConfig()
	s.Equal("alice", cfg.User)
	s.Equal("example.com", cfg.Domain)
	s.Equal("sip:alice@10.0.0.5", cfg.Contact)
	s.Empty(cfg.Config)
	s.Equal(ConnectionReady, s.manager.ConnectionStatus())
}

func (s *ManagerTestSuite) TestDisconnect() {
	s.Require().NoError(s.manager.Disconnect(s.ctx))
	s.Empty(s.conn.connectionStates())

	s.connectReady()
	s.Require().NoError(s.manager.Disconnect(s.ctx))
	s.Require().NoError(s.manager.Disconnect(s.ctx))

	s.Equal(ConnectionIdle, s.manager.ConnectionStatus())
	s.Nil(s.manager.ActiveDevice())
	s.Equal(1, s.engine.Stops)
	states := s.conn.connectionStates()
	s.Equal(ConnectionIdle, states[len(states)-1])

	_, err := s.manager.CreateCall(1)
	s.ErrorIs(err, ErrNotConnected)
}

func (s *ManagerTestSuite) TestLocalAddressReachesLiveDevice() {
	s.connectReady()

	s.manager.SetLocalAddressAndGateway("10.0.0.9", "10.0.0.1")

	s.Equal("10.0.0.9", s.engine.LocalIP)
	s.Equal("10.0.0.1", s.engine.Gateway)
}

func (s *ManagerTestSuite) TestCurrentServer() {
	s.engine.Device = session.DeviceInfo{Name: "SEP0001", Server: "cucm1:5060"}
	s.connectReady()

	s.Equal("cucm1:5060", s.manager.CurrentServer())
}

func (s *ManagerTestSuite) TestRelaysSessionEvents() {
	rec := &callRecorder{}
	s.manager.AddCallObserver(rec)
	s.connectReady()

	l := s.engine.CurrentListener()
	s.Require().NotNil(l)

	l.OnDeviceEvent(session.DeviceEventState, session.DeviceInfo{ServiceState: session.ServiceStateInService})
	l.OnLineEvent(session.LineEventConfigChanged, session.LineInfo{ID: 1, Number: "1000"})
	l.OnLineEvent(session.LineEventConfigChanged, session.LineInfo{ID: 1, Number: "1000"})
	l.OnFeatureEvent(session.FeatureEventBLF, session.FeatureInfo{ID: 3})

	p, _ := s.manager.PhoneDetails("SEP0001")
	s.Equal(session.ServiceStateInService, p.ServiceState())
	s.Equal([]string{"1000"}, p.LineDNs())

	l.OnCallEvent(session.CallEventState, 7, session.CallInfo{Handle: 7, Line: 1, State: session.CallStateConnected})
	s.InDelta(1, testutil.ToFloat64(s.manager.metrics.activeCalls), 0)

	l.OnCallEvent(session.CallEventState, 7, session.CallInfo{Handle: 7, Line: 1, State: session.CallStateOnHook})
	s.InDelta(0, testutil.ToFloat64(s.manager.metrics.activeCalls), 0)

	infos := rec.callInfos()
	s.Require().Len(infos, 2)
	s.Equal(session.CallHandle(7), infos[0].Handle)
	s.NotNil(infos[0].Media)

	s.InDelta(2, testutil.ToFloat64(s.manager.metrics.relayedEvents.WithLabelValues("call")), 0)
	s.InDelta(2, testutil.ToFloat64(s.manager.metrics.relayedEvents.WithLabelValues("line")), 0)
	s.Len(rec.devices, 1)
	s.Len(rec.feature, 1)
}

func (s *ManagerTestSuite) TestCreateCallOnActiveDevice() {
	s.connectReady()

	call, err := s.manager.CreateCall(1)

	s.Require().NoError(err)
	s.Equal(session.LineID(1), call.Line())
}

func (s *ManagerTestSuite) TestConnectionTransitionsMetric() {
	s.connectReady()

	s.InDelta(1, testutil.ToFloat64(s.manager.metrics.connectionTransitions.WithLabelValues("idle", "registering")), 0)
	s.InDelta(1, testutil.ToFloat64(s.manager.metrics.connectionTransitions.WithLabelValues("registering", "ready")), 0)
	s.InDelta(float64(ConnectionReady), testutil.ToFloat64(s.manager.metrics.connectionState), 0)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func TestConnectionFSMAcceptsRepeatedState(t *testing.T) {
	var transitions [][2]ConnectionState
	f := newConnectionFSM(func(from, to ConnectionState) {
		transitions = append(transitions, [2]ConnectionState{from, to})
	})

	require.NoError(t, fireConnectionEvent(f, ConnectionRegistering))
	require.NoError(t, fireConnectionEvent(f, ConnectionRegistering))
	require.NoError(t, fireConnectionEvent(f, ConnectionReady))
	require.NoError(t, fireConnectionEvent(f, ConnectionIdle))

	assert.Equal(t, [][2]ConnectionState{
		{ConnectionIdle, ConnectionRegistering},
		{ConnectionRegistering, ConnectionReady},
		{ConnectionReady, ConnectionIdle},
	}, transitions)
}

func TestConnectionFSMRejectsReadyFromIdle(t *testing.T) {
	f := newConnectionFSM(func(ConnectionState, ConnectionState) {})

	assert.Error(t, fireConnectionEvent(f, ConnectionReady))
	assert.Equal(t, "idle", f.Current())
}

func TestClassifyDeviceListError(t *testing.T) {
	cases := map[AuthFailure]error{
		AuthNoError:                   nil,
		AuthCouldNotConnect:           provisioning.ErrDeviceListTimeout,
		AuthCredentialsRejected:       provisioning.ErrDeviceListAuthFailed,
		AuthResponseEmpty:             provisioning.ErrDeviceListEmpty,
		AuthResponseInvalid:           provisioning.ErrDeviceListParseFailed,
		AuthServerCertificateRejected: provisioning.ErrDeviceListCertRejected,
	}
	for want, err := range cases {
		assert.Equal(t, want, classifyDeviceListError(err), want.String())
	}
	assert.Equal(t, AuthCouldNotConnect, classifyDeviceListError(errors.New("boom")))
}

func TestIsSoftPhone(t *testing.T) {
	p := newPhoneDetails("CSFALICE")
	assert.False(t, p.IsSoftPhone())

	p.setDirectoryInfo("", "CISCO IP COMMUNICATOR")
	assert.True(t, p.IsSoftPhone())

	p.setDirectoryInfo("", "Cisco 7960")
	assert.False(t, p.IsSoftPhone())
}
