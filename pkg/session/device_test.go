package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callcontrol/pkg/session"
	"github.com/arzzra/callcontrol/pkg/session/sessiontest"
)

// recordingObserver записывает события в порядке поступления
type recordingObserver struct {
	mu      sync.Mutex
	devices []session.DeviceEvent
	lines   []session.LineEvent
	feats   []session.FeatureEvent
	calls   []session.CallInfo
	callObj []*session.Call
}

func (o *recordingObserver) OnDeviceEvent(ev session.DeviceEvent, _ *session.Device, _ session.DeviceInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices = append(o.devices, ev)
}

func (o *recordingObserver) OnFeatureEvent(ev session.FeatureEvent, _ *session.Device, _ session.FeatureInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feats = append(o.feats, ev)
}

func (o *recordingObserver) OnLineEvent(ev session.LineEvent, _ *session.Device, _ session.LineInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, ev)
}

func (o *recordingObserver) OnCallEvent(_ session.CallEvent, call *session.Call, info session.CallInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, info)
	o.callObj = append(o.callObj, call)
}

func startedDevice(t *testing.T) (*session.Device, *sessiontest.Engine, *recordingObserver) {
	t.Helper()
	engine := sessiontest.NewEngine()
	dev := session.NewDevice("SEP001122334455", engine, session.DeviceOptions{
		Audio: sessiontest.NewAudio(60),
		Video: sessiontest.NewVideo(),
	})
	obs := &recordingObserver{}
	dev.SetObserver(obs)
	require.NoError(t, dev.Start(context.Background()))
	return dev, engine, obs
}

func TestDeviceStartStop(t *testing.T) {
	dev, engine, _ := startedDevice(t)
	assert.NotEmpty(t, dev.ID())
	assert.True(t, dev.Started())
	assert.ErrorIs(t, dev.Start(context.Background()), session.ErrDeviceStarted)

	require.NoError(t, dev.Stop(context.Background()))
	require.NoError(t, dev.Stop(context.Background()))
	assert.Equal(t, 1, engine.Stops)
	assert.False(t, dev.Started())
}

func TestDeviceStartFailure(t *testing.T) {
	engine := sessiontest.NewEngine()
	engine.StartErr = errors.New("register timeout")
	dev := session.NewDevice("SEP1", engine, session.DeviceOptions{})

	err := dev.Start(context.Background())
	assert.ErrorIs(t, err, engine.StartErr)
	assert.False(t, dev.Started())

	_, err = dev.CreateCall(1)
	assert.ErrorIs(t, err, session.ErrDeviceNotStarted)
}

func TestDeviceRelaysEvents(t *testing.T) {
	_, engine, obs := startedDevice(t)
	l := engine.CurrentListener()
	require.NotNil(t, l)

	l.OnDeviceEvent(session.DeviceEventState, session.DeviceInfo{Name: "SEP1"})
	l.OnLineEvent(session.LineEventRegState, session.LineInfo{ID: 1})
	l.OnFeatureEvent(session.FeatureEventBLF, session.FeatureInfo{ID: 2})

	assert.Equal(t, []session.DeviceEvent{session.DeviceEventState}, obs.devices)
	assert.Equal(t, []session.LineEvent{session.LineEventRegState}, obs.lines)
	assert.Equal(t, []session.FeatureEvent{session.FeatureEventBLF}, obs.feats)
}

// TestDeviceCallRegistry вызов создаётся по первому событию и
// удаляется после ONHOOK
func TestDeviceCallRegistry(t *testing.T) {
	dev, engine, obs := startedDevice(t)
	l := engine.CurrentListener()

	l.OnCallEvent(session.CallEventCreated, 7, session.CallInfo{Handle: 7, Line: 1, State: session.CallStateRingIn})
	call, ok := dev.Call(7)
	require.True(t, ok)
	assert.Equal(t, session.LineID(1), call.Line())

	l.OnStreamAdded(7, 1, false)
	l.OnCallEvent(session.CallEventState, 7, session.CallInfo{Handle: 7, Line: 1, State: session.CallStateConnected})

	require.Len(t, obs.calls, 2)
	assert.Same(t, call, obs.callObj[1])
	require.NotNil(t, obs.calls[1].Media)
	assert.Equal(t, map[int]bool{1: false}, obs.calls[1].Media.Streams)
	assert.Equal(t, 60, obs.calls[1].Media.Volume)

	l.OnStreamRemoved(7, 1)
	l.OnStreamRemoved(99, 1)
	l.OnCallEvent(session.CallEventState, 7, session.CallInfo{Handle: 7, Line: 1, State: session.CallStateOnHook})
	_, ok = dev.Call(7)
	assert.False(t, ok)
	assert.Len(t, obs.calls, 3)
}

func TestDeviceCreateCall(t *testing.T) {
	dev, _, _ := startedDevice(t)

	c1, err := dev.CreateCall(1)
	require.NoError(t, err)
	c2, err := dev.CreateCall(2)
	require.NoError(t, err)

	assert.NotEqual(t, c1.Handle(), c2.Handle())
	assert.Equal(t, []*session.Call{c1, c2}, dev.Calls())
}

func TestDeviceDetachedObserver(t *testing.T) {
	dev, engine, obs := startedDevice(t)
	l := engine.CurrentListener()
	dev.SetObserver(nil)

	l.OnDeviceEvent(session.DeviceEventState, session.DeviceInfo{})
	assert.Empty(t, obs.devices)
}

func TestDeviceSetLocalAddress(t *testing.T) {
	dev, engine, _ := startedDevice(t)
	dev.SetLocalAddress("10.0.0.5", "10.0.0.1")
	assert.Equal(t, "10.0.0.5", engine.LocalIP)
	assert.Equal(t, "10.0.0.1", engine.Gateway)
}
