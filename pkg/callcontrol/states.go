package callcontrol

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// ConnectionState состояние подключения менеджера к устройству.
type ConnectionState int

const (
	ConnectionIdle ConnectionState = iota
	ConnectionRegistering
	ConnectionReady
	ConnectionFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionIdle:
		return "idle"
	case ConnectionRegistering:
		return "registering"
	case ConnectionReady:
		return "ready"
	case ConnectionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func parseConnectionState(s string) ConnectionState {
	switch s {
	case "registering":
		return ConnectionRegistering
	case "ready":
		return ConnectionReady
	case "failed":
		return ConnectionFailed
	default:
		return ConnectionIdle
	}
}

// AuthenticationState состояние аутентификации в CCMCIP.
type AuthenticationState int

const (
	AuthNotAuthenticated AuthenticationState = iota
	AuthInProgress
	AuthAuthenticated
	AuthFailed
)

func (s AuthenticationState) String() string {
	switch s {
	case AuthNotAuthenticated:
		return "not_authenticated"
	case AuthInProgress:
		return "in_progress"
	case AuthAuthenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AvailablePhoneEvent изменение в хранилище сведений об устройствах.
type AvailablePhoneEvent int

const (
	PhoneFound AvailablePhoneEvent = iota
	PhoneUpdated
	PhoneLost
)

func (e AvailablePhoneEvent) String() string {
	switch e {
	case PhoneFound:
		return "found"
	case PhoneUpdated:
		return "updated"
	case PhoneLost:
		return "lost"
	default:
		return "unknown"
	}
}

// События автомата подключения.
const (
	eventRegister   = "register"
	eventReady      = "ready"
	eventFail       = "fail"
	eventDisconnect = "disconnect"
)

var allConnectionStates = []string{"idle", "registering", "ready", "failed"}

// newConnectionFSM автомат Idle -> Registering -> {Ready | Failed},
// из Ready disconnect возвращает в Idle, из Failed новая попытка
// снова входит в Registering.
func newConnectionFSM(onEnter func(from, to ConnectionState)) *fsm.FSM {
	return fsm.NewFSM(
		ConnectionIdle.String(),
		fsm.Events{
			{Name: eventRegister, Src: allConnectionStates, Dst: ConnectionRegistering.String()},
			{Name: eventReady, Src: []string{"registering", "ready"}, Dst: ConnectionReady.String()},
			{Name: eventFail, Src: allConnectionStates, Dst: ConnectionFailed.String()},
			{Name: eventDisconnect, Src: allConnectionStates, Dst: ConnectionIdle.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(parseConnectionState(e.Src), parseConnectionState(e.Dst))
			},
		},
	)
}

func connectionEvent(s ConnectionState) string {
	switch s {
	case ConnectionRegistering:
		return eventRegister
	case ConnectionReady:
		return eventReady
	case ConnectionFailed:
		return eventFail
	default:
		return eventDisconnect
	}
}

// fireConnectionEvent переход, повтор текущего состояния не ошибка.
func fireConnectionEvent(f *fsm.FSM, to ConnectionState) error {
	err := f.Event(context.Background(), connectionEvent(to))
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return err
}
