// Package sessiontest управляемые подмены движка сигнализации и медиа
// терминаций для тестов пакетов, построенных поверх session.
package sessiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/arzzra/callcontrol/pkg/session"
)

// Op одна записанная операция движка.
type Op struct {
	Name   string
	Handle session.CallHandle
	Other  session.CallHandle
	Arg    string
}

// Engine движок сигнализации в памяти. Записывает все операции и
// возвращает ошибки из Errors по имени операции.
type Engine struct {
	mu sync.Mutex

	Errors   map[string]error
	StartErr error
	StopErr  error

	Ops       []Op
	Listener  session.Listener
	Starts    int
	Stops     int
	LocalIP   string
	Gateway   string
	Device    session.DeviceInfo
	CallInfos map[session.CallHandle]session.CallInfo

	next session.CallHandle
}

// NewEngine движок без ошибок.
func NewEngine() *Engine {
	return &Engine{
		Errors:    make(map[string]error),
		CallInfos: make(map[session.CallHandle]session.CallInfo),
	}
}

// Fail задаёт ошибку для операции name.
func (e *Engine) Fail(name string, err error) {
	e.mu.Lock()
	e.Errors[name] = err
	e.mu.Unlock()
}

// Recorded копия записанных операций.
func (e *Engine) Recorded() []Op {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Op, len(e.Ops))
	copy(out, e.Ops)
	return out
}

// Count число операций name.
func (e *Engine) Count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, op := range e.Ops {
		if op.Name == name {
			n++
		}
	}
	return n
}

// CurrentListener слушатель, переданный в Start.
func (e *Engine) CurrentListener() session.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Listener
}

func (e *Engine) record(op Op) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Ops = append(e.Ops, op)
	return e.Errors[op.Name]
}

func (e *Engine) Start(_ context.Context, l session.Listener) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Starts++
	if e.StartErr != nil {
		return e.StartErr
	}
	e.Listener = l
	return nil
}

func (e *Engine) Stop(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Stops++
	e.Listener = nil
	return e.StopErr
}

func (e *Engine) CreateCall(line session.LineID) (session.CallHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Errors["CreateCall"]; err != nil {
		return 0, err
	}
	e.next++
	e.CallInfos[e.next] = session.CallInfo{Handle: e.next, Line: line, State: session.CallStateOffHook}
	return e.next, nil
}

func (e *Engine) DeviceInfo() session.DeviceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Device
}

func (e *Engine) SetLocalAddress(ip, gateway string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LocalIP, e.Gateway = ip, gateway
}

func (e *Engine) CallInfo(h session.CallHandle) (session.CallInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.CallInfos[h]
	if !ok {
		return session.CallInfo{}, fmt.Errorf("call %d not found", h)
	}
	return info, nil
}

func (e *Engine) Originate(h session.CallHandle, dir session.MediaDirection, digits string) error {
	return e.record(Op{Name: "Originate", Handle: h, Arg: digits})
}

func (e *Engine) OriginateP2P(h session.CallHandle, dir session.MediaDirection, digits, ip string) error {
	return e.record(Op{Name: "OriginateP2P", Handle: h, Arg: digits + "@" + ip})
}

func (e *Engine) Answer(h session.CallHandle, dir session.MediaDirection) error {
	return e.record(Op{Name: "Answer", Handle: h, Arg: dir.String()})
}

func (e *Engine) Hold(h session.CallHandle, reason session.HoldReason) error {
	return e.record(Op{Name: "Hold", Handle: h, Arg: reason.String()})
}

func (e *Engine) Resume(h session.CallHandle, dir session.MediaDirection) error {
	return e.record(Op{Name: "Resume", Handle: h, Arg: dir.String()})
}

func (e *Engine) End(h session.CallHandle) error {
	return e.record(Op{Name: "End", Handle: h})
}

func (e *Engine) SendDigit(h session.CallHandle, digit rune) error {
	return e.record(Op{Name: "SendDigit", Handle: h, Arg: string(digit)})
}

func (e *Engine) Backspace(h session.CallHandle) error {
	return e.record(Op{Name: "Backspace", Handle: h})
}

func (e *Engine) Redial(h session.CallHandle, dir session.MediaDirection) error {
	return e.record(Op{Name: "Redial", Handle: h, Arg: dir.String()})
}

func (e *Engine) InitiateCallForwardAll(h session.CallHandle) error {
	return e.record(Op{Name: "InitiateCallForwardAll", Handle: h})
}

func (e *Engine) EndConsultativeCall(h session.CallHandle) error {
	return e.record(Op{Name: "EndConsultativeCall", Handle: h})
}

func (e *Engine) ConferenceStart(h session.CallHandle, dir session.MediaDirection) error {
	return e.record(Op{Name: "ConferenceStart", Handle: h})
}

func (e *Engine) ConferenceComplete(h, other session.CallHandle, dir session.MediaDirection) error {
	return e.record(Op{Name: "ConferenceComplete", Handle: h, Other: other})
}

func (e *Engine) TransferStart(h session.CallHandle, dir session.MediaDirection) error {
	return e.record(Op{Name: "TransferStart", Handle: h})
}

func (e *Engine) TransferComplete(h, other session.CallHandle, dir session.MediaDirection) error {
	return e.record(Op{Name: "TransferComplete", Handle: h, Other: other})
}

func (e *Engine) CancelTransferOrConference(h session.CallHandle) error {
	return e.record(Op{Name: "CancelTransferOrConference", Handle: h})
}

func (e *Engine) DirectTransfer(h, target session.CallHandle) error {
	return e.record(Op{Name: "DirectTransfer", Handle: h, Other: target})
}

func (e *Engine) JoinAcrossLine(h, target session.CallHandle) error {
	return e.record(Op{Name: "JoinAcrossLine", Handle: h, Other: target})
}

func (e *Engine) BLFCallPickup(h session.CallHandle, dir session.MediaDirection, speedDial string) error {
	return e.record(Op{Name: "BLFCallPickup", Handle: h, Arg: speedDial})
}

func (e *Engine) Select(h session.CallHandle) error {
	return e.record(Op{Name: "Select", Handle: h})
}

func (e *Engine) UpdateVideoMediaCap(h session.CallHandle, dir session.MediaDirection) error {
	return e.record(Op{Name: "UpdateVideoMediaCap", Handle: h, Arg: dir.String()})
}

func (e *Engine) SendInfo(h session.CallHandle, infoPackage, infoType, body string) error {
	return e.record(Op{Name: "SendInfo", Handle: h, Arg: infoPackage + "|" + infoType + "|" + body})
}

func (e *Engine) SetAudioMute(h session.CallHandle, mute bool) error {
	return e.record(Op{Name: "SetAudioMute", Handle: h, Arg: fmt.Sprint(mute)})
}

func (e *Engine) SetVideoMute(h session.CallHandle, mute bool) error {
	return e.record(Op{Name: "SetVideoMute", Handle: h, Arg: fmt.Sprint(mute)})
}

var _ session.Engine = (*Engine)(nil)
