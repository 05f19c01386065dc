package signaling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

const maxAuthAttempts = 2

var ErrAuthRejected = errors.New("сервер отклонил учётные данные линии")

// register отправляет REGISTER линии с ответом на digest запрос.
// expiry 0 снимает регистрацию.
func (e *Engine) register(ctx context.Context, line LineConfig, expiry time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	recipient := e.targetURI("", line.Proxy, line.Port)
	aor := sip.Uri{Scheme: "sip", User: line.DN, Host: line.Proxy}
	callID := sip.CallIDHeader(uuid.NewString())
	tag := sip.RandString(10)
	log := e.log.WithFields(logrus.Fields{"line": line.DN, "proxy": line.Proxy})

	var authName, authValue string
	for attempt := 1; ; attempt++ {
		req := sip.NewRequest(sip.REGISTER, recipient)
		req.AppendHeader(&callID)
		req.AppendHeader(&sip.FromHeader{DisplayName: line.DisplayName, Address: aor, Params: sip.NewParams().Add("tag", tag)})
		req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})
		req.AppendHeader(&sip.CSeqHeader{SeqNo: uint32(attempt), MethodName: sip.REGISTER})
		req.AppendHeader(e.contactFor(line))
		req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expiry.Seconds()))))
		req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
		if authValue != "" {
			req.AppendHeader(sip.NewHeader(authName, authValue))
		}

		res, err := e.client.Do(ctx, req)
		if err != nil {
			return fmt.Errorf("ошибка отправки REGISTER: %w", err)
		}
		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			log.WithField("expires", expiry).Debug("REGISTER принят")
			return nil
		case res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired:
			if attempt >= maxAuthAttempts || line.AuthPassword == "" {
				return ErrAuthRejected
			}
			authName, authValue, err = authorize(req, res, line)
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("REGISTER отклонён: %d %s", res.StatusCode, res.Reason)
		}
	}
}

// authorize вычисляет заголовок авторизации для ответа 401/407.
func authorize(req *sip.Request, res *sip.Response, line LineConfig) (string, string, error) {
	challengeName, authName := "WWW-Authenticate", "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		challengeName, authName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	h := res.GetHeader(challengeName)
	if h == nil {
		return "", "", fmt.Errorf("в ответе %d нет заголовка %s", res.StatusCode, challengeName)
	}
	challenge, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return "", "", fmt.Errorf("некорректный digest запрос %q: %w", h.Value(), err)
	}
	cred, err := digest.Digest(challenge, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: line.AuthName,
		Password: line.AuthPassword,
	})
	if err != nil {
		return "", "", fmt.Errorf("ошибка вычисления digest: %w", err)
	}
	return authName, cred.String(), nil
}

// contactFor Contact линии с текущим локальным адресом.
func (e *Engine) contactFor(line LineConfig) *sip.ContactHeader {
	uri := sip.Uri{
		Scheme:    "sip",
		User:      line.Contact,
		Host:      e.localAddress(),
		Port:      e.ListenPort(),
		UriParams: sip.NewParams(),
	}
	if e.opts.Device.Transport != TransportUDP {
		uri.UriParams = uri.UriParams.Add("transport", e.opts.Device.Transport.network())
	}
	return &sip.ContactHeader{DisplayName: line.DisplayName, Address: uri}
}

// targetURI URI запроса вне диалога с параметром transport для TCP/TLS.
func (e *Engine) targetURI(user, host string, port int) sip.Uri {
	uri := sip.Uri{Scheme: "sip", User: user, Host: host, Port: port, UriParams: sip.NewParams()}
	if e.opts.Device.Transport != TransportUDP {
		uri.UriParams = uri.UriParams.Add("transport", e.opts.Device.Transport.network())
	}
	return uri
}

// refreshLoop обновляет регистрацию на половине срока.
func (e *Engine) refreshLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.RegisterExpiry / 2)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.refreshRegistrations()
		}
	}
}

func (e *Engine) refreshRegistrations() {
	results := make([]error, len(e.lines))
	for i, line := range e.lines {
		results[i] = e.register(e.ctx, line.cfg, e.opts.RegisterExpiry)
		if results[i] != nil {
			e.log.WithError(results[i]).WithField("line", line.cfg.DN).Warn("обновление регистрации не выполнено")
		}
	}
	e.post(func() { e.applyRegistrations(results) })
}

// applyRegistrations сообщает об изменившихся регистрациях и
// состоянии обслуживания.
func (e *Engine) applyRegistrations(results []error) {
	inService := false
	for i, line := range e.lines {
		ok := results[i] == nil
		inService = inService || ok
		if line.registered != ok {
			line.registered = ok
			e.emitLine(line, session.LineEventRegState)
		}
	}
	state := session.ServiceStateOutOfService
	if inService {
		state = session.ServiceStateInService
	}
	e.mu.Lock()
	changed := e.service != state
	e.service = state
	e.mu.Unlock()
	if changed {
		e.emitDevice(session.DeviceEventState)
	}
}
