package signaling

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

const (
	statusRinging        = 180
	statusMovedTemp      = 302
	statusRequestPending = 491
)

func (e *Engine) registerHandlers() {
	e.server.OnInvite(e.handleInvite)
	e.server.OnAck(e.handleAck)
	e.server.OnBye(e.handleBye)
	e.server.OnCancel(e.handleCancel)
	e.server.OnRefer(e.handleRefer)
	e.server.OnNotify(e.handleNotify)
	e.server.OnInfo(e.handleInfo)
	e.server.OnOptions(e.handleOptions)
}

func (e *Engine) reply(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"method": req.Method.String(),
			"code":   code,
		}).Error("ошибка отправки ответа")
	}
}

// handleInvite новый входящий вызов или re-INVITE известного диалога.
// Обработчик держит транзакцию до её завершения.
func (e *Engine) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID()
	if callID == nil {
		e.reply(req, tx, sip.StatusBadRequest, "Call-ID отсутствует")
		return
	}

	if h, ok := e.lookupCallID(callID.Value()); ok {
		if !e.post(func() { e.onReinvite(h, req, tx) }) {
			return
		}
		select {
		case <-tx.Done():
		case <-e.ctx.Done():
		}
		return
	}

	if !e.post(func() { e.onIncoming(req, tx) }) {
		return
	}
	// CANCEL к этой транзакции обрабатывает sipgo (200 и 487) и до
	// OnCancel сервера он не доходит. Done наступает только после
	// таймера I, поэтому вызов снимается здесь.
	tx.OnCancel(func(*sip.Request) {
		go e.post(func() { e.onInviteDone(req) })
	})
	select {
	case <-tx.Done():
	case <-e.ctx.Done():
		return
	}
	e.post(func() { e.onInviteDone(req) })
}

func (e *Engine) onIncoming(req *sip.Request, tx sip.ServerTransaction) {
	line := e.lineFor(req.Recipient.User)
	log := e.log.WithFields(logrus.Fields{"line": line.cfg.DN, "call_id": req.CallID().Value()})

	if line.cfwdAll && line.cfwdTarget != "" {
		res := sip.NewResponseFromRequest(req, statusMovedTemp, "Moved Temporarily", nil)
		res.AppendHeader(&sip.ContactHeader{Address: e.targetURI(line.cfwdTarget, line.cfg.Proxy, line.cfg.Port)})
		if err := tx.Respond(res); err != nil {
			log.WithError(err).Error("ошибка переадресации вызова")
		}
		log.WithField("target", line.cfwdTarget).Info("входящий вызов переадресован")
		return
	}

	var remote remoteMedia
	lateOffer := len(req.Body()) == 0
	if !lateOffer {
		var err error
		remote, err = parseRemote(req.Body())
		if err != nil {
			log.WithError(err).Warn("SDP входящего вызова не принят")
			e.reply(req, tx, statusNotAcceptableHere, "Not Acceptable Here")
			return
		}
	}

	var replaced *sipCall
	if h := req.GetHeader("Replaces"); h != nil {
		replaced = e.replacedCall(h.Value())
		if replaced == nil {
			e.reply(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
			return
		}
	}

	e.mu.Lock()
	h := e.allocHandleLocked()
	e.snapshots[h] = session.CallInfo{Handle: h, Line: line.id, State: session.CallStateRingIn, Direction: session.CallDirectionIncoming}
	e.mu.Unlock()

	c := e.newCall(h, line, session.CallDirectionIncoming)
	c.learnIncomingDialog(req)
	c.remoteInvite, c.inviteTx = req, tx
	c.remote, c.lateOffer = remote, lateOffer
	e.trackCallID(c)

	if err := e.respondInvite(c, statusRinging, "Ringing", nil); err != nil {
		delete(e.calls, h)
		e.mu.Lock()
		delete(e.snapshots, h)
		delete(e.byCallID, c.callID)
		e.mu.Unlock()
		return
	}
	log.WithFields(logrus.Fields{"call": h, "from": c.callingNumber}).Info("входящий вызов")
	c.state = session.CallStateRingIn
	e.emitCall(c, session.CallEventCreated)
	e.emitCall(c, session.CallEventState)
	if remote.video != nil {
		e.emitCall(c, session.CallEventVideoOffered)
	}

	if replaced != nil {
		e.answerCall(c, session.DirectionSendRecv)
		e.hangup(replaced, "диалог заменён")
	}
}

// onInviteDone транзакция входящего INVITE завершилась. Вызов без
// ответа отменён вызывающей стороной или истёк по таймеру.
func (e *Engine) onInviteDone(req *sip.Request) {
	h, ok := e.lookupCallID(req.CallID().Value())
	if !ok {
		return
	}
	c, ok := e.calls[h]
	if !ok || c.remoteInvite != req || c.state != session.CallStateRingIn {
		return
	}
	c.inviteTx = nil
	e.setOnHook(c)
}

func (e *Engine) onReinvite(h session.CallHandle, req *sip.Request, tx sip.ServerTransaction) {
	c, ok := e.calls[h]
	if !ok || !c.established {
		e.reply(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	if c.pending != pendingNone {
		e.reply(req, tx, statusRequestPending, "Request Pending")
		return
	}
	if contact := req.Contact(); contact != nil {
		c.remoteTarget = contact.Address
	}

	var body []byte
	var err error
	videoOffered := false
	if len(req.Body()) == 0 {
		c.lateOffer = true
		body, err = e.offer(c, c.localDirection(), c.videoDir)
	} else {
		remote, perr := parseRemote(req.Body())
		if perr != nil {
			e.log.WithError(perr).WithField("call", h).Warn("SDP re-INVITE не принят")
			e.reply(req, tx, statusNotAcceptableHere, "Not Acceptable Here")
			return
		}
		videoOffered = remote.video != nil && c.remote.video == nil
		c.remote = remote
		if remote.video == nil && c.videoStream != 0 {
			e.closeStream(c, c.videoStream)
			c.videoStream, c.videoPort = 0, 0
		}
		e.connectMedia(c)
		body, err = e.answer(c, c.localDirection())
	}
	if err != nil {
		e.log.WithError(err).WithField("call", h).Error("не удалось собрать SDP")
		e.reply(req, tx, statusNotAcceptableHere, "Not Acceptable Here")
		return
	}

	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", body)
	res.AppendHeader(e.contactFor(c.line.cfg))
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(res); err != nil {
		e.log.WithError(err).WithField("call", h).Error("ошибка ответа на re-INVITE")
		return
	}

	if c.remote.audio != nil {
		held := c.remote.audio.held()
		switch {
		case held && c.state == session.CallStateConnected:
			e.setState(c, session.CallStateRemoteHold)
		case !held && c.state == session.CallStateRemoteHold:
			e.setState(c, session.CallStateConnected)
		}
	}
	if videoOffered {
		e.emitCall(c, session.CallEventVideoOffered)
	}
}

func (e *Engine) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	h, ok := e.lookupCallID(req.CallID().Value())
	if !ok || len(req.Body()) == 0 {
		return
	}
	body := req.Body()
	e.post(func() {
		c, ok := e.calls[h]
		if !ok || !c.lateOffer {
			return
		}
		c.lateOffer = false
		if err := e.applyRemote(c, body); err != nil {
			e.log.WithError(err).WithField("call", h).Warn("SDP в ACK не принят")
			e.sendBye(c)
			e.setOnHook(c)
		}
	})
}

func (e *Engine) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	h, ok := e.lookupCallID(req.CallID().Value())
	if !ok {
		e.reply(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	e.reply(req, tx, sip.StatusOK, "OK")
	e.post(func() {
		c, ok := e.calls[h]
		if !ok {
			return
		}
		e.log.WithField("call", h).Info("удалённая сторона завершила вызов")
		e.setOnHook(c)
	})
}

// handleCancel получает только CANCEL без подходящей транзакции INVITE.
func (e *Engine) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	h, ok := e.lookupCallID(req.CallID().Value())
	if !ok {
		e.reply(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	e.reply(req, tx, sip.StatusOK, "OK")
	e.post(func() {
		c, ok := e.calls[h]
		if !ok || c.state != session.CallStateRingIn {
			return
		}
		_ = e.respondInvite(c, sip.StatusRequestTerminated, "Request Terminated", nil)
		e.setOnHook(c)
	})
}

// handleRefer принимает перевод: новый вызов на Refer-To, итог
// сообщается в NOTIFY message/sipfrag.
func (e *Engine) handleRefer(req *sip.Request, tx sip.ServerTransaction) {
	h, ok := e.lookupCallID(req.CallID().Value())
	if !ok {
		e.reply(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	referTo := req.GetHeader("Refer-To")
	if referTo == nil {
		e.reply(req, tx, sip.StatusBadRequest, "Refer-To отсутствует")
		return
	}
	target, err := parseReferTarget(referTo.Value())
	if err != nil {
		e.reply(req, tx, sip.StatusBadRequest, "некорректный Refer-To")
		return
	}
	replaces := referReplaces(referTo.Value())
	e.reply(req, tx, sip.StatusAccepted, "Accepted")

	e.post(func() {
		orig, ok := e.calls[h]
		if !ok || !orig.established {
			return
		}
		e.sendReferNotify(orig, sip.StatusTrying, "Trying", false)

		e.mu.Lock()
		nh := e.allocHandleLocked()
		e.snapshots[nh] = session.CallInfo{Handle: nh, Line: orig.line.id, State: session.CallStateOffHook}
		e.mu.Unlock()

		c := e.newCall(nh, orig.line, session.CallDirectionOutgoing)
		c.referredBy = orig.handle
		e.emitCall(c, session.CallEventCreated)
		e.emitCall(c, session.CallEventState)

		var extra []sip.Header
		if replaces != "" {
			extra = append(extra, sip.NewHeader("Replaces", replaces))
		}
		e.log.WithFields(logrus.Fields{"call": nh, "referred_by": h, "target": target.String()}).Info("вызов по REFER")
		e.dial(c, session.DirectionSendRecv, target, target.Host != orig.line.cfg.Proxy, extra...)
	})
}

func (e *Engine) handleNotify(req *sip.Request, tx sip.ServerTransaction) {
	e.reply(req, tx, sip.StatusOK, "OK")

	event := ""
	if h := req.GetHeader("Event"); h != nil {
		event, _, _ = strings.Cut(h.Value(), ";")
		event = strings.ToLower(strings.TrimSpace(event))
	}
	body := req.Body()
	switch event {
	case "refer":
		h, ok := e.lookupCallID(req.CallID().Value())
		if !ok {
			return
		}
		code := parseSipfragStatusCode(body)
		e.post(func() {
			if c, ok := e.calls[h]; ok {
				e.onTransferResult(c, code)
			}
		})
	case "message-summary":
		user := req.Recipient.User
		waiting := messagesWaiting(body)
		e.post(func() { e.onMWI(user, waiting) })
	case "dialog":
		e.post(func() { e.onDialogInfo(body) })
	default:
		e.log.WithField("event", event).Debug("NOTIFY проигнорирован")
	}
}

func (e *Engine) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	h, ok := e.lookupCallID(req.CallID().Value())
	if !ok {
		e.reply(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist")
		return
	}
	e.reply(req, tx, sip.StatusOK, "OK")
	pkg := ""
	if hdr := req.GetHeader("Info-Package"); hdr != nil {
		pkg = hdr.Value()
	} else if ct := req.GetHeader("Content-Type"); ct != nil {
		pkg = ct.Value()
	}
	body := string(req.Body())
	e.post(func() {
		c, ok := e.calls[h]
		if !ok {
			return
		}
		c.infoPackage, c.infoBody = pkg, body
		e.emitCall(c, session.CallEventReceivedInfo)
	})
}

func (e *Engine) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", allowMethods))
	if err := tx.Respond(res); err != nil {
		e.log.WithError(err).Debug("ошибка ответа на OPTIONS")
	}
}

// lineFor линия по пользователю Request-URI. По умолчанию первая.
func (e *Engine) lineFor(user string) *lineState {
	for _, l := range e.lines {
		if user != "" && (l.cfg.DN == user || l.cfg.Contact == user) {
			return l
		}
	}
	return e.lines[0]
}

// replacedCall вызов, диалог которого указан в Replaces.
func (e *Engine) replacedCall(value string) *sipCall {
	parts := strings.Split(value, ";")
	callID := strings.TrimSpace(parts[0])
	var toTag, fromTag string
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
		switch strings.ToLower(k) {
		case "to-tag":
			toTag = v
		case "from-tag":
			fromTag = v
		}
	}
	h, ok := e.lookupCallID(callID)
	if !ok {
		return nil
	}
	c, ok := e.calls[h]
	if !ok || c.localTag != toTag || c.remoteTag != fromTag {
		return nil
	}
	return c
}

func (e *Engine) onMWI(user string, waiting bool) {
	line := e.lineFor(user)
	if line.mwi != waiting {
		line.mwi = waiting
		e.emitLine(line, session.LineEventMWI)
	}
	lamp := false
	for _, l := range e.lines {
		lamp = lamp || l.mwi
	}
	e.mu.Lock()
	changed := e.mwiLamp != lamp
	e.mwiLamp = lamp
	e.mu.Unlock()
	e.emitDevice(session.DeviceEventMWI)
	if changed {
		e.emitDevice(session.DeviceEventMWILamp)
	}
}

// referReplaces значение Replaces из заголовков URI в Refer-To.
func referReplaces(value string) string {
	_, query, ok := strings.Cut(value, "?")
	if !ok {
		return ""
	}
	query, _, _ = strings.Cut(query, ">")
	for _, kv := range strings.Split(query, "&") {
		k, v, _ := strings.Cut(kv, "=")
		if strings.EqualFold(k, "Replaces") {
			if unescaped, err := url.QueryUnescape(v); err == nil {
				return unescaped
			}
			return v
		}
	}
	return ""
}

// messagesWaiting разбирает application/simple-message-summary.
func messagesWaiting(body []byte) bool {
	for _, line := range strings.Split(string(body), "\n") {
		k, v, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), "Messages-Waiting") {
			return strings.EqualFold(strings.TrimSpace(v), "yes")
		}
	}
	return false
}

// parseSipfragStatusCode код ответа из тела message/sipfrag
// ("SIP/2.0 200 OK"). 0, если разобрать не удалось.
func parseSipfragStatusCode(body []byte) int {
	firstLine, _, _ := bytes.Cut(body, []byte("\n"))
	parts := strings.Fields(string(firstLine))
	if len(parts) < 2 {
		return 0
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return code
}
