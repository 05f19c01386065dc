package signaling

import (
	"context"
	"fmt"
	"strings"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

const allowMethods = "INVITE, ACK, CANCEL, BYE, REFER, NOTIFY, INFO, OPTIONS"

const (
	statusRequestTimeout     = 408
	statusBusyHere           = 486
	statusNotAcceptableHere  = 488
	statusServiceUnavailable = 503
	statusBusyEverywhere     = 600
	statusDecline            = 603
)

// Originate набирает digits (или уже набранные цифры) через прокси линии.
func (e *Engine) Originate(h session.CallHandle, dir session.MediaDirection, digits string) error {
	return e.submit(h, "originate", func(c *sipCall) {
		e.originate(c, dir, digits, "")
	})
}

// OriginateP2P вызывает адрес host[:port] напрямую, без прокси.
func (e *Engine) OriginateP2P(h session.CallHandle, dir session.MediaDirection, digits, ip string) error {
	if _, _, err := splitHostPort(ip); err != nil {
		return fmt.Errorf("originate p2p: %w", err)
	}
	return e.submit(h, "originate_p2p", func(c *sipCall) {
		e.originate(c, dir, digits, ip)
	})
}

func (e *Engine) Answer(h session.CallHandle, dir session.MediaDirection) error {
	return e.submit(h, "answer", func(c *sipCall) { e.answerCall(c, dir) })
}

func (e *Engine) Hold(h session.CallHandle, reason session.HoldReason) error {
	return e.submit(h, "hold", func(c *sipCall) { e.hold(c, reason) })
}

func (e *Engine) Resume(h session.CallHandle, dir session.MediaDirection) error {
	return e.submit(h, "resume", func(c *sipCall) { e.resume(c, dir, pendingResume) })
}

func (e *Engine) End(h session.CallHandle) error {
	return e.submit(h, "end", func(c *sipCall) { e.hangup(c, "завершение вызова") })
}

// SendDigit добавляет цифру к набору или, на установленном вызове без
// telephone-event, отправляет её в INFO (application/dtmf-relay).
func (e *Engine) SendDigit(h session.CallHandle, digit rune) error {
	if _, ok := session.ToneForDigit(digit); !ok {
		return fmt.Errorf("send digit: недопустимая цифра %q", digit)
	}
	return e.submit(h, "send_digit", func(c *sipCall) { e.sendDigit(c, digit) })
}

func (e *Engine) Backspace(h session.CallHandle) error {
	return e.submit(h, "backspace", func(c *sipCall) {
		if c.state != session.CallStateOffHook && c.state != session.CallStateDialing {
			return
		}
		if c.digits == "" {
			return
		}
		r := []rune(c.digits)
		c.digits = string(r[:len(r)-1])
		e.emitCall(c, session.CallEventLastDigitDeleted)
	})
}

// Redial повторяет последний набранный на линии номер.
func (e *Engine) Redial(h session.CallHandle, dir session.MediaDirection) error {
	return e.submit(h, "redial", func(c *sipCall) {
		if c.line.lastDialed == "" {
			e.setStatus(c, "нет номера для повторного набора")
			return
		}
		e.originate(c, dir, c.line.lastDialed, "")
	})
}

// InitiateCallForwardAll включает переадресацию всех вызовов линии на
// номер, который будет набран в этом вызове, или выключает её.
func (e *Engine) InitiateCallForwardAll(h session.CallHandle) error {
	return e.submit(h, "cfwd_all", func(c *sipCall) {
		if c.state != session.CallStateOffHook && c.state != session.CallStateDialing {
			e.setStatus(c, "переадресация недоступна в текущем состоянии")
			return
		}
		if c.line.cfwdAll {
			c.line.cfwdAll, c.line.cfwdTarget = false, ""
			e.emitLine(c.line, session.LineEventCFwdAll)
			e.setStatus(c, "переадресация отключена")
			e.setOnHook(c)
			return
		}
		c.forwardAll = true
		e.setStatus(c, "переадресация: наберите номер")
	})
}

func (e *Engine) EndConsultativeCall(h session.CallHandle) error {
	return e.submit(h, "end_consult", func(c *sipCall) {
		orig, leg := e.consultPair(c)
		if leg == nil {
			e.setStatus(c, "нет консультационного вызова")
			return
		}
		e.hangup(leg, "завершение консультации")
		if orig != nil && orig.state == session.CallStateHold {
			e.resume(orig, orig.audioDir, pendingResume)
		}
	})
}

func (e *Engine) ConferenceStart(h session.CallHandle, dir session.MediaDirection) error {
	return e.submit(h, "conference_start", func(c *sipCall) {
		e.startConsult(c, dir, consultConference)
	})
}

func (e *Engine) ConferenceComplete(h, other session.CallHandle, dir session.MediaDirection) error {
	return e.submitPair(h, other, "conference_complete", func(a, b *sipCall) { e.join(a, b, dir) })
}

func (e *Engine) TransferStart(h session.CallHandle, dir session.MediaDirection) error {
	return e.submit(h, "transfer_start", func(c *sipCall) {
		e.startConsult(c, dir, consultTransfer)
	})
}

func (e *Engine) TransferComplete(h, other session.CallHandle, dir session.MediaDirection) error {
	return e.submitPair(h, other, "transfer_complete", func(a, b *sipCall) {
		orig, leg := a, b
		if a.consultLeg {
			orig, leg = b, a
		}
		e.transfer(orig, leg)
	})
}

// CancelTransferOrConference завершает консультационный вызов. Исходный
// вызов остаётся на удержании.
func (e *Engine) CancelTransferOrConference(h session.CallHandle) error {
	return e.submit(h, "cancel_xfer_conf", func(c *sipCall) {
		_, leg := e.consultPair(c)
		if leg == nil {
			e.setStatus(c, "нет перевода или конференции")
			return
		}
		e.hangup(leg, "отмена перевода или конференции")
	})
}

func (e *Engine) DirectTransfer(h, target session.CallHandle) error {
	return e.submitPair(h, target, "direct_transfer", func(a, b *sipCall) { e.transfer(a, b) })
}

func (e *Engine) JoinAcrossLine(h, target session.CallHandle) error {
	return e.submitPair(h, target, "join_across_line", func(a, b *sipCall) { e.join(a, b, a.audioDir) })
}

// BLFCallPickup перехватывает вызов, звонящий на speedDial. Если по
// подписке на dialog известен ранний диалог, INVITE несёт Replaces.
func (e *Engine) BLFCallPickup(h session.CallHandle, dir session.MediaDirection, speedDial string) error {
	if strings.TrimSpace(speedDial) == "" {
		return fmt.Errorf("blf pickup: %w", ErrInvalidOperation)
	}
	return e.submit(h, "blf_pickup", func(c *sipCall) {
		var extra []sip.Header
		if replaces, ok := e.blfDialogs[speedDial]; ok {
			extra = append(extra, sip.NewHeader("Replaces", replaces+";early-only"))
		}
		e.originate(c, dir, speedDial, "", extra...)
	})
}

// Select делает вызов выбранным, снимая выбор с остальных.
func (e *Engine) Select(h session.CallHandle) error {
	return e.submit(h, "select", func(c *sipCall) {
		for _, other := range e.calls {
			if other != c && other.selected {
				other.selected = false
				e.emitCall(other, session.CallEventSelect)
			}
		}
		if !c.selected {
			c.selected = true
			e.emitCall(c, session.CallEventSelect)
		}
	})
}

// UpdateVideoMediaCap меняет желаемое направление видео. На активном
// вызове отправляется re-INVITE.
func (e *Engine) UpdateVideoMediaCap(h session.CallHandle, dir session.MediaDirection) error {
	return e.submit(h, "update_video", func(c *sipCall) {
		c.videoDir = dir
		if !c.active() || c.pending != pendingNone {
			e.emitCall(c, session.CallEventCapability)
			return
		}
		if err := e.openMedia(c, c.wantVideo()); err != nil {
			e.log.WithError(err).WithField("call", c.handle).Warn("не удалось изменить видео поток")
			e.setStatus(c, "видео недоступно")
			return
		}
		c.pending = pendingMedia
		e.reinvite(c, c.localDirection(), dir)
	})
}

func (e *Engine) SendInfo(h session.CallHandle, infoPackage, infoType, body string) error {
	return e.submit(h, "send_info", func(c *sipCall) {
		if !c.established {
			e.setStatus(c, "INFO недоступен до установления вызова")
			return
		}
		req := c.newRequest(sip.INFO, e.contactFor(c.line.cfg), e.opts.UserAgent)
		if infoPackage != "" {
			req.AppendHeader(sip.NewHeader("Info-Package", infoPackage))
		}
		if infoType != "" {
			req.AppendHeader(sip.NewHeader("Content-Type", infoType))
		}
		req.SetBody([]byte(body))
		h := c.handle
		e.send(req, func(res *sip.Response, err error) {
			if failed(res, err) {
				if c, ok := e.calls[h]; ok {
					e.setStatus(c, "INFO не доставлен")
				}
			}
		})
	})
}

func (e *Engine) SetAudioMute(h session.CallHandle, mute bool) error {
	return e.submit(h, "audio_mute", func(c *sipCall) {
		c.audioMuted = mute
		e.emitCall(c, session.CallEventAttr)
	})
}

func (e *Engine) SetVideoMute(h session.CallHandle, mute bool) error {
	return e.submit(h, "video_mute", func(c *sipCall) {
		c.videoMuted = mute
		e.emitCall(c, session.CallEventAttr)
	})
}

// submitPair операция над двумя вызовами.
func (e *Engine) submitPair(h, other session.CallHandle, op string, fn func(a, b *sipCall)) error {
	e.mu.Lock()
	_, known := e.snapshots[other]
	e.mu.Unlock()
	if !known {
		return fmt.Errorf("%s: %w", op, ErrCallNotFound)
	}
	return e.submit(h, op, func(c *sipCall) {
		peer, ok := e.calls[other]
		if !ok || peer == c {
			e.setStatus(c, "второй вызов не найден")
			return
		}
		fn(c, peer)
	})
}

func (e *Engine) setState(c *sipCall, st session.CallState) {
	c.state = st
	e.emitCall(c, session.CallEventState)
}

func (e *Engine) setStatus(c *sipCall, status string) {
	c.status = status
	e.emitCall(c, session.CallEventStatus)
}

// setOnHook освобождает медиа, разрывает связь с парным вызовом и
// публикует ONHOOK. После этого вызов удалён из движка.
func (e *Engine) setOnHook(c *sipCall) {
	if c.state == session.CallStateOnHook {
		return
	}
	e.closeMedia(c)
	e.unlinkPeer(c)
	c.inviteTx = nil
	e.setState(c, session.CallStateOnHook)
}

func (e *Engine) unlinkPeer(c *sipCall) {
	if c.peer == 0 {
		return
	}
	peer, ok := e.calls[c.peer]
	c.peer = 0
	if !ok || peer.peer != c.handle {
		return
	}
	peer.peer = 0
	kind := peer.consult
	peer.consult, peer.transferring = consultNone, false
	switch {
	case peer.state == session.CallStateConference:
		e.setState(peer, session.CallStateConnected)
	case kind != consultNone && !c.referDone:
		e.emitCall(peer, session.CallEventXferOrConfCancelled)
	}
}

// consultPair исходный и консультационный вызовы, в которых участвует c.
func (e *Engine) consultPair(c *sipCall) (orig, leg *sipCall) {
	peer := e.calls[c.peer]
	if peer == nil {
		return nil, nil
	}
	if c.consultLeg {
		return peer, c
	}
	if peer.consultLeg {
		return c, peer
	}
	return nil, nil
}

func (e *Engine) originate(c *sipCall, dir session.MediaDirection, digits, host string, extra ...sip.Header) {
	if c.state != session.CallStateOffHook && c.state != session.CallStateDialing {
		e.setStatus(c, "набор недоступен в текущем состоянии")
		return
	}
	if digits == "" {
		digits = c.digits
	}
	if digits == "" {
		e.setStatus(c, "номер не набран")
		return
	}
	if c.forwardAll {
		c.forwardAll = false
		c.line.cfwdAll, c.line.cfwdTarget = true, digits
		e.emitLine(c.line, session.LineEventCFwdAll)
		e.setStatus(c, "переадресация на "+digits)
		e.setOnHook(c)
		return
	}

	target := e.targetURI(digits, c.line.cfg.Proxy, c.line.cfg.Port)
	if host != "" {
		h, port, err := splitHostPort(host)
		if err != nil {
			e.setStatus(c, err.Error())
			return
		}
		target = e.targetURI(digits, h, port)
	}
	c.line.lastDialed = digits
	e.dial(c, dir, target, host != "", extra...)
}

// dial отправляет начальный INVITE на target. direct вызов без прокси:
// From несёт локальный адрес.
func (e *Engine) dial(c *sipCall, dir session.MediaDirection, target sip.Uri, direct bool, extra ...sip.Header) {
	c.digits = target.User
	c.calledNumber = target.User
	c.callingName, c.callingNumber = c.line.cfg.DisplayName, c.line.cfg.DN
	c.audioDir = dir
	c.callID = uuid.NewString()
	c.localAddr = sip.Uri{Scheme: "sip", User: c.line.cfg.DN, Host: c.line.cfg.Proxy}
	if direct {
		c.localAddr.Host = e.localAddress()
	}
	c.remoteAddr = sip.Uri{Scheme: "sip", User: target.User, Host: target.Host, Port: target.Port}
	c.remoteTarget = target
	e.trackCallID(c)

	if err := e.openMedia(c, c.wantVideo()); err != nil {
		e.log.WithError(err).WithField("call", c.handle).Error("не удалось открыть медиа")
		c.status = "нет медиа ресурсов"
		e.setState(c, session.CallStateReorder)
		return
	}
	body, err := e.offer(c, dir, c.videoDir)
	if err != nil {
		e.log.WithError(err).WithField("call", c.handle).Error("не удалось собрать SDP")
		e.setState(c, session.CallStateReorder)
		return
	}
	if c.state != session.CallStateDialing {
		e.setState(c, session.CallStateDialing)
	}
	e.log.WithFields(logrus.Fields{"call": c.handle, "target": target.String()}).Info("исходящий вызов")
	e.sendInvite(c, body, extra...)
}

// sendInvite отправляет INVITE (начальный или re-INVITE) и запускает
// ожидание ответов.
func (e *Engine) sendInvite(c *sipCall, body []byte, extra ...sip.Header) {
	req := c.newRequest(sip.INVITE, e.contactFor(c.line.cfg), e.opts.UserAgent)
	req.AppendHeader(sip.NewHeader("Allow", allowMethods))
	for _, h := range extra {
		req.AppendHeader(h)
	}
	if len(body) > 0 {
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
		req.SetBody(body)
	}
	c.inviteBody, c.inviteExtra = body, extra

	tx, err := e.client.TransactionRequest(e.ctx, req)
	if err != nil {
		e.log.WithError(err).WithField("call", c.handle).Error("ошибка отправки INVITE")
		c.invite = req
		e.onInviteFailed(c.handle, req, err)
		return
	}
	c.invite, c.outTx = req, tx
	e.wg.Add(1)
	go e.awaitInvite(c.handle, req, tx)
}

// awaitInvite передаёт ответы транзакции INVITE в рабочую горутину.
func (e *Engine) awaitInvite(h session.CallHandle, req *sip.Request, tx sip.ClientTransaction) {
	defer e.wg.Done()
	deliver := func(res *sip.Response) bool {
		e.post(func() { e.onInviteResponse(h, req, res) })
		return res.StatusCode >= 200
	}
	for {
		select {
		case res := <-tx.Responses():
			if deliver(res) {
				return
			}
		case <-tx.Done():
			select {
			case res := <-tx.Responses():
				if deliver(res) {
					return
				}
			default:
			}
			err := tx.Err()
			e.post(func() { e.onInviteFailed(h, req, err) })
			return
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) onInviteResponse(h session.CallHandle, req *sip.Request, res *sip.Response) {
	c, ok := e.calls[h]
	if !ok || c.invite != req {
		return
	}
	log := e.log.WithFields(logrus.Fields{"call": h, "code": res.StatusCode})
	code := res.StatusCode

	if (code == sip.StatusUnauthorized || code == sip.StatusProxyAuthRequired) && !c.authTried && c.line.cfg.AuthPassword != "" {
		name, value, err := authorize(req, res, c.line.cfg)
		if err == nil {
			c.authTried = true
			c.outTx = nil
			log.Debug("повтор INVITE с авторизацией")
			e.sendInvite(c, c.inviteBody, append(c.inviteExtra, sip.NewHeader(name, value))...)
			return
		}
		log.WithError(err).Warn("авторизация INVITE невозможна")
	}

	if c.established {
		e.onReinviteResponse(c, res)
		return
	}

	switch {
	case code == 100:
		if c.state == session.CallStateDialing {
			e.setState(c, session.CallStateProceed)
		}
	case code < 200:
		if body := res.Body(); len(body) > 0 && !c.ending {
			if err := e.applyRemote(c, body); err != nil {
				log.WithError(err).Debug("ранний SDP не принят")
			}
		}
		if c.state != session.CallStateRingOut {
			e.setState(c, session.CallStateRingOut)
		}
	case code < 300:
		c.outTx = nil
		c.learnDialog(res)
		c.established = true
		e.ack(c, req.CSeq().SeqNo)
		if c.ending {
			e.sendBye(c)
			e.setOnHook(c)
			return
		}
		if err := e.applyRemote(c, res.Body()); err != nil {
			log.WithError(err).Warn("SDP ответа не принят")
			e.sendBye(c)
			c.status = "несовместимые медиа параметры"
			e.setOnHook(c)
			return
		}
		if c.remote.audio.held() {
			e.setState(c, session.CallStateRemoteHold)
		} else {
			e.setState(c, session.CallStateConnected)
		}
		e.notifyReferResult(c, code, res.Reason)
	case code < 400 && !c.redirected:
		contact := res.Contact()
		if contact == nil {
			e.inviteRejected(c, code, res.Reason)
			return
		}
		log.WithField("contact", contact.Address.String()).Info("вызов перенаправлен")
		c.redirected = true
		c.outTx = nil
		c.remoteTarget = contact.Address
		body, err := e.offer(c, c.audioDir, c.videoDir)
		if err != nil {
			e.inviteRejected(c, code, res.Reason)
			return
		}
		e.sendInvite(c, body, c.inviteExtra...)
	default:
		e.inviteRejected(c, code, res.Reason)
	}
}

func (e *Engine) inviteRejected(c *sipCall, code int, reason string) {
	c.outTx = nil
	e.notifyReferResult(c, code, reason)
	if c.ending || code == sip.StatusRequestTerminated {
		e.setOnHook(c)
		return
	}
	e.closeMedia(c)
	c.status = fmt.Sprintf("%d %s", code, reason)
	switch code {
	case statusBusyHere, statusBusyEverywhere, statusDecline:
		e.setState(c, session.CallStateBusy)
	default:
		e.setState(c, session.CallStateReorder)
	}
}

// onInviteFailed транзакция INVITE завершилась без финального ответа.
func (e *Engine) onInviteFailed(h session.CallHandle, req *sip.Request, err error) {
	c, ok := e.calls[h]
	if !ok || c.invite != req {
		return
	}
	e.log.WithError(err).WithField("call", h).Warn("INVITE без финального ответа")
	c.outTx = nil
	if c.established {
		e.reinviteFailed(c, statusRequestTimeout, "Request Timeout")
		return
	}
	e.inviteRejected(c, statusRequestTimeout, "нет ответа")
}

func (e *Engine) onReinviteResponse(c *sipCall, res *sip.Response) {
	code := res.StatusCode
	if code < 200 {
		return
	}
	c.outTx = nil
	if code >= 300 {
		e.reinviteFailed(c, code, res.Reason)
		return
	}
	if contact := res.Contact(); contact != nil {
		c.remoteTarget = contact.Address
	}
	e.ack(c, res.CSeq().SeqNo)
	if body := res.Body(); len(body) > 0 {
		if err := e.applyRemote(c, body); err != nil {
			e.log.WithError(err).WithField("call", c.handle).Warn("SDP ответа на re-INVITE не принят")
		}
	}

	op := c.pending
	c.pending = pendingNone
	switch op {
	case pendingHold:
		e.setState(c, session.CallStateHold)
	case pendingResume:
		if c.remote.audio.held() {
			e.setState(c, session.CallStateRemoteHold)
		} else {
			e.setState(c, session.CallStateConnected)
		}
	case pendingConference:
		e.setState(c, session.CallStateConference)
		if peer, ok := e.calls[c.peer]; ok && peer.state != session.CallStateConference {
			e.setState(peer, session.CallStateConference)
		}
	case pendingMedia:
		e.emitCall(c, session.CallEventCapability)
	}
}

func (e *Engine) reinviteFailed(c *sipCall, code int, reason string) {
	op := c.pending
	c.pending = pendingNone
	c.status = fmt.Sprintf("%d %s", code, reason)
	e.emitCall(c, session.CallEventStatus)
	if code == sip.StatusCallTransactionDoesNotExists || code == statusRequestTimeout {
		e.setOnHook(c)
		return
	}
	switch op {
	case pendingResume, pendingConference:
		e.setState(c, session.CallStateHold)
	}
}

func (e *Engine) ack(c *sipCall, seq uint32) {
	if err := e.client.WriteRequest(c.newACK(seq), sipgo.ClientRequestAddVia); err != nil {
		e.log.WithError(err).WithField("call", c.handle).Warn("ошибка отправки ACK")
	}
}

func (e *Engine) sendBye(c *sipCall) {
	e.send(c.newRequest(sip.BYE, nil, e.opts.UserAgent), nil)
}

// send выполняет запрос вне рабочей горутины. done, если задан,
// получает финальный ответ в рабочей горутине.
func (e *Engine) send(req *sip.Request, done func(res *sip.Response, err error)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.opts.RequestTimeout)
		defer cancel()
		res, err := e.client.Do(ctx, req)
		if err != nil {
			e.log.WithError(err).WithField("method", req.Method.String()).Debug("запрос не выполнен")
		}
		if done != nil {
			e.post(func() { done(res, err) })
		}
	}()
}

func failed(res *sip.Response, err error) bool {
	return err != nil || res == nil || res.StatusCode >= 300
}

// hangup завершает вызов способом, подходящим его состоянию.
func (e *Engine) hangup(c *sipCall, reason string) {
	e.log.WithFields(logrus.Fields{"call": c.handle, "state": c.state, "reason": reason}).Debug("завершение вызова")
	switch {
	case c.state == session.CallStateOnHook:
	case c.established:
		e.sendBye(c)
		e.setOnHook(c)
	case c.ringing():
		// ONHOOK наступит по 487 или по завершению транзакции
		if !c.ending {
			c.ending = true
			e.send(c.newCancel(), nil)
		}
	case c.inviteTx != nil:
		e.respondInvite(c, statusDecline, "Decline", nil)
		e.setOnHook(c)
	default:
		e.setOnHook(c)
	}
}

func (e *Engine) answerCall(c *sipCall, dir session.MediaDirection) {
	if c.state != session.CallStateRingIn || c.inviteTx == nil {
		e.setStatus(c, "нет входящего вызова для ответа")
		return
	}
	c.audioDir = dir
	video := c.wantVideo() && (c.lateOffer || c.remote.video != nil)
	if err := e.openMedia(c, video); err != nil {
		e.log.WithError(err).WithField("call", c.handle).Error("не удалось открыть медиа")
		e.respondInvite(c, statusServiceUnavailable, "Service Unavailable", nil)
		e.setOnHook(c)
		return
	}

	var body []byte
	var err error
	if c.lateOffer {
		body, err = e.offer(c, dir, c.videoDir)
	} else {
		e.connectMedia(c)
		body, err = e.answer(c, dir)
	}
	if err != nil {
		e.log.WithError(err).WithField("call", c.handle).Error("не удалось собрать SDP")
		e.respondInvite(c, statusNotAcceptableHere, "Not Acceptable Here", nil)
		e.setOnHook(c)
		return
	}
	if err := e.respondInvite(c, sip.StatusOK, "OK", body); err != nil {
		e.setOnHook(c)
		return
	}
	c.inviteTx = nil
	c.established = true
	if c.remote.audio.held() {
		e.setState(c, session.CallStateRemoteHold)
	} else {
		e.setState(c, session.CallStateConnected)
	}
}

// respondInvite отвечает на входящий INVITE вызова с тегом To диалога.
func (e *Engine) respondInvite(c *sipCall, code int, reason string, body []byte) error {
	if c.inviteTx == nil || c.remoteInvite == nil {
		return ErrInvalidOperation
	}
	res := sip.NewResponseFromRequest(c.remoteInvite, code, reason, body)
	if to := res.To(); to != nil && code > 100 {
		to.Params = to.Params.Add("tag", c.localTag)
	}
	if code >= 200 && code < 300 {
		res.AppendHeader(e.contactFor(c.line.cfg))
		res.AppendHeader(sip.NewHeader("Allow", allowMethods))
	}
	if len(body) > 0 {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	if err := c.inviteTx.Respond(res); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"call": c.handle, "code": code}).Error("ошибка ответа на INVITE")
		return err
	}
	if code >= 200 {
		c.inviteTx = nil
	}
	return nil
}

func (e *Engine) hold(c *sipCall, reason session.HoldReason) {
	if !c.active() || c.state == session.CallStateHold || c.pending != pendingNone {
		e.setStatus(c, "удержание недоступно в текущем состоянии")
		return
	}
	c.holdReason = reason
	c.pending = pendingHold
	e.reinvite(c, session.DirectionSendOnly, session.DirectionInactive)
}

func (e *Engine) resume(c *sipCall, dir session.MediaDirection, op pendingOp) {
	if c.state != session.CallStateHold || c.pending != pendingNone {
		e.setStatus(c, "возобновление недоступно в текущем состоянии")
		return
	}
	c.audioDir = dir
	c.holdReason = session.HoldReasonNone
	if op == pendingResume {
		e.setState(c, session.CallStateResume)
	}
	c.pending = op
	e.reinvite(c, dir, c.videoDir)
}

func (e *Engine) reinvite(c *sipCall, dir, videoDir session.MediaDirection) {
	body, err := e.offer(c, dir, videoDir)
	if err != nil {
		e.log.WithError(err).WithField("call", c.handle).Error("не удалось собрать SDP")
		c.pending = pendingNone
		return
	}
	e.sendInvite(c, body)
}

func (e *Engine) sendDigit(c *sipCall, digit rune) {
	switch {
	case c.state == session.CallStateOffHook || c.state == session.CallStateDialing:
		c.digits += string(digit)
		if c.state == session.CallStateOffHook {
			e.setState(c, session.CallStateDialing)
		} else {
			e.emitCall(c, session.CallEventCallInfo)
		}
	case c.active():
		if c.remote.audio != nil && c.remote.audio.dtmfType >= 0 {
			// RFC 4733 отправляет медиа слой
			return
		}
		req := c.newRequest(sip.INFO, e.contactFor(c.line.cfg), e.opts.UserAgent)
		req.AppendHeader(sip.NewHeader("Content-Type", "application/dtmf-relay"))
		req.SetBody([]byte(fmt.Sprintf("Signal=%c\r\nDuration=160\r\n", digit)))
		e.send(req, nil)
	default:
		e.log.WithFields(logrus.Fields{"call": c.handle, "state": c.state}).Debug("цифра проигнорирована")
	}
}

// startConsult ставит вызов на удержание и создаёт консультационный
// вызов на той же линии.
func (e *Engine) startConsult(c *sipCall, dir session.MediaDirection, kind consultKind) {
	if !c.active() || c.peer != 0 {
		e.setStatus(c, "перевод или конференция недоступны")
		return
	}
	if c.state != session.CallStateHold {
		reason := session.HoldReasonTransfer
		if kind == consultConference {
			reason = session.HoldReasonConference
		}
		e.hold(c, reason)
	}

	e.mu.Lock()
	h := e.allocHandleLocked()
	e.snapshots[h] = session.CallInfo{Handle: h, Line: c.line.id, State: session.CallStateOffHook}
	e.mu.Unlock()

	leg := e.newCall(h, c.line, session.CallDirectionOutgoing)
	leg.consult, leg.consultLeg, leg.peer = kind, true, c.handle
	leg.audioDir = dir
	c.consult, c.peer = kind, h
	e.emitCall(leg, session.CallEventCreated)
	e.emitCall(leg, session.CallEventState)
}

// transfer отправляет в orig REFER на удалённую сторону target. Для
// установленного target Refer-To несёт Replaces его диалога, иначе
// target отменяется и перевод выполняется вслепую.
func (e *Engine) transfer(orig, target *sipCall) {
	if !orig.established || orig.transferring {
		e.setStatus(orig, "перевод недоступен в текущем состоянии")
		return
	}
	var referTo string
	if target.established {
		referTo = fmt.Sprintf("<%s?Replaces=%s>", target.remoteTarget.String(), target.replacesValue())
	} else if target.calledNumber != "" {
		referTo = fmt.Sprintf("<%s>", target.remoteAddr.String())
	} else {
		e.setStatus(orig, "не указан адресат перевода")
		return
	}

	req := orig.newRequest(sip.REFER, e.contactFor(orig.line.cfg), e.opts.UserAgent)
	req.AppendHeader(sip.NewHeader("Refer-To", referTo))
	req.AppendHeader(sip.NewHeader("Referred-By", fmt.Sprintf("<%s>", orig.localAddr.String())))
	orig.transferring = true
	orig.peer, target.peer = target.handle, orig.handle
	if !target.established {
		e.hangup(target, "перевод без консультации")
	}

	h := orig.handle
	e.log.WithFields(logrus.Fields{"call": h, "refer_to": referTo}).Info("перевод вызова")
	e.send(req, func(res *sip.Response, err error) {
		c, ok := e.calls[h]
		if !ok || !failed(res, err) {
			return
		}
		c.transferring = false
		if res != nil {
			c.status = fmt.Sprintf("перевод отклонён: %d %s", res.StatusCode, res.Reason)
		} else {
			c.status = "перевод не выполнен"
		}
		e.emitCall(c, session.CallEventStatus)
		e.emitCall(c, session.CallEventXferOrConfCancelled)
	})
}

// onTransferResult итог REFER по NOTIFY message/sipfrag.
func (e *Engine) onTransferResult(c *sipCall, code int) {
	if !c.transferring || code < 200 {
		return
	}
	c.transferring = false
	if code >= 300 {
		c.status = fmt.Sprintf("перевод не выполнен: %d", code)
		e.emitCall(c, session.CallEventStatus)
		e.emitCall(c, session.CallEventXferOrConfCancelled)
		return
	}
	c.referDone = true
	if peer, ok := e.calls[c.peer]; ok {
		peer.referDone = true
		e.hangup(peer, "перевод выполнен")
	}
	e.hangup(c, "перевод выполнен")
}

// join объединяет два вызова в конференцию. Вызов на удержании
// возобновляется. Микширование выполняет внешний медиа слой.
func (e *Engine) join(a, b *sipCall, dir session.MediaDirection) {
	if !a.active() || !b.active() {
		e.setStatus(a, "конференция недоступна в текущем состоянии")
		return
	}
	a.peer, b.peer = b.handle, a.handle
	a.consult, b.consult = consultConference, consultConference
	for _, c := range []*sipCall{a, b} {
		switch {
		case c.state == session.CallStateHold && c.pending == pendingNone:
			e.resume(c, dir, pendingConference)
		case c.state != session.CallStateConference:
			e.setState(c, session.CallStateConference)
		}
	}
}

// notifyReferResult сообщает переводящей стороне итог вызова, созданного
// по REFER.
func (e *Engine) notifyReferResult(c *sipCall, code int, reason string) {
	if c.referredBy == 0 || c.referDone {
		return
	}
	c.referDone = true
	orig, ok := e.calls[c.referredBy]
	if !ok || !orig.established {
		return
	}
	e.sendReferNotify(orig, code, reason, true)
}

func (e *Engine) sendReferNotify(c *sipCall, code int, reason string, final bool) {
	req := c.newRequest(sip.NOTIFY, e.contactFor(c.line.cfg), e.opts.UserAgent)
	req.AppendHeader(sip.NewHeader("Event", "refer"))
	state := "active;expires=60"
	if final {
		state = "terminated;reason=noresource"
	}
	req.AppendHeader(sip.NewHeader("Subscription-State", state))
	req.AppendHeader(sip.NewHeader("Content-Type", "message/sipfrag;version=2.0"))
	req.SetBody([]byte(fmt.Sprintf("SIP/2.0 %d %s\r\n", code, reason)))
	e.send(req, nil)
}
