package signaling

import (
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/callcontrol/pkg/session"
)

// consultKind назначение консультационного вызова.
type consultKind int

const (
	consultNone consultKind = iota
	consultTransfer
	consultConference
)

// pendingOp ожидаемый результат re-INVITE.
type pendingOp int

const (
	pendingNone pendingOp = iota
	pendingHold
	pendingResume
	pendingMedia
	pendingConference
)

// sipCall состояние одного вызова. Принадлежит рабочей горутине движка.
type sipCall struct {
	handle    session.CallHandle
	line      *lineState
	state     session.CallState
	direction session.CallDirection

	callingName, callingNumber string
	calledName, calledNumber   string
	digits                     string
	status                     string
	selected                   bool
	infoPackage, infoBody      string
	capabilities               []string

	audioDir   session.MediaDirection
	videoDir   session.MediaDirection
	audioMuted bool
	videoMuted bool
	holdReason session.HoldReason

	// консультационный вызов: peer ссылается на исходный вызов у
	// консультационного и наоборот
	consult    consultKind
	consultLeg bool
	peer       session.CallHandle
	// referredBy вызов, по REFER которого создан этот
	referredBy session.CallHandle
	referDone  bool
	// transferring на вызове отправлен REFER, ждём NOTIFY с результатом
	transferring bool
	redirected   bool
	// forwardAll вызов собирает номер переадресации
	forwardAll bool

	// диалог
	callID       string
	localTag     string
	remoteTag    string
	localAddr    sip.Uri
	remoteAddr   sip.Uri
	remoteTarget sip.Uri
	routeSet     []sip.Uri
	cseq         uint32
	invite       *sip.Request
	remoteInvite *sip.Request
	inviteTx     sip.ServerTransaction
	outTx        sip.ClientTransaction
	inviteBody   []byte
	inviteExtra  []sip.Header
	authTried    bool
	established  bool
	ending       bool
	pending      pendingOp
	// lateOffer входящий INVITE без SDP: offer уходит в 200, ответ в ACK
	lateOffer bool

	// медиа
	sdpSession  uint64
	sdpVersion  uint64
	audioStream int
	videoStream int
	audioPort   int
	videoPort   int
	connected   map[int]bool
	remote      remoteMedia
}

func (c *sipCall) info() session.CallInfo {
	return session.CallInfo{
		Handle:             c.handle,
		Line:               c.line.id,
		State:              c.state,
		Direction:          c.direction,
		CallingPartyName:   c.callingName,
		CallingPartyNumber: c.callingNumber,
		CalledPartyName:    c.calledName,
		CalledPartyNumber:  c.calledNumber,
		DialedDigits:       c.digits,
		Status:             c.status,
		VideoDirection:     c.videoDir,
		Selected:           c.selected,
		Capabilities:       append([]string(nil), c.capabilities...),
		InfoPackage:        c.infoPackage,
		InfoBody:           c.infoBody,
	}
}

// active вызов с установленным диалогом.
func (c *sipCall) active() bool {
	switch c.state {
	case session.CallStateConnected, session.CallStateHold, session.CallStateRemoteHold,
		session.CallStateResume, session.CallStateConference:
		return c.established
	}
	return false
}

// ringing исходящий INVITE без финального ответа.
func (c *sipCall) ringing() bool {
	return c.outTx != nil && !c.established
}

func (c *sipCall) nextCSeq() uint32 {
	c.cseq++
	return c.cseq
}

// newRequest запрос внутри диалога.
func (c *sipCall) newRequest(method sip.RequestMethod, contact *sip.ContactHeader, userAgent string) *sip.Request {
	req := sip.NewRequest(method, c.remoteTarget)
	callID := sip.CallIDHeader(c.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.FromHeader{Address: c.localAddr, Params: sip.NewParams().Add("tag", c.localTag)})
	to := &sip.ToHeader{Address: c.remoteAddr, Params: sip.NewParams()}
	if c.remoteTag != "" {
		to.Params = to.Params.Add("tag", c.remoteTag)
	}
	req.AppendHeader(to)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: c.nextCSeq(), MethodName: method})
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	if contact != nil {
		req.AppendHeader(contact)
	}
	for _, route := range c.routeSet {
		req.AppendHeader(&sip.RouteHeader{Address: route})
	}
	if userAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", userAgent))
	}
	return req
}

// newACK подтверждение 2xx на INVITE с номером invite.
func (c *sipCall) newACK(seq uint32) *sip.Request {
	ack := sip.NewRequest(sip.ACK, c.remoteTarget)
	callID := sip.CallIDHeader(c.callID)
	ack.AppendHeader(&callID)
	ack.AppendHeader(&sip.FromHeader{Address: c.localAddr, Params: sip.NewParams().Add("tag", c.localTag)})
	ack.AppendHeader(&sip.ToHeader{Address: c.remoteAddr, Params: sip.NewParams().Add("tag", c.remoteTag)})
	ack.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.ACK})
	ack.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	for _, route := range c.routeSet {
		ack.AppendHeader(&sip.RouteHeader{Address: route})
	}
	return ack
}

// newCancel CANCEL для исходящего INVITE с тем же Via.
func (c *sipCall) newCancel() *sip.Request {
	inv := c.invite
	cancel := sip.NewRequest(sip.CANCEL, inv.Recipient)
	if h := inv.Via(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inv.From(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inv.To(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inv.CallID(); h != nil {
		cancel.AppendHeader(sip.HeaderClone(h))
	}
	if h := inv.CSeq(); h != nil {
		cseq := sip.HeaderClone(h).(*sip.CSeqHeader)
		cseq.MethodName = sip.CANCEL
		cancel.AppendHeader(cseq)
	}
	cancel.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	for _, route := range c.routeSet {
		cancel.AppendHeader(&sip.RouteHeader{Address: route})
	}
	cancel.SetTransport(inv.Transport())
	cancel.SetDestination(inv.Destination())
	return cancel
}

// learnDialog запоминает удалённый тег, target и маршрут из ответа
// на исходящий INVITE.
func (c *sipCall) learnDialog(res *sip.Response) {
	if to := res.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			c.remoteTag = tag
		}
	}
	if contact := res.Contact(); contact != nil {
		c.remoteTarget = contact.Address
	}
	hdrs := res.GetHeaders("Record-Route")
	if len(hdrs) == 0 {
		return
	}
	c.routeSet = c.routeSet[:0]
	for i := len(hdrs) - 1; i >= 0; i-- {
		if rr, ok := hdrs[i].(*sip.RecordRouteHeader); ok {
			c.routeSet = append(c.routeSet, rr.Address)
		}
	}
}

// learnIncomingDialog заполняет диалог из входящего INVITE.
func (c *sipCall) learnIncomingDialog(req *sip.Request) {
	c.callID = req.CallID().Value()
	if from := req.From(); from != nil {
		c.remoteAddr = from.Address
		c.callingName = from.DisplayName
		c.callingNumber = from.Address.User
		if tag, ok := from.Params.Get("tag"); ok {
			c.remoteTag = tag
		}
	}
	if to := req.To(); to != nil {
		c.localAddr = to.Address
		c.calledNumber = to.Address.User
		c.calledName = to.DisplayName
	}
	c.remoteTarget = c.remoteAddr
	if contact := req.Contact(); contact != nil {
		c.remoteTarget = contact.Address
	}
	c.routeSet = c.routeSet[:0]
	for _, h := range req.GetHeaders("Record-Route") {
		if rr, ok := h.(*sip.RecordRouteHeader); ok {
			c.routeSet = append(c.routeSet, rr.Address)
		}
	}
}

// replacesValue значение Replaces для перевода с заменой этого диалога.
func (c *sipCall) replacesValue() string {
	v := c.callID + ";to-tag=" + c.remoteTag + ";from-tag=" + c.localTag
	return strings.NewReplacer(";", "%3B", "=", "%3D", "@", "%40").Replace(v)
}

// parseReferTarget URI из Refer-To без заголовков (?...).
func parseReferTarget(value string) (sip.Uri, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "<")
	if i := strings.Index(value, ">"); i >= 0 {
		value = value[:i]
	}
	if i := strings.Index(value, "?"); i >= 0 {
		value = value[:i]
	}
	var uri sip.Uri
	if err := sip.ParseUri(value, &uri); err != nil {
		return sip.Uri{}, err
	}
	return uri, nil
}
