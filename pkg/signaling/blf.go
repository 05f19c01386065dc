package signaling

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/callcontrol/pkg/session"
)

// Состояния BLF кнопки.
const (
	BLFIdle     = "idle"
	BLFAlerting = "alerting"
	BLFBusy     = "busy"
)

// dialogInfo тело application/dialog-info+xml (RFC 4235).
type dialogInfo struct {
	XMLName xml.Name `xml:"dialog-info"`
	Entity  string   `xml:"entity,attr"`
	Dialogs []struct {
		CallID    string `xml:"call-id,attr"`
		LocalTag  string `xml:"local-tag,attr"`
		RemoteTag string `xml:"remote-tag,attr"`
		Direction string `xml:"direction,attr"`
		State     string `xml:"state"`
	} `xml:"dialog"`
}

// subscribeBLF подписывает первую линию на состояние диалогов каждой
// BLF кнопки.
func (e *Engine) subscribeBLF() {
	line := e.lines[0]
	for _, f := range e.opts.Device.Features {
		if !f.BLF || f.SpeedDial == "" {
			continue
		}
		target := e.targetURI(f.SpeedDial, line.cfg.Proxy, line.cfg.Port)
		req := sip.NewRequest(sip.SUBSCRIBE, target)
		callID := sip.CallIDHeader(uuid.NewString())
		req.AppendHeader(&callID)
		req.AppendHeader(&sip.FromHeader{
			Address: sip.Uri{Scheme: "sip", User: line.cfg.DN, Host: line.cfg.Proxy},
			Params:  sip.NewParams().Add("tag", sip.RandString(10)),
		})
		req.AppendHeader(&sip.ToHeader{Address: sip.Uri{Scheme: "sip", User: f.SpeedDial, Host: line.cfg.Proxy}, Params: sip.NewParams()})
		req.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.SUBSCRIBE})
		req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
		req.AppendHeader(e.contactFor(line.cfg))
		req.AppendHeader(sip.NewHeader("Event", "dialog"))
		req.AppendHeader(sip.NewHeader("Accept", "application/dialog-info+xml"))
		req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(e.opts.RegisterExpiry.Seconds()))))

		speedDial := f.SpeedDial
		e.send(req, func(res *sip.Response, err error) {
			if failed(res, err) {
				e.log.WithField("speed_dial", speedDial).Warn("подписка BLF не принята")
			}
		})
	}
}

// onDialogInfo обновляет состояние BLF кнопки по NOTIFY Event: dialog.
func (e *Engine) onDialogInfo(body []byte) {
	var info dialogInfo
	if err := xml.Unmarshal(body, &info); err != nil {
		e.log.WithError(err).Debug("некорректный dialog-info")
		return
	}
	user := info.Entity
	var uri sip.Uri
	if err := sip.ParseUri(strings.TrimSpace(info.Entity), &uri); err == nil {
		user = uri.User
	}

	state := BLFIdle
	delete(e.blfDialogs, user)
	for _, d := range info.Dialogs {
		switch strings.ToLower(strings.TrimSpace(d.State)) {
		case "early", "proceeding", "trying":
			if state != BLFBusy {
				state = BLFAlerting
			}
			if d.CallID != "" && strings.EqualFold(d.Direction, "recipient") {
				e.blfDialogs[user] = d.CallID + ";to-tag=" + d.LocalTag + ";from-tag=" + d.RemoteTag
			}
		case "confirmed":
			state = BLFBusy
		}
	}

	l := e.currentListener()
	for _, f := range e.opts.Device.Features {
		if !f.BLF || f.SpeedDial != user {
			continue
		}
		e.log.WithFields(logrus.Fields{"speed_dial": user, "state": state}).Debug("состояние BLF")
		if l != nil {
			l.OnFeatureEvent(session.FeatureEventBLF, session.FeatureInfo{
				ID:        f.ID,
				Label:     f.Label,
				SpeedDial: f.SpeedDial,
				BLFState:  state,
			})
		}
	}
}
