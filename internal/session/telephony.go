package session

import (
	"fmt"
	"strconv"

	"discador/internal/ami"
	"discador/internal/callstate"
)

// AMIPhone adapta el dialer AMI de una campaña al contrato de comandos de la
// máquina de estados
type AMIPhone struct {
	dialer *ami.Dialer
}

// NewAMIPhone envuelve un dialer de campaña
func NewAMIPhone(dialer *ami.Dialer) *AMIPhone {
	return &AMIPhone{dialer: dialer}
}

func (p *AMIPhone) Dial(destino, callerID string) (callstate.Handle, error) {
	return p.dialer.Dial(destino, callerID)
}

func (p *AMIPhone) Hangup(h callstate.Handle) error {
	call, ok := h.(*ami.Call)
	if !ok {
		return fmt.Errorf("handle inesperado: %T", h)
	}
	return p.dialer.Hangup(call)
}

func (p *AMIPhone) Mute(h callstate.Handle, muted bool) error {
	call, ok := h.(*ami.Call)
	if !ok {
		return fmt.Errorf("handle inesperado: %T", h)
	}
	return p.dialer.Mute(call, muted)
}

// Causas de colgado ISDN que distinguen los finales de llamada
const (
	causeNormalClearing = 16
	causeBusy           = 17
	causeNoUserResponse = 18
	causeNoAnswer       = 19
	causeRejected       = 21
)

// Códigos de razón de OriginateResponse en fallo
const (
	reasonHangup    = 1
	reasonTimeout   = 3
	reasonBusy      = 5
	reasonCongested = 8
)

// TranslateEvent traduce un evento crudo de AMI a un evento canónico de la
// máquina de estados. Devuelve ok=false cuando el evento no pertenece a la
// llamada indicada. Como efecto lateral actualiza el handle con el uniqueid
// y el canal real cuando Asterisk los reporta.
func TranslateEvent(ev ami.Event, call *ami.Call) (callstate.Event, bool) {
	if call == nil {
		return callstate.Event{}, false
	}

	switch ev.Type {
	case "VarSet":
		// La variable de canal enlaza el actionID con el uniqueid real
		if ev.Fields["Variable"] != "DISCADOR_ACTION_ID" || ev.Fields["Value"] != call.ActionID {
			return callstate.Event{}, false
		}
		if uid := ev.Fields["Uniqueid"]; uid != "" {
			call.UniqueID = uid
		}
		if ch := ev.Fields["Channel"]; ch != "" {
			call.LiveChannel = ch
		}
		return callstate.Event{}, false

	case "OriginateResponse":
		if ev.Fields["ActionID"] != call.ActionID {
			return callstate.Event{}, false
		}
		if uid := ev.Fields["Uniqueid"]; uid != "" {
			call.UniqueID = uid
		}
		if ch := ev.Fields["Channel"]; ch != "" {
			call.LiveChannel = ch
		}
		if ev.Fields["Response"] == "Success" {
			call.SetStatus("contestada")
			return callstate.Event{Kind: callstate.EventAccept}, true
		}
		reason, _ := strconv.Atoi(ev.Fields["Reason"])
		switch reason {
		case reasonBusy, reasonCongested:
			return callstate.Event{Kind: callstate.EventReject, Code: reason, Name: "ocupado"}, true
		case reasonHangup, reasonTimeout:
			return callstate.Event{Kind: callstate.EventCancel, Code: reason, Name: "sin respuesta"}, true
		default:
			return callstate.Event{Kind: callstate.EventError, Code: reason, Message: "originate falló"}, true
		}

	case "Newstate":
		if !belongsToCall(ev, call) {
			return callstate.Event{}, false
		}
		call.SetStatus(ev.Fields["ChannelStateDesc"])
		switch ev.Fields["ChannelStateDesc"] {
		case "Ringing", "Ring":
			return callstate.Event{Kind: callstate.EventRinging}, true
		case "Up":
			return callstate.Event{Kind: callstate.EventAudio}, true
		}
		return callstate.Event{}, false

	case "Hangup":
		if !belongsToCall(ev, call) {
			return callstate.Event{}, false
		}
		cause, _ := strconv.Atoi(ev.Fields["Cause"])
		call.SetStatus("colgada")
		switch cause {
		case causeBusy, causeRejected:
			return callstate.Event{Kind: callstate.EventReject, Code: cause, Name: ev.Fields["Cause-txt"]}, true
		case causeNoUserResponse, causeNoAnswer:
			return callstate.Event{Kind: callstate.EventCancel, Code: cause, Name: ev.Fields["Cause-txt"]}, true
		case causeNormalClearing:
			return callstate.Event{Kind: callstate.EventDisconnect, Code: cause}, true
		default:
			return callstate.Event{Kind: callstate.EventDisconnect, Code: cause, Name: ev.Fields["Cause-txt"]}, true
		}
	}

	return callstate.Event{}, false
}

// belongsToCall enlaza un evento con la llamada por uniqueid cuando ya se
// conoce, o por canal mientras tanto
func belongsToCall(ev ami.Event, call *ami.Call) bool {
	if call.UniqueID != "" && ev.Fields["Uniqueid"] == call.UniqueID {
		return true
	}
	ch := ev.Fields["Channel"]
	if ch == "" {
		return false
	}
	return ch == call.Channel || ch == call.LiveChannel
}
