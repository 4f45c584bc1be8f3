package ami

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Call es el handle de una llamada originada por un ejecutivo.
// Sus campos se actualizan desde los eventos AMI bajo el lock del
// orquestador dueño; la llamada nunca se comparte entre sesiones.
type Call struct {
	ActionID    string
	UniqueID    string
	Channel     string // canal marcado (SIP/troncal/numero)
	LiveChannel string // canal real reportado por Asterisk
	muted       bool
	status      string
}

// IsMuted indica si la llamada está silenciada
func (c *Call) IsMuted() bool { return c.muted }

// Status devuelve la última descripción de estado reportada por Asterisk
func (c *Call) Status() string { return c.status }

// SetMuted actualiza la bandera de silencio
func (c *Call) SetMuted(muted bool) { c.muted = muted }

// SetStatus actualiza la descripción de estado
func (c *Call) SetStatus(status string) { c.status = status }

// Dialer emite los comandos de telefonía de una campaña concreta sobre un
// cliente AMI compartido
type Dialer struct {
	client   *Client
	Troncal  string
	Prefijo  string
	Contexto string
	Timeout  time.Duration
}

// NewDialer crea un dialer para la troncal y prefijo de una campaña
func NewDialer(client *Client, troncal, prefijo, contexto string, timeout time.Duration) *Dialer {
	return &Dialer{
		client:   client,
		Troncal:  troncal,
		Prefijo:  prefijo,
		Contexto: contexto,
		Timeout:  timeout,
	}
}

// Dial origina una llamada saliente y devuelve su handle. El resultado real
// llega después por eventos (OriginateResponse/Newstate/Hangup).
func (d *Dialer) Dial(destino, callerID string) (*Call, error) {
	actionID := "discador-" + uuid.NewString()
	channel := fmt.Sprintf("SIP/%s/%s%s", d.Troncal, d.Prefijo, destino)

	log.Printf("[AMI] Originando llamada a %s (actionID=%s)", channel, actionID)

	action := fmt.Sprintf(
		"Action: Originate\r\n"+
			"ActionID: %s\r\n"+
			"Channel: %s\r\n"+
			"Context: %s\r\n"+
			"Exten: s\r\n"+
			"Priority: 1\r\n"+
			"CallerID: %s\r\n"+
			"Timeout: %d\r\n"+
			"Async: true\r\n"+
			"Variable: DISCADOR_ACTION_ID=%s\r\n"+
			"\r\n",
		actionID, channel, d.Contexto, callerID,
		int(d.Timeout.Milliseconds()), actionID)

	if err := d.client.SendAction(action); err != nil {
		return nil, fmt.Errorf("error enviando originate: %w", err)
	}

	return &Call{
		ActionID: actionID,
		Channel:  channel,
		status:   "originando",
	}, nil
}

// Hangup cuelga la llamada
func (d *Dialer) Hangup(call *Call) error {
	channel := call.LiveChannel
	if channel == "" {
		channel = call.Channel
	}

	action := fmt.Sprintf("Action: Hangup\r\nChannel: %s\r\n\r\n", channel)
	if err := d.client.SendAction(action); err != nil {
		return fmt.Errorf("error enviando hangup: %w", err)
	}
	return nil
}

// Mute silencia o reactiva el audio del ejecutivo en la llamada
func (d *Dialer) Mute(call *Call, muted bool) error {
	channel := call.LiveChannel
	if channel == "" {
		channel = call.Channel
	}

	state := "off"
	if muted {
		state = "on"
	}

	action := fmt.Sprintf(
		"Action: MuteAudio\r\nChannel: %s\r\nDirection: all\r\nState: %s\r\n\r\n",
		channel, state)
	if err := d.client.SendAction(action); err != nil {
		return fmt.Errorf("error enviando mute: %w", err)
	}

	call.SetMuted(muted)
	return nil
}
