package callstate

import (
	"errors"
	"log"
	"time"
)

// State es el estado canónico de un intento de llamada
type State string

const (
	StateIdle        State = "idle"
	StateDialing     State = "dialing"
	StateRinging     State = "ringing"
	StateConnecting  State = "connecting"
	StateInCall      State = "in_call"
	StateEndedUser   State = "ended_user"
	StateEndedRemote State = "ended_remote"
	StateNoAnswer    State = "no_answer"
	StateCancelled   State = "cancelled"
	StateRejected    State = "rejected"
	StateError       State = "error"
)

// Terminal indica si el estado cierra el intento de llamada
func (s State) Terminal() bool {
	switch s {
	case StateEndedUser, StateEndedRemote, StateNoAnswer, StateCancelled, StateRejected, StateError:
		return true
	}
	return false
}

// EventKind es el tipo de evento entrante del cliente de telefonía
type EventKind int

const (
	EventAccept EventKind = iota
	EventRinging
	EventAudio
	EventDisconnect
	EventCancel
	EventReject
	EventError
	EventWarning
)

// Event es un evento de telefonía ya traducido al enum canónico
type Event struct {
	Kind    EventKind
	Muted   bool // accept: la llamada llegó silenciada
	Code    int
	Name    string
	Message string
}

// Handle es la referencia opaca a la llamada en el cliente de telefonía
type Handle interface {
	IsMuted() bool
	Status() string
}

// Telephony son los comandos que la máquina emite hacia la telefonía
type Telephony interface {
	Dial(destino, callerID string) (Handle, error)
	Hangup(h Handle) error
	Mute(h Handle, muted bool) error
}

// HistoryLimit acota el historial de estados por intento
const HistoryLimit = 6

// HistoryEntry es una transición registrada en el historial
type HistoryEntry struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

var (
	ErrCallInProgress = errors.New("ya hay una llamada activa")
	ErrNoCallerID     = errors.New("caller id no configurado")
)

// Machine posee el ciclo de vida de exactamente un intento de llamada.
// Todas sus entradas (eventos, ticks, comandos) deben llegar serializadas
// por el dueño; la máquina no toma locks propios.
type Machine struct {
	tel Telephony
	now func() time.Time

	state       State
	label       string
	handle      Handle
	connected   bool
	localHangup bool
	muted       bool
	running     bool
	duration    int
	resolved    bool
	history     []HistoryEntry

	// onTerminal se dispara exactamente una vez por intento, con el estado
	// final, si la llamada llegó a conectar y la duración en segundos.
	onTerminal func(final State, connected bool, duration int)
}

// New crea una máquina en reposo
func New(tel Telephony, onTerminal func(State, bool, int)) *Machine {
	return &Machine{
		tel:        tel,
		now:        time.Now,
		state:      StateIdle,
		label:      "listo",
		onTerminal: onTerminal,
	}
}

// Dial origina una llamada al destino. Falla de inmediato si ya hay una
// llamada activa o si no hay caller id configurado.
func (m *Machine) Dial(destino, callerID string) error {
	if m.handle != nil {
		return ErrCallInProgress
	}
	if callerID == "" {
		return ErrNoCallerID
	}

	h, err := m.tel.Dial(destino, callerID)
	if err != nil {
		return err
	}

	m.handle = h
	m.connected = false
	m.localHangup = false
	m.muted = false
	m.resolved = false
	m.running = false
	m.duration = 0
	m.setState(StateDialing, "marcando")
	return nil
}

// Handle procesa un evento entrante de telefonía
func (m *Machine) Handle(ev Event) {
	switch ev.Kind {
	case EventRinging:
		if m.state == StateDialing {
			m.setState(StateRinging, "timbrando")
		} else {
			m.label = "timbrando"
		}

	case EventAudio:
		// Medios en negociación antes de que el destino conteste
		if m.state == StateDialing || m.state == StateRinging {
			m.setState(StateConnecting, "conectando")
		}

	case EventAccept:
		if m.handle == nil {
			return
		}
		if ev.Muted || m.handle.IsMuted() {
			if err := m.tel.Mute(m.handle, false); err != nil {
				log.Printf("[CallState] Error quitando silencio inicial: %v", err)
			}
		}
		m.connected = true
		m.running = true
		m.setState(StateInCall, "en llamada")

	case EventDisconnect:
		m.running = false
		final := StateNoAnswer
		if m.localHangup {
			final = StateEndedUser
		} else if m.connected {
			final = StateEndedRemote
		}
		m.finish(final, "finalizada")

	case EventCancel:
		m.running = false
		m.finish(StateCancelled, "cancelada")

	case EventReject:
		m.running = false
		m.finish(StateRejected, "rechazada")

	case EventError:
		m.running = false
		log.Printf("[CallState] Error de telefonía %d: %s", ev.Code, ev.Message)
		m.finish(StateError, "error")

	case EventWarning:
		log.Printf("[CallState] Advertencia de telefonía: %s", ev.Name)
		m.label = ev.Name
	}
}

// Hangup inicia el colgado local. Devuelve true si emitió el comando de
// desconexión (el evento disconnect hará el cierre real); false si no había
// llamada rastreada y se forzó el reposo — la ruta de recuperación degradada.
func (m *Machine) Hangup() bool {
	if m.handle != nil {
		m.localHangup = true
		if err := m.tel.Hangup(m.handle); err != nil {
			log.Printf("[CallState] Error enviando hangup: %v", err)
			// El comando no salió: cerrar localmente para no dejar la
			// sesión colgada esperando un disconnect que no llegará
			m.running = false
			m.finish(StateEndedUser, "finalizada")
			return false
		}
		return true
	}

	// Recuperación degradada: sin handle no hay evento que esperar
	m.forceIdle()
	return false
}

// ToggleMute alterna el silencio de la llamada activa. Sin llamada es no-op.
func (m *Machine) ToggleMute() {
	if m.handle == nil {
		return
	}
	m.muted = !m.muted
	if err := m.tel.Mute(m.handle, m.muted); err != nil {
		log.Printf("[CallState] Error enviando mute: %v", err)
	}
}

// Tick suma un segundo de duración mientras la llamada está conectada.
// Lo invoca el dueño a 1 Hz.
func (m *Machine) Tick() {
	if m.running {
		m.duration++
	}
}

// Reset limpia el intento anterior y vuelve al reposo. La duración se pone
// en cero para que no se filtre a la siguiente gestión.
func (m *Machine) Reset() {
	m.forceIdle()
	m.history = nil
}

func (m *Machine) forceIdle() {
	if m.state == StateIdle && m.handle == nil && m.duration == 0 {
		return // idempotente
	}
	m.handle = nil
	m.connected = false
	m.localHangup = false
	m.muted = false
	m.running = false
	m.duration = 0
	m.setState(StateIdle, "listo")
}

// finish cierra el intento: estado terminal, handle liberado sincrónicamente
// y disparo único del gatillo de gestión.
func (m *Machine) finish(final State, label string) {
	if m.resolved {
		// Un evento terminal duplicado solo refresca la etiqueta
		m.label = label
		return
	}
	m.resolved = true
	m.handle = nil
	m.setState(final, label)

	if m.onTerminal != nil {
		m.onTerminal(final, m.connected, m.duration)
	}
}

// setState aplica una transición. Una transición al mismo estado solo
// actualiza la etiqueta; un cambio real agrega una entrada al historial,
// recortado a las últimas HistoryLimit.
func (m *Machine) setState(next State, label string) {
	m.label = label
	if next == m.state {
		return
	}
	m.state = next
	m.history = append(m.history, HistoryEntry{State: next, At: m.now()})
	if len(m.history) > HistoryLimit {
		m.history = m.history[len(m.history)-HistoryLimit:]
	}
}

// State devuelve el estado canónico actual
func (m *Machine) State() State { return m.state }

// Label devuelve la etiqueta descriptiva actual
func (m *Machine) Label() string { return m.label }

// Duration devuelve los segundos acumulados del intento actual
func (m *Machine) Duration() int { return m.duration }

// Connected indica si el intento actual llegó a conectar
func (m *Machine) Connected() bool { return m.connected }

// Muted indica si la llamada está silenciada localmente
func (m *Machine) Muted() bool { return m.muted }

// ActiveHandle devuelve el handle de la llamada activa, o nil
func (m *Machine) ActiveHandle() Handle { return m.handle }

// Active indica si hay una llamada en curso
func (m *Machine) Active() bool { return m.handle != nil }

// History devuelve una copia del historial de transiciones
func (m *Machine) History() []HistoryEntry {
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}
