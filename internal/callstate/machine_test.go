package callstate

import (
	"errors"
	"testing"
	"time"
)

// fakePhone implementa Telephony registrando los comandos emitidos
type fakePhone struct {
	dialErr    error
	hangupErr  error
	dials      []string
	hangups    int
	mutes      []bool
	handle     *fakeHandle
}

type fakeHandle struct {
	muted  bool
	status string
}

func (h *fakeHandle) IsMuted() bool  { return h.muted }
func (h *fakeHandle) Status() string { return h.status }

func (p *fakePhone) Dial(destino, callerID string) (Handle, error) {
	if p.dialErr != nil {
		return nil, p.dialErr
	}
	p.dials = append(p.dials, destino)
	if p.handle == nil {
		p.handle = &fakeHandle{status: "originando"}
	}
	return p.handle, nil
}

func (p *fakePhone) Hangup(h Handle) error {
	p.hangups++
	return p.hangupErr
}

func (p *fakePhone) Mute(h Handle, muted bool) error {
	p.mutes = append(p.mutes, muted)
	return nil
}

type terminalRecord struct {
	state     State
	connected bool
	duration  int
}

func newTestMachine(t *testing.T) (*Machine, *fakePhone, *[]terminalRecord) {
	t.Helper()
	phone := &fakePhone{}
	var fired []terminalRecord
	m := New(phone, func(s State, c bool, d int) {
		fired = append(fired, terminalRecord{s, c, d})
	})
	return m, phone, &fired
}

func TestDialGuards(t *testing.T) {
	m, _, _ := newTestMachine(t)

	if err := m.Dial("+573001112233", ""); !errors.Is(err, ErrNoCallerID) {
		t.Fatalf("sin caller id: err = %v", err)
	}

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatalf("primer dial: %v", err)
	}
	if m.State() != StateDialing {
		t.Fatalf("estado = %s, esperado dialing", m.State())
	}
	if m.Duration() != 0 {
		t.Fatalf("duración inicial = %d", m.Duration())
	}

	if err := m.Dial("+573001112233", "601234567"); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("dial con llamada activa: err = %v", err)
	}
}

func TestAnsweredCallLifecycle(t *testing.T) {
	m, phone, fired := newTestMachine(t)

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatal(err)
	}
	m.Handle(Event{Kind: EventRinging})
	if m.State() != StateRinging {
		t.Fatalf("estado tras ringing = %s", m.State())
	}
	m.Handle(Event{Kind: EventAudio})
	if m.State() != StateConnecting {
		t.Fatalf("estado tras audio = %s", m.State())
	}
	m.Handle(Event{Kind: EventAccept})
	if m.State() != StateInCall {
		t.Fatalf("estado tras accept = %s", m.State())
	}

	for i := 0; i < 45; i++ {
		m.Tick()
	}
	m.Handle(Event{Kind: EventDisconnect})

	if m.State() != StateEndedRemote {
		t.Fatalf("estado final = %s, esperado ended_remote", m.State())
	}
	if len(*fired) != 1 {
		t.Fatalf("gatillos de gestión = %d, esperado exactamente 1", len(*fired))
	}
	got := (*fired)[0]
	if !got.connected || got.duration != 45 || got.state != StateEndedRemote {
		t.Fatalf("gatillo = %+v", got)
	}
	if m.Active() {
		t.Fatal("handle no fue liberado tras disconnect")
	}
	_ = phone
}

func TestAcceptUnmutesReportedMutedCall(t *testing.T) {
	m, phone, _ := newTestMachine(t)
	phone.handle = &fakeHandle{muted: true}

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatal(err)
	}
	m.Handle(Event{Kind: EventAccept})

	if len(phone.mutes) != 1 || phone.mutes[0] != false {
		t.Fatalf("comandos de mute = %v, esperado un unmute", phone.mutes)
	}
}

func TestLocalHangupThenDisconnect(t *testing.T) {
	m, phone, fired := newTestMachine(t)

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatal(err)
	}
	m.Handle(Event{Kind: EventAccept})
	m.Tick()
	m.Tick()

	if issued := m.Hangup(); !issued {
		t.Fatal("Hangup con handle debe emitir el comando")
	}
	if phone.hangups != 1 {
		t.Fatalf("comandos de hangup = %d", phone.hangups)
	}
	// El cierre real lo hace el evento disconnect
	if m.State() != StateInCall {
		t.Fatalf("estado antes del disconnect = %s", m.State())
	}

	m.Handle(Event{Kind: EventDisconnect})
	if m.State() != StateEndedUser {
		t.Fatalf("estado final = %s, esperado ended_user", m.State())
	}
	if len(*fired) != 1 {
		t.Fatalf("gatillos = %d, esperado 1 (sin doble conteo)", len(*fired))
	}
	if (*fired)[0].duration != 2 {
		t.Fatalf("duración = %d, esperado 2", (*fired)[0].duration)
	}

	// Un disconnect rezagado no vuelve a disparar
	m.Handle(Event{Kind: EventDisconnect})
	if len(*fired) != 1 {
		t.Fatalf("gatillos tras disconnect duplicado = %d", len(*fired))
	}
}

func TestDegradedHangupWithoutHandle(t *testing.T) {
	m, phone, fired := newTestMachine(t)

	if issued := m.Hangup(); issued {
		t.Fatal("Hangup sin handle no debe emitir comando")
	}
	if phone.hangups != 0 {
		t.Fatalf("comandos de hangup = %d", phone.hangups)
	}
	if m.State() != StateIdle {
		t.Fatalf("estado = %s, esperado idle", m.State())
	}
	if len(*fired) != 0 {
		t.Fatal("la recuperación degradada no abre gestión")
	}

	// Idempotente
	m.Hangup()
	if m.State() != StateIdle {
		t.Fatalf("estado tras segundo hangup = %s", m.State())
	}
}

func TestCancelWithZeroDuration(t *testing.T) {
	m, _, fired := newTestMachine(t)

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatal(err)
	}
	m.Handle(Event{Kind: EventRinging})
	m.Handle(Event{Kind: EventCancel})

	if m.State() != StateCancelled {
		t.Fatalf("estado = %s", m.State())
	}
	got := (*fired)[0]
	if got.connected || got.duration != 0 {
		t.Fatalf("gatillo = %+v, esperado sin conexión y duración 0", got)
	}
}

func TestRejectAndError(t *testing.T) {
	for _, tc := range []struct {
		ev    Event
		final State
	}{
		{Event{Kind: EventReject}, StateRejected},
		{Event{Kind: EventError, Code: 487, Message: "request terminated"}, StateError},
	} {
		m, _, fired := newTestMachine(t)
		if err := m.Dial("+573001112233", "601234567"); err != nil {
			t.Fatal(err)
		}
		m.Handle(tc.ev)
		if m.State() != tc.final {
			t.Errorf("estado = %s, esperado %s", m.State(), tc.final)
		}
		if len(*fired) != 1 {
			t.Errorf("gatillos = %d para %s", len(*fired), tc.final)
		}
	}
}

func TestDuplicateStateOnlyUpdatesLabel(t *testing.T) {
	m, _, _ := newTestMachine(t)

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatal(err)
	}
	before := len(m.History())

	m.Handle(Event{Kind: EventRinging})
	m.Handle(Event{Kind: EventRinging}) // re-anuncio

	hist := m.History()
	if len(hist) != before+1 {
		t.Fatalf("historial = %d entradas, esperado %d", len(hist), before+1)
	}
}

func TestHistoryBounded(t *testing.T) {
	m, _, _ := newTestMachine(t)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	// Varios intentos seguidos acumulan más de HistoryLimit transiciones
	for i := 0; i < 3; i++ {
		if err := m.Dial("+573001112233", "601234567"); err != nil {
			t.Fatal(err)
		}
		m.Handle(Event{Kind: EventRinging})
		m.Handle(Event{Kind: EventCancel})
	}

	if got := len(m.History()); got != HistoryLimit {
		t.Fatalf("historial = %d, esperado recorte a %d", got, HistoryLimit)
	}
}

func TestToggleMute(t *testing.T) {
	m, phone, _ := newTestMachine(t)

	// Sin llamada: no-op
	m.ToggleMute()
	if len(phone.mutes) != 0 {
		t.Fatal("mute sin llamada debe ser no-op")
	}

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatal(err)
	}
	m.Handle(Event{Kind: EventAccept})

	m.ToggleMute()
	if !m.Muted() || len(phone.mutes) != 1 || phone.mutes[0] != true {
		t.Fatalf("tras primer toggle: muted=%v, comandos=%v", m.Muted(), phone.mutes)
	}
	m.ToggleMute()
	if m.Muted() || len(phone.mutes) != 2 || phone.mutes[1] != false {
		t.Fatalf("tras segundo toggle: muted=%v, comandos=%v", m.Muted(), phone.mutes)
	}
}

func TestResetClearsDuration(t *testing.T) {
	m, _, _ := newTestMachine(t)

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatal(err)
	}
	m.Handle(Event{Kind: EventAccept})
	m.Tick()
	m.Handle(Event{Kind: EventDisconnect})

	m.Reset()
	if m.Duration() != 0 {
		t.Fatalf("duración tras reset = %d", m.Duration())
	}
	if m.State() != StateIdle {
		t.Fatalf("estado tras reset = %s", m.State())
	}
	if len(m.History()) != 0 {
		t.Fatal("historial debe limpiarse con el intento")
	}

	// Un nuevo dial es posible tras el reset
	if err := m.Dial("+573004445566", "601234567"); err != nil {
		t.Fatalf("dial tras reset: %v", err)
	}
}

func TestHangupCommandFailureClosesLocally(t *testing.T) {
	m, phone, fired := newTestMachine(t)
	phone.hangupErr = errors.New("ami desconectado")

	if err := m.Dial("+573001112233", "601234567"); err != nil {
		t.Fatal(err)
	}
	m.Handle(Event{Kind: EventAccept})

	if issued := m.Hangup(); issued {
		t.Fatal("con error en el comando, Hangup no debe reportar emisión")
	}
	if m.State() != StateEndedUser {
		t.Fatalf("estado = %s", m.State())
	}
	if len(*fired) != 1 {
		t.Fatalf("gatillos = %d", len(*fired))
	}
}
