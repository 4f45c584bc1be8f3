// Package autocall implementa la cuenta regresiva que marca al siguiente
// lead de forma automática después de guardar una gestión. El scheduler es
// pasivo: no tiene goroutine propia, el orquestador le inyecta ticks de un
// segundo, lo que deja las pruebas libres del reloj de pared.
package autocall

import "log"

// Escalamiento de cancelaciones dentro del mismo lead: la primera cancelación
// rearma a 30s, la segunda a 60s y la tercera abandona el automático.
const (
	ReArmPrimeraSegundos = 30
	ReArmSegundaSegundos = 60
	MaxCancelaciones     = 3
)

// Scheduler arma una cuenta regresiva hacia la próxima marcación automática
type Scheduler struct {
	armed     bool
	remaining int
	label     string
	cancels   int

	onFire    func(label string)
	onAbandon func()
	onChange  func(remaining int, label string)
}

// New construye un scheduler desarmado. onFire se invoca cuando la cuenta
// llega a cero, onAbandon cuando el ejecutivo cancela por tercera vez.
func New(onFire func(label string), onAbandon func()) *Scheduler {
	return &Scheduler{onFire: onFire, onAbandon: onAbandon}
}

// OnChange registra un observador del avance de la cuenta regresiva
func (s *Scheduler) OnChange(fn func(remaining int, label string)) {
	s.onChange = fn
}

// Arm inicia una cuenta regresiva de seconds segundos. Un Arm sobre una
// cuenta activa la reemplaza.
func (s *Scheduler) Arm(seconds int, label string) {
	if seconds <= 0 {
		return
	}
	s.armed = true
	s.remaining = seconds
	s.label = label
	s.notify()
}

// Cancel detiene la cuenta activa y aplica el escalamiento. Devuelve true si
// la cuenta quedó rearmada, false si el automático quedó abandonado o no
// había cuenta activa.
func (s *Scheduler) Cancel() bool {
	if !s.armed {
		return false
	}
	s.cancels++
	switch s.cancels {
	case 1:
		log.Printf("[AutoCall] Cancelado, rearmando a %ds", ReArmPrimeraSegundos)
		s.Arm(ReArmPrimeraSegundos, s.label)
		return true
	case 2:
		log.Printf("[AutoCall] Segunda cancelación, rearmando a %ds", ReArmSegundaSegundos)
		s.Arm(ReArmSegundaSegundos, s.label)
		return true
	default:
		log.Printf("[AutoCall] Tercera cancelación, abandonando automático")
		s.Disarm()
		if s.onAbandon != nil {
			s.onAbandon()
		}
		return false
	}
}

// Disarm detiene la cuenta sin escalar. Se usa cuando el ejecutivo marca
// manualmente o cierra la sesión.
func (s *Scheduler) Disarm() {
	s.armed = false
	s.remaining = 0
	s.label = ""
}

// ResetCancels reinicia el escalamiento. Se invoca al avanzar a otro lead.
func (s *Scheduler) ResetCancels() {
	s.cancels = 0
}

// Tick avanza la cuenta un segundo y dispara onFire al llegar a cero
func (s *Scheduler) Tick() {
	if !s.armed {
		return
	}
	s.remaining--
	if s.remaining > 0 {
		s.notify()
		return
	}
	label := s.label
	s.Disarm()
	if s.onFire != nil {
		s.onFire(label)
	}
}

func (s *Scheduler) notify() {
	if s.onChange != nil {
		s.onChange(s.remaining, s.label)
	}
}

// Armed indica si hay cuenta regresiva activa
func (s *Scheduler) Armed() bool { return s.armed }

// Remaining devuelve los segundos restantes de la cuenta activa
func (s *Scheduler) Remaining() int { return s.remaining }

// Cancels devuelve cuántas veces se canceló el automático sobre el lead actual
func (s *Scheduler) Cancels() int { return s.cancels }

// Label devuelve la etiqueta del lead objetivo de la cuenta activa
func (s *Scheduler) Label() string { return s.label }
