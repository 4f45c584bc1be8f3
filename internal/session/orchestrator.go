package session

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"discador/internal/ami"
	"discador/internal/autocall"
	"discador/internal/callstate"
	"discador/internal/database"
	"discador/internal/leadqueue"
	"discador/internal/outcome"
)

// Eventos que la sesión publica hacia la consola del ejecutivo
const (
	EventCallState      = "call_state"
	EventCountdown      = "countdown"
	EventLeadLoaded     = "lead_loaded"
	EventQueueEmpty     = "queue_empty"
	EventSessionSummary = "session_summary"
	EventToast          = "toast"
)

// Repo agrupa lo que la sesión necesita del repositorio
type Repo interface {
	leadqueue.Backend
	Store
	GetCampaign(clave string) (*database.Campaign, error)
	RegisterAttempt(leadID int64) error
	MarkOutcome(leadID int64, rec *database.OutcomeRecord) (string, error)
	SkipLead(leadID int64, razon string) error
	CreateCallLog(l *database.CallLog) (int64, error)
	FinishCallLog(update database.LogUpdate)
	GetTipificaciones() ([]database.Tipificacion, error)
}

// CRM son las escrituras hacia el CRM tras guardar una gestión. Todas son
// best effort: un CRM caído nunca bloquea la sesión.
type CRM interface {
	LogActivity(crmID, asunto, notas string) error
	UpdateStage(crmID, etapa string) error
	ApplyLostReason(crmID, motivo string) error
}

// Notifier empuja eventos de la sesión hacia los clientes conectados
type Notifier interface {
	Notify(event string, data any)
}

var (
	ErrSinSesion        = errors.New("no hay sesión activa")
	ErrSesionActiva     = errors.New("ya hay una sesión activa, ciérrela primero")
	ErrCampanaInactiva  = errors.New("la campaña no está activa")
	ErrSinLead          = errors.New("no hay lead asignado")
	ErrGestionPendiente = errors.New("hay una gestión pendiente de guardar")
	ErrLlamadaActiva    = errors.New("hay una llamada en curso")
)

// Orchestrator serializa todas las operaciones de la sesión de un ejecutivo
// bajo un solo mutex. Cada comando, evento de telefonía y tick corre hasta
// completarse antes de que entre el siguiente.
type Orchestrator struct {
	mu sync.Mutex

	repo       Repo
	crm        CRM
	notifier   Notifier
	telFactory func(*database.Campaign) callstate.Telephony

	ejecutivo string
	campaign  *database.Campaign
	resolver  *outcome.Resolver
	catalog   *outcome.Catalog

	queue     *leadqueue.Controller
	machine   *callstate.Machine
	scheduler *autocall.Scheduler
	tracker   *Tracker

	activeCall   *ami.Call
	callLogID    int64
	lastDuracion int
	formOpen     bool
	formDefault  string

	// autoCallDefault aplica cuando la campaña no define su cuenta regresiva
	autoCallDefault int
}

// New construye el orquestador de un ejecutivo. telFactory arma la telefonía
// con la troncal y prefijo de la campaña al unirse.
func New(repo Repo, crm CRM, notifier Notifier, telFactory func(*database.Campaign) callstate.Telephony, ejecutivo string) *Orchestrator {
	o := &Orchestrator{
		repo:       repo,
		crm:        crm,
		notifier:   notifier,
		telFactory: telFactory,
		ejecutivo:  ejecutivo,
		tracker:    NewTracker(repo),
	}
	o.queue = leadqueue.New(repo, ejecutivo)
	o.queue.SetOnLead(func(lead *database.Lead) {
		o.notify(EventLeadLoaded, lead)
	})
	o.scheduler = autocall.New(o.onAutoCallFire, o.onAutoCallAbandon)
	o.scheduler.OnChange(func(remaining int, label string) {
		o.notify(EventCountdown, map[string]any{"remaining": remaining, "label": label})
	})
	return o
}

// JoinCampaign abre la sesión del ejecutivo sobre una campaña y carga el
// primer lead de la cola
func (o *Orchestrator) JoinCampaign(campaignKey string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tracker.Active() {
		return ErrSesionActiva
	}

	campaign, err := o.repo.GetCampaign(campaignKey)
	if err != nil {
		return fmt.Errorf("error cargando campaña: %w", err)
	}
	if !campaign.Activa {
		return ErrCampanaInactiva
	}

	o.catalog = o.loadCatalog()
	o.resolver = outcome.NewResolver(o.catalog, campaign.MaxGestiones)
	o.machine = callstate.New(o.telFactory(campaign), o.onCallTerminal)
	o.campaign = campaign
	o.activeCall = nil
	o.callLogID = 0
	o.lastDuracion = 0
	o.formOpen = false
	o.formDefault = ""

	if err := o.queue.Join(campaignKey); err != nil {
		return err
	}
	if err := o.tracker.Join(campaignKey, o.ejecutivo); err != nil {
		return err
	}
	o.tracker.SetTotal(o.queue.Stats().Total)

	if o.queue.Completed() {
		o.notify(EventQueueEmpty, map[string]any{"completed": true})
	} else if o.queue.Current() == nil {
		o.notify(EventQueueEmpty, map[string]any{"reason": o.queue.EmptyReason()})
	}
	return nil
}

// loadCatalog lee el catálogo del repositorio, con el embebido como respaldo
func (o *Orchestrator) loadCatalog() *outcome.Catalog {
	rows, err := o.repo.GetTipificaciones()
	if err != nil || len(rows) == 0 {
		if err != nil {
			log.Printf("[Session] Error cargando tipificaciones, usando catálogo embebido: %v", err)
		}
		return outcome.DefaultCatalog()
	}
	cat := outcome.FromRows(rows)
	if _, ok := cat.Get(outcome.ClaveMaxIntentos); !ok {
		// Sin la clave de tope el guardia de gestiones no tendría salida
		log.Printf("[Session] Catálogo sin %s, usando catálogo embebido", outcome.ClaveMaxIntentos)
		return outcome.DefaultCatalog()
	}
	return cat
}

// Dial marca al lead actual
func (o *Orchestrator) Dial() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dialLocked()
}

func (o *Orchestrator) dialLocked() error {
	if !o.tracker.Active() {
		return ErrSinSesion
	}
	if o.formOpen {
		return ErrGestionPendiente
	}
	lead := o.queue.Current()
	if lead == nil {
		return ErrSinLead
	}

	o.scheduler.Disarm()

	if err := o.machine.Dial(lead.Telefono, o.campaign.CallerID); err != nil {
		return err
	}
	// La llamada salió: el escalamiento de cancelaciones parte de cero
	o.scheduler.ResetCancels()
	if call, ok := o.machine.ActiveHandle().(*ami.Call); ok {
		o.activeCall = call
	}

	if err := o.repo.RegisterAttempt(lead.ID); err != nil {
		log.Printf("[Session] Error registrando intento del lead %d: %v", lead.ID, err)
	} else {
		lead.Intentos++
	}

	id, err := o.repo.CreateCallLog(&database.CallLog{
		SessionID:    o.tracker.SessionID(),
		LeadID:       lead.ID,
		CampaignKey:  o.campaign.Clave,
		Telefono:     lead.Telefono,
		CallerIDUsed: o.campaign.CallerID,
	})
	if err != nil {
		log.Printf("[Session] Error creando registro de llamada: %v", err)
	} else {
		o.callLogID = id
	}

	o.tracker.RecordCall()
	o.notifyCallState()

	// Precargar el siguiente lead mientras suena la llamada
	go func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if err := o.queue.Prefetch(); err != nil {
			log.Printf("[Session] Error precargando siguiente lead: %v", err)
		}
	}()
	return nil
}

// onAutoCallFire marca automáticamente cuando la cuenta regresiva llega a
// cero. Corre bajo el mutex porque lo dispara Tick.
func (o *Orchestrator) onAutoCallFire(label string) {
	if err := o.dialLocked(); err != nil {
		log.Printf("[Session] AutoCall no pudo marcar (%s): %v", label, err)
		o.notify(EventToast, map[string]string{"mensaje": "la marcación automática falló: " + err.Error()})
	}
}

// onAutoCallAbandon corre bajo el mutex cuando el ejecutivo cancela el
// automático por tercera vez: la sesión pasa a cierre manual.
func (o *Orchestrator) onAutoCallAbandon() {
	o.notify(EventToast, map[string]string{"mensaje": "marcación automática desactivada, cerrando sesión"})
	o.closeLocked(CloseManual)
}

// onCallTerminal corre bajo el mutex, disparado por la máquina de estados
// exactamente una vez por intento
func (o *Orchestrator) onCallTerminal(final callstate.State, connected bool, duration int) {
	o.tracker.AddCallSeconds(duration)
	o.lastDuracion = duration

	if o.callLogID != 0 {
		update := database.LogUpdate{
			ID:          o.callLogID,
			EstadoFinal: string(final),
			Conecto:     connected,
			Duracion:    duration,
		}
		if o.activeCall != nil && o.activeCall.UniqueID != "" {
			uid := o.activeCall.UniqueID
			update.Uniqueid = &uid
		}
		o.repo.FinishCallLog(update)
		o.callLogID = 0
	}
	o.activeCall = nil

	// Toda llamada termina en el formulario de gestión. Una llamada que no
	// conectó o duró cero segundos se preselecciona como no contesta.
	o.formOpen = true
	o.formDefault = ""
	if !connected || duration == 0 {
		o.formDefault = "no_contesta"
	}
	o.notifyCallState()
}

// Hangup cuelga la llamada en curso. En la ruta degradada sin handle la
// máquina se fuerza al reposo y no se abre gestión.
func (o *Orchestrator) Hangup() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return ErrSinSesion
	}
	issued := o.machine.Hangup()
	if !issued {
		o.notifyCallState()
	}
	return nil
}

// ToggleMute alterna el silencio de la llamada activa
func (o *Orchestrator) ToggleMute() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return ErrSinSesion
	}
	o.machine.ToggleMute()
	o.notifyCallState()
	return nil
}

// CancelAutoCall cancela la cuenta regresiva con escalamiento
func (o *Orchestrator) CancelAutoCall() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return ErrSinSesion
	}
	o.scheduler.Cancel()
	return nil
}

// SaveOutcome valida y guarda la gestión del lead actual, dispara las
// escrituras al CRM y avanza la cola
func (o *Orchestrator) SaveOutcome(d outcome.Decision) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return ErrSinSesion
	}
	lead := o.queue.Current()
	if lead == nil {
		return ErrSinLead
	}
	if o.machine.Active() {
		return ErrLlamadaActiva
	}

	res, err := o.resolver.Resolve(lead, d)
	if err != nil {
		return err
	}

	rec := &database.OutcomeRecord{
		Tipificacion:   res.Tipificacion.Clave,
		Categoria:      string(res.Tipificacion.Categoria),
		Notas:          d.Notas,
		RetryHoras:     d.RetryHoras,
		FuturoDias:     d.FuturoDias,
		Disponibilidad: d.Disponibilidad,
		EtapaDestino:   d.EtapaDestino,
		MotivoPerdida:  d.MotivoPerdida,
		ProximaLlamada: res.ProximaLlamada,
		Terminal:       res.Terminal,
		SessionID:      o.tracker.SessionID(),
		Duracion:       o.lastDuracion,
	}
	status, err := o.repo.MarkOutcome(lead.ID, rec)
	if err != nil {
		return fmt.Errorf("error guardando gestión: %w", err)
	}

	o.pushToCRM(lead, d, res)

	o.tracker.RecordOutcome(status == "done")
	o.formOpen = false
	o.formDefault = ""
	o.lastDuracion = 0
	o.machine.Reset()

	return o.advanceLocked()
}

// pushToCRM dispara las escrituras al CRM en segundo plano. Los errores se
// registran y nada más.
func (o *Orchestrator) pushToCRM(lead *database.Lead, d outcome.Decision, res outcome.Resolution) {
	if o.crm == nil || lead.CRMID == "" {
		return
	}
	crmID := lead.CRMID
	go func() {
		if err := o.crm.LogActivity(crmID, "Llamada: "+res.Tipificacion.Nombre, d.Notas); err != nil {
			log.Printf("[Session] CRM: error registrando actividad de %s: %v", crmID, err)
		}
	}()
	if d.EtapaDestino != "" {
		go func() {
			if err := o.crm.UpdateStage(crmID, d.EtapaDestino); err != nil {
				log.Printf("[Session] CRM: error moviendo etapa de %s: %v", crmID, err)
			}
		}()
	}
	if res.Terminal && res.Tipificacion.Clase == outcome.ClasePerdida {
		motivo := d.MotivoPerdida
		if motivo == "" {
			motivo = res.Tipificacion.Nombre
		}
		go func() {
			if err := o.crm.ApplyLostReason(crmID, motivo); err != nil {
				log.Printf("[Session] CRM: error marcando pérdida de %s: %v", crmID, err)
			}
		}()
	}
}

// Skip omite el lead actual sin gestionarlo
func (o *Orchestrator) Skip() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return ErrSinSesion
	}
	lead := o.queue.Current()
	if lead == nil {
		return ErrSinLead
	}
	if o.machine.Active() {
		return ErrLlamadaActiva
	}

	if err := o.repo.SkipLead(lead.ID, "omitido por ejecutivo"); err != nil {
		return fmt.Errorf("error omitiendo lead: %w", err)
	}
	o.tracker.RecordSkip()
	o.formOpen = false
	o.formDefault = ""
	o.lastDuracion = 0
	o.machine.Reset()

	return o.advanceLocked()
}

// Retry vuelve a pedir un lead cuando la cola no entregó uno por una
// condición transitoria (cooldown, candado, error de red). Con lead en mano
// es no-op.
func (o *Orchestrator) Retry() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return ErrSinSesion
	}
	if o.queue.Current() != nil {
		return nil
	}

	if err := o.queue.Fetch(); err != nil {
		return err
	}
	o.tracker.SetTotal(o.queue.Stats().Total)

	if o.queue.Completed() {
		o.closeLocked(CloseAuto)
		return nil
	}
	if o.queue.Current() == nil {
		o.notify(EventQueueEmpty, map[string]any{"reason": o.queue.EmptyReason(), "stats": o.queue.Stats()})
	}
	return nil
}

// GoBack retrocede al lead anterior de la corrida para revisarlo
func (o *Orchestrator) GoBack() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return ErrSinSesion
	}
	if o.machine.Active() {
		return ErrLlamadaActiva
	}
	if o.formOpen {
		return ErrGestionPendiente
	}

	o.scheduler.Disarm()
	o.scheduler.ResetCancels()
	if !o.queue.GoBack() {
		return errors.New("no hay lead anterior")
	}
	return nil
}

// advanceLocked mueve la cola al siguiente lead y arma la marcación
// automática, o cierra la sesión si la cola quedó completada
func (o *Orchestrator) advanceLocked() error {
	o.scheduler.Disarm()
	o.scheduler.ResetCancels()

	if err := o.queue.Advance(); err != nil {
		return err
	}
	o.tracker.SetTotal(o.queue.Stats().Total)

	if o.queue.Completed() {
		o.closeLocked(CloseAuto)
		return nil
	}

	if lead := o.queue.Current(); lead != nil {
		seconds := o.campaign.AutoCallSegundos
		if seconds <= 0 {
			seconds = o.autoCallDefault
		}
		if seconds > 0 {
			o.scheduler.Arm(seconds, lead.Nombre)
		}
		return nil
	}

	o.notify(EventQueueEmpty, map[string]any{"reason": o.queue.EmptyReason(), "stats": o.queue.Stats()})
	return nil
}

// CloseCampaign cierra la sesión por decisión del ejecutivo
func (o *Orchestrator) CloseCampaign() (*Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return nil, ErrSinSesion
	}
	return o.closeLocked(CloseManual), nil
}

func (o *Orchestrator) closeLocked(modo string) *Summary {
	o.scheduler.Disarm()
	o.scheduler.ResetCancels()
	if o.machine != nil && o.machine.Active() {
		o.machine.Hangup()
		// El disconnect ya no llegará a esta sesión: cerrar el log aquí
		if o.callLogID != 0 {
			o.repo.FinishCallLog(database.LogUpdate{
				ID:          o.callLogID,
				EstadoFinal: string(callstate.StateCancelled),
				Conecto:     o.machine.Connected(),
				Duracion:    o.machine.Duration(),
			})
			o.callLogID = 0
		}
		o.activeCall = nil
		o.machine.Reset()
	}
	o.formOpen = false
	o.formDefault = ""

	sum := o.tracker.Close(modo)
	if sum != nil {
		o.notify(EventSessionSummary, sum)
	}
	return sum
}

// Deliver procesa un evento crudo de AMI si pertenece a la llamada activa
func (o *Orchestrator) Deliver(ev ami.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.machine == nil || o.activeCall == nil {
		return
	}
	cev, ok := TranslateEvent(ev, o.activeCall)
	if !ok {
		return
	}
	before := o.machine.State()
	o.machine.Handle(cev)
	if o.machine.State() != before {
		o.notifyCallState()
	}
}

// Tick avanza un segundo de sesión, llamada y cuenta regresiva. Lo invoca el
// registro a 1 Hz.
func (o *Orchestrator) Tick() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return
	}
	o.tracker.Tick()
	o.machine.Tick()
	o.scheduler.Tick()
}

// Snapshot es la vista completa de la sesión para reconexiones de la consola
type Snapshot struct {
	SessionID   string                   `json:"session_id"`
	CampaignKey string                   `json:"campaign_key"`
	Ejecutivo   string                   `json:"ejecutivo"`
	Lead        *database.Lead           `json:"lead,omitempty"`
	Stats       database.QueueStats      `json:"stats"`
	Completed   bool                     `json:"completed"`
	EmptyReason string                   `json:"empty_reason,omitempty"`
	CallState   string                   `json:"call_state"`
	CallLabel   string                   `json:"call_label"`
	Duration    int                      `json:"duration"`
	Connected   bool                     `json:"connected"`
	Muted       bool                     `json:"muted"`
	History     []callstate.HistoryEntry `json:"history,omitempty"`
	FormOpen    bool                     `json:"form_open"`
	FormDefault string                   `json:"form_default,omitempty"`
	Countdown   int                      `json:"countdown"`
	Cancels     int                      `json:"cancels"`
}

// Snapshot devuelve una copia por valor del estado actual de la sesión.
// El lead incluido es una copia: mutarlo no afecta la cola.
func (o *Orchestrator) Snapshot() (*Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.tracker.Active() {
		return nil, ErrSinSesion
	}
	snap := &Snapshot{
		SessionID:   o.tracker.SessionID(),
		CampaignKey: o.tracker.CampaignKey(),
		Ejecutivo:   o.ejecutivo,
		Stats:       o.queue.Stats(),
		Completed:   o.queue.Completed(),
		EmptyReason: o.queue.EmptyReason(),
		CallState:   string(o.machine.State()),
		CallLabel:   o.machine.Label(),
		Duration:    o.machine.Duration(),
		Connected:   o.machine.Connected(),
		Muted:       o.machine.Muted(),
		History:     o.machine.History(),
		FormOpen:    o.formOpen,
		FormDefault: o.formDefault,
		Countdown:   o.scheduler.Remaining(),
		Cancels:     o.scheduler.Cancels(),
	}
	if lead := o.queue.Current(); lead != nil {
		copia := *lead
		snap.Lead = &copia
	}
	return snap, nil
}

// Catalog devuelve el catálogo de tipificaciones de la sesión
func (o *Orchestrator) Catalog() []outcome.Tipificacion {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.catalog == nil {
		return outcome.DefaultCatalog().List()
	}
	return o.catalog.List()
}

// Active indica si el ejecutivo tiene sesión abierta
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tracker.Active()
}

func (o *Orchestrator) notifyCallState() {
	o.notify(EventCallState, map[string]any{
		"state":        string(o.machine.State()),
		"label":        o.machine.Label(),
		"duration":     o.machine.Duration(),
		"connected":    o.machine.Connected(),
		"muted":        o.machine.Muted(),
		"form_open":    o.formOpen,
		"form_default": o.formDefault,
	})
}

func (o *Orchestrator) notify(event string, data any) {
	if o.notifier != nil {
		o.notifier.Notify(event, data)
	}
}
