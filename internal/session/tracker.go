package session

import (
	"log"
	"time"

	"discador/internal/database"
)

// Store persiste el ciclo de vida de la sesión. Lo implementa el repositorio.
type Store interface {
	StartSession(campaignKey, ejecutivo string) (string, error)
	EndSession(rec *database.SessionRecord) error
}

// Modos de cierre de sesión
const (
	CloseManual = "closed_manual"
	CloseAuto   = "closed_auto"
)

// Summary es el resumen que se entrega al ejecutivo al cerrar la sesión
type Summary struct {
	SessionID       string `json:"session_id"`
	CampaignKey     string `json:"campaign_key"`
	Ejecutivo       string `json:"ejecutivo"`
	SegundosActivos int    `json:"segundos_activos"`
	SegundosLlamada int    `json:"segundos_llamada"`
	Llamadas        int    `json:"llamadas"`
	Completados     int    `json:"completados"`
	Omitidos        int    `json:"omitidos"`
	Gestionados     int    `json:"gestionados"`
	Total           int    `json:"total"`
	Progreso        int    `json:"progreso"` // porcentaje gestionados/total
	Modo            string `json:"modo"`
}

// Tracker acumula los contadores de la sesión activa de un ejecutivo.
// No tiene mutex propio: el orquestador serializa todos los accesos.
type Tracker struct {
	store Store

	sessionID   string
	campaignKey string
	ejecutivo   string
	inicio      time.Time
	closed      bool

	segundosActivos int
	segundosLlamada int
	llamadas        int
	completados     int
	omitidos        int
	total           int
}

// NewTracker construye un tracker sin sesión activa
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Join abre una sesión persistida para el ejecutivo en la campaña
func (t *Tracker) Join(campaignKey, ejecutivo string) error {
	id, err := t.store.StartSession(campaignKey, ejecutivo)
	if err != nil {
		return err
	}
	t.sessionID = id
	t.campaignKey = campaignKey
	t.ejecutivo = ejecutivo
	t.inicio = time.Now()
	t.closed = false
	t.segundosActivos = 0
	t.segundosLlamada = 0
	t.llamadas = 0
	t.completados = 0
	t.omitidos = 0
	t.total = 0
	log.Printf("[Session] Sesión %s iniciada: %s en %s", id, ejecutivo, campaignKey)
	return nil
}

// Tick suma un segundo de sesión activa
func (t *Tracker) Tick() {
	if t.Active() {
		t.segundosActivos++
	}
}

// AddCallSeconds suma la duración de una llamada terminada
func (t *Tracker) AddCallSeconds(segundos int) {
	if segundos > 0 {
		t.segundosLlamada += segundos
	}
}

// RecordCall cuenta una llamada colocada
func (t *Tracker) RecordCall() { t.llamadas++ }

// RecordOutcome cuenta una gestión guardada. done indica que el lead cerró.
func (t *Tracker) RecordOutcome(done bool) {
	if done {
		t.completados++
	}
}

// RecordSkip cuenta un lead omitido sin gestión
func (t *Tracker) RecordSkip() { t.omitidos++ }

// SetTotal fija el total de leads reportado por la cola
func (t *Tracker) SetTotal(total int) { t.total = total }

// Close cierra la sesión en el store y devuelve el resumen. Cierres
// repetidos devuelven nil sin tocar el store.
func (t *Tracker) Close(modo string) *Summary {
	if !t.Active() {
		return nil
	}
	t.closed = true
	fin := time.Now()
	rec := &database.SessionRecord{
		ID:              t.sessionID,
		CampaignKey:     t.campaignKey,
		Ejecutivo:       t.ejecutivo,
		Inicio:          t.inicio,
		Fin:             &fin,
		SegundosActivos: t.segundosActivos,
		SegundosLlamada: t.segundosLlamada,
		Completados:     t.completados,
		Omitidos:        t.omitidos,
		Llamadas:        t.llamadas,
		Estado:          modo,
	}
	if err := t.store.EndSession(rec); err != nil {
		log.Printf("[Session] Error cerrando sesión %s: %v", t.sessionID, err)
	}
	log.Printf("[Session] Sesión %s cerrada (%s): %d llamadas, %d completados", t.sessionID, modo, t.llamadas, t.completados)

	gestionados := t.completados + t.omitidos
	progreso := 0
	if t.total > 0 {
		progreso = gestionados * 100 / t.total
	}
	return &Summary{
		SessionID:       t.sessionID,
		CampaignKey:     t.campaignKey,
		Ejecutivo:       t.ejecutivo,
		SegundosActivos: t.segundosActivos,
		SegundosLlamada: t.segundosLlamada,
		Llamadas:        t.llamadas,
		Completados:     t.completados,
		Omitidos:        t.omitidos,
		Gestionados:     gestionados,
		Total:           t.total,
		Progreso:        progreso,
		Modo:            modo,
	}
}

// Active indica si hay sesión abierta
func (t *Tracker) Active() bool { return t.sessionID != "" && !t.closed }

// SessionID devuelve el identificador de la sesión activa
func (t *Tracker) SessionID() string { return t.sessionID }

// CampaignKey devuelve la campaña de la sesión activa
func (t *Tracker) CampaignKey() string { return t.campaignKey }

// Ejecutivo devuelve el ejecutivo dueño de la sesión
func (t *Tracker) Ejecutivo() string { return t.ejecutivo }
