package session

import (
	"log"
	"sync"
	"time"

	"discador/internal/ami"
	"discador/internal/callstate"
	"discador/internal/database"
)

// Registry mantiene un orquestador por ejecutivo y les reparte los eventos
// de AMI y los ticks de reloj
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Orchestrator

	repo        Repo
	crm         CRM
	notifierFor func(ejecutivo string) Notifier
	telFactory  func(*database.Campaign) callstate.Telephony

	// AutoCallDefault es la cuenta regresiva para campañas que no definen
	// la suya. Se fija antes de la primera sesión.
	AutoCallDefault int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRegistry construye el registro de sesiones. notifierFor entrega el
// notificador atado al canal del ejecutivo.
func NewRegistry(repo Repo, crm CRM, notifierFor func(ejecutivo string) Notifier, telFactory func(*database.Campaign) callstate.Telephony) *Registry {
	return &Registry{
		sessions:    make(map[string]*Orchestrator),
		repo:        repo,
		crm:         crm,
		notifierFor: notifierFor,
		telFactory:  telFactory,
		stopChan:    make(chan struct{}),
	}
}

// Get devuelve el orquestador del ejecutivo, creándolo si no existe
func (r *Registry) Get(ejecutivo string) *Orchestrator {
	r.mu.RLock()
	o, ok := r.sessions[ejecutivo]
	r.mu.RUnlock()
	if ok {
		return o
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.sessions[ejecutivo]; ok {
		return o
	}
	var notifier Notifier
	if r.notifierFor != nil {
		notifier = r.notifierFor(ejecutivo)
	}
	o = New(r.repo, r.crm, notifier, r.telFactory, ejecutivo)
	o.autoCallDefault = r.AutoCallDefault
	r.sessions[ejecutivo] = o
	return o
}

// Start lanza la bomba de eventos AMI y el reloj de un segundo
func (r *Registry) Start(events <-chan ami.Event) {
	r.wg.Add(2)

	go func() {
		defer r.wg.Done()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				r.deliver(ev)
			case <-r.stopChan:
				return
			}
		}
	}()

	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.tick()
			case <-r.stopChan:
				return
			}
		}
	}()

	log.Println("[Session] Registro de sesiones iniciado")
}

// Stop detiene la bomba y el reloj, y cierra las sesiones abiertas
func (r *Registry) Stop() {
	close(r.stopChan)
	r.wg.Wait()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.sessions {
		if o.Active() {
			if _, err := o.CloseCampaign(); err != nil {
				log.Printf("[Session] Error cerrando sesión en apagado: %v", err)
			}
		}
	}
}

func (r *Registry) deliver(ev ami.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.sessions {
		o.Deliver(ev)
	}
}

func (r *Registry) tick() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.sessions {
		o.Tick()
	}
}

// ListActive devuelve las sesiones persistidas como activas
func (r *Registry) ListActive() ([]database.SessionRecord, error) {
	type lister interface {
		ListActiveSessions() ([]database.SessionRecord, error)
	}
	if l, ok := r.repo.(lister); ok {
		return l.ListActiveSessions()
	}
	return nil, nil
}
