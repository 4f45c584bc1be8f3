package leadqueue

import (
	"errors"
	"fmt"
	"log"

	"discador/internal/database"
)

// Backend es la operación de asignación de la cola. La implementa el
// repositorio, que aplica cooldown y topes del lado del servidor.
type Backend interface {
	AssignNextLead(campaignKey, ejecutivo string) (*database.AssignResult, error)
}

var (
	ErrNoCampaign = errors.New("ninguna campaña seleccionada")
	ErrFetchBusy  = errors.New("ya hay una búsqueda de lead en curso")
)

// Controller mantiene exactamente un lead en mano y uno prefetched, con una
// pila de leads anteriores para navegación hacia atrás.
type Controller struct {
	backend   Backend
	ejecutivo string

	campaignKey string
	current     *database.Lead
	next        *database.Lead
	prev        []*database.Lead

	busy        bool
	completed   bool
	emptyReason string
	stats       database.QueueStats

	// onLead se dispara cada vez que un lead nuevo pasa a "en mano"; el
	// dueño lo usa para limpiar formulario, cuenta regresiva y mensajes.
	onLead func(*database.Lead)
}

// New crea un controlador para un ejecutivo
func New(backend Backend, ejecutivo string) *Controller {
	return &Controller{backend: backend, ejecutivo: ejecutivo}
}

// SetOnLead registra el callback de lead cargado
func (c *Controller) SetOnLead(fn func(*database.Lead)) {
	c.onLead = fn
}

// Join selecciona la campaña, limpia todo el estado local y hace la primera
// búsqueda
func (c *Controller) Join(campaignKey string) error {
	if campaignKey == "" {
		return ErrNoCampaign
	}
	c.campaignKey = campaignKey
	c.reset()
	return c.Fetch()
}

func (c *Controller) reset() {
	c.current = nil
	c.next = nil
	c.prev = nil
	c.completed = false
	c.emptyReason = ""
	c.busy = false
}

// Fetch pide el siguiente lead a la cola. Una búsqueda superpuesta se
// previene con la bandera busy, no se encola. Ante un error de red el
// estado local queda intacto para permitir el reintento manual.
func (c *Controller) Fetch() error {
	if c.campaignKey == "" {
		return ErrNoCampaign
	}
	if c.busy {
		return ErrFetchBusy
	}
	c.busy = true
	defer func() { c.busy = false }()

	res, err := c.backend.AssignNextLead(c.campaignKey, c.ejecutivo)
	if err != nil {
		return fmt.Errorf("error solicitando lead: %w", err)
	}

	c.apply(res)
	return nil
}

func (c *Controller) apply(res *database.AssignResult) {
	c.stats = res.Stats

	switch {
	case res.Completed:
		log.Printf("[LeadQueue] Campaña %s completada", c.campaignKey)
		c.completed = true
		c.current = nil
		c.next = nil
		c.emptyReason = ""

	case res.Lead != nil:
		c.current = res.Lead
		c.emptyReason = ""
		if c.onLead != nil {
			c.onLead(c.current)
		}

	default:
		// Sin lead disponible: la razón se muestra tal cual, sin reintento
		log.Printf("[LeadQueue] Sin leads disponibles en %s: %s", c.campaignKey, res.Reason)
		c.emptyReason = res.Reason
	}
}

// Prefetch busca oportunistamente el siguiente lead mientras el actual se
// gestiona. Se omite si ya hay uno o si el backend reasigna el mismo
// registro (carrera de reasignación).
func (c *Controller) Prefetch() error {
	if c.campaignKey == "" || c.next != nil || c.current == nil || c.busy {
		return nil
	}
	c.busy = true
	defer func() { c.busy = false }()

	res, err := c.backend.AssignNextLead(c.campaignKey, c.ejecutivo)
	if err != nil {
		return fmt.Errorf("error en prefetch: %w", err)
	}
	if res.Lead == nil {
		return nil
	}
	if c.current != nil && res.Lead.ID == c.current.ID {
		log.Printf("[LeadQueue] Prefetch descartado: backend reasignó el lead %d", res.Lead.ID)
		return nil
	}

	c.next = res.Lead
	return nil
}

// Advance pasa al siguiente lead. Con prefetch disponible lo promueve sin
// llamada de red; sin prefetch hace una búsqueda nueva. Se invoca siempre
// después de guardar una gestión u omitir un lead.
func (c *Controller) Advance() error {
	if c.next != nil {
		if c.current != nil {
			c.prev = append(c.prev, c.current)
		}
		c.current = c.next
		c.next = nil
		c.emptyReason = ""
		if c.onLead != nil {
			c.onLead(c.current)
		}
		return nil
	}

	if c.current != nil {
		c.prev = append(c.prev, c.current)
		c.current = nil
	}
	return c.Fetch()
}

// GoBack regresa al lead anterior; el lead que se deja pasa al slot de
// prefetch. No-op con la pila vacía.
func (c *Controller) GoBack() bool {
	if len(c.prev) == 0 {
		return false
	}

	last := c.prev[len(c.prev)-1]
	c.prev = c.prev[:len(c.prev)-1]
	c.next = c.current
	c.current = last

	if c.onLead != nil {
		c.onLead(c.current)
	}
	return true
}

// Current devuelve el lead en mano
func (c *Controller) Current() *database.Lead { return c.current }

// Next devuelve el lead prefetched
func (c *Controller) Next() *database.Lead { return c.next }

// Completed indica si la campaña quedó agotada
func (c *Controller) Completed() bool { return c.completed }

// EmptyReason devuelve la razón transitoria de cola vacía ("" si no aplica)
func (c *Controller) EmptyReason() string { return c.emptyReason }

// Stats devuelve las últimas estadísticas agregadas reportadas
func (c *Controller) Stats() database.QueueStats { return c.stats }

// PrevCount devuelve cuántos leads hay en la pila de anteriores
func (c *Controller) PrevCount() int { return len(c.prev) }

// CampaignKey devuelve la campaña activa
func (c *Controller) CampaignKey() string { return c.campaignKey }
