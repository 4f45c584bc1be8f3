package outcome

import "discador/internal/database"

// Categoria agrupa las tipificaciones en el tablero del supervisor
type Categoria string

const (
	CategoriaPositiva Categoria = "positiva"
	CategoriaNegativa Categoria = "negativa"
)

// Clase determina las reglas de resolución de una tipificación
type Clase string

const (
	ClasePositiva       Clase = "positiva"       // interesado / agendado / cierre
	ClaseNoContesta     Clase = "no_contesta"    // difiere con reintento en horas
	ClaseDisponibilidad Clase = "disponibilidad" // difiere en días según decisión de etapa
	ClasePerdida        Clase = "perdida"        // pérdida definitiva con motivo
)

// ClaveMaxIntentos es la tipificación dedicada que fuerza el cierre cuando
// el lead alcanza el tope de gestiones
const ClaveMaxIntentos = "max_intentos"

// Tipificacion define una disposición del catálogo
type Tipificacion struct {
	Clave     string    `json:"clave"`
	Nombre    string    `json:"nombre"`
	Categoria Categoria `json:"categoria"`
	Clase     Clase     `json:"clase"`
}

// Catalog es el registro de disposiciones disponibles para el ejecutivo
type Catalog struct {
	entries map[string]Tipificacion
	orden   []string
}

// NewCatalog construye un catálogo a partir de definiciones
func NewCatalog(entries []Tipificacion) *Catalog {
	c := &Catalog{entries: make(map[string]Tipificacion, len(entries))}
	for _, e := range entries {
		if _, dup := c.entries[e.Clave]; dup {
			continue
		}
		c.entries[e.Clave] = e
		c.orden = append(c.orden, e.Clave)
	}
	return c
}

// FromRows construye el catálogo desde las filas del repositorio
func FromRows(rows []database.Tipificacion) *Catalog {
	entries := make([]Tipificacion, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Tipificacion{
			Clave:     r.Clave,
			Nombre:    r.Nombre,
			Categoria: Categoria(r.Categoria),
			Clase:     Clase(r.Clase),
		})
	}
	return NewCatalog(entries)
}

// DefaultCatalog es el catálogo embebido que se usa cuando la base de datos
// no tiene tipificaciones configuradas. Siempre incluye la clave de tope de
// gestiones para que el guardia del tope nunca quede sin salida.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Tipificacion{
		{Clave: "interesado", Nombre: "Interesado", Categoria: CategoriaPositiva, Clase: ClasePositiva},
		{Clave: "agendado", Nombre: "Cita agendada", Categoria: CategoriaPositiva, Clase: ClasePositiva},
		{Clave: "cierre", Nombre: "Venta cerrada", Categoria: CategoriaPositiva, Clase: ClasePositiva},
		{Clave: "no_contesta", Nombre: "No contesta", Categoria: CategoriaNegativa, Clase: ClaseNoContesta},
		{Clave: "volver_mas_adelante", Nombre: "Disponible más adelante", Categoria: CategoriaNegativa, Clase: ClaseDisponibilidad},
		{Clave: "datos_falsos", Nombre: "Datos falsos", Categoria: CategoriaNegativa, Clase: ClasePerdida},
		{Clave: "muy_costoso", Nombre: "Muy costoso", Categoria: CategoriaNegativa, Clase: ClasePerdida},
		{Clave: ClaveMaxIntentos, Nombre: "Máximo de intentos", Categoria: CategoriaNegativa, Clase: ClasePerdida},
	})
}

// Get busca una tipificación por clave
func (c *Catalog) Get(clave string) (Tipificacion, bool) {
	t, ok := c.entries[clave]
	return t, ok
}

// List devuelve las tipificaciones en orden de catálogo
func (c *Catalog) List() []Tipificacion {
	out := make([]Tipificacion, 0, len(c.orden))
	for _, clave := range c.orden {
		out = append(out, c.entries[clave])
	}
	return out
}
