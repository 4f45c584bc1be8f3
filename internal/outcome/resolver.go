package outcome

import (
	"errors"
	"fmt"
	"time"

	"discador/internal/database"
)

// Disponibilidad es la decisión de etapa para la clase disponibilidad
const (
	DisponibilidadMantener = "mantener"
	DisponibilidadMover    = "mover"
	DisponibilidadPerder   = "perder"
)

// EtapaNoContesta es la etapa reservada para leads que nunca han contestado.
// Una tipificación positiva sobre un lead en esta etapa debe moverlo a una
// etapa real del embudo.
const EtapaNoContesta = "no contesta"

var (
	ErrSinTipificacion   = errors.New("debe seleccionar una tipificación")
	ErrSinRetraso        = errors.New("debe indicar el tiempo de reintento")
	ErrSinDisponibilidad = errors.New("debe indicar la decisión de disponibilidad")
	ErrSinEtapa          = errors.New("debe indicar la etapa destino")
	ErrSinMotivoPerdida  = errors.New("debe indicar el motivo de pérdida")
	ErrGestionesTope     = errors.New("el lead alcanzó el máximo de gestiones, solo puede cerrarse")
)

// RetryHorasPermitidas son los retrasos de reintento que acepta el formulario
var RetryHorasPermitidas = map[int]bool{1: true, 2: true, 3: true, 4: true, 6: true, 24: true}

// Decision es lo que el ejecutivo captura en el formulario de gestión
type Decision struct {
	Tipificacion   string `json:"tipificacion"`
	Notas          string `json:"notas"`
	RetryHoras     int    `json:"retry_horas"`
	FuturoDias     int    `json:"futuro_dias"`
	Disponibilidad string `json:"disponibilidad"`
	EtapaDestino   string `json:"etapa_destino"`
	MotivoPerdida  string `json:"motivo_perdida"`
}

// Resolution es el resultado de aplicar las reglas de catálogo a una decisión
type Resolution struct {
	Tipificacion   Tipificacion
	Terminal       bool
	ProximaLlamada *time.Time
}

// Resolver valida decisiones y calcula el próximo contacto según la clase de
// la tipificación y la zona horaria del lead
type Resolver struct {
	catalog      *Catalog
	maxGestiones int
	zonas        map[string]string
	now          func() time.Time
}

// NewResolver construye un resolver con la tabla de zonas por país
func NewResolver(catalog *Catalog, maxGestiones int) *Resolver {
	return &Resolver{
		catalog:      catalog,
		maxGestiones: maxGestiones,
		zonas: map[string]string{
			"CO": "America/Bogota",
			"MX": "America/Mexico_City",
			"PE": "America/Lima",
		},
		now: time.Now,
	}
}

// Validate revisa la decisión campo por campo en el orden del formulario.
// Devuelve el primer error encontrado para que el frontend enfoque el campo.
func (r *Resolver) Validate(lead *database.Lead, d Decision) (Tipificacion, error) {
	if d.Tipificacion == "" {
		return Tipificacion{}, ErrSinTipificacion
	}
	tip, ok := r.catalog.Get(d.Tipificacion)
	if !ok {
		return Tipificacion{}, fmt.Errorf("tipificación desconocida: %s", d.Tipificacion)
	}

	// Tope de gestiones: cuando esta gestión agota el cupo, las clases que
	// difieren el lead ya no son válidas, solo queda cerrarlo.
	if r.maxGestiones > 0 && lead.Gestiones+1 >= r.maxGestiones {
		if tip.Clase == ClaseNoContesta || tip.Clase == ClaseDisponibilidad {
			return Tipificacion{}, ErrGestionesTope
		}
	}

	switch tip.Clase {
	case ClasePositiva:
		if lead.Etapa == EtapaNoContesta && d.EtapaDestino == "" {
			return Tipificacion{}, ErrSinEtapa
		}
	case ClaseNoContesta:
		if !RetryHorasPermitidas[d.RetryHoras] {
			return Tipificacion{}, ErrSinRetraso
		}
	case ClaseDisponibilidad:
		switch d.Disponibilidad {
		case DisponibilidadMantener:
			if d.FuturoDias <= 0 {
				return Tipificacion{}, ErrSinRetraso
			}
		case DisponibilidadMover:
			if d.FuturoDias <= 0 {
				return Tipificacion{}, ErrSinRetraso
			}
			if d.EtapaDestino == "" {
				return Tipificacion{}, ErrSinEtapa
			}
		case DisponibilidadPerder:
			if d.MotivoPerdida == "" {
				return Tipificacion{}, ErrSinMotivoPerdida
			}
		default:
			return Tipificacion{}, ErrSinDisponibilidad
		}
	case ClasePerdida:
		if d.MotivoPerdida == "" && tip.Clave != ClaveMaxIntentos {
			return Tipificacion{}, ErrSinMotivoPerdida
		}
	}
	return tip, nil
}

// Resolve valida y calcula si la gestión cierra el lead o lo difiere, y en el
// segundo caso cuándo volver a llamarlo
func (r *Resolver) Resolve(lead *database.Lead, d Decision) (Resolution, error) {
	tip, err := r.Validate(lead, d)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Tipificacion: tip}
	switch tip.Clase {
	case ClasePositiva, ClasePerdida:
		res.Terminal = true
	case ClaseNoContesta:
		next := r.nowInLeadZone(lead).Add(time.Duration(d.RetryHoras) * time.Hour)
		res.ProximaLlamada = &next
	case ClaseDisponibilidad:
		if d.Disponibilidad == DisponibilidadPerder {
			res.Terminal = true
			break
		}
		next := r.nowInLeadZone(lead).AddDate(0, 0, d.FuturoDias)
		res.ProximaLlamada = &next
	}
	return res, nil
}

// nowInLeadZone devuelve la hora actual en la zona del país del lead.
// País desconocido o zona no cargable caen a Bogotá.
func (r *Resolver) nowInLeadZone(lead *database.Lead) time.Time {
	zona, ok := r.zonas[lead.Pais]
	if !ok {
		zona = "America/Bogota"
	}
	loc, err := time.LoadLocation(zona)
	if err != nil {
		loc, _ = time.LoadLocation("America/Bogota")
		if loc == nil {
			loc = time.UTC
		}
	}
	return r.now().In(loc)
}
