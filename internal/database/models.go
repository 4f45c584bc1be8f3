package database

import "time"

// Lead representa un contacto asignado a un ejecutivo para ser llamado
type Lead struct {
	ID          int64      `db:"id" json:"id"`
	CRMID       string     `db:"crm_id" json:"crm_id"`
	Nombre      string     `db:"nombre" json:"nombre"`
	Telefono    string     `db:"telefono" json:"telefono"` // formato E.164
	Pais        string     `db:"pais" json:"pais"`         // código para resolución de zona horaria
	Intentos    int        `db:"intentos" json:"intentos"`
	Gestiones   int        `db:"gestiones" json:"gestiones"`
	Etapa       string     `db:"etapa" json:"etapa"` // etapa actual en el CRM
	CampaignKey string     `db:"campaign_key" json:"campaign_key"`
	ProximaLlamada *time.Time `db:"proxima_llamada" json:"proxima_llamada,omitempty"`

	// Enriquecimiento opcional desde el CRM
	Owner       *string     `db:"owner" json:"owner,omitempty"`
	Notas       *string     `db:"notas" json:"notas,omitempty"`
	Actividades []Actividad `json:"actividades,omitempty"`
}

// Actividad es una actividad abierta del lead en el CRM
type Actividad struct {
	ID     int64     `db:"id" json:"id"`
	Tipo   string    `db:"tipo" json:"tipo"`
	Asunto string    `db:"asunto" json:"asunto"`
	Fecha  time.Time `db:"fecha" json:"fecha"`
}

// Campaign representa una campaña de marcación asistida
type Campaign struct {
	ID               int       `db:"id" json:"id"`
	Clave            string    `db:"clave" json:"clave"`
	Nombre           string    `db:"nombre" json:"nombre"`
	CallerID         string    `db:"caller_id" json:"caller_id"`
	TroncalSalida    string    `db:"troncal_salida" json:"troncal_salida"`
	PrefijoSalida    string    `db:"prefijo_salida" json:"prefijo_salida"`
	MaxIntentos      int       `db:"max_intentos" json:"max_intentos"`
	MaxGestiones     int       `db:"max_gestiones" json:"max_gestiones"`
	CooldownMinutos  int       `db:"cooldown_minutos" json:"cooldown_minutos"`
	AutoCallSegundos int       `db:"auto_call_segundos" json:"auto_call_segundos"`
	Activa           bool      `db:"activa" json:"activa"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// QueueStats estadísticas agregadas de la cola de una campaña
type QueueStats struct {
	Total       int `json:"total"`
	Pendientes  int `json:"pendientes"`
	Diferidos   int `json:"diferidos"`
	Completados int `json:"completados"`
	Omitidos    int `json:"omitidos"`
}

// Razones por las que la cola no entrega un lead
const (
	ReasonNoPhone     = "no_phone"
	ReasonMaxAttempts = "max_attempts"
	ReasonMaxGestions = "max_gestions"
	ReasonCooldown    = "cooldown"
	ReasonLocked      = "locked"
)

// AssignResult es el resultado de AssignNextLead.
// Exactamente uno de Lead/Completed/Reason está poblado.
type AssignResult struct {
	Lead      *Lead      `json:"lead,omitempty"`
	Completed bool       `json:"completed"`
	Available bool       `json:"available"`
	Reason    string     `json:"reason,omitempty"`
	Stats     QueueStats `json:"stats"`
}

// Estados de un lead en la cola
const (
	LeadPendiente = "pendiente"
	LeadDiferido  = "diferido"
	LeadTerminal  = "terminal"
	LeadOmitido   = "omitido"
)

// OutcomeRecord es la gestión validada que se persiste al guardar
type OutcomeRecord struct {
	Tipificacion   string     `json:"tipificacion"`
	Categoria      string     `json:"categoria"`
	Notas          string     `json:"notas"`
	RetryHoras     int        `json:"retry_horas,omitempty"`
	FuturoDias     int        `json:"futuro_dias,omitempty"`
	Disponibilidad string     `json:"disponibilidad,omitempty"`
	EtapaDestino   string     `json:"etapa_destino,omitempty"`
	MotivoPerdida  string     `json:"motivo_perdida,omitempty"`
	ProximaLlamada *time.Time `json:"proxima_llamada,omitempty"`
	Terminal       bool       `json:"terminal"`
	SessionID      string     `json:"session_id"`
	Duracion       int        `json:"duracion"`
}

// CallLog registro de una llamada colocada por un ejecutivo
type CallLog struct {
	ID           int64     `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	LeadID       int64     `db:"lead_id" json:"lead_id"`
	CampaignKey  string    `db:"campaign_key" json:"campaign_key"`
	Telefono     string    `db:"telefono" json:"telefono"`
	EstadoFinal  string    `db:"estado_final" json:"estado_final"`
	Conecto      bool      `db:"conecto" json:"conecto"`
	Duracion     int       `db:"duracion" json:"duracion"`
	Uniqueid     string    `db:"uniqueid" json:"uniqueid"`
	CallerIDUsed string    `db:"caller_id_used" json:"caller_id_used"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// SessionRecord registro persistido de una sesión de campaña
type SessionRecord struct {
	ID              string     `db:"id" json:"id"`
	CampaignKey     string     `db:"campaign_key" json:"campaign_key"`
	Ejecutivo       string     `db:"ejecutivo" json:"ejecutivo"`
	Inicio          time.Time  `db:"inicio" json:"inicio"`
	Fin             *time.Time `db:"fin" json:"fin,omitempty"`
	SegundosActivos int        `db:"segundos_activos" json:"segundos_activos"`
	SegundosLlamada int        `db:"segundos_llamada" json:"segundos_llamada"`
	Completados     int        `db:"completados" json:"completados"`
	Omitidos        int        `db:"omitidos" json:"omitidos"`
	Llamadas        int        `db:"llamadas" json:"llamadas"`
	Estado          string     `db:"estado" json:"estado"` // active, closed_manual, closed_auto
}

// Tipificacion fila del catálogo de disposiciones
type Tipificacion struct {
	ID        int    `db:"id" json:"id"`
	Clave     string `db:"clave" json:"clave"`
	Nombre    string `db:"nombre" json:"nombre"`
	Categoria string `db:"categoria" json:"categoria"` // positiva | negativa
	Clase     string `db:"clase" json:"clase"`         // positiva | no_contesta | disponibilidad | perdida
	Activa    bool   `db:"activa" json:"activa"`
}

// User usuario del API (ejecutivo o administrador)
type User struct {
	ID           int    `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password_hash" json:"-"`
	Role         string `db:"role" json:"role"`
}
