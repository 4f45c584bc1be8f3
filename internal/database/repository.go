package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Repository maneja las operaciones de base de datos
type Repository struct {
	conn    *Connection
	batcher *LogBatcher
}

// NewRepository crea un nuevo repositorio
func NewRepository(conn *Connection) *Repository {
	repo := &Repository{
		conn:    conn,
		batcher: NewLogBatcher(conn.DB),
	}
	repo.batcher.Start()
	return repo
}

// Close cierra recursos del repositorio
func (r *Repository) Close() {
	if r.batcher != nil {
		r.batcher.Stop()
	}
}

// =========================================================================
// Campañas
// =========================================================================

const campaignColumns = `id, clave, nombre, caller_id, troncal_salida, prefijo_salida,
	       max_intentos, max_gestiones, cooldown_minutos, auto_call_segundos,
	       activa, created_at, updated_at`

func scanCampaign(row *sql.Row) (*Campaign, error) {
	var c Campaign
	err := row.Scan(
		&c.ID, &c.Clave, &c.Nombre, &c.CallerID, &c.TroncalSalida,
		&c.PrefijoSalida, &c.MaxIntentos, &c.MaxGestiones, &c.CooldownMinutos,
		&c.AutoCallSegundos, &c.Activa, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCampaign obtiene una campaña por su clave
func (r *Repository) GetCampaign(clave string) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM discador_campaigns WHERE clave = ?`

	c, err := scanCampaign(r.conn.DB.QueryRow(query, clave))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("campaña '%s' no encontrada", clave)
	}
	if err != nil {
		return nil, fmt.Errorf("error consultando campaña: %w", err)
	}
	return c, nil
}

// =========================================================================
// Cola de leads
// =========================================================================

const leadColumns = `id, crm_id, nombre, telefono, pais, intentos, gestiones,
	       etapa, campaign_key, proxima_llamada, owner, notas`

func scanLead(scanner interface{ Scan(...any) error }) (*Lead, error) {
	var l Lead
	err := scanner.Scan(
		&l.ID, &l.CRMID, &l.Nombre, &l.Telefono, &l.Pais, &l.Intentos,
		&l.Gestiones, &l.Etapa, &l.CampaignKey, &l.ProximaLlamada,
		&l.Owner, &l.Notas,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// QueueStats calcula las estadísticas agregadas de la cola de una campaña
func (r *Repository) QueueStats(campaignKey string) (QueueStats, error) {
	query := `
		SELECT
			COUNT(*),
			SUM(estado = 'pendiente'),
			SUM(estado = 'diferido'),
			SUM(estado = 'terminal'),
			SUM(estado = 'omitido')
		FROM discador_leads
		WHERE campaign_key = ?
	`

	var s QueueStats
	var pend, dif, comp, omit sql.NullInt64
	err := r.conn.DB.QueryRow(query, campaignKey).Scan(&s.Total, &pend, &dif, &comp, &omit)
	if err != nil {
		return s, fmt.Errorf("error consultando estadísticas de cola: %w", err)
	}
	s.Pendientes = int(pend.Int64)
	s.Diferidos = int(dif.Int64)
	s.Completados = int(comp.Int64)
	s.Omitidos = int(omit.Int64)
	return s, nil
}

// AssignNextLead entrega el siguiente lead elegible de la campaña y lo
// bloquea a nombre del ejecutivo. Las reglas de cooldown, tope de intentos y
// tope de gestiones se aplican aquí, del lado del servidor.
func (r *Repository) AssignNextLead(campaignKey, ejecutivo string) (*AssignResult, error) {
	campaign, err := r.GetCampaign(campaignKey)
	if err != nil {
		return nil, err
	}

	stats, err := r.QueueStats(campaignKey)
	if err != nil {
		return nil, err
	}

	tx, err := r.conn.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("error iniciando transacción: %w", err)
	}
	defer tx.Rollback()

	// Candidato elegible: con teléfono, bajo los topes, fuera de cooldown,
	// sin diferimiento pendiente y sin bloqueo ajeno vigente.
	query := `
		SELECT ` + leadColumns + `
		FROM discador_leads
		WHERE campaign_key = ?
		  AND estado IN ('pendiente', 'diferido')
		  AND telefono <> ''
		  AND intentos < ?
		  AND gestiones < ?
		  AND (proxima_llamada IS NULL OR proxima_llamada <= NOW())
		  AND (ultimo_intento IS NULL OR ultimo_intento <= NOW() - INTERVAL ? MINUTE)
		  AND (locked_by IS NULL OR locked_by = ? OR locked_at <= NOW() - INTERVAL 15 MINUTE)
		ORDER BY proxima_llamada IS NULL DESC, proxima_llamada ASC, id ASC
		LIMIT 1
		FOR UPDATE
	`

	lead, err := scanLead(tx.QueryRow(query,
		campaignKey, campaign.MaxIntentos, campaign.MaxGestiones,
		campaign.CooldownMinutos, ejecutivo))
	if err == sql.ErrNoRows {
		reason, completed, cerr := r.classifyEmpty(campaignKey, campaign)
		if cerr != nil {
			return nil, cerr
		}
		return &AssignResult{Completed: completed, Reason: reason, Stats: stats}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error buscando lead: %w", err)
	}

	_, err = tx.Exec(
		`UPDATE discador_leads SET locked_by = ?, locked_at = NOW() WHERE id = ?`,
		ejecutivo, lead.ID)
	if err != nil {
		return nil, fmt.Errorf("error bloqueando lead %d: %w", lead.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error confirmando asignación: %w", err)
	}

	lead.Actividades, _ = r.leadActividades(lead.ID)

	return &AssignResult{Lead: lead, Available: true, Stats: stats}, nil
}

// classifyEmpty determina por qué la cola no entregó un lead.
// El orden de clasificación coincide con el orden en que la consulta de
// asignación descarta candidatos.
func (r *Repository) classifyEmpty(campaignKey string, campaign *Campaign) (string, bool, error) {
	var activos int
	err := r.conn.DB.QueryRow(
		`SELECT COUNT(*) FROM discador_leads
		 WHERE campaign_key = ? AND estado IN ('pendiente', 'diferido')`,
		campaignKey).Scan(&activos)
	if err != nil {
		return "", false, fmt.Errorf("error clasificando cola vacía: %w", err)
	}
	if activos == 0 {
		return "", true, nil
	}

	checks := []struct {
		reason string
		where  string
		args   []any
	}{
		{ReasonNoPhone, `telefono = ''`, nil},
		{ReasonMaxAttempts, `intentos >= ?`, []any{campaign.MaxIntentos}},
		{ReasonMaxGestions, `gestiones >= ?`, []any{campaign.MaxGestiones}},
		{ReasonCooldown, `(proxima_llamada > NOW() OR ultimo_intento > NOW() - INTERVAL ? MINUTE)`,
			[]any{campaign.CooldownMinutos}},
	}

	for _, chk := range checks {
		query := `SELECT COUNT(*) FROM discador_leads
			WHERE campaign_key = ? AND estado IN ('pendiente', 'diferido') AND ` + chk.where
		args := append([]any{campaignKey}, chk.args...)

		var n int
		if err := r.conn.DB.QueryRow(query, args...).Scan(&n); err != nil {
			return "", false, fmt.Errorf("error clasificando cola vacía: %w", err)
		}
		if n > 0 {
			return chk.reason, false, nil
		}
	}

	// Lo único que queda son leads bloqueados por otro ejecutivo
	return ReasonLocked, false, nil
}

func (r *Repository) leadActividades(leadID int64) ([]Actividad, error) {
	rows, err := r.conn.DB.Query(
		`SELECT id, tipo, asunto, fecha FROM discador_lead_actividades
		 WHERE lead_id = ? AND cerrada = 0 ORDER BY fecha`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acts []Actividad
	for rows.Next() {
		var a Actividad
		if err := rows.Scan(&a.ID, &a.Tipo, &a.Asunto, &a.Fecha); err != nil {
			return nil, err
		}
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// RegisterAttempt incrementa el contador de intentos del lead al marcar
func (r *Repository) RegisterAttempt(leadID int64) error {
	_, err := r.conn.DB.Exec(
		`UPDATE discador_leads SET intentos = intentos + 1, ultimo_intento = NOW() WHERE id = ?`,
		leadID)
	if err != nil {
		return fmt.Errorf("error registrando intento del lead %d: %w", leadID, err)
	}
	return nil
}

// MarkOutcome persiste la gestión de un lead: actualiza su estado en la cola
// e inserta el registro de gestión. Devuelve "done" si el lead quedó en
// estado terminal, "pending" si quedó diferido.
func (r *Repository) MarkOutcome(leadID int64, rec *OutcomeRecord) (string, error) {
	tx, err := r.conn.DB.Begin()
	if err != nil {
		return "", fmt.Errorf("error iniciando transacción: %w", err)
	}
	defer tx.Rollback()

	estado := LeadDiferido
	status := "pending"
	if rec.Terminal {
		estado = LeadTerminal
		status = "done"
	}

	query := `
		UPDATE discador_leads
		SET estado = ?, gestiones = gestiones + 1, proxima_llamada = ?,
		    etapa = COALESCE(NULLIF(?, ''), etapa),
		    locked_by = NULL, locked_at = NULL
		WHERE id = ?
	`
	if _, err := tx.Exec(query, estado, rec.ProximaLlamada, rec.EtapaDestino, leadID); err != nil {
		return "", fmt.Errorf("error actualizando lead %d: %w", leadID, err)
	}

	insert := `
		INSERT INTO discador_gestiones
			(lead_id, session_id, tipificacion, categoria, notas, retry_horas,
			 futuro_dias, disponibilidad, etapa_destino, motivo_perdida,
			 proxima_llamada, terminal, duracion, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
	`
	_, err = tx.Exec(insert,
		leadID, rec.SessionID, rec.Tipificacion, rec.Categoria, rec.Notas,
		rec.RetryHoras, rec.FuturoDias, rec.Disponibilidad, rec.EtapaDestino,
		rec.MotivoPerdida, rec.ProximaLlamada, rec.Terminal, rec.Duracion)
	if err != nil {
		return "", fmt.Errorf("error insertando gestión: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("error confirmando gestión: %w", err)
	}
	return status, nil
}

// SkipLead marca un lead como omitido y libera su bloqueo
func (r *Repository) SkipLead(leadID int64, razon string) error {
	_, err := r.conn.DB.Exec(
		`UPDATE discador_leads
		 SET estado = ?, motivo_omision = ?, locked_by = NULL, locked_at = NULL
		 WHERE id = ?`,
		LeadOmitido, razon, leadID)
	if err != nil {
		return fmt.Errorf("error omitiendo lead %d: %w", leadID, err)
	}
	return nil
}

// =========================================================================
// Sesiones
// =========================================================================

// StartSession crea el registro de una sesión de campaña y devuelve su id
func (r *Repository) StartSession(campaignKey, ejecutivo string) (string, error) {
	id := uuid.NewString()
	_, err := r.conn.DB.Exec(
		`INSERT INTO discador_sesiones (id, campaign_key, ejecutivo, inicio, estado)
		 VALUES (?, ?, ?, NOW(), 'active')`,
		id, campaignKey, ejecutivo)
	if err != nil {
		return "", fmt.Errorf("error creando sesión: %w", err)
	}
	return id, nil
}

// EndSession finaliza una sesión persistiendo sus contadores
func (r *Repository) EndSession(rec *SessionRecord) error {
	result, err := r.conn.DB.Exec(
		`UPDATE discador_sesiones
		 SET fin = NOW(), segundos_activos = ?, segundos_llamada = ?,
		     completados = ?, omitidos = ?, llamadas = ?, estado = ?
		 WHERE id = ? AND estado = 'active'`,
		rec.SegundosActivos, rec.SegundosLlamada, rec.Completados,
		rec.Omitidos, rec.Llamadas, rec.Estado, rec.ID)
	if err != nil {
		return fmt.Errorf("error cerrando sesión %s: %w", rec.ID, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("sesión %s ya estaba cerrada", rec.ID)
	}
	return nil
}

// ListActiveSessions lista las sesiones activas (para el CLI de administración)
func (r *Repository) ListActiveSessions() ([]SessionRecord, error) {
	rows, err := r.conn.DB.Query(
		`SELECT id, campaign_key, ejecutivo, inicio, segundos_activos,
		        segundos_llamada, completados, omitidos, llamadas, estado
		 FROM discador_sesiones WHERE estado = 'active' ORDER BY inicio`)
	if err != nil {
		return nil, fmt.Errorf("error listando sesiones: %w", err)
	}
	defer rows.Close()

	var sesiones []SessionRecord
	for rows.Next() {
		var s SessionRecord
		err := rows.Scan(&s.ID, &s.CampaignKey, &s.Ejecutivo, &s.Inicio,
			&s.SegundosActivos, &s.SegundosLlamada, &s.Completados,
			&s.Omitidos, &s.Llamadas, &s.Estado)
		if err != nil {
			return nil, fmt.Errorf("error escaneando sesión: %w", err)
		}
		sesiones = append(sesiones, s)
	}
	return sesiones, rows.Err()
}

// =========================================================================
// Registro de llamadas
// =========================================================================

// CreateCallLog crea el registro de una llamada en curso
func (r *Repository) CreateCallLog(l *CallLog) (int64, error) {
	result, err := r.conn.DB.Exec(
		`INSERT INTO discador_call_log
			(session_id, lead_id, campaign_key, telefono, estado_final,
			 conecto, duracion, uniqueid, caller_id_used, created_at)
		 VALUES (?, ?, ?, ?, 'dialing', 0, 0, ?, ?, NOW())`,
		l.SessionID, l.LeadID, l.CampaignKey, l.Telefono, l.Uniqueid, l.CallerIDUsed)
	if err != nil {
		return 0, fmt.Errorf("error creando registro de llamada: %w", err)
	}
	return result.LastInsertId()
}

// FinishCallLog encola la actualización final de un registro de llamada.
// Pasa por el batcher: la escritura es asíncrona y nunca bloquea la sesión.
func (r *Repository) FinishCallLog(update LogUpdate) {
	r.batcher.Queue(update)
}

// =========================================================================
// Catálogo de tipificaciones
// =========================================================================

// GetTipificaciones devuelve el catálogo activo de disposiciones
func (r *Repository) GetTipificaciones() ([]Tipificacion, error) {
	rows, err := r.conn.DB.Query(
		`SELECT id, clave, nombre, categoria, clase, activa
		 FROM discador_tipificaciones WHERE activa = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error consultando tipificaciones: %w", err)
	}
	defer rows.Close()

	var tips []Tipificacion
	for rows.Next() {
		var t Tipificacion
		if err := rows.Scan(&t.ID, &t.Clave, &t.Nombre, &t.Categoria, &t.Clase, &t.Activa); err != nil {
			return nil, fmt.Errorf("error escaneando tipificación: %w", err)
		}
		tips = append(tips, t)
	}
	return tips, rows.Err()
}

// =========================================================================
// Usuarios
// =========================================================================

// GetUserByUsername obtiene un usuario para autenticación
func (r *Repository) GetUserByUsername(username string) (*User, error) {
	var u User
	err := r.conn.DB.QueryRow(
		`SELECT id, username, password_hash, role FROM discador_users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("usuario '%s' no encontrado", username)
	}
	if err != nil {
		return nil, fmt.Errorf("error consultando usuario: %w", err)
	}
	return &u, nil
}

// ListUsers lista los usuarios del API
func (r *Repository) ListUsers() ([]User, error) {
	rows, err := r.conn.DB.Query(
		`SELECT id, username, password_hash, role FROM discador_users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("error listando usuarios: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role); err != nil {
			return nil, fmt.Errorf("error escaneando usuario: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateUser crea un usuario del API
func (r *Repository) CreateUser(username, passwordHash, role string) error {
	_, err := r.conn.DB.Exec(
		`INSERT INTO discador_users (username, password_hash, role) VALUES (?, ?, ?)`,
		username, passwordHash, role)
	if err != nil {
		return fmt.Errorf("error creando usuario: %w", err)
	}
	return nil
}
