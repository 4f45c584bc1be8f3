package database

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	BatchSize     = 200
	FlushInterval = 500 * time.Millisecond
	BufferSize    = 2000
)

// LogUpdate representa la actualización final de un registro de llamada
type LogUpdate struct {
	ID          int64
	EstadoFinal string
	Conecto     bool
	Duracion    int
	Uniqueid    *string
}

// LogBatcher agrupa escrituras de cierre de llamada para no bloquear la
// sesión del ejecutivo en cada colgado
type LogBatcher struct {
	db        *sql.DB
	updates   chan LogUpdate
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewLogBatcher crea un nuevo batcher
func NewLogBatcher(db *sql.DB) *LogBatcher {
	return &LogBatcher{
		db:      db,
		updates: make(chan LogUpdate, BufferSize),
	}
}

// Start inicia el worker de fondo
func (b *LogBatcher) Start() {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = true
	b.wg.Add(1)
	b.mu.Unlock()

	go b.worker()
	log.Println("[LogBatcher] Worker started")
}

// Stop vacía lo pendiente y detiene el worker
func (b *LogBatcher) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	b.mu.Unlock()

	close(b.updates)
	b.wg.Wait()
	log.Println("[LogBatcher] Worker stopped")
}

// Queue agrega una actualización al buffer
func (b *LogBatcher) Queue(update LogUpdate) {
	select {
	case b.updates <- update:
	default:
		// No bloquear al ejecutivo si el buffer se llena
		log.Printf("[LogBatcher] WARNING: Buffer full, dropping update for ID %d", update.ID)
	}
}

func (b *LogBatcher) worker() {
	defer b.wg.Done()

	buffer := make([]LogUpdate, 0, BatchSize)
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-b.updates:
			if !ok {
				if len(buffer) > 0 {
					b.flush(buffer)
				}
				return
			}
			buffer = append(buffer, update)
			if len(buffer) >= BatchSize {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) > 0 {
				b.flush(buffer)
				buffer = buffer[:0]
			}
		}
	}
}

// flush escribe el lote con un UPDATE masivo por CASE. MySQL no tiene
// "UPDATE FROM VALUES", así que se construye el CASE por id.
func (b *LogBatcher) flush(updates []LogUpdate) {
	if len(updates) == 0 {
		return
	}

	start := time.Now()

	ids := make([]string, len(updates))
	estadoCases := make([]string, 0, len(updates))
	conectoCases := make([]string, 0, len(updates))
	duracionCases := make([]string, 0, len(updates))
	uniqueidCases := make([]string, 0, len(updates))

	for i, u := range updates {
		ids[i] = fmt.Sprintf("%d", u.ID)

		estadoCases = append(estadoCases, fmt.Sprintf("WHEN %d THEN '%s'", u.ID, u.EstadoFinal))
		duracionCases = append(duracionCases, fmt.Sprintf("WHEN %d THEN %d", u.ID, u.Duracion))

		conectoVal := "0"
		if u.Conecto {
			conectoVal = "1"
		}
		conectoCases = append(conectoCases, fmt.Sprintf("WHEN %d THEN %s", u.ID, conectoVal))

		if u.Uniqueid != nil {
			uniqueidCases = append(uniqueidCases, fmt.Sprintf("WHEN %d THEN '%s'", u.ID, *u.Uniqueid))
		}
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString("UPDATE discador_call_log SET ")
	queryBuilder.WriteString(fmt.Sprintf("estado_final = CASE id %s END, ", strings.Join(estadoCases, " ")))
	queryBuilder.WriteString(fmt.Sprintf("conecto = CASE id %s END, ", strings.Join(conectoCases, " ")))
	queryBuilder.WriteString(fmt.Sprintf("duracion = CASE id %s END", strings.Join(duracionCases, " ")))

	if len(uniqueidCases) > 0 {
		queryBuilder.WriteString(fmt.Sprintf(", uniqueid = CASE id %s ELSE uniqueid END", strings.Join(uniqueidCases, " ")))
	}

	queryBuilder.WriteString(fmt.Sprintf(" WHERE id IN (%s)", strings.Join(ids, ",")))

	if _, err := b.db.Exec(queryBuilder.String()); err != nil {
		log.Printf("[LogBatcher] ERROR flushing batch of %d items: %v", len(updates), err)
		return
	}
	log.Printf("[LogBatcher] Flushed %d updates in %v", len(updates), time.Since(start))
}
