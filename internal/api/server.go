package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"discador/internal/auth"
	"discador/internal/config"
	"discador/internal/database"
	"discador/internal/outcome"
	"discador/internal/session"
	"discador/internal/websocket"
)

// Server es el API REST de la consola del ejecutivo
type Server struct {
	config   *config.Config
	repo     *database.Repository
	registry *session.Registry
	hub      *websocket.Hub
}

// NewServer crea el servidor API
func NewServer(cfg *config.Config, repo *database.Repository, registry *session.Registry, hub *websocket.Hub) *Server {
	return &Server{
		config:   cfg,
		repo:     repo,
		registry: registry,
		hub:      hub,
	}
}

// Start inicia el servidor HTTP
func (s *Server) Start() error {
	addr := s.config.API.Address()
	log.Printf("[API] Iniciando servidor en %s", addr)

	mux := http.NewServeMux()

	// Archivos estáticos de la consola
	fs := http.FileServer(http.Dir("./web"))
	mux.Handle("/", fs)

	// Endpoints públicos
	mux.HandleFunc("/api/v1/login", s.handleLogin)
	mux.HandleFunc("/health", s.handleHealth)

	// Rutas protegidas por JWT
	protectedMux := http.NewServeMux()

	protectedMux.HandleFunc("/ws", s.handleWebSocket)

	protectedMux.HandleFunc("/api/v1/sesion/join", s.handleSesionJoin)
	protectedMux.HandleFunc("/api/v1/sesion/close", s.handleSesionClose)
	protectedMux.HandleFunc("/api/v1/sesion/snapshot", s.handleSesionSnapshot)
	protectedMux.HandleFunc("/api/v1/sesion/activas", s.handleSesionesActivas)

	protectedMux.HandleFunc("/api/v1/llamada/dial", s.handleDial)
	protectedMux.HandleFunc("/api/v1/llamada/hangup", s.handleHangup)
	protectedMux.HandleFunc("/api/v1/llamada/mute", s.handleMute)
	protectedMux.HandleFunc("/api/v1/llamada/cancelar", s.handleCancelarAutoCall)

	protectedMux.HandleFunc("/api/v1/gestion/save", s.handleGestionSave)
	protectedMux.HandleFunc("/api/v1/gestion/skip", s.handleGestionSkip)
	protectedMux.HandleFunc("/api/v1/gestion/atras", s.handleGestionAtras)
	protectedMux.HandleFunc("/api/v1/gestion/retry", s.handleGestionRetry)

	protectedMux.HandleFunc("/api/v1/tipificaciones", s.handleTipificaciones)
	protectedMux.HandleFunc("/api/v1/campanas/stats", s.handleCampaignStats)
	protectedMux.HandleFunc("/api/v1/users", s.handleUsers)

	mainHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/login" || r.URL.Path == "/health" ||
			(!strings.HasPrefix(r.URL.Path, "/api/v1/") && r.URL.Path != "/ws") {
			mux.ServeHTTP(w, r)
			return
		}
		auth.Middleware(protectedMux).ServeHTTP(w, r)
	})

	log.Printf("[API] Servidor iniciado correctamente")
	return http.ListenAndServe(addr, s.corsMiddleware(mainHandler))
}

// corsMiddleware agrega headers CORS si está habilitado y recupera pánicos
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.API.EnableCORS {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[API] PANIC RECUPERADO: %v", rec)
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error": "Error interno del servidor"}`)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// orchestratorFor devuelve el orquestador del ejecutivo autenticado
func (s *Server) orchestratorFor(r *http.Request) (*session.Orchestrator, error) {
	claims, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		return nil, err
	}
	return s.registry.Get(claims.Username), nil
}

// writeError traduce los errores de sesión y validación a códigos HTTP
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSinSesion),
		errors.Is(err, session.ErrSesionActiva),
		errors.Is(err, session.ErrGestionPendiente),
		errors.Is(err, session.ErrLlamadaActiva),
		errors.Is(err, session.ErrSinLead):
		status = http.StatusConflict
	case errors.Is(err, session.ErrCampanaInactiva),
		errors.Is(err, outcome.ErrSinTipificacion),
		errors.Is(err, outcome.ErrSinRetraso),
		errors.Is(err, outcome.ErrSinDisponibilidad),
		errors.Is(err, outcome.ErrSinEtapa),
		errors.Is(err, outcome.ErrSinMotivoPerdida),
		errors.Is(err, outcome.ErrGestionesTope):
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		http.Error(w, "No autorizado", http.StatusUnauthorized)
		return
	}
	s.hub.HandleWebSocket(w, r, claims.Username)
}

func (s *Server) handleSesionJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Método no permitido", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Campaign string `json:"campaign"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "JSON inválido", http.StatusBadRequest)
		return
	}
	if req.Campaign == "" {
		http.Error(w, "campaign es requerido", http.StatusBadRequest)
		return
	}

	o, err := s.orchestratorFor(r)
	if err != nil {
		http.Error(w, "No autorizado", http.StatusUnauthorized)
		return
	}
	if err := o.JoinCampaign(req.Campaign); err != nil {
		writeError(w, err)
		return
	}

	snap, err := o.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleSesionClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Método no permitido", http.StatusMethodNotAllowed)
		return
	}

	o, err := s.orchestratorFor(r)
	if err != nil {
		http.Error(w, "No autorizado", http.StatusUnauthorized)
		return
	}
	sum, err := o.CloseCampaign()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sum)
}

func (s *Server) handleSesionSnapshot(w http.ResponseWriter, r *http.Request) {
	o, err := s.orchestratorFor(r)
	if err != nil {
		http.Error(w, "No autorizado", http.StatusUnauthorized)
		return
	}
	snap, err := o.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleSesionesActivas(w http.ResponseWriter, r *http.Request) {
	sesiones, err := s.registry.ListActive()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sesiones)
}

func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(o *session.Orchestrator) error { return o.Dial() })
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(o *session.Orchestrator) error { return o.Hangup() })
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(o *session.Orchestrator) error { return o.ToggleMute() })
}

func (s *Server) handleCancelarAutoCall(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(o *session.Orchestrator) error { return o.CancelAutoCall() })
}

func (s *Server) handleGestionSkip(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(o *session.Orchestrator) error { return o.Skip() })
}

func (s *Server) handleGestionAtras(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(o *session.Orchestrator) error { return o.GoBack() })
}

func (s *Server) handleGestionRetry(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, r, func(o *session.Orchestrator) error { return o.Retry() })
}

// sessionCommand ejecuta un comando de sesión y responde con el snapshot
func (s *Server) sessionCommand(w http.ResponseWriter, r *http.Request, cmd func(*session.Orchestrator) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Método no permitido", http.StatusMethodNotAllowed)
		return
	}

	o, err := s.orchestratorFor(r)
	if err != nil {
		http.Error(w, "No autorizado", http.StatusUnauthorized)
		return
	}
	if err := cmd(o); err != nil {
		writeError(w, err)
		return
	}

	snap, err := o.Snapshot()
	if err != nil {
		// La sesión pudo cerrarse como efecto del comando
		writeJSON(w, map[string]bool{"success": true})
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleGestionSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Método no permitido", http.StatusMethodNotAllowed)
		return
	}

	var d outcome.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "JSON inválido", http.StatusBadRequest)
		return
	}

	o, err := s.orchestratorFor(r)
	if err != nil {
		http.Error(w, "No autorizado", http.StatusUnauthorized)
		return
	}
	if err := o.SaveOutcome(d); err != nil {
		writeError(w, err)
		return
	}

	snap, err := o.Snapshot()
	if err != nil {
		// La cola se completó y la sesión se cerró sola
		writeJSON(w, map[string]bool{"success": true, "session_closed": true})
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleTipificaciones(w http.ResponseWriter, r *http.Request) {
	o, err := s.orchestratorFor(r)
	if err != nil {
		http.Error(w, "No autorizado", http.StatusUnauthorized)
		return
	}
	writeJSON(w, o.Catalog())
}

// handleCampaignStats devuelve los agregados de la cola de una campaña
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	clave := r.URL.Query().Get("clave")
	if clave == "" {
		http.Error(w, "clave es requerido", http.StatusBadRequest)
		return
	}

	campaign, err := s.repo.GetCampaign(clave)
	if err != nil {
		http.Error(w, "Campaña no encontrada", http.StatusNotFound)
		return
	}
	stats, err := s.repo.QueueStats(clave)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"clave":  campaign.Clave,
		"nombre": campaign.Nombre,
		"activa": campaign.Activa,
		"stats":  stats,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"clientes": s.hub.ClientCount(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Método no permitido", http.StatusMethodNotAllowed)
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "JSON inválido", http.StatusBadRequest)
		return
	}

	user, err := s.repo.GetUserByUsername(creds.Username)
	if err != nil || user == nil {
		log.Printf("[Auth] Fallo login para usuario: %s", creds.Username)
		http.Error(w, "Credenciales inválidas", http.StatusUnauthorized)
		return
	}

	if err := auth.VerifyPassword(user.PasswordHash, creds.Password); err != nil {
		log.Printf("[Auth] Contraseña incorrecta para usuario: %s", creds.Username)
		http.Error(w, "Credenciales inválidas", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		http.Error(w, "Error generando token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"token": token,
		"user": map[string]string{
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// handleUsers administra usuarios (solo admin)
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())
	if claims == nil || claims.Role != "admin" {
		http.Error(w, "Acceso denegado: se requiere rol admin", http.StatusForbidden)
		return
	}

	if r.Method == http.MethodGet {
		users, err := s.repo.ListUsers()
		if err != nil {
			http.Error(w, "Error listando usuarios", http.StatusInternalServerError)
			return
		}
		writeJSON(w, users)
		return
	}

	if r.Method == http.MethodPost {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "JSON inválido", http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Password == "" {
			http.Error(w, "username y password son requeridos", http.StatusBadRequest)
			return
		}
		if req.Role == "" {
			req.Role = "ejecutivo"
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			http.Error(w, "Error hasheando contraseña", http.StatusInternalServerError)
			return
		}
		if err := s.repo.CreateUser(req.Username, hash, req.Role); err != nil {
			http.Error(w, fmt.Sprintf("Error creando usuario: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]bool{"success": true})
		return
	}

	http.Error(w, "Método no permitido", http.StatusMethodNotAllowed)
}
