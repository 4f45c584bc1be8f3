// Package crm es el cliente HTTP hacia el CRM donde viven los leads. Todas
// las escrituras son best effort: la sesión del ejecutivo nunca se bloquea
// por un CRM lento o caído.
package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"discador/internal/config"
)

// Client habla con el API REST del CRM
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient construye el cliente con la configuración del CRM
func NewClient(cfg *config.CRMConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enabled indica si el CRM está configurado
func (c *Client) Enabled() bool { return c.baseURL != "" }

// LogActivity registra la llamada como actividad completada del lead
func (c *Client) LogActivity(crmID, asunto, notas string) error {
	return c.post(fmt.Sprintf("/api/leads/%s/activities", crmID), map[string]any{
		"tipo":   "llamada",
		"asunto": asunto,
		"notas":  notas,
	})
}

// UpdateStage mueve el lead a otra etapa del embudo
func (c *Client) UpdateStage(crmID, etapa string) error {
	return c.post(fmt.Sprintf("/api/leads/%s/stage", crmID), map[string]any{
		"etapa": etapa,
	})
}

// ApplyLostReason marca el lead como perdido con su motivo
func (c *Client) ApplyLostReason(crmID, motivo string) error {
	return c.post(fmt.Sprintf("/api/leads/%s/lost", crmID), map[string]any{
		"motivo": motivo,
	})
}

// AssignOwner asigna el lead al ejecutivo que lo gestionó
func (c *Client) AssignOwner(crmID, owner string) error {
	return c.post(fmt.Sprintf("/api/leads/%s/owner", crmID), map[string]any{
		"owner": owner,
	})
}

func (c *Client) post(path string, payload any) error {
	if !c.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error serializando payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creando request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error llamando al CRM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("CRM respondió %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
