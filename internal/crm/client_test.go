package crm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"discador/internal/config"
)

func TestLogActivity(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(&config.CRMConfig{BaseURL: srv.URL, Token: "tok", Timeout: 5})
	if err := c.LogActivity("crm-9", "Llamada: Interesado", "quiere cotización"); err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/leads/crm-9/activities" {
		t.Fatalf("ruta: %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth: %s", gotAuth)
	}
	if gotBody["asunto"] != "Llamada: Interesado" || gotBody["tipo"] != "llamada" {
		t.Fatalf("payload: %v", gotBody)
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "lead no existe", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(&config.CRMConfig{BaseURL: srv.URL})
	if err := c.UpdateStage("crm-9", "negociación"); err == nil {
		t.Fatal("un 404 del CRM debe devolver error")
	}
}

func TestDisabledClientIsNoop(t *testing.T) {
	c := NewClient(&config.CRMConfig{})
	if c.Enabled() {
		t.Fatal("sin base_url el cliente debe reportarse deshabilitado")
	}
	if err := c.ApplyLostReason("crm-9", "sin interés"); err != nil {
		t.Fatalf("cliente deshabilitado debe ser no-op: %v", err)
	}
}
