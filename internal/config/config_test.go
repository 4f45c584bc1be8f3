package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
ami:
  host: 127.0.0.1
  port: 5038
  username: discador
  secret: filesecret
api:
  host: 0.0.0.0
  port: 8080
  enable_cors: true
database:
  host: localhost
  port: 3306
  username: discador
  password: discador
  database: discador
  max_open_conns: 10
  max_idle_conns: 5
crm:
  base_url: http://crm.local
dialer:
  auto_call_segundos: 15
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discador.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("escribiendo config de prueba: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load falló: %v", err)
	}

	if cfg.AMI.Address() != "127.0.0.1:5038" {
		t.Errorf("AMI.Address() = %q", cfg.AMI.Address())
	}
	if cfg.Dialer.AutoCallSegundos != 15 {
		t.Errorf("AutoCallSegundos = %d, esperado 15", cfg.Dialer.AutoCallSegundos)
	}
	// Defaults para campos no configurados
	if cfg.Dialer.Contexto != "discador_context" {
		t.Errorf("Contexto default = %q", cfg.Dialer.Contexto)
	}
	if cfg.Dialer.OriginateTimeout != 45 {
		t.Errorf("OriginateTimeout default = %d", cfg.Dialer.OriginateTimeout)
	}
	if cfg.CRM.Timeout != 10 {
		t.Errorf("CRM.Timeout default = %d", cfg.CRM.Timeout)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DISCADOR_AMI_SECRET", "envsecret")
	t.Setenv("DISCADOR_CRM_BASE_URL", "http://crm.override")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load falló: %v", err)
	}

	if cfg.AMI.Secret != "envsecret" {
		t.Errorf("AMI.Secret = %q, esperado override de entorno", cfg.AMI.Secret)
	}
	if cfg.CRM.BaseURL != "http://crm.override" {
		t.Errorf("CRM.BaseURL = %q", cfg.CRM.BaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/no/existe/discador.yaml"); err == nil {
		t.Fatal("se esperaba error con archivo inexistente")
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 3306, Username: "u", Password: "p", Database: "discador"}
	want := "u:p@tcp(db:3306)/discador?parseTime=true&charset=utf8mb4"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, esperado %q", got, want)
	}
}
