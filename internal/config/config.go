package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config estructura principal de configuración
type Config struct {
	AMI      AMIConfig      `yaml:"ami"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	CRM      CRMConfig      `yaml:"crm"`
	Dialer   DialerConfig   `yaml:"dialer"`
	Log      LogConfig      `yaml:"log"`
}

type AMIConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Username          string `yaml:"username"`
	Secret            string `yaml:"secret"`
	ReconnectInterval int    `yaml:"reconnect_interval"`
}

type APIConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	EnableCORS bool   `yaml:"enable_cors"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type CRMConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout int    `yaml:"timeout"` // segundos
}

type DialerConfig struct {
	Contexto         string `yaml:"contexto"`
	AutoCallSegundos int    `yaml:"auto_call_segundos"` // cuenta regresiva tras guardar una gestión
	OriginateTimeout int    `yaml:"originate_timeout"`  // segundos
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load carga la configuración desde archivo YAML
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error leyendo archivo de configuración: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parseando YAML: %w", err)
	}

	applyDefaults(&cfg)

	// Permitir sobrescribir con variables de entorno
	overrideWithEnv(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Dialer.Contexto == "" {
		cfg.Dialer.Contexto = "discador_context"
	}
	if cfg.Dialer.AutoCallSegundos <= 0 {
		cfg.Dialer.AutoCallSegundos = 10
	}
	if cfg.Dialer.OriginateTimeout <= 0 {
		cfg.Dialer.OriginateTimeout = 45
	}
	if cfg.CRM.Timeout <= 0 {
		cfg.CRM.Timeout = 10
	}
	if cfg.AMI.ReconnectInterval <= 0 {
		cfg.AMI.ReconnectInterval = 5
	}
}

// overrideWithEnv permite sobrescribir configuración con variables de entorno
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("DISCADOR_AMI_USERNAME"); v != "" {
		cfg.AMI.Username = v
	}
	if v := os.Getenv("DISCADOR_AMI_SECRET"); v != "" {
		cfg.AMI.Secret = v
	}
	if v := os.Getenv("DISCADOR_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("DISCADOR_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DISCADOR_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DISCADOR_DB_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DISCADOR_CRM_BASE_URL"); v != "" {
		cfg.CRM.BaseURL = v
	}
	if v := os.Getenv("DISCADOR_CRM_TOKEN"); v != "" {
		cfg.CRM.Token = v
	}
}

// Address devuelve la dirección completa del servidor API
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Address devuelve la dirección completa del servidor AMI
func (a AMIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DSN devuelve el Data Source Name para MySQL
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}
