package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	RabbitMQ    RabbitMQConfig            `json:"rabbitmq" yaml:"rabbitmq"`
}

type ProviderConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	Model      string `json:"model" yaml:"model"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	ByAzure    bool   `json:"by_azure" yaml:"by_azure"`
	APIVersion string `json:"api_version" yaml:"api_version"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type RabbitMQConfig struct {
	URL   string `json:"url" yaml:"url"`
	Queue string `json:"queue" yaml:"queue"`
}

// SeedUser is created at startup when missing.
type SeedUser struct {
	Email   string  `json:"email" yaml:"email"`
	Balance float64 `json:"balance" yaml:"balance"`
}

type BasicConfig struct {
	ServerAddress     string     `json:"server_address" yaml:"server_address"`
	Database          string     `json:"database" yaml:"database"`
	Provider          string     `json:"provider" yaml:"provider"`
	SystemPrompt      string     `json:"system_prompt" yaml:"system_prompt"`
	JWTSecret         string     `json:"jwt_secret" yaml:"jwt_secret"`
	SessionTTLMinutes int        `json:"session_ttl_minutes" yaml:"session_ttl_minutes"`
	Workers           int        `json:"workers" yaml:"workers"`
	QueueSize         int        `json:"queue_size" yaml:"queue_size"`
	SeedUsers         []SeedUser `json:"seed_users" yaml:"seed_users"`
}

// DefaultSystemPrompt is used when basic_config.system_prompt is empty. %s is the user's email.
const DefaultSystemPrompt = "You are a shopping assistant. The current user is %s. " +
	"You can call the following functions: view_balance, view_orders, make_order. " +
	"Always respond in JSON format and use function calls when appropriate."

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && !isMemoryDSN(db.DSN) && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SHOPCHAT_DB"); v != "" {
		cfg.BasicConfig.Database = v
	}
	if v := os.Getenv("SHOPCHAT_JWT_SECRET"); v != "" {
		cfg.BasicConfig.JWTSecret = v
	}
	if v := os.Getenv("RABBIT_URL"); v != "" {
		cfg.RabbitMQ.URL = v
	}

	// Azure OpenAI credentials override the openai provider entry.
	key := os.Getenv("AZURE_OPENAI_KEY")
	endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
	if key == "" && endpoint == "" {
		return
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	p := cfg.Providers["openai"]
	p.ByAzure = true
	if key != "" {
		p.APIKey = key
	}
	if endpoint != "" {
		p.BaseURL = endpoint
	}
	if v := os.Getenv("AZURE_OPENAI_VERSION"); v != "" {
		p.APIVersion = v
	}
	if v := os.Getenv("AZURE_OPENAI_DEPLOYMENT"); v != "" {
		p.Model = v
	}
	cfg.Providers["openai"] = p
}

func applyDefaults(cfg *Config) {
	b := &cfg.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.Database == "" {
		b.Database = "sqlite3"
	}
	if b.Provider == "" {
		b.Provider = "openai"
	}
	if b.SystemPrompt == "" {
		b.SystemPrompt = DefaultSystemPrompt
	}
	if b.SessionTTLMinutes <= 0 {
		b.SessionTTLMinutes = 24 * 60
	}
	if b.Workers <= 0 {
		b.Workers = 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if cfg.RabbitMQ.Queue == "" {
		cfg.RabbitMQ.Queue = "shop_orders"
	}
}

func validate(cfg *Config) error {
	if _, ok := cfg.Databases[cfg.BasicConfig.Database]; !ok {
		return fmt.Errorf("database config for %s not found", cfg.BasicConfig.Database)
	}
	if _, ok := cfg.Providers[cfg.BasicConfig.Provider]; !ok {
		return fmt.Errorf("provider %s not configured", cfg.BasicConfig.Provider)
	}
	if strings.TrimSpace(cfg.BasicConfig.JWTSecret) == "" {
		return fmt.Errorf("jwt_secret must be configured")
	}
	if !strings.Contains(cfg.BasicConfig.SystemPrompt, "%s") {
		return fmt.Errorf("system_prompt must contain %%s for the user email")
	}
	return nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:")
}
