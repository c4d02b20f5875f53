package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Redis       RedisConfig               `json:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	OpenAI      OpenAIConfig              `json:"openai"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// FileBaseDir holds per-session scratch directories for in-flight chunks.
	FileBaseDir  string `json:"file_base_dir"`
	DocumentsDir string `json:"documents_dir"`

	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout"` // minutes

	SessionTTL           int `json:"session_ttl"`            // minutes, upload session records
	SessionSweepInterval int `json:"session_sweep_interval"` // minutes
	PingInterval         int `json:"ping_interval"`          // seconds, websocket heartbeat
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type OpenAIConfig struct {
	APIKey          string `json:"api_key"`
	BaseURL         string `json:"base_url"`
	TranscribeModel string `json:"transcribe_model"`
	ParseModel      string `json:"parse_model"`
	MaxUploadMB     int    `json:"max_upload_mb"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	// Relative sqlite paths resolve against the config file's directory.
	for name, db := range cfg.Databases {
		if name == "mysql" || db.DSN == "" || filepath.IsAbs(db.DSN) {
			continue
		}
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases[name] = db
	}

	return &cfg, nil
}
