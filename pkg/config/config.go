package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Policy      PolicyDefaults    `yaml:"policy"`
	Logger      LoggerConfig      `yaml:"logger"`
	Notify      NotifyConfig      `yaml:"notify"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for worker/admin authentication (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// CoordinatorConfig claim coordinator and liveness sweep configuration
type CoordinatorConfig struct {
	ClaimRetryLimit int `yaml:"claim_retry_limit"` // CAS retries against ranked candidates before "no job available"
	CandidateLimit  int `yaml:"candidate_limit"`   // max pending jobs fetched per claim decision
	SweepInterval   int `yaml:"sweep_interval"`    // liveness sweep interval (seconds)
	OfflineGCFactor int `yaml:"offline_gc_factor"` // multiple of the heartbeat timeout after which offline workers are removed
}

// PolicyDefaults seeds the capacity policy row on first boot
type PolicyDefaults struct {
	MaxGPUPerJob         int    `yaml:"max_gpu_per_job"`
	GPUMemoryThresholdGB int    `yaml:"gpu_memory_threshold_gb"`
	MaxConcurrentJobs    int    `yaml:"max_concurrent_jobs"`
	WorkerTimeoutMinutes int    `yaml:"worker_timeout_minutes"`
	LoadBalancing        string `yaml:"load_balancing"`
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// NotifyConfig presentation-layer notification configuration
type NotifyConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Queue            string `yaml:"queue"`              // asynq queue name for job events
	FeishuWebhookURL string `yaml:"feishu_webhook_url"` // optional ops alert webhook
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	validateAndApplyDefaults(&cfg)

	GlobalConfig = &cfg
	return nil
}

// validateAndApplyDefaults replaces zero or nonsense values with safe defaults
// so a partially filled config file still yields a working coordinator.
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Coordinator.ClaimRetryLimit <= 0 {
		cfg.Coordinator.ClaimRetryLimit = 3
	}
	if cfg.Coordinator.CandidateLimit <= 0 {
		cfg.Coordinator.CandidateLimit = 50
	}
	if cfg.Coordinator.SweepInterval <= 0 {
		cfg.Coordinator.SweepInterval = 30
	}
	if cfg.Coordinator.OfflineGCFactor <= 0 {
		cfg.Coordinator.OfflineGCFactor = 24
	}
	if cfg.Policy.MaxGPUPerJob <= 0 {
		cfg.Policy.MaxGPUPerJob = 4
	}
	if cfg.Policy.GPUMemoryThresholdGB < 0 {
		cfg.Policy.GPUMemoryThresholdGB = 0
	}
	if cfg.Policy.MaxConcurrentJobs <= 0 {
		cfg.Policy.MaxConcurrentJobs = 100
	}
	if cfg.Policy.WorkerTimeoutMinutes <= 0 {
		cfg.Policy.WorkerTimeoutMinutes = 5
	}
	if cfg.Policy.LoadBalancing == "" {
		cfg.Policy.LoadBalancing = "round_robin"
	}
	if cfg.Notify.Queue == "" {
		cfg.Notify.Queue = "default"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
}
