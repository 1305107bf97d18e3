package config

import "time"

type AppConfig struct {
	DBDriver   string `yaml:"db_driver" env:"TALLER_DB_DRIVER" env-default:"sqlite"`
	DBURL      string `yaml:"db_url" env:"TALLER_DB_URL"`
	DBPath     string `yaml:"db_path" env:"TALLER_DB_PATH" env-default:"data/taller.db"`
	ListenAddr string `yaml:"listen_addr" env:"TALLER_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv     string `yaml:"app_env" env:"TALLER_APP_ENV"`

	Logging    LoggingConfig    `yaml:"logging"`
	Incidents  IncidentsConfig  `yaml:"incidents"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Escalation EscalationConfig `yaml:"escalation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"TALLER_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"TALLER_LOG_FORMAT" env-default:"json"`
}

type IncidentsConfig struct {
	CodeFormat string `yaml:"code_format" env:"TALLER_INCIDENTS_CODE_FORMAT" env-default:"INC-%06d"`
	// Retries after a lost compare-and-swap race; bounded to one by default.
	ConflictRetries int `yaml:"conflict_retries" env:"TALLER_INCIDENTS_CONFLICT_RETRIES" env-default:"1"`
}

type DispatchConfig struct {
	MaxAssignments int `yaml:"max_assignments" env:"TALLER_DISPATCH_MAX_ASSIGNMENTS" env-default:"3"`
	EventBuffer    int `yaml:"event_buffer" env:"TALLER_DISPATCH_EVENT_BUFFER" env-default:"256"`
}

type EscalationConfig struct {
	Enabled bool `yaml:"enabled" env:"TALLER_ESCALATION_ENABLED" env-default:"true"`
	// Sweep cadence is a deployment parameter, not a constant.
	SweepSpec    string        `yaml:"sweep_spec" env:"TALLER_ESCALATION_SWEEP_SPEC" env-default:"@every 1h"`
	TierInterval time.Duration `yaml:"tier_interval" env:"TALLER_ESCALATION_TIER_INTERVAL" env-default:"24h"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"TALLER_METRICS_ENABLED" env-default:"true"`
	Namespace string `yaml:"namespace" env:"TALLER_METRICS_NAMESPACE" env-default:"taller"`
}
