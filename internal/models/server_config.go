package models

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string `json:"port,omitzero" yaml:"port"`
	AllowedOrigins string `json:"allowed_origins,omitzero" yaml:"allowed_origins"`
	Environment    string `json:"environment,omitzero" yaml:"environment"`
	LogLevel       string `json:"log_level,omitzero" yaml:"log_level"`

	// EnableMetrics exposes the Prometheus registry on /metrics.
	EnableMetrics bool `json:"enable_metrics,omitzero" yaml:"enable_metrics"`
}
