package models

// RedisConfig configures the optional redis connection. When URL is empty
// the engine falls back to in-memory cooldown tracking, which does not
// survive restarts.
type RedisConfig struct {
	URL string `yaml:"url" json:"url,omitzero"`
}
