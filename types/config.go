package types

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string                       `yaml:"name" json:"name" validate:"required"`
	Version     string                       `yaml:"version" json:"version"`
	Server      *ServerConfig                `yaml:"server" json:"server" validate:"required"`
	Logger      *LoggerConfig                `yaml:"logger" json:"logger" validate:"required"`
	Middlewares map[string]*MiddlewareConfig `yaml:"middlewares" json:"middlewares"`
	Metrics     *MetricsConfig               `yaml:"metrics" json:"metrics"`
	Cache       *CacheConfig                 `yaml:"cache" json:"cache"`
}

type ServerConfig struct {
	Host            string   `yaml:"host" json:"host"`
	Port            int      `yaml:"port" json:"port" validate:"min=0,max=65535"`
	IsSecured       bool     `yaml:"is_secured" json:"is_secured"`
	Certificate     string   `yaml:"certificate,omitempty" json:"certificate,omitempty" validate:"required_if=IsSecured true AutoCert false"`
	PrivateKey      string   `yaml:"private_key,omitempty" json:"private_key,omitempty" validate:"required_if=IsSecured true AutoCert false"`
	AutoCert        bool     `yaml:"auto_cert" json:"auto_cert"`
	Domains         []string `yaml:"domains,omitempty" json:"domains,omitempty" validate:"required_if=AutoCert true"`
	Email           string   `yaml:"email,omitempty" json:"email,omitempty"`
	CacheDir        string   `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	ReadTimeout     int      `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout    int      `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	IdleTimeout     int      `yaml:"idle_timeout" json:"idle_timeout" validate:"min=0"`
	ShutdownTimeout int      `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
}

type LoggerConfig struct {
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=console json"`
	Level  string `yaml:"level" json:"level"`
	Output string `yaml:"output" json:"output" validate:"omitempty,oneof=stdout stderr file"`
	File   string `yaml:"file" json:"file" validate:"required_if=Output file"`
}

// MiddlewareConfig enables a built-in middleware. Before and After add ordering
// constraints on top of the ones the middleware declares itself.
type MiddlewareConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Before  []string               `yaml:"before" json:"before"`
	After   []string               `yaml:"after" json:"after"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
	Path      string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
}

type CacheConfig struct {
	Type       string       `yaml:"type" json:"type" validate:"omitempty,oneof=memory redis"`
	TTL        int          `yaml:"ttl" json:"ttl" validate:"min=0"`
	MaxEntries int          `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	Redis      *RedisConfig `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}
