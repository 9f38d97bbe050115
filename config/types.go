package config

import (
	"fmt"
	"time"
)

// Config 顶层配置. 每个字段的 env 标签拼在前缀后面组成环境变量名,
// 例如 Database.MaxOpenConns 对应 INKFLOW_DATABASE_MAX_OPEN_CONNS.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Database   DatabaseConfig   `yaml:"database" env:"DATABASE"`
	Redis      RedisConfig      `yaml:"redis" env:"REDIS"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
	JWT        JWTConfig        `yaml:"jwt" env:"JWT"`
	Generation GenerationConfig `yaml:"generation" env:"GENERATION"`
	Storage    StorageConfig    `yaml:"storage" env:"STORAGE"`
}

type ServerConfig struct {
	HTTPPort    int `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`

	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// SSE 与 WebSocket 连接会持续到整本绘本生成结束
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// 按客户端 IP 限流, RPS <= 0 关闭
	RateLimitRPS   int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// 为空时不输出 CORS 头
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`

	// 用户参考图以 base64 放在请求体里, 上限要留够
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`

	// 两者都设置时监听 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// RedisConfig 仅在 generation.task_store=redis 时使用.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
	TLSEnabled   bool   `yaml:"tls_enabled" env:"TLS_ENABLED"`
}

type DatabaseConfig struct {
	// postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 下是文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN 按驱动拼接 GORM 连接串; 未知驱动返回空串.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	}
	return ""
}

type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
	// 0..1, 对没有上游采样决定的请求生效
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// JWTConfig Secret 用于 HS256, PublicKey (PEM) 用于 RS256.
// 两者都为空时关闭认证, 所有请求归属 AnonymousUser.
type JWTConfig struct {
	Secret        string `yaml:"secret" env:"SECRET"`
	PublicKey     string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer        string `yaml:"issuer" env:"ISSUER"`
	Audience      string `yaml:"audience" env:"AUDIENCE"`
	AnonymousUser string `yaml:"anonymous_user" env:"ANONYMOUS_USER"`
}

// Enabled 报告是否配置了验签密钥.
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

type GenerationConfig struct {
	// 单次调用内同时生成的页数上限
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 全局生成请求速率, <= 0 不限
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`

	// 封面图与用户参考图在进程内的保留时长, 供重试复用
	ReferenceTTL   time.Duration `yaml:"reference_ttl" env:"REFERENCE_TTL"`
	ImageURLPrefix string        `yaml:"image_url_prefix" env:"IMAGE_URL_PREFIX"`

	// memory 或 redis
	TaskStore string        `yaml:"task_store" env:"TASK_STORE"`
	TaskTTL   time.Duration `yaml:"task_ttl" env:"TASK_TTL"`

	// 为空使用内置提示词模板
	PromptTemplate string `yaml:"prompt_template" env:"PROMPT_TEMPLATE"`

	ProvidersFile         string        `yaml:"providers_file" env:"PROVIDERS_FILE"`
	ProvidersPollInterval time.Duration `yaml:"providers_poll_interval" env:"PROVIDERS_POLL_INTERVAL"`

	// 提供者未配置压缩预算时的参考图上限 (KB)
	ReferenceMaxKB int `yaml:"reference_max_kb" env:"REFERENCE_MAX_KB"`
	// 响应里有多张图时取哪一张: first, last
	Selection string `yaml:"selection" env:"SELECTION"`
}

type StorageConfig struct {
	// 从首次成功生成起算
	HistoryTTL time.Duration `yaml:"history_ttl" env:"HISTORY_TTL"`
	// <= 0 关闭后台清理
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	ThumbnailSide   int           `yaml:"thumbnail_side" env:"THUMBNAIL_SIDE"`
	// 开发环境下用 GORM AutoMigrate 代替迁移脚本
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}
