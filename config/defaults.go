package config

import "time"

// DefaultConfig 单机开发可直接运行: sqlite, 内存任务存储, 不做认证.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Log:        DefaultLogConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		JWT:        DefaultJWTConfig(),
		Generation: DefaultGenerationConfig(),
		Storage:    DefaultStorageConfig(),
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
		MaxBodyBytes:    64 << 20,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "inkflow:",
	}
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "inkflow",
		Name:            "inkflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 默认关闭, 打开后采样 10%.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "inkflow",
		SampleRate:   0.1,
	}
}

func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		AnonymousUser: "default",
	}
}

// DefaultGenerationConfig 每秒 1 次生成请求, 单任务 4 页并发.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxConcurrency:        4,
		RateLimit:             1,
		RateBurst:             2,
		ReferenceTTL:          30 * time.Minute,
		ImageURLPrefix:        "/api/images",
		TaskStore:             "memory",
		TaskTTL:               24 * time.Hour,
		ProvidersFile:         "image_providers.yaml",
		ProvidersPollInterval: 2 * time.Second,
		ReferenceMaxKB:        200,
		Selection:             "first",
	}
}

// DefaultStorageConfig 历史记录保留一周, 每小时清理一次.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		HistoryTTL:      7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		ThumbnailSide:   480,
	}
}
