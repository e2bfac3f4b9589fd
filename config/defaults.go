// =============================================================================
// 📦 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/behole/institutionalized/internal/database"
	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/workflow"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:    workflow.DefaultRunConfig(),
		Backends:  DefaultBackends(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Audit:     DefaultAuditConfig(),
	}
}

// DefaultBackends 返回三个内置后端的默认配置，密钥从约定的环境变量读取
func DefaultBackends() map[string]BackendSettings {
	return map[string]BackendSettings{
		string(llm.BackendOpenAI): {
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   60 * time.Second,
		},
		string(llm.BackendAnthropic): {
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Timeout:   120 * time.Second,
		},
		string(llm.BackendOpenRouter): {
			APIKeyEnv: "OPENROUTER_API_KEY",
			Timeout:   120 * time.Second,
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "deliberate",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Path:      "/metrics",
		Namespace: "deliberate",
	}
}

// DefaultAuditConfig 返回默认审计配置：写入本地 audit 目录
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Sinks:  []string{SinkFile},
		Path:   "audit/",
		Indent: true,
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			KeyPrefix:    "institutionalized:audit:",
			MaxRuns:      1000,
		},
		Database: database.DefaultConfig(),
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "institutionalized",
			Collection: "audit_runs",
			Timeout:    5 * time.Second,
		},
	}
}
