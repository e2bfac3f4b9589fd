// =============================================================================
// 📦 审议引擎配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("deliberate.yaml").
//	    WithEnvPrefix("DELIBERATE").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/behole/institutionalized/internal/database"
	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/workflow"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是审议引擎的完整配置结构
type Config struct {
	// Engine 运行默认参数（并发上限、超时、轮数、重试、成本上限）
	Engine workflow.RunConfig `yaml:"engine" env:"ENGINE"`

	// Backends 各模型后端配置，键为后端 ID；仅从 YAML 读取
	Backends map[string]BackendSettings `yaml:"backends" env:"-"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Audit 审计日志落地配置
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`
}

// BackendSettings 单个模型后端配置
type BackendSettings struct {
	// 基础 URL（可选，留空使用后端默认值）
	BaseURL string `yaml:"base_url"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout"`
	// 读取 API Key 的环境变量名，密钥本身不写入配置文件
	APIKeyEnv string `yaml:"api_key_env"`
	// 价格覆盖（美元 / 百万 token），键为模型 ID
	Pricing map[string]llm.Rate `yaml:"pricing"`
	// 后端特有参数，如 organization、api_version、site_url、app_name
	Extra map[string]string `yaml:"extra"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 为 true 时以明文 gRPC 连接采集器，否则使用 TLS
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否暴露 /metrics
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标路径
	Path string `yaml:"path" env:"PATH"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// 审计落地方式
const (
	SinkNone  = "none"
	SinkFile  = "file"
	SinkRedis = "redis"
	SinkSQL   = "sql"
	SinkMongo = "mongo"
)

// AuditConfig 审计日志落地配置
type AuditConfig struct {
	// 落地方式: none, file, redis, sql, mongo；可用逗号组合多个
	Sinks []string `yaml:"sinks" env:"SINKS"`
	// 文件落地路径；目录时按 <runId>.json 命名
	Path string `yaml:"path" env:"PATH"`
	// 是否缩进 JSON
	Indent bool `yaml:"indent" env:"INDENT"`
	// Redis 落地配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// SQL 落地配置
	Database database.Config `yaml:"database" env:"DATABASE"`
	// MongoDB 落地配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`
}

// MongoConfig MongoDB 审计落地配置
type MongoConfig struct {
	// 连接串，如 mongodb://localhost:27017
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名，为空时使用 audit_runs
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 单次操作超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 单次运行文档的过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 运行列表保留条数，0 表示不裁剪
	MaxRuns int64 `yaml:"max_runs" env:"MAX_RUNS"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DELIBERATE",
		lookupEnv:  os.LookupEnv,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithLookupEnv 替换环境变量读取函数（测试用）
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	if fn != nil {
		l.lookupEnv = fn
	}
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		fillBackendDefaults(cfg)
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// fillBackendDefaults YAML 中的后端条目会整体替换默认条目，这里补回缺省的密钥变量名
func fillBackendDefaults(cfg *Config) {
	defaults := DefaultBackends()
	for name, b := range cfg.Backends {
		if d, ok := defaults[name]; ok && b.APIKeyEnv == "" {
			b.APIKeyEnv = d.APIKeyEnv
			cfg.Backends[name] = b
		}
	}
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，汇总所有错误
func (c *Config) Validate() error {
	var errs []string

	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}

	for name, b := range c.Backends {
		if _, err := llm.ParseBackendID(name); err != nil {
			errs = append(errs, fmt.Sprintf("backends.%s: unknown backend", name))
		}
		if b.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("backends.%s: timeout must not be negative", name))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format %q", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	for _, s := range c.Audit.Sinks {
		switch s {
		case SinkNone:
		case SinkFile:
			if c.Audit.Path == "" {
				errs = append(errs, "audit.path is required for the file sink")
			}
		case SinkRedis:
			if c.Audit.Redis.Addr == "" {
				errs = append(errs, "audit.redis.addr is required for the redis sink")
			}
		case SinkSQL:
			if err := c.Audit.Database.Validate(); err != nil {
				errs = append(errs, "audit.database: "+err.Error())
			}
		case SinkMongo:
			if c.Audit.Mongo.URI == "" || c.Audit.Mongo.Database == "" {
				errs = append(errs, "audit.mongo.uri and audit.mongo.database are required for the mongo sink")
			}
		default:
			errs = append(errs, fmt.Sprintf("unknown audit sink %q", s))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation errors: " + strings.Join(errs, "; "))
	}
	return nil
}

// HasSink 判断是否启用了指定的审计落地方式
func (a AuditConfig) HasSink(name string) bool {
	for _, s := range a.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Backend 返回后端配置，API Key 由 getenv 按 APIKeyEnv 解析
func (c *Config) Backend(id llm.BackendID, getenv func(string) string) (llm.BackendConfig, bool) {
	s, ok := c.Backends[string(id)]
	if !ok {
		return llm.BackendConfig{}, false
	}
	cfg := llm.BackendConfig{
		BaseURL: s.BaseURL,
		Timeout: s.Timeout,
		Pricing: s.Pricing,
		Extra:   s.Extra,
	}
	if s.APIKeyEnv != "" && getenv != nil {
		cfg.APIKey = getenv(s.APIKeyEnv)
	}
	return cfg, true
}
