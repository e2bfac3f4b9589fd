// =============================================================================
// deliberate 主入口
// =============================================================================
// 按 YAML 计划执行一次审议运行，输出结果 JSON 并落地审计日志
//
// 使用方法:
//
//	deliberate run --plan plan.yaml                       # 执行计划
//	deliberate run --plan plan.yaml --config config.yaml  # 指定配置文件
//	deliberate version                                    # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/behole/institutionalized/audit"
	"github.com/behole/institutionalized/config"
	"github.com/behole/institutionalized/internal/database"
	"github.com/behole/institutionalized/internal/metrics"
	"github.com/behole/institutionalized/internal/server"
	"github.com/behole/institutionalized/internal/telemetry"
	"github.com/behole/institutionalized/internal/tlsutil"
	"github.com/behole/institutionalized/llm"
	"github.com/behole/institutionalized/workflow"

	_ "github.com/behole/institutionalized/llm/providers/anthropic"
	_ "github.com/behole/institutionalized/llm/providers/openai"
	_ "github.com/behole/institutionalized/llm/providers/openrouter"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runPlan(os.Args[2:]))
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// ▶️ run 命令
// =============================================================================

func runPlan(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	planPath := fs.String("plan", "", "Path to deliberation plan (YAML)")
	configPath := fs.String("config", "", "Path to config file")
	envFile := fs.String("env-file", ".env", "Optional dotenv file with API keys")
	fs.Parse(args)

	if *planPath == "" {
		fmt.Fprintln(os.Stderr, "--plan is required")
		return 2
	}

	// 加载 .env（文件不存在时忽略）
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		return 1
	}

	// 加载配置
	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	plan, err := LoadPlan(*planPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid plan: %v\n", err)
		return 1
	}

	// 初始化日志
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting deliberate",
		zap.String("version", Version),
		zap.String("framework", plan.Framework),
		zap.String("topology", plan.Topology),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, plan, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return 1
	}
	defer app.Close()

	if err := app.Execute(ctx, plan, os.Stdout, os.Stderr); err != nil {
		logger.Error("Run failed", zap.Error(err))
		return 1
	}
	return 0
}

// =============================================================================
// 🧩 运行环境装配
// =============================================================================

// app 持有一次运行所需的全部组件
type app struct {
	cfg           *config.Config
	logger        *zap.Logger
	engine        *workflow.Engine
	sink          audit.Sink
	collector     *metrics.Collector
	otel          *telemetry.Providers
	metricsServer *server.Manager
	db            *database.DB
	redis         redis.UniversalClient
	mongo         *mongo.Client
}

func newApp(ctx context.Context, cfg *config.Config, plan *Plan, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.otel = otelProviders

	// Prometheus 指标
	reg := prometheus.NewRegistry()
	a.collector = metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)
	if cfg.Metrics.Enabled {
		srvCfg := server.DefaultConfig()
		srvCfg.Addr = cfg.Metrics.Addr
		a.metricsServer = server.NewManager(server.MetricsHandler(reg, cfg.Metrics.Path), srvCfg, logger)
		if err := a.metricsServer.Start(); err != nil {
			a.Close()
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
	}

	registry, err := buildRegistry(cfg, plan.Backends(), os.Getenv, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.sink, err = a.buildSink(ctx); err != nil {
		a.Close()
		return nil, err
	}

	opts := []workflow.Option{workflow.WithLogger(logger), workflow.WithRecorder(a.collector)}
	if otelProviders != nil && otelProviders.Enabled() {
		obs, err := otelProviders.Observer()
		if err != nil {
			logger.Warn("failed to create observer", zap.Error(err))
		} else {
			opts = append(opts, workflow.WithObserver(obs))
		}
	}
	if a.engine, err = workflow.NewEngine(registry, cfg.Engine, opts...); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildRegistry 只构造计划用到的后端
func buildRegistry(cfg *config.Config, ids []llm.BackendID, getenv func(string) string, logger *zap.Logger) (*llm.Registry, error) {
	registry := llm.NewRegistry()
	for _, id := range ids {
		bc, ok := cfg.Backend(id, getenv)
		if !ok {
			return nil, &llm.ConfigurationError{Field: "backends." + string(id), Reason: "not configured"}
		}
		b, err := llm.NewBackend(id, bc, logger)
		if err != nil {
			return nil, err
		}
		registry.Register(b)
	}
	return registry, nil
}

// buildSink 根据 audit.sinks 组合审计落地
func (a *app) buildSink(ctx context.Context) (audit.Sink, error) {
	ac := a.cfg.Audit
	var sinks audit.MultiSink

	if ac.HasSink(config.SinkFile) {
		fileSink := audit.NewFileSink(ac.Path, a.logger)
		fileSink.Indent = ac.Indent
		sinks = append(sinks, fileSink)
	}

	if ac.HasSink(config.SinkRedis) {
		opts := &redis.UniversalOptions{
			Addrs:        []string{ac.Redis.Addr},
			Password:     ac.Redis.Password,
			DB:           ac.Redis.DB,
			PoolSize:     ac.Redis.PoolSize,
			MinIdleConns: ac.Redis.MinIdleConns,
		}
		if ac.Redis.TLS {
			opts.TLSConfig = tlsutil.ClientTLSConfig(ac.Redis.Addr)
		}
		client := redis.NewUniversalClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", ac.Redis.Addr, err)
		}
		a.redis = client
		sinks = append(sinks, audit.NewRedisSink(client, audit.RedisSinkConfig{
			KeyPrefix: ac.Redis.KeyPrefix,
			TTL:       ac.Redis.TTL,
			MaxRuns:   ac.Redis.MaxRuns,
		}, a.logger))
	}

	if ac.HasSink(config.SinkSQL) {
		db, err := database.Open(ac.Database, a.logger)
		if err != nil {
			return nil, err
		}
		a.db = db
		sqlSink, err := audit.NewSQLSink(db.Gorm(), a.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sqlSink)
	}

	if ac.HasSink(config.SinkMongo) {
		client, err := mongo.Connect(options.Client().ApplyURI(ac.Mongo.URI).SetTimeout(ac.Mongo.Timeout))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		a.mongo = client
		mongoSink, err := audit.NewMongoSink(ctx, client, audit.MongoSinkConfig{
			Database:   ac.Mongo.Database,
			Collection: ac.Mongo.Collection,
			Timeout:    ac.Mongo.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, mongoSink)
	}

	return sinks, nil
}

// Execute 执行计划；无论成功与否都落地审计日志
func (a *app) Execute(ctx context.Context, plan *Plan, stdout, stderr io.Writer) error {
	req, err := plan.Request()
	if err != nil {
		return err
	}

	res, log, runErr := workflow.RunTopology(ctx, a.engine, req)
	if log != nil {
		// 运行被中断时仍需写出审计日志
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := a.sink.Write(writeCtx, log); err != nil {
			a.logger.Error("failed to write audit log", zap.String("run_id", log.RunID), zap.Error(err))
			if runErr == nil {
				runErr = fmt.Errorf("write audit log: %w", err)
			}
		}
		fmt.Fprintln(stderr, audit.FormatCostReport(log))
	}
	if a.db != nil {
		s := a.db.Stats()
		a.collector.RecordDBConnections(string(a.cfg.Audit.Database.Driver), s.OpenConnections, s.Idle)
	}
	if runErr != nil {
		return runErr
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Close 释放全部资源
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", zap.Error(err))
		}
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("deliberate %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`deliberate - structured multi-agent deliberation

Usage:
  deliberate <command> [options]

Commands:
  run       Execute a deliberation plan
  version   Show version information
  help      Show this help message

Options for 'run':
  --plan <path>       Path to the deliberation plan (YAML, required)
  --config <path>     Path to configuration file (YAML)
  --env-file <path>   Dotenv file with API keys (default .env, optional)

Examples:
  deliberate run --plan review.yaml
  deliberate run --plan review.yaml --config /etc/deliberate/config.yaml
  deliberate version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// stdout 保留给结果 JSON
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
