// Package main 是订单簿行情工具的入口点。
// watch 运行传输适配器并在终端输出派生指标，snapshot 拉取一次 REST 快照，
// serve 启动订单簿代理服务。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"orderbook-feed/internal/config"
	"orderbook-feed/internal/telemetry"
)

// defaultConfigPath 默认配置文件，不存在时只使用默认值与环境变量
const defaultConfigPath = "config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "orderbook",
	Short:         "订单簿行情传输与派生指标工具",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "配置文件路径")
	rootCmd.AddCommand(watchCmd, snapshotCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载配置
// 使用默认路径且文件不存在时不报错
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg, nil
}

// newLogger 创建日志记录器
// 日志输出到 stderr；配置了 log_file 时同时写入按大小轮转的文件
func newLogger(app config.AppConfig) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(app.LogLevel); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	if app.LogFile == "" {
		return logger.Named(app.Name)
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename: app.LogFile,
			MaxSize:  app.LogMaxSizeMB,
			MaxAge:   app.LogMaxAgeDays,
			Compress: true,
		}),
		cfg.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})).Named(app.Name)
}

// signalContext 捕获 SIGINT/SIGTERM，触发优雅退出
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("收到退出信号，开始优雅关闭")
			cancel()
		case <-ctx.Done():
		}
		ossignal.Stop(sigCh)
	}()
	return ctx, cancel
}

// serveMetrics 在独立端口暴露 /metrics，ctx 取消后关闭
func serveMetrics(ctx context.Context, listen string, m *telemetry.Metrics, logger *zap.Logger) {
	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	srv := &http.Server{Addr: listen, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("指标服务启动", zap.String("listen", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("指标服务退出", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
