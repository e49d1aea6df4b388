package main

import (
	"github.com/spf13/cobra"

	"orderbook-feed/internal/exchange/coinapi"
	"orderbook-feed/internal/server"
	"orderbook-feed/internal/telemetry"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动订单簿代理服务（CoinAPI）",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "监听地址（默认使用 server.listen）")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	logger := newLogger(cfg.App)
	defer logger.Sync()

	ctx, cancel := signalContext(logger)
	defer cancel()

	upstream := coinapi.NewClient(cfg, logger)
	if !upstream.HasKey() {
		logger.Warn("未配置 CoinAPI 密钥，/api/orderbook 将返回 500")
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.New()
	}
	return server.New(cfg, upstream, metrics, logger).Run(ctx)
}
