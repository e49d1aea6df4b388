package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"orderbook-feed/internal/core/derive"
	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/exchange/binance"
	"orderbook-feed/internal/metadata"
)

var (
	snapshotSymbol string
	snapshotLevels int
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "拉取一次 REST 深度快照并输出派生指标（JSON）",
	RunE:  runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotSymbol, "symbol", "", "交易对（默认使用 feed.symbol）")
	snapshotCmd.Flags().IntVar(&snapshotLevels, "levels", derive.DefaultDisplayLevels, "输出的深度档位数")
}

// snapshotOutput snapshot 命令输出
type snapshotOutput struct {
	Symbol   string                   `json:"symbol"`
	Label    string                   `json:"label"`
	Snapshot *model.OrderBookSnapshot `json:"snapshot"`
	Metrics  model.DerivedMetrics     `json:"metrics"`
	Levels   derive.DepthLevels       `json:"levels"`
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.App)
	defer logger.Sync()

	ctx, cancel := signalContext(logger)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, 30*time.Second)
	defer timeoutCancel()

	registry, err := metadata.BuildRegistry(ctx, cfg, metadata.NewHTTPFetcher(cfg.Venue.TimeoutMs))
	if err != nil {
		return fmt.Errorf("构建交易对注册表失败: %w", err)
	}

	symbol := cfg.Feed.Symbol
	if snapshotSymbol != "" {
		symbol = snapshotSymbol
	}
	id, err := registry.Resolve(symbol)
	if err != nil {
		return err
	}

	snap, err := binance.NewRESTClient(cfg, logger).Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("拉取深度快照失败: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snapshotOutput{
		Symbol:   id,
		Label:    registry.Label(id),
		Snapshot: snap,
		Metrics:  derive.Derive(snap),
		Levels:   derive.TopLevels(snap, snapshotLevels),
	})
}
