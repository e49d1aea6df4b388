package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderbook-feed/internal/core/derive"
	"orderbook-feed/internal/core/model"
	"orderbook-feed/internal/exchange/binance"
	"orderbook-feed/internal/feed"
	"orderbook-feed/internal/metadata"
	"orderbook-feed/internal/output/jsonl"
	"orderbook-feed/internal/stats/cadence"
	"orderbook-feed/internal/telemetry"
)

var (
	watchSymbol string
	watchMode   string
	watchRecord bool
	watchDepth  int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "订阅订单簿并输出派生指标",
	Long: `订阅订单簿并在终端输出买一、卖一、价差与失衡度。

运行期间可从标准输入发送命令:
  symbol <SYM>      切换交易对
  mode <MODE>       切换传输模式 (streaming | polling)
  refresh           立即刷新
  reconnect         重新连接
  stats             输出到达节奏统计
  quit              退出`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchSymbol, "symbol", "", "交易对（默认使用 feed.symbol）")
	watchCmd.Flags().StringVar(&watchMode, "mode", "", "传输模式 streaming | polling（默认使用 feed.mode）")
	watchCmd.Flags().BoolVar(&watchRecord, "record", false, "记录快照与派生指标到 JSONL（覆盖 output.enabled）")
	watchCmd.Flags().IntVar(&watchDepth, "depth", 0, "同时输出前 N 档深度，0 表示不输出")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.App)
	defer logger.Sync()

	ctx, cancel := signalContext(logger)
	defer cancel()

	symbol := cfg.Feed.Symbol
	if watchSymbol != "" {
		symbol = watchSymbol
	}
	mode := cfg.FeedMode()
	if watchMode != "" {
		if mode, err = model.ParseMode(watchMode); err != nil {
			return err
		}
	}

	registry, err := metadata.BuildRegistry(ctx, cfg, metadata.NewHTTPFetcher(cfg.Venue.TimeoutMs))
	if err != nil {
		return fmt.Errorf("构建交易对注册表失败: %w", err)
	}
	logger.Info("交易对注册表就绪", zap.Int("symbols", len(registry.Symbols())))

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.New()
		serveMetrics(ctx, cfg.Metrics.Listen, metrics, logger)
	}

	var recorder *jsonl.Recorder
	if cfg.Output.Enabled || watchRecord {
		recorder, err = jsonl.NewRecorder(cfg.Output.Dir, cfg.Output.BufferSize, watchDepth > 0)
		if err != nil {
			return fmt.Errorf("创建快照记录器失败: %w", err)
		}
		logger.Info("记录快照", zap.String("path", recorder.Path()))
	}

	tracker := cadence.NewTracker(1000)
	adapter := feed.New(cfg, registry,
		binance.NewStream(&cfg.Venue, logger),
		binance.NewRESTClient(cfg, logger),
		logger,
		feed.WithMetrics(metrics),
		feed.WithCadence(tracker),
	)
	if err := adapter.Open(ctx, symbol, mode); err != nil {
		return err
	}

	cmds := make(chan string)
	go readCommands(os.Stdin, cmds)

	out := cmd.OutOrStdout()
	runErr := watchLoop(ctx, adapter, registry, tracker, recorder, cmds, out, logger)

	_ = adapter.Close()
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Warn("关闭快照记录器失败", zap.Error(err))
		}
		st := recorder.Stats()
		logger.Info("快照记录完成",
			zap.Uint64("written", st.Written),
			zap.Uint64("dropped", st.Dropped))
	}
	return runErr
}

// watchLoop 输出状态并处理交互命令，直到 ctx 取消或收到 quit
func watchLoop(
	ctx context.Context,
	adapter *feed.Adapter,
	registry *metadata.Registry,
	tracker *cadence.Tracker,
	recorder *jsonl.Recorder,
	cmds <-chan string,
	out io.Writer,
	logger *zap.Logger,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case v := <-adapter.Updates():
			var metrics *model.DerivedMetrics
			if v.Data != nil {
				m := derive.Derive(v.Data)
				metrics = &m
			}
			renderView(out, v, registry.Label(v.Symbol), metrics, watchDepth)
			if recorder != nil {
				if _, err := recorder.Record(v, metrics); err != nil {
					logger.Warn("记录快照失败", zap.Error(err))
				}
			}

		case line, ok := <-cmds:
			if !ok {
				// 标准输入关闭后只响应信号
				cmds = nil
				continue
			}
			c, err := parseCommand(line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			if c.name == "" {
				continue
			}
			if c.name == "quit" {
				return nil
			}
			if err := execCommand(ctx, adapter, tracker, c, out); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

// readCommands 按行读取标准输入
func readCommands(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// command 交互命令
type command struct {
	name string
	arg  string
}

// parseCommand 解析一行交互命令，空行返回空命令
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	name := strings.ToLower(fields[0])
	switch name {
	case "symbol", "mode":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("用法: %s <值>", name)
		}
		return command{name: name, arg: fields[1]}, nil
	case "refresh", "reconnect", "stats":
		return command{name: name}, nil
	case "quit", "exit", "q":
		return command{name: "quit"}, nil
	default:
		return command{}, fmt.Errorf("未知命令 %q", fields[0])
	}
}

// execCommand 执行交互命令
func execCommand(ctx context.Context, adapter *feed.Adapter, tracker *cadence.Tracker, c command, out io.Writer) error {
	switch c.name {
	case "symbol":
		return adapter.SetSymbol(c.arg)
	case "mode":
		mode, err := model.ParseMode(c.arg)
		if err != nil {
			return err
		}
		return adapter.SetMode(mode)
	case "refresh":
		refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return adapter.Refresh(refreshCtx)
	case "reconnect":
		return adapter.Reconnect()
	case "stats":
		st := tracker.Stats(adapter.View().Symbol)
		fmt.Fprintf(out, "# %s n=%d interval p50=%.0fms p90=%.0fms p99=%.0fms lag p50=%.0fms p99=%.0fms age=%.0fms\n",
			st.Symbol, st.Count, st.IntervalP50Ms, st.IntervalP90Ms, st.IntervalP99Ms, st.LagP50Ms, st.LagP99Ms, st.LastAgeMs)
		return nil
	}
	return nil
}

// renderView 输出一行状态，depth > 0 时附带前 N 档深度
func renderView(out io.Writer, v model.View, label string, m *model.DerivedMetrics, depth int) {
	ts := time.Now().Format("15:04:05.000")
	status := v.State.String()
	if v.Loading {
		status += "…"
	}

	if m == nil {
		line := fmt.Sprintf("%s %-10s %-13s 等待数据", ts, label, status)
		if v.Error != "" {
			line += "  err=" + v.Error
		}
		fmt.Fprintln(out, line)
		return
	}

	line := fmt.Sprintf("%s %-10s %-13s bid=%s ask=%s spread=%s imb=%s bidVol=%s askVol=%s",
		ts, label, status,
		derive.FormatPrice(m.BestBid),
		derive.FormatPrice(m.BestAsk),
		derive.FormatPrice(m.Spread),
		derive.FormatImbalance(*m),
		derive.FormatSize(m.TotalBidVolume),
		derive.FormatSize(m.TotalAskVolume))
	if v.Error != "" {
		line += "  err=" + v.Error
	}
	fmt.Fprintln(out, line)

	if depth <= 0 {
		return
	}
	levels := derive.TopLevels(v.Data, depth)
	for i := 0; i < len(levels.Bids) || i < len(levels.Asks); i++ {
		bid, ask := "", ""
		if i < len(levels.Bids) {
			e := levels.Bids[i]
			bid = derive.FormatSize(e.Size) + " @ " + derive.FormatPrice(e.Price)
		}
		if i < len(levels.Asks) {
			e := levels.Asks[i]
			ask = derive.FormatPrice(e.Price) + " @ " + derive.FormatSize(e.Size)
		}
		fmt.Fprintf(out, "    %30s | %-30s\n", bid, ask)
	}
}
