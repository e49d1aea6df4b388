// Package server 实现订单簿代理 HTTP 服务。
// GET /api/orderbook?symbol= 转发 CoinAPI 当前订单簿，附带 CORS 与 CDN 缓存头；
// 同时暴露 /healthz 与 /metrics。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"orderbook-feed/internal/config"
	"orderbook-feed/internal/exchange/coinapi"
	"orderbook-feed/internal/telemetry"
)

// OrderBookSource 上游订单簿来源，通常为 *coinapi.Client
type OrderBookSource interface {
	HasKey() bool
	CurrentOrderBook(ctx context.Context, symbolID string) (json.RawMessage, error)
}

// Server 订单簿代理服务
type Server struct {
	cfg      config.ServerConfig
	upstream OrderBookSource
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	router   *mux.Router
	// allowed 允许的来源集合
	allowed map[string]bool
}

// New 创建代理服务
// 参数 cfg: 应用配置（使用 server 部分）
// 参数 upstream: 上游订单簿来源
// 参数 metrics: Prometheus 指标，可为 nil（此时不注册 /metrics）
// 参数 logger: 日志记录器
func New(cfg *config.Config, upstream OrderBookSource, metrics *telemetry.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg.Server,
		upstream: upstream,
		metrics:  metrics,
		logger:   logger.Named("server"),
		router:   mux.NewRouter(),
		allowed:  make(map[string]bool, len(cfg.Server.AllowedOrigins)),
	}
	for _, o := range cfg.Server.AllowedOrigins {
		s.allowed[o] = true
	}
	s.setupRoutes()
	return s
}

// setupRoutes 注册路由
func (s *Server) setupRoutes() {
	s.router.Use(s.requestLoggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware)
	// OPTIONS 需要匹配到路由，CORS 中间件才会执行
	api.HandleFunc("/orderbook", s.handleOrderBook).Methods(http.MethodGet, http.MethodOptions)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 监听并服务，ctx 取消后优雅关闭（5 秒超时）
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("代理服务启动", zap.String("listen", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("代理服务退出: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭代理服务失败: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("代理服务已关闭")
	return nil
}

// allowOrigin 计算回写的 Access-Control-Allow-Origin
// 来源在允许列表或匹配允许的后缀时原样回写，否则回写默认来源
func (s *Server) allowOrigin(origin string) string {
	if origin != "" {
		if s.allowed[origin] {
			return origin
		}
		for _, suffix := range s.cfg.AllowedOriginSuffixes {
			if strings.HasSuffix(origin, suffix) {
				return origin
			}
		}
	}
	return s.cfg.DefaultOrigin
}

// corsMiddleware 设置 CORS 头，预检请求直接返回 200
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.allowOrigin(r.Header.Get("Origin")))
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Content-Type", "application/json")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLoggingMiddleware 记录请求状态与耗时
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("请求完成",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

// handleOrderBook GET /api/orderbook?symbol=
func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		symbol = s.cfg.DefaultSymbol
	}

	if !s.upstream.HasKey() {
		s.writeError(w, http.StatusInternalServerError, coinapi.ErrMissingKey.Error())
		return
	}

	start := time.Now()
	book, err := s.upstream.CurrentOrderBook(r.Context(), symbol)
	s.metrics.ObserveUpstream(time.Since(start))
	if err != nil {
		var se *coinapi.StatusError
		if errors.As(err, &se) {
			s.writeError(w, se.StatusCode, se.Error())
			return
		}
		s.logger.Warn("获取上游订单簿失败", zap.String("symbol", symbol), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Cache-Control", "s-maxage="+strconv.Itoa(s.cfg.CacheMaxAgeS)+", stale-while-revalidate")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(book)
	s.metrics.ObserveProxyRequest(http.StatusOK)
}

// handleHealth GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     "ok",
		"key_loaded": s.upstream.HasKey(),
	})
}

// errorBody 错误响应体
type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
	s.metrics.ObserveProxyRequest(status)
}

// statusRecorder 记录响应状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
