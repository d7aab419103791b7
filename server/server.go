// Package server 是价格预测服务的 HTTP 边界：请求改写、编码、调用模型、组织响应。
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rushteam/carprice/bundle"
	"github.com/rushteam/carprice/config"
	"github.com/rushteam/carprice/feature"
	"github.com/rushteam/carprice/pkg/dsl"
)

// Version 服务版本，构建时可通过 -ldflags 覆盖
var Version = "dev"

const (
	predictBodyLimit = 1 << 20
	batchBodyLimit   = 32 << 20
)

// Server 持有 HTTP 处理所需的全部依赖
type Server struct {
	cfg        config.ServerConfig
	holder     *bundle.Holder
	rules      *dsl.RuleSet
	categories feature.Categories
	started    time.Time
}

// Option 配置 Server
type Option func(*Server)

// WithRules 设置输入行准入规则
func WithRules(rules *dsl.RuleSet) Option {
	return func(s *Server) { s.rules = rules }
}

// WithCategories 设置 /get_categories 返回的类别取值
func WithCategories(c feature.Categories) Option {
	return func(s *Server) { s.categories = c }
}

// New 创建 Server
func New(cfg config.ServerConfig, holder *bundle.Holder, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		holder:     holder,
		categories: feature.DefaultCategories(),
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.BatchMaxRows <= 0 {
		s.cfg.BatchMaxRows = 5000
	}
	if s.cfg.BatchChunkSize <= 0 {
		s.cfg.BatchChunkSize = 256
	}
	if s.cfg.BatchWorkers <= 0 {
		s.cfg.BatchWorkers = 4
	}
	return s
}

// Router 构建路由
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
		}
		r.Post("/predict", s.handlePredict)
		r.Post("/predict/batch", s.handlePredictBatch)
		r.Get("/get_categories", s.handleCategories)
		r.Get("/metadata", s.handleMetadata)
	})

	if s.cfg.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireToken(s.cfg.AdminToken))
			r.Post("/reload", s.handleReload)
		})
	}
	return r
}

// HTTPServer 返回配置好超时的 http.Server
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
}
