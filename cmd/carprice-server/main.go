// carprice-server 启动价格预测 HTTP 服务。
//
//	carprice-server -config carprice.yaml
//
// 启动时模型包加载失败不会退出：服务照常监听，/readyz 返回 503，
// 之后由定时重载或 /admin/reload 恢复。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rushteam/carprice/bundle"
	"github.com/rushteam/carprice/config"
	"github.com/rushteam/carprice/feature"
	"github.com/rushteam/carprice/logging"
	"github.com/rushteam/carprice/pkg/dsl"
	"github.com/rushteam/carprice/server"
	"github.com/rushteam/carprice/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logging.Fatal().Err(err).Msg("carprice-server exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Log)
	log := logging.With().Str("component", "main").Logger()

	cats, err := feature.LoadCategories(cfg.CategoriesPath)
	if err != nil {
		return err
	}
	rules, err := dsl.Compile(cfg.Rules)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver, closeResolver, err := buildResolver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResolver()

	holder := bundle.NewHolder(resolver, cfg.Bundle.Source)
	if _, err := holder.Reload(ctx); err != nil {
		log.Error().Err(err).Str("source", cfg.Bundle.Source).Msg("initial bundle load failed, serving not-ready")
	}
	defer holder.Close(context.Background())

	if cfg.Bundle.ReloadInterval > 0 {
		go reloadLoop(ctx, holder, cfg.Bundle.ReloadInterval)
	}

	srv := server.New(cfg.Server, holder, server.WithRules(rules), server.WithCategories(cats)).HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("version", server.Version).Int("rules", rules.Len()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildResolver 只为 bundle.source 实际使用的 scheme 建立远端连接
func buildResolver(ctx context.Context, cfg *config.Config) (*bundle.Resolver, func(), error) {
	resolver := &bundle.Resolver{
		File: bundle.FileLoader{},
		HTTP: bundle.NewHTTPLoader(cfg.Bundle.HTTPTimeout),
	}
	closer := func() {}

	scheme, _ := bundle.ParseSource(cfg.Bundle.Source)
	switch scheme {
	case "s3":
		l, err := bundle.NewS3Loader(ctx, cfg.Bundle.S3)
		if err != nil {
			return nil, nil, err
		}
		resolver.S3 = l
	case "redis":
		rs, err := store.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		resolver.Store = bundle.NewStoreLoader(rs)
		closer = func() { _ = rs.Close() }
	}
	return resolver, closer, nil
}

func reloadLoop(ctx context.Context, holder *bundle.Holder, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 失败时 Holder 保留旧模型包并已记录日志
			_, _ = holder.Reload(ctx)
		}
	}
}
