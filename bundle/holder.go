package bundle

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rushteam/carprice/core"
	"github.com/rushteam/carprice/logging"
	"github.com/rushteam/carprice/metrics"
)

// Holder 持有当前服务中的模型包。
// 读路径只做一次原子 Load；Reload 成功后整体替换，失败时保留旧模型包。
// 并发的 Reload 通过 singleflight 合并为一次加载。
type Holder struct {
	loader  Loader
	source  string
	current atomic.Pointer[Served]
	group   singleflight.Group
}

// NewHolder 创建 Holder，此时尚未加载
func NewHolder(loader Loader, source string) *Holder {
	return &Holder{loader: loader, source: source}
}

// Source 返回模型包来源
func (h *Holder) Source() string { return h.source }

// Current 返回当前模型包，未加载时返回 nil
func (h *Holder) Current() *Served {
	return h.current.Load()
}

// Ready 返回是否已有可用模型包
func (h *Holder) Ready() bool {
	return h.current.Load() != nil
}

// Reload 从来源重新加载模型包并原子替换
func (h *Holder) Reload(ctx context.Context) (*Served, error) {
	v, err, shared := h.group.Do("reload", func() (any, error) {
		return h.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.Ctx(ctx).Debug().Str("source", h.source).Msg("bundle reload shared with in-flight load")
	}
	return v.(*Served), nil
}

func (h *Holder) load(ctx context.Context) (*Served, error) {
	start := time.Now()
	log := logging.With().Str("component", "bundle").Str("source", h.source).Logger()

	data, err := h.loader.Load(ctx, h.source)
	if err != nil {
		metrics.BundleReloadsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("bundle load failed")
		return nil, err
	}
	b, err := Decode(data)
	if err != nil {
		metrics.BundleReloadsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("bundle decode failed")
		return nil, err
	}
	served, err := b.Open(h.source)
	if err != nil {
		metrics.BundleReloadsTotal.WithLabelValues("incompatible").Inc()
		log.Error().Err(err).Str("code", core.ErrorCode(err)).Msg("bundle rejected")
		return nil, err
	}

	h.Swap(ctx, served)
	metrics.BundleReloadsTotal.WithLabelValues("success").Inc()
	log.Info().
		Str("version", b.Version).
		Str("fingerprint", b.Fingerprint).
		Str("model", served.Model.Name()).
		Int("features", len(served.Metadata.FeatureColumns)).
		Bool("compressed", IsCompressed(data)).
		Dur("took", time.Since(start)).
		Msg("bundle loaded")
	return served, nil
}

// Swap 直接替换当前模型包（已 Open 的模型包），并关闭旧模型的空闲连接
func (h *Holder) Swap(ctx context.Context, served *Served) {
	old := h.current.Swap(served)
	metrics.SetBundle(served.Bundle.Version, served.Bundle.Fingerprint, served.Model.Name())
	if old != nil && old.Model != nil {
		if err := old.Model.Close(ctx); err != nil {
			logging.Warn().Err(err).Msg("close previous model")
		}
	}
}

// Close 关闭当前模型
func (h *Holder) Close(ctx context.Context) error {
	if cur := h.current.Load(); cur != nil && cur.Model != nil {
		return cur.Model.Close(ctx)
	}
	return nil
}
