package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/carprice/bundle"
	"github.com/rushteam/carprice/core"
	"github.com/rushteam/carprice/feature"
	"github.com/rushteam/carprice/logging"
	"github.com/rushteam/carprice/metrics"
)

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CarFeatures
	if err := decodeJSON(w, r, predictBodyLimit, &req); err != nil {
		metrics.ObservePredict("predict", "bad_request", start)
		writeError(w, r, err)
		return
	}

	served := s.holder.Current()
	if served == nil {
		metrics.ObservePredict("predict", "unavailable", start)
		writeError(w, r, errNoBundle)
		return
	}

	preds, version, err := s.predictRows(r.Context(), served, []feature.Row{req.ToRow()})
	if err != nil {
		metrics.ObservePredict("predict", "error", start)
		writeError(w, r, err)
		return
	}

	metrics.ObservePredict("predict", "success", start)
	writeJSON(w, http.StatusOK, PredictResponse{
		PredictedPrice:          preds[0],
		PredictedPriceFormatted: fmt.Sprintf("%.2f", preds[0]),
		Status:                  "success",
		Message:                 "prediction successful",
		ModelVersion:            version,
	})
}

// handlePredictBatch 把请求按 BatchChunkSize 切块，最多 BatchWorkers 块并发编码与预测
func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req BatchRequest
	if err := decodeJSON(w, r, batchBodyLimit, &req); err != nil {
		metrics.ObservePredict("batch", "bad_request", start)
		writeError(w, r, err)
		return
	}
	if len(req.Instances) > s.cfg.BatchMaxRows {
		metrics.ObservePredict("batch", "bad_request", start)
		writeError(w, r, &requestError{msg: fmt.Sprintf("batch has %d instances, limit is %d", len(req.Instances), s.cfg.BatchMaxRows)})
		return
	}

	served := s.holder.Current()
	if served == nil {
		metrics.ObservePredict("batch", "unavailable", start)
		writeError(w, r, errNoBundle)
		return
	}

	rows := make([]feature.Row, len(req.Instances))
	for i := range req.Instances {
		rows[i] = req.Instances[i].ToRow()
	}

	preds := make([]float64, len(rows))
	var version string
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.cfg.BatchWorkers)
	for off := 0; off < len(rows); off += s.cfg.BatchChunkSize {
		end := min(off+s.cfg.BatchChunkSize, len(rows))
		g.Go(func() error {
			p, v, err := s.predictRows(ctx, served, rows[off:end])
			if err != nil {
				return fmt.Errorf("instances %d-%d: %w", off, end-1, err)
			}
			copy(preds[off:end], p)
			if off == 0 {
				version = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.ObservePredict("batch", "error", start)
		writeError(w, r, err)
		return
	}

	metrics.ObservePredict("batch", "success", start)
	writeJSON(w, http.StatusOK, BatchResponse{
		Predictions:  preds,
		Count:        len(preds),
		Status:       "success",
		ModelVersion: version,
	})
}

// predictRows 对一组行执行：准入规则 -> 编码 -> 模型预测
func (s *Server) predictRows(ctx context.Context, served *bundle.Served, rows []feature.Row) ([]float64, string, error) {
	log := logging.Ctx(ctx)

	for i, row := range rows {
		if err := s.rules.Evaluate(row); err != nil {
			metrics.RuleRejectionsTotal.WithLabelValues(core.GetDomainError(err).Column).Inc()
			return nil, "", fmt.Errorf("row %d: %w", i, err)
		}
	}

	m, report, err := served.Encoder.TransformWithReport(rows)
	if err != nil {
		metrics.EncodingErrorsTotal.WithLabelValues(codeOrUnknown(err)).Inc()
		return nil, "", err
	}
	metrics.ObserveFallbacks(report.Rows, report.Fallbacks)
	log.Debug().
		Int("rows", m.Rows()).
		Int("cols", m.Cols()).
		Strs("columns", m.Columns()).
		Interface("fallbacks", report.Fallbacks).
		Msg("rows encoded")

	resp, err := served.Model.Predict(ctx, &core.MLPredictRequest{
		Instances:    m.Instances(),
		FeatureNames: m.Columns(),
	})
	if err != nil {
		if core.IsUnavailable(err) {
			return nil, "", err
		}
		return nil, "", &modelError{err: err}
	}
	if len(resp.Predictions) != len(rows) {
		return nil, "", &modelError{err: fmt.Errorf("model returned %d predictions for %d rows", len(resp.Predictions), len(rows))}
	}
	log.Debug().Floats64("predictions", resp.Predictions).Str("model", served.Model.Name()).Msg("model predicted")
	return resp.Predictions, resp.ModelVersion, nil
}

func codeOrUnknown(err error) string {
	if code := core.ErrorCode(err); code != "" {
		return code
	}
	return "UNKNOWN"
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.categories)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	served := s.holder.Current()
	if served == nil {
		writeError(w, r, errNoBundle)
		return
	}
	writeJSON(w, http.StatusOK, served.Metadata)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	served := s.holder.Current()
	if served == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": "no bundle loaded"})
		return
	}
	if err := served.Model.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"version":     served.Bundle.Version,
		"fingerprint": served.Bundle.Fingerprint,
		"model":       served.Model.Name(),
		"loaded_at":   served.LoadedAt,
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	served, err := s.holder.Reload(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "reloaded",
		"version":     served.Bundle.Version,
		"fingerprint": served.Bundle.Fingerprint,
		"features":    len(served.Metadata.FeatureColumns),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    "Car Price Prediction API",
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"endpoints": []string{
			"POST /predict", "POST /predict/batch", "GET /get_categories",
			"GET /metadata", "GET /healthz", "GET /readyz", "GET /metrics",
		},
	}
	if served := s.holder.Current(); served != nil {
		info["bundle"] = map[string]string{
			"version":     served.Bundle.Version,
			"fingerprint": served.Bundle.Fingerprint,
			"source":      served.Source,
		}
	}
	writeJSON(w, http.StatusOK, info)
}
