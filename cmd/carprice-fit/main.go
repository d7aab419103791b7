// carprice-fit 离线拟合编码器并发布模型包。
//
//	carprice-fit -data listings.csv -out bundle.json.zst -parquet encoded.parquet
//	carprice-fit -data listings.csv -model model.json -push s3://models/carprice/latest.zst
//
// 未提供 -model 时在编码矩阵上拟合岭回归，得到 linear 模型。
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/carprice/bundle"
	"github.com/rushteam/carprice/config"
	"github.com/rushteam/carprice/feature"
	"github.com/rushteam/carprice/logging"
	"github.com/rushteam/carprice/model"
	"github.com/rushteam/carprice/store"
)

type options struct {
	configPath string
	data       string
	modelSpec  string
	ridge      float64
	out        string
	parquet    string
	csvOut     string
	version    string
	push       string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "config file (redis / s3 / log settings)")
	flag.StringVar(&o.data, "data", "", "training CSV with header")
	flag.StringVar(&o.modelSpec, "model", "", "model spec JSON; empty fits a ridge regression")
	flag.Float64Var(&o.ridge, "ridge", model.DefaultRidge, "L2 strength when fitting the linear model")
	flag.StringVar(&o.out, "out", "carprice_bundle.json", "bundle output path; .zst suffix enables compression")
	flag.StringVar(&o.parquet, "parquet", "", "optional encoded matrix output (parquet)")
	flag.StringVar(&o.csvOut, "csv", "", "optional encoded matrix output (csv)")
	flag.StringVar(&o.version, "version", "", "bundle version (default: UTC timestamp)")
	flag.StringVar(&o.push, "push", "", "also publish the bundle to redis://key or s3://bucket/key")
	flag.Parse()

	if err := run(context.Background(), o); err != nil {
		logging.Fatal().Err(err).Msg("carprice-fit failed")
	}
}

func run(ctx context.Context, o options) error {
	if o.data == "" {
		return fmt.Errorf("-data is required")
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Log)
	if o.version == "" {
		o.version = time.Now().UTC().Format("20060102T150405Z")
	}
	log := logging.With().Str("component", "fit").Str("version", o.version).Logger()

	f, err := os.Open(o.data)
	if err != nil {
		return err
	}
	rows, targets, err := feature.ReadTrainingCSV(f, feature.CarListingSchema())
	f.Close()
	if err != nil {
		return err
	}

	enc := feature.NewCategoricalEncoder()
	m, err := enc.FitTransform(rows, targets)
	if err != nil {
		return err
	}
	log.Info().Int("rows", m.Rows()).Int("features", m.Cols()).Str("fingerprint", enc.Fingerprint()).Msg("encoder fitted")

	if o.parquet != "" {
		if err := writeFile(o.parquet, func(buf *bytes.Buffer) error {
			return feature.WriteEncodedParquet(buf, m, feature.ColumnPrice, targets)
		}); err != nil {
			return err
		}
		log.Info().Str("path", o.parquet).Msg("encoded matrix written")
	}
	if o.csvOut != "" {
		if err := writeFile(o.csvOut, func(buf *bytes.Buffer) error {
			return feature.WriteEncodedCSV(buf, m, feature.ColumnPrice, targets)
		}); err != nil {
			return err
		}
		log.Info().Str("path", o.csvOut).Msg("encoded matrix written")
	}

	spec, err := loadOrFitSpec(o, m, enc.FeatureNames(), targets)
	if err != nil {
		return err
	}

	b, err := bundle.New(enc, spec, o.version)
	if err != nil {
		return err
	}
	// 与服务端加载走同一条校验路径
	if _, err := b.Open(o.out); err != nil {
		return err
	}
	data, err := bundle.Encode(b, strings.HasSuffix(o.out, ".zst"))
	if err != nil {
		return err
	}
	if err := os.WriteFile(o.out, data, 0o644); err != nil {
		return err
	}
	log.Info().Str("path", o.out).Int("bytes", len(data)).Str("model", spec.Type).Msg("bundle written")

	if o.push != "" {
		if err := push(ctx, cfg, o.push, data); err != nil {
			return err
		}
		log.Info().Str("target", o.push).Msg("bundle published")
	}
	return nil
}

func loadOrFitSpec(o options, m *feature.Matrix, names []string, targets []float64) (model.Spec, error) {
	if o.modelSpec == "" {
		return model.FitLinear(m.Dense(), names, targets, o.ridge)
	}
	raw, err := os.ReadFile(o.modelSpec)
	if err != nil {
		return model.Spec{}, err
	}
	var spec model.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return model.Spec{}, fmt.Errorf("parse model spec %s: %w", o.modelSpec, err)
	}
	return spec, nil
}

func push(ctx context.Context, cfg *config.Config, target string, data []byte) error {
	scheme, location := bundle.ParseSource(target)
	switch scheme {
	case "redis":
		rs, err := store.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rs.Close()
		return bundle.NewStoreLoader(rs).Save(ctx, location, data)
	case "s3":
		l, err := bundle.NewS3Loader(ctx, cfg.Bundle.S3)
		if err != nil {
			return err
		}
		return l.Save(ctx, location, data)
	default:
		return fmt.Errorf("unsupported push target %q (want redis:// or s3://)", target)
	}
}

func writeFile(path string, fill func(*bytes.Buffer) error) error {
	var buf bytes.Buffer
	if err := fill(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
