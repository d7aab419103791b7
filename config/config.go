// Package config 加载服务配置：默认值 -> YAML 文件 -> 环境变量，后者覆盖前者。
//
// 环境变量以 CARPRICE_ 为前缀，双下划线表示层级：
//
//	CARPRICE_SERVER__ADDR=:9000            -> server.addr
//	CARPRICE_BUNDLE__SOURCE=s3://m/b.zst   -> bundle.source
//	CARPRICE_BUNDLE__S3__USE_PATH_STYLE=1  -> bundle.s3.use_path_style
//	CARPRICE_SERVER__CORS_ORIGINS=a,b      -> server.cors_origins（逗号分隔）
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/carprice/bundle"
	"github.com/rushteam/carprice/logging"
	"github.com/rushteam/carprice/pkg/dsl"
	"github.com/rushteam/carprice/store"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "CARPRICE_"

// Config 服务配置
type Config struct {
	Server ServerConfig      `koanf:"server"`
	Log    logging.Config    `koanf:"log"`
	Bundle BundleConfig      `koanf:"bundle"`
	Redis  store.RedisConfig `koanf:"redis"`
	// CategoriesPath 类别取值覆盖文件（YAML），为空时使用内置取值
	CategoriesPath string `koanf:"categories_path"`
	// Rules 输入行准入规则（CEL 表达式）
	Rules []dsl.Rule `koanf:"rules" validate:"dive"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// RateLimit 每个客户端 IP 每分钟最大请求数，0 表示不限流
	RateLimit int `koanf:"rate_limit" validate:"min=0"`
	// BatchMaxRows 批量预测单次最大行数
	BatchMaxRows int `koanf:"batch_max_rows" validate:"min=1,max=100000"`
	// BatchChunkSize 批量预测按块并发编码，每块行数
	BatchChunkSize int `koanf:"batch_chunk_size" validate:"min=1"`
	// BatchWorkers 批量预测并发块数
	BatchWorkers int `koanf:"batch_workers" validate:"min=1,max=256"`
	// AdminToken 为空时禁用 /admin 接口
	AdminToken string `koanf:"admin_token"`
}

// BundleConfig 模型包配置
type BundleConfig struct {
	// Source 模型包来源：文件路径、http(s)://、s3://bucket/key、redis://key
	Source string `koanf:"source" validate:"required"`
	// ReloadInterval 定时重新加载间隔，0 表示只在启动与 /admin/reload 时加载
	ReloadInterval time.Duration   `koanf:"reload_interval" validate:"min=0"`
	HTTPTimeout    time.Duration   `koanf:"http_timeout" validate:"min=0"`
	S3             bundle.S3Config `koanf:"s3"`
}

// Default 返回默认配置
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       600,
			BatchMaxRows:    5000,
			BatchChunkSize:  256,
			BatchWorkers:    4,
		},
		Log: logging.Config{Level: "info", Format: "json"},
		Bundle: BundleConfig{
			Source:      "carprice_bundle.json",
			HTTPTimeout: 10 * time.Second,
		},
		Redis: store.RedisConfig{Addr: "localhost:6379", KeyPrefix: "carprice:"},
	}
}

var sliceKeys = []string{"server.cors_origins"}

var validate = validator.New()

// Load 依次加载默认值、YAML 文件（path 为空时跳过）与环境变量，并校验
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitSlices(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 按 validate 标签校验配置，并检查规则能否编译
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := dsl.Compile(c.Rules); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// envKey CARPRICE_BUNDLE__S3__REGION -> bundle.s3.region
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func splitSlices(k *koanf.Koanf) error {
	for _, path := range sliceKeys {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
