package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rushteam/carprice/core"
)

// Loader 读取模型包原始字节
// source 是数据源标识（文件路径、URL、S3 key、存储 key 等）
type Loader interface {
	Load(ctx context.Context, source string) ([]byte, error)
}

// LoaderFunc 函数适配器
type LoaderFunc func(ctx context.Context, source string) ([]byte, error)

func (f LoaderFunc) Load(ctx context.Context, source string) ([]byte, error) { return f(ctx, source) }

// FileLoader 本地文件加载器
type FileLoader struct{}

func (FileLoader) Load(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(path)
	}
	return data, err
}

// HTTPLoader HTTP(S) 加载器
type HTTPLoader struct {
	client *http.Client
}

// NewHTTPLoader 创建 HTTP 加载器，timeout 为 0 时默认 10 秒
func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLoader{client: &http.Client{Timeout: timeout}}
}

// NewHTTPLoaderWithClient 使用自定义 HTTP 客户端创建加载器
func NewHTTPLoaderWithClient(client *http.Client) *HTTPLoader {
	return &HTTPLoader{client: client}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bundle: create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, unavailable("http get %s: %v", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, notFound(url)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, unavailable("http get %s: status=%d, body=%s", url, resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}

// S3API 是 S3Loader 用到的 S3 客户端子集，*s3.Client 满足此接口
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config S3 兼容存储配置（AWS S3、MinIO 等）
type S3Config struct {
	Region       string `koanf:"region"`
	Endpoint     string `koanf:"endpoint"`
	UsePathStyle bool   `koanf:"use_path_style"`
}

// S3Loader 从 S3 兼容存储加载模型包，source 形如 "bucket/key"
type S3Loader struct {
	client S3API
}

// NewS3Loader 使用默认凭证链创建 S3 加载器
func NewS3Loader(ctx context.Context, cfg S3Config) (*S3Loader, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bundle: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Loader{client: client}, nil
}

// NewS3LoaderWithClient 使用已有客户端创建加载器
func NewS3LoaderWithClient(client S3API) *S3Loader {
	return &S3Loader{client: client}
}

func (l *S3Loader) Load(ctx context.Context, source string) ([]byte, error) {
	bucket, key, err := splitBucketKey(source)
	if err != nil {
		return nil, err
	}
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, notFound("s3://" + source)
		}
		return nil, unavailable("s3 get s3://%s: %v", source, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Save 上传模型包到 "bucket/key"
func (l *S3Loader) Save(ctx context.Context, source string, data []byte) error {
	bucket, key, err := splitBucketKey(source)
	if err != nil {
		return err
	}
	_, err = l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("bundle: s3 put s3://%s: %w", source, err)
	}
	return nil
}

// StoreLoader 从 core.Store（如 Redis）加载模型包，source 为 key
type StoreLoader struct {
	store core.Store
}

func NewStoreLoader(store core.Store) *StoreLoader {
	return &StoreLoader{store: store}
}

func (l *StoreLoader) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := l.store.Get(ctx, key)
	if core.IsNotFound(err) {
		return nil, notFound(l.store.Name() + "://" + key)
	}
	if err != nil {
		return nil, unavailable("%s get %s: %v", l.store.Name(), key, err)
	}
	return data, nil
}

// Save 写入模型包（不过期）
func (l *StoreLoader) Save(ctx context.Context, key string, data []byte) error {
	return l.store.Set(ctx, key, data)
}

// Resolver 按 source 的 scheme 分派到对应加载器：
//
//	/path/bundle.json      本地文件（也支持 file://）
//	https://host/bundle    HTTP(S)
//	s3://bucket/key        S3 兼容存储
//	redis://key            core.Store
//
// 未配置对应加载器的 scheme 返回 NOT_SUPPORTED。
type Resolver struct {
	File  Loader
	HTTP  Loader
	S3    Loader
	Store Loader
}

// NewResolver 创建只含文件与 HTTP 加载器的 Resolver
func NewResolver() *Resolver {
	return &Resolver{File: FileLoader{}, HTTP: NewHTTPLoader(0)}
}

func (r *Resolver) Load(ctx context.Context, source string) ([]byte, error) {
	scheme, location := ParseSource(source)
	var l Loader
	switch scheme {
	case "file":
		l = r.File
	case "http", "https":
		l, location = r.HTTP, source
	case "s3":
		l = r.S3
	case "redis":
		l = r.Store
	}
	if l == nil {
		return nil, core.NewDomainError(core.ModuleBundle, core.ErrorCodeNotSupported,
			fmt.Sprintf("bundle: no loader configured for %q", source))
	}
	return l.Load(ctx, location)
}

// ParseSource 拆分 scheme 与位置，无 scheme 时视为本地文件
func ParseSource(source string) (scheme, location string) {
	i := strings.Index(source, "://")
	if i <= 0 {
		return "file", source
	}
	return strings.ToLower(source[:i]), source[i+3:]
}

func splitBucketKey(source string) (string, string, error) {
	bucket, key, ok := strings.Cut(source, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", core.NewDomainError(core.ModuleBundle, core.ErrorCodeInvalidInput,
			fmt.Sprintf("bundle: s3 source %q must be bucket/key", source))
	}
	return bucket, key, nil
}

func notFound(source string) error {
	return core.NewDomainError(core.ModuleBundle, core.ErrorCodeNotFound, fmt.Sprintf("bundle: %s not found", source))
}

func unavailable(format string, args ...any) error {
	return core.NewDomainError(core.ModuleBundle, core.ErrorCodeUnavailable, "bundle: "+fmt.Sprintf(format, args...))
}
