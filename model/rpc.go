package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rushteam/carprice/core"
)

const maxResponseBytes = 64 << 20

// RPCModel 通过 HTTP 调用外部回归模型服务，外层包一个熔断器。
// 连续失败达到阈值后熔断器打开，此期间的请求直接返回 UNAVAILABLE，不再打到下游。
//
// 请求格式（JSON）：
//
//	{"instances": [[f1, f2, ...], ...], "feature_names": ["Mileage(miles)", ...]}
//
// 响应格式（JSON）：
//
//	{"predictions": [12345.6, ...], "model_version": "v3"}
type RPCModel struct {
	name           string
	version        string
	endpoint       string
	healthEndpoint string
	features       []string
	client         *http.Client
	codec          wireCodec
	breaker        *gobreaker.CircuitBreaker[*core.MLPredictResponse]
}

// wireCodec 描述一种远程推理协议：请求地址、请求体与响应解析
type wireCodec interface {
	predictURL() string
	healthURL() string
	encode(instances [][]float64, features []string) ([]byte, error)
	// decode 返回预测值与响应中的模型版本（可为空）
	decode(body []byte) ([]float64, string, error)
}

// nativeCodec 本服务约定的 JSON 协议，见 RPCModel 注释
type nativeCodec struct {
	endpoint string
}

func (c nativeCodec) predictURL() string { return c.endpoint }
func (c nativeCodec) healthURL() string  { return "" }

func (c nativeCodec) encode(instances [][]float64, features []string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"instances":     instances,
		"feature_names": features,
	})
}

func (c nativeCodec) decode(body []byte) ([]float64, string, error) {
	var result struct {
		Predictions  []float64 `json:"predictions"`
		ModelVersion string    `json:"model_version"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, "", err
	}
	return result.Predictions, result.ModelVersion, nil
}

// RPCOption 配置 RPCModel
type RPCOption func(*rpcOptions)

type rpcOptions struct {
	client           *http.Client
	failureThreshold uint32
	openTimeout      time.Duration
}

// WithHTTPClient 使用自定义 HTTP 客户端
func WithHTTPClient(c *http.Client) RPCOption {
	return func(o *rpcOptions) { o.client = c }
}

// WithBreaker 设置熔断阈值（连续失败次数）与打开状态持续时间
func WithBreaker(failureThreshold uint32, openTimeout time.Duration) RPCOption {
	return func(o *rpcOptions) {
		o.failureThreshold = failureThreshold
		o.openTimeout = openTimeout
	}
}

// NewRPCModel 创建远程模型客户端
func NewRPCModel(spec Spec, featureNames []string, opts ...RPCOption) (*RPCModel, error) {
	if spec.Endpoint == "" {
		return nil, incompatible("model: rpc model requires an endpoint")
	}
	return newRemoteModel(spec, featureNames, TypeRPC, nativeCodec{endpoint: spec.Endpoint}, opts...)
}

func newRemoteModel(spec Spec, featureNames []string, defaultName string, codec wireCodec, opts ...RPCOption) (*RPCModel, error) {
	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	o := rpcOptions{failureThreshold: 5, openTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: timeout}
	}

	name := spec.Name
	if name == "" {
		name = defaultName
	}
	m := &RPCModel{
		name:           name,
		version:        spec.Version,
		endpoint:       spec.Endpoint,
		healthEndpoint: spec.HealthEndpoint,
		features:       append([]string(nil), featureNames...),
		client:         o.client,
		codec:          codec,
	}
	if m.healthEndpoint == "" {
		m.healthEndpoint = codec.healthURL()
	}
	threshold := o.failureThreshold
	m.breaker = gobreaker.NewCircuitBreaker[*core.MLPredictResponse](gobreaker.Settings{
		Name:        "model:" + name,
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	return m, nil
}

func (m *RPCModel) Name() string { return m.name }

// BreakerState 返回熔断器状态（closed / half-open / open）
func (m *RPCModel) BreakerState() string {
	return m.breaker.State().String()
}

// Predict 调用远程模型服务进行批量预测
func (m *RPCModel) Predict(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	if req == nil || len(req.Instances) == 0 {
		return &core.MLPredictResponse{Predictions: []float64{}, ModelVersion: m.version}, nil
	}
	for i, inst := range req.Instances {
		if len(inst) != len(m.features) {
			return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput,
				fmt.Sprintf("model: instance %d has %d features, want %d", i, len(inst), len(m.features)))
		}
	}

	resp, err := m.breaker.Execute(func() (*core.MLPredictResponse, error) {
		return m.call(ctx, req.Instances)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			fmt.Sprintf("model: %s circuit breaker: %v", m.name, err))
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *RPCModel) call(ctx context.Context, instances [][]float64) (*core.MLPredictResponse, error) {
	body, err := m.codec.encode(instances, m.features)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.codec.predictURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(raw) > 4096 {
			raw = raw[:4096]
		}
		return nil, fmt.Errorf("rpc error: status=%d, body=%s", resp.StatusCode, string(raw))
	}

	preds, version, err := m.codec.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(preds) != len(instances) {
		return nil, fmt.Errorf("response predictions count mismatch: expected %d, got %d", len(instances), len(preds))
	}
	if version == "" {
		version = m.version
	}
	return &core.MLPredictResponse{Predictions: preds, ModelVersion: version}, nil
}

// Health 熔断器打开时返回 UNAVAILABLE；配置了 health_endpoint 时额外探测一次
func (m *RPCModel) Health(ctx context.Context) error {
	if m.breaker.State() == gobreaker.StateOpen {
		return core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable, "model: circuit breaker open")
	}
	if m.healthEndpoint == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.healthEndpoint, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable, fmt.Sprintf("model: health check: %v", err))
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable, fmt.Sprintf("model: health check status=%d", resp.StatusCode))
	}
	return nil
}

func (m *RPCModel) Close(ctx context.Context) error {
	m.client.CloseIdleConnections()
	return nil
}
