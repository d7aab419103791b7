package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/rushteam/carprice/core"
	"github.com/rushteam/carprice/logging"
)

// PredictResponse 是 /predict 的成功响应
type PredictResponse struct {
	PredictedPrice          float64 `json:"predicted_price"`
	PredictedPriceFormatted string  `json:"predicted_price_formatted"`
	Status                  string  `json:"status"`
	Message                 string  `json:"message"`
	ModelVersion            string  `json:"model_version,omitempty"`
}

// BatchResponse 是 /predict/batch 的成功响应
type BatchResponse struct {
	Predictions  []float64 `json:"predictions"`
	Count        int       `json:"count"`
	Status       string    `json:"status"`
	ModelVersion string    `json:"model_version,omitempty"`
}

// ErrorResponse 是所有接口的失败响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  string `json:"status"`
	Details string `json:"details"`
	Code    string `json:"code,omitempty"`
	Column  string `json:"column,omitempty"`
}

var errNoBundle = core.NewDomainError(core.ModuleBundle, core.ErrorCodeUnavailable, "no model bundle loaded")

// modelError 标记模型调用阶段的失败（区别于编码失败）
type modelError struct {
	err error
}

func (e *modelError) Error() string { return e.err.Error() }
func (e *modelError) Unwrap() error { return e.err }

// statusFor 把错误映射为 HTTP 状态码：
//   - 请求体格式/字段校验：400
//   - 编码失败、准入规则：422
//   - 尚无模型包、模型熔断：503
//   - 模型调用失败：502
func statusFor(err error) int {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest
	}
	if core.IsEncodingError(err) {
		return http.StatusUnprocessableEntity
	}
	switch core.ErrorCode(err) {
	case core.ErrorCodeUnavailable, core.ErrorCodeEncoderNotFitted:
		return http.StatusServiceUnavailable
	case core.ErrorCodeInvalidInput:
		return http.StatusBadRequest
	}
	var mErr *modelError
	if errors.As(err, &mErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Error:   errorPrefix(r) + err.Error(),
		Status:  "error",
		Details: err.Error(),
		Code:    core.ErrorCode(err),
	}
	if de := core.GetDomainError(err); de != nil {
		resp.Column = de.Column
	}

	ev := logging.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		ev = logging.Ctx(r.Context()).Error()
	}
	ev.Err(err).Int("status", status).Str("code", resp.Code).Str("path", r.URL.Path).Msg("request failed")

	writeJSON(w, status, resp)
}

func errorPrefix(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/predict") {
		return "prediction error: "
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("write response")
	}
}
