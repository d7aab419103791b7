package model

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// KServe 协议版本
const (
	KServeV1 = "v1"
	KServeV2 = "v2"
)

// NewKServeModel 创建调用 KServe / ModelMesh 推理服务的模型，熔断行为与 RPCModel 一致。
//
// V1（TensorFlow Serving REST 风格）：
//
//	POST {endpoint}/v1/models/{model_name}:predict  {"instances": [[...], ...]}
//	-> {"predictions": [p1, ...]}，每项可以是标量或 [标量]
//
// V2（Open Inference Protocol）：
//
//	POST {endpoint}/v2/models/{model_name}[/versions/{v}]/infer
//	{"inputs": [{"name": "input0", "shape": [n, d], "datatype": "FP64", "data": [...]}]}
//	-> {"outputs": [{"name": "...", "data": [...]}]}
func NewKServeModel(spec Spec, featureNames []string, opts ...RPCOption) (*RPCModel, error) {
	if spec.Endpoint == "" || spec.ModelName == "" {
		return nil, incompatible("model: kserve model requires endpoint and model_name")
	}
	codec := kserveCodec{
		endpoint:   strings.TrimRight(spec.Endpoint, "/"),
		modelName:  spec.ModelName,
		version:    spec.RemoteVersion,
		protocol:   spec.Protocol,
		inputName:  spec.InputName,
		outputName: spec.OutputName,
	}
	switch codec.protocol {
	case "":
		codec.protocol = KServeV2
	case KServeV1, KServeV2:
	default:
		return nil, incompatible("model: unknown kserve protocol %q", spec.Protocol)
	}
	if codec.inputName == "" {
		codec.inputName = "input0"
	}
	return newRemoteModel(spec, featureNames, TypeKServe, codec, opts...)
}

type kserveCodec struct {
	endpoint   string
	modelName  string
	version    string
	protocol   string
	inputName  string
	outputName string
}

func (c kserveCodec) predictURL() string {
	if c.protocol == KServeV1 {
		return fmt.Sprintf("%s/v1/models/%s:predict", c.endpoint, c.modelName)
	}
	path := fmt.Sprintf("%s/v2/models/%s", c.endpoint, c.modelName)
	if c.version != "" {
		path += "/versions/" + c.version
	}
	return path + "/infer"
}

func (c kserveCodec) healthURL() string {
	if c.protocol == KServeV1 {
		return fmt.Sprintf("%s/v1/models/%s", c.endpoint, c.modelName)
	}
	return fmt.Sprintf("%s/v2/models/%s/ready", c.endpoint, c.modelName)
}

type v2Tensor struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	Datatype string `json:"datatype"`
	Data     []any  `json:"data"`
}

func (c kserveCodec) encode(instances [][]float64, _ []string) ([]byte, error) {
	if c.protocol == KServeV1 {
		return json.Marshal(map[string]any{"instances": instances})
	}
	dim := 0
	if len(instances) > 0 {
		dim = len(instances[0])
	}
	data := make([]any, 0, len(instances)*dim)
	for _, row := range instances {
		for _, v := range row {
			data = append(data, v)
		}
	}
	return json.Marshal(map[string]any{
		"inputs": []v2Tensor{{
			Name:     c.inputName,
			Shape:    []int{len(instances), dim},
			Datatype: "FP64",
			Data:     data,
		}},
	})
}

func (c kserveCodec) decode(body []byte) ([]float64, string, error) {
	if c.protocol == KServeV1 {
		var out struct {
			Predictions []any `json:"predictions"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, "", err
		}
		return scalars(out.Predictions)
	}

	var out struct {
		ModelVersion string     `json:"model_version"`
		Outputs      []v2Tensor `json:"outputs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, "", err
	}
	if len(out.Outputs) == 0 {
		return nil, "", fmt.Errorf("kserve v2: empty outputs")
	}
	tensor := out.Outputs[0]
	if c.outputName != "" {
		for _, t := range out.Outputs {
			if t.Name == c.outputName {
				tensor = t
				break
			}
		}
	}
	preds, _, err := scalars(tensor.Data)
	return preds, out.ModelVersion, err
}

// scalars 把 [p, ...] 或 [[p], ...] 展开成 []float64
func scalars(values []any) ([]float64, string, error) {
	preds := make([]float64, len(values))
	for i, v := range values {
		if arr, ok := v.([]any); ok {
			if len(arr) == 0 {
				return nil, "", fmt.Errorf("prediction %d is empty", i)
			}
			v = arr[0]
		}
		f, ok := v.(float64)
		if !ok {
			return nil, "", fmt.Errorf("prediction %d is %T, want number", i, v)
		}
		preds[i] = f
	}
	return preds, "", nil
}
