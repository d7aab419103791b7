package bundle

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/rushteam/carprice/core"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Encoder/Decoder 的 EncodeAll/DecodeAll 可并发调用，进程内共享一份
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Encode 序列化模型包，compress 为 true 时使用 zstd 压缩
func Encode(b *Bundle, compress bool) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bundle: marshal: %w", err)
	}
	if !compress {
		return data, nil
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

// Decode 反序列化模型包，按 zstd 魔数自动识别压缩格式
func Decode(data []byte) (*Bundle, error) {
	if IsCompressed(data) {
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, invalidBundle("zstd: %v", err)
		}
		data = raw
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, invalidBundle("json: %v", err)
	}
	if b.Model.Type == "" {
		return nil, invalidBundle("missing model")
	}
	if len(b.Encoders.FeatureNames) == 0 {
		return nil, invalidBundle("missing encoders")
	}
	return &b, nil
}

// IsCompressed 判断数据是否以 zstd 帧开头
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

func invalidBundle(format string, args ...any) error {
	return core.NewDomainError(core.ModuleBundle, core.ErrorCodeInvalidInput, "bundle: decode: "+fmt.Sprintf(format, args...))
}
