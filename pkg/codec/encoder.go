package codec

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encOnce sync.Once
	encMode cbor.EncMode
	encErr  error
)

// GetEncoder 返回确定性的CBOR编码模式，整个进程共享一个实例
func GetEncoder() (cbor.EncMode, error) {
	encOnce.Do(func() {
		opts := cbor.CoreDetEncOptions()
		opts.Time = cbor.TimeUnix
		encMode, encErr = opts.EncMode()
	})

	return encMode, encErr
}

func Marshal(v any) ([]byte, error) {
	em, err := GetEncoder()
	if err != nil {
		return nil, err
	}

	return em.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
