package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/saiset-co/sai-fx/types"
)

const maxPooledBuffer = 16 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// Marshal encodes data as JSON without a trailing newline. The returned
// slice is owned by the caller.
func Marshal(data interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		if buf.Cap() <= maxPooledBuffer {
			bufferPool.Put(buf)
		}
	}()

	buf.Reset()
	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	encoded := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	result := make([]byte, len(encoded))
	copy(result, encoded)
	return result, nil
}

// MarshalCanonical encodes with sorted map keys so equal values always
// produce equal bytes.
func MarshalCanonical(data interface{}) ([]byte, error) {
	return sonic.ConfigStd.Marshal(data)
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalConfig decodes a loosely typed config section (usually a
// map from YAML) into target.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err := sonic.ConfigDefault.Unmarshal(configBytes, target); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}
	return nil
}
