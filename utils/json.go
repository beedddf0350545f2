package utils

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
)

// bufferPool recycles encode buffers; oversized buffers are dropped instead
// of pinning memory.
type bufferPool struct {
	pool sync.Pool
}

func (p *bufferPool) get() *bytes.Buffer {
	if buf := p.pool.Get(); buf != nil {
		return buf.(*bytes.Buffer)
	}
	return bytes.NewBuffer(make([]byte, 0, 1024))
}

func (p *bufferPool) put(buf *bytes.Buffer) {
	buf.Reset()
	if buf.Cap() < 16*1024 {
		p.pool.Put(buf)
	}
}

var jsonBuffers = &bufferPool{}

func Marshal(data interface{}) ([]byte, error) {
	buf := jsonBuffers.get()
	defer jsonBuffers.put(buf)

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// UnmarshalConfig overlays an untyped per-component config block onto a
// typed defaults struct, taking the fast path when the block is already
// the right type.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if typed, ok := config.(*T); ok {
		*target = *typed
		return nil
	}

	configBytes, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return err
	}

	return sonic.ConfigDefault.Unmarshal(configBytes, target)
}
