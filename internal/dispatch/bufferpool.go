// bufferpool reuses the scratch buffer used to encode outbound frames,
// the way the teacher's pkg/websocket message pool reused fixed-size
// buffers across broadcasts. It drops that pool's unsafe
// FastString/FastBytes helpers: nothing downstream needed a zero-copy
// string view onto a pooled buffer, and handing out a slice backed by
// a buffer that gets reset and reused elsewhere before the send
// completes is a use-after-free waiting to happen, so each encode
// still copies its result out before returning the scratch buffer to
// the pool.
package dispatch

import (
	"bytes"
	"encoding/json"
	"sync"
)

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool: sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

// encode marshals v using a pooled scratch buffer and returns an
// owned copy of the result.
func (p *bufferPool) encode(v any) ([]byte, error) {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	defer p.pool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
