package bpe

import "sync"

// maxPooledParts bounds the buffers kept for reuse; very long pieces get a
// fresh allocation that is dropped after the call.
const maxPooledParts = 1024

type partsBuffer struct {
	parts []part
}

// scratchPool hands out boundary buffers for the merge loop. A buffer is
// cleared when acquired and must be released by the same call that acquired
// it, so no state is visible across calls.
type scratchPool struct {
	pool sync.Pool
}

func (p *scratchPool) acquire(n int) *partsBuffer {
	buf, _ := p.pool.Get().(*partsBuffer)
	if buf == nil || cap(buf.parts) < n {
		return &partsBuffer{parts: make([]part, 0, n)}
	}
	clear(buf.parts[:cap(buf.parts)])
	buf.parts = buf.parts[:0]
	return buf
}

func (p *scratchPool) release(buf *partsBuffer) {
	if buf == nil || cap(buf.parts) > maxPooledParts {
		return
	}
	p.pool.Put(buf)
}
