package events

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// Kind discriminates queued item variants. Every item is either a parsed
// WebSocket frame or the terminal HTTP result for a query; there is no
// untyped escape hatch.
type Kind uint8

const (
	// KindFrame is a parsed WebSocket frame, dispatched by FrameType.
	KindFrame Kind = iota + 1
	// KindFinal is the HTTP response body that terminates a query.
	KindFinal
)

// Item is one queued stream item. Payload may be backed by a pooled
// buffer; the queue calls Done after the handler returns, so handlers
// must not retain Payload past their own return.
type Item struct {
	Kind    Kind
	QueryID string

	// FrameType and Timestamp are set for KindFrame items only.
	FrameType string
	Timestamp string

	// Payload is the frame's data object (KindFrame) or the raw HTTP
	// response body (KindFinal).
	Payload []byte

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases pooled resources. Called exactly once by the drain loop;
// safe to call again.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) <= maxPooledBuffer {
				bytebufferpool.Put(it.buf)
			}
			it.buf = nil
		}
		it.Payload = nil
	})
}

// maxPooledBuffer caps the size of buffers returned to the pool so a huge
// final result cannot pin resident memory.
const maxPooledBuffer = 256 * 1024
