package api

import (
	"bytes"
	"io"
	"sync"
)

// Spec and refine requests embed a whole specification, so encoded bodies
// routinely reach tens of kilobytes. Buffers are pooled across requests.
var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// maxPooledBufferSize keeps buffers grown by unusually large specs out of the pool
const maxPooledBufferSize = 256 * 1024

// getBuffer returns an empty buffer. Release it with putBuffer or releaseOnClose.
func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBufferSize {
		return
	}
	bufferPool.Put(buf)
}

// releaseOnClose ties buf to body: the transport may read the request body
// until the response is closed, so the buffer goes back only then.
func releaseOnClose(body io.ReadCloser, buf *bytes.Buffer) io.ReadCloser {
	return &pooledBody{ReadCloser: body, buf: buf}
}

type pooledBody struct {
	io.ReadCloser
	buf *bytes.Buffer
}

func (b *pooledBody) Close() error {
	err := b.ReadCloser.Close()
	if b.buf != nil {
		putBuffer(b.buf)
		b.buf = nil
	}
	return err
}
