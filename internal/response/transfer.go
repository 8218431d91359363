package response

import (
	"errors"
	"fmt"
	"io"
)

// DefaultBlockSize is the read size used for both identity blocks and chunk frames
const DefaultBlockSize = 1024

var ErrBodyRead = errors.New("response: reading body failed")

// Transfer streams src after the head has been written. Each read of up to len(buf)
// bytes is forwarded as-is: as a raw block in identity mode, as one chunk frame in
// chunked mode. Chunked bodies end with the terminating frame.
func Transfer(w *Writer, src io.Reader, buf []byte) error {
	if len(buf) == 0 {
		buf = make([]byte, DefaultBlockSize)
	}

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := w.writeBlock(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBodyRead, err)
		}
	}

	if w.IsChunked() {
		return w.FinishChunked()
	}
	return nil
}

func (w *Writer) writeBlock(p []byte) error {
	if w.IsChunked() {
		return w.WriteChunk(p)
	}
	return w.WriteBody(p)
}
