package archive

// streaming.go provides reader wrappers applied to incoming archives:
//
//   - BOMSkippingReader: Removes a UTF-8 BOM (0xEF 0xBB 0xBF) written by
//     Windows editors, which the XML tokenizer would otherwise reject
//   - CountingReader: Counts bytes read and reports progress of long
//     uploads at fixed byte intervals

import (
	"bufio"
	"bytes"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BOMSkippingReader wraps an io.Reader and skips the UTF-8 BOM if present.
type BOMSkippingReader struct {
	reader  *bufio.Reader
	checked bool
}

// NewBOMSkippingReader creates a new BOM-skipping reader.
func NewBOMSkippingReader(r io.Reader) *BOMSkippingReader {
	return &BOMSkippingReader{reader: bufio.NewReader(r)}
}

// Read implements io.Reader. On the first read, it checks for and skips the BOM.
func (r *BOMSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		// A short or failed peek means there is no BOM; any read error
		// resurfaces from the Read below.
		if head, err := r.reader.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			r.reader.Discard(len(utf8BOM))
		}
	}
	return r.reader.Read(p)
}

// CountingReader counts the bytes read from an archive. With OnProgress set
// it calls back each time another step bytes have been read.
type CountingReader struct {
	reader io.Reader
	read   int64
	size   int64

	step   int64
	next   int64
	report func(read, size int64)
}

// NewCountingReader counts reads from r. size is the expected length, or 0
// when unknown.
func NewCountingReader(r io.Reader, size int64) *CountingReader {
	return &CountingReader{reader: r, size: size}
}

// OnProgress registers fn to run after every step bytes. A step <= 0
// disables reporting.
func (r *CountingReader) OnProgress(step int64, fn func(read, size int64)) *CountingReader {
	r.step, r.next, r.report = step, step, fn
	return r
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)
	if r.report != nil && r.step > 0 && r.read >= r.next {
		r.next = (r.read/r.step + 1) * r.step
		r.report(r.read, r.size)
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (r *CountingReader) BytesRead() int64 { return r.read }

// Percent returns read progress against the expected size, or -1 when the
// size is unknown.
func (r *CountingReader) Percent() int {
	if r.size <= 0 {
		return -1
	}
	return int(min(r.read*100/r.size, 100))
}
