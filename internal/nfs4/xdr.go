package nfs4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// ErrShortBuffer is returned by decode calls that run past the end of the
// input.
var ErrShortBuffer = errors.New("nfs4: short xdr buffer")

// Encoder accumulates a big-endian XDR byte stream, padding opaque data to
// 4-byte boundaries per RFC 4506 §3.9.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the accumulated stream.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Uint32 appends a 4-byte unsigned integer.
func (e *Encoder) Uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

// Uint64 appends an 8-byte unsigned integer.
func (e *Encoder) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// Int64 appends an 8-byte signed integer.
func (e *Encoder) Int64(v int64) {
	e.Uint64(uint64(v))
}

// Opaque appends a length-prefixed, zero-padded-to-4-bytes byte string
// (RFC 4506 §3.9, the `opaque<>` wire type).
func (e *Encoder) Opaque(v []byte) {
	e.Uint32(uint32(len(v)))
	e.buf.Write(v)
	if pad := (4 - len(v)%4) % 4; pad != 0 {
		e.buf.Write(make([]byte, pad))
	}
}

// FixedOpaque appends n raw bytes with no length prefix, still padded to a
// 4-byte boundary (RFC 4506 §3.8, `opaque[n]`). Callers must supply exactly
// n bytes.
func (e *Encoder) FixedOpaque(v []byte) {
	e.buf.Write(v)
	if pad := (4 - len(v)%4) % 4; pad != 0 {
		e.buf.Write(make([]byte, pad))
	}
}

// String appends a length-prefixed UTF-8 string, encoded the same way as
// Opaque.
func (e *Encoder) String(s string) {
	e.Opaque([]byte(s))
}

// Bitmap appends a bitmap4: a length-prefixed array of uint32 words.
func (e *Encoder) Bitmap(words []uint32) {
	e.Uint32(uint32(len(words)))
	for _, w := range words {
		e.Uint32(w)
	}
}

// Raw appends already-encoded bytes verbatim, for splicing in a
// sub-encoder's output (e.g. an attribute value list built separately).
func (e *Encoder) Raw(b []byte) {
	e.buf.Write(b)
}

// Decoder reads sequentially from a big-endian XDR byte stream.
type Decoder struct {
	r *bytes.Reader
}

// NewDecoder wraps b for sequential decoding.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(b)}
}

// Remaining reports how many bytes are left to decode.
func (d *Decoder) Remaining() int {
	return d.r.Len()
}

// rest returns every remaining undecoded byte without advancing past them
// as individually-typed fields; used once the fixed RPC reply header has
// been consumed and what's left is an opaque NFSv4 payload.
func (d *Decoder) rest() []byte {
	buf := make([]byte, d.r.Len())
	_, _ = io.ReadFull(d.r, buf)
	return buf
}

// Uint32 decodes a 4-byte unsigned integer.
func (d *Decoder) Uint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, ErrShortBuffer
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Uint64 decodes an 8-byte unsigned integer.
func (d *Decoder) Uint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, ErrShortBuffer
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Int64 decodes an 8-byte signed integer.
func (d *Decoder) Int64() (int64, error) {
	v, err := d.Uint64()
	return int64(v), err
}

// Opaque decodes a length-prefixed, 4-byte-padded byte string.
func (d *Decoder) Opaque() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, ErrShortBuffer
	}
	if pad := (4 - int(n)%4) % 4; pad != 0 {
		if _, err := d.r.Seek(int64(pad), io.SeekCurrent); err != nil {
			return nil, ErrShortBuffer
		}
	}
	return buf, nil
}

// FixedOpaque decodes n raw bytes with no length prefix, consuming the same
// 4-byte-aligned padding Encoder.FixedOpaque writes.
func (d *Decoder) FixedOpaque(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, ErrShortBuffer
	}
	if pad := (4 - n%4) % 4; pad != 0 {
		if _, err := d.r.Seek(int64(pad), io.SeekCurrent); err != nil {
			return nil, ErrShortBuffer
		}
	}
	return buf, nil
}

// String decodes a length-prefixed UTF-8 string.
func (d *Decoder) String() (string, error) {
	b, err := d.Opaque()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bitmap decodes a bitmap4.
func (d *Decoder) Bitmap() ([]uint32, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	words := make([]uint32, n)
	for i := range words {
		w, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		words[i] = w
	}
	return words, nil
}

// BitmapSet reports whether bit is set in a decoded bitmap4's word array.
func BitmapSet(words []uint32, bit int) bool {
	word, off := bit/32, bit%32
	if word >= len(words) {
		return false
	}
	return words[word]&(1<<uint(off)) != 0
}
