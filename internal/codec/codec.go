// Package codec implements the packed vector record wire format described
// in the storage layout: one record is a magnitude-normalized, 8-bit
// quantized embedding followed by its tag set and content, all little
// endian. Encode turns an in-memory Record into bytes; Parse turns bytes
// back into a zero-copy Packed view, and Packed.Distance computes squared
// Euclidean distance against a query vector with the reconstruction fused
// into the accumulation loop — no intermediate []float32 is ever
// materialized for the stored vector.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

// Sentinel errors signaled by Parse. These are internal to the codec/store
// boundary: the store decides, based on whether more bytes might still
// arrive (random-access backend) or EOF has been reached, whether
// ErrShortBuffer means "come back with a bigger chunk" or "the file ends in
// the middle of a record" (the latter becomes a CorruptDatabase error).
var (
	// ErrShortBuffer indicates buf does not yet contain a full record.
	ErrShortBuffer = errors.New("codec: buffer too short for next record")
	// ErrUnsupportedMagnitude indicates a decoded magnitude is NaN or
	// infinite, which never happens for anything Encode produces and so
	// signals a corrupt file.
	ErrUnsupportedMagnitude = errors.New("codec: unsupported magnitude (NaN or Inf)")
)

// Record is the in-memory form of one record before it is packed.
type Record struct {
	Content   string
	Tags      []string
	Embedding []float64
}

const (
	magnitudeWidth = 4
	dimWidth       = 4
	tagCountWidth  = 4
	tagLenWidth    = 2
	contentLenWidth = 4
)

// Size returns the number of bytes Encode(r) would produce.
func Size(r Record) int {
	n := magnitudeWidth + dimWidth + len(r.Embedding) + tagCountWidth
	for _, t := range r.Tags {
		n += tagLenWidth + len(t)
	}
	n += contentLenWidth + len(r.Content)
	return n
}

// Encode serializes r into the packed record wire format.
func Encode(r Record) []byte {
	buf := make([]byte, Size(r))
	off := 0

	magnitude := l2Norm(r.Embedding)
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(magnitude))
	off += magnitudeWidth

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Embedding)))
	off += dimWidth

	for _, v := range r.Embedding {
		buf[off] = byte(quantize(v, magnitude))
		off++
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Tags)))
	off += tagCountWidth
	for _, t := range r.Tags {
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(t)))
		off += tagLenWidth
		off += copy(buf[off:], t)
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Content)))
	off += contentLenWidth
	off += copy(buf[off:], r.Content)

	return buf
}

// l2Norm computes the L2 norm (magnitude) of v as a float32, matching the
// precision the wire format stores.
func l2Norm(v []float64) float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += x * x
	}
	return float32(math32.Sqrt(float32(sumSquares)))
}

// quantize maps a single component to its clamped 8-bit signed
// quantization, given the vector's already-computed magnitude.
func quantize(v float64, magnitude float32) int8 {
	if magnitude == 0 {
		return 0
	}
	scaled := math32.Round((float32(v) / magnitude) * 127)
	return clampInt8(scaled)
}

func clampInt8(v float32) int8 {
	switch {
	case v > 127:
		return 127
	case v < -127:
		return -127
	default:
		return int8(v)
	}
}

// Packed is a zero-copy view over one encoded record within a byte buffer.
// buf holds exactly the record's bytes (length == Len()).
type Packed struct {
	buf        []byte
	dim        int
	tagsOffset int
	tagCount   int
	tagStarts  []int // byte offset of each tag's content, within buf
	tagLens    []int
	contentOff int
	contentLen int
}

// Len returns the total byte length of the record this view covers.
func (p Packed) Len() int {
	return p.contentOff + p.contentLen
}

// Dim returns the embedding dimension declared by this record.
func (p Packed) Dim() int { return p.dim }

// Magnitude returns the stored L2 norm of the original embedding.
func (p Packed) Magnitude() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(p.buf[0:4]))
}

// Content returns the record's content string.
func (p Packed) Content() string {
	return string(p.buf[p.contentOff : p.contentOff+p.contentLen])
}

// Tags returns the record's tag set.
func (p Packed) Tags() []string {
	tags := make([]string, p.tagCount)
	for i := range tags {
		tags[i] = string(p.buf[p.tagStarts[i] : p.tagStarts[i]+p.tagLens[i]])
	}
	return tags
}

// Distance computes the squared Euclidean distance between the stored
// (reconstructed) embedding and query, without ever materializing the
// reconstructed vector: each component is reconstructed and consumed in
// the same loop iteration.
func (p Packed) Distance(query []float32) (float32, error) {
	if len(query) != p.dim {
		return 0, fmt.Errorf("codec: query dimension %d does not match record dimension %d", len(query), p.dim)
	}
	magnitude := p.Magnitude()
	const quantOffset = magnitudeWidth + dimWidth
	var sum float32
	for i := 0; i < p.dim; i++ {
		q := int8(p.buf[quantOffset+i])
		reconstructed := (float32(q) / 127) * magnitude
		d := query[i] - reconstructed
		sum += d * d
	}
	return sum, nil
}

// Parse reads one record starting at the beginning of buf. It returns the
// parsed view and the number of bytes consumed. If buf does not yet hold a
// complete record, it returns ErrShortBuffer; the caller (the store) decides
// whether to fetch more bytes or, if at EOF, treat the tail as corruption.
func Parse(buf []byte) (Packed, int, error) {
	const headerWidth = magnitudeWidth + dimWidth
	if len(buf) < headerWidth {
		return Packed{}, 0, ErrShortBuffer
	}

	magnitude := math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	if math32.IsNaN(magnitude) || math32.IsInf(magnitude, 0) {
		return Packed{}, 0, ErrUnsupportedMagnitude
	}

	dim := int(binary.LittleEndian.Uint32(buf[4:8]))
	off := headerWidth + dim
	if len(buf) < off+tagCountWidth {
		return Packed{}, 0, ErrShortBuffer
	}

	tagCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += tagCountWidth

	tagStarts := make([]int, tagCount)
	tagLens := make([]int, tagCount)
	for i := 0; i < tagCount; i++ {
		if len(buf) < off+tagLenWidth {
			return Packed{}, 0, ErrShortBuffer
		}
		tagLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += tagLenWidth
		if len(buf) < off+tagLen {
			return Packed{}, 0, ErrShortBuffer
		}
		tagStarts[i] = off
		tagLens[i] = tagLen
		off += tagLen
	}

	if len(buf) < off+contentLenWidth {
		return Packed{}, 0, ErrShortBuffer
	}
	contentLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += contentLenWidth

	if len(buf) < off+contentLen {
		return Packed{}, 0, ErrShortBuffer
	}

	p := Packed{
		buf:        buf[:off+contentLen],
		dim:        dim,
		tagsOffset: headerWidth + dim,
		tagCount:   tagCount,
		tagStarts:  tagStarts,
		tagLens:    tagLens,
		contentOff: off,
		contentLen: contentLen,
	}
	return p, p.Len(), nil
}
