// Package memopt provides memory-conscious handling of embedding data:
// scalar quantization of float vectors, resident-memory monitoring, and
// GC pacing for long-running retrieval workloads.
package memopt

import (
	"math"
	"time"

	"github.com/fathomsearch/fathom/internal/telemetry"
)

// Supported quantization bit depths.
const (
	Bits8  = 8
	Bits16 = 16
)

// QuantizedEmbedding holds the compressed codes for one vector together with
// the parameters needed to invert the mapping.
//
// Invariant: Dequantize(Quantize(v)) differs from v by at most Scale per
// element.
type QuantizedEmbedding struct {
	// Codes8 holds the codes for 8-bit quantization.
	Codes8 []uint8

	// Codes16 holds the codes for 16-bit quantization.
	Codes16 []uint16

	// Raw holds the unmodified vector when quantization was skipped
	// (unsupported bit depth). Bits is 0 in that case.
	Raw []float32

	// Bits is the element width actually used (8, 16, or 0 for passthrough).
	Bits int

	// Min is the minimum input value; codes decode as Min + code*Scale.
	Min float32

	// Max is the maximum input value, kept for diagnostics.
	Max float32

	// Scale is the step between adjacent codes.
	Scale float32
}

// Dim returns the vector dimension.
func (q *QuantizedEmbedding) Dim() int {
	switch q.Bits {
	case Bits8:
		return len(q.Codes8)
	case Bits16:
		return len(q.Codes16)
	default:
		return len(q.Raw)
	}
}

// CompressedBytes returns the storage size of the codes.
func (q *QuantizedEmbedding) CompressedBytes() int {
	switch q.Bits {
	case Bits8:
		return len(q.Codes8)
	case Bits16:
		return 2 * len(q.Codes16)
	default:
		return 4 * len(q.Raw)
	}
}

// QuantizationStat records one quantize call for the rolling history.
type QuantizationStat struct {
	CompressionRatio float64       `json:"compression_ratio"`
	BytesSaved       int           `json:"bytes_saved"`
	Latency          time.Duration `json:"latency"`
}

// Quantizer performs lossy scalar quantization of embedding vectors using a
// single min/max range over the whole vector. It keeps a bounded rolling
// history of compression statistics.
type Quantizer struct {
	stats *telemetry.Ring[QuantizationStat]
}

// NewQuantizer creates a quantizer with a default stats history.
func NewQuantizer() *Quantizer {
	return &Quantizer{stats: telemetry.NewRing[QuantizationStat](telemetry.DefaultHistoryCap)}
}

// Quantize compresses v into bits-wide unsigned codes. For unsupported bit
// depths the vector is passed through unmodified (Bits=0) rather than
// failing: the caller keeps working with uncompressed data.
func (q *Quantizer) Quantize(v []float32, bits int) *QuantizedEmbedding {
	start := time.Now()
	out := quantize(v, bits)
	q.record(len(v), out, time.Since(start))
	return out
}

func quantize(v []float32, bits int) *QuantizedEmbedding {
	if bits != Bits8 && bits != Bits16 {
		raw := make([]float32, len(v))
		copy(raw, v)
		return &QuantizedEmbedding{Raw: raw, Scale: 1}
	}
	if len(v) == 0 {
		return &QuantizedEmbedding{Bits: bits, Scale: 1}
	}

	min, max := v[0], v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}

	levels := float64(uint64(1)<<bits - 1)
	scale := float32((float64(max) - float64(min)) / levels)
	if max == min {
		scale = 1
	}

	out := &QuantizedEmbedding{Bits: bits, Min: min, Max: max, Scale: scale}
	switch bits {
	case Bits8:
		out.Codes8 = make([]uint8, len(v))
		for i, x := range v {
			out.Codes8[i] = uint8(math.Round(float64((x - min) / scale)))
		}
	case Bits16:
		out.Codes16 = make([]uint16, len(v))
		for i, x := range v {
			out.Codes16[i] = uint16(math.Round(float64((x - min) / scale)))
		}
	}
	return out
}

// Dequantize reconstructs the float vector from the codes. Passthrough data
// is returned as a copy.
func (q *Quantizer) Dequantize(e *QuantizedEmbedding) []float32 {
	switch e.Bits {
	case Bits8:
		out := make([]float32, len(e.Codes8))
		for i, c := range e.Codes8 {
			out[i] = e.Min + float32(c)*e.Scale
		}
		return out
	case Bits16:
		out := make([]float32, len(e.Codes16))
		for i, c := range e.Codes16 {
			out[i] = e.Min + float32(c)*e.Scale
		}
		return out
	default:
		out := make([]float32, len(e.Raw))
		copy(out, e.Raw)
		return out
	}
}

func (q *Quantizer) record(dim int, e *QuantizedEmbedding, latency time.Duration) {
	original := 4 * dim
	compressed := e.CompressedBytes()
	ratio := 1.0
	if compressed > 0 {
		ratio = float64(original) / float64(compressed)
	}
	q.stats.Push(QuantizationStat{
		CompressionRatio: ratio,
		BytesSaved:       original - compressed,
		Latency:          latency,
	})
}

// QuantizerStats aggregates the rolling history.
type QuantizerStats struct {
	Calls           int           `json:"calls"`
	AvgRatio        float64       `json:"avg_ratio"`
	TotalBytesSaved int64         `json:"total_bytes_saved"`
	AvgLatency      time.Duration `json:"avg_latency"`
}

// Stats summarizes the recent quantize calls (bounded window).
func (q *Quantizer) Stats() QuantizerStats {
	hist := q.stats.Snapshot()
	out := QuantizerStats{Calls: len(hist)}
	if len(hist) == 0 {
		return out
	}
	var ratio float64
	var latency time.Duration
	for _, s := range hist {
		ratio += s.CompressionRatio
		out.TotalBytesSaved += int64(s.BytesSaved)
		latency += s.Latency
	}
	out.AvgRatio = ratio / float64(len(hist))
	out.AvgLatency = latency / time.Duration(len(hist))
	return out
}
