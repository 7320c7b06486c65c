package audio

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"
)

// FrameEncoder buffers per-channel float32 sample blocks and emits fixed-size
// interleaved PCM16 frames.
//
// Process is called from the real-time audio thread. It never blocks: frames
// are handed to the consumer through a bounded channel and dropped (counted by
// [FrameEncoder.Dropped]) when the consumer falls behind. Process must not be
// called concurrently with itself.
type FrameEncoder struct {
	frameSamples int
	channels     int
	sampleRate   int

	pending [][]float32
	seq     uint64

	out      chan AudioFrame
	detached atomic.Bool
	emitted  atomic.Uint64
	dropped  atomic.Uint64
}

// NewFrameEncoder creates an encoder emitting frames of frameSamples samples
// per channel. queue is the capacity of the frame channel; values below 1 are
// raised to 1.
func NewFrameEncoder(frameSamples, channels, sampleRate, queue int) *FrameEncoder {
	if frameSamples <= 0 {
		frameSamples = FrameSamples
	}
	if channels <= 0 {
		channels = Channels
	}
	if queue < 1 {
		queue = 1
	}
	pending := make([][]float32, channels)
	for i := range pending {
		pending[i] = make([]float32, 0, frameSamples*2)
	}
	return &FrameEncoder{
		frameSamples: frameSamples,
		channels:     channels,
		sampleRate:   sampleRate,
		pending:      pending,
		out:          make(chan AudioFrame, queue),
	}
}

// Frames returns the channel frames are delivered on. The channel is never
// closed; consumers stop reading once the capture is stopped.
func (e *FrameEncoder) Frames() <-chan AudioFrame { return e.out }

// Emitted returns the number of frames handed to the consumer.
func (e *FrameEncoder) Emitted() uint64 { return e.emitted.Load() }

// Dropped returns the number of completed frames discarded because the frame
// channel was full.
func (e *FrameEncoder) Dropped() uint64 { return e.dropped.Load() }

// Detach makes every later Process call a no-op. It is safe to call from any
// goroutine.
func (e *FrameEncoder) Detach() { e.detached.Store(true) }

// Process appends one block per channel and emits every frame that became
// complete. Blocks with fewer channels than configured are skipped; extra
// channels are ignored.
func (e *FrameEncoder) Process(in [][]float32) {
	if e.detached.Load() || len(in) < e.channels {
		return
	}
	for c := 0; c < e.channels; c++ {
		e.pending[c] = append(e.pending[c], in[c]...)
	}

	for e.ready() {
		data := EncodeFrame(e.pending, e.frameSamples)
		for c := 0; c < e.channels; c++ {
			n := copy(e.pending[c], e.pending[c][e.frameSamples:])
			e.pending[c] = e.pending[c][:n]
		}

		frame := AudioFrame{
			Data:       data,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			Seq:        e.seq,
		}
		if e.sampleRate > 0 {
			frame.Timestamp = time.Duration(e.seq) * time.Duration(e.frameSamples) * time.Second / time.Duration(e.sampleRate)
		}
		e.seq++

		select {
		case e.out <- frame:
			e.emitted.Add(1)
		default:
			e.dropped.Add(1)
		}
	}
}

// ready reports whether every channel holds at least one full frame.
func (e *FrameEncoder) ready() bool {
	for c := 0; c < e.channels; c++ {
		if len(e.pending[c]) < e.frameSamples {
			return false
		}
	}
	return true
}

// EncodeFrame quantizes the first n samples of every channel in chans and
// interleaves them as little-endian int16: ch0[0], ch1[0], ch0[1], ch1[1], …
// Every channel must hold at least n samples.
func EncodeFrame(chans [][]float32, n int) []byte {
	channels := len(chans)
	out := make([]byte, n*channels*BytesPerSample)
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * BytesPerSample
			binary.LittleEndian.PutUint16(out[off:], uint16(QuantizeSample(chans[c][i])))
		}
	}
	return out
}

// QuantizeSample converts a float sample to int16. s is clamped to [-1, 1];
// negative values scale by 32768 and non-negative values by 32767 so both ends
// of the two's-complement range are reachable.
func QuantizeSample(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}
