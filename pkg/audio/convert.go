package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts per-channel float32 blocks from a device's native rate to
// another rate. Filter state is carried across calls so consecutive blocks
// resample as one continuous stream; the filter delays output slightly, so the
// first blocks may yield fewer samples than the rate ratio suggests.
//
// Create one per stream; Process is not safe for concurrent use.
type Resampler struct {
	src, dst int
	channels int
	rs       resampling.Resampler

	in  [][]float64 // reused per-channel input
	out [][]float32 // reused per-channel output

	warnOnce sync.Once
}

// NewResampler returns a resampler from src Hz to dst Hz for the given number
// of channels. It returns nil and no error when no conversion is needed.
func NewResampler(src, dst, channels int) (*Resampler, error) {
	if src <= 0 || dst <= 0 || src == dst || channels <= 0 {
		return nil, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(src),
		OutputRate: float64(dst),
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler %s -> %s: %w",
			formatString(src, channels), formatString(dst, channels), err)
	}
	return &Resampler{
		src:      src,
		dst:      dst,
		channels: channels,
		rs:       rs,
		in:       make([][]float64, channels),
		out:      make([][]float32, channels),
	}, nil
}

// Rates returns the source and destination rates.
func (r *Resampler) Rates() (src, dst int) { return r.src, r.dst }

// Process resamples one block per channel. The returned slices are owned by
// the resampler and are only valid until the next call. Blocks whose channel
// lengths differ are truncated to the shortest channel. Blocks with fewer
// channels than configured are returned unchanged.
func (r *Resampler) Process(in [][]float32) [][]float32 {
	if len(in) < r.channels {
		return in
	}
	n := len(in[0])
	for c := 1; c < r.channels; c++ {
		if len(in[c]) != n {
			r.warnOnce.Do(func() {
				slog.Warn("audio resampler: channel blocks differ in length, truncating",
					"format", formatString(r.src, r.channels),
				)
			})
			n = min(n, len(in[c]))
		}
	}
	for c := range r.out {
		r.out[c] = r.out[c][:0]
	}
	if n == 0 {
		return r.out
	}

	for c := range r.in {
		buf := r.in[c][:0]
		for _, v := range in[c][:n] {
			buf = append(buf, float64(v))
		}
		r.in[c] = buf
	}
	// Each channel runs through its own filter chain.
	resampled, err := r.rs.ProcessMulti(r.in)
	if err != nil {
		slog.Warn("audio resampler: block dropped", "err", err)
		return r.out
	}
	frames := len(resampled[0])
	for _, ch := range resampled[1:] {
		frames = min(frames, len(ch))
	}
	for c, ch := range resampled {
		for _, v := range ch[:frames] {
			r.out[c] = append(r.out[c], float32(v))
		}
	}
	return r.out
}

// PCM16 decodes little-endian int16 samples.
func PCM16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

// Deinterleave splits interleaved PCM16 into one slice per channel.
func Deinterleave(pcm []byte, channels int) [][]int16 {
	if channels <= 0 {
		return nil
	}
	samples := PCM16(pcm)
	frames := len(samples) / channels
	out := make([][]int16, channels)
	for c := range out {
		out[c] = make([]int16, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = samples[i*channels+c]
		}
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "16000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
