package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/asrlink/pkg/audio"
)

func TestQuantizeSample(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"clamp positive", 1.5, 32767},
		{"clamp negative", -1.5, -32768},
		{"half positive", 0.5, 16384},
		{"half negative", -0.5, -16384},
		{"nan", float32(nan()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audio.QuantizeSample(tt.in); got != tt.want {
				t.Errorf("QuantizeSample(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestEncodeFrame_Interleaves(t *testing.T) {
	left := []float32{1, 0, -1}
	right := []float32{-1, 0, 1}
	data := audio.EncodeFrame([][]float32{left, right}, 3)
	if len(data) != 3*2*2 {
		t.Fatalf("len = %d, want 12", len(data))
	}
	got := audio.PCM16(data)
	want := []int16{32767, -32768, 0, 0, -32768, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFrameEncoder_RampProducesFixedFrames(t *testing.T) {
	const (
		blocks   = 40
		blockLen = 128
	)
	enc := audio.NewFrameEncoder(audio.FrameSamples, 2, audio.SampleRate, 64)

	var v float32 = -1
	step := float32(2) / float32(blocks*blockLen)
	for b := 0; b < blocks; b++ {
		left := make([]float32, blockLen)
		right := make([]float32, blockLen)
		for i := range left {
			left[i] = v
			right[i] = v
			v += step
		}
		enc.Process([][]float32{left, right})
	}

	wantFrames := blocks * blockLen / audio.FrameSamples
	if got := int(enc.Emitted()); got != wantFrames {
		t.Fatalf("Emitted() = %d, want %d", got, wantFrames)
	}

	prev := int16(-32768)
	for i := 0; i < wantFrames; i++ {
		var f audio.AudioFrame
		select {
		case f = <-enc.Frames():
		default:
			t.Fatalf("frame %d missing", i)
		}
		if len(f.Data) != audio.FrameSamples*2*2 {
			t.Fatalf("frame %d: len = %d, want %d", i, len(f.Data), audio.FrameSamples*4)
		}
		if f.Seq != uint64(i) {
			t.Errorf("frame %d: Seq = %d", i, f.Seq)
		}
		if want := time.Duration(i) * 40 * time.Millisecond; f.Timestamp != want {
			t.Errorf("frame %d: Timestamp = %v, want %v", i, f.Timestamp, want)
		}
		if f.Duration() != 40*time.Millisecond {
			t.Errorf("frame %d: Duration = %v", i, f.Duration())
		}
		for j, s := range audio.PCM16(f.Data) {
			if s < prev {
				t.Fatalf("frame %d sample %d: %d < previous %d", i, j, s, prev)
			}
			prev = s
		}
	}
}

func TestFrameEncoder_KeepsRemainder(t *testing.T) {
	enc := audio.NewFrameEncoder(4, 2, audio.SampleRate, 8)
	enc.Process([][]float32{{0, 0, 0}, {0, 0, 0}})
	if enc.Emitted() != 0 {
		t.Fatalf("emitted before a full frame: %d", enc.Emitted())
	}
	enc.Process([][]float32{{0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}})
	if enc.Emitted() != 1 {
		t.Fatalf("Emitted() = %d, want 1", enc.Emitted())
	}
	f := <-enc.Frames()
	got := audio.PCM16(f.Data)
	// Three zeros then one 0.5 per channel.
	want := []int16{0, 0, 0, 0, 0, 0, 16384, 16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
	enc.Process([][]float32{{1, 1}, {1, 1}})
	if enc.Emitted() != 2 {
		t.Fatalf("Emitted() = %d, want 2 after remainder completes", enc.Emitted())
	}
}

func TestFrameEncoder_SkipsMissingChannels(t *testing.T) {
	enc := audio.NewFrameEncoder(4, 2, audio.SampleRate, 8)
	enc.Process([][]float32{{1, 1, 1, 1, 1, 1, 1, 1}})
	enc.Process(nil)
	if enc.Emitted() != 0 {
		t.Errorf("Emitted() = %d, want 0 for mono blocks", enc.Emitted())
	}
}

func TestFrameEncoder_IgnoresExtraChannels(t *testing.T) {
	enc := audio.NewFrameEncoder(2, 2, audio.SampleRate, 8)
	enc.Process([][]float32{{1, 1}, {-1, -1}, {0.5, 0.5}})
	f := <-enc.Frames()
	if len(f.Data) != 2*2*2 {
		t.Errorf("len = %d, want 8", len(f.Data))
	}
}

func TestFrameEncoder_DropsWhenQueueFull(t *testing.T) {
	enc := audio.NewFrameEncoder(2, 2, audio.SampleRate, 2)
	block := [][]float32{make([]float32, 10), make([]float32, 10)}
	enc.Process(block) // five frames, queue holds two
	if enc.Emitted() != 2 {
		t.Errorf("Emitted() = %d, want 2", enc.Emitted())
	}
	if enc.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", enc.Dropped())
	}
}

func TestFrameEncoder_Detach(t *testing.T) {
	enc := audio.NewFrameEncoder(2, 2, audio.SampleRate, 8)
	enc.Detach()
	enc.Process([][]float32{{1, 1}, {1, 1}})
	if enc.Emitted() != 0 {
		t.Errorf("Emitted() = %d after Detach, want 0", enc.Emitted())
	}
}
