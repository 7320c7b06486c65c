package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/asrlink/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestPCM16(t *testing.T) {
	want := []int16{0, 1, -1, 32767, -32768}
	got := audio.PCM16(samplesToBytes(want))
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16_OddLength(t *testing.T) {
	got := audio.PCM16([]byte{1, 0, 7})
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestDeinterleave(t *testing.T) {
	pcm := samplesToBytes([]int16{1, -1, 2, -2, 3, -3})
	ch := audio.Deinterleave(pcm, 2)
	if len(ch) != 2 {
		t.Fatalf("channels: got %d, want 2", len(ch))
	}
	wantL := []int16{1, 2, 3}
	wantR := []int16{-1, -2, -3}
	for i := range wantL {
		if ch[0][i] != wantL[i] || ch[1][i] != wantR[i] {
			t.Errorf("frame %d: got (%d,%d), want (%d,%d)", i, ch[0][i], ch[1][i], wantL[i], wantR[i])
		}
	}
}

func TestDeinterleave_ZeroChannels(t *testing.T) {
	if got := audio.Deinterleave([]byte{1, 2}, 0); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestNewResampler_SameRate(t *testing.T) {
	if r, err := audio.NewResampler(16000, 16000, 2); r != nil || err != nil {
		t.Errorf("equal rates: got %v, %v; want nil, nil", r, err)
	}
	if r, err := audio.NewResampler(0, 16000, 2); r != nil || err != nil {
		t.Errorf("zero source rate: got %v, %v; want nil, nil", r, err)
	}
}

func newResampler(t *testing.T, src, dst, channels int) *audio.Resampler {
	t.Helper()
	r, err := audio.NewResampler(src, dst, channels)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	if r == nil {
		t.Fatal("NewResampler returned nil")
	}
	return r
}

func TestResampler_Downsample(t *testing.T) {
	r := newResampler(t, 48000, 16000, 2)
	if src, dst := r.Rates(); src != 48000 || dst != 16000 {
		t.Fatalf("Rates() = %d, %d", src, dst)
	}

	const blocks, blockLen = 100, 480
	var total int
	for b := 0; b < blocks; b++ {
		left := make([]float32, blockLen)
		right := make([]float32, blockLen)
		for i := range left {
			left[i] = float32(math.Sin(float64(b*blockLen+i) * 2 * math.Pi * 440 / 48000))
			right[i] = -left[i]
		}
		out := r.Process([][]float32{left, right})
		if len(out) != 2 || len(out[0]) != len(out[1]) {
			t.Fatalf("block %d: mismatched output channels", b)
		}
		total += len(out[0])
	}

	want := blocks * blockLen / 3
	if total < want*9/10 || total > want+blockLen {
		t.Errorf("total output samples: got %d, want ~%d", total, want)
	}
}

func TestResampler_ChannelsStaySeparate(t *testing.T) {
	tests := []struct {
		name        string
		src         int
		left, right float32
	}{
		{name: "32k left only", src: 32000, left: 0.5, right: 0},
		{name: "48k left only", src: 48000, left: 0.8, right: 0},
		{name: "48k opposite levels", src: 48000, left: 0.3, right: -0.6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newResampler(t, tc.src, 16000, 2)
			block := tc.src / 100
			var lastL, lastR float32
			for b := 0; b < 100; b++ {
				left := make([]float32, block)
				right := make([]float32, block)
				for i := range left {
					left[i], right[i] = tc.left, tc.right
				}
				out := r.Process([][]float32{left, right})
				if len(out[0]) != len(out[1]) {
					t.Fatalf("block %d: channel lengths differ: %d vs %d", b, len(out[0]), len(out[1]))
				}
				if n := len(out[0]); n > 0 {
					lastL, lastR = out[0][n-1], out[1][n-1]
				}
			}
			if math.Abs(float64(lastL-tc.left)) > 0.01 {
				t.Errorf("left settled at %f, want %f", lastL, tc.left)
			}
			if math.Abs(float64(lastR-tc.right)) > 0.01 {
				t.Errorf("right settled at %f, want %f", lastR, tc.right)
			}
		})
	}
}

func TestResampler_MismatchedChannels(t *testing.T) {
	r := newResampler(t, 32000, 16000, 2)
	for i := 0; i < 10; i++ {
		out := r.Process([][]float32{make([]float32, 100), make([]float32, 60)})
		if len(out[0]) != len(out[1]) {
			t.Fatalf("channel lengths differ: %d vs %d", len(out[0]), len(out[1]))
		}
	}
}

func TestResampler_ShortBlockPassesThrough(t *testing.T) {
	r := newResampler(t, 48000, 16000, 2)
	in := [][]float32{{1, 2, 3}}
	out := r.Process(in)
	if len(out) != 1 || len(out[0]) != 3 {
		t.Errorf("got %v, want input unchanged", out)
	}
}
