// Package wavdump writes captured [audio.AudioFrame] values to a WAV file so a
// recording can be replayed and compared with what the recognition service
// received.
package wavdump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/asrlink/pkg/audio"
)

// ErrFormatMismatch is returned by [Writer.WriteFrame] when a frame's format
// differs from the file's.
var ErrFormatMismatch = errors.New("wavdump: frame format differs from file format")

// Writer appends PCM16 frames to a WAV stream. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	enc    *wav.Encoder
	file   io.Closer // nil when the caller owns the destination
	format audio.Format
	buf    *goaudio.IntBuffer
	frames int
	closed bool
}

// Create creates (or truncates) path and returns a Writer for 16-bit PCM at
// the given format.
func Create(path string, format audio.Format) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavdump: create %s: %w", path, err)
	}
	w := NewWriter(f, format)
	w.file = f
	return w, nil
}

// NewWriter returns a Writer encoding into ws. Close finalises the WAV header
// but does not close ws.
func NewWriter(ws io.WriteSeeker, format audio.Format) *Writer {
	return &Writer{
		enc:    wav.NewEncoder(ws, format.SampleRate, 16, format.Channels, 1),
		format: format,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: format.Channels,
				SampleRate:  format.SampleRate,
			},
			SourceBitDepth: 16,
		},
	}
}

// WriteFrame appends one frame.
func (w *Writer) WriteFrame(f audio.AudioFrame) error {
	if f.SampleRate != w.format.SampleRate || f.Channels != w.format.Channels {
		return fmt.Errorf("%w: got %dHz/%dch, want %dHz/%dch", ErrFormatMismatch,
			f.SampleRate, f.Channels, w.format.SampleRate, w.format.Channels)
	}
	samples := audio.PCM16(f.Data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	w.buf.Data = w.buf.Data[:0]
	for _, s := range samples {
		w.buf.Data = append(w.buf.Data, int(s))
	}
	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("wavdump: write frame %d: %w", f.Seq, err)
	}
	w.frames++
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close finalises the WAV header and closes the file if the Writer created
// it. Calling Close more than once is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	if err := w.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("wavdump: finalize: %w", err))
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("wavdump: close file: %w", err))
		}
	}
	return errors.Join(errs...)
}
