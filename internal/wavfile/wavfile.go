// Package wavfile writes RIFF/WAVE files for a fixed capture format. The
// chunk sizes in the header are back-patched on Close, so the destination
// must be seekable.
package wavfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	formatPCM       = 1
	formatIEEEFloat = 3

	riffSizeOffset = 4  // after "RIFF"
	dataSizeOffset = 40 // after "data"
	headerSize     = 44
)

type Writer struct {
	w       io.WriteSeeker
	written int
	closed  bool
}

// fmtChunk is the canonical 16-byte PCM fmt chunk body.
type fmtChunk struct {
	AudioFormat    uint16
	NumChannels    uint16
	SampleRate     uint32
	ByteRate       uint32
	BlockAlign     uint16
	BitsPerSample  uint16
}

// NewWriter writes the WAV header for the given format and returns a writer
// for the data chunk. Pass float=true for IEEE-float sample data.
func NewWriter(w io.WriteSeeker, sampleRate, bitDepth, channels int, float bool) (*Writer, error) {
	audioFormat := uint16(formatPCM)
	if float {
		audioFormat = formatIEEEFloat
	}

	blockAlign := channels * bitDepth / 8
	chunk := fmtChunk{
		AudioFormat:   audioFormat,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(bitDepth),
	}

	if _, err := w.Write([]byte("RIFF")); err != nil {
		return nil, fmt.Errorf("write riff id: %w", err)
	}
	// Placeholder sizes; fixed up on Close.
	if err := binary.Write(w, binary.LittleEndian, uint32(0)); err != nil {
		return nil, fmt.Errorf("write riff size: %w", err)
	}
	if _, err := w.Write([]byte("WAVEfmt ")); err != nil {
		return nil, fmt.Errorf("write wave id: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return nil, fmt.Errorf("write fmt size: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, chunk); err != nil {
		return nil, fmt.Errorf("write fmt chunk: %w", err)
	}
	if _, err := w.Write([]byte("data")); err != nil {
		return nil, fmt.Errorf("write data id: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(0)); err != nil {
		return nil, fmt.Errorf("write data size: %w", err)
	}

	return &Writer{w: w}, nil
}

// Write appends sample data to the data chunk.
func (wr *Writer) Write(p []byte) (int, error) {
	if wr.closed {
		return 0, fmt.Errorf("wavfile: write after close")
	}
	n, err := wr.w.Write(p)
	wr.written += n
	return n, err
}

// Written returns the number of data bytes written so far.
func (wr *Writer) Written() int {
	return wr.written
}

// Close back-patches the RIFF and data chunk sizes. It does not close the
// underlying writer.
func (wr *Writer) Close() error {
	if wr.closed {
		return nil
	}
	wr.closed = true

	if _, err := wr.w.Seek(riffSizeOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek riff size: %w", err)
	}
	if err := binary.Write(wr.w, binary.LittleEndian, uint32(headerSize-8+wr.written)); err != nil {
		return fmt.Errorf("patch riff size: %w", err)
	}

	if _, err := wr.w.Seek(dataSizeOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek data size: %w", err)
	}
	if err := binary.Write(wr.w, binary.LittleEndian, uint32(wr.written)); err != nil {
		return fmt.Errorf("patch data size: %w", err)
	}

	_, err := wr.w.Seek(0, io.SeekEnd)
	return err
}
