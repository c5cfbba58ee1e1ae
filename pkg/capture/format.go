package capture

// Encoding selects the PCM sample representation of a capture stream.
type Encoding int

const (
	// EncodingPCM is integer PCM at the configured bit depth.
	EncodingPCM Encoding = iota
	// EncodingFloat is 32-bit IEEE float PCM. The bit depth is always 32
	// in this encoding, regardless of what the caller asked for.
	EncodingFloat
)

func (e Encoding) String() string {
	switch e {
	case EncodingPCM:
		return "pcm"
	case EncodingFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Supported format bounds.
const (
	MinSampleRate = 1000
	MaxSampleRate = 384000
	MaxBitDepth   = 32
	MinChannels   = 1
	MaxChannels   = 1024
)

// Format describes the shape of the PCM stream the endpoint is asked to
// produce. It is set once while the session is idle and immutable while
// capturing.
type Format struct {
	SampleRate int      // Hz
	BitDepth   int      // bits per sample, byte-aligned (8/16/24/32)
	Channels   int      // interleaved channel count
	Encoding   Encoding // integer PCM or IEEE float
}

// FrameSize returns the size in bytes of one frame (one sample per channel).
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}

// ByteRate returns the stream data rate in bytes per second.
func (f Format) ByteRate() int {
	return f.SampleRate * f.FrameSize()
}

// withDefaults normalizes the format the way the endpoint expects it:
// float streams are always 32-bit.
func (f Format) withDefaults() Format {
	if f.Encoding == EncodingFloat {
		f.BitDepth = 32
	}
	return f
}

// Validate reports whether the format can be used for capture.
func (f Format) Validate() error {
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return ErrInvalidParam
	}
	if f.BitDepth == 0 || f.BitDepth > MaxBitDepth || f.BitDepth%8 != 0 {
		return ErrInvalidParam
	}
	if f.Channels < MinChannels || f.Channels > MaxChannels {
		return ErrInvalidParam
	}
	switch f.Encoding {
	case EncodingPCM:
	case EncodingFloat:
		if f.BitDepth != 32 {
			return ErrInvalidParam
		}
	default:
		return ErrInvalidParam
	}
	return nil
}

// Target identifies the process tree whose audio is captured.
type Target struct {
	// PID is the target process id. Child processes are always considered
	// part of the target.
	PID uint32
	// Inclusive selects between capturing only this process tree (true) and
	// capturing everything on the device except this process tree (false).
	Inclusive bool
}
