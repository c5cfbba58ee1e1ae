package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Naseband/ProcessLoopbackCapture/internal/logging"
)

var log = logging.L("capture")

// Callback receives a half-open, contiguous byte range of captured audio.
// The range must be fully consumed or copied before returning; its backing
// storage is reused immediately afterwards. The callback must not call back
// into the session.
type Callback func(p []byte)

// Delivery timing defaults.
const (
	// DefaultCallbackInterval is the buffered-mode delivery period.
	DefaultCallbackInterval = 100 * time.Millisecond
	// MinCallbackInterval is the floor SetCallbackInterval clamps to.
	MinCallbackInterval = time.Millisecond
	// DefaultResumeSkip is the stretch of audio Resume typically discards:
	// the endpoint keeps some stale frames across a stop/start cycle.
	DefaultResumeSkip = 100 * time.Millisecond
)

// batchWaitTimeout bounds the producer's wait on the endpoint signal so a
// stop request is observed promptly even when no audio arrives.
const batchWaitTimeout = 5 * time.Second

// generation is one producer/delivery thread lifetime. A new generation is
// created on every Start/Resume and fully joined on Pause/Stop, so no two
// producer generations ever run concurrently.
type generation struct {
	done chan struct{}
	wg   sync.WaitGroup
}

func (g *generation) stopped() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Session captures the audio output of one process tree from a loopback
// endpoint. The zero value is not usable; construct with New.
//
// Lifecycle methods (Start, Pause, Resume, Stop) and setters must be called
// from a single owning goroutine, or otherwise serialized by the caller.
// State, MaxIterationTime, TickErrors, DroppedBytes and QueueDepth are safe
// from any goroutine.
type Session struct {
	mu sync.Mutex

	state atomic.Int32

	format    Format
	formatSet bool
	target    Target
	callback  Callback
	interval  time.Duration
	buffered  bool

	activate Activator
	endpoint Endpoint
	gen      *generation
	queue    *TransportQueue

	lastDevErr atomic.Pointer[DeviceError]

	maxTickNanos atomic.Int64
	tickErrors   atomic.Uint64
	dropped      atomic.Uint64
}

// New creates an idle session that acquires its endpoint through activate
// when Start is called. The production activator for Windows is
// wasapi.Activate; tests inject fakes.
func New(activate Activator) *Session {
	return &Session{
		activate: activate,
		interval: DefaultCallbackInterval,
	}
}

// State returns the current lifecycle state. Safe from any goroutine.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SetFormat sets the PCM stream shape. Float encoding forces the bit depth
// to 32. Fails with ErrInvalidState unless the session is Ready.
func (s *Session) SetFormat(f Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return ErrInvalidState
	}
	f = f.withDefaults()
	if err := f.Validate(); err != nil {
		return err
	}
	s.format = f
	s.formatSet = true
	return nil
}

// CaptureFormat copies out the configured format. ok is false if SetFormat
// was never called successfully.
func (s *Session) CaptureFormat() (f Format, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format, s.formatSet
}

// SetTarget selects the process tree to capture. If inclusive is true only
// that tree is captured; otherwise everything on the device except that tree.
// Fails with ErrInvalidState unless the session is Ready.
func (s *Session) SetTarget(pid uint32, inclusive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return ErrInvalidState
	}
	if pid == 0 {
		return ErrInvalidParam
	}
	s.target = Target{PID: pid, Inclusive: inclusive}
	return nil
}

// SetCallback installs the data callback. A nil callback is legal; captured
// data is then discarded. Fails with ErrInvalidState unless Ready.
func (s *Session) SetCallback(cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return ErrInvalidState
	}
	s.callback = cb
	return nil
}

// SetBuffered selects the delivery mode for subsequent captures. In buffered
// mode the callback runs on a separate delivery goroutine at the configured
// interval; in direct mode it runs on the realtime producer goroutine and
// its execution time counts against the endpoint servicing budget.
func (s *Session) SetBuffered(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return ErrInvalidState
	}
	s.buffered = enabled
	return nil
}

// SetCallbackInterval sets the buffered-mode delivery period, clamped to
// MinCallbackInterval. Actual timing is subject to scheduler granularity.
func (s *Session) SetCallbackInterval(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return ErrInvalidState
	}
	if d < MinCallbackInterval {
		d = MinCallbackInterval
	}
	s.interval = d
	return nil
}

// Start acquires the endpoint and begins capturing. It requires a validated
// format and a target. On any endpoint failure the session is fully torn
// down back to Ready, so Start is retry-safe.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return ErrInvalidState
	}
	if !s.formatSet {
		return ErrFormatNotSet
	}
	if s.target.PID == 0 {
		return ErrTargetNotSet
	}

	ep, err := s.activate(s.target.PID, s.target.Inclusive)
	if err != nil {
		return s.startFailed("activate", err, nil)
	}
	if err := ep.Initialize(s.format); err != nil {
		return s.startFailed("initialize", err, ep)
	}
	if err := ep.Start(); err != nil {
		return s.startFailed("start", err, ep)
	}

	s.endpoint = ep
	s.startWorkers(0)
	s.state.Store(int32(StateCapturing))

	log.Info("capture started",
		"pid", s.target.PID,
		"inclusive", s.target.Inclusive,
		"sampleRate", s.format.SampleRate,
		"bitDepth", s.format.BitDepth,
		"channels", s.format.Channels,
		"encoding", s.format.Encoding.String(),
		"buffered", s.buffered,
	)
	return nil
}

// startFailed records the device error, tears the half-built endpoint down
// and leaves the session Ready again.
func (s *Session) startFailed(op string, err error, ep Endpoint) error {
	if ep != nil {
		ep.Close()
	}
	log.Warn("capture start failed", "op", op, "error", err)
	if errors.Is(err, ErrNotAvailable) {
		return err
	}
	de := deviceErr(op, err)
	s.lastDevErr.Store(de)
	return de
}

// Pause stops the endpoint's data flow and joins the worker goroutines. Any
// bytes still in flight (queued or unflushed) are discarded, never delivered.
//
// If the endpoint refuses to stop, the error is returned with the state
// already moved to Paused and the workers still running; Stop remains the
// safe way out of that situation.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateCapturing {
		return ErrInvalidState
	}
	s.state.Store(int32(StatePaused))

	if err := s.endpoint.Stop(); err != nil {
		de := deviceErr("stop", err)
		s.lastDevErr.Store(de)
		return de
	}
	s.stopWorkers()

	log.Debug("capture paused", "pid", s.target.PID)
	return nil
}

// Resume re-arms the endpoint and restarts the workers. skip is the stretch
// of leading audio to discard, converted to whole bytes of the stream; the
// endpoint keeps stale frames across a stop/start cycle, so DefaultResumeSkip
// is a sensible value. Negative values mean zero.
//
// If the endpoint fails to restart, the error is returned with the state
// already moved to Capturing and no workers running; Stop remains safe.
func (s *Session) Resume(skip time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StatePaused {
		return ErrInvalidState
	}
	s.state.Store(int32(StateCapturing))

	if err := s.endpoint.Start(); err != nil {
		de := deviceErr("start", err)
		s.lastDevErr.Store(de)
		return de
	}
	s.startWorkers(s.skipBytes(skip))

	log.Debug("capture resumed", "pid", s.target.PID, "skip", skip)
	return nil
}

// skipBytes converts a duration to a whole number of stream bytes, truncating
// to whole samples first so the skip always ends on a frame boundary.
func (s *Session) skipBytes(skip time.Duration) uint64 {
	if skip <= 0 {
		return 0
	}
	samples := uint64(float64(s.format.SampleRate) * skip.Seconds())
	return samples * uint64(s.format.FrameSize())
}

// Stop ends the capture and releases the endpoint, returning the session to
// Ready. Calling Stop when already Ready returns ErrInvalidState and changes
// nothing.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateReady {
		return ErrInvalidState
	}
	s.reset()

	log.Info("capture stopped", "pid", s.target.PID)
	return nil
}

// reset tears everything down to the initial state. Endpoint errors during
// teardown are deliberately ignored; the session always ends up Ready.
func (s *Session) reset() {
	if s.State() == StateCapturing && s.endpoint != nil {
		// Quiesce the endpoint first so no further signals fire while the
		// workers are joining.
		_ = s.endpoint.Stop()
	}
	s.stopWorkers()

	if s.endpoint != nil {
		_ = s.endpoint.Reset()
		s.endpoint.Close()
		s.endpoint = nil
	}
	s.state.Store(int32(StateReady))
}

// startWorkers launches a fresh producer (and, in buffered mode, delivery)
// generation. The previous generation must already be joined.
func (s *Session) startWorkers(skip uint64) {
	g := &generation{done: make(chan struct{})}
	s.gen = g

	if s.buffered {
		s.queue = NewTransportQueue(s.format.ByteRate())
		sink := &bufferedPath{queue: s.queue, frameSize: s.format.FrameSize(), dropped: &s.dropped}
		g.wg.Add(2)
		go s.produce(g, sink, skip)
		go s.deliverLoop(g, s.queue)
	} else {
		s.queue = nil
		sink := &directPath{callback: s.callback}
		g.wg.Add(1)
		go s.produce(g, sink, skip)
	}
}

// stopWorkers signals the current generation, force-wakes the producer out
// of its endpoint wait, and joins both goroutines. In-flight bytes are
// dropped with the generation.
func (s *Session) stopWorkers() {
	g := s.gen
	if g == nil {
		return
	}
	close(g.done)
	if s.endpoint != nil {
		s.endpoint.Wake()
	}
	g.wg.Wait()
	s.gen = nil
	s.queue = nil
}

// LastDeviceError returns the most recent endpoint failure, or nil. Usage
// errors (ErrInvalidParam, ErrInvalidState, ...) are never recorded here.
func (s *Session) LastDeviceError() *DeviceError {
	return s.lastDevErr.Load()
}

// MaxIterationTime returns the longest single producer wake-up observed
// since the last reset. This is a soft diagnostic; in direct mode it
// includes the callback's own execution time.
func (s *Session) MaxIterationTime() time.Duration {
	return time.Duration(s.maxTickNanos.Load())
}

// ResetMaxIterationTime clears the running maximum.
func (s *Session) ResetMaxIterationTime() {
	s.maxTickNanos.Store(0)
}

// TickErrors returns how many transient endpoint read/release faults were
// absorbed by the producer loop. Such faults end the drain for one wake-up
// only and never change session state.
func (s *Session) TickErrors() uint64 {
	return s.tickErrors.Load()
}

// DroppedBytes returns how many bytes were discarded because the transport
// queue was full. Always zero in direct mode.
func (s *Session) DroppedBytes() uint64 {
	return s.dropped.Load()
}

// QueueDepth returns the approximate number of bytes waiting in the
// transport queue. Fails with ErrNotAvailable unless a buffered capture is
// active.
func (s *Session) QueueDepth() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue == nil {
		return 0, ErrNotAvailable
	}
	return s.queue.Len(), nil
}
