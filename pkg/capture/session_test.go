package capture

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeEndpoint is an in-memory Endpoint driven by the tests: feed() queues a
// frame batch and fires the ready signal, exactly like the device event.
type fakeEndpoint struct {
	mu      sync.Mutex
	batches [][]byte
	nextErr error // returned once by NextBatch instead of a batch

	signal chan struct{}

	frameSize int
	starts    int
	stops     int
	resets    int
	closed    bool

	failInit  error
	failStart error
	failStop  error
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{signal: make(chan struct{}, 1)}
}

func (e *fakeEndpoint) activator(pid uint32, inclusive bool) (Endpoint, error) {
	return e, nil
}

func (e *fakeEndpoint) feed(p []byte) {
	e.mu.Lock()
	e.batches = append(e.batches, p)
	e.mu.Unlock()
	e.Wake()
}

func (e *fakeEndpoint) failNext(err error) {
	e.mu.Lock()
	e.nextErr = err
	e.mu.Unlock()
	e.Wake()
}

func (e *fakeEndpoint) Initialize(f Format) error {
	e.frameSize = f.FrameSize()
	return e.failInit
}

func (e *fakeEndpoint) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failStart != nil {
		return e.failStart
	}
	e.starts++
	return nil
}

func (e *fakeEndpoint) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failStop != nil {
		return e.failStop
	}
	e.stops++
	return nil
}

func (e *fakeEndpoint) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
	e.batches = nil
	return nil
}

func (e *fakeEndpoint) WaitBatch(timeout time.Duration) bool {
	select {
	case <-e.signal:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *fakeEndpoint) Wake() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *fakeEndpoint) NextBatch() (Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextErr != nil {
		err := e.nextErr
		e.nextErr = nil
		return Batch{}, err
	}
	if len(e.batches) == 0 {
		return Batch{}, ErrNoBatch
	}
	data := e.batches[0]
	e.batches = e.batches[1:]
	return Batch{Data: data, Frames: len(data) / e.frameSize}, nil
}

func (e *fakeEndpoint) ReleaseBatch(frames int) error {
	return nil
}

func (e *fakeEndpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// collector gathers callback output across goroutines.
type collector struct {
	mu    sync.Mutex
	data  []byte
	sizes []int
}

func (c *collector) cb(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, p...)
	c.sizes = append(c.sizes, len(p))
}

func (c *collector) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.data...)
}

func (c *collector) waitLen(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.bytes()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d callback bytes, have %d", n, len(c.bytes()))
}

var testFormat = Format{SampleRate: 1000, BitDepth: 16, Channels: 2} // frame size 4

func newTestSession(t *testing.T, ep *fakeEndpoint, col *collector, buffered bool) *Session {
	t.Helper()
	s := New(ep.activator)
	if err := s.SetFormat(testFormat); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := s.SetTarget(1234, true); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if err := s.SetBuffered(buffered); err != nil {
		t.Fatalf("SetBuffered: %v", err)
	}
	if err := s.SetCallbackInterval(MinCallbackInterval); err != nil {
		t.Fatalf("SetCallbackInterval: %v", err)
	}
	if col != nil {
		if err := s.SetCallback(col.cb); err != nil {
			t.Fatalf("SetCallback: %v", err)
		}
	}
	return s
}

func pattern(n, offset int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(offset + i)
	}
	return p
}

func TestSettersRejectedWhileCapturing(t *testing.T) {
	ep := newFakeEndpoint()
	s := newTestSession(t, ep, nil, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.SetFormat(testFormat); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetFormat while capturing = %v, want ErrInvalidState", err)
	}
	if err := s.SetTarget(99, true); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetTarget while capturing = %v, want ErrInvalidState", err)
	}
	if err := s.SetCallback(nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetCallback while capturing = %v, want ErrInvalidState", err)
	}
	if err := s.SetBuffered(true); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetBuffered while capturing = %v, want ErrInvalidState", err)
	}
	if err := s.SetCallbackInterval(time.Second); !errors.Is(err, ErrInvalidState) {
		t.Errorf("SetCallbackInterval while capturing = %v, want ErrInvalidState", err)
	}
}

func TestSetFormatNormalizesFloat(t *testing.T) {
	s := New(newFakeEndpoint().activator)
	err := s.SetFormat(Format{SampleRate: 48000, BitDepth: 16, Channels: 2, Encoding: EncodingFloat})
	if err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	f, ok := s.CaptureFormat()
	if !ok {
		t.Fatal("CaptureFormat reported unset after successful SetFormat")
	}
	if f.BitDepth != 32 {
		t.Fatalf("stored BitDepth = %d, want 32 for float", f.BitDepth)
	}
}

func TestSetTargetRejectsZeroPID(t *testing.T) {
	s := New(newFakeEndpoint().activator)
	if err := s.SetTarget(0, true); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("SetTarget(0) = %v, want ErrInvalidParam", err)
	}
}

func TestStartRequiresFormatThenTarget(t *testing.T) {
	s := New(newFakeEndpoint().activator)
	if err := s.Start(); !errors.Is(err, ErrFormatNotSet) {
		t.Fatalf("Start without format = %v, want ErrFormatNotSet", err)
	}
	if err := s.SetFormat(testFormat); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrTargetNotSet) {
		t.Fatalf("Start without target = %v, want ErrTargetNotSet", err)
	}
}

func TestStartFailureLeavesSessionReady(t *testing.T) {
	ep := newFakeEndpoint()
	ep.failStart = &DeviceError{Op: "Start", Code: 0x88890004}
	s := newTestSession(t, ep, nil, false)

	err := s.Start()
	var de *DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("Start = %v, want *DeviceError", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %v after failed Start, want ready", s.State())
	}
	if !ep.closed {
		t.Fatal("half-built endpoint was not closed")
	}
	if s.LastDeviceError() == nil {
		t.Fatal("LastDeviceError not recorded")
	}

	// The session must be fully reusable.
	ep2 := newFakeEndpoint()
	s2 := newTestSession(t, ep2, nil, false)
	if err := s2.Start(); err != nil {
		t.Fatalf("Start on fresh endpoint: %v", err)
	}
	s2.Stop()
}

func TestActivateNotAvailablePassesThrough(t *testing.T) {
	s := New(func(pid uint32, inclusive bool) (Endpoint, error) {
		return nil, ErrNotAvailable
	})
	if err := s.SetFormat(testFormat); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := s.SetTarget(1, true); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("Start = %v, want ErrNotAvailable", err)
	}
	if s.LastDeviceError() != nil {
		t.Fatal("ErrNotAvailable must not be recorded as a device error")
	}
}

func TestDirectDelivery(t *testing.T) {
	ep := newFakeEndpoint()
	var col collector
	s := newTestSession(t, ep, &col, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ep.feed(pattern(400, 0))
	ep.feed(pattern(400, 400))

	col.waitLen(t, 800)
	want := append(pattern(400, 0), pattern(400, 400)...)
	if !bytes.Equal(col.bytes(), want) {
		t.Fatal("delivered bytes differ from fed bytes")
	}
	if s.MaxIterationTime() <= 0 {
		t.Error("MaxIterationTime not updated after a wake-up")
	}
}

func TestBufferedDelivery(t *testing.T) {
	ep := newFakeEndpoint()
	var col collector
	s := newTestSession(t, ep, &col, true)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	const total = 4096
	for off := 0; off < total; off += 256 {
		ep.feed(pattern(256, off))
	}

	col.waitLen(t, total)
	if !bytes.Equal(col.bytes(), pattern(total, 0)) {
		t.Fatal("delivered bytes differ from fed bytes")
	}

	// Each delivery must be a whole number of frames.
	col.mu.Lock()
	defer col.mu.Unlock()
	for i, n := range col.sizes {
		if n%testFormat.FrameSize() != 0 {
			t.Fatalf("delivery %d has unaligned length %d", i, n)
		}
	}
}

func TestQueueDepth(t *testing.T) {
	ep := newFakeEndpoint()
	s := newTestSession(t, ep, nil, false)

	if _, err := s.QueueDepth(); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("QueueDepth while idle = %v, want ErrNotAvailable", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if _, err := s.QueueDepth(); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("QueueDepth in direct mode = %v, want ErrNotAvailable", err)
	}

	ep2 := newFakeEndpoint()
	s2 := newTestSession(t, ep2, nil, true)
	if err := s2.Start(); err != nil {
		t.Fatalf("Start buffered: %v", err)
	}
	defer s2.Stop()
	if _, err := s2.QueueDepth(); err != nil {
		t.Fatalf("QueueDepth in buffered mode: %v", err)
	}
}

func TestPauseResumeLifecycle(t *testing.T) {
	ep := newFakeEndpoint()
	var col collector
	s := newTestSession(t, ep, &col, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if s.State() != StatePaused {
		t.Fatalf("state = %v after Pause, want paused", s.State())
	}
	if err := s.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double Pause = %v, want ErrInvalidState", err)
	}

	if err := s.Resume(0); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if s.State() != StateCapturing {
		t.Fatalf("state = %v after Resume, want capturing", s.State())
	}
	if err := s.Resume(0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Resume while capturing = %v, want ErrInvalidState", err)
	}

	// Capture still works after the pause cycle.
	ep.feed(pattern(400, 0))
	col.waitLen(t, 400)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if ep.stops < 2 { // one from Pause, one from Stop
		t.Fatalf("endpoint stops = %d, want at least 2", ep.stops)
	}
}

func TestPauseDiscardsInFlightBytes(t *testing.T) {
	ep := newFakeEndpoint()
	var col collector
	s := newTestSession(t, ep, &col, true)
	// A long interval keeps the delivery goroutine asleep so fed bytes stay
	// queued until the pause.
	if err := s.SetCallbackInterval(time.Hour); err != nil {
		t.Fatalf("SetCallbackInterval: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ep.feed(pattern(400, 0))
	// Wait until the producer has moved the batch into the queue.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if depth, err := s.QueueDepth(); err == nil && depth >= 400 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := col.bytes(); len(got) != 0 {
		t.Fatalf("%d bytes delivered across a pause, want 0", len(got))
	}
	if _, err := s.QueueDepth(); !errors.Is(err, ErrNotAvailable) {
		t.Fatal("queue survived the pause")
	}
}

func TestResumeSkipDiscardsLeadingAudio(t *testing.T) {
	ep := newFakeEndpoint()
	var col collector
	s := newTestSession(t, ep, &col, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	// 100ms at 1000 Hz and frame size 4 is exactly 400 bytes of skip.
	if err := s.Resume(100 * time.Millisecond); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	for off := 0; off < 600; off += 100 {
		ep.feed(pattern(100, off))
	}

	col.waitLen(t, 200)
	if !bytes.Equal(col.bytes(), pattern(200, 400)) {
		t.Fatal("delivered bytes are not the post-skip suffix")
	}
}

func TestStopWhenReadyIsInvalid(t *testing.T) {
	s := New(newFakeEndpoint().activator)
	if err := s.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Stop while ready = %v, want ErrInvalidState", err)
	}
}

func TestStopReleasesEndpointAndReconfigures(t *testing.T) {
	ep := newFakeEndpoint()
	s := newTestSession(t, ep, nil, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if s.State() != StateReady {
		t.Fatalf("state = %v after Stop, want ready", s.State())
	}
	if !ep.closed {
		t.Fatal("endpoint not closed by Stop")
	}
	if ep.resets != 1 {
		t.Fatalf("endpoint resets = %d, want 1", ep.resets)
	}

	// All setters are legal again.
	if err := s.SetFormat(testFormat); err != nil {
		t.Fatalf("SetFormat after Stop: %v", err)
	}
	if err := s.SetTarget(42, false); err != nil {
		t.Fatalf("SetTarget after Stop: %v", err)
	}
}

func TestStopFromPaused(t *testing.T) {
	ep := newFakeEndpoint()
	s := newTestSession(t, ep, nil, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop from paused: %v", err)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %v, want ready", s.State())
	}
}

func TestTickErrorsCountedNotFatal(t *testing.T) {
	ep := newFakeEndpoint()
	var col collector
	s := newTestSession(t, ep, &col, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ep.failNext(&DeviceError{Op: "GetBuffer", Code: 0x88890007})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.TickErrors() == 0 {
		time.Sleep(time.Millisecond)
	}
	if s.TickErrors() != 1 {
		t.Fatalf("TickErrors = %d, want 1", s.TickErrors())
	}
	if s.State() != StateCapturing {
		t.Fatalf("state = %v after tick error, want capturing", s.State())
	}

	// The next wake-up delivers normally.
	ep.feed(pattern(400, 0))
	col.waitLen(t, 400)
}

func TestNilCallbackDiscardsData(t *testing.T) {
	ep := newFakeEndpoint()
	s := newTestSession(t, ep, nil, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ep.feed(pattern(400, 0))

	// Give the producer time to process; nothing should crash.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.MaxIterationTime() == 0 {
		time.Sleep(time.Millisecond)
	}
	if s.MaxIterationTime() <= 0 {
		t.Fatal("producer never processed the batch")
	}
}

func TestResetMaxIterationTime(t *testing.T) {
	ep := newFakeEndpoint()
	var col collector
	s := newTestSession(t, ep, &col, false)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ep.feed(pattern(400, 0))
	col.waitLen(t, 400)

	if s.MaxIterationTime() <= 0 {
		t.Fatal("MaxIterationTime not set")
	}
	s.ResetMaxIterationTime()
	if s.MaxIterationTime() != 0 {
		t.Fatal("MaxIterationTime not cleared")
	}
}

func TestStateReadsAreRaceFree(t *testing.T) {
	ep := newFakeEndpoint()
	s := newTestSession(t, ep, nil, false)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_ = s.State()
				_ = s.MaxIterationTime()
				_ = s.TickErrors()
				_ = s.DroppedBytes()
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		if err := s.Start(); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if err := s.Pause(); err != nil {
			t.Fatalf("Pause %d: %v", i, err)
		}
		if err := s.Resume(0); err != nil {
			t.Fatalf("Resume %d: %v", i, err)
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()
}
