package capture

import "time"

// Batch is one contiguous run of whole frames read from the endpoint.
// Data remains valid only until the matching ReleaseBatch call; consumers
// must copy or fully process it before releasing.
type Batch struct {
	Data   []byte
	Frames int
}

// Endpoint is the OS audio collaborator as consumed by the session: a source
// of discrete frame batches signaled by an event, plus start/stop/reset
// controls. Implementations must tolerate WaitBatch/NextBatch/ReleaseBatch
// being driven from a single dedicated goroutine that is not the one that
// activated the endpoint.
type Endpoint interface {
	// Initialize prepares the endpoint for the given stream format.
	Initialize(f Format) error

	// Start begins data flow. Also used to re-arm after a pause; any stale
	// ready-signal from before the pause is cleared first.
	Start() error
	// Stop halts data flow without releasing the endpoint.
	Stop() error
	// Reset discards any frames the endpoint still holds.
	Reset() error

	// WaitBatch blocks until new frames are signaled, Wake is called, or the
	// timeout elapses. It returns true only when the signal fired.
	WaitBatch(timeout time.Duration) bool
	// Wake force-signals WaitBatch so a stop request is observed promptly.
	Wake()

	// NextBatch returns the next pending frame batch, or ErrNoBatch when the
	// endpoint currently has none. Any other error aborts the drain loop for
	// this wake-up only.
	NextBatch() (Batch, error)
	// ReleaseBatch returns the batch storage to the endpoint.
	ReleaseBatch(frames int) error

	// Close releases the endpoint entirely. The endpoint must not be used
	// afterwards.
	Close()
}

// ThreadBinder is optionally implemented by endpoints that need the producer
// goroutine pinned to an OS thread (e.g. for COM apartment rules). BindThread
// is called once at the top of the producer loop; the returned func undoes
// the binding when the loop exits.
type ThreadBinder interface {
	BindThread() (unbind func())
}

// Activator acquires an endpoint for the given target process. It may block
// for a typically-sub-second duration. Failures are reported as *DeviceError.
type Activator func(pid uint32, inclusive bool) (Endpoint, error)
