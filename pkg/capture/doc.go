// Package capture records the audio output of a single process tree from an
// operating-system loopback endpoint and hands the raw PCM bytes to a
// user-supplied callback.
//
// A Session is configured while idle (SetFormat, SetTarget, SetCallback, ...),
// then driven through a small state machine: Ready -> Capturing -> Paused ->
// Capturing -> Ready. All setters fail with ErrInvalidState outside Ready.
//
// Two delivery modes exist:
//
//   - Direct (default): the callback runs on the realtime producer goroutine.
//     The endpoint buffer is typically serviced every ~10ms, so the callback
//     must return well within that budget or frames will be missed.
//   - Buffered (SetBuffered(true)): bytes flow through a bounded
//     single-producer/single-consumer queue and a delivery goroutine invokes
//     the callback on a fixed interval, off the realtime path. Every range
//     delivered in this mode is a whole multiple of the frame size.
//
// The OS endpoint is injected as an Activator so the core stays portable and
// testable; the production Windows implementation lives in the wasapi
// subpackage:
//
//	sess := capture.New(wasapi.Activate)
//	sess.SetFormat(capture.Format{SampleRate: 44100, BitDepth: 16, Channels: 2})
//	sess.SetTarget(pid, true)
//	sess.SetCallback(func(p []byte) { _, _ = f.Write(p) })
//	if err := sess.Start(); err != nil { ... }
//	defer sess.Stop()
//
// The callback must fully consume (or copy) the byte range before returning;
// the backing storage is reused immediately afterwards. It must not call back
// into the session.
package capture
