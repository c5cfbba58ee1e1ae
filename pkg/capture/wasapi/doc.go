// Package wasapi provides the Windows endpoint for process-loopback audio
// capture. It activates an IAudioClient against the virtual process-loopback
// device via ActivateAudioInterfaceAsync and exposes it through the
// capture.Endpoint interface. COM interfaces are driven through raw vtable
// calls so no cgo is required.
package wasapi
