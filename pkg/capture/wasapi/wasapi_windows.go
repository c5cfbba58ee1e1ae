//go:build windows

package wasapi

import (
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/Naseband/ProcessLoopbackCapture/pkg/capture"
)

// virtualDevicePath is the device interface path of the process-loopback
// virtual audio device (VIRTUAL_AUDIO_DEVICE_PROCESS_LOOPBACK).
const virtualDevicePath = `VAD\Process_Loopback`

// completionHandler is a minimal COM object implementing
// IActivateAudioInterfaceCompletionHandler (and IAgileObject, so the
// apartment does not matter). It signals an event when activation completes,
// turning the async activation into a blocking call. It lives on the stack
// of Activate only; AddRef/Release are no-ops.
type completionHandler struct {
	vtbl *completionHandlerVtbl
	done windows.Handle
}

type completionHandlerVtbl struct {
	QueryInterface    uintptr
	AddRef            uintptr
	Release           uintptr
	ActivateCompleted uintptr
}

var handlerVtbl = completionHandlerVtbl{
	QueryInterface:    syscall.NewCallback(handlerQueryInterface),
	AddRef:            syscall.NewCallback(handlerAddRef),
	Release:           syscall.NewCallback(handlerRelease),
	ActivateCompleted: syscall.NewCallback(handlerActivateCompleted),
}

func handlerQueryInterface(this *completionHandler, riid *comGUID, ppv *uintptr) uintptr {
	if riid == nil || ppv == nil {
		return eNoInterface
	}
	if *riid == iidIUnknown || *riid == iidIAgileObject || *riid == iidCompletionHandler {
		*ppv = uintptr(unsafe.Pointer(this))
		return sOK
	}
	*ppv = 0
	return eNoInterface
}

func handlerAddRef(this *completionHandler) uintptr {
	return 1
}

func handlerRelease(this *completionHandler) uintptr {
	return 0
}

func handlerActivateCompleted(this *completionHandler, op uintptr) uintptr {
	windows.SetEvent(this.done)
	return sOK
}

// Client is the Windows endpoint collaborator: an IAudioClient activated
// against the process-loopback virtual device, plus its IAudioCaptureClient
// and the sample-ready event. All methods report failures as
// *capture.DeviceError carrying the HRESULT.
type Client struct {
	audioClient   uintptr
	captureClient uintptr
	event         windows.Handle
	frameSize     int
	silence       []byte
}

// Activate acquires a process-loopback audio client for the given process
// tree. It blocks until the asynchronous activation completes, typically
// well under a second. The returned endpoint is not initialized yet.
func Activate(pid uint32, inclusive bool) (capture.Endpoint, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// S_FALSE (already initialized) is fine; like the activation itself the
	// MTA stays up for the process lifetime.
	hr, _, _ := procCoInitializeEx.Call(0, coinitMultithreaded)
	if hrFailed(hr) {
		return nil, &capture.DeviceError{Op: "CoInitializeEx", Code: uint32(hr)}
	}

	mode := uint32(loopbackModeIncludeTree)
	if !inclusive {
		mode = loopbackModeExcludeTree
	}
	params := activationParams{
		ActivationType:  activationTypeProcessLoopback,
		TargetProcessID: pid,
		LoopbackMode:    mode,
	}
	pv := propVariantBlob{
		vt:       vtBlob,
		blobSize: uint32(unsafe.Sizeof(params)),
		blobData: (*byte)(unsafe.Pointer(&params)),
	}

	devicePath, err := windows.UTF16PtrFromString(virtualDevicePath)
	if err != nil {
		return nil, &capture.DeviceError{Op: "ActivateAudioInterfaceAsync"}
	}

	doneEvent, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return nil, &capture.DeviceError{Op: "CreateEvent"}
	}
	defer windows.CloseHandle(doneEvent)

	handler := &completionHandler{vtbl: &handlerVtbl, done: doneEvent}

	var op uintptr
	hr, _, _ = procActivateAudioInterfaceAsync.Call(
		uintptr(unsafe.Pointer(devicePath)),
		uintptr(unsafe.Pointer(&iidIAudioClient)),
		uintptr(unsafe.Pointer(&pv)),
		uintptr(unsafe.Pointer(handler)),
		uintptr(unsafe.Pointer(&op)),
	)
	if hrFailed(hr) {
		return nil, &capture.DeviceError{Op: "ActivateAudioInterfaceAsync", Code: uint32(hr)}
	}

	windows.WaitForSingleObject(doneEvent, windows.INFINITE)
	runtime.KeepAlive(handler)
	runtime.KeepAlive(&params)

	var activateHR uint32
	var audioClient uintptr
	hr = comCall(op, asyncOpGetActivateResult,
		uintptr(unsafe.Pointer(&activateHR)),
		uintptr(unsafe.Pointer(&audioClient)),
	)
	comRelease(op)
	if hrFailed(hr) {
		return nil, &capture.DeviceError{Op: "GetActivateResult", Code: uint32(hr)}
	}
	if int32(activateHR) < 0 || audioClient == 0 {
		return nil, &capture.DeviceError{Op: "activation", Code: activateHR}
	}

	return &Client{audioClient: audioClient}, nil
}

// Initialize sets up the shared-mode loopback stream in the requested format
// (the endpoint converts and resamples as needed), acquires the capture
// client and wires the sample-ready event.
func (c *Client) Initialize(f capture.Format) error {
	tag := uint16(waveFormatPCM)
	if f.Encoding == capture.EncodingFloat {
		tag = waveFormatIEEEFloat
	}
	wfx := waveFormatEx{
		FormatTag:      tag,
		Channels:       uint16(f.Channels),
		SamplesPerSec:  uint32(f.SampleRate),
		AvgBytesPerSec: uint32(f.ByteRate()),
		BlockAlign:     uint16(f.FrameSize()),
		BitsPerSample:  uint16(f.BitDepth),
	}

	flags := uintptr(audclntStreamFlagsLoopback |
		audclntStreamFlagsEventCallback |
		audclntStreamFlagsAutoConvert |
		audclntStreamFlagsSRCQuality)

	hr := comCall(c.audioClient, audioClientInitialize,
		audclntShareModeShared,
		flags,
		0, // buffer duration: ignored for process loopback
		0, // periodicity: capture clients must pass 0
		uintptr(unsafe.Pointer(&wfx)),
		0, // session GUID
	)
	if hrFailed(hr) {
		return &capture.DeviceError{Op: "Initialize", Code: uint32(hr)}
	}

	var captureClient uintptr
	hr = comCall(c.audioClient, audioClientGetService,
		uintptr(unsafe.Pointer(&iidIAudioCaptureClient)),
		uintptr(unsafe.Pointer(&captureClient)),
	)
	if hrFailed(hr) {
		return &capture.DeviceError{Op: "GetService", Code: uint32(hr)}
	}
	c.captureClient = captureClient

	event, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return &capture.DeviceError{Op: "CreateEvent"}
	}
	c.event = event

	hr = comCall(c.audioClient, audioClientSetEventHandle, uintptr(event))
	if hrFailed(hr) {
		return &capture.DeviceError{Op: "SetEventHandle", Code: uint32(hr)}
	}

	c.frameSize = f.FrameSize()
	return nil
}

// Start begins (or, after a pause, restarts) data flow. A stale ready-signal
// from before a pause is cleared first.
func (c *Client) Start() error {
	if c.event != 0 {
		windows.ResetEvent(c.event)
	}
	if hr := comCall(c.audioClient, audioClientStart); hrFailed(hr) {
		return &capture.DeviceError{Op: "Start", Code: uint32(hr)}
	}
	return nil
}

// Stop halts data flow without releasing the client.
func (c *Client) Stop() error {
	if hr := comCall(c.audioClient, audioClientStop); hrFailed(hr) {
		return &capture.DeviceError{Op: "Stop", Code: uint32(hr)}
	}
	return nil
}

// Reset discards all pending frames held by the endpoint buffer.
func (c *Client) Reset() error {
	if hr := comCall(c.audioClient, audioClientReset); hrFailed(hr) {
		return &capture.DeviceError{Op: "Reset", Code: uint32(hr)}
	}
	return nil
}

// WaitBatch blocks on the sample-ready event. The event is auto-reset and
// also fired by Wake at stop time.
func (c *Client) WaitBatch(timeout time.Duration) bool {
	ret, _ := windows.WaitForSingleObject(c.event, uint32(timeout.Milliseconds()))
	return ret == windows.WAIT_OBJECT_0
}

// Wake force-signals the sample-ready event.
func (c *Client) Wake() {
	windows.SetEvent(c.event)
}

// NextBatch maps IAudioCaptureClient::GetBuffer. The returned slice views
// the shared endpoint buffer and is valid until ReleaseBatch. Silent-flagged
// packets are substituted with digital silence of the same length.
func (c *Client) NextBatch() (capture.Batch, error) {
	var dataPtr uintptr
	var frames uint32
	var flags uint32

	hr := comCall(c.captureClient, capClientGetBuffer,
		uintptr(unsafe.Pointer(&dataPtr)),
		uintptr(unsafe.Pointer(&frames)),
		uintptr(unsafe.Pointer(&flags)),
		0, // device position
		0, // QPC position
	)
	if hrFailed(hr) {
		return capture.Batch{}, &capture.DeviceError{Op: "GetBuffer", Code: uint32(hr)}
	}
	if hr == audclntSBufferEmpty || frames == 0 {
		if hr == sOK {
			comCall(c.captureClient, capClientReleaseBuffer, 0)
		}
		return capture.Batch{}, capture.ErrNoBatch
	}

	total := int(frames) * c.frameSize
	if flags&audclntBufferFlagsSilent != 0 || dataPtr == 0 {
		if len(c.silence) < total {
			c.silence = make([]byte, total)
		}
		return capture.Batch{Data: c.silence[:total], Frames: int(frames)}, nil
	}
	return capture.Batch{
		Data:   unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), total),
		Frames: int(frames),
	}, nil
}

// ReleaseBatch maps IAudioCaptureClient::ReleaseBuffer.
func (c *Client) ReleaseBatch(frames int) error {
	if hr := comCall(c.captureClient, capClientReleaseBuffer, uintptr(frames)); hrFailed(hr) {
		return &capture.DeviceError{Op: "ReleaseBuffer", Code: uint32(hr)}
	}
	return nil
}

// Close releases all COM interfaces and the event handle.
func (c *Client) Close() {
	if c.captureClient != 0 {
		comRelease(c.captureClient)
		c.captureClient = 0
	}
	if c.audioClient != 0 {
		comRelease(c.audioClient)
		c.audioClient = 0
	}
	if c.event != 0 {
		windows.CloseHandle(c.event)
		c.event = 0
	}
}

// BindThread pins the producer goroutine to its OS thread and initializes
// COM on it for the duration of the capture loop.
func (c *Client) BindThread() func() {
	runtime.LockOSThread()
	procCoInitializeEx.Call(0, coinitMultithreaded)
	return func() {
		procCoUninitialize.Call()
		runtime.UnlockOSThread()
	}
}
