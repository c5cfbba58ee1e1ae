//go:build windows

package wasapi

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// COM vtable calling infrastructure, pure-Go syscall pattern (no cgo).

// comGUID is a COM GUID (128-bit).
type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// comCall invokes a COM vtable method at the given index and returns the raw
// HRESULT. obj is a pointer to a COM interface (pointer to pointer to vtable).
func comCall(obj uintptr, vtableIdx int, args ...uintptr) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	fnPtr := *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(vtableIdx)*unsafe.Sizeof(uintptr(0))))
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	hr, _, _ := syscall.SyscallN(fnPtr, allArgs...)
	return hr
}

// hrFailed reports whether an HRESULT is a failure code.
func hrFailed(hr uintptr) bool {
	return int32(hr) < 0
}

// comRelease calls IUnknown::Release (vtable index 2).
func comRelease(obj uintptr) {
	if obj != 0 {
		comCall(obj, 2)
	}
}

var (
	ole32DLL    = windows.NewLazySystemDLL("ole32.dll")
	mmdevapiDLL = windows.NewLazySystemDLL("mmdevapi.dll")

	procCoInitializeEx              = ole32DLL.NewProc("CoInitializeEx")
	procCoUninitialize              = ole32DLL.NewProc("CoUninitialize")
	procActivateAudioInterfaceAsync = mmdevapiDLL.NewProc("ActivateAudioInterfaceAsync")
)

const (
	coinitMultithreaded = 0x0

	// HRESULTs
	sOK                 = 0x00000000
	eNoInterface        = 0x80004002
	audclntSBufferEmpty = 0x08890001 // success: no frames pending

	// AUDCLNT_SHAREMODE / stream flags
	audclntShareModeShared          = 0
	audclntStreamFlagsLoopback      = 0x00020000
	audclntStreamFlagsEventCallback = 0x00040000
	audclntStreamFlagsAutoConvert   = 0x80000000
	audclntStreamFlagsSRCQuality    = 0x08000000

	// AUDCLNT_BUFFERFLAGS
	audclntBufferFlagsSilent = 0x2

	// WAVEFORMATEX format tags
	waveFormatPCM       = 0x0001
	waveFormatIEEEFloat = 0x0003

	// AUDIOCLIENT_ACTIVATION_TYPE / PROCESS_LOOPBACK_MODE
	activationTypeProcessLoopback = 1
	loopbackModeIncludeTree       = 0
	loopbackModeExcludeTree       = 1

	// PROPVARIANT
	vtBlob = 65
)

// COM vtable indices (IUnknown = 0,1,2; interface methods start at 3).
const (
	// IActivateAudioInterfaceAsyncOperation
	asyncOpGetActivateResult = 3

	// IAudioClient
	audioClientInitialize     = 3
	audioClientStart          = 10 // after GetBufferSize=4 .. GetDevicePeriod=9
	audioClientStop           = 11
	audioClientReset          = 12
	audioClientSetEventHandle = 13
	audioClientGetService     = 14

	// IAudioCaptureClient
	capClientGetBuffer     = 3
	capClientReleaseBuffer = 4
)

var (
	iidIUnknown            = comGUID{0x00000000, 0x0000, 0x0000, [8]byte{0xC0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x46}}
	iidIAgileObject        = comGUID{0x94EA2B94, 0xE9CC, 0x49E0, [8]byte{0xC0, 0xFF, 0xEE, 0x64, 0xCA, 0x8F, 0x5B, 0x90}}
	iidIAudioClient        = comGUID{0x1CB9AD4C, 0xDBFA, 0x4C32, [8]byte{0xB1, 0x78, 0xC2, 0xF5, 0x68, 0xA7, 0x03, 0xB2}}
	iidIAudioCaptureClient = comGUID{0xC8ADBD64, 0xE71E, 0x48A0, [8]byte{0xA4, 0xDE, 0x18, 0x5C, 0x39, 0x5C, 0xD3, 0x17}}

	iidCompletionHandler = comGUID{0x41D949AB, 0x9862, 0x444A, [8]byte{0x80, 0xF6, 0xC2, 0x61, 0x33, 0x4D, 0xA5, 0xEB}}
)

// waveFormatEx matches WAVEFORMATEX.
type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	CbSize         uint16
}

// activationParams matches AUDIOCLIENT_ACTIVATION_PARAMS for the process
// loopback activation type.
type activationParams struct {
	ActivationType  uint32
	TargetProcessID uint32
	LoopbackMode    uint32
}

// propVariantBlob matches PROPVARIANT with vt = VT_BLOB on 64-bit Windows:
// the BLOB's cbSize sits directly after the four reserved words and the data
// pointer is 8-byte aligned after it.
type propVariantBlob struct {
	vt        uint16
	reserved1 uint16
	reserved2 uint16
	reserved3 uint16
	blobSize  uint32
	_         uint32
	blobData  *byte
}
