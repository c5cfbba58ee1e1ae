// Package procfind locates capture targets by executable name. Process
// loopback wants the root of a process tree, so besides plain name matching
// it can filter a match set down to top-level processes (those whose parent
// is not itself a match), e.g. the main browser process rather than its
// renderer children.
package procfind

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Naseband/ProcessLoopbackCapture/internal/logging"
)

var log = logging.L("procfind")

// Proc is one matched process.
type Proc struct {
	PID  uint32
	PPID uint32
	Name string
}

// Snapshot lists all running processes. Processes that disappear or deny
// access mid-enumeration are skipped.
func Snapshot() ([]Proc, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	out := make([]Proc, 0, len(procs))
	skipped := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			skipped++
			continue
		}
		ppid, err := p.Ppid()
		if err != nil {
			ppid = 0
		}
		out = append(out, Proc{
			PID:  uint32(p.Pid),
			PPID: uint32(ppid),
			Name: name,
		})
	}

	if skipped > 0 {
		log.Debug("process snapshot skipped processes", "skipped", skipped, "total", len(procs))
	}

	return out, nil
}

// FilterByName returns the processes whose name matches exeName,
// case-insensitively.
func FilterByName(procs []Proc, exeName string) []Proc {
	want := strings.ToLower(exeName)
	var out []Proc
	for _, p := range procs {
		if strings.ToLower(p.Name) == want {
			out = append(out, p)
		}
	}
	return out
}

// TopLevel filters a match set down to processes whose parent is not itself
// in the set. For multi-process applications this keeps only the tree roots.
func TopLevel(matches []Proc) []Proc {
	pids := make(map[uint32]bool, len(matches))
	for _, p := range matches {
		pids[p.PID] = true
	}

	var out []Proc
	for _, p := range matches {
		if !pids[p.PPID] {
			out = append(out, p)
		}
	}
	return out
}

// FindProcessIDs returns the PIDs of all processes named exeName.
func FindProcessIDs(exeName string) ([]uint32, error) {
	snap, err := Snapshot()
	if err != nil {
		return nil, err
	}
	return pidsOf(FilterByName(snap, exeName)), nil
}

// FindTopLevelProcessIDs returns the PIDs of processes named exeName whose
// parent process has a different name. These are the PIDs to hand to a
// process-tree loopback capture.
func FindTopLevelProcessIDs(exeName string) ([]uint32, error) {
	snap, err := Snapshot()
	if err != nil {
		return nil, err
	}
	return pidsOf(TopLevel(FilterByName(snap, exeName))), nil
}

func pidsOf(procs []Proc) []uint32 {
	out := make([]uint32, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.PID)
	}
	return out
}
