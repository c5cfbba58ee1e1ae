package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Naseband/ProcessLoopbackCapture/internal/config"
	"github.com/Naseband/ProcessLoopbackCapture/internal/logging"
	"github.com/Naseband/ProcessLoopbackCapture/internal/wavfile"
	"github.com/Naseband/ProcessLoopbackCapture/pkg/capture"
	"github.com/Naseband/ProcessLoopbackCapture/pkg/capture/wasapi"
	"github.com/Naseband/ProcessLoopbackCapture/pkg/procfind"
)

var (
	outputPath  string
	durationSec int
	excludeTree bool
	directMode  bool
	sampleRate  int
	bitDepth    int
	channels    int
	floatFmt    bool
)

var recordCmd = &cobra.Command{
	Use:   "record [exe-name | pid]",
	Short: "Record a process tree's audio output to a WAV file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := record(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	recordCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output WAV file (default <name>-<timestamp>.wav)")
	recordCmd.Flags().IntVarP(&durationSec, "duration", "d", 0, "stop after this many seconds (0 = until quit)")
	recordCmd.Flags().BoolVar(&excludeTree, "exclude", false, "capture everything except the target process tree")
	recordCmd.Flags().BoolVar(&directMode, "direct", false, "deliver audio from the capture thread instead of the delivery thread")
	recordCmd.Flags().IntVar(&sampleRate, "rate", 0, "sample rate in Hz")
	recordCmd.Flags().IntVar(&bitDepth, "bits", 0, "bits per sample (8, 16, 24, 32)")
	recordCmd.Flags().IntVar(&channels, "channels", 0, "channel count")
	recordCmd.Flags().BoolVar(&floatFmt, "float", false, "capture 32-bit float samples")
}

func record(target string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg)
	cfg.Validate()
	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)

	pid, name, err := resolveTarget(target)
	if err != nil {
		return err
	}

	format := capture.Format{
		SampleRate: cfg.SampleRate,
		BitDepth:   cfg.BitDepth,
		Channels:   cfg.Channels,
		Encoding:   capture.EncodingPCM,
	}
	if strings.EqualFold(cfg.Encoding, "float") {
		format.Encoding = capture.EncodingFloat
	}

	path := outputPath
	if path == "" {
		stamp := time.Now().Format("20060102-150405")
		path = filepath.Join(cfg.OutputDir, fmt.Sprintf("%s-%s.wav", strings.TrimSuffix(name, ".exe"), stamp))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	wav, err := wavfile.NewWriter(f, format.SampleRate, format.BitDepth, format.Channels,
		format.Encoding == capture.EncodingFloat)
	if err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}

	sess := capture.New(wasapi.Activate)
	if err := sess.SetFormat(format); err != nil {
		return fmt.Errorf("set format: %w", err)
	}
	if err := sess.SetTarget(pid, !excludeTree); err != nil {
		return fmt.Errorf("set target: %w", err)
	}
	if err := sess.SetBuffered(cfg.Buffered); err != nil {
		return err
	}
	if err := sess.SetCallbackInterval(time.Duration(cfg.CallbackIntervalMS) * time.Millisecond); err != nil {
		return err
	}
	// Only the capture session's worker invokes the callback, and Stop joins
	// the worker before we close the file, so no locking is needed here.
	if err := sess.SetCallback(func(p []byte) {
		wav.Write(p)
	}); err != nil {
		return err
	}

	if err := sess.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	fmt.Printf("Recording PID %d (%s) to %s\n", pid, name, path)
	fmt.Println("Commands: p = pause/resume, s = stats, q = quit")

	runRecordLoop(sess, cfg)

	if err := sess.Stop(); err != nil && !errors.Is(err, capture.ErrInvalidState) {
		fmt.Fprintf(os.Stderr, "Stop: %v\n", err)
	}
	if err := wav.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}

	fmt.Printf("Wrote %d bytes of audio (%s)\n", wav.Written(),
		time.Duration(wav.Written()/format.FrameSize())*time.Second/time.Duration(format.SampleRate))
	printStats(sess)
	return nil
}

// applyFlags lets command-line flags override the loaded config.
func applyFlags(cfg *config.Config) {
	if sampleRate > 0 {
		cfg.SampleRate = sampleRate
	}
	if bitDepth > 0 {
		cfg.BitDepth = bitDepth
	}
	if channels > 0 {
		cfg.Channels = channels
	}
	if floatFmt {
		cfg.Encoding = "float"
	}
	if directMode {
		cfg.Buffered = false
	}
}

func resolveTarget(target string) (uint32, string, error) {
	if pid, err := strconv.ParseUint(target, 10, 32); err == nil {
		return uint32(pid), fmt.Sprintf("pid-%d", pid), nil
	}

	pids, err := procfind.FindTopLevelProcessIDs(target)
	if err != nil {
		return 0, "", fmt.Errorf("find process: %w", err)
	}
	switch len(pids) {
	case 0:
		return 0, "", fmt.Errorf("no process named %q", target)
	case 1:
		return pids[0], target, nil
	default:
		return 0, "", fmt.Errorf("multiple top-level processes named %q (pids %v); pass a PID instead", target, pids)
	}
}

func runRecordLoop(sess *capture.Session, cfg *config.Config) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var timeout <-chan time.Time
	if durationSec > 0 {
		timeout = time.After(time.Duration(durationSec) * time.Second)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(strings.ToLower(scanner.Text()))
		}
		close(lines)
	}()

	for {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted")
			return
		case <-timeout:
			fmt.Println("Duration elapsed")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch line {
			case "p":
				togglePause(sess, cfg)
			case "s":
				printStats(sess)
			case "q", "quit", "exit":
				return
			}
		}
	}
}

func togglePause(sess *capture.Session, cfg *config.Config) {
	switch sess.State() {
	case capture.StateCapturing:
		if err := sess.Pause(); err != nil {
			fmt.Fprintf(os.Stderr, "Pause: %v\n", err)
			return
		}
		fmt.Println("Paused")
	case capture.StatePaused:
		if err := sess.Resume(time.Duration(cfg.ResumeSkipMS) * time.Millisecond); err != nil {
			fmt.Fprintf(os.Stderr, "Resume: %v\n", err)
			return
		}
		fmt.Println("Resumed")
	}
}

func printStats(sess *capture.Session) {
	fmt.Printf("State: %s\n", sess.State())
	fmt.Printf("Max capture iteration: %s\n", sess.MaxIterationTime())
	if n := sess.TickErrors(); n > 0 {
		fmt.Printf("Capture iteration errors: %d\n", n)
	}
	if n := sess.DroppedBytes(); n > 0 {
		fmt.Printf("Dropped on overflow: %d bytes\n", n)
	}
	if depth, err := sess.QueueDepth(); err == nil {
		fmt.Printf("Queue depth: %d bytes\n", depth)
	}
}
