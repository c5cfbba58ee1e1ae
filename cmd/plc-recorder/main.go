package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Naseband/ProcessLoopbackCapture/pkg/procfind"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "plc-recorder",
	Short: "Process loopback audio recorder",
	Long:  `plc-recorder - records the audio output of a single process tree to a WAV file (Windows only)`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("plc-recorder v%s\n", version)
	},
}

var listCmd = &cobra.Command{
	Use:   "list [exe-name]",
	Short: "List capturable processes matching a name",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listProcesses(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is recorder.yaml)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listProcesses(exeName string) {
	snap, err := procfind.Snapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list processes: %v\n", err)
		os.Exit(1)
	}

	matches := procfind.FilterByName(snap, exeName)
	if len(matches) == 0 {
		fmt.Printf("No processes named %q\n", exeName)
		return
	}

	roots := make(map[uint32]bool)
	for _, p := range procfind.TopLevel(matches) {
		roots[p.PID] = true
	}

	for _, p := range matches {
		marker := " "
		if roots[p.PID] {
			marker = "*"
		}
		fmt.Printf("%s %6d  %s (parent %d)\n", marker, p.PID, p.Name, p.PPID)
	}
	fmt.Println("\n* = top-level process, suitable as a capture target")
}
