// lancaster-inspector is an interactive shell for walking a local storage
// segment, publisher or mirror alike.
//
// Usage:
//
//	lancaster-inspector <segment-path>
//
// Commands (in REPL):
//
//	get <id>               Show a record's revision, timestamp, value, property
//	range <lo> <hi>        List revisions for an id range
//	touched <id>           Wait for an id's next update and sample the delay
//	head                   Show the change queue head sequence
//	at <pos>               Show the id enqueued at a change-queue position
//	info                   Show segment dimensions
//	help                   Show this help
//	exit / quit / q        Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/lancaster-data/lancaster/internal/dump"
	"github.com/lancaster-data/lancaster/internal/latency"
	"github.com/lancaster-data/lancaster/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return errors.New("usage: lancaster-inspector <segment-path>")
	}

	s, err := storage.Open(os.Args[1], true)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer s.Close()

	repl := &REPL{storage: s}

	return repl.Run()
}

// REPL is the interactive command loop over a single open segment.
type REPL struct {
	storage *storage.Storage
	liner   *liner.State
	latency latency.Tracker
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".lancaster-inspector_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("lancaster-inspector (path=%s, base=%d, max=%d, value_size=%d)\n",
		r.storage.Path(), r.storage.BaseID(), r.storage.MaxID(), r.storage.ValueSize())
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("lancaster> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "get":
			r.cmdGet(args)

		case "range":
			r.cmdRange(args)

		case "touched":
			r.cmdTouched(args)

		case "head":
			r.cmdHead()

		case "at":
			r.cmdAt(args)

		case "info":
			r.cmdInfo()

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"get", "range", "touched", "head", "at", "info", "help", "exit", "quit", "q"}

	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  get <id>               Show a record's revision, timestamp, value, property")
	fmt.Println("  range <lo> <hi>        List revisions for an id range")
	fmt.Println("  touched <id>           Wait for an id's next update and sample the delay")
	fmt.Println("  head                   Show the change queue head sequence")
	fmt.Println("  at <pos>               Show the id enqueued at a change-queue position")
	fmt.Println("  info                   Show segment dimensions")
	fmt.Println("  help                   Show this help")
	fmt.Println("  exit / quit / q        Exit")
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func (r *REPL) cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: get <id>")
		return
	}

	id, err := parseID(args[0])
	if err != nil {
		fmt.Printf("Error parsing id: %v\n", err)
		return
	}

	value := make([]byte, r.storage.ValueSize())
	property := make([]byte, r.storage.PropertySize())

	revision, timestampUsec, err := r.storage.Read(id, value, property)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Revision:  %d\n", revision)
	fmt.Printf("Timestamp: %s\n", time.UnixMicro(timestampUsec).Format(time.RFC3339Nano))
	fmt.Printf("Value:\n%s", dump.Sdump(0, value))

	if len(property) > 0 {
		fmt.Printf("Property:\n%s", dump.Sdump(0, property))
	}
}

func (r *REPL) cmdRange(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: range <lo> <hi>")
		return
	}

	lo, err := parseID(args[0])
	if err != nil {
		fmt.Printf("Error parsing lo: %v\n", err)
		return
	}

	hi, err := parseID(args[1])
	if err != nil {
		fmt.Printf("Error parsing hi: %v\n", err)
		return
	}

	err = r.storage.Iterate(lo, hi-lo, func(id int64) (bool, error) {
		revision, err := r.storage.Revision(id)
		if err != nil {
			return false, err
		}

		fmt.Printf("%8d  revision=%d\n", id, revision)

		return true, nil
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
}

// cmdTouched polls an id's revision every millisecond until it changes (or
// 5s pass) and records the wall-clock wait as a latency sample; useful for
// eyeballing publish cadence.
func (r *REPL) cmdTouched(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: touched <id>")
		return
	}

	id, err := parseID(args[0])
	if err != nil {
		fmt.Printf("Error parsing id: %v\n", err)
		return
	}

	first, err := r.storage.Revision(id)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	start := time.Now()

	for {
		rev, err := r.storage.Revision(id)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		if rev != first {
			break
		}

		if time.Since(start) > 5*time.Second {
			fmt.Println("No update observed within 5s")
			return
		}

		time.Sleep(time.Millisecond)
	}

	r.latency.Record(float64(time.Since(start).Microseconds()))
	r.latency.Roll()

	stats := r.latency.Stats()
	fmt.Printf("Observed update after %s (n=%d mean=%.1fus stddev=%.1fus)\n",
		time.Since(start), stats.Count, stats.Mean, stats.StdDev)
}

func (r *REPL) cmdHead() {
	fmt.Printf("Head: %d\n", r.storage.Head())
}

func (r *REPL) cmdAt(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: at <pos>")
		return
	}

	pos, err := parseID(args[0])
	if err != nil {
		fmt.Printf("Error parsing pos: %v\n", err)
		return
	}

	fmt.Printf("id: %d\n", r.storage.QueueAt(pos))
}

func (r *REPL) cmdInfo() {
	fmt.Printf("Segment Info:\n")
	fmt.Printf("  Path:           %s\n", r.storage.Path())
	fmt.Printf("  Base id:        %d\n", r.storage.BaseID())
	fmt.Printf("  Max id:         %d\n", r.storage.MaxID())
	fmt.Printf("  Value size:     %d bytes\n", r.storage.ValueSize())
	fmt.Printf("  Property size:  %d bytes\n", r.storage.PropertySize())
	fmt.Printf("  Queue capacity: %d\n", r.storage.QueueCapacity())
	fmt.Printf("  Data version:   %d\n", r.storage.DataVersion())
	fmt.Printf("  Description:    %s\n", r.storage.Description())
	fmt.Printf("  Read-only:      %v\n", r.storage.ReadOnly())
	fmt.Printf("  Created:        %s\n", time.UnixMicro(r.storage.CreatedUsec()).Format(time.RFC3339Nano))
}
