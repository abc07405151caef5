// lancaster-reader is a minimal test driver for consuming from a storage
// segment: open it read-only, read one record, print it, exit.
//
// Usage:
//
//	lancaster-reader --path <segment> <id>
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/lancaster-data/lancaster/internal/dump"
	"github.com/lancaster-data/lancaster/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("path", "", "storage segment path")
	flag.Parse()

	if *path == "" {
		return fmt.Errorf("missing --path")
	}
	if flag.NArg() < 1 {
		return fmt.Errorf("usage: lancaster-reader [flags] <id>")
	}

	var id int64
	if _, err := fmt.Sscan(flag.Arg(0), &id); err != nil {
		return fmt.Errorf("parsing id: %w", err)
	}

	s, err := storage.Open(*path, true)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer s.Close()

	value := make([]byte, s.ValueSize())
	property := make([]byte, s.PropertySize())

	revision, timestampUsec, err := s.Read(id, value, property)
	if err != nil {
		return fmt.Errorf("reading id %d: %w", id, err)
	}

	fmt.Printf("id=%d revision=%d timestamp_usec=%d\n", id, revision, timestampUsec)
	fmt.Print(dump.Sdump(0, value))

	return nil
}
