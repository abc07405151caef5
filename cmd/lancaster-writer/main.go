// lancaster-writer is a minimal test driver for producing into a storage
// segment: create it if absent, write one record, exit.
//
// Usage:
//
//	lancaster-writer --path <segment> --base <id> --max <id> --value-size <n> \
//	    --queue-capacity <n> <id> <hex-value>
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

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
	base := flag.Int64("base", 0, "base identifier (only used when creating)")
	maxID := flag.Int64("max", 0, "max identifier, exclusive (only used when creating)")
	valueSize := flag.Uint32("value-size", 0, "value size in bytes (only used when creating)")
	propertySize := flag.Uint32("property-size", 0, "property size in bytes (only used when creating)")
	queueCapacity := flag.Uint64("queue-capacity", 0, "change-queue capacity (only used when creating)")
	persist := flag.Bool("persist", true, "keep the backing file when closed (only used when creating)")

	flag.Parse()

	if *path == "" {
		return fmt.Errorf("missing --path")
	}
	if flag.NArg() < 2 {
		return fmt.Errorf("usage: lancaster-writer [flags] <id> <hex-value>")
	}

	var id int64
	if _, err := fmt.Sscan(flag.Arg(0), &id); err != nil {
		return fmt.Errorf("parsing id: %w", err)
	}

	value, err := hex.DecodeString(flag.Arg(1))
	if err != nil {
		return fmt.Errorf("parsing hex value: %w", err)
	}

	s, err := storage.Open(*path, false)
	if err != nil {
		s, err = storage.Create(*path, storage.CreateOptions{
			BaseID:        *base,
			MaxID:         *maxID,
			ValueSize:     *valueSize,
			PropertySize:  *propertySize,
			QueueCapacity: *queueCapacity,
			Persist:       *persist,
		})
		if err != nil {
			return fmt.Errorf("opening or creating segment: %w", err)
		}
	}
	defer s.Close()

	revision, err := s.Write(id, value, nil)
	if err != nil {
		return fmt.Errorf("writing id %d: %w", id, err)
	}

	fmt.Printf("wrote id=%d revision=%d\n", id, revision)

	return nil
}
