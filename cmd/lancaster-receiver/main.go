// lancaster-receiver bootstraps from a remote sender and mirrors its
// storage locally, until SIGINT/SIGTERM.
//
// Usage:
//
//	lancaster-receiver --config lancaster.hujson
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lancaster-data/lancaster/config"
	"github.com/lancaster-data/lancaster/internal/fs"
	"github.com/lancaster-data/lancaster/internal/sigutil"
	"github.com/lancaster-data/lancaster/receiver"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "lancaster.hujson", "path to deployment config")
	flag.Parse()

	cfg, err := config.LoadReceiver(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	locker := fs.NewLocker(fs.NewReal())
	lock, err := locker.TryLock(cfg.StoragePath + ".lock")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: another receiver already owns %s: %v\n", cfg.StoragePath, err)
		return 1
	}
	defer lock.Close()

	senderAddr, err := net.ResolveTCPAddr("tcp4", cfg.SenderAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	rcvCfg := receiver.Config{
		SenderAddr:      senderAddr,
		StoragePath:     cfg.StoragePath,
		Persist:         cfg.Persist,
		TouchPeriodUsec: cfg.TouchPeriodUsec,
	}
	if cfg.GreetingTimeoutMs > 0 {
		rcvCfg.GreetingTimeout = time.Duration(cfg.GreetingTimeoutMs) * time.Millisecond
	}

	r, err := receiver.New(rcvCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer r.Storage().Close()

	notifier := sigutil.NewNotifier()
	defer notifier.Close()

	if err := r.Run(notifier.Stop()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if sig := notifier.Signal(); sig != nil {
		return sigutil.ExitCode(sig)
	}

	return 0
}
