// lancaster-sender runs the reliable-multicast publishing half of the
// protocol engine against a local storage segment, until SIGINT/SIGTERM.
//
// Usage:
//
//	lancaster-sender --config lancaster.hujson
package main

import (
	"fmt"
	"net"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/lancaster-data/lancaster/config"
	"github.com/lancaster-data/lancaster/internal/fs"
	"github.com/lancaster-data/lancaster/internal/sigutil"
	"github.com/lancaster-data/lancaster/sender"
	"github.com/lancaster-data/lancaster/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "lancaster.hujson", "path to deployment config")
	flag.Parse()

	cfg, err := config.LoadSender(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	locker := fs.NewLocker(fs.NewReal())
	lock, err := locker.TryLock(cfg.Storage.Path + ".lock")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: another sender already owns %s: %v\n", cfg.Storage.Path, err)
		return 1
	}
	defer lock.Close()

	store, err := openOrCreateStore(cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer store.Close()

	listenAddr, err := net.ResolveTCPAddr("tcp4", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	mcastAddr, err := net.ResolveUDPAddr("udp4", cfg.McastGroup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	s, err := sender.New(sender.Config{
		ListenAddr:        listenAddr,
		McastGroup:        mcastAddr,
		McastIface:        cfg.McastIface,
		McastTTL:          cfg.McastTTL,
		MaxPktAgeUsec:     cfg.MaxPktAgeUsec,
		HeartbeatUsec:     cfg.HeartbeatUsec,
		OrphanTimeoutUsec: cfg.OrphanTimeoutUsec,
		IgnoreOrphaned:    cfg.IgnoreOrphaned,
		IgnoreRecreated:   cfg.IgnoreRecreated,
		IgnoreOverrun:     cfg.IgnoreOverrun,
		Backlog:           cfg.Backlog,
	}, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	notifier := sigutil.NewNotifier()
	defer notifier.Close()

	if err := s.Run(notifier.Stop()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if sig := notifier.Signal(); sig != nil {
		return sigutil.ExitCode(sig)
	}

	return 0
}

func openOrCreateStore(cfg config.Storage) (*storage.Storage, error) {
	s, err := storage.Open(cfg.Path, false)
	if err == nil {
		return s, nil
	}

	return storage.Create(cfg.Path, storage.CreateOptions{
		BaseID:        cfg.BaseID,
		MaxID:         cfg.MaxID,
		ValueSize:     cfg.ValueSize,
		PropertySize:  cfg.PropertySize,
		QueueCapacity: cfg.QueueCapacity,
		Description:   cfg.Description,
		Persist:       cfg.Persist,
	})
}
