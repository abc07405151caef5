package sigutil_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/internal/sigutil"
)

func TestStopClosesOnSIGTERM(t *testing.T) {
	n := sigutil.NewNotifier()
	defer n.Close()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-n.Stop():
	case <-time.After(2 * time.Second):
		t.Fatal("stop channel did not close after SIGTERM")
	}

	require.Equal(t, syscall.SIGTERM, n.Signal())
}

func TestExitCodeAddsSignalOffset(t *testing.T) {
	require.Equal(t, 128+int(syscall.SIGTERM), sigutil.ExitCode(syscall.SIGTERM))
	require.Equal(t, 128+int(syscall.SIGINT), sigutil.ExitCode(syscall.SIGINT))
}
