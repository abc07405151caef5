//go:build linux

package receiver_test

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lancaster-data/lancaster/receiver"
	"github.com/lancaster-data/lancaster/sender"
	"github.com/lancaster-data/lancaster/storage"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func freeTCPAddr(t *testing.T) *net.TCPAddr {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr)
}

// TestRoundTripOneRecord writes one record into a writer-side storage,
// links a sender and receiver over loopback, and checks the receiver's
// mirror storage picks up the same value within a short deadline.
func TestRoundTripOneRecord(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "src.dat")
	src, err := storage.Create(srcPath, storage.CreateOptions{
		BaseID: 0, MaxID: 1, ValueSize: 8, QueueCapacity: 4, Persist: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	value := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	_, err = src.Write(0, value, nil)
	require.NoError(t, err)

	listenAddr := freeTCPAddr(t)
	mcastAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: freeUDPPort(t)}

	snd, err := sender.New(sender.Config{
		ListenAddr:    listenAddr,
		McastGroup:    mcastAddr,
		McastIface:    "lo",
		MaxPktAgeUsec: 2000,
		HeartbeatUsec: 50_000_000,
	}, src)
	require.NoError(t, err)

	sStop := make(chan struct{})
	sErrCh := make(chan error, 1)
	go func() { sErrCh <- snd.Run(sStop) }()
	defer func() {
		close(sStop)
		<-sErrCh
	}()

	dstPath := filepath.Join(t.TempDir(), "dst.dat")
	rcv, err := receiver.New(receiver.Config{
		SenderAddr:      listenAddr,
		StoragePath:     dstPath,
		Persist:         true,
		GreetingTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	rStop := make(chan struct{})
	rErrCh := make(chan error, 1)
	go func() { rErrCh <- rcv.Run(rStop) }()
	defer func() {
		close(rStop)
		<-rErrCh
	}()

	got := make([]byte, 8)
	require.Eventually(t, func() bool {
		_, _, err := rcv.Storage().Read(0, got, nil)
		return err == nil && got[0] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, value, got)
}

// TestNewRejectsUnreachableSender checks that New fails within its
// configured timeout when nothing is listening on SenderAddr.
func TestNewRejectsUnreachableSender(t *testing.T) {
	addr := freeTCPAddr(t) // nothing listens on this port once the probe listener closes

	_, err := receiver.New(receiver.Config{
		SenderAddr:      addr,
		StoragePath:     filepath.Join(t.TempDir(), "dst.dat"),
		Persist:         true,
		GreetingTimeout: 500 * time.Millisecond,
	})
	require.Error(t, err)
}
