package eventloop

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/lzgustavo/kvd/internal/proto"
	"github.com/lzgustavo/kvd/internal/store"
)

// listenLoopback opens a non-blocking listening socket on an OS-assigned
// loopback port, the way cmd/kvd-server does at startup, and returns its fd
// and dial address.
func listenLoopback(t *testing.T) (fd int, addr string) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socket: %v", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		t.Fatalf("SetsockoptInt: %v", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port
	if err := unix.SetNonblock(fd, true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return fd, fmt.Sprintf("127.0.0.1:%d", port)
}

func TestLoopServesASingleRequest(t *testing.T) {
	listenFd, addr := listenLoopback(t)
	db := store.New()
	loop := New(listenFd, db, zap.NewNop(), 5_000_000, 2000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	client, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	payload, _ := proto.EncodeRequest([][]byte{[]byte("set"), []byte("k"), []byte("v")})
	framed, _ := proto.WriteFrame(payload)
	if _, err := client.Write(framed); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	reply, consumed, err := proto.TryParseFrame(buf[:n])
	if err != nil || consumed == 0 {
		t.Fatalf("TryParseFrame(%v) = (%v, %v, %v)", buf[:n], reply, consumed, err)
	}
	if reply[0] != proto.TagNil {
		t.Fatalf("reply tag = %d, want TagNil", reply[0])
	}

	// Run notices the cancellation once its current Poll returns, which can
	// take up to maxPollTimeoutMs.
	cancel()
	select {
	case <-done:
	case <-time.After(maxPollTimeoutMs*time.Millisecond + 2*time.Second):
		t.Fatalf("loop did not stop after context cancellation")
	}

	if e, ok := db.Get("k"); !ok || string(e.Str) != "v" {
		t.Fatalf("db state after request = (%v, %v), want (v, true)", e, ok)
	}
}

func TestComputeTimeoutMsDefaultsWhenNoTimers(t *testing.T) {
	db := store.New()
	loop := New(-1, db, zap.NewNop(), 5_000_000, 2000)
	if got := loop.computeTimeoutMs(); got != maxPollTimeoutMs {
		t.Fatalf("computeTimeoutMs with no timers = %d, want %d", got, maxPollTimeoutMs)
	}
}

func TestComputeTimeoutMsUsesEarliestTTLDeadline(t *testing.T) {
	db := store.New()
	e := db.SetString("k", []byte("v"))
	db.SetTTL(e, 50, nowUs())

	loop := New(-1, db, zap.NewNop(), 5_000_000, 2000)
	got := loop.computeTimeoutMs()
	if got < 0 || got > 50 {
		t.Fatalf("computeTimeoutMs with a 50ms TTL = %d, want in [0,50]", got)
	}
}
