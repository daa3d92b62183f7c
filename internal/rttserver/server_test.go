package rttserver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeChannel is the session side of the bridge: an up buffer the pump
// drains and a down buffer client messages land in.
type fakeChannel struct {
	mu         sync.Mutex
	up         []byte
	down       []byte
	seen       map[int]bool
	readErr    error
	writeQuota int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{seen: make(map[int]bool)}
}

func (f *fakeChannel) RTTRead(channel int, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[channel] = true
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(buf, f.up)
	f.up = f.up[n:]
	return n, nil
}

func (f *fakeChannel) RTTWrite(channel int, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[channel] = true
	n := len(data)
	if f.writeQuota > 0 && n > f.writeQuota {
		n = f.writeQuota
	}
	f.down = append(f.down, data[:n]...)
	return n, nil
}

func (f *fakeChannel) feed(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = append(f.up, data...)
}

func (f *fakeChannel) drained() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.down...)
}

func (f *fakeChannel) failReads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

func (f *fakeChannel) sawChannel(n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[n]
}

type bridge struct {
	addr   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startBridge(t *testing.T, fc *fakeChannel, channel int) *bridge {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{
		addr:   "ws://" + lis.Addr().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		b.err = Serve(ctx, lis, fc, channel, WithPollInterval(time.Millisecond))
		close(b.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-b.done:
		case <-time.After(5 * time.Second):
			t.Errorf("bridge did not stop after cancel")
		}
	})
	return b
}

func dialBridge(t *testing.T, b *bridge) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(b.addr, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", b.addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readBytes(t *testing.T, conn *websocket.Conn, n int) []byte {
	t.Helper()
	var got []byte
	for len(got) < n {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		typ, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage after %d of %d bytes: %v", len(got), n, err)
		}
		if typ != websocket.BinaryMessage {
			t.Fatalf("message type = %d, want binary", typ)
		}
		got = append(got, data...)
	}
	return got
}

func TestBridgeStreamsUpChannel(t *testing.T) {
	fc := newFakeChannel()
	b := startBridge(t, fc, 0)
	conn := dialBridge(t, b)
	syncClient(t, fc, conn)

	// Up-channel data with no client listening is drained and dropped,
	// so feed only once the client is registered.
	up := []byte("hello from the target\n")
	fc.feed(up)
	if got := readBytes(t, conn, len(up)); !bytes.Equal(got, up) {
		t.Fatalf("client read %q, want %q", got, up)
	}

	more := []byte("and a second burst")
	fc.feed(more)
	if got := readBytes(t, conn, len(more)); !bytes.Equal(got, more) {
		t.Fatalf("client read %q, want %q", got, more)
	}
	if !fc.sawChannel(0) {
		t.Errorf("bridge never polled channel 0")
	}
}

// syncClient round-trips one down-channel byte so the caller knows the
// client is registered before feeding broadcast data.
func syncClient(t *testing.T, fc *fakeChannel, conn *websocket.Conn) {
	t.Helper()
	before := len(fc.drained())
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0}); err != nil {
		t.Fatalf("sync write: %v", err)
	}
	waitFor(t, "the sync byte to reach the target", func() bool {
		return len(fc.drained()) > before
	})
}

func TestBridgeWritesDownChannel(t *testing.T) {
	fc := newFakeChannel()
	fc.writeQuota = 3
	b := startBridge(t, fc, 2)
	conn := dialBridge(t, b)

	payload := []byte("keypress sequence")
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	waitFor(t, "the down channel to drain the message", func() bool {
		return bytes.Equal(fc.drained(), payload)
	})
	if !fc.sawChannel(2) {
		t.Errorf("bridge did not address channel 2")
	}
}

func TestBridgeFansOut(t *testing.T) {
	fc := newFakeChannel()
	b := startBridge(t, fc, 0)
	first := dialBridge(t, b)
	second := dialBridge(t, b)

	// A down-channel byte from each client proves both read pumps are
	// registered before the broadcast goes out.
	if err := first.WriteMessage(websocket.BinaryMessage, []byte("a")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := second.WriteMessage(websocket.BinaryMessage, []byte("b")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	waitFor(t, "both clients to reach the target", func() bool {
		return len(fc.drained()) == 2
	})

	up := []byte("broadcast to everyone")
	fc.feed(up)
	if got := readBytes(t, first, len(up)); !bytes.Equal(got, up) {
		t.Errorf("first client read %q, want %q", got, up)
	}
	if got := readBytes(t, second, len(up)); !bytes.Equal(got, up) {
		t.Errorf("second client read %q, want %q", got, up)
	}
}

func TestBridgeIgnoresTextMessages(t *testing.T) {
	fc := newFakeChannel()
	b := startBridge(t, fc, 0)
	conn := dialBridge(t, b)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not for the target")); err != nil {
		t.Fatalf("WriteMessage(text): %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("ok")); err != nil {
		t.Fatalf("WriteMessage(binary): %v", err)
	}
	waitFor(t, "the binary message to land", func() bool {
		return bytes.Equal(fc.drained(), []byte("ok"))
	})
}

func TestBridgeStopsWhenTargetDies(t *testing.T) {
	fc := newFakeChannel()
	b := startBridge(t, fc, 0)
	conn := dialBridge(t, b)

	probeGone := errors.New("probe detached")
	fc.failReads(probeGone)

	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		t.Fatal("bridge kept running after the target died")
	}
	if !errors.Is(b.err, probeGone) {
		t.Errorf("Serve returned %v, want the target read failure", b.err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Errorf("client connection survived the bridge shutdown")
	}
}

func TestBridgeCancelIsClean(t *testing.T) {
	fc := newFakeChannel()
	b := startBridge(t, fc, 0)
	dialBridge(t, b)

	b.cancel()
	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop after cancel")
	}
	if b.err != nil {
		t.Errorf("Serve after cancel = %v, want nil", b.err)
	}
}
