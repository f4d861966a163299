package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cpatterson/meshlink/internal/link"
)

func TestTransportConnectReachesReady(t *testing.T) {
	adapter := newMockAdapter()
	tr := NewTransport(adapter, DefaultOptions())

	var states []link.State
	var mu sync.Mutex
	tr.OnStateChange(func(s link.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if tr.State() != link.StateReady {
		t.Errorf("State() = %v, want ready", tr.State())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []link.State{link.StateConnecting, link.StateConnected, link.StateReady}
	if len(states) != len(want) {
		t.Fatalf("state transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestTransportConnectScanFailure(t *testing.T) {
	adapter := newMockAdapter()
	adapter.scanErr = ErrScanTimeout
	tr := NewTransport(adapter, DefaultOptions())

	err := tr.Connect(context.Background())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Connect() error = %v, want ErrDeviceNotFound", err)
	}
	if tr.State() != link.StateFailed {
		t.Errorf("State() = %v, want failed", tr.State())
	}
}

func TestTransportConnectSkipsScanWithAddress(t *testing.T) {
	adapter := newMockAdapter()
	adapter.scanErr = ErrScanTimeout // would fail if scan were attempted
	opts := DefaultOptions()
	opts.Address = "AA:BB:CC:DD:EE:FF"
	tr := NewTransport(adapter, opts)

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() with explicit address error = %v", err)
	}
}

func TestTransportSendRequiresConnection(t *testing.T) {
	tr := NewTransport(newMockAdapter(), DefaultOptions())
	if err := tr.Send([]byte{0x01}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() before connect = %v, want ErrNotConnected", err)
	}
}

func TestTransportSendWritesFrame(t *testing.T) {
	adapter := newMockAdapter()
	tr := NewTransport(adapter, DefaultOptions())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	frame := []byte{0x14}
	if err := tr.Send(frame); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if adapter.connection.writeChar.writeCount() != 1 {
		t.Fatalf("writes = %d, want 1", adapter.connection.writeChar.writeCount())
	}
}

func TestTransportNotificationsBecomeFrames(t *testing.T) {
	adapter := newMockAdapter()
	tr := NewTransport(adapter, DefaultOptions())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	adapter.connection.notifyChar.SimulateNotification([]byte{0x83})
	adapter.connection.notifyChar.SimulateNotification([]byte{0x0a})

	frames := tr.Frames()
	first := <-frames
	second := <-frames
	if first[0] != 0x83 || second[0] != 0x0a {
		t.Errorf("frames arrived out of order: %x, %x", first, second)
	}
}

func TestTransportFrameQueueDropsOldest(t *testing.T) {
	adapter := newMockAdapter()
	opts := DefaultOptions()
	opts.FrameBuffer = 2
	tr := NewTransport(adapter, opts)
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	notify := adapter.connection.notifyChar
	notify.SimulateNotification([]byte{0x01})
	notify.SimulateNotification([]byte{0x02})
	notify.SimulateNotification([]byte{0x03}) // overflows, 0x01 dropped

	frames := tr.Frames()
	if f := <-frames; f[0] != 0x02 {
		t.Errorf("first frame = 0x%02x, want 0x02 (oldest dropped)", f[0])
	}
	if f := <-frames; f[0] != 0x03 {
		t.Errorf("second frame = 0x%02x, want 0x03", f[0])
	}
}

func TestTransportDisconnectClosesFrameStream(t *testing.T) {
	adapter := newMockAdapter()
	tr := NewTransport(adapter, DefaultOptions())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	frames := tr.Frames()
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case _, ok := <-frames:
		if ok {
			t.Error("expected closed frame stream after disconnect")
		}
	case <-time.After(time.Second):
		t.Error("frame stream not closed after disconnect")
	}
	if tr.State() != link.StateDisconnected {
		t.Errorf("State() = %v, want disconnected", tr.State())
	}
}

func TestTransportDisconnectIdempotent(t *testing.T) {
	adapter := newMockAdapter()
	tr := NewTransport(adapter, DefaultOptions())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := tr.Disconnect(); err != nil {
		t.Fatalf("first Disconnect() error = %v", err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}
	if tr.State() != link.StateDisconnected {
		t.Errorf("State() = %v, want disconnected", tr.State())
	}
}

func TestTransportRemoteDropClosesFrameStream(t *testing.T) {
	adapter := newMockAdapter()
	tr := NewTransport(adapter, DefaultOptions())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	frames := tr.Frames()
	adapter.connection.SimulateDisconnect()

	select {
	case _, ok := <-frames:
		if ok {
			t.Error("expected closed frame stream after remote drop")
		}
	case <-time.After(time.Second):
		t.Error("frame stream not closed after remote drop")
	}
}

func TestTransportNotificationAfterDisconnectIsDropped(t *testing.T) {
	adapter := newMockAdapter()
	tr := NewTransport(adapter, DefaultOptions())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	notify := adapter.connection.notifyChar
	_ = tr.Disconnect()

	// Late hardware callback must not panic on the closed stream.
	notify.SimulateNotification([]byte{0x80})
}

func TestWaiterResolvesExactlyOnce(t *testing.T) {
	w := newWaiter[int]()
	if !w.resolve(1, nil) {
		t.Fatal("first resolve should win")
	}
	if w.resolve(2, nil) {
		t.Fatal("second resolve should be a no-op")
	}
	v, err := w.wait(context.Background(), time.Second, errors.New("timeout"))
	if err != nil || v != 1 {
		t.Errorf("wait() = (%d, %v), want (1, nil)", v, err)
	}
}

func TestWaiterTimeoutBeatsLateCallback(t *testing.T) {
	w := newWaiter[int]()
	timeoutErr := errors.New("scan timed out")

	_, err := w.wait(context.Background(), 10*time.Millisecond, timeoutErr)
	if !errors.Is(err, timeoutErr) {
		t.Fatalf("wait() error = %v, want timeout", err)
	}
	// The hardware callback arriving after the timeout must be a no-op.
	if w.resolve(7, nil) {
		t.Error("late resolve after timeout should be a no-op")
	}
}

func TestWaiterCallbackTimerRace(t *testing.T) {
	// Fire resolve concurrently with an immediate timeout many times; the
	// waiter must come out consistent every round, never double-complete.
	for i := 0; i < 200; i++ {
		w := newWaiter[int]()
		timeoutErr := errors.New("timeout")
		go w.resolve(42, nil)
		v, err := w.wait(context.Background(), 0, timeoutErr)
		if err == nil && v != 42 {
			t.Fatalf("round %d: wait() = (%d, nil), want 42", i, v)
		}
		if err != nil && !errors.Is(err, timeoutErr) {
			t.Fatalf("round %d: unexpected error %v", i, err)
		}
	}
}
