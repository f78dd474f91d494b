package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// createMockWSServer creates a test WebSocket server
func createMockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

// httpToWS converts http:// URL to ws://
func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func collect(frames chan Frame) Listener {
	return func(f Frame) { frames <- f }
}

func waitFrame(t *testing.T, frames chan Frame) Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestPool_DeliversFrames(t *testing.T) {
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"quotes","data":[{"symbol":"BTCUSDT"}]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"BTCUSDT","bid":1}`))
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	pool := NewPool()
	frames := make(chan Frame, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := pool.Open(ctx, httpToWS(server.URL), nil, collect(frames), nil)
	defer sub.Close()

	if f := waitFrame(t, frames); f.Event != "quotes" {
		t.Errorf("first frame event = %q, want quotes", f.Event)
	}
	if f := waitFrame(t, frames); f.Event != "" {
		t.Errorf("second frame should be untyped, got event %q", f.Event)
	}
}

func TestPool_EventFilter(t *testing.T) {
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"orders","data":[]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"quotes","data":[]}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"update"}`)) // untyped always passes
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	pool := NewPool()
	frames := make(chan Frame, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := pool.Open(ctx, httpToWS(server.URL), []string{"quotes"}, collect(frames), nil)
	defer sub.Close()

	if f := waitFrame(t, frames); f.Event != "quotes" {
		t.Errorf("frame event = %q, want quotes (orders filtered)", f.Event)
	}
	if f := waitFrame(t, frames); f.Event != "" {
		t.Errorf("untyped frame should bypass the filter, got %q", f.Event)
	}
}

func TestPool_MalformedFrameDropped(t *testing.T) {
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"heartbeat"}`))
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	pool := NewPool()
	frames := make(chan Frame, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := pool.Open(ctx, httpToWS(server.URL), nil, collect(frames), nil)
	defer sub.Close()

	// The malformed frame is dropped, so the first delivery is the heartbeat.
	if f := waitFrame(t, frames); f.Event != "heartbeat" {
		t.Errorf("frame event = %q, want heartbeat", f.Event)
	}
}

func TestPool_RefCountedClose(t *testing.T) {
	send := make(chan string, 4)
	defer close(send)
	closed := make(chan struct{})
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		go func() {
			for msg := range send {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}()
		if _, _, err := conn.ReadMessage(); err != nil {
			close(closed)
		}
	})
	defer server.Close()

	pool := NewPool()
	frames1 := make(chan Frame, 8)
	frames2 := make(chan Frame, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := httpToWS(server.URL)
	sub1 := pool.Open(ctx, addr, nil, collect(frames1), nil)
	sub2 := pool.Open(ctx, addr, nil, collect(frames2), nil)

	send <- `{"event":"heartbeat"}`
	waitFrame(t, frames1)
	waitFrame(t, frames2)

	// First close detaches one listener; the connection stays up.
	sub1.Close()
	send <- `{"event":"heartbeat"}`
	waitFrame(t, frames2)

	select {
	case <-closed:
		t.Fatal("connection closed while a subscription remained")
	default:
	}

	// Last close tears the connection down.
	sub2.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Error("connection not closed after last subscription detached")
	}
	if got := sub2.State(); got != StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}

func TestPool_OpenDuringLastClose(t *testing.T) {
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		for {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"heartbeat"}`)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
	defer server.Close()

	pool := NewPool()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	addr := httpToWS(server.URL)

	// Closing the last subscription while another caller opens the same
	// address must never strand the newcomer on a torn-down connection.
	for i := 0; i < 20; i++ {
		first := pool.Open(ctx, addr, nil, func(Frame) {}, nil)

		done := make(chan struct{})
		go func() {
			first.Close()
			close(done)
		}()

		frames := make(chan Frame, 8)
		second := pool.Open(ctx, addr, nil, collect(frames), nil)
		<-done

		if second.State() == StateClosed {
			t.Fatalf("iteration %d: subscription landed on a closed connection", i)
		}
		waitFrame(t, frames)
		second.Close()
	}
}

func TestPool_AddressSwitch(t *testing.T) {
	stay := make(chan struct{})
	defer close(stay)
	serverA := createMockWSServer(t, func(conn *websocket.Conn) { <-stay })
	defer serverA.Close()
	serverB := createMockWSServer(t, func(conn *websocket.Conn) { <-stay })
	defer serverB.Close()

	pool := NewPool()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subA := pool.Open(ctx, httpToWS(serverA.URL), nil, func(Frame) {}, nil)
	time.Sleep(100 * time.Millisecond)

	subB := pool.Open(ctx, httpToWS(serverB.URL), nil, func(Frame) {}, nil)
	defer subB.Close()

	if got := subA.State(); got != StateClosed {
		t.Errorf("previous connection state = %v, want CLOSED after address switch", got)
	}
}

func TestPool_OnOpenAndSend(t *testing.T) {
	received := make(chan string, 4)
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	pool := NewPool()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	onOpen := func(s *Subscription) {
		s.Send(map[string]any{"op": "subscribe", "symbols": []string{"BTCUSDT"}})
	}
	sub := pool.Open(ctx, httpToWS(server.URL), nil, func(Frame) {}, onOpen)
	defer sub.Close()

	select {
	case msg := <-received:
		if !strings.Contains(msg, "subscribe") || !strings.Contains(msg, "BTCUSDT") {
			t.Errorf("unexpected subscribe payload: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Error("server never received the subscribe payload")
	}
}

func TestPool_ReconnectAfterDrop(t *testing.T) {
	var conns int32
	opened := make(chan struct{}, 4)
	stay := make(chan struct{})
	defer close(stay)
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		if atomic.AddInt32(&conns, 1) == 1 {
			return // drop the first connection immediately
		}
		<-stay // later connections stay up until the test ends
	})
	defer server.Close()

	pool := NewPool()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	onOpen := func(*Subscription) { opened <- struct{}{} }
	sub := pool.Open(ctx, httpToWS(server.URL), nil, func(Frame) {}, onOpen)
	defer sub.Close()

	for i := 0; i < 2; i++ {
		select {
		case <-opened:
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d never opened", i+1)
		}
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name      string
		msg       string
		ok        bool
		wantEvent string
	}{
		{"Named Event", `{"event":"quotes","data":[]}`, true, "quotes"},
		{"Named Event No Data", `{"event":"ping"}`, true, "ping"},
		{"Untyped Object", `{"symbol":"BTCUSDT","bid":1}`, true, ""},
		{"Bare Array", `[{"symbol":"BTCUSDT"}]`, true, ""},
		{"Invalid JSON", `{oops`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := decodeFrame([]byte(tt.msg))
			if ok != tt.ok {
				t.Fatalf("decodeFrame(%q) ok = %v, want %v", tt.msg, ok, tt.ok)
			}
			if ok && f.Event != tt.wantEvent {
				t.Errorf("event = %q, want %q", f.Event, tt.wantEvent)
			}
			if ok && len(f.Data) == 0 {
				t.Error("decoded frame has empty data")
			}
		})
	}
}
