package tcpserver

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/metricgw/internal/model"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []model.IngestFrame
	got    chan struct{}
}

func newFrameRecorder() *frameRecorder {
	return &frameRecorder{got: make(chan struct{}, 16)}
}

func (r *frameRecorder) HandleFrame(_ context.Context, f model.IngestFrame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *frameRecorder) wait(t *testing.T) model.IngestFrame {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

func startServer(t *testing.T, h FrameHandler, conf ServerConfig) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", h, nil, conf)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func send(t *testing.T, addr, payload string, closeWrite bool) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	if closeWrite {
		require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	}
	return conn
}

func TestNewServer_DefaultAddress(t *testing.T) {
	t.Parallel()

	s := NewServer("", nil, nil)
	if got := s.Addr(); got != "0.0.0.0:9999" {
		t.Fatalf("Addr() = %q, want %q", got, "0.0.0.0:9999")
	}
	if s.maxFrameSize != 100 {
		t.Fatalf("max frame size = %d, want 100", s.maxFrameSize)
	}
}

func TestNewServer_UsesConfiguredLimits(t *testing.T) {
	t.Parallel()

	s := NewServer("0.0.0.0:5000", nil, nil, ServerConfig{
		MaxFrameSize:   256,
		ReadTimeout:    time.Second,
		MaxConnections: 8,
	})

	if got := s.Addr(); got != "0.0.0.0:5000" {
		t.Fatalf("Addr() = %q, want %q", got, "0.0.0.0:5000")
	}
	if s.maxFrameSize != 256 || s.readTimeout != time.Second || s.maxConnections != 8 {
		t.Fatalf("limits = %d/%s/%d", s.maxFrameSize, s.readTimeout, s.maxConnections)
	}
}

func TestServer_ReadsFrameUntilEOF(t *testing.T) {
	rec := newFrameRecorder()
	s := startServer(t, rec, ServerConfig{})

	conn := send(t, s.Addr(), `{"room":"GLNN210","metric":"Camera","action":"Started"}`, true)
	defer conn.Close()

	f := rec.wait(t)
	assert.Equal(t, `{"room":"GLNN210","metric":"Camera","action":"Started"}`, string(f.Payload))
	assert.False(t, f.Truncated)
	assert.NotEmpty(t, f.ConnID)
	assert.False(t, f.ReceivedAt.IsZero())
}

func TestServer_StopsAtNewlineAndClosesSocket(t *testing.T) {
	rec := newFrameRecorder()
	s := startServer(t, rec, ServerConfig{})

	conn := send(t, s.Addr(), "{\"room\":\"A\"}\n", false)
	defer conn.Close()

	f := rec.wait(t)
	assert.Equal(t, `{"room":"A"}`, string(f.Payload))

	// Server closed its side without writing anything.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.Error(t, err)
}

func TestServer_CompleteFrameOnOpenSocketIsHandledImmediately(t *testing.T) {
	rec := newFrameRecorder()
	s := startServer(t, rec, ServerConfig{ReadTimeout: 5 * time.Second})

	start := time.Now()
	conn := send(t, s.Addr(), `{"room":"GLNN210","metric":"Camera","action":"Started"}`, false)
	defer conn.Close()

	f := rec.wait(t)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, `{"room":"GLNN210","metric":"Camera","action":"Started"}`, string(f.Payload))
}

func TestServer_NewlineInsideObjectIsPayload(t *testing.T) {
	rec := newFrameRecorder()
	s := startServer(t, rec, ServerConfig{})

	payload := "{\"room\": \"GLNN210\",\n \"metric\": \"Camera\", \"action\": \"Started\"}"
	conn := send(t, s.Addr(), payload, false)
	defer conn.Close()

	f := rec.wait(t)
	assert.Equal(t, payload, string(f.Payload))
	assert.False(t, f.Truncated)
}

func TestFrameEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		from int
		end  int
		ok   bool
	}{
		{name: "complete object", data: `{"a":"b"}`, end: 9, ok: true},
		{name: "newline after object", data: "{\"a\":\"b\"}\nrest", end: 9, ok: true},
		{name: "newline inside object", data: "{\"a\":\n", ok: false},
		{name: "partial object", data: `{"a":`, ok: false},
		{name: "not json", data: "hello", ok: false},
		{name: "nothing new", data: `{}`, from: 2, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end, ok := frameEnd([]byte(tt.data), tt.from)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.end, end)
			}
		})
	}
}

func TestServer_StopsAtReadDeadline(t *testing.T) {
	rec := newFrameRecorder()
	s := startServer(t, rec, ServerConfig{ReadTimeout: 100 * time.Millisecond})

	conn := send(t, s.Addr(), `{"room":"A"`, false)
	defer conn.Close()

	f := rec.wait(t)
	assert.Equal(t, `{"room":"A"`, string(f.Payload))
}

func TestServer_TruncatesAtMaxFrameSize(t *testing.T) {
	rec := newFrameRecorder()
	s := startServer(t, rec, ServerConfig{MaxFrameSize: 16})

	conn := send(t, s.Addr(), strings.Repeat("x", 40), true)
	defer conn.Close()

	f := rec.wait(t)
	assert.Len(t, f.Payload, 16)
	assert.True(t, f.Truncated)
}

func TestServer_ExactSizeFrameIsNotTruncated(t *testing.T) {
	rec := newFrameRecorder()
	s := startServer(t, rec, ServerConfig{MaxFrameSize: 16})

	conn := send(t, s.Addr(), strings.Repeat("x", 16), true)
	defer conn.Close()

	f := rec.wait(t)
	assert.Len(t, f.Payload, 16)
	assert.False(t, f.Truncated)
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestServer_RateLimitedConnectionIsClosedUnread(t *testing.T) {
	rec := newFrameRecorder()
	limited := make(chan string, 1)
	s := startServer(t, rec, ServerConfig{
		Limiter:       denyAll{},
		OnRateLimited: func(remote string) { limited <- remote },
	})

	// The server closes without reading, so the peer may see a reset; only
	// the dial has to succeed.
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, _ = conn.Write([]byte(`{"room":"A","metric":"m","action":"a"}`))

	select {
	case remote := <-limited:
		assert.True(t, strings.HasPrefix(remote, "127.0.0.1:"))
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not rate limited")
	}
	select {
	case <-rec.got:
		t.Fatal("rate limited frame reached the handler")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServer_StopWaitsForHandlers(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	finished := false
	h := HandlerFunc(func(context.Context, model.IngestFrame) {
		close(entered)
		<-release
		finished = true
	})
	s := NewServer("127.0.0.1:0", h, nil)
	require.NoError(t, s.Start())

	conn := send(t, s.Addr(), "{}", true)
	defer conn.Close()
	<-entered

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned before handler finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped
	assert.True(t, finished)
}
