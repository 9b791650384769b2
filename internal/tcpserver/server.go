package tcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/tinytelemetry/metricgw/internal/model"
)

const (
	// DefaultAddr is the control-processor TCP port.
	DefaultAddr = "0.0.0.0:9999"

	// DefaultReadTimeout bounds how long a peer may take to send its frame.
	DefaultReadTimeout = 5 * time.Second

	// DefaultMaxConnections caps concurrently handled connections.
	DefaultMaxConnections = 256

	// truncationProbe is how long to look for bytes past a full frame.
	truncationProbe = 10 * time.Millisecond
)

// FrameHandler consumes the single frame read from a connection. The
// connection is already closed when HandleFrame runs.
type FrameHandler interface {
	HandleFrame(ctx context.Context, frame model.IngestFrame)
}

// HandlerFunc adapts a function to FrameHandler.
type HandlerFunc func(ctx context.Context, frame model.IngestFrame)

func (f HandlerFunc) HandleFrame(ctx context.Context, frame model.IngestFrame) { f(ctx, frame) }

// Limiter decides whether a peer may open another connection.
type Limiter interface {
	Allow(key string) bool
}

// ServerConfig holds tunable parameters for the TCP server.
type ServerConfig struct {
	MaxFrameSize   int
	ReadTimeout    time.Duration
	MaxConnections int
	Limiter        Limiter
	// OnRateLimited is called for every connection closed by Limiter.
	OnRateLimited func(remoteAddr string)
}

// Server accepts single-shot control-processor connections: each carries
// one frame of at most MaxFrameSize bytes, and nothing is written back.
type Server struct {
	listener       net.Listener
	addr           string
	handler        FrameHandler
	logger         *zap.Logger
	maxFrameSize   int
	readTimeout    time.Duration
	maxConnections int
	limiter        Limiter
	onRateLimited  func(string)
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewServer creates a new TCP server. Default addr is "0.0.0.0:9999".
func NewServer(addr string, handler FrameHandler, logger *zap.Logger, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:           addr,
		handler:        handler,
		logger:         logger.With(zap.String("component", "tcpserver")),
		maxFrameSize:   model.DefaultTCPMaxFrameSize,
		readTimeout:    DefaultReadTimeout,
		maxConnections: DefaultMaxConnections,
	}
	if len(conf) > 0 {
		c := conf[0]
		if c.MaxFrameSize > 0 {
			s.maxFrameSize = c.MaxFrameSize
		}
		if c.ReadTimeout > 0 {
			s.readTimeout = c.ReadTimeout
		}
		if c.MaxConnections > 0 {
			s.maxConnections = c.MaxConnections
		}
		s.limiter = c.Limiter
		s.onRateLimited = c.OnRateLimited
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start begins accepting TCP connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = netutil.LimitListener(listener, s.maxConnections)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed", zap.Error(err))
				continue
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}()

	s.logger.Info("tcp server listening",
		zap.String("addr", s.Addr()),
		zap.Int("max_frame_size", s.maxFrameSize))
	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	remote := conn.RemoteAddr().String()
	if s.limiter != nil && !s.limiter.Allow(hostOf(remote)) {
		conn.Close()
		s.logger.Warn("connection rate limited", zap.String("remote", remote))
		if s.onRateLimited != nil {
			s.onRateLimited(remote)
		}
		return
	}

	frame := model.IngestFrame{
		RemoteAddr: remote,
		ConnID:     uuid.NewString(),
	}
	payload, truncated, err := s.readFrame(conn)
	// The peer never gets a reply; the socket is done once the frame is in.
	conn.Close()

	if err != nil && len(payload) == 0 {
		s.logger.Debug("no frame received",
			zap.String("conn_id", frame.ConnID),
			zap.String("remote", remote),
			zap.Error(err))
		return
	}

	frame.Payload = payload
	frame.Truncated = truncated
	frame.ReceivedAt = time.Now()
	s.handler.HandleFrame(s.ctx, frame)
}

// readFrame reads up to maxFrameSize bytes. It returns as soon as the bytes
// read form a complete JSON value, at a newline that ends one, at EOF or at
// the read deadline. A newline inside an unfinished value is kept as payload.
// A frame that filled the buffer is reported truncated when more bytes
// follow it.
func (s *Server) readFrame(conn net.Conn) ([]byte, bool, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, false, err
	}

	buf := make([]byte, s.maxFrameSize)
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		if end, ok := frameEnd(buf[:n+m], n); ok {
			return buf[:end], false, nil
		}
		n += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf[:n], false, nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && n > 0 {
				return buf[:n], false, nil
			}
			return buf[:n], false, err
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(truncationProbe)); err != nil {
		return buf, false, nil
	}
	var extra [1]byte
	m, _ := conn.Read(extra[:])
	return buf, m > 0 && extra[0] != '\n', nil
}

// Stop closes the listener and waits for in-flight connections.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// frameEnd reports where a complete frame ends in data, looking only at bytes
// from offset from on. A newline ends the frame when the bytes before it are
// valid JSON; otherwise the whole of data counts once it is valid JSON.
func frameEnd(data []byte, from int) (int, bool) {
	for i := from; i < len(data); i++ {
		if data[i] == '\n' && json.Valid(data[:i]) {
			return i, true
		}
	}
	if len(data) > from && json.Valid(data) {
		return len(data), true
	}
	return 0, false
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
