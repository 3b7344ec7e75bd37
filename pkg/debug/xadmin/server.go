package xadmin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/omeyang/xrelay/pkg/business/xrelay"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
)

const (
	DefaultSocketPath     = "/var/run/xrelay.sock"
	DefaultSocketPerm     = os.FileMode(0o600)
	DefaultCommandTimeout = 30 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultMaxSessions    = 4
)

// Option 配置 Server
type Option func(*Server)

func WithSocketPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.path = path
		}
	}
}

// WithSocketPerm socket 文件权限，默认 0600
func WithSocketPerm(perm os.FileMode) Option {
	return func(s *Server) {
		if perm != 0 {
			s.perm = perm
		}
	}
}

func WithCommandTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.commandTimeout = d
		}
	}
}

// WithIdleTimeout 会话两次请求之间的最长等待
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

func WithLogger(l xlog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server 管理通道服务端
type Server struct {
	registry       *CommandRegistry
	path           string
	perm           os.FileMode
	commandTimeout time.Duration
	idleTimeout    time.Duration
	maxSessions    int
	logger         xlog.Logger

	slots    chan struct{}
	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// New 创建服务端，Run 之前不会创建 socket
func New(registry *CommandRegistry, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	s := &Server{
		registry:       registry,
		path:           DefaultSocketPath,
		perm:           DefaultSocketPerm,
		commandTimeout: DefaultCommandTimeout,
		idleTimeout:    DefaultIdleTimeout,
		maxSessions:    DefaultMaxSessions,
		logger:         xlog.Default(),
		conns:          make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.slots = make(chan struct{}, s.maxSessions)
	return s, nil
}

// Addr socket 路径
func (s *Server) Addr() string { return s.path }

// Run 监听并服务直到 ctx 取消，返回前关闭所有会话并删除 socket 文件。
// ctx 取消属于正常退出，返回 nil。
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "admin socket listening",
		xlog.Component("xadmin"), slog.String("path", s.path))

	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() { s.shutdown() })
	defer stop()

	backoff := xretry.NewExponentialBackoff(
		xretry.WithInitialDelay(5*time.Millisecond),
		xretry.WithMaxDelay(time.Second),
		xretry.WithJitter(0),
	)
	failures := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			failures++
			s.logger.Warn(ctx, "admin accept failed", xlog.Component("xadmin"), xlog.Err(err))
			select {
			case <-ctx.Done():
			case <-time.After(backoff.NextDelay(failures)):
			}
			continue
		}
		failures = 0

		select {
		case s.slots <- struct{}{}:
		default:
			_ = WriteMessage(conn, MessageTypeResponse, errorResponse(ErrTooManySessions, ""))
			_ = conn.Close()
			continue
		}
		if !s.track(conn) {
			<-s.slots
			_ = conn.Close()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-s.slots }()
			s.serve(ctx, conn)
		}()
	}

	s.shutdown()
	wg.Wait()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn(ctx, "remove admin socket", xlog.Component("xadmin"), xlog.Err(err))
	}
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	// 只清理残留的 socket，其他类型的文件原样保留
	if info, err := os.Lstat(s.path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("xadmin: %s exists and is not a socket", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return nil, fmt.Errorf("xadmin: remove stale socket: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("xadmin: stat socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("xadmin: listen: %w", err)
	}
	if err := os.Chmod(s.path, s.perm); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("xadmin: chmod socket: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln, nil
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// shutdown 关闭监听与全部连接，阻塞中的读写随之返回
func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	for c := range s.conns {
		_ = c.Close()
	}
}

// serve 处理一个会话：循环读取请求直到对端关闭、空闲超时或服务关闭
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	peer := "unknown"
	if id, err := peerIdentity(conn); err == nil {
		peer = id.String()
	}
	s.logger.Info(ctx, "admin session start", xlog.Component("xadmin"), slog.String("peer", peer))
	defer s.logger.Info(ctx, "admin session end", xlog.Component("xadmin"), slog.String("peer", peer))

	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		var req Request
		if err := ReadMessage(conn, MessageTypeRequest, &req); err != nil {
			var ne net.Error
			if !errors.Is(err, ErrConnectionClosed) && !(errors.As(err, &ne) && ne.Timeout()) && ctx.Err() == nil {
				_ = WriteMessage(conn, MessageTypeResponse, errorResponse(err, ""))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		resp := s.handle(ctx, peer, &req)
		_ = conn.SetWriteDeadline(time.Now().Add(s.commandTimeout))
		if err := WriteMessage(conn, MessageTypeResponse, resp); err != nil {
			s.logger.Warn(ctx, "admin write failed", xlog.Component("xadmin"), xlog.Err(err))
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, peer string, req *Request) *Response {
	start := time.Now()
	attrs := []slog.Attr{xlog.Component("xadmin"), xlog.Operation(req.Command),
		slog.String("peer", peer), slog.Any("args", req.Args)}

	cmd := s.registry.Get(req.Command)
	if cmd == nil {
		s.logger.Warn(ctx, "admin command rejected", append(attrs, xlog.Err(ErrCommandNotFound))...)
		return errorResponse(fmt.Errorf("%w: %s", ErrCommandNotFound, req.Command), "")
	}
	if !s.registry.IsAllowed(req.Command) {
		s.logger.Warn(ctx, "admin command rejected", append(attrs, xlog.Err(ErrCommandForbidden))...)
		return errorResponse(ErrCommandForbidden, "")
	}

	cctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()
	out, err := execute(cctx, cmd, req.Args)
	attrs = append(attrs, xlog.Duration(time.Since(start)))
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout
		}
		s.logger.Warn(ctx, "admin command failed", append(attrs, xlog.Err(err))...)
		return errorResponse(err, xrelay.Code(err))
	}
	s.logger.Info(ctx, "admin command", attrs...)
	return truncateOutput(out, DefaultMaxOutputSize)
}

// execute 命令 panic 转为错误，不影响主进程
func execute(ctx context.Context, cmd Command, args []string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xadmin: command panicked: %v", r)
		}
	}()
	return cmd.Execute(ctx, args)
}
