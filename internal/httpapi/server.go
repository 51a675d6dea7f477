// Package httpapi exposes the caption service over HTTP.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/zbimage/captiond/internal/service"
)

// DefaultMaxBodyBytes caps uploads and referenced files.
const DefaultMaxBodyBytes = 20 << 20

// Captioner handles one caption request.
type Captioner interface {
	Handle(ctx context.Context, image []byte) (service.Result, error)
}

// StatusFunc reports service health for /healthz.
type StatusFunc func() map[string]any

type Server struct {
	captioner Captioner
	secret    string
	maxBody   int64
	fs        afero.Fs
	status    StatusFunc
	logger    *log.Logger

	mux *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool
}

type Option func(*Server)

// WithSecret sets the shared secret expected in the X-Auth header. With no
// secret every caption request is rejected.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithFS sets the filesystem used to resolve {"path": ...} requests.
func WithFS(fs afero.Fs) Option {
	return func(s *Server) {
		s.fs = fs
	}
}

func WithStatus(fn StatusFunc) Option {
	return func(s *Server) {
		s.status = fn
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

func NewServer(captioner Captioner, opts ...Option) *Server {
	s := &Server{
		captioner: captioner,
		maxBody:   DefaultMaxBodyBytes,
		fs:        afero.NewOsFs(),
		logger:    log.Default().WithPrefix("http"),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	return srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/caption", s.handleCaption)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}
