package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/g960059/a2ui/internal/api"
	"github.com/g960059/a2ui/internal/config"
	"github.com/g960059/a2ui/internal/ingest"
	"github.com/g960059/a2ui/internal/model"
	"github.com/g960059/a2ui/internal/widgets"
	"github.com/g960059/a2ui/internal/wire"
)

type Server struct {
	cfg      config.Config
	httpSrv  *http.Server
	listener net.Listener
	lockFile *os.File
	engine   *ingest.Engine
	widgets  *widgets.Registry
	codec    *wire.Codec
	// ownsEngine is set when NewServer built the engine itself.
	ownsEngine bool

	// streams outlive their request context once hijacked; baseCtx ends them
	// on shutdown.
	baseCtx     context.Context
	stopBase    context.CancelFunc
	streamWG    sync.WaitGroup
	mu          sync.Mutex
	shutdown    sync.Once
	shutdownErr error
}

// NewServer builds a server around a fresh in-memory engine with no journal
// and no widget registry.
func NewServer(cfg config.Config) (*Server, error) {
	codec, err := wire.NewCodec(cfg.ValidateMessages, cfg.MaxMessageBytes)
	if err != nil {
		return nil, err
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	engine := ingest.NewEngine(baseCtx, nil, cfg)
	s := newServer(cfg, engine, nil, codec, baseCtx, cancel)
	s.ownsEngine = true
	return s, nil
}

// NewServerWithDeps serves an engine owned by the caller. registry may be
// nil, in which case the widget routes are not mounted.
func NewServerWithDeps(cfg config.Config, engine *ingest.Engine, registry *widgets.Registry, codec *wire.Codec) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	return newServer(cfg, engine, registry, codec, baseCtx, cancel)
}

func newServer(cfg config.Config, engine *ingest.Engine, registry *widgets.Registry, codec *wire.Codec, baseCtx context.Context, cancel context.CancelFunc) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		widgets:  registry,
		codec:    codec,
		baseCtx:  baseCtx,
		stopBase: cancel,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/messages", s.messagesHandler)
	mux.HandleFunc("/v1/surfaces", s.surfacesHandler)
	mux.HandleFunc("/v1/surfaces/", s.surfaceByIDHandler)
	mux.HandleFunc("/v1/elements", s.elementsHandler)
	mux.HandleFunc("/v1/actions", s.actionsHandler)
	mux.HandleFunc("/v1/journal", s.journalHandler)
	mux.HandleFunc("/v1/stream", s.streamHandler)
	if registry != nil {
		mux.HandleFunc("/v1/widgets", s.widgetsHandler)
		mux.HandleFunc("/v1/widgets/", s.widgetByIDHandler)
	}
	return s
}

// Handler exposes the routes for in-process use.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := s.acquireLock(); err != nil {
		return err
	}
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			s.releaseLock() //nolint:errcheck
			return fmt.Errorf("socket path exists and is not unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			s.releaseLock() //nolint:errcheck
			return fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close()      //nolint:errcheck
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	glog.Infof("[daemon] listening on %s", s.cfg.SocketPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve uds: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		s.stopBase()
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.streamWG.Wait()
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if s.cfg.SocketPath != "" {
			if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if s.ownsEngine {
			s.engine.Close()
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Surfaces:      len(s.engine.Surfaces()),
		Subscribers:   s.engine.Subscribers(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	resp := api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
		},
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrRefInvalid, "method not allowed")
}

func (s *Server) acquireLock() error {
	lockPath := s.cfg.SocketPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("daemon already running")
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
