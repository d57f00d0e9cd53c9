// Package publish serves chain output to the renderer over HTTP. Each
// chain mounts one stream at its own path; the stream is handed to exactly
// one client fetch.
package publish

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/castarr/internal/observability"
)

var (
	// ErrPathInUse is returned by Mount for a path that is already mounted.
	ErrPathInUse = errors.New("publish path already mounted")
	// ErrAlreadyServed is reported when a second client asks for a stream.
	ErrAlreadyServed = errors.New("stream already served")
)

// DLNA response headers. The flags mark the resource as a live stream
// without byte or time seeking.
const (
	HeaderTransferMode    = "transferMode.dlna.org"
	HeaderContentFeatures = "contentFeatures.dlna.org"

	transferModeStreaming = "Streaming"
	contentFeatures       = "DLNA.ORG_OP=00;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=01700000000000000000000000000000"
)

const copyBufferSize = 32 * 1024

// MountInfo describes a mounted stream.
type MountInfo struct {
	Path      string    `json:"path"`
	MIME      string    `json:"mime"`
	Served    bool      `json:"served"`
	Bytes     int64     `json:"bytes"`
	MountedAt time.Time `json:"mounted_at"`
}

type mount struct {
	MountInfo
	body io.ReadCloser
}

// Server is an http.Handler publishing mounted streams.
type Server struct {
	router chi.Router
	logger *slog.Logger

	mu     sync.Mutex
	mounts map[string]*mount
}

// NewServer creates a server with no mounts.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger: observability.WithComponent(logger, "publish"),
		mounts: make(map[string]*mount),
	}

	r := chi.NewRouter()
	r.Head("/*", s.handleHead)
	r.Get("/*", s.handleGet)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Mount publishes body at path. The server owns body from here on.
func (s *Server) Mount(path, mime string, body io.ReadCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mounts[path]; ok {
		return ErrPathInUse
	}
	s.mounts[path] = &mount{
		MountInfo: MountInfo{Path: path, MIME: mime, MountedAt: time.Now()},
		body:      body,
	}
	s.logger.Debug("stream mounted", slog.String("path", path), slog.String("mime", mime))
	return nil
}

// Unmount removes path and closes its body, ending any transfer in progress.
func (s *Server) Unmount(path string) {
	s.mu.Lock()
	m, ok := s.mounts[path]
	delete(s.mounts, path)
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := m.body.Close(); err != nil {
		s.logger.Debug("closing stream body", slog.String("path", path), slog.String("error", err.Error()))
	}
	s.logger.Debug("stream unmounted", slog.String("path", path))
}

// Mounts lists the mounted streams sorted by path.
func (s *Server) Mounts() []MountInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MountInfo, 0, len(s.mounts))
	for _, m := range s.mounts {
		out = append(out, m.MountInfo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Server) lookup(path string) (*mount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mounts[path]
	return m, ok
}

// claim marks the stream served, failing if another client got it first.
func (s *Server) claim(path string) (*mount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mounts[path]
	if !ok {
		return nil, nil
	}
	if m.Served {
		return nil, ErrAlreadyServed
	}
	m.Served = true
	return m, nil
}

func (s *Server) addBytes(path string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mounts[path]; ok {
		m.Bytes += n
	}
}

func writeStreamHeaders(w http.ResponseWriter, mime string) {
	h := w.Header()
	h.Set("Content-Type", mime)
	h.Set("Cache-Control", "no-cache")
	h.Set(HeaderTransferMode, transferModeStreaming)
	h.Set(HeaderContentFeatures, contentFeatures)
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeStreamHeaders(w, m.MIME)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	logger := s.logger.With(slog.String("path", path), slog.String("remote_addr", r.RemoteAddr))

	m, err := s.claim(path)
	if err != nil {
		logger.Warn("refusing second client", slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	if m == nil {
		http.NotFound(w, r)
		return
	}

	writeStreamHeaders(w, m.MIME)
	w.WriteHeader(http.StatusOK)
	logger.Info("renderer connected")

	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	var total int64
	for {
		n, readErr := m.body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				logger.Info("renderer disconnected", slog.Int64("bytes", total))
				return
			}
			_ = rc.Flush()
			total += int64(n)
			s.addBytes(path, int64(n))
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				logger.Debug("stream ended", slog.String("error", readErr.Error()))
			}
			logger.Info("stream finished", slog.Int64("bytes", total))
			return
		}
		if r.Context().Err() != nil {
			logger.Info("renderer disconnected", slog.Int64("bytes", total))
			return
		}
	}
}
