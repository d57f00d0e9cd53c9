package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/jmylchreest/castarr/internal/es"
	"github.com/jmylchreest/castarr/internal/urlutil"
	"github.com/jmylchreest/castarr/pkg/m3u"
)

// PlaylistSource plays the entries of an M3U playlist one after another.
// Each entry's streams are removed from the sink before the next starts.
type PlaylistSource struct {
	uri     string
	cfg     Config
	fetcher *urlutil.ResourceFetcher
	logger  *slog.Logger

	// open is overridable for tests.
	open func(uri string, cfg Config) Source
}

// NewPlaylistSource creates a PlaylistSource for the playlist at uri.
func NewPlaylistSource(uri string, cfg Config) *PlaylistSource {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PlaylistSource{
		uri:     uri,
		cfg:     cfg,
		fetcher: urlutil.NewResourceFetcher(cfg.HTTPClient),
		logger:  cfg.Logger.With(slog.String("playlist", uri)),
		open:    openMedia,
	}
}

// URI returns the playlist location.
func (s *PlaylistSource) URI() string {
	return s.uri
}

// Run plays every entry. An entry that fails is logged and skipped; Run
// fails only when no entry played. A terminal sink error ends the playlist.
func (s *PlaylistSource) Run(ctx context.Context, sink es.Sink) error {
	entries, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("playlist loaded", slog.Int("entries", len(entries)))

	played := 0
	var lastErr error
	for i, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		loc := e.Resolve(s.uri)
		if IsPlaylist(loc) {
			s.logger.Warn("skipping nested playlist", slog.String("entry", loc))
			continue
		}

		s.logger.Info("playing entry",
			slog.Int("index", i+1),
			slog.String("title", e.Title),
			slog.String("entry", loc),
		)
		if err := s.open(loc, s.cfg).Run(ctx, sink); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if terminal(err) {
				return err
			}
			lastErr = err
			s.logger.Warn("entry failed",
				slog.String("entry", loc),
				slog.String("error", err.Error()),
			)
			continue
		}
		played++
	}

	if played == 0 && lastErr != nil {
		return fmt.Errorf("no playlist entry played: %w", lastErr)
	}
	return nil
}

func (s *PlaylistSource) load(ctx context.Context) ([]m3u.Entry, error) {
	body, err := s.fetcher.Fetch(ctx, s.uri)
	if err != nil {
		return nil, fmt.Errorf("opening playlist %s: %w", s.uri, err)
	}
	defer body.Close()

	entries, err := m3u.Parse(body)
	if err != nil {
		if errors.Is(err, m3u.ErrEmpty) {
			return nil, fmt.Errorf("%s: %w", s.uri, err)
		}
		return nil, fmt.Errorf("reading playlist %s: %w", s.uri, err)
	}
	return entries, nil
}

// IsPlaylist reports whether uri names an M3U playlist (not HLS).
func IsPlaylist(uri string) bool {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.ToLower(p)
	for _, ext := range []string{".gz", ".xz", ".bz2"} {
		p = strings.TrimSuffix(p, ext)
	}
	return path.Ext(p) == ".m3u"
}
