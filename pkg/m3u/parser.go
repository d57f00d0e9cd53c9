// Package m3u reads M3U playlists of media locations. Extended M3U
// (#EXTINF) titles and attributes are kept; compressed playlists are
// detected from their magic bytes.
package m3u

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"
)

// ErrEmpty is returned when a playlist holds no entries.
var ErrEmpty = errors.New("playlist has no entries")

// maxLineSize bounds a single playlist line.
const maxLineSize = 1024 * 1024

// Entry is one playlist item.
type Entry struct {
	// Duration in seconds, -1 when unknown or live.
	Duration int
	Title    string
	// Location is the URL or path as written in the playlist.
	Location string
	// Attrs holds EXTINF key="value" attributes with lowercased keys.
	Attrs map[string]string
}

var (
	extinfRegex = regexp.MustCompile(`^#EXTINF:\s*(-?\d+)\s*(.*)$`)
	attrRegex   = regexp.MustCompile(`([a-zA-Z0-9_-]+)=(?:"([^"]*)"|([^\s,]+))`)
)

// Parse reads every entry of a plain or compressed playlist.
func Parse(r io.Reader) ([]Entry, error) {
	plain, err := Decompress(r)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(plain)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		entries []Entry
		pending *Entry
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "\ufeff")

		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			pending = parseExtinf(line)
		case strings.HasPrefix(line, "#"):
		default:
			e := Entry{Duration: -1, Location: line}
			if pending != nil {
				e = *pending
				e.Location = line
				pending = nil
			}
			if e.Title == "" {
				e.Title = titleFromLocation(line)
			}
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning playlist: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	return entries, nil
}

// Decompress returns a reader yielding the plain text of r, unwrapping
// gzip, bzip2 or xz.
func Decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case bytes.HasPrefix(header, []byte{0x1f, 0x8b}):
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil
	case bytes.HasPrefix(header, []byte("BZh")):
		return bzip2.NewReader(br), nil
	case bytes.HasPrefix(header, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	default:
		return br, nil
	}
}

// Resolve returns the entry location resolved against the playlist's own
// location, which may be a URL or a local path.
func (e Entry) Resolve(playlist string) string {
	loc, err := url.Parse(e.Location)
	if err == nil && loc.Scheme != "" && len(loc.Scheme) > 1 {
		return e.Location
	}

	base, err := url.Parse(playlist)
	if err == nil && base.Scheme != "" && len(base.Scheme) > 1 && loc != nil {
		return base.ResolveReference(loc).String()
	}

	if path.IsAbs(e.Location) {
		return e.Location
	}
	return path.Join(path.Dir(playlist), e.Location)
}

func parseExtinf(line string) *Entry {
	m := extinfRegex.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	duration, _ := strconv.Atoi(m[1])
	rest := m[2]

	e := &Entry{Duration: duration, Attrs: make(map[string]string)}
	if i := titleStart(rest); i >= 0 {
		e.Title = strings.TrimSpace(rest[i+1:])
		rest = rest[:i]
	}
	for _, a := range attrRegex.FindAllStringSubmatch(rest, -1) {
		v := a[2]
		if v == "" {
			v = a[3]
		}
		e.Attrs[strings.ToLower(a[1])] = v
	}
	return e
}

// titleStart finds the comma separating attributes from the title,
// ignoring commas inside quoted values.
func titleStart(s string) int {
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				return i
			}
		}
	}
	return -1
}

func titleFromLocation(loc string) string {
	if u, err := url.Parse(loc); err == nil && u.Path != "" {
		loc = u.Path
	}
	name := strings.TrimSuffix(path.Base(loc), path.Ext(loc))
	if name == "" || name == "." || name == "/" {
		return loc
	}
	return name
}
