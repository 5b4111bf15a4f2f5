// Package export writes the operator's link lists to text files: one per
// active session with the links it holds, and one with the reserve.
package export

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/distributor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
)

// DefaultReserveLimit caps the reserve file.
const DefaultReserveLimit = 500

type Store interface {
	ActiveSessions(ctx context.Context) ([]storage.Session, error)
	SessionLinks(ctx context.Context, sessionID int64, limit int) ([]string, error)
	ReserveLinks(ctx context.Context, limit int) ([]string, error)
}

type Config struct {
	Dir          string
	Capacity     int
	ReserveLimit int
}

// File is one written export.
type File struct {
	Path      string
	Name      string
	SessionID int64 // 0 for the reserve file
	Count     int
}

func (c Config) withDefaults() Config {
	if c.Dir == "" {
		c.Dir = "./exports"
	}
	if c.Capacity <= 0 {
		c.Capacity = distributor.DefaultCapacity
	}
	if c.ReserveLimit <= 0 {
		c.ReserveLimit = DefaultReserveLimit
	}
	return c
}

type Exporter struct {
	store Store
	now   func() time.Time

	mu  sync.Mutex
	cfg Config
}

func New(store Store, cfg Config) *Exporter {
	return &Exporter{store: store, cfg: cfg.withDefaults(), now: time.Now}
}

// Apply changes the settings used by the next Export.
func (e *Exporter) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// Export writes a fresh set of files into a timestamped directory under
// Config.Dir. Sessions holding no links get no file; the reserve file is
// always written.
func (e *Exporter) Export(ctx context.Context) ([]File, error) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	dir := filepath.Join(cfg.Dir, e.now().UTC().Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	sessions, err := e.store.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []File
	for _, sess := range sessions {
		links, err := e.store.SessionLinks(ctx, sess.ID, cfg.Capacity)
		if err != nil {
			return out, fmt.Errorf("links of session %d: %w", sess.ID, err)
		}
		if len(links) == 0 {
			continue
		}
		name := fmt.Sprintf("session_%d%s.txt", sess.ID, phoneSuffix(sess.Phone))
		f, err := writeLines(filepath.Join(dir, name), links)
		if err != nil {
			return out, err
		}
		f.SessionID = sess.ID
		out = append(out, f)
	}

	reserve, err := e.store.ReserveLinks(ctx, cfg.ReserveLimit)
	if err != nil {
		return out, fmt.Errorf("reserve links: %w", err)
	}
	f, err := writeLines(filepath.Join(dir, "reserve_"+strconv.Itoa(cfg.ReserveLimit)+".txt"), reserve)
	if err != nil {
		return out, err
	}
	return append(out, f), nil
}

var unsafeName = regexp.MustCompile(`[^0-9A-Za-z]+`)

func phoneSuffix(phone string) string {
	p := unsafeName.ReplaceAllString(phone, "")
	if p == "" {
		return ""
	}
	return "_" + p
}

// writeLines writes one value per line through a temp file and rename, so a
// reader never sees a partial file.
func writeLines(path string, lines []string) (File, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return File{}, fmt.Errorf("create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		_, _ = w.WriteString(l)
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return File{}, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return File{}, fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return File{}, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return File{Path: path, Name: filepath.Base(path), Count: len(lines)}, nil
}
