package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"heatsurface/broker/internal/config"
)

// rotatingWriter appends to a single log file and rotates it by size, pruning
// old generations by count and age.
type rotatingWriter struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	compress   bool
	file       *os.File
	size       int64
	now        func() time.Time
}

func newRotatingWriter(cfg config.LoggingConfig) (*rotatingWriter, error) {
	if cfg.MaxSizeMB <= 0 {
		return nil, errors.New("HEAT_LOG_MAX_SIZE_MB must be positive")
	}
	if cfg.MaxBackups < 0 {
		return nil, errors.New("HEAT_LOG_MAX_BACKUPS must be non-negative")
	}
	if cfg.MaxAgeDays < 0 {
		return nil, errors.New("HEAT_LOG_MAX_AGE_DAYS must be non-negative")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &rotatingWriter{
		path:       cfg.Path,
		maxSize:    int64(cfg.MaxSizeMB) << 20,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		compress:   cfg.Compress,
		file:       file,
		size:       info.Size(),
		now:        time.Now,
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingWriter) rotateLocked() error {
	if w.file == nil {
		return errors.New("log file not initialized")
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%s", w.path, w.now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}
	if w.compress {
		if err := gzipFile(rotated, rotated+".gz"); err == nil {
			_ = os.Remove(rotated)
		}
	}
	w.pruneLocked()
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = file
	w.size = 0
	return nil
}

func (w *rotatingWriter) pruneLocked() {
	dir := filepath.Dir(w.path)
	prefix := filepath.Base(w.path) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type generation struct {
		path string
		mod  time.Time
	}
	var generations []generation
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		generations = append(generations, generation{path: filepath.Join(dir, entry.Name()), mod: info.ModTime()})
	}
	sort.Slice(generations, func(i, j int) bool { return generations[i].mod.After(generations[j].mod) })
	cutoff := time.Time{}
	if w.maxAge > 0 {
		cutoff = w.now().Add(-w.maxAge)
	}
	for i, gen := range generations {
		tooMany := w.maxBackups > 0 && i >= w.maxBackups
		tooOld := !cutoff.IsZero() && gen.mod.Before(cutoff)
		if tooMany || tooOld {
			_ = os.Remove(gen.path)
		}
	}
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		return err
	}
	return gz.Close()
}
