package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer over a log file that rotates on size and on
// day change. Rotated files are renamed with a timestamp, optionally
// gzipped, and pruned by count and age.
type FileRotator struct {
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     int // days
	compress   bool

	mu      sync.Mutex
	f       *os.File
	written int64
	day     int // year day the current file was opened on
}

// NewFileRotator opens (creating if needed) the log file described by cfg.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{
		path:       cfg.FilePath,
		maxBytes:   cfg.MaxSize * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     cfg.MaxAge,
		compress:   cfg.Compress,
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.f = f
	r.written = info.Size()
	r.day = time.Now().YearDay()
	return nil
}

func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	overSize := r.maxBytes > 0 && r.written+int64(len(p)) > r.maxBytes
	newDay := time.Now().YearDay() != r.day
	if overSize || newDay {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.f.Write(p)
	r.written += int64(n)
	return n, err
}

// rotate renames the current file to a timestamped archive and starts a
// fresh one. Compression and retention run off the write path.
func (r *FileRotator) rotate() error {
	if r.f != nil {
		if err := r.f.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		r.f = nil
	}

	archived := r.archiveName(time.Now())
	if err := os.Rename(r.path, archived); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive log file: %w", err)
	}

	if r.compress {
		go gzipAndReplace(archived)
	}
	go r.applyRetention()

	return r.open()
}

// archiveName builds "<name>-<timestamp><ext>" next to the live file.
func (r *FileRotator) archiveName(now time.Time) string {
	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	stamp := now.Format("20060102-150405")
	return filepath.Join(dir, name+"-"+stamp+ext)
}

// archivePattern matches every rotated file, gzipped or not.
func (r *FileRotator) archivePattern() string {
	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, name+"-*"+ext+"*")
}

// gzipAndReplace compresses path to path.gz and removes the original. The
// original survives any failure.
func gzipAndReplace(path string) {
	in, err := os.Open(path)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(path)
	gz.ModTime = time.Now()

	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

// applyRetention removes archives past MaxBackups (oldest first) or older
// than MaxAge days.
func (r *FileRotator) applyRetention() {
	matches, err := filepath.Glob(r.archivePattern())
	if err != nil {
		return
	}

	type archive struct {
		path string
		mod  time.Time
	}
	archives := make([]archive, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		archives = append(archives, archive{path: m, mod: info.ModTime()})
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].mod.Before(archives[j].mod) })

	excess := 0
	if r.maxBackups > 0 {
		excess = len(archives) - r.maxBackups
	}
	cutoff := time.Now().AddDate(0, 0, -r.maxAge)
	for i, a := range archives {
		if i < excess || (r.maxAge > 0 && a.mod.Before(cutoff)) {
			os.Remove(a.path)
		}
	}
}

func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Sync flushes the current file to disk.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return nil
	}
	return r.f.Sync()
}

// GetLogFiles lists the live log file and every archive.
func (r *FileRotator) GetLogFiles() ([]string, error) {
	files := []string{r.path}
	matches, err := filepath.Glob(r.archivePattern())
	if err != nil {
		return files, err
	}
	return append(files, matches...), nil
}
