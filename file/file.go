package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stenstromen/wikiexport/config"
	"go.uber.org/zap"
)

// Sink is where downloaded exports end up.
type Sink interface {
	// Save stores data under filename and returns where it went.
	Save(ctx context.Context, filename string, data []byte) (string, error)
	// Prune deletes all but the newest keep exports and reports how many
	// were removed. keep <= 0 keeps everything.
	Prune(ctx context.Context, keep int) (int, error)
}

func NewSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (Sink, error) {
	if cfg.S3.Enabled {
		return NewS3Sink(ctx, cfg.S3, logger)
	}
	return NewLocalSink(cfg.SaveDir, logger), nil
}

const (
	tempPrefix      = ".export-"
	maxNameAttempts = 1000
)

type LocalSink struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

func NewLocalSink(dir string, logger *zap.Logger) *LocalSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSink{dir: dir, logger: logger, now: time.Now}
}

// Save writes through a temp file in the target directory so a failed write
// never leaves a partial export behind. Existing files are never replaced: the
// new export gets a timestamp suffix, then a counter, until the name is free.
func (s *LocalSink) Save(_ context.Context, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create save directory %q: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("unable to create temp file in %q: %w", s.dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("unable to write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("unable to write export: %w", err)
	}

	fullPath, err := s.claim(tmpName, filepath.Base(filename))
	if err != nil {
		return "", err
	}

	s.logger.Info("export saved", zap.String("path", fullPath), zap.Int("bytes", len(data)))
	return fullPath, nil
}

func (s *LocalSink) Prune(_ context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("unable to list files in directory %q: %w", s.dir, err)
	}

	var files []os.FileInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, info)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime().Before(files[j].ModTime())
	})

	removed := 0
	for _, info := range files[:max(len(files)-keep, 0)] {
		if err := os.Remove(filepath.Join(s.dir, info.Name())); err != nil {
			return removed, fmt.Errorf("unable to delete file %q: %w", info.Name(), err)
		}
		s.logger.Info("deleted export", zap.String("file", info.Name()))
		removed++
	}
	return removed, nil
}

// claim hard-links tmpName to the first free candidate name. os.Link fails
// with ErrExist instead of replacing, so two saves can never land on the same
// file.
func (s *LocalSink) claim(tmpName, name string) (string, error) {
	stamped := timestamped(name, s.now())
	for i := 0; i <= maxNameAttempts; i++ {
		candidate := name
		switch {
		case i == 1:
			candidate = stamped
		case i > 1:
			candidate = numbered(stamped, i-1)
		}
		fullPath := filepath.Join(s.dir, candidate)
		err := os.Link(tmpName, fullPath)
		if err == nil {
			return fullPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("unable to save export as %q: %w", fullPath, err)
		}
	}
	return "", fmt.Errorf("unable to find a free name for %q in %q", name, s.dir)
}

// timestamped turns export.pdf into export-<RFC3339>.pdf.
func timestamped(name string, t time.Time) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%s%s", strings.TrimSuffix(name, ext), t.UTC().Format(time.RFC3339), ext)
}

// numbered turns export-<RFC3339>.pdf into export-<RFC3339>-<n>.pdf.
func numbered(name string, n int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
