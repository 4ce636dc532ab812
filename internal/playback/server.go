// Package playback streams rendered artifacts from the SPEAR tree with
// byte-range support, so long multichannel files can be scrubbed.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spearsim/scenebatch/internal/logging"
)

var (
	ErrOutsideRoot    = errors.New("path escapes the artifact root")
	ErrNotAnArtifact  = errors.New("only wav artifacts are served")
	ErrRootNotDefined = errors.New("artifact root is not configured")
)

type ArtifactService interface {
	ServeArtifact(w http.ResponseWriter, r *http.Request, relPath string) error
}

type Server struct {
	root   string
	logger *slog.Logger
}

func NewServer(root string, logger *slog.Logger) *Server {
	return &Server{root: root, logger: logging.OrDiscard(logger)}
}

// Resolve maps a slash-separated path relative to the root onto the
// filesystem. Absolute paths and paths leaving the root are rejected.
func (s *Server) Resolve(relPath string) (string, error) {
	if s.root == "" {
		return "", ErrRootNotDefined
	}
	if relPath == "" || strings.HasPrefix(relPath, "/") || filepath.IsAbs(relPath) {
		return "", ErrOutsideRoot
	}
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	if !strings.EqualFold(filepath.Ext(clean), ".wav") {
		return "", ErrNotAnArtifact
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Server) ServeArtifact(w http.ResponseWriter, r *http.Request, relPath string) error {
	filePath, err := s.Resolve(relPath)
	if err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "audio/wav")

	parsedRange, err := ParseRange(r.Header.Get("Range"), size)
	if err == ErrUnsatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	// malformed ranges are ignored and the whole file is sent
	if err != nil && err != ErrInvalidRange {
		return err
	}

	if parsedRange == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		if _, err := io.Copy(w, file); err != nil {
			s.logger.Debug("artifact copy interrupted", "path", logging.SanitizePath(filePath), "error", err)
		}
		return nil
	}

	w.Header().Set("Content-Length", strconv.FormatInt(parsedRange.ContentLength(), 10))
	w.Header().Set("Content-Range", parsedRange.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(parsedRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	if _, err := io.CopyN(w, file, parsedRange.ContentLength()); err != nil {
		s.logger.Debug("artifact copy interrupted", "path", logging.SanitizePath(filePath), "error", err)
	}
	return nil
}
