package playback

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArtifactServer(t *testing.T) (*Server, []byte) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "Extra", "Train", "Dataset_2", "Reference_Audio", "Session_1", "05")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "array_full_All.wav"), content, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Tascar_scenes.tsc"), []byte("<session/>"), 0o644))
	return NewServer(root, nil), content
}

const artifact = "Extra/Train/Dataset_2/Reference_Audio/Session_1/05/array_full_All.wav"

func TestResolve(t *testing.T) {
	s, _ := newArtifactServer(t)

	_, err := s.Resolve(artifact)
	assert.NoError(t, err)

	for _, p := range []string{"", "/etc/passwd.wav", "../outside.wav", "Extra/../../outside.wav"} {
		_, err := s.Resolve(p)
		assert.ErrorIs(t, err, ErrOutsideRoot, p)
	}
	_, err = s.Resolve("Extra/Train/Dataset_2/TASCAR/Session_1/05/Tascar_scenes.tsc")
	assert.ErrorIs(t, err, ErrNotAnArtifact)

	_, err = NewServer("", nil).Resolve(artifact)
	assert.ErrorIs(t, err, ErrRootNotDefined)
}

func TestServeArtifact_Whole(t *testing.T) {
	s, content := newArtifactServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/artifacts", nil)

	require.NoError(t, s.ServeArtifact(rr, req, artifact))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "audio/wav", rr.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rr.Header().Get("Accept-Ranges"))
	assert.Equal(t, content, rr.Body.Bytes())
}

func TestServeArtifact_Range(t *testing.T) {
	s, content := newArtifactServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/artifacts", nil)
	req.Header.Set("Range", "bytes=44-143")

	require.NoError(t, s.ServeArtifact(rr, req, artifact))
	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "bytes 44-143/1000", rr.Header().Get("Content-Range"))
	assert.Equal(t, "100", rr.Header().Get("Content-Length"))
	assert.Equal(t, content[44:144], rr.Body.Bytes())
}

func TestServeArtifact_Unsatisfiable(t *testing.T) {
	s, _ := newArtifactServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/artifacts", nil)
	req.Header.Set("Range", "bytes=5000-")

	require.NoError(t, s.ServeArtifact(rr, req, artifact))
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rr.Code)
	assert.Equal(t, "bytes */1000", rr.Header().Get("Content-Range"))
}

func TestServeArtifact_HeadHasNoBody(t *testing.T) {
	s, _ := newArtifactServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/artifacts", nil)

	require.NoError(t, s.ServeArtifact(rr, req, artifact))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "1000", rr.Header().Get("Content-Length"))
	assert.Zero(t, rr.Body.Len())
}

func TestServeArtifact_Missing(t *testing.T) {
	s, _ := newArtifactServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/artifacts", nil)

	require.NoError(t, s.ServeArtifact(rr, req, "Extra/missing.wav"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
