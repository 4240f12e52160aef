package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDir_Save(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "out")
	d, err := NewDir(root)
	require.NoError(t, err)

	p, err := d.Save(context.Background(), "image-ada@example.com.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "image-ada@example.com.png"), p)

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))
}

func TestDir_RejectsUnsafeNames(t *testing.T) {
	t.Parallel()

	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../escape.png", `a\b.png`} {
		_, err := d.Save(context.Background(), name, []byte("x"))
		assert.Error(t, err, name)
	}
}

func TestS3_Save(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		gotPath     string
		gotBody     string
		gotType     string
		gotAuthHead string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath = r.URL.Path
		gotBody = string(body)
		gotType = r.Header.Get("Content-Type")
		gotAuthHead = r.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewS3(S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		Bucket:    "certs",
		Prefix:    "2026",
		Region:    "us-east-1",
		AccessKey: "access",
		SecretKey: "secret",
	}, nil)
	require.NoError(t, err)

	loc, err := s.Save(context.Background(), "image-ada@example.com.png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "s3://certs/2026/image-ada@example.com.png", loc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/certs/2026/image-ada@example.com.png", gotPath)
	assert.Contains(t, gotBody, "png-bytes")
	assert.Equal(t, "image/png", gotType)
	assert.Contains(t, gotAuthHead, "AWS4-HMAC-SHA256")
}

func TestS3_SaveError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
	}))
	defer srv.Close()

	s, err := NewS3(S3Config{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Bucket:   "certs",
		Region:   "us-east-1",
	}, nil)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "a.png", []byte("png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certs/a.png")
}

func TestNewS3_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewS3(S3Config{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err)
}
