package download_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"railplanner.dev/core/download"
	"railplanner.dev/core/feed"
	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

type stubFeed struct {
	apiURL   string
	fileName string
}

func (f stubFeed) AssociatedTables() []store.Table { return nil }
func (f stubFeed) ExpiryLength() time.Duration      { return time.Hour }
func (f stubFeed) FileName() string                 { return f.fileName }
func (f stubFeed) FeedAPIURL() string               { return f.apiURL }
func (f stubFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	return nil
}
func (f stubFeed) PreprocessHook(ctx context.Context, st store.Store) error { return nil }

func TestFetchStreamsBodyToWorkingDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/CIF_ALL_FULL_DAILY", r.URL.Path)
		require.Equal(t, "secret-token", r.Header.Get("X-Auth-Token"))
		w.Write([]byte("line one\nline two\n"))
	}))
	defer srv.Close()

	dataDir := t.TempDir()
	d := download.New(srv.URL, srv.URL+"/authenticate", dataDir, zap.NewNop())

	f := stubFeed{apiURL: "/CIF_ALL_FULL_DAILY", fileName: "cif.dat"}
	workDir, err := d.Fetch(context.Background(), f, "secret-token", progress.New())
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(workDir, "cif.dat"))
	require.NoError(t, err)
	require.Equal(t, "line one\nline two\n", string(body))
}

func TestFetchReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := download.New(srv.URL, srv.URL+"/authenticate", t.TempDir(), zap.NewNop())
	f := stubFeed{apiURL: "/denied", fileName: "denied.dat"}

	_, err := d.Fetch(context.Background(), f, "bad-token", progress.New())
	require.Error(t, err)
}

func TestAuthenticateParsesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "alice", r.Form.Get("username"))
		require.Equal(t, "s3cret", r.Form.Get("password"))
		w.Write([]byte(`{"token":"abc123"}`))
	}))
	defer srv.Close()

	d := download.New(srv.URL, srv.URL, t.TempDir(), zap.NewNop())
	token, err := d.Authenticate(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "abc123", token)
}

func TestBackupAndFromLocalStorageRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	storageDir := t.TempDir()
	d := download.New("https://example.invalid", "https://example.invalid/authenticate", dataDir, zap.NewNop())

	f := stubFeed{apiURL: "/KBStations", fileName: "stations.xml"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<stations/>"))
	}))
	defer srv.Close()
	d2 := download.New(srv.URL, srv.URL+"/authenticate", dataDir, zap.NewNop())
	workDir, err := d2.Fetch(context.Background(), f, "token", progress.New())
	require.NoError(t, err)
	require.NoError(t, d2.Backup(f, workDir, storageDir))

	restoredDir, err := d.FromLocalStorage(f, storageDir)
	require.NoError(t, err)
	body, err := os.ReadFile(filepath.Join(restoredDir, "stations.xml"))
	require.NoError(t, err)
	require.Equal(t, "<stations/>", string(body))
}

func TestCleanupRemovesWorkingDirectory(t *testing.T) {
	dataDir := t.TempDir()
	d := download.New("https://example.invalid", "https://example.invalid/authenticate", dataDir, zap.NewNop())

	workDir := filepath.Join(dataDir, "some-feed")
	require.NoError(t, os.MkdirAll(workDir, 0o755))

	require.NoError(t, d.Cleanup(workDir))
	_, err := os.Stat(workDir)
	require.True(t, os.IsNotExist(err))
}
