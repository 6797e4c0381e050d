package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"railplanner.dev/core/download"
	"railplanner.dev/core/feed"
	"railplanner.dev/core/ingest"
	"railplanner.dev/core/model"
	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

// fakeFeed is a minimal feed.Feed that writes a single fixed station row,
// letting these tests exercise the drain/write/expiry plumbing without
// needing a real DTD/KB fixture.
type fakeFeed struct {
	apiURL    string
	fileName  string
	hookCalls *int
}

func (f fakeFeed) AssociatedTables() []store.Table { return []store.Table{store.TableStations} }
func (f fakeFeed) ExpiryLength() time.Duration      { return time.Hour }
func (f fakeFeed) FileName() string                 { return f.fileName }
func (f fakeFeed) FeedAPIURL() string               { return f.apiURL }

func (f fakeFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	return chunks.Put(ctx, store.TableStations, model.Station{CRS: "EUS", Name: "London Euston"})
}

func (f fakeFeed) PreprocessHook(ctx context.Context, st store.Store) error {
	if f.hookCalls != nil {
		*f.hookCalls++
	}
	return nil
}

func TestRunSkipsWhenNoFeedsAreOutdated(t *testing.T) {
	st := store.NewMemoryStore()
	st.SetExpiry(context.Background(), "1.0/fresh", time.Now().Add(time.Hour))

	f := fakeFeed{apiURL: "1.0/fresh", fileName: "FRESH.XML"}
	dl := download.New("http://unused.invalid", "http://unused.invalid", t.TempDir(), zap.NewNop())
	orch := ingest.New(st, dl, progress.New(), zap.NewNop(), []feed.Feed{f})

	err := orch.Run(context.Background(), ingest.Options{DisableDownload: true})
	require.NoError(t, err)

	_, found, err := st.GetExpiry(context.Background(), "1.0/fresh")
	require.NoError(t, err)
	require.True(t, found)
}

func TestRunDownloadsParsesWritesAndSetsExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"token":"tok-123"}`))
		case r.URL.Path == "/1.0/stations":
			w.Write([]byte("<StationList/>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	st := store.NewMemoryStore()
	hookCalls := 0
	f := fakeFeed{apiURL: "1.0/stations", fileName: "STATIONS.XML", hookCalls: &hookCalls}

	dl := download.New(server.URL, server.URL+"/auth", t.TempDir(), zap.NewNop())
	orch := ingest.New(st, dl, progress.New(), zap.NewNop(), []feed.Feed{f})

	err := orch.Run(context.Background(), ingest.Options{Username: "u", Password: "p"})
	require.NoError(t, err)
	require.Equal(t, 1, hookCalls)

	names, err := st.NameToTIPLOCMap(context.Background())
	require.NoError(t, err)
	_ = names // the station row has no TIPLOC to join against, so the map is not asserted; only the expiry is checked below

	expiry, found, err := st.GetExpiry(context.Background(), "1.0/stations")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, expiry.ExpiryTimestamp > time.Now().Unix())
}

func TestRunIsANoOpWhenAlreadyUpdating(t *testing.T) {
	storageDir := t.TempDir()
	require.NoError(t, os.WriteFile(storageDir+"/STATIONS.XML", []byte("<StationList/>"), 0o644))

	st := store.NewMemoryStore()
	dl := download.New("http://unused.invalid", "http://unused.invalid", t.TempDir(), zap.NewNop())

	block := make(chan struct{})
	release := make(chan struct{})
	f := blockingFeed{
		fakeFeed: fakeFeed{apiURL: "1.0/stations", fileName: "STATIONS.XML"},
		block:    block,
		release:  release,
	}
	orch := ingest.New(st, dl, progress.New(), zap.NewNop(), []feed.Feed{f})
	opts := ingest.Options{DisableDownload: true, LocalStorageDir: storageDir}

	done := make(chan error, 1)
	go func() { done <- orch.Run(context.Background(), opts) }()
	<-block

	// The second call observes updating already in progress and returns
	// immediately without touching the store.
	require.NoError(t, orch.Run(context.Background(), opts))

	close(release)
	require.NoError(t, <-done)
}

// timetableFeed is a minimal feed.Feed that writes one train_timetables
// row and one timetable_locations row, exercising the orchestrator's
// BeginTrainTimetables/BeginTimetableLocations write-transaction pair
// against a real store.Store backend rather than store.NewMemoryStore.
type timetableFeed struct{}

func (f timetableFeed) AssociatedTables() []store.Table {
	return []store.Table{store.TableTrainTimetables, store.TableTimetableLocations}
}
func (f timetableFeed) ExpiryLength() time.Duration { return time.Hour }
func (f timetableFeed) FileName() string            { return "MCA.ZIP" }
func (f timetableFeed) FeedAPIURL() string          { return "1.0/timetable" }

func (f timetableFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	if err := chunks.Put(ctx, store.TableTrainTimetables, model.TrainTimetable{
		TrainUID:     "W12345",
		DateRunsFrom: 20240101,
		DateRunsTo:   20241231,
		Monday:       true,
		TOC:          "VT",
	}); err != nil {
		return err
	}
	return chunks.Put(ctx, store.TableTimetableLocations, model.TimetableLocation{
		TrainUID:               "W12345",
		TrainRouteIndex:        0,
		LocationType:           model.Origin,
		Location:               "EUSTON",
		ScheduledDepartureTime: 900,
	})
}

func (f timetableFeed) PreprocessHook(ctx context.Context, st store.Store) error { return nil }

// TestRunWritesTrainTimetablesAndTimetableLocationsAgainstSQLite drives a
// full refresh pass against an on-disk store.SQLiteStore (the backend
// cmd/railplanner actually opens), confirming both of the orchestrator's
// long-lived write transactions and the surrounding autocommit writes
// land correctly on one connection rather than racing across the pool.
func TestRunWritesTrainTimetablesAndTimetableLocationsAgainstSQLite(t *testing.T) {
	st, err := store.NewSQLiteStore(store.SQLiteConfig{OnDisk: true, Directory: t.TempDir()})
	require.NoError(t, err)
	defer st.Close()

	storageDir := t.TempDir()
	require.NoError(t, os.WriteFile(storageDir+"/MCA.ZIP", []byte("unused"), 0o644))

	dl := download.New("http://unused.invalid", "http://unused.invalid", t.TempDir(), zap.NewNop())
	orch := ingest.New(st, dl, progress.New(), zap.NewNop(), []feed.Feed{timetableFeed{}})

	err = orch.Run(context.Background(), ingest.Options{DisableDownload: true, LocalStorageDir: storageDir})
	require.NoError(t, err)

	date := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC) // a Monday within the run dates
	train, found, err := st.TrainTimetable(context.Background(), "W12345", date)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "VT", train.TOC)

	locs, err := st.TimetableLocationsAt(context.Background(), "EUSTON", date)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, "W12345", locs[0].TrainUID)
}

type blockingFeed struct {
	fakeFeed
	block   chan struct{}
	release chan struct{}
}

func (f blockingFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	close(f.block)
	<-f.release
	return f.fakeFeed.ParseInto(ctx, path, chunks, prog)
}
