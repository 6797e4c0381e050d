package feed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"railplanner.dev/core/feed"
	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

type stubFeed struct {
	url string
}

func (f stubFeed) AssociatedTables() []store.Table { return []store.Table{store.TableStations} }
func (f stubFeed) ExpiryLength() time.Duration      { return time.Hour }
func (f stubFeed) FileName() string                 { return "stations.xml" }
func (f stubFeed) FeedAPIURL() string               { return f.url }
func (f stubFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	return nil
}
func (f stubFeed) PreprocessHook(ctx context.Context, st store.Store) error { return nil }

func TestRecordChunkerFlushesAtChunkSize(t *testing.T) {
	ctx := context.Background()
	ch := make(chan feed.RecordSet, 10)
	chunker := feed.NewRecordChunker(ch)

	for i := 0; i < feed.RecordChunkSize; i++ {
		require.NoError(t, chunker.Put(ctx, store.TableStations, i))
	}

	select {
	case chunk := <-ch:
		require.Len(t, chunk[store.TableStations], feed.RecordChunkSize)
	default:
		t.Fatal("expected a full chunk to have been flushed")
	}
}

func TestRecordChunkerCloseFlushesRemainder(t *testing.T) {
	ctx := context.Background()
	ch := make(chan feed.RecordSet, 1)
	chunker := feed.NewRecordChunker(ch)

	require.NoError(t, chunker.Put(ctx, store.TableStations, "row"))
	require.NoError(t, chunker.Close(ctx))

	chunk := <-ch
	require.Len(t, chunk[store.TableStations], 1)
}

func TestOutdatedFeedsIncludesUnseenAndExpired(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.SetExpiry(ctx, "fresh", time.Now().Add(time.Hour)))
	require.NoError(t, s.SetExpiry(ctx, "stale", time.Now().Add(-time.Hour)))

	feeds := []feed.Feed{stubFeed{"fresh"}, stubFeed{"stale"}, stubFeed{"never-seen"}}
	outdated, err := feed.OutdatedFeeds(ctx, s, feeds, time.Now())
	require.NoError(t, err)

	urls := map[string]bool{}
	for _, f := range outdated {
		urls[f.FeedAPIURL()] = true
	}
	require.False(t, urls["fresh"])
	require.True(t, urls["stale"])
	require.True(t, urls["never-seen"])
}
