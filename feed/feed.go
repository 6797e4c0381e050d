// Package feed is the Feed Registry (C3) and Record Chunker (C5): the
// contract every DTD/KB feed implements, a process-global registry of
// them, and a bounded channel that batches parsed rows for the
// single-writer drain in package ingest.
package feed

import (
	"context"
	"sync"
	"time"

	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

const (
	// RecordChunkSize mirrors config.py's RECORD_CHUNK_SIZE: how many
	// parsed rows accumulate before a chunk is handed to the channel.
	RecordChunkSize = 100_000

	// SQLBatchSize mirrors config.py's SQL_BATCH_SIZE: how many rows
	// accumulate in the single writer before a transaction commits.
	SQLBatchSize = 1_000_000

	// MaxQueuedBatches mirrors config.py's
	// MAX_NUMBER_OF_QUEUED_BATCH_STATEMENTS.
	MaxQueuedBatches = 5

	// MaxQueueSize mirrors config.py's MAX_QUEUE_SIZE formula: enough
	// chunks buffered to cover MaxQueuedBatches full SQL batches.
	MaxQueueSize = (SQLBatchSize / RecordChunkSize) * MaxQueuedBatches

	// DownloadChunkSize mirrors config.py's DOWNLOAD_CHUNK_SIZE.
	DownloadChunkSize = 1024 * 1024
)

// RecordSet is one flushable batch of parsed rows, keyed by the table
// they belong to. It is the Go analogue of feeds.py's RecordSet dict.
type RecordSet map[store.Table][]interface{}

// Feed is the contract every DTD/KB feed (LOC+FFL+FSC+TTY fares bundle,
// MCA timetable, KB incidents, KB stations) implements, mirroring
// feeds.py's Feed ABC.
type Feed interface {
	// AssociatedTables lists the tables this feed owns exclusively;
	// ingest wipes exactly these before a reload.
	AssociatedTables() []store.Table

	// ExpiryLength is how long a successful refresh stays valid.
	ExpiryLength() time.Duration

	// FileName is the name of the downloaded file within its working
	// directory.
	FileName() string

	// FeedAPIURL is the feed's stable identity used both as the
	// download endpoint suffix and the ExpiryTimes key.
	FeedAPIURL() string

	// ParseInto parses the file at path and writes every row into
	// chunks, returning once the whole file has been consumed or ctx is
	// cancelled. Mirrors records_in_feed, minus the executor/Future
	// plumbing: ingest runs one ParseInto per feed inside its own
	// errgroup goroutine instead.
	ParseInto(ctx context.Context, path string, chunks *RecordChunker, prog *progress.Progress) error

	// PreprocessHook runs once after all feeds in a refresh have
	// finished writing, on the single-writer goroutine, mirroring
	// Feed.preprocess_hook. Most feeds no-op; the MCA timetable feed
	// uses it to regenerate timetable_links.
	PreprocessHook(ctx context.Context, st store.Store) error
}

var (
	registryMu sync.Mutex
	registry   []func() Feed
)

// Register adds a feed constructor to the process-global registry,
// mirroring Feed.register's class-level _registered_feeds set. Intended
// to be called from an init() in the package that defines the concrete
// feed, the way Django-style registries self-register.
func Register(ctor func() Feed) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, ctor)
}

// Feeds instantiates every registered feed, mirroring Feed.feeds().
func Feeds() []Feed {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Feed, len(registry))
	for i, ctor := range registry {
		out[i] = ctor()
	}
	return out
}

// RecordChunker accumulates Put rows into chunks of RecordChunkSize and
// emits each full chunk to a shared channel, mirroring
// RecordChunkGenerator. Multiple chunkers (one per concurrently-parsing
// feed) share one channel; the channel itself is closed by the
// orchestrator once every chunker has flushed its remainder, not by the
// chunker — Python's single None sentinel becomes a Go channel close.
type RecordChunker struct {
	ch    chan<- RecordSet
	chunk RecordSet
	count int
}

// NewRecordChunker wraps a send-only view of the shared chunk channel.
func NewRecordChunker(ch chan<- RecordSet) *RecordChunker {
	return &RecordChunker{ch: ch, chunk: RecordSet{}}
}

// Put appends one parsed row under the given table, flushing a full
// chunk to the channel once RecordChunkSize rows have accumulated.
func (c *RecordChunker) Put(ctx context.Context, table store.Table, row interface{}) error {
	c.chunk[table] = append(c.chunk[table], row)
	c.count++

	if c.count >= RecordChunkSize {
		if err := c.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *RecordChunker) flush(ctx context.Context) error {
	select {
	case c.ch <- c.chunk:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.chunk = RecordSet{}
	c.count = 0
	return nil
}

// Close flushes any partially-filled chunk, mirroring
// RecordChunkGenerator.__exit__.
func (c *RecordChunker) Close(ctx context.Context) error {
	if c.count > 0 {
		return c.flush(ctx)
	}
	return nil
}

// OutdatedFeeds mirrors get_outdated_feeds: every feed in feeds whose
// ExpiryTimes row is missing or already past now.
func OutdatedFeeds(ctx context.Context, st store.Store, feeds []Feed, now time.Time) ([]Feed, error) {
	var outdated []Feed
	for _, f := range feeds {
		expiry, found, err := st.GetExpiry(ctx, f.FeedAPIURL())
		if err != nil {
			return nil, err
		}
		if !found || now.Unix() >= expiry.ExpiryTimestamp {
			outdated = append(outdated, f)
		}
	}
	return outdated, nil
}

// AllOutdatedFeeds is OutdatedFeeds over every registered feed, the
// shape ingest.Run calls at the start of a refresh pass.
func AllOutdatedFeeds(ctx context.Context, st store.Store, now time.Time) ([]Feed, error) {
	return OutdatedFeeds(ctx, st, Feeds(), now)
}
