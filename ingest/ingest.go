// Package ingest is the Ingestion Orchestrator (C8): it drives the
// feed registry (C3), downloader (C4), record chunker (C5), DTD/KB
// parsers (C6/C7) and record store (C2) through one full refresh pass,
// mirroring knowledge_base/feeds.py's update_database/update_feeds.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"railplanner.dev/core/download"
	"railplanner.dev/core/feed"
	"railplanner.dev/core/model"
	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

// Options configures a refresh pass. Username/Password are only used
// when DisableDownload is false; LocalStorageDir backs both the
// disabled-download source and the backup-to-local destination.
type Options struct {
	Username        string
	Password        string
	DisableDownload bool
	BackupToLocal   bool
	LocalStorageDir string
}

// Orchestrator runs refresh passes against one Store, serializing
// itself with a reentrancy guard mirroring feeds.py's module-level
// is_updating flag.
type Orchestrator struct {
	store      store.Store
	downloader *download.Downloader
	progress   *progress.Progress
	log        *zap.Logger
	feeds      []feed.Feed

	mu       sync.Mutex
	updating bool
}

// New returns an Orchestrator over the given feeds (pass feed.Feeds()
// for the process-global registry, or a fixed slice in tests).
func New(st store.Store, dl *download.Downloader, prog *progress.Progress, log *zap.Logger, feeds []feed.Feed) *Orchestrator {
	return &Orchestrator{store: st, downloader: dl, progress: prog, log: log, feeds: feeds}
}

// Run determines outdated feeds and, if any exist, downloads, parses
// and writes them in one pass, then updates their expiry times.
// A Run already in progress makes a second concurrent call a no-op,
// mirroring update_database's is_updating short-circuit.
func (o *Orchestrator) Run(ctx context.Context, opts Options) error {
	o.mu.Lock()
	if o.updating {
		o.mu.Unlock()
		return nil
	}
	o.updating = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.updating = false
		o.mu.Unlock()
	}()

	outdated, err := feed.OutdatedFeeds(ctx, o.store, o.feeds, time.Now())
	if err != nil {
		return err
	}
	if len(outdated) == 0 {
		return nil
	}

	names := make([]string, len(outdated))
	for i, f := range outdated {
		names[i] = f.FeedAPIURL()
	}
	o.log.Info("updating feeds", zap.Strings("feeds", names))

	var token string
	if !opts.DisableDownload {
		token, err = o.downloader.Authenticate(ctx, opts.Username, opts.Password)
		if err != nil {
			return err
		}
	}

	// Wipe owned tables up front, before any download starts, mirroring
	// update_feeds's per-feed db.query(table).delete() loop.
	for _, f := range outdated {
		for _, table := range f.AssociatedTables() {
			if err := o.store.Wipe(ctx, table); err != nil {
				return err
			}
		}
	}

	if err := o.store.BeginTrainTimetables(ctx); err != nil {
		return err
	}
	if err := o.store.BeginTimetableLocations(ctx); err != nil {
		return err
	}

	chunkCh := make(chan feed.RecordSet, feed.MaxQueueSize)
	workDirs := make([]string, len(outdated))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range outdated {
		i, f := i, f
		g.Go(func() error {
			workDir, err := o.fetchFeed(gctx, f, token, opts)
			if err != nil {
				return err
			}
			workDirs[i] = workDir

			chunker := feed.NewRecordChunker(chunkCh)
			if err := f.ParseInto(gctx, workDir, chunker, o.progress); err != nil {
				return err
			}
			return chunker.Close(gctx)
		})
	}

	writeErrCh := make(chan error, 1)
	go func() {
		writeErrCh <- g.Wait()
		close(chunkCh)
	}()

	// Writing happens synchronously here, mirroring batch_and_flush_chunks
	// running on the main thread: SQLite/Postgres connections in this
	// codebase are not meant to be shared across goroutines.
	drainErr := drain(ctx, o.store, chunkCh)
	writeErr := <-writeErrCh

	for _, dir := range workDirs {
		if dir == "" {
			continue
		}
		o.downloader.Cleanup(dir)
	}

	if writeErr != nil {
		return writeErr
	}
	if drainErr != nil {
		return drainErr
	}

	if err := o.store.EndTimetableLocations(ctx); err != nil {
		return err
	}
	if err := o.store.EndTrainTimetables(ctx); err != nil {
		return err
	}

	for _, f := range outdated {
		if err := f.PreprocessHook(ctx, o.store); err != nil {
			return err
		}
	}

	now := time.Now()
	for _, f := range outdated {
		if err := o.store.SetExpiry(ctx, f.FeedAPIURL(), now.Add(f.ExpiryLength())); err != nil {
			return err
		}
	}

	o.log.Info("finished updating feeds")
	return nil
}

func (o *Orchestrator) fetchFeed(ctx context.Context, f feed.Feed, token string, opts Options) (string, error) {
	if opts.DisableDownload {
		return o.downloader.FromLocalStorage(f, opts.LocalStorageDir)
	}

	workDir, err := o.downloader.Fetch(ctx, f, token, o.progress)
	if err != nil {
		return "", err
	}
	if opts.BackupToLocal {
		if err := o.downloader.Backup(f, workDir, opts.LocalStorageDir); err != nil {
			return "", err
		}
	}
	return workDir, nil
}

// drain accumulates record chunks until SQLBatchSize rows have
// arrived, flushes, and repeats, finally flushing whatever remains —
// the Go analogue of batch_and_flush_chunks.
func drain(ctx context.Context, st store.Store, chunkCh <-chan feed.RecordSet) error {
	batch := feed.RecordSet{}
	batchCount := 0

	for chunk := range chunkCh {
		for table, rows := range chunk {
			batch[table] = append(batch[table], rows...)
			batchCount += len(rows)
		}

		if batchCount < feed.SQLBatchSize {
			continue
		}
		if err := flush(ctx, st, batch); err != nil {
			return err
		}
		batch = feed.RecordSet{}
		batchCount = 0
	}

	if batchCount > 0 {
		return flush(ctx, st, batch)
	}
	return nil
}

// flush writes one accumulated batch to the store, dispatching each
// table's rows to its typed bulk-insert method.
func flush(ctx context.Context, st store.Store, batch feed.RecordSet) error {
	for table, rows := range batch {
		if len(rows) == 0 {
			continue
		}
		if err := insertRows(ctx, st, table, rows); err != nil {
			return err
		}
	}
	return nil
}

func insertRows(ctx context.Context, st store.Store, table store.Table, rows []interface{}) error {
	switch table {
	case store.TableLocations:
		return st.InsertLocationRecords(ctx, castRows[model.LocationRecord](rows))
	case store.TableStationClusters:
		return st.InsertStationClusters(ctx, castRows[model.StationCluster](rows))
	case store.TableFlows:
		return st.InsertFlowRecords(ctx, castRows[model.FlowRecord](rows))
	case store.TableFares:
		return st.InsertFareRecords(ctx, castRows[model.FareRecord](rows))
	case store.TableTicketTypes:
		return st.InsertTicketTypes(ctx, castRows[model.TicketType](rows))
	case store.TableTrainTimetables:
		return st.InsertTrainTimetables(ctx, castRows[model.TrainTimetable](rows))
	case store.TableTimetableLocations:
		return st.InsertTimetableLocations(ctx, castRows[model.TimetableLocation](rows))
	case store.TableTIPLOCs:
		return st.InsertTIPLOCs(ctx, castRows[model.TIPLOC](rows))
	case store.TableIncidents:
		return st.InsertIncidents(ctx, castRows[model.Incident](rows))
	case store.TableIncidentOperators:
		return st.InsertIncidentAffectedOperators(ctx, castRows[model.IncidentAffectedOperator](rows))
	case store.TableStations:
		return st.InsertStations(ctx, castRows[model.Station](rows))
	}
	return nil
}

func castRows[T any](rows []interface{}) []T {
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = r.(T)
	}
	return out
}
