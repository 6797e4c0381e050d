package kbxml

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"railplanner.dev/core/feed"
	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

// IncidentsFeed is the live service-disruption feed, mirroring
// KBIncidents — it expires in minutes, not days, since disruptions
// change constantly.
type IncidentsFeed struct{}

func (IncidentsFeed) AssociatedTables() []store.Table {
	return []store.Table{store.TableIncidents, store.TableIncidentOperators}
}

func (IncidentsFeed) ExpiryLength() time.Duration { return 5 * time.Minute }
func (IncidentsFeed) FileName() string            { return "INCIDENTS.XML" }
func (IncidentsFeed) FeedAPIURL() string          { return "5.0/incidents" }

func (f IncidentsFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	file, err := os.Open(filepath.Join(path, f.FileName()))
	if err != nil {
		return errors.Wrap(err, "opening incidents file")
	}
	defer file.Close()

	prog.Report(f.FileName(), 0, 1)
	if err := ParseIncidents(ctx, file, chunks); err != nil {
		return err
	}
	prog.Report(f.FileName(), 1, 1)
	return nil
}

func (IncidentsFeed) PreprocessHook(ctx context.Context, st store.Store) error { return nil }

// StationsFeed is the CRS-to-display-name directory, mirroring
// KBStations — it refreshes daily, since new stations open rarely.
type StationsFeed struct{}

func (StationsFeed) AssociatedTables() []store.Table { return []store.Table{store.TableStations} }
func (StationsFeed) ExpiryLength() time.Duration      { return 24 * time.Hour }
func (StationsFeed) FileName() string                 { return "STATIONS.XML" }
func (StationsFeed) FeedAPIURL() string               { return "4.0/stations" }

func (f StationsFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	file, err := os.Open(filepath.Join(path, f.FileName()))
	if err != nil {
		return errors.Wrap(err, "opening stations file")
	}
	defer file.Close()

	prog.Report(f.FileName(), 0, 1)
	if err := ParseStations(ctx, file, chunks); err != nil {
		return err
	}
	prog.Report(f.FileName(), 1, 1)
	return nil
}

func (StationsFeed) PreprocessHook(ctx context.Context, st store.Store) error { return nil }

func init() {
	feed.Register(func() feed.Feed { return IncidentsFeed{} })
	feed.Register(func() feed.Feed { return StationsFeed{} })
}
