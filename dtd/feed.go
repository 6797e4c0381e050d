package dtd

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"railplanner.dev/core/feed"
	"railplanner.dev/core/progress"
	"railplanner.dev/core/store"
)

// expiryLength is shared by every DTD feed: a successful refresh stays
// valid for a year, mirroring DTDFeed.expiry_length.
const expiryLength = 365 * 24 * time.Hour

// progressReader reports bytes consumed against a file's total size at
// most once a second, mirroring records_in_dtd_file's
// time.time()-last_progress_report throttling.
type progressReader struct {
	r     io.Reader
	name  string
	total int64
	read  int64
	prog  *progress.Progress
	last  time.Time
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if time.Since(p.last) >= time.Second {
		p.prog.Report(p.name, int(p.read), int(p.total))
		p.last = time.Now()
	}
	return n, err
}

// entryBySuffix finds the zip entry whose filename ends with suffix,
// mirroring entry_parser_for_file's file[-3:] match — DTD exports name
// their files so the format lives in the last three characters (e.g.
// RJFAF499.FFL), not as a conventional file extension.
func entryBySuffix(files []*zip.File, suffix string) *zip.File {
	for _, f := range files {
		name := strings.ToUpper(filepath.Base(f.Name))
		if strings.HasSuffix(name, suffix) {
			return f
		}
	}
	return nil
}

func openEntry(f *zip.File, prog *progress.Progress) (io.ReadCloser, *progressReader, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening %s", f.Name)
	}
	pr := &progressReader{r: rc, name: f.Name, total: int64(f.UncompressedSize64), prog: prog}
	return rc, pr, nil
}

// FaresFeed is the RSPS5045 fares bundle (LOC/FFL/FSC/TTY), downloaded
// as a single FARES.ZIP, mirroring DTDFaresFeed.
type FaresFeed struct{}

func (FaresFeed) AssociatedTables() []store.Table {
	return []store.Table{
		store.TableLocations,
		store.TableStationClusters,
		store.TableFlows,
		store.TableFares,
		store.TableTicketTypes,
	}
}

func (FaresFeed) ExpiryLength() time.Duration { return expiryLength }
func (FaresFeed) FileName() string            { return "FARES.ZIP" }
func (FaresFeed) FeedAPIURL() string          { return "2.0/fares" }

func (f FaresFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	zipPath := filepath.Join(path, f.FileName())
	body, err := os.ReadFile(zipPath)
	if err != nil {
		return errors.Wrap(err, "reading fares archive")
	}
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return errors.Wrap(err, "opening fares archive")
	}

	parsers := []struct {
		suffix string
		parse  func(ctx context.Context, r io.Reader, chunks *feed.RecordChunker) error
	}{
		{"LOC", ParseLOC},
		{"FFL", ParseFFL},
		{"FSC", ParseFSC},
		{"TTY", ParseTTY},
	}

	for _, p := range parsers {
		entry := entryBySuffix(r.File, p.suffix)
		if entry == nil {
			continue
		}
		if err := parseEntry(ctx, entry, p.parse, chunks, prog); err != nil {
			return errors.Wrapf(err, "parsing %s", entry.Name)
		}
	}
	return nil
}

func (FaresFeed) PreprocessHook(ctx context.Context, st store.Store) error { return nil }

// TimetableFeed is the MCA CIF timetable bundle, downloaded as a single
// TIMETABLE.ZIP, mirroring DTDTimetableFeed.
type TimetableFeed struct{}

func (TimetableFeed) AssociatedTables() []store.Table {
	return []store.Table{
		store.TableTimetableLocations,
		store.TableTimetableLinks,
		store.TableTrainTimetables,
		store.TableTIPLOCs,
	}
}

func (TimetableFeed) ExpiryLength() time.Duration { return expiryLength }
func (TimetableFeed) FileName() string             { return "TIMETABLE.ZIP" }
func (TimetableFeed) FeedAPIURL() string           { return "3.0/timetable" }

func (f TimetableFeed) ParseInto(ctx context.Context, path string, chunks *feed.RecordChunker, prog *progress.Progress) error {
	zipPath := filepath.Join(path, f.FileName())
	body, err := os.ReadFile(zipPath)
	if err != nil {
		return errors.Wrap(err, "reading timetable archive")
	}
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return errors.Wrap(err, "opening timetable archive")
	}

	entry := entryBySuffix(r.File, "MCA")
	if entry == nil {
		return errors.New("timetable archive has no MCA file")
	}
	if err := parseEntry(ctx, entry, ParseMCA, chunks, prog); err != nil {
		return errors.Wrapf(err, "parsing %s", entry.Name)
	}
	return nil
}

// PreprocessHook regenerates the precomputed timetable_links adjacency
// table once every row from this refresh has been written, mirroring
// DTDTimetableFeed.preprocess_hook's generate_precomputed_tables call.
func (TimetableFeed) PreprocessHook(ctx context.Context, st store.Store) error {
	return st.GenerateTimetableLinks(ctx)
}

func parseEntry(ctx context.Context, entry *zip.File, parse func(context.Context, io.Reader, *feed.RecordChunker) error, chunks *feed.RecordChunker, prog *progress.Progress) error {
	rc, pr, err := openEntry(entry, prog)
	if err != nil {
		return err
	}
	defer rc.Close()
	return parse(ctx, pr, chunks)
}

func init() {
	feed.Register(func() feed.Feed { return FaresFeed{} })
	feed.Register(func() feed.Feed { return TimetableFeed{} })
}
