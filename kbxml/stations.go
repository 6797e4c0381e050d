package kbxml

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/pkg/errors"

	"railplanner.dev/core/feed"
	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

type stationsDocument struct {
	XMLName  xml.Name         `xml:"StationList"`
	Stations []stationElement `xml:",any"`
}

type stationElement struct {
	CrsCode string `xml:"CrsCode"`
	Name    string `xml:"Name"`
}

// ParseStations reads a STATIONS.XML document into Station rows,
// mirroring records_for_stations.
func ParseStations(ctx context.Context, r io.Reader, chunks *feed.RecordChunker) error {
	var doc stationsDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return errors.Wrap(err, "decoding stations xml")
	}

	for i, station := range doc.Stations {
		row := model.Station{CRS: station.CrsCode, Name: station.Name}
		if err := chunks.Put(ctx, store.TableStations, row); err != nil {
			return errors.Wrapf(err, "station %d", i)
		}
	}
	return nil
}
