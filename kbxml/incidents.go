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

type incidentsDocument struct {
	XMLName   xml.Name          `xml:"PtIncidents"`
	Incidents []incidentElement `xml:",any"`
}

type incidentElement struct {
	IncidentNumber  string         `xml:"IncidentNumber"`
	CreationTime    string         `xml:"CreationTime"`
	Planned         string         `xml:"Planned"`
	Summary         string         `xml:"Summary"`
	Description     string         `xml:"Description"`
	ClearedIncident string         `xml:"ClearedIncident"`
	Affects         affectsElement `xml:"Affects"`
}

type affectsElement struct {
	RoutesAffected string            `xml:"RoutesAffected"`
	Operators      []operatorElement `xml:"Operators>Operator"`
}

type operatorElement struct {
	OperatorRef  string `xml:"OperatorRef"`
	OperatorName string `xml:"OperatorName"`
}

// ParseIncidents reads an INCIDENTS.XML document into Incident and
// IncidentAffectedOperator rows, mirroring records_for_incidents:
// an incident with no IncidentNumber is dropped silently.
func ParseIncidents(ctx context.Context, r io.Reader, chunks *feed.RecordChunker) error {
	var doc incidentsDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return errors.Wrap(err, "decoding incidents xml")
	}

	for i, incident := range doc.Incidents {
		if incident.IncidentNumber == "" {
			continue
		}

		created, err := parseKBTime(incident.CreationTime)
		if err != nil {
			return errors.Wrapf(err, "incident %d: creation_time", i)
		}

		row := model.Incident{
			Number:            incident.IncidentNumber,
			CreationTime:      created,
			Planned:           incident.Planned == "true",
			Summary:           incident.Summary,
			Description:       incident.Description,
			Cleared:           incident.ClearedIncident == "true",
			RouteAffectedText: incident.Affects.RoutesAffected,
		}
		if err := chunks.Put(ctx, store.TableIncidents, row); err != nil {
			return errors.Wrapf(err, "incident %d", i)
		}

		for _, op := range incident.Affects.Operators {
			opRow := model.IncidentAffectedOperator{
				IncidentNumber: incident.IncidentNumber,
				TOC:            op.OperatorRef,
				OperatorName:   op.OperatorName,
			}
			if err := chunks.Put(ctx, store.TableIncidentOperators, opRow); err != nil {
				return errors.Wrapf(err, "incident %d operator", i)
			}
		}
	}
	return nil
}
