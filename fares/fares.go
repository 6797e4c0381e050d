// Package fares is the Fare Resolver (C12): it resolves CRS codes to
// NLC/cluster identities and prices the fares between them, falling
// back to internal-cluster zonal queries when no direct flow exists.
// Grounded on reasoning_engine/tickets.py.
package fares

import (
	"context"
	"time"

	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

// Priced pairs one fare in pence with the ticket type it prices,
// mirroring tickets.py's ticket_prices's (fare, ticket) tuples.
type Priced struct {
	FarePence int
	Ticket    model.TicketType
}

// Resolver prices tickets between two stations, backed by one Store.
type Resolver struct {
	store store.Store
}

// New returns a Resolver over st.
func New(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// clusterSet is the effective cluster membership for one CRS used on
// either side of a fare query: its own NLC plus any zonal cluster IDs,
// mirroring spec.md §4.12 step 1's "{ncl} ∪ clusters".
func clusterSet(cs store.ClusterSet) []string {
	set := append([]string{cs.NLC}, cs.Clusters...)
	return set
}

// TicketPrices resolves fromCRS/toCRS to NLC+cluster identities, queries
// direct fares between them, and falls back to the internal-cluster
// queries (forward and reversed-direction) when no direct fare exists.
// Grounded on tickets.py's ticket_prices.
func (r *Resolver) TicketPrices(ctx context.Context, fromCRS, toCRS, toc string, at time.Time) ([]Priced, error) {
	clusters, err := r.store.ResolveClusters(ctx, []string{fromCRS, toCRS})
	if err != nil {
		return nil, err
	}

	var from, to *store.ClusterSet
	for i := range clusters {
		switch clusters[i].CRS {
		case fromCRS:
			from = &clusters[i]
		case toCRS:
			to = &clusters[i]
		}
	}
	if from == nil || to == nil {
		return nil, nil
	}

	direct, err := r.store.DirectFares(ctx, clusterSet(*from), clusterSet(*to), toc, at)
	if err != nil {
		return nil, err
	}
	if len(direct) > 0 {
		return toPriced(direct), nil
	}

	forward, err := r.store.InternalFares(ctx, from.NLC, to.Clusters, toc, at)
	if err != nil {
		return nil, err
	}
	reversed, err := r.store.InternalFaresReversed(ctx, from.NLC, to.Clusters, toc, at)
	if err != nil {
		return nil, err
	}

	return append(toPriced(forward), toPriced(reversed)...), nil
}

func toPriced(tickets []store.FareTicket) []Priced {
	out := make([]Priced, len(tickets))
	for i, t := range tickets {
		out[i] = Priced{
			FarePence: t.FarePence,
			Ticket: model.TicketType{
				TicketCode:       t.TicketCode,
				TktGroup:         t.TktGroup,
				TktType:          string(t.TktType),
				DiscountCategory: t.Discount,
				MaxAdults:        t.MaxAdults,
				MaxChildren:      t.MaxChildren,
			},
		}
	}
	return out
}

// TicketFor is who a fare is priced for, driving the adult/child
// single/return selection in Summary.
type TicketFor int

const (
	ForAdult TicketFor = iota
	ForChild
)

// Summary is the cheapest standard single and return fare for display,
// mirroring spec.md §4.12's end-user summary: filtered to
// tkt_group='S', discount_category='01', cheapest per direction.
type Summary struct {
	CheapestSingle *Priced
	CheapestReturn *Priced
}

// Summarize reduces priced tickets to the cheapest standard single and
// return fares applicable to ticketFor (adult or child).
func Summarize(prices []Priced, ticketFor TicketFor) Summary {
	var summary Summary
	for i := range prices {
		p := prices[i]
		t := p.Ticket
		if t.TktGroup != "S" || t.DiscountCategory != "01" {
			continue
		}
		if ticketFor == ForAdult && t.MaxAdults <= 0 {
			continue
		}
		if ticketFor == ForChild && t.MaxChildren <= 0 {
			continue
		}

		switch t.TktType {
		case string(model.DirectionSingle):
			if summary.CheapestSingle == nil || p.FarePence < summary.CheapestSingle.FarePence {
				summary.CheapestSingle = &prices[i]
			}
		case string(model.DirectionReturn):
			if summary.CheapestReturn == nil || p.FarePence < summary.CheapestReturn.FarePence {
				summary.CheapestReturn = &prices[i]
			}
		}
	}
	return summary
}
