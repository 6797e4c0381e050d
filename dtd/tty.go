package dtd

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"railplanner.dev/core/feed"
	"railplanner.dev/core/model"
	"railplanner.dev/core/store"
)

// ParseTTY reads a TTY file's R-lines into TicketType rows, mirroring
// record_for_tty_entry.
func ParseTTY(ctx context.Context, r io.Reader, chunks *feed.RecordChunker) error {
	scanner := bufio.NewScanner(bom.NewReader(r))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if len(line) < 1 || line[0:1] != "R" {
			continue
		}

		row, ok, err := parseTTYLine(line)
		if err != nil {
			return errors.Wrapf(err, "TTY row %d", lineNo)
		}
		if !ok {
			continue
		}
		if err := chunks.Put(ctx, store.TableTicketTypes, row); err != nil {
			return errors.Wrapf(err, "TTY row %d", lineNo)
		}
	}
	return errors.Wrap(scanner.Err(), "reading TTY file")
}

func parseTTYLine(line string) (model.TicketType, bool, error) {
	endRaw, err := field(line, 4, 12)
	if err != nil {
		return model.TicketType{}, false, err
	}
	startRaw, err := field(line, 12, 20)
	if err != nil {
		return model.TicketType{}, false, err
	}
	start, err := parseDateDDMMYYYY(startRaw)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "start date")
	}
	end, err := parseDateDDMMYYYY(endRaw)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "end date")
	}
	if hasExpired(start, end) {
		return model.TicketType{}, false, nil
	}

	get := func(start, end int) (string, error) { return field(line, start, end) }
	getInt := func(start, end int) (int, error) {
		s, err := field(line, start, end)
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(strings.TrimSpace(s))
	}
	getBool := func(at int) (bool, error) {
		s, err := field(line, at, at+1)
		if err != nil {
			return false, err
		}
		return s == "Y", nil
	}

	ticketCode, err := get(1, 4)
	if err != nil {
		return model.TicketType{}, false, err
	}
	description, err := get(28, 43)
	if err != nil {
		return model.TicketType{}, false, err
	}
	tktClass, err := getInt(43, 44)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "tkt_class")
	}
	tktType, err := get(44, 45)
	if err != nil {
		return model.TicketType{}, false, err
	}
	tktGroup, err := get(45, 46)
	if err != nil {
		return model.TicketType{}, false, err
	}
	maxPassengers, err := getInt(54, 57)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "max_passengers")
	}
	minPassengers, err := getInt(57, 60)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "min_passengers")
	}
	maxAdults, err := getInt(60, 63)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "max_adults")
	}
	minAdults, err := getInt(63, 66)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "min_adults")
	}
	maxChildren, err := getInt(66, 69)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "max_children")
	}
	minChildren, err := getInt(69, 72)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "min_children")
	}
	restrictedByDate, err := getBool(72)
	if err != nil {
		return model.TicketType{}, false, err
	}
	restrictedByTrain, err := getBool(73)
	if err != nil {
		return model.TicketType{}, false, err
	}
	restrictedByArea, err := getBool(74)
	if err != nil {
		return model.TicketType{}, false, err
	}
	validityCode, err := get(75, 77)
	if err != nil {
		return model.TicketType{}, false, err
	}
	reservationRequired, err := get(98, 99)
	if err != nil {
		return model.TicketType{}, false, err
	}
	capriCode, err := get(99, 102)
	if err != nil {
		return model.TicketType{}, false, err
	}
	utsCode, err := get(103, 105)
	if err != nil {
		return model.TicketType{}, false, err
	}
	timeRestriction, err := getInt(105, 106)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "time_restriction")
	}
	freePassLUL, err := getBool(106)
	if err != nil {
		return model.TicketType{}, false, err
	}
	packageMkr, err := get(107, 108)
	if err != nil {
		return model.TicketType{}, false, err
	}
	fareMultiplier, err := getInt(108, 111)
	if err != nil {
		return model.TicketType{}, false, errors.Wrap(err, "fare_multiplier")
	}
	discountCategory, err := get(111, 113)
	if err != nil {
		return model.TicketType{}, false, err
	}

	return model.TicketType{
		TicketCode:          ticketCode,
		Description:         strings.TrimSpace(description),
		TktClass:            tktClass,
		TktType:             tktType,
		TktGroup:            tktGroup,
		MaxPassengers:       maxPassengers,
		MinPassengers:       minPassengers,
		MaxAdults:           maxAdults,
		MinAdults:           minAdults,
		MaxChildren:         maxChildren,
		MinChildren:         minChildren,
		RestrictedByDate:    restrictedByDate,
		RestrictedByTrain:   restrictedByTrain,
		RestrictedByArea:    restrictedByArea,
		ValidityCode:        validityCode,
		ReservationRequired: reservationRequired,
		CapriCode:           capriCode,
		UTSCode:             utsCode,
		TimeRestriction:     timeRestriction,
		FreePassLUL:         freePassLUL,
		PackageMkr:          packageMkr,
		FareMultiplier:      fareMultiplier,
		DiscountCategory:    discountCategory,
	}, true, nil
}
