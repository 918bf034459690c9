// Package slots fetches a provider's open slots and normalizes them into
// chronological day groups.
package slots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/internal/upstream"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var catalogTracer = otel.Tracer("booking.internal.slots")

// Slot is a single bookable time on a calendar date.
type Slot struct {
	Date        Date      `json:"date"`
	Time        string    `json:"time"`
	DateTimeUTC time.Time `json:"datetime"`
}

// DaySlotGroup is the ordered list of slots sharing one date. Groups handed
// out by the catalog are never empty.
type DaySlotGroup struct {
	Date  Date        `json:"date"`
	Key   CalendarKey `json:"key"`
	Slots []Slot      `json:"slots"`
}

// SlotFetchError means the catalog could not be loaded. It is shown to the
// patient; the slot list must not be reused until a fresh fetch succeeds.
type SlotFetchError struct {
	ProviderID string
	Err        error
}

func (e *SlotFetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("slots: could not load availability for provider %q", e.ProviderID)
	}
	return fmt.Sprintf("slots: could not load availability for provider %q: %v", e.ProviderID, e.Err)
}

func (e *SlotFetchError) Unwrap() error { return e.Err }

// ErrEmptyProviderID is wrapped in a SlotFetchError for blank provider ids.
var ErrEmptyProviderID = errors.New("slots: provider id required")

// Source returns raw per-day slot arrays for a provider.
type Source interface {
	ProviderSlots(ctx context.Context, token, providerID string) ([][]upstream.RawSlot, error)
}

// Catalog loads and normalizes slots.
type Catalog struct {
	source Source
	loc    *time.Location
	logger *logging.Logger
}

// NewCatalog creates a catalog that buckets slots by date in loc.
func NewCatalog(source Source, loc *time.Location, logger *logging.Logger) *Catalog {
	if source == nil {
		panic("slots: source required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Catalog{source: source, loc: loc, logger: logger}
}

// FetchSlots returns the provider's day groups, chronologically ordered.
func (c *Catalog) FetchSlots(ctx context.Context, token, providerID string) ([]DaySlotGroup, error) {
	ctx, span := catalogTracer.Start(ctx, "slots.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("booking.provider_id", providerID))

	if strings.TrimSpace(providerID) == "" {
		return nil, &SlotFetchError{ProviderID: providerID, Err: ErrEmptyProviderID}
	}

	raw, err := c.source.ProviderSlots(ctx, token, providerID)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("slot fetch failed", "provider_id", providerID, "error", err)
		return nil, &SlotFetchError{ProviderID: providerID, Err: err}
	}

	groups := Group(raw, c.loc)
	span.SetAttributes(attribute.Int("booking.day_groups", len(groups)))
	return groups, nil
}

// Group buckets raw entries by calendar date in loc. Order within a day
// follows the source; days are sorted and empty days dropped. Entries without
// an instant are skipped since they cannot be placed on a date.
func Group(raw [][]upstream.RawSlot, loc *time.Location) []DaySlotGroup {
	if loc == nil {
		loc = time.UTC
	}
	index := map[Date]int{}
	var groups []DaySlotGroup
	for _, day := range raw {
		for _, entry := range day {
			if entry.DateTime.IsZero() {
				continue
			}
			d := DateOf(entry.DateTime, loc)
			slot := Slot{Date: d, Time: strings.TrimSpace(entry.Time), DateTimeUTC: entry.DateTime.UTC()}
			i, ok := index[d]
			if !ok {
				i = len(groups)
				index[d] = i
				groups = append(groups, DaySlotGroup{Date: d, Key: d.Key()})
			}
			groups[i].Slots = append(groups[i].Slots, slot)
		}
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.Slots) > 0 {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Find locates the slot with the given key and time label.
func Find(groups []DaySlotGroup, key CalendarKey, timeLabel string) (Slot, bool) {
	label := strings.TrimSpace(timeLabel)
	for _, g := range groups {
		if g.Key != key {
			continue
		}
		for _, s := range g.Slots {
			if strings.EqualFold(s.Time, label) {
				return s, true
			}
		}
	}
	return Slot{}, false
}
