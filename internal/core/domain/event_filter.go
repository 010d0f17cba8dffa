package domain

import (
	"errors"
	"regexp"
)

var ErrInvalidFilter = errors.New("invalid filter")

// Record columns events may be filtered by exactly. Every other filter key
// becomes a containment predicate on the JSON attribute bag.
var eventFilterColumns = map[string]string{
	"id":        "events.id",
	"type":      "events.type",
	"entity_id": "events.entity_id",
	"time":      "events.time",
	"success":   "events.success",
	"rb_id":     "events.rb_id",
}

var attrKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// EventFilter holds the two predicate groups of a ledger listing, all values
// bound as parameters. Columns is keyed by the vetted column expression,
// never by client input.
type EventFilter struct {
	Columns map[string]any
	Attrs   map[string]any
}

// SplitEventFilter partitions raw filter keys into the fixed column allow-list
// and attribute-bag containment predicates. Keys that are neither a known
// column nor a plausible attribute name are rejected.
func SplitEventFilter(raw map[string]any) (EventFilter, error) {
	filter := EventFilter{Columns: make(map[string]any), Attrs: make(map[string]any)}
	for key, value := range raw {
		if column, ok := eventFilterColumns[key]; ok {
			filter.Columns[column] = value
			continue
		}
		if !attrKeyPattern.MatchString(key) {
			return EventFilter{}, ErrInvalidFilter
		}
		filter.Attrs[key] = value
	}
	return filter, nil
}
