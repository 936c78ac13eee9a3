// Package webhook builds and delivers assignment-change notifications: a
// form-encoded POST carrying the shape id, the old and new lot identity and
// duplicate metadata.
package webhook

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-lots/internal/lot"
)

// Event types.
const (
	EventAssigned   = "lot_assignment_updated"
	EventUnassigned = "lot_assignment_cleared"
)

// Form field names.
const (
	FieldEventType         = "eventType"
	FieldTimestamp         = "timestamp"
	FieldPageURL           = "pageUrl"
	FieldShapeID           = "elementSvgId"
	FieldCurrentAssignment = "currentAssignment"
	FieldNextAssignment    = "nextAssignment"
	FieldQuery             = "selectionQueryText"
	FieldDuplicateDetected = "duplicateDetected"
	FieldDuplicateShapeIDs = "duplicateShapeIds"
	FieldPayloadJSON       = "payloadJson"
)

// Event is one assignment change.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
	PageURL   string    `json:"pageUrl"`
	ShapeID   string    `json:"elementSvgId"`
	// Current and Next are nil when the shape is, or becomes, unassigned.
	Current           *lot.Identity `json:"currentAssignment"`
	Next              *lot.Identity `json:"nextAssignment"`
	Query             string        `json:"selectionQueryText"`
	DuplicateShapeIDs []string      `json:"duplicateShapeIds"`
}

// NewEvent describes moving shapeID from current to next. Either lot may be
// nil.
func NewEvent(pageURL, shapeID string, current, next *lot.Lot, query string, duplicates []string, now time.Time) Event {
	ev := Event{
		ID:                uuid.NewString(),
		Type:              EventAssigned,
		Timestamp:         now.UTC(),
		PageURL:           pageURL,
		ShapeID:           shapeID,
		Query:             query,
		DuplicateShapeIDs: duplicates,
	}
	if current != nil {
		id := current.Identity()
		ev.Current = &id
	}
	if next != nil {
		id := next.Identity()
		ev.Next = &id
	} else {
		ev.Type = EventUnassigned
	}
	return ev
}

// DuplicateDetected reports whether the new lot was bound to other shapes.
func (e Event) DuplicateDetected() bool {
	return len(e.DuplicateShapeIDs) > 0
}

// Form encodes the event as the webhook's form body.
func (e Event) Form() (url.Values, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	current, err := identityField(e.Current)
	if err != nil {
		return nil, err
	}
	next, err := identityField(e.Next)
	if err != nil {
		return nil, err
	}

	v := url.Values{}
	v.Set(FieldEventType, e.Type)
	v.Set(FieldTimestamp, e.Timestamp.Format(time.RFC3339Nano))
	v.Set(FieldPageURL, e.PageURL)
	v.Set(FieldShapeID, e.ShapeID)
	v.Set(FieldCurrentAssignment, current)
	v.Set(FieldNextAssignment, next)
	v.Set(FieldQuery, e.Query)
	v.Set(FieldDuplicateDetected, strconv.FormatBool(e.DuplicateDetected()))
	v.Set(FieldDuplicateShapeIDs, strings.Join(e.DuplicateShapeIDs, ","))
	v.Set(FieldPayloadJSON, string(payload))
	return v, nil
}

// identityField is the JSON identity, or "" for an unassigned side.
func identityField(id *lot.Identity) (string, error) {
	if id == nil {
		return "", nil
	}
	b, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("encoding identity: %w", err)
	}
	return string(b), nil
}

// ParseForm decodes a webhook form body. The payloadJson field is
// authoritative when present; otherwise the individual fields are used.
func ParseForm(v url.Values) (Event, error) {
	if raw := v.Get(FieldPayloadJSON); raw != "" {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return Event{}, fmt.Errorf("decoding %s: %w", FieldPayloadJSON, err)
		}
		if ev.ShapeID == "" {
			return Event{}, fmt.Errorf("missing %s in %s", FieldShapeID, FieldPayloadJSON)
		}
		return ev, nil
	}

	ev := Event{
		Type:    v.Get(FieldEventType),
		PageURL: v.Get(FieldPageURL),
		ShapeID: v.Get(FieldShapeID),
		Query:   v.Get(FieldQuery),
	}
	if ev.ShapeID == "" {
		return Event{}, fmt.Errorf("missing %s", FieldShapeID)
	}
	if ts := v.Get(FieldTimestamp); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return Event{}, fmt.Errorf("parsing %s: %w", FieldTimestamp, err)
		}
		ev.Timestamp = t
	}
	var err error
	if ev.Current, err = parseIdentity(v.Get(FieldCurrentAssignment)); err != nil {
		return Event{}, fmt.Errorf("parsing %s: %w", FieldCurrentAssignment, err)
	}
	if ev.Next, err = parseIdentity(v.Get(FieldNextAssignment)); err != nil {
		return Event{}, fmt.Errorf("parsing %s: %w", FieldNextAssignment, err)
	}
	if ids := v.Get(FieldDuplicateShapeIDs); ids != "" {
		ev.DuplicateShapeIDs = strings.Split(ids, ",")
	}
	return ev, nil
}

func parseIdentity(s string) (*lot.Identity, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var id lot.Identity
	if err := json.Unmarshal([]byte(s), &id); err != nil {
		return nil, err
	}
	return &id, nil
}
