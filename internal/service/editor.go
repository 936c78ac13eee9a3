package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-lots/internal/assign"
	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/refresh"
	"github.com/joeblew999/plat-lots/internal/shape"
	"github.com/joeblew999/plat-lots/internal/webhook"
)

var (
	ErrPopupNotFound = errors.New("popup not found")
	ErrSaveInFlight  = errors.New("a save is already in flight for this popup")
	ErrNothingToSave = errors.New("pending lot equals the current assignment")
	ErrUnknownShape  = errors.New("unknown shape")
	ErrUnknownLot    = errors.New("unknown lot")
	// ErrSaveFailed wraps the webhook error of a rolled back save.
	ErrSaveFailed = errors.New("assignment not saved")
)

// Fetcher loads the current lot list from the system of record.
type Fetcher interface {
	Lots(ctx context.Context) ([]lot.Lot, error)
}

// Submitter delivers a webhook event.
type Submitter interface {
	Submit(ctx context.Context, url string, ev webhook.Event) error
}

// ChangeLog records every attempted change.
type ChangeLog interface {
	RecordChange(ctx context.Context, c Change) error
}

// EditorConfig configures an Editor.
type EditorConfig struct {
	Fetcher   Fetcher
	Submitter Submitter
	// Changes is optional.
	Changes ChangeLog
	Layer   *shape.Layer
	// LotTypes are explicit legend types from the map data.
	LotTypes []lot.TypeEntry

	WebhookURL      string
	PageURL         string
	HoldWindow      time.Duration
	RefreshDelay    time.Duration
	RefreshInterval time.Duration
	// PopupIdle closes popups untouched for this long. Zero keeps them open.
	PopupIdle time.Duration

	Logger *zap.Logger
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Editor owns the assignment state and everything that mutates it.
//
// All state and hold access happens under mu. mu is never held across
// network I/O: the webhook call and the reconciliation fetch run unlocked.
type Editor struct {
	fetcher    Fetcher
	submitter  Submitter
	changes    ChangeLog
	webhookURL string
	pageURL    string
	popupIdle  time.Duration
	log        *zap.Logger
	now        func() time.Time
	bus        *EventBus
	refresher  *refresh.Scheduler

	mu          sync.RWMutex
	layer       *shape.Layer
	lotTypes    []lot.TypeEntry
	state       *assign.State
	holds       *assign.Holds
	popups      map[string]*popup
	lastRefresh time.Time
	lastErr     error
}

// NewEditor builds the assignment state from the initial lot list and starts
// the background reconciler.
func NewEditor(cfg EditorConfig, initial []lot.Lot) *Editor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Editor{
		fetcher:    cfg.Fetcher,
		submitter:  cfg.Submitter,
		changes:    cfg.Changes,
		webhookURL: cfg.WebhookURL,
		pageURL:    cfg.PageURL,
		popupIdle:  cfg.PopupIdle,
		log:        cfg.Logger.Named("editor"),
		now:        cfg.Now,
		bus:        NewEventBus(),
		layer:      cfg.Layer,
		lotTypes:   cfg.LotTypes,
		state:      assign.Build(initial),
		holds:      assign.NewHolds(cfg.HoldWindow),
		popups:     map[string]*popup{},
	}
	e.observeLayerLocked()
	e.refresher = refresh.New(e.Refresh, refresh.Config{
		Delay:    cfg.RefreshDelay,
		Interval: cfg.RefreshInterval,
		Logger:   cfg.Logger,
	})
	return e
}

// Close stops the reconciler and waits for a running reconciliation.
func (e *Editor) Close() {
	e.refresher.Close()
}

// Bus returns the editor's event bus.
func (e *Editor) Bus() *EventBus {
	return e.bus
}

// WebhookURL returns the endpoint saves are delivered to.
func (e *Editor) WebhookURL() string {
	return e.webhookURL
}

// Layer returns the shape layer, or nil when none was loaded.
func (e *Editor) Layer() *shape.Layer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.layer
}

// Schedule requests a debounced reconciliation.
func (e *Editor) Schedule() {
	e.refresher.Schedule()
}

// TriggerRefresh requests an immediate reconciliation.
func (e *Editor) TriggerRefresh() {
	e.refresher.Trigger()
}

// Refresh fetches fresh lots and reconciles the state against them, keeping
// held shapes. A failed fetch leaves the state as it is.
func (e *Editor) Refresh(ctx context.Context) error {
	fresh, err := e.fetcher.Lots(ctx)
	if err != nil {
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		return fmt.Errorf("fetching lots: %w", err)
	}

	e.mu.Lock()
	now := e.now()
	held := assign.Reconcile(e.state, e.holds, fresh, now)
	e.observeLayerLocked()
	e.pruneLocked(now)
	e.lastRefresh = now
	e.lastErr = nil
	e.mu.Unlock()

	e.log.Info("reconciled assignments", zap.Int("lots", len(fresh)), zap.Strings("held", held))
	e.bus.Publish(Event{Resource: ResourceAssignments, Action: ActionReconciled})
	return nil
}

// RefreshStatus reports the reconciler's state.
func (e *Editor) RefreshStatus() RefreshStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := RefreshStatus{
		State: e.refresher.State().String(),
		Runs:  e.refresher.Runs(),
		Held:  e.holds.Active(e.now()),
	}
	if !e.lastRefresh.IsZero() {
		t := e.lastRefresh
		st.LastRefresh = &t
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}

// Lots returns the current lot records in source order with their option
// keys.
func (e *Editor) Lots() []LotView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	records := e.state.Records()
	out := make([]LotView, 0, len(records))
	for _, r := range records {
		out = append(out, *NewLotView(r.OptionKey, r.Lot))
	}
	return out
}

// Lot looks a lot up by option key (normally its slug) and returns the
// shapes bound to it.
func (e *Editor) Lot(key string) (LotView, []string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.state.Record(lot.NormalizeSlug(key))
	if !ok {
		r, ok = e.state.Record(key)
	}
	if !ok {
		return LotView{}, nil, fmt.Errorf("%w: %q", ErrUnknownLot, key)
	}
	var shapes []string
	if r.Lot.Key() != "" {
		shapes = e.state.ShapesFor(r.Lot)
	}
	return *NewLotView(r.OptionKey, r.Lot), shapes, nil
}

// RawLots returns the lot records themselves.
func (e *Editor) RawLots() []lot.Lot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	records := e.state.Records()
	out := make([]lot.Lot, len(records))
	for i, r := range records {
		out[i] = *r.Lot
	}
	return out
}

// Legend derives the status and type legend from the current lots.
func (e *Editor) Legend() lot.Legend {
	lots := e.RawLots()
	e.mu.RLock()
	types := e.lotTypes
	e.mu.RUnlock()
	return lot.BuildLegend(lots, types)
}

// Assignments lists the binding of every observed shape.
func (e *Editor) Assignments() []Assignment {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := e.state.ShapeIDs()
	out := make([]Assignment, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.assignmentLocked(id))
	}
	return out
}

// Assignment returns one shape's binding.
func (e *Editor) Assignment(shapeID string) (Assignment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.knownShapeLocked(shapeID) {
		return Assignment{}, fmt.Errorf("%w: %q", ErrUnknownShape, shapeID)
	}
	return e.assignmentLocked(shapeID), nil
}

// Duplicates returns the shapes other than shapeID bound to the same lot as
// shapeID, or, with a non-empty optionKey, bound to that lot.
func (e *Editor) Duplicates(shapeID, optionKey string) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.knownShapeLocked(shapeID) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownShape, shapeID)
	}
	target, _ := e.state.Lot(shapeID)
	if optionKey != "" {
		r, ok := e.state.Record(optionKey)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLot, optionKey)
		}
		target = r.Lot
	}
	if target == nil {
		return nil, nil
	}
	return e.state.Duplicates(target, shapeID), nil
}

// Assign binds shapeID to the lot with optionKey, or unassigns it when
// optionKey is empty, with the same optimistic flow as a popup save. Binding a
// shape to the lot it already has is a no-op.
func (e *Editor) Assign(ctx context.Context, shapeID, optionKey string) (Assignment, error) {
	pv, err := e.Open(shapeID)
	if err != nil {
		return Assignment{}, err
	}
	defer e.ClosePopup(pv.ID)

	if optionKey == "" {
		_, err = e.Clear(pv.ID)
	} else {
		_, err = e.Select(pv.ID, optionKey)
	}
	if err != nil {
		return Assignment{}, err
	}

	if _, err := e.Save(ctx, pv.ID, nil); err != nil && !errors.Is(err, ErrNothingToSave) {
		return Assignment{}, err
	}
	return e.Assignment(shapeID)
}

func (e *Editor) assignmentLocked(shapeID string) Assignment {
	a := Assignment{ShapeID: shapeID}
	l, _ := e.state.Lot(shapeID)
	if l != nil {
		a.Lot = NewLotView(e.optionKeyLocked(l), l)
		a.Duplicates = e.state.Duplicates(l, shapeID)
	}
	now := e.now()
	if e.holds.Held(shapeID, now) {
		a.Held = true
		if until, ok := e.holds.Until(shapeID); ok {
			a.HeldUntil = &until
		}
	}
	return a
}

// optionKeyLocked finds the option key of l among the records. Lots kept by a
// hold may no longer be in the records; their slug stands in.
func (e *Editor) optionKeyLocked(l *lot.Lot) string {
	for _, r := range e.state.Records() {
		if r.Lot == l || (l.Key() != "" && r.Lot.Key() == l.Key()) {
			return r.OptionKey
		}
	}
	return l.Key()
}

func (e *Editor) knownShapeLocked(shapeID string) bool {
	if shapeID == "" {
		return false
	}
	if _, ok := e.state.Lot(shapeID); ok {
		return true
	}
	_, ok := e.layer.Shape(shapeID)
	return ok
}

func (e *Editor) observeLayerLocked() {
	for _, id := range e.layer.IDs() {
		e.state.Observe(id)
	}
}

func (e *Editor) recordChange(ctx context.Context, c Change) {
	if e.changes == nil {
		return
	}
	if err := e.changes.RecordChange(ctx, c); err != nil {
		e.log.Warn("recording change failed", zap.String("change", c.ID), zap.Error(err))
	}
}
