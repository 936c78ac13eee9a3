package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-lots/internal/assign"
	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/webhook"
)

// popup is the per-popup edit session.
//
//	viewing → editing → saving → saved | rolled_back
//
// Editing only tracks the pending lot; the assignment state changes on save.
type popup struct {
	id      string
	shapeID string
	phase   Phase
	// pending is the candidate lot. pendingSet distinguishes "unassign"
	// (nil, true) from "no choice yet" (nil, false).
	pending    *lot.Lot
	pendingKey string
	pendingSet bool
	query      string
	options    []assign.Record
	message    string
	err        string
	touched    time.Time
}

// Open starts a popup on shapeID.
func (e *Editor) Open(shapeID string) (PopupView, error) {
	shapeID = strings.TrimSpace(shapeID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if shapeID == "" {
		return PopupView{}, fmt.Errorf("%w: empty id", ErrUnknownShape)
	}
	if e.layer.Len() > 0 {
		if _, ok := e.layer.Shape(shapeID); !ok {
			return PopupView{}, fmt.Errorf("%w: %q", ErrUnknownShape, shapeID)
		}
	}
	e.state.Observe(shapeID)

	p := &popup{
		id:      uuid.NewString(),
		shapeID: shapeID,
		phase:   PhaseViewing,
		touched: e.now(),
	}
	e.popups[p.id] = p
	return e.viewLocked(p), nil
}

// Popup returns the current view of a popup.
func (e *Editor) Popup(popupID string) (PopupView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.popups[popupID]
	if !ok {
		return PopupView{}, fmt.Errorf("%w: %q", ErrPopupNotFound, popupID)
	}
	return e.viewLocked(p), nil
}

// ClosePopup discards a popup. Closing an unknown popup is not an error.
func (e *Editor) ClosePopup(popupID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.popups, popupID)
}

// Search enters editing and lists the lots matching query.
func (e *Editor) Search(popupID, query string) (PopupView, error) {
	return e.edit(popupID, func(p *popup) error {
		p.query = strings.TrimSpace(query)
		p.options = e.state.Search(p.query, assign.DefaultSearchLimit)
		return nil
	})
}

// Select makes the lot with optionKey the pending choice.
func (e *Editor) Select(popupID, optionKey string) (PopupView, error) {
	return e.edit(popupID, func(p *popup) error {
		r, ok := e.state.Record(optionKey)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownLot, optionKey)
		}
		p.pending, p.pendingKey, p.pendingSet = r.Lot, r.OptionKey, true
		return nil
	})
}

// Clear makes "unassigned" the pending choice.
func (e *Editor) Clear(popupID string) (PopupView, error) {
	return e.edit(popupID, func(p *popup) error {
		p.pending, p.pendingKey, p.pendingSet = nil, "", true
		return nil
	})
}

func (e *Editor) edit(popupID string, fn func(*popup) error) (PopupView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.popups[popupID]
	if !ok {
		return PopupView{}, fmt.Errorf("%w: %q", ErrPopupNotFound, popupID)
	}
	if p.phase == PhaseSaving {
		return e.viewLocked(p), ErrSaveInFlight
	}
	if err := fn(p); err != nil {
		return e.viewLocked(p), err
	}
	p.phase = PhaseEditing
	p.message, p.err = "", ""
	p.touched = e.now()
	return e.viewLocked(p), nil
}

// Save applies the pending choice.
//
// The state is mutated and the affected shapes are held before the webhook is
// called; optimistic, when non-nil, receives that view first. If the webhook
// fails the shapes this save rebound get their earlier lots and holds back,
// unless something newer has replaced them, and the popup ends rolled back
// with the error shown. On success a reconciliation is
// scheduled.
func (e *Editor) Save(ctx context.Context, popupID string, optimistic func(PopupView)) (PopupView, error) {
	e.mu.Lock()
	p, ok := e.popups[popupID]
	if !ok {
		e.mu.Unlock()
		return PopupView{}, fmt.Errorf("%w: %q", ErrPopupNotFound, popupID)
	}
	if p.phase == PhaseSaving {
		v := e.viewLocked(p)
		e.mu.Unlock()
		return v, ErrSaveInFlight
	}
	current, _ := e.state.Lot(p.shapeID)
	if !p.pendingSet || lot.SameIdentity(p.pending, current) {
		v := e.viewLocked(p)
		e.mu.Unlock()
		return v, ErrNothingToSave
	}

	now := e.now()
	var dups []string
	if p.pending != nil {
		dups = e.state.Duplicates(p.pending, p.shapeID)
	}
	before := e.state.Snapshot()
	changed, err := e.state.Apply(p.shapeID, p.pending)
	if err != nil {
		v := e.viewLocked(p)
		e.mu.Unlock()
		return v, err
	}
	after := e.state.SnapshotOf(changed)
	mark := e.holds.Mark(changed, now)
	p.phase = PhaseSaving
	p.message, p.err = "Saving…", ""
	p.touched = now

	ev := webhook.NewEvent(e.pageURL, p.shapeID, current, p.pending, p.query, dups, now)
	change := Change{
		ID:         ev.ID,
		ShapeID:    p.shapeID,
		From:       ev.Current,
		To:         ev.Next,
		Changed:    changed,
		Duplicates: dups,
		At:         now,
	}
	view := e.viewLocked(p)
	e.mu.Unlock()

	e.bus.Publish(Event{Resource: ResourceAssignments, Action: ActionUpdated, ID: change.ShapeID, Shapes: changed})
	if optimistic != nil {
		optimistic(view)
	}

	submitErr := e.submitter.Submit(ctx, e.webhookURL, ev)

	e.mu.Lock()
	if submitErr != nil {
		// Other saves and refreshes may have landed while the webhook ran;
		// only this save's own writes are undone.
		e.state.Revert(before, after, changed)
		e.holds.Unmark(mark, changed)
		p.phase = PhaseRolledBack
		p.message = ""
		p.err = "Could not save the assignment. Nothing was changed."
		change.Status = ChangeRolledBack
		change.Error = submitErr.Error()
	} else {
		p.phase = PhaseSaved
		p.message = "Saved."
		p.pending, p.pendingKey, p.pendingSet = nil, "", false
		change.Status = ChangeSaved
	}
	p.touched = e.now()
	view = e.viewLocked(p)
	e.mu.Unlock()

	e.recordChange(context.WithoutCancel(ctx), change)

	if submitErr != nil {
		e.log.Warn("assignment rolled back",
			zap.String("shape", change.ShapeID), zap.Strings("changed", changed), zap.Error(submitErr))
		e.bus.Publish(Event{Resource: ResourceAssignments, Action: ActionRolledBack, ID: change.ShapeID, Shapes: changed})
		return view, fmt.Errorf("%w: %w", ErrSaveFailed, submitErr)
	}

	e.log.Info("assignment saved",
		zap.String("shape", change.ShapeID), zap.Strings("changed", changed), zap.Strings("duplicates", dups))
	e.refresher.Schedule()
	return view, nil
}

func (e *Editor) viewLocked(p *popup) PopupView {
	current, _ := e.state.Lot(p.shapeID)
	v := PopupView{
		ID:         p.id,
		ShapeID:    p.shapeID,
		Phase:      p.phase,
		PendingSet: p.pendingSet,
		Query:      p.query,
		Held:       e.holds.Held(p.shapeID, e.now()),
		Message:    p.message,
		Error:      p.err,
	}
	if s, ok := e.layer.Shape(p.shapeID); ok {
		anchor := s.Anchor()
		v.Anchor = &anchor
	}
	if current != nil {
		v.Current = NewLotView(e.optionKeyLocked(current), current)
	}
	if p.pendingSet {
		v.Pending = NewLotView(p.pendingKey, p.pending)
		if p.pending != nil {
			v.Duplicates = e.state.Duplicates(p.pending, p.shapeID)
		}
	}
	v.CanSave = p.phase != PhaseSaving && p.pendingSet && !lot.SameIdentity(p.pending, current)

	for _, r := range p.options {
		opt := OptionView{
			Key:      r.OptionKey,
			Label:    r.Lot.Title(),
			Meta:     optionMeta(r.Lot),
			Selected: p.pendingSet && p.pendingKey == r.OptionKey,
		}
		if r.Lot.Key() != "" {
			opt.AssignedTo = e.state.ShapesFor(r.Lot)
		}
		v.Options = append(v.Options, opt)
	}
	return v
}

func optionMeta(l *lot.Lot) string {
	var parts []string
	for _, s := range []string{l.PID, l.StatusName, l.TypeName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " · ")
}

// pruneLocked closes idle popups that are not mid-save.
func (e *Editor) pruneLocked(now time.Time) {
	if e.popupIdle <= 0 {
		return
	}
	for id, p := range e.popups {
		if p.phase != PhaseSaving && now.Sub(p.touched) > e.popupIdle {
			delete(e.popups, id)
		}
	}
}
