// Package service contains the business logic for plat-lots: the assignment
// editor, its popups, and the view models handed to the API and templates.
package service

import (
	"time"

	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/shape"
)

// LotView is a lot as the popup and the API show it.
// Huma reads the tags for OpenAPI; the editor templates read the same fields.
type LotView struct {
	OptionKey   string `json:"optionKey" doc:"Key used to select this lot in the editor" example:"acre-1"`
	Slug        string `json:"slug,omitempty" doc:"CMS slug" example:"acre-1"`
	PID         string `json:"pid,omitempty" doc:"Parcel id" example:"P-12"`
	Name        string `json:"name,omitempty" doc:"Display name" example:"Lot 12"`
	Title       string `json:"title" doc:"Popup heading (name, else pid, else \"Lot\")" example:"Lot 12"`
	StatusName  string `json:"statusName,omitempty" doc:"Status label" example:"Available"`
	StatusColor string `json:"statusColor,omitempty" doc:"Status colour (CSS)" example:"#2e7d32"`
	Price       string `json:"price,omitempty" doc:"Formatted price" example:"$125,000"`
	DetailsHTML string `json:"detailsHtml,omitempty" doc:"Escaped details with line breaks as <br>"`
	LogoURL     string `json:"logoUrl,omitempty" doc:"Builder logo URL"`
	TypeName    string `json:"typeName,omitempty" doc:"Lot type label" example:"Estate"`
	TypeColor   string `json:"typeColor,omitempty" doc:"Lot type swatch colour"`
	ShapeID     string `json:"elementSvgId,omitempty" doc:"Shape id the CMS has this lot bound to" example:"L-12"`
}

// NewLotView renders l for display. It returns nil for a nil lot.
func NewLotView(optionKey string, l *lot.Lot) *LotView {
	if l == nil {
		return nil
	}
	return &LotView{
		OptionKey:   optionKey,
		Slug:        l.Slug,
		PID:         l.PID,
		Name:        l.Name,
		Title:       l.Title(),
		StatusName:  l.StatusName,
		StatusColor: l.StatusColor,
		Price:       lot.FormatPrice(l.Price),
		DetailsHTML: lot.DetailsHTML(l.Details),
		LogoURL:     l.LogoURL,
		TypeName:    l.TypeName,
		TypeColor:   l.TypeColor,
		ShapeID:     l.ShapeID,
	}
}

// OptionView is one search result in the editor.
type OptionView struct {
	Key        string   `json:"key" doc:"Option key" example:"acre-1"`
	Label      string   `json:"label" doc:"Option label" example:"Lot 12"`
	Meta       string   `json:"meta,omitempty" doc:"Secondary text (pid, status)" example:"P-12 · Available"`
	AssignedTo []string `json:"assignedTo,omitempty" doc:"Shapes the lot is currently bound to"`
	Selected   bool     `json:"selected,omitempty" doc:"Whether this option is the pending choice"`
}

// Phase is where a popup is in the edit cycle.
type Phase string

const (
	PhaseViewing    Phase = "viewing"
	PhaseEditing    Phase = "editing"
	PhaseSaving     Phase = "saving"
	PhaseSaved      Phase = "saved"
	PhaseRolledBack Phase = "rolled_back"
)

// PopupView is the render model of an open popup.
type PopupView struct {
	ID      string        `json:"id" doc:"Popup id"`
	ShapeID string        `json:"shapeId" doc:"Shape the popup belongs to" example:"L-12"`
	Phase   Phase         `json:"phase" enum:"viewing,editing,saving,saved,rolled_back" doc:"Edit phase"`
	Anchor  *shape.LatLng `json:"anchor,omitempty" doc:"Where the popup points at the shape"`
	Current *LotView      `json:"current,omitempty" doc:"Lot currently bound to the shape"`
	// Pending is the candidate lot; nil with PendingSet means "unassign".
	Pending    *LotView     `json:"pending,omitempty" doc:"Lot chosen but not saved yet"`
	PendingSet bool         `json:"pendingSet" doc:"Whether a choice (possibly unassign) is pending"`
	Query      string       `json:"query,omitempty" doc:"Current search text"`
	Options    []OptionView `json:"options,omitempty" doc:"Search results"`
	Duplicates []string     `json:"duplicates,omitempty" doc:"Other shapes bound to the pending lot"`
	CanSave    bool         `json:"canSave" doc:"Whether Save is enabled"`
	Held       bool         `json:"held" doc:"Whether the shape is under an optimistic hold"`
	Message    string       `json:"message,omitempty" doc:"Status message"`
	Error      string       `json:"error,omitempty" doc:"Error message from the last save"`
}

// Assignment is one shape's binding.
type Assignment struct {
	ShapeID    string     `json:"shapeId" doc:"Shape id" example:"L-12"`
	Lot        *LotView   `json:"lot,omitempty" doc:"Bound lot, absent when unassigned"`
	Held       bool       `json:"held" doc:"Whether an optimistic hold protects this binding"`
	HeldUntil  *time.Time `json:"heldUntil,omitempty" doc:"Hold expiry"`
	Duplicates []string   `json:"duplicates,omitempty" doc:"Other shapes bound to the same lot"`
}

// ChangeStatus is the outcome of a save.
type ChangeStatus string

const (
	ChangeSaved      ChangeStatus = "saved"
	ChangeRolledBack ChangeStatus = "rolled_back"
)

// Change is one attempted assignment change, as recorded in the change log.
type Change struct {
	ID         string        `json:"id" doc:"Change (and webhook event) id"`
	ShapeID    string        `json:"shapeId" doc:"Shape id" example:"L-12"`
	From       *lot.Identity `json:"from,omitempty" doc:"Lot bound before the change"`
	To         *lot.Identity `json:"to,omitempty" doc:"Lot bound by the change"`
	Changed    []string      `json:"changed,omitempty" doc:"Every shape whose binding changed"`
	Duplicates []string      `json:"duplicates,omitempty" doc:"Shapes the lot was taken from"`
	Status     ChangeStatus  `json:"status" enum:"saved,rolled_back" doc:"Outcome"`
	Error      string        `json:"error,omitempty" doc:"Webhook error for rolled back changes"`
	At         time.Time     `json:"at" doc:"When the change was made"`
}

// RefreshStatus describes the background reconciler.
type RefreshStatus struct {
	State       string     `json:"state" doc:"Scheduler state" example:"idle"`
	Runs        int        `json:"runs" doc:"Reconciliations started since boot"`
	LastRefresh *time.Time `json:"lastRefresh,omitempty" doc:"Time of the last successful reconciliation"`
	LastError   string     `json:"lastError,omitempty" doc:"Error of the last failed reconciliation"`
	Held        []string   `json:"held,omitempty" doc:"Shapes currently under an optimistic hold"`
}
