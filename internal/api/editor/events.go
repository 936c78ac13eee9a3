package editor

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-lots/internal/humastar"
	"github.com/joeblew999/plat-lots/internal/service"
)

// AssignmentsSelector is the element the assignment table replaces.
const AssignmentsSelector = "#assignment-list"

// EventHandler streams assignment changes to the Datastar UI via SSE.
type EventHandler struct {
	humastar.Handler
	editor *service.Editor
	log    *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(editor *service.Editor, renderer *humastar.Renderer, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		Handler: humastar.Handler{Renderer: renderer},
		editor:  editor,
		log:     logger.Named("events"),
	}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/editor/assignments", h.Assignments,
		huma.OperationTags("editor"),
	)
	huma.Get(api, "/api/v1/editor/events", h.Events,
		huma.OperationTags("editor"),
	)
}

// Assignments renders the assignment table once.
func (h *EventHandler) Assignments(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		h.renderAssignments(sse)
	}), nil
}

// Events re-renders the assignment table on every bus event until the client
// goes away.
func (h *EventHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			bus := h.editor.Bus()
			ch := bus.Subscribe()
			defer bus.Unsubscribe(ch)

			h.renderAssignments(sse)
			for {
				select {
				case <-humaCtx.Context().Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if ev.Resource == service.ResourceAssignments {
						h.renderAssignments(sse)
					}
					sse.DispatchCustomEvent("assignments-changed", map[string]any{
						"resource": ev.Resource,
						"action":   ev.Action,
						"id":       ev.ID,
						"shapes":   ev.Shapes,
					})
				}
			}
		},
	}, nil
}

func (h *EventHandler) renderAssignments(sse humastar.SSE) {
	html, err := h.Renderer.Render("assignments", h.editor.Assignments())
	if err != nil {
		h.log.Error("rendering assignments", zap.Error(err))
		return
	}
	sse.Replace(html, AssignmentsSelector)
}
