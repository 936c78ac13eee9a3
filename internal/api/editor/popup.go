// Package editor contains Datastar SSE handlers for the lot assignment editor.
package editor

import (
	"context"
	"embed"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-lots/internal/humastar"
	"github.com/joeblew999/plat-lots/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// Elements the popup fragments patch.
const (
	PopupSelector   = "#lot-popup"
	OptionsSelector = "#lot-options"
)

// NewRenderer parses the embedded editor fragments.
func NewRenderer() (*humastar.Renderer, error) {
	return humastar.NewRenderer(templateFS, "templates/*.html")
}

// PopupHandler drives the popup state machine over Datastar SSE.
type PopupHandler struct {
	humastar.Handler
	editor *service.Editor
	log    *zap.Logger
}

// NewPopupHandler creates a new popup handler.
func NewPopupHandler(editor *service.Editor, renderer *humastar.Renderer, logger *zap.Logger) *PopupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PopupHandler{
		Handler: humastar.Handler{Renderer: renderer},
		editor:  editor,
		log:     logger.Named("popup"),
	}
}

func (h *PopupHandler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("editor")
	huma.Get(api, "/api/v1/editor/shapes/{shapeId}/popup", h.Open, tags)
	huma.Post(api, "/api/v1/editor/popups/{popupId}/search", h.Search, tags)
	huma.Post(api, "/api/v1/editor/popups/{popupId}/select", h.Select, tags)
	huma.Post(api, "/api/v1/editor/popups/{popupId}/clear", h.Clear, tags)
	huma.Post(api, "/api/v1/editor/popups/{popupId}/save", h.Save, tags)
	huma.Delete(api, "/api/v1/editor/popups/{popupId}", h.Close, tags)
}

type OpenInput struct {
	ShapeID string `path:"shapeId" doc:"Shape id" example:"L-12"`
}

// PopupInput addresses an open popup and carries the Datastar signals.
type PopupInput struct {
	PopupID string `path:"popupId" doc:"Popup id"`
	RawBody []byte
}

type CloseInput struct {
	PopupID string `path:"popupId" doc:"Popup id"`
}

// Open starts a popup on a shape and renders it.
func (h *PopupHandler) Open(ctx context.Context, input *OpenInput) (*huma.StreamResponse, error) {
	view, err := h.editor.Open(input.ShapeID)
	if err != nil {
		return nil, popupError(err)
	}
	return h.Stream(func(sse humastar.SSE) {
		h.render(sse, view)
		sse.Signals(map[string]any{
			"popup":   map[string]any{"id": view.ID, "query": "", "option": ""},
			"error":   "",
			"success": "",
		})
	}), nil
}

// Search filters the lot options by the popup.query signal. Only the option
// list is patched so the search input keeps its focus. Without the signal the
// current options are sent again.
func (h *PopupHandler) Search(ctx context.Context, input *PopupInput) (*huma.StreamResponse, error) {
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	var view service.PopupView
	if signals.Has("popup.query") {
		view, err = h.editor.Search(input.PopupID, signals.String("popup.query"))
	} else {
		view, err = h.editor.Popup(input.PopupID)
	}
	if err != nil {
		return nil, popupError(err)
	}
	return h.Stream(func(sse humastar.SSE) {
		html, err := h.Renderer.Render("option-items", view)
		if err != nil {
			h.log.Error("rendering options", zap.String("popup", view.ID), zap.Error(err))
			sse.Error("Could not render the options")
			return
		}
		sse.Patch(html, OptionsSelector)
	}), nil
}

// Select makes the popup.option signal the pending lot.
func (h *PopupHandler) Select(ctx context.Context, input *PopupInput) (*huma.StreamResponse, error) {
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	key := signals.String("popup.option")
	if key == "" {
		return nil, huma.Error400BadRequest("No lot selected")
	}
	view, err := h.editor.Select(input.PopupID, key)
	if err != nil {
		return nil, popupError(err)
	}
	return h.Stream(func(sse humastar.SSE) { h.render(sse, view) }), nil
}

// Clear makes "unassign" the pending choice.
func (h *PopupHandler) Clear(ctx context.Context, input *PopupInput) (*huma.StreamResponse, error) {
	view, err := h.editor.Clear(input.PopupID)
	if err != nil {
		return nil, popupError(err)
	}
	return h.Stream(func(sse humastar.SSE) { h.render(sse, view) }), nil
}

// Save applies the pending choice. The optimistic view streams before the
// webhook call; the final (saved or rolled back) view follows.
func (h *PopupHandler) Save(ctx context.Context, input *PopupInput) (*huma.StreamResponse, error) {
	if _, err := h.editor.Popup(input.PopupID); err != nil {
		return nil, popupError(err)
	}
	return h.Stream(func(sse humastar.SSE) {
		view, err := h.editor.Save(context.WithoutCancel(ctx), input.PopupID, func(v service.PopupView) {
			h.render(sse, v)
		})
		switch {
		case err == nil:
			h.render(sse, view)
			sse.Success(view.Message)
		case errors.Is(err, service.ErrSaveFailed):
			h.render(sse, view)
			sse.Error(view.Error)
		default:
			sse.Error(err.Error())
		}
	}), nil
}

// Close discards a popup and empties its container.
func (h *PopupHandler) Close(ctx context.Context, input *CloseInput) (*huma.StreamResponse, error) {
	h.editor.ClosePopup(input.PopupID)
	return h.Stream(func(sse humastar.SSE) {
		sse.Replace(h.Renderer.MustRender("popup-closed", nil), PopupSelector)
		sse.Signals(map[string]any{"popup": map[string]any{"id": "", "query": "", "option": ""}})
	}), nil
}

func (h *PopupHandler) render(sse humastar.SSE, view service.PopupView) {
	html, err := h.Renderer.Render("popup", view)
	if err != nil {
		h.log.Error("rendering popup", zap.String("popup", view.ID), zap.Error(err))
		sse.Error("Could not render the popup")
		return
	}
	sse.Replace(html, PopupSelector)
}

// popupError maps editor errors to Huma errors.
func popupError(err error) error {
	switch {
	case errors.Is(err, service.ErrPopupNotFound), errors.Is(err, service.ErrUnknownShape), errors.Is(err, service.ErrUnknownLot):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrSaveInFlight):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrNothingToSave):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error500InternalServerError("editor error", err)
}
