package api

import (
	"context"
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-lots/internal/humastar"
	"github.com/joeblew999/plat-lots/internal/service"
	"github.com/joeblew999/plat-lots/internal/store"
	"github.com/joeblew999/plat-lots/internal/webhook"
)

// HistoryHandler serves the DuckDB-backed change log and the built-in
// webhook sink.
type HistoryHandler struct {
	svc *Services
	log *zap.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(svc *Services, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{svc: svc, log: logger.Named("sink")}
}

// RegisterRoutes registers history and sink routes with Huma.
func (h *HistoryHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("history"))
	huma.Get(api, "/api/v1/changes", h.ListChanges, huma.OperationTags("history"))
	huma.Get(api, "/api/v1/webhooks/deliveries", h.ListDeliveries, huma.OperationTags("history"))
	huma.Register(api, huma.Operation{
		OperationID:   "receive-assignment-webhook",
		Method:        "POST",
		Path:          webhook.DefaultPath,
		Summary:       "Receive an assignment webhook",
		Description:   "Default webhook target. Accepts the form-encoded assignment event and stores it.",
		Tags:          []string{"history"},
		DefaultStatus: 204,
	}, h.Receive)
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *HistoryHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.svc.Store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	tables, err := h.svc.Store.Tables(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}

type ChangesInput struct {
	humastar.PageInput
	ShapeID string `query:"shapeId" doc:"Only changes made on this shape" example:"L-12"`
}

// ListChanges returns the recorded assignment changes, newest first.
func (h *HistoryHandler) ListChanges(ctx context.Context, input *ChangesInput) (*struct {
	Body humastar.PageBody[service.Change]
}, error) {
	if h.svc.Store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	changes, total, err := h.svc.Store.ListChanges(ctx, store.ChangeFilter{
		ShapeID: input.ShapeID,
		Limit:   input.Limit,
		Offset:  input.Offset,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list changes", err)
	}
	return &struct {
		Body humastar.PageBody[service.Change]
	}{Body: humastar.PageBody[service.Change]{Total: total, Offset: input.Offset, Limit: input.Limit, Data: changes}}, nil
}

// ListDeliveries returns the webhook events the sink received, newest first.
func (h *HistoryHandler) ListDeliveries(ctx context.Context, input *humastar.PageInput) (*struct {
	Body humastar.PageBody[store.Delivery]
}, error) {
	if h.svc.Store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	deliveries, total, err := h.svc.Store.ListDeliveries(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list deliveries", err)
	}
	return &struct {
		Body humastar.PageBody[store.Delivery]
	}{Body: humastar.PageBody[store.Delivery]{Total: total, Offset: input.Offset, Limit: input.Limit, Data: deliveries}}, nil
}

// ReceiveInput carries the raw form body of a webhook delivery.
type ReceiveInput struct {
	ContentType string `header:"Content-Type"`
	RawBody     []byte

	remoteAddr string
}

// Resolve captures the sender address.
func (i *ReceiveInput) Resolve(ctx huma.Context) []error {
	i.remoteAddr = ctx.RemoteAddr()
	return nil
}

// Receive stores one webhook delivery.
func (h *HistoryHandler) Receive(ctx context.Context, input *ReceiveInput) (*struct{}, error) {
	values, err := url.ParseQuery(string(input.RawBody))
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid form body: " + err.Error())
	}
	ev, err := webhook.ParseForm(values)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if h.svc.Store == nil {
		h.log.Info("webhook received", zap.String("event", ev.Type), zap.String("shape", ev.ShapeID))
		return nil, nil
	}
	if err := h.svc.Store.RecordDelivery(ctx, ev, input.remoteAddr, h.svc.Now()); err != nil {
		return nil, huma.Error500InternalServerError("Failed to store delivery", err)
	}
	h.log.Debug("webhook stored", zap.String("event", ev.Type), zap.String("id", ev.ID), zap.String("shape", ev.ShapeID))
	return nil, nil
}
