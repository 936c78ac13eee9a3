package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-lots/internal/service"
)

type InfoHandler struct {
	dataDir string
	editor  *service.Editor
	dbOK    bool
}

func NewInfoHandler(dataDir string, editor *service.Editor, dbOK bool) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, editor: editor, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name       string   `json:"name" doc:"Service name"`
	Version    string   `json:"version" doc:"Service version"`
	DataDir    string   `json:"data_dir" doc:"Data directory path"`
	DB         bool     `json:"db" doc:"Whether database is available"`
	Lots       int      `json:"lots" doc:"Lot records loaded"`
	Shapes     int      `json:"shapes" doc:"Shapes in the plan layer"`
	LayerKind  string   `json:"layer_kind,omitempty" doc:"Plan coordinate space (svg or geo)"`
	WebhookURL string   `json:"webhook_url" doc:"Where assignment changes are delivered"`
	Features   []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	layer := h.editor.Layer()
	body := InfoBody{
		Name:       "plat-lots",
		Version:    "0.1.0",
		DataDir:    h.dataDir,
		DB:         h.dbOK,
		Lots:       len(h.editor.Lots()),
		Shapes:     layer.Len(),
		WebhookURL: h.editor.WebhookURL(),
		Features:   []string{"assignments", "legend", "geojson", "webhook", "duckdb"},
	}
	if layer != nil {
		body.LayerKind = string(layer.Kind)
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
