// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-lots/internal/assign"
	"github.com/joeblew999/plat-lots/internal/humastar"
	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/service"
	"github.com/joeblew999/plat-lots/internal/shape"
	"github.com/joeblew999/plat-lots/internal/store"
	"github.com/joeblew999/plat-lots/internal/tiles"
	"github.com/joeblew999/plat-lots/internal/webhook"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Editor *service.Editor
	// Store is optional; the change and delivery endpoints answer 503
	// without it.
	Store *store.Store
	// Now is the clock used to stamp sink deliveries.
	Now func() time.Time
}

// Types

type ShapeIDInput struct {
	ShapeID string `path:"shapeId" doc:"Shape (SVG element) id" example:"L-12"`
}

type SlugInput struct {
	Slug string `path:"slug" doc:"Lot slug or option key" example:"acre-1"`
}

// PlanBody places the site plan overlay on the map.
type PlanBody struct {
	Kind    string          `json:"kind" doc:"Plan coordinate space (svg or geo)" example:"svg"`
	ViewBox *shape.ViewBox  `json:"viewBox,omitempty" doc:"SVG viewBox, for svg plans"`
	Bounds  [2]shape.LatLng `json:"bounds" doc:"Overlay bounds as [south-west, north-east]"`
	Shapes  int             `json:"shapes" doc:"Shapes in the plan"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// LotBody is a lot with the shapes it is bound to.
type LotBody struct {
	service.LotView
	Shapes []string `json:"shapes" doc:"Shapes bound to this lot"`
}

// ShapeView is one shape of the plan with its current binding.
type ShapeView struct {
	ID     string           `json:"id" doc:"Shape id" example:"L-12"`
	Kind   shape.Kind       `json:"kind" enum:"svg,geo" doc:"Coordinate space"`
	Center shape.LatLng     `json:"center" doc:"Bounding box centre"`
	Anchor shape.LatLng     `json:"anchor" doc:"Popup anchor"`
	Bounds [2]shape.LatLng  `json:"bounds" doc:"Bounding box as [[minLat,minLng],[maxLat,maxLng]]"`
	Lot    *service.LotView `json:"lot,omitempty" doc:"Bound lot"`
}

// AssignmentBody is one shape's binding with its state-dependent actions.
type AssignmentBody struct {
	service.Assignment
}

var (
	unassignAction = humastar.ActionDef{Rel: "unassign", Pattern: "/api/v1/assignments/%s", Method: "PUT", Title: "Unassign shape"}
	assignAction   = humastar.ActionDef{Rel: "assign", Pattern: "/api/v1/assignments/%s", Method: "PUT", Title: "Assign a lot"}
	dupesAction    = humastar.ActionDef{Rel: "duplicates", Pattern: "/api/v1/assignments/%s/duplicates", Method: "GET", Title: "Other shapes bound to this lot"}
)

// Actions implements humastar.Actor.
func (b AssignmentBody) Actions() []humastar.Action {
	id := url.PathEscape(b.ShapeID)
	if b.Lot == nil {
		return []humastar.Action{assignAction.For(id)}
	}
	actions := []humastar.Action{assignAction.For(id), unassignAction.For(id)}
	if len(b.Duplicates) > 0 {
		actions = append(actions, dupesAction.For(id))
	}
	return actions
}

type AssignInput struct {
	ShapeIDInput
	Body struct {
		// Empty unassigns.
		Lot string `json:"lot" doc:"Option key (slug) of the lot to bind; empty unassigns" example:"acre-2"`
	}
}

type DuplicatesInput struct {
	ShapeIDInput
	Lot string `query:"lot" doc:"Check this lot instead of the shape's current one" example:"acre-2"`
}

type DuplicatesBody struct {
	ShapeID    string   `json:"shapeId" doc:"Shape id"`
	Duplicates []string `json:"duplicates" doc:"Other shapes bound to the same lot"`
}

type LotsInput struct {
	humastar.PageInput
	Q string `query:"q" doc:"Search text; every word must match" example:"acre"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc.Now == nil {
		svc.Now = time.Now
	}
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLots registers lot routes.
func (h *APIHandler) RegisterLots(api huma.API) {
	huma.Get(api, "/api/v1/lots", h.GetLots, huma.OperationTags("lots"))
	huma.Get(api, "/api/v1/lots/{slug}", h.GetLot, huma.OperationTags("lots"))
	huma.Get(api, "/api/v1/legend", h.GetLegend, huma.OperationTags("lots"))
}

// RegisterShapes registers shape layer routes.
func (h *APIHandler) RegisterShapes(api huma.API) {
	huma.Get(api, "/api/v1/shapes", h.GetShapes, huma.OperationTags("shapes"))
	huma.Get(api, "/api/v1/shapes/{shapeId}", h.GetShape, huma.OperationTags("shapes"))
	huma.Get(api, "/api/v1/geojson", h.GetGeoJSON, huma.OperationTags("shapes"))
	huma.Get(api, "/api/v1/plan", h.GetPlan, huma.OperationTags("shapes"))
	huma.Get(api, "/api/v1/tiles/{z}/{x}/{y}", h.GetTile, huma.OperationTags("shapes"))
}

// RegisterAssignments registers assignment routes.
func (h *APIHandler) RegisterAssignments(api huma.API) {
	huma.Get(api, "/api/v1/assignments", h.GetAssignments, huma.OperationTags("assignments"))
	huma.Get(api, "/api/v1/assignments/{shapeId}", h.GetAssignment, huma.OperationTags("assignments"))
	huma.Put(api, "/api/v1/assignments/{shapeId}", h.PutAssignment, huma.OperationTags("assignments"))
	huma.Get(api, "/api/v1/assignments/{shapeId}/duplicates", h.GetDuplicates, huma.OperationTags("assignments"))
}

// RegisterRefresh registers reconciliation routes.
func (h *APIHandler) RegisterRefresh(api huma.API) {
	huma.Get(api, "/api/v1/refresh", h.GetRefresh, huma.OperationTags("refresh"))
	huma.Post(api, "/api/v1/refresh", h.PostRefresh, huma.OperationTags("refresh"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetLots(ctx context.Context, input *LotsInput) (*struct {
	Body humastar.PageBody[service.LotView]
}, error) {
	lots := h.svc.Editor.Lots()
	if q := strings.ToLower(strings.TrimSpace(input.Q)); q != "" {
		lots = filterLots(lots, strings.Fields(q))
	}
	return &struct {
		Body humastar.PageBody[service.LotView]
	}{Body: humastar.Paginate(lots, input.PageInput)}, nil
}

func (h *APIHandler) GetLot(ctx context.Context, input *SlugInput) (*struct{ Body LotBody }, error) {
	view, shapes, err := h.svc.Editor.Lot(input.Slug)
	if err != nil {
		return nil, apiError(err)
	}
	if shapes == nil {
		shapes = []string{}
	}
	return &struct{ Body LotBody }{Body: LotBody{LotView: view, Shapes: shapes}}, nil
}

func (h *APIHandler) GetPlan(ctx context.Context, input *struct{}) (*struct{ Body PlanBody }, error) {
	layer := h.svc.Editor.Layer()
	if layer == nil {
		return nil, huma.Error404NotFound("no site plan loaded")
	}
	body := PlanBody{Kind: string(layer.Kind), Shapes: layer.Len(), Bounds: layer.Bounds()}
	if layer.Kind == shape.KindSVG {
		vb := layer.ViewBox
		body.ViewBox = &vb
	}
	return &struct{ Body PlanBody }{Body: body}, nil
}

func (h *APIHandler) GetLegend(ctx context.Context, input *struct{}) (*struct{ Body lot.Legend }, error) {
	legend := h.svc.Editor.Legend()
	if legend.Statuses == nil {
		legend.Statuses = []lot.StatusEntry{}
	}
	if legend.Types == nil {
		legend.Types = []lot.TypeEntry{}
	}
	return &struct{ Body lot.Legend }{Body: legend}, nil
}

func (h *APIHandler) GetShapes(ctx context.Context, input *struct{}) (*struct{ Body []ShapeView }, error) {
	layer := h.svc.Editor.Layer()
	out := make([]ShapeView, 0, layer.Len())
	for _, id := range layer.IDs() {
		s, _ := layer.Shape(id)
		out = append(out, h.shapeView(s))
	}
	return &struct{ Body []ShapeView }{Body: out}, nil
}

func (h *APIHandler) GetShape(ctx context.Context, input *ShapeIDInput) (*struct{ Body ShapeView }, error) {
	s, ok := h.svc.Editor.Layer().Shape(input.ShapeID)
	if !ok {
		return nil, huma.Error404NotFound("shape not found")
	}
	return &struct{ Body ShapeView }{Body: h.shapeView(s)}, nil
}

func (h *APIHandler) GetGeoJSON(ctx context.Context, input *struct{}) (*struct{ Body *geojson.FeatureCollection }, error) {
	return &struct{ Body *geojson.FeatureCollection }{Body: h.featureCollection()}, nil
}

type TileInput struct {
	Z uint32 `path:"z" maximum:"22" doc:"Zoom"`
	X uint32 `path:"x" doc:"Tile column"`
	Y uint32 `path:"y" doc:"Tile row"`
}

type TileOutput struct {
	Status          int
	ContentType     string `header:"Content-Type"`
	ContentEncoding string `header:"Content-Encoding"`
	CacheControl    string `header:"Cache-Control"`
	Body            []byte
}

func (h *APIHandler) GetTile(ctx context.Context, input *TileInput) (*TileOutput, error) {
	if layer := h.svc.Editor.Layer(); layer == nil || layer.Kind != shape.KindGeo {
		return nil, huma.Error404NotFound("vector tiles need a geo (GeoJSON) plan")
	}
	data, err := tiles.New("lots", h.featureCollection()).Tile(input.Z, input.X, input.Y)
	if errors.Is(err, tiles.ErrOutOfRange) {
		return nil, huma.Error404NotFound(err.Error())
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to render tile", err)
	}
	if data == nil {
		return &TileOutput{Status: 204, CacheControl: "no-cache"}, nil
	}
	return &TileOutput{
		Status:          200,
		ContentType:     tiles.ContentType,
		ContentEncoding: "gzip",
		CacheControl:    "no-cache",
		Body:            data,
	}, nil
}

func (h *APIHandler) GetAssignments(ctx context.Context, input *struct{}) (*struct{ Body []service.Assignment }, error) {
	return &struct{ Body []service.Assignment }{Body: h.svc.Editor.Assignments()}, nil
}

func (h *APIHandler) GetAssignment(ctx context.Context, input *ShapeIDInput) (*struct{ Body AssignmentBody }, error) {
	a, err := h.svc.Editor.Assignment(input.ShapeID)
	if err != nil {
		return nil, apiError(err)
	}
	return &struct{ Body AssignmentBody }{Body: AssignmentBody{a}}, nil
}

func (h *APIHandler) PutAssignment(ctx context.Context, input *AssignInput) (*struct{ Body AssignmentBody }, error) {
	a, err := h.svc.Editor.Assign(ctx, input.ShapeID, strings.TrimSpace(input.Body.Lot))
	if err != nil {
		return nil, apiError(err)
	}
	return &struct{ Body AssignmentBody }{Body: AssignmentBody{a}}, nil
}

func (h *APIHandler) GetDuplicates(ctx context.Context, input *DuplicatesInput) (*struct{ Body DuplicatesBody }, error) {
	dupes, err := h.svc.Editor.Duplicates(input.ShapeID, input.Lot)
	if err != nil {
		return nil, apiError(err)
	}
	if dupes == nil {
		dupes = []string{}
	}
	return &struct{ Body DuplicatesBody }{Body: DuplicatesBody{ShapeID: input.ShapeID, Duplicates: dupes}}, nil
}

func (h *APIHandler) GetRefresh(ctx context.Context, input *struct{}) (*struct{ Body service.RefreshStatus }, error) {
	return &struct{ Body service.RefreshStatus }{Body: h.svc.Editor.RefreshStatus()}, nil
}

func (h *APIHandler) PostRefresh(ctx context.Context, input *struct{}) (*struct {
	Status int
	Body   MessageBody
}, error) {
	h.svc.Editor.TriggerRefresh()
	return &struct {
		Status int
		Body   MessageBody
	}{Status: 202, Body: MessageBody{Message: "Refresh started"}}, nil
}

func (h *APIHandler) shapeView(s shape.Shape) ShapeView {
	b := s.Polygon().Bound()
	v := ShapeView{
		ID:     s.ID,
		Kind:   s.Kind,
		Center: s.Center(),
		Anchor: s.Anchor(),
		Bounds: [2]shape.LatLng{
			{Lat: b.Min.Y(), Lng: b.Min.X()},
			{Lat: b.Max.Y(), Lng: b.Max.X()},
		},
	}
	if a, err := h.svc.Editor.Assignment(s.ID); err == nil {
		v.Lot = a.Lot
	}
	return v
}

// featureCollection renders the layer with each shape's bound lot as
// feature properties. SVG shapes become their bounding boxes.
func (h *APIHandler) featureCollection() *geojson.FeatureCollection {
	layer := h.svc.Editor.Layer()
	fc := geojson.NewFeatureCollection()
	for _, id := range layer.IDs() {
		s, _ := layer.Shape(id)
		f := s.Feature()
		if f == nil {
			f = geojson.NewFeature(s.Polygon())
			f.ID = s.ID
		}
		f.Properties["shapeId"] = s.ID
		if a, err := h.svc.Editor.Assignment(s.ID); err == nil && a.Lot != nil {
			f.Properties["slug"] = a.Lot.Slug
			f.Properties["title"] = a.Lot.Title
			f.Properties["statusName"] = a.Lot.StatusName
			f.Properties["statusColor"] = a.Lot.StatusColor
			f.Properties["typeColor"] = a.Lot.TypeColor
		}
		fc.Append(f)
	}
	return fc
}

func filterLots(lots []service.LotView, terms []string) []service.LotView {
	var out []service.LotView
	for _, l := range lots {
		hay := strings.ToLower(strings.Join([]string{l.Name, l.PID, l.Slug, l.StatusName, l.TypeName, l.ShapeID}, " "))
		match := true
		for _, t := range terms {
			if !strings.Contains(hay, t) {
				match = false
				break
			}
		}
		if match {
			out = append(out, l)
		}
	}
	return out
}

// apiError maps service sentinels to Huma errors.
func apiError(err error) error {
	switch {
	case errors.Is(err, service.ErrUnknownShape),
		errors.Is(err, service.ErrUnknownLot),
		errors.Is(err, service.ErrPopupNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrSaveInFlight):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrNothingToSave):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, assign.ErrEmptyShapeID):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, service.ErrSaveFailed):
		return huma.Error502BadGateway(err.Error())
	case errors.Is(err, webhook.ErrRejected):
		return huma.Error502BadGateway(err.Error())
	}
	return huma.Error500InternalServerError("internal error", err)
}
