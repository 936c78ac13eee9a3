package editor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-lots/internal/lot"
	"github.com/joeblew999/plat-lots/internal/service"
	"github.com/joeblew999/plat-lots/internal/shape"
	"github.com/joeblew999/plat-lots/internal/webhook"
)

type staticFetcher struct{}

func (staticFetcher) Lots(context.Context) ([]lot.Lot, error) { return siteLots(), nil }

type stubSubmitter struct {
	mu  sync.Mutex
	err error
	n   int
}

func (s *stubSubmitter) Submit(context.Context, string, webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.err
}

func siteLots() []lot.Lot {
	return []lot.Lot{
		{Slug: "acre-1", PID: "P1", Name: "Lot 1", ShapeID: "L-12", StatusName: "Available", StatusColor: "#2e7d32", Details: "Corner <block>\nNorth facing"},
		{Slug: "acre-2", PID: "P2", Name: "Lot 2", ShapeID: "L-7"},
	}
}

func newEditorAPI(t *testing.T, sub *stubSubmitter) (humatest.TestAPI, *service.Editor) {
	t.Helper()
	ed := service.NewEditor(service.EditorConfig{
		Fetcher:   staticFetcher{},
		Submitter: sub,
		Layer: shape.NewLayer(shape.KindSVG, shape.ViewBox{Width: 100, Height: 100}, []shape.Shape{
			{ID: "L-12", Bound: orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{30, 20}}},
			{ID: "L-7", Bound: orb.Bound{Min: orb.Point{40, 10}, Max: orb.Point{60, 20}}},
		}),
		WebhookURL:   "http://hooks.test/assign",
		RefreshDelay: time.Hour,
		Logger:       zap.NewNop(),
	}, siteLots())
	t.Cleanup(ed.Close)

	renderer, err := NewRenderer()
	require.NoError(t, err)

	api := humatest.Wrap(t, humago.New(http.NewServeMux(), huma.DefaultConfig("editor test", "1.0.0")))
	NewPopupHandler(ed, renderer, zap.NewNop()).RegisterRoutes(api)
	NewEventHandler(ed, renderer, zap.NewNop()).RegisterRoutes(api)
	return api, ed
}

func TestOpenRendersPopup(t *testing.T) {
	api, _ := newEditorAPI(t, &stubSubmitter{})

	resp := api.Get("/api/v1/editor/shapes/L-12/popup")
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, "datastar-patch-elements")
	assert.Contains(t, body, "lot-popup--viewing")
	assert.Contains(t, body, "Lot 1")
	assert.Contains(t, body, "Corner &lt;block&gt;<br>North facing")
	assert.Contains(t, body, "datastar-patch-signals")

	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/editor/shapes/L-404/popup").Code)
}

func TestSearchSelectSave(t *testing.T) {
	sub := &stubSubmitter{}
	api, ed := newEditorAPI(t, sub)
	pv, err := ed.Open("L-12")
	require.NoError(t, err)
	base := "/api/v1/editor/popups/" + pv.ID

	resp := api.Post(base+"/search", map[string]any{"popup": map[string]any{"query": "acre-2"}})
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, OptionsSelector)
	assert.Contains(t, body, "Lot 2")
	assert.NotContains(t, body, "Lot 1")
	assert.NotContains(t, body, "lot-popup--", "only the option list is patched")

	// Without a query signal the last results are sent again.
	resp = api.Post(base+"/search", map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Lot 2")
	assert.NotContains(t, resp.Body.String(), "Lot 1")

	resp = api.Post(base+"/select", map[string]any{"popup": map[string]any{"option": "acre-2"}})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Also assigned to L-7")

	resp = api.Post(base+"/save", map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code)
	body = resp.Body.String()
	assert.Contains(t, body, "lot-popup--saving")
	assert.Contains(t, body, "lot-popup--saved")
	assert.Less(t, strings.Index(body, "lot-popup--saving"), strings.Index(body, "lot-popup--saved"),
		"optimistic view streams first")

	a, err := ed.Assignment("L-12")
	require.NoError(t, err)
	assert.Equal(t, "acre-2", a.Lot.Slug)
	assert.Equal(t, 1, sub.n)
}

func TestSelectRequiresOption(t *testing.T) {
	api, ed := newEditorAPI(t, &stubSubmitter{})
	pv, err := ed.Open("L-12")
	require.NoError(t, err)

	resp := api.Post("/api/v1/editor/popups/"+pv.ID+"/select", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = api.Post("/api/v1/editor/popups/"+pv.ID+"/select", map[string]any{"popup": map[string]any{"option": "nope"}})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = api.Post("/api/v1/editor/popups/missing/search", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSaveFailureStreamsRollback(t *testing.T) {
	api, ed := newEditorAPI(t, &stubSubmitter{err: errors.New("connection refused")})
	pv, err := ed.Open("L-12")
	require.NoError(t, err)
	_, err = ed.Clear(pv.ID)
	require.NoError(t, err)

	resp := api.Post("/api/v1/editor/popups/"+pv.ID+"/save", map[string]any{})
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, "lot-popup--rolled_back")
	assert.Contains(t, body, "Nothing was changed.")

	a, err := ed.Assignment("L-12")
	require.NoError(t, err)
	assert.Equal(t, "acre-1", a.Lot.Slug)
}

func TestClosePopup(t *testing.T) {
	api, ed := newEditorAPI(t, &stubSubmitter{})
	pv, err := ed.Open("L-12")
	require.NoError(t, err)

	resp := api.Delete("/api/v1/editor/popups/" + pv.ID)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "lot-popup--closed")

	_, err = ed.Popup(pv.ID)
	assert.ErrorIs(t, err, service.ErrPopupNotFound)
}

func TestAssignmentsFragment(t *testing.T) {
	api, _ := newEditorAPI(t, &stubSubmitter{})
	resp := api.Get("/api/v1/editor/assignments")
	require.Equal(t, http.StatusOK, resp.Code)
	body := resp.Body.String()
	assert.Contains(t, body, "assignment-list")
	assert.Contains(t, body, "L-12")
	assert.Contains(t, body, "Lot 2")
}
