package humastar

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// EntryPath is the hypermedia entry point every collection links "up" to.
const EntryPath = "/health"

// Links holds RFC 8288 Link header values derived from a registered API,
// keyed by operation path.
type Links struct {
	byPath map[string][]string
}

// AutoLinks walks the OpenAPI document and derives hypermedia links between
// collections and items. Call after all routes are registered. Operations
// tagged "editor" (Datastar SSE) are skipped.
func AutoLinks(api huma.API) *Links {
	oapi := api.OpenAPI()
	l := &Links{byPath: map[string][]string{}}

	var collections, items []string
	for p, pi := range oapi.Paths {
		if slices.Contains(primaryTags(pi), "editor") {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, p)
		} else {
			collections = append(collections, p)
		}
	}
	slices.Sort(collections)
	slices.Sort(items)

	// item -> parent collection
	for _, item := range items {
		parent := nearestCollection(oapi, item)
		if parent == "" {
			continue
		}
		l.add(item, parent, "collection")
		l.add(item, parent, "up")
		l.add(parent, item, "item")
	}

	for _, coll := range collections {
		if coll != EntryPath {
			l.add(coll, EntryPath, "up")
			l.add(EntryPath, coll, lastSegment(coll))
		}
		if pi := oapi.Paths[coll]; pi.Post != nil {
			l.add(coll, coll, "create-form")
		}
	}
	for _, item := range items {
		if pi := oapi.Paths[item]; pi.Put != nil || pi.Patch != nil {
			l.add(item, item, "edit")
		}
	}

	l.add(EntryPath, "/openapi.json", "describedby")
	l.add(EntryPath, "/openapi.json", "service-desc")
	l.add(EntryPath, "/docs", "service-doc")

	for p, pi := range oapi.Paths {
		if ref := responseSchemaRef(pi); ref != "" {
			l.add(p, "/openapi.json#/components/schemas/"+ref, "describedby")
		}
	}

	for p, pi := range oapi.Paths {
		headers, ok := l.byPath[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
	return l
}

// For returns the link header values for an operation path.
func (l *Links) For(opPath string) []string {
	if l == nil {
		return nil
	}
	return l.byPath[opPath]
}

// Root returns the entry point links, for use by non-Huma handlers.
func (l *Links) Root() []string {
	return l.For(EntryPath)
}

// Transformer returns a Huma Transformer that injects the derived Link
// headers, a self link on item endpoints, and any pagination or action links
// the response body carries.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range l.For(op.Path) {
			ctx.AppendHeader("Link", link)
		}

		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}

		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}

func (l *Links) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	if slices.Contains(l.byPath[from], val) {
		return
	}
	l.byPath[from] = append(l.byPath[from], val)
}

// nearestCollection walks up an item path ("/a/{id}/b") until it finds a
// registered path without parameters.
func nearestCollection(oapi *huma.OpenAPI, p string) string {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if strings.Contains(dir, "{") {
			continue
		}
		if _, ok := oapi.Paths[dir]; ok {
			return dir
		}
	}
	return ""
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

// injectResponseLinks adds OpenAPI Link objects to the operation's success
// response.
func injectResponseLinks(op *huma.Operation, headers []string) {
	if op.Responses == nil {
		return
	}
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  fmt.Sprintf("Related: %s", rel),
		}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil || pi.Get.Responses == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp.Content == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				parts := strings.Split(mt.Schema.Ref, "/")
				return parts[len(parts)-1]
			}
		}
	}
	return ""
}

func parseLinkHeader(h string) (rel, href string) {
	parts := strings.SplitN(h, ";", 2)
	if len(parts) < 2 {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(parts[0]), "<>")
	relPart := strings.TrimSpace(parts[1])
	if strings.HasPrefix(relPart, `rel="`) {
		rel = strings.Trim(relPart[4:], `"`)
	}
	return rel, href
}
