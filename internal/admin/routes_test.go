package admin

import (
	"net/http"
	"testing"

	"github.com/nulpointcorp/ai-gateway/internal/proxy"
)

func TestRouteCRUD(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/routes", `{"name":"billing","upstream":"http://billing.internal:9000"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST = %d: %s", resp.StatusCode, readAll(t, resp))
	}
	body := decodeMap(t, resp)
	if body["name"] != "billing" || body["breakerState"] != "closed" {
		t.Errorf("echoed route = %v", body)
	}

	if _, ok := f.routes.Get("billing"); !ok {
		t.Fatal("route not stored in the live table")
	}

	list := decodeMap(t, f.get(t, "/routes"))
	routes := list["routes"].([]any)
	if len(routes) != 1 {
		t.Fatalf("listing has %d routes, want 1", len(routes))
	}

	if resp := f.del(t, "/routes/billing"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE = %d, want 204", resp.StatusCode)
	}
	if resp := f.del(t, "/routes/billing"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second DELETE = %d, want 404", resp.StatusCode)
	}
}

func TestRouteValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"upstream":"http://x.internal"}`},
		{"name with slash", `{"name":"a/b","upstream":"http://x.internal"}`},
		{"bare host upstream", `{"name":"svc","upstream":"x.internal"}`},
		{"empty upstream", `{"name":"svc","upstream":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := f.post(t, "/routes", tc.body); resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestRouteListingShowsBreakerState(t *testing.T) {
	f := newFixture(t)

	f.post(t, "/routes", `{"name":"invoices","upstream":"http://invoices.internal"}`)

	for range proxy.DefaultCBConfig().ErrorThreshold {
		f.srv.breakers.RecordFailure("invoices")
	}

	list := decodeMap(t, f.get(t, "/routes"))
	routes := list["routes"].([]any)
	view := routes[0].(map[string]any)
	if view["breakerState"] != "open" {
		t.Errorf("breakerState = %v, want open after repeated failures", view["breakerState"])
	}
}
