package apiversion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(Version{1, 0}, Version{1, 0}, Version{2, 0})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// pathRequest builds a request carrying a chi route context with the given
// version path parameter, as the router would after matching /api/v{version}.
func pathRequest(t *testing.T, version string) *http.Request {
	t.Helper()
	r := httptest.NewRequest("GET", "/api/v"+version+"/status", http.NoBody)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(PathParam, version)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestNegotiate_PathStrategy(t *testing.T) {
	n, err := NewNegotiator(testRegistry(t), true, FromPath())
	if err != nil {
		t.Fatal(err)
	}

	v, err := n.Negotiate(pathRequest(t, "2.0"))
	if err != nil {
		t.Fatal(err)
	}
	if v != (Version{2, 0}) {
		t.Fatalf("version = %v", v)
	}
}

func TestNegotiate_NoIndicatorUsesDefault(t *testing.T) {
	n, err := NewNegotiator(testRegistry(t), true, FromPath(), FromQuery(), FromHeader())
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/api/status", http.NoBody)
	v, err := n.Negotiate(r)
	if err != nil {
		t.Fatal(err)
	}
	if v != (Version{1, 0}) {
		t.Fatalf("version = %v, want default 1.0", v)
	}
}

func TestNegotiate_QueryAndHeaderStrategies(t *testing.T) {
	n, err := NewNegotiator(testRegistry(t), true, FromQuery(), FromHeader())
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/api/status?api-version=2.0", http.NoBody)
	if v, err := n.Negotiate(r); err != nil || v != (Version{2, 0}) {
		t.Fatalf("query: %v, %v", v, err)
	}

	r = httptest.NewRequest("GET", "/api/status", http.NoBody)
	r.Header.Set(Header, "2.0")
	if v, err := n.Negotiate(r); err != nil || v != (Version{2, 0}) {
		t.Fatalf("header: %v, %v", v, err)
	}
}

func TestNegotiate_PrecedenceIsDeterministic(t *testing.T) {
	// Query configured ahead of header: when both are present and disagree,
	// the query value must win, every time.
	n, err := NewNegotiator(testRegistry(t), true, FromQuery(), FromHeader())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 50; i++ {
		r := httptest.NewRequest("GET", "/api/status?api-version=1.0", http.NoBody)
		r.Header.Set(Header, "2.0")
		v, err := n.Negotiate(r)
		if err != nil {
			t.Fatal(err)
		}
		if v != (Version{1, 0}) {
			t.Fatalf("iteration %d: version = %v, query strategy should win", i, v)
		}
	}
}

func TestNegotiate_UndeclaredVersionRejected(t *testing.T) {
	n, err := NewNegotiator(testRegistry(t), true, FromHeader())
	if err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("GET", "/api/status", http.NoBody)
	r.Header.Set(Header, "9.9")
	if _, err := n.Negotiate(r); err == nil {
		t.Fatal("undeclared version should be rejected")
	}
}

func TestNewNegotiator_DefaultsToPathStrategy(t *testing.T) {
	n, err := NewNegotiator(testRegistry(t), false)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := n.Negotiate(pathRequest(t, "2.0")); err != nil || v != (Version{2, 0}) {
		t.Fatalf("default strategy: %v, %v", v, err)
	}
	if n.ReportSupported() {
		t.Fatal("report flag should be off as constructed")
	}
}
