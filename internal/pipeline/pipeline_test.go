package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seaword/apicore/internal/apiversion"
	"github.com/seaword/apicore/internal/cacheprofile"
	"github.com/seaword/apicore/internal/originpolicy"
	"github.com/seaword/apicore/internal/token"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testComposer(t *testing.T, mutate func(*Options)) *Composer {
	t.Helper()

	validator, err := token.NewValidator(token.Options{HMACKey: testKey})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	reg, err := apiversion.NewRegistry(
		apiversion.Version{Major: 1},
		apiversion.Version{Major: 1},
		apiversion.Version{Major: 2},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	neg, err := apiversion.NewNegotiator(reg, true,
		apiversion.FromQuery(), apiversion.FromHeader())
	if err != nil {
		t.Fatalf("NewNegotiator: %v", err)
	}

	cache, err := cacheprofile.DefaultRegistry(30*time.Second, time.Hour)
	if err != nil {
		t.Fatalf("DefaultRegistry: %v", err)
	}

	opts := Options{
		Validator:  validator,
		Negotiator: neg,
		Cache:      cache,
		Origin:     originpolicy.Default(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	c, err := NewComposer(opts)
	if err != nil {
		t.Fatalf("NewComposer: %v", err)
	}
	return c
}

func bindEndpoint(t *testing.T, c *Composer, opts StageOptions, next http.Handler) http.Handler {
	t.Helper()
	h, err := c.Endpoint(opts, next)
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	return h
}

func issueToken(t *testing.T, key []byte, ttl time.Duration) string {
	t.Helper()
	raw, err := token.Issue(key, "apicore-test", "user-1", []string{"reader"}, ttl)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return raw
}

func TestEndpoint_PublicRoute_DefaultVersion(t *testing.T) {
	c := testComposer(t, nil)

	var gotVersion apiversion.Version
	var gotClaims *token.ClaimSet
	h := bindEndpoint(t, c, StageOptions{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion, _ = VersionFromContext(r.Context())
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotVersion.String() != "1.0" {
		t.Errorf("version = %s, want default 1.0", gotVersion)
	}
	if gotClaims != nil {
		t.Errorf("public route should carry no claims, got %+v", gotClaims)
	}
}

func TestEndpoint_ExplicitDeclaredVersion(t *testing.T) {
	c := testComposer(t, nil)

	var gotVersion apiversion.Version
	h := bindEndpoint(t, c, StageOptions{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion, _ = VersionFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status?api-version=2.0", http.NoBody))

	if gotVersion.String() != "2.0" {
		t.Errorf("version = %s, want 2.0", gotVersion)
	}
}

func TestEndpoint_UnsupportedVersion(t *testing.T) {
	c := testComposer(t, nil)

	reached := false
	h := bindEndpoint(t, c, StageOptions{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status?api-version=9.9", http.NoBody))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if reached {
		t.Error("handler must not run after version rejection")
	}
	if got := rec.Header().Get(apiversion.SupportedHeader); got != "1.0, 2.0" {
		t.Errorf("supported header = %q, want declared list", got)
	}
}

func TestEndpoint_UnsupportedVersion_ConfiguredAs404(t *testing.T) {
	c := testComposer(t, func(o *Options) {
		o.VersionRejectStatus = http.StatusNotFound
	})

	h := bindEndpoint(t, c, StageOptions{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status?api-version=9.9", http.NoBody))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestNewComposer_RejectsBogusVersionStatus(t *testing.T) {
	validator, _ := token.NewValidator(token.Options{HMACKey: testKey})
	reg, _ := apiversion.NewRegistry(apiversion.Version{Major: 1}, apiversion.Version{Major: 1})
	neg, _ := apiversion.NewNegotiator(reg, true, apiversion.FromQuery())
	cache, _ := cacheprofile.DefaultRegistry(time.Second, time.Minute)

	_, err := NewComposer(Options{
		Validator:           validator,
		Negotiator:          neg,
		Cache:               cache,
		Origin:              originpolicy.Default(),
		VersionRejectStatus: http.StatusTeapot,
	})
	if err == nil {
		t.Fatal("expected error for status other than 400/404")
	}
}

func TestEndpoint_AuthRequired_ValidToken(t *testing.T) {
	c := testComposer(t, nil)

	var gotClaims *token.ClaimSet
	h := bindEndpoint(t, c, StageOptions{RequireAuth: true}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/me", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, testKey, time.Minute))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotClaims == nil {
		t.Fatal("auth route dispatched without claims")
	}
	if gotClaims.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", gotClaims.Subject)
	}
}

func TestEndpoint_AuthRequired_MissingCredential(t *testing.T) {
	c := testComposer(t, nil)

	reached := false
	h := bindEndpoint(t, c, StageOptions{RequireAuth: true}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/me", http.NoBody))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if reached {
		t.Error("handler must not run after auth rejection")
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}
}

func TestEndpoint_AuthRequired_WrongKey(t *testing.T) {
	c := testComposer(t, nil)
	h := bindEndpoint(t, c, StageOptions{RequireAuth: true}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	req := httptest.NewRequest("GET", "/me", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, otherKey, time.Minute))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Bearer error="invalid_token"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestEndpoint_AuthRequired_ExpiredToken(t *testing.T) {
	c := testComposer(t, nil)
	h := bindEndpoint(t, c, StageOptions{RequireAuth: true}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/me", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, testKey, -time.Minute))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestEndpoint_AuthRejectedBeforeVersion(t *testing.T) {
	// bad credential and bad version together: auth runs first, so the
	// response must be 401, not a version rejection
	c := testComposer(t, nil)
	h := bindEndpoint(t, c, StageOptions{RequireAuth: true}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/me?api-version=9.9", http.NoBody)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 (auth stage precedes version stage)", rec.Code)
	}
}

func TestEndpoint_CacheProfileApplied(t *testing.T) {
	c := testComposer(t, nil)

	shortH := bindEndpoint(t, c, StageOptions{CacheProfile: cacheprofile.ProfileShort},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	longH := bindEndpoint(t, c, StageOptions{CacheProfile: cacheprofile.ProfileLong},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	recShort := httptest.NewRecorder()
	shortH.ServeHTTP(recShort, httptest.NewRequest("GET", "/status", http.NoBody))
	recLong := httptest.NewRecorder()
	longH.ServeHTTP(recLong, httptest.NewRequest("GET", "/status", http.NoBody))

	ccShort := recShort.Header().Get("Cache-Control")
	ccLong := recLong.Header().Get("Cache-Control")
	if ccShort == "" || ccLong == "" {
		t.Fatalf("missing Cache-Control: short=%q long=%q", ccShort, ccLong)
	}
	if ccShort == ccLong {
		t.Errorf("short and long profiles must yield distinct directives, both %q", ccShort)
	}

	// deterministic: same profile, same directive
	recAgain := httptest.NewRecorder()
	shortH.ServeHTTP(recAgain, httptest.NewRequest("GET", "/status", http.NoBody))
	if got := recAgain.Header().Get("Cache-Control"); got != ccShort {
		t.Errorf("directive changed between requests: %q then %q", ccShort, got)
	}
}

func TestEndpoint_UnknownCacheProfile_FailsAtBind(t *testing.T) {
	c := testComposer(t, nil)

	_, err := c.Endpoint(StageOptions{CacheProfile: "nope"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	if err == nil {
		t.Fatal("binding an unregistered cache profile must fail at startup")
	}
}

func TestEndpoint_SupportedVersionsReportedOnSuccess(t *testing.T) {
	c := testComposer(t, nil)
	h := bindEndpoint(t, c, StageOptions{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", http.NoBody))

	if got := rec.Header().Get(apiversion.SupportedHeader); got != "1.0, 2.0" {
		t.Errorf("supported header = %q, want 1.0, 2.0", got)
	}
}

func TestOriginMiddleware_DeniedPreflightNeverReachesAuth(t *testing.T) {
	c := testComposer(t, func(o *Options) {
		o.Origin = originpolicy.Policy{
			AllowedOrigins: []string{"https://app.example.com"},
			AllowedMethods: []string{"GET"},
		}
	})

	reached := false
	inner := bindEndpoint(t, c, StageOptions{RequireAuth: true}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))
	h := c.OriginMiddleware()(inner)

	req := httptest.NewRequest("OPTIONS", "/me", http.NoBody)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if reached {
		t.Error("denied preflight must not reach the handler")
	}
	// no auth side effects: the 401 machinery never ran
	if rec.Header().Get("WWW-Authenticate") != "" {
		t.Error("denied preflight must not produce auth headers")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("denied preflight must carry no CORS allow headers")
	}
}

func TestOriginMiddleware_AllowedPreflight(t *testing.T) {
	c := testComposer(t, func(o *Options) {
		o.Origin = originpolicy.Policy{
			AllowedOrigins: []string{"https://app.example.com"},
			AllowedMethods: []string{"GET"},
		}
	})

	inner := bindEndpoint(t, c, StageOptions{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h := c.OriginMiddleware()(inner)

	req := httptest.NewRequest("OPTIONS", "/status", http.NoBody)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent && rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 2xx preflight", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestEndpoint_IdempotentValidation(t *testing.T) {
	c := testComposer(t, nil)

	var subjects []string
	h := bindEndpoint(t, c, StageOptions{RequireAuth: true}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subjects = append(subjects, ClaimsFromContext(r.Context()).Subject)
	}))

	raw := issueToken(t, testKey, time.Minute)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/me", http.NoBody)
		req.Header.Set("Authorization", "Bearer "+raw)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	if len(subjects) != 2 || subjects[0] != subjects[1] {
		t.Fatalf("same credential twice must yield identical claims, got %v", subjects)
	}
}

func TestRejectKind_String(t *testing.T) {
	cases := map[RejectKind]string{
		RejectUnauthorized:       "unauthorized",
		RejectUnsupportedVersion: "unsupported_version",
		RejectOriginDenied:       "origin_denied",
		RejectKind(99):           "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("RejectKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
