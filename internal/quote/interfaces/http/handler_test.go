package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"serramenti/internal/audit"
	"serramenti/internal/auth"
	catalog "serramenti/internal/catalog/domain"
	pricingapp "serramenti/internal/pricing/application"
	pricing "serramenti/internal/pricing/domain"
	pricingmemory "serramenti/internal/pricing/infrastructure/memory"
	quoteapp "serramenti/internal/quote/application"
	"serramenti/internal/quote/infrastructure/memory"
)

type testServer struct {
	router http.Handler
	audit  *audit.MemoryLog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	frames, err := catalog.NewCatalog(catalog.FrameDefinition{
		ID:          "basic-window",
		Category:    "window",
		OpeningType: "hinged",
		Sides: map[catalog.Side]catalog.Bounds{
			catalog.SideWidth:  {Minimum: 400, Maximum: 2000},
			catalog.SideHeight: {Minimum: 400, Maximum: 2200},
		},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	set, err := pricing.NewRateTableSet(pricing.RateTable{
		ID:       "listino",
		Version:  1,
		Currency: "EUR",
		FrameRates: map[string]pricing.Rate{
			"window|*": {Label: "Telaio", Basis: pricing.BasisPerArea, UnitRate: decimal.RequireFromString("200")},
		},
	})
	if err != nil {
		t.Fatalf("rate set: %v", err)
	}
	calc, err := pricingapp.NewCalculator(frames, pricingmemory.NewRateTableStore(set))
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}
	quotes, err := quoteapp.NewQuoteService(memory.NewQuoteRepository())
	if err != nil {
		t.Fatalf("quote service: %v", err)
	}
	log := &audit.MemoryLog{}
	handler, err := NewHandler(Deps{
		Frames:     frames,
		Calculator: calc,
		Quotes:     quotes,
		Audit:      log,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	r := chi.NewRouter()
	r.Use(auth.NewDevMiddleware(auth.NewDefaultPolicy(nil, nil)).Wrap)
	handler.Routes(r)
	return &testServer{router: r, audit: log}
}

func (s *testServer) do(t *testing.T, method, path, owner, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(auth.DevOwnerHeader, owner)
	}
	if role != "" {
		req.Header.Set(auth.DevRoleHeader, role)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestCalculateStatusPerErrorKind(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		name   string
		body   map[string]any
		status int
		kind   string
	}{
		{"ok", map[string]any{"frameId": "basic-window", "width": 1500, "height": 1500}, http.StatusOK, ""},
		{"invalid dimension", map[string]any{"frameId": "basic-window", "width": 0, "height": 1500}, http.StatusBadRequest, string(pricing.KindInvalidDimension)},
		{"missing frame", map[string]any{"width": 1000, "height": 1000}, http.StatusBadRequest, string(pricing.KindMissingParameter)},
		{"unknown frame", map[string]any{"frameId": "ghost", "width": 1000, "height": 1000}, http.StatusNotFound, string(pricing.KindFrameNotFound)},
		{"unknown material", map[string]any{"frameId": "basic-window", "width": 1000, "height": 1000, "materials": map[string]any{"glass": map[string]any{"optionId": "triple"}}}, http.StatusUnprocessableEntity, string(pricing.KindUnknownMaterial)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/v1/calculate", "owner-a", "viewer", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			var result pricing.CalculationResult
			decodeBody(t, rec, &result)
			if tc.kind == "" {
				if !result.Success || !result.Total.Equal(decimal.RequireFromString("450")) {
					t.Fatalf("unexpected result %+v", result)
				}
				return
			}
			if result.Success || result.Error == nil || string(result.Error.Kind) != tc.kind {
				t.Fatalf("expected kind %s, got %+v", tc.kind, result.Error)
			}
			if len(result.LineItems) != 0 {
				t.Fatalf("failed result must not carry line items")
			}
		})
	}
}

func TestDimensionFieldsAtRequestBoundary(t *testing.T) {
	srv := newTestServer(t)
	cases := []struct {
		name string
		body map[string]any
		kind pricing.ErrorKind
		ref  string
	}{
		{"absent width", map[string]any{"frameId": "basic-window", "height": 1400}, pricing.KindMissingParameter, "width"},
		{"null height", map[string]any{"frameId": "basic-window", "width": 1000, "height": nil}, pricing.KindMissingParameter, "height"},
		{"text width", map[string]any{"frameId": "basic-window", "width": "abc", "height": 1400}, pricing.KindInvalidDimension, "width"},
		{"fractional height", map[string]any{"frameId": "basic-window", "width": 1000, "height": 1400.5}, pricing.KindInvalidDimension, "height"},
		{"object width", map[string]any{"frameId": "basic-window", "width": map[string]any{"mm": 1}, "height": 1400}, pricing.KindInvalidDimension, "width"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, path := range []string{"/api/v1/calculate", "/api/v1/quotes"} {
				rec := srv.do(t, http.MethodPost, path, "owner-a", "estimator", tc.body)
				if rec.Code != http.StatusBadRequest {
					t.Fatalf("%s: expected 400, got %d: %s", path, rec.Code, rec.Body.String())
				}
				var result pricing.CalculationResult
				decodeBody(t, rec, &result)
				if result.Success || result.Error == nil || result.Error.Kind != tc.kind || result.Error.Ref != tc.ref {
					t.Fatalf("%s: expected %s on %s, got %+v", path, tc.kind, tc.ref, result.Error)
				}
			}

			rec := srv.do(t, http.MethodPost, "/api/v1/validate", "owner-a", "viewer", tc.body)
			var errResp ErrorResponse
			decodeBody(t, rec, &errResp)
			if rec.Code != http.StatusBadRequest || errResp.Error != string(tc.kind) || errResp.Ref != tc.ref {
				t.Fatalf("validate: expected %s on %s, got %d %+v", tc.kind, tc.ref, rec.Code, errResp)
			}
		})
	}
}

func TestFramesAndValidate(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/v1/frames", "owner-a", "viewer", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "basic-window") {
		t.Fatalf("list frames: %d %s", rec.Code, rec.Body.String())
	}
	rec = srv.do(t, http.MethodGet, "/api/v1/frames/ghost", "owner-a", "viewer", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Error != string(pricing.KindFrameNotFound) || errResp.Ref != "ghost" {
		t.Fatalf("unexpected error body %+v", errResp)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/validate", "owner-a", "viewer",
		map[string]any{"frameId": "basic-window", "width": 5000, "height": 1000})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"width":2000`) {
		t.Fatalf("expected clamped width, got %s", rec.Body.String())
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/validate", "owner-a", "viewer",
		map[string]any{"frameId": "basic-window", "width": 1000, "height": 1000, "bogus": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown field rejected, got %d", rec.Code)
	}
}

func TestQuoteLifecycle(t *testing.T) {
	srv := newTestServer(t)
	calcBody := map[string]any{"frameId": "basic-window", "width": 1500, "height": 1500}

	rec := srv.do(t, http.MethodPost, "/api/v1/quotes", "owner-a", "estimator", calcBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created saveQuoteResponse
	decodeBody(t, rec, &created)
	if created.QuoteNumber != 1 || created.QuoteID == "" {
		t.Fatalf("unexpected receipt %+v", created.Receipt)
	}

	draft := map[string]any{"frameId": "basic-window", "width": 1000, "height": 1000, "draftId": created.QuoteID}
	rec = srv.do(t, http.MethodPost, "/api/v1/quotes", "owner-a", "estimator", draft)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace draft: %d %s", rec.Code, rec.Body.String())
	}
	var replaced saveQuoteResponse
	decodeBody(t, rec, &replaced)
	if replaced.QuoteID != created.QuoteID || replaced.QuoteNumber != 1 {
		t.Fatalf("draft replace changed identity: %+v", replaced.Receipt)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/quotes/"+created.QuoteID+"/finalize", "owner-a", "estimator", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: %d %s", rec.Code, rec.Body.String())
	}
	var view map[string]any
	decodeBody(t, rec, &view)
	if view["status"] != "finalized" || view["snapshotHash"] == "" {
		t.Fatalf("unexpected finalized view %v", view)
	}

	rec = srv.do(t, http.MethodPost, "/api/v1/quotes", "owner-a", "estimator", draft)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on finalized draft, got %d", rec.Code)
	}
	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Error != string(pricing.KindInvalidState) {
		t.Fatalf("unexpected error %+v", errResp)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/quotes/"+created.QuoteID, "owner-b", "viewer", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected other owner to get 404, got %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/quotes?limit=10", "owner-a", "viewer", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var list []map[string]any
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("expected one quote, got %d", len(list))
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/quotes?limit=-1", "owner-a", "viewer", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad limit rejected, got %d", rec.Code)
	}
}

func TestSaveRejectsFailedCalculation(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/v1/quotes", "owner-a", "estimator",
		map[string]any{"frameId": "basic-window", "width": -5, "height": 1000})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = srv.do(t, http.MethodGet, "/api/v1/quotes", "owner-a", "viewer", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("nothing should be stored, got %s", rec.Body.String())
	}
}

func TestExportsProduceDocuments(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/v1/quotes", "owner-a", "estimator",
		map[string]any{"frameId": "basic-window", "width": 1500, "height": 1500, "clientRef": "Rossi"})
	var created saveQuoteResponse
	decodeBody(t, rec, &created)

	pdf := srv.do(t, http.MethodGet, "/api/v1/quotes/"+created.QuoteID+"/export.pdf", "owner-a", "viewer", nil)
	if pdf.Code != http.StatusOK || !bytes.HasPrefix(pdf.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("pdf export: %d", pdf.Code)
	}
	if pdf.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected content type %s", pdf.Header().Get("Content-Type"))
	}
	xlsx := srv.do(t, http.MethodGet, "/api/v1/quotes/"+created.QuoteID+"/export.xlsx", "owner-a", "viewer", nil)
	if xlsx.Code != http.StatusOK || !bytes.HasPrefix(xlsx.Body.Bytes(), []byte("PK")) {
		t.Fatalf("xlsx export: %d", xlsx.Code)
	}
	if !strings.Contains(xlsx.Header().Get("Content-Disposition"), created.DisplayNumber+".xlsx") {
		t.Fatalf("unexpected disposition %s", xlsx.Header().Get("Content-Disposition"))
	}

	entries := srv.audit.Entries()
	if len(entries) != 2 || entries[0].Action != audit.ActionQuoteExport {
		t.Fatalf("expected two export audit entries, got %+v", entries)
	}
	if entries[0].Actor != "owner-a" || entries[0].ResourceID != created.QuoteID {
		t.Fatalf("unexpected audit entry %+v", entries[0])
	}
}

func TestAuthAndRoles(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{"frameId": "basic-window", "width": 1000, "height": 1000}

	if rec := srv.do(t, http.MethodPost, "/api/v1/calculate", "", "", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without owner, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/quotes", "owner-a", "viewer", body); rec.Code != http.StatusForbidden {
		t.Fatalf("expected viewer save forbidden, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/admin/rate-tables/reload", "owner-a", "estimator", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected estimator reload forbidden, got %d", rec.Code)
	}
	if rec := srv.do(t, http.MethodPost, "/api/v1/admin/rate-tables/reload", "owner-a", "admin", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without reloader, got %d", rec.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[pricing.ErrorKind]int{
		pricing.KindInvalidDimension:   http.StatusBadRequest,
		pricing.KindMissingParameter:   http.StatusBadRequest,
		pricing.KindFrameNotFound:      http.StatusNotFound,
		pricing.KindRateTableNotFound:  http.StatusNotFound,
		pricing.KindUnknownMaterial:    http.StatusUnprocessableEntity,
		pricing.KindInvalidState:       http.StatusConflict,
		pricing.KindPersistenceFailure: http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		if got := StatusForKind(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
