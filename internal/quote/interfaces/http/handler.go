package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"serramenti/internal/audit"
	"serramenti/internal/auth"
	catalog "serramenti/internal/catalog/domain"
	"serramenti/internal/observability/metrics"
	pricingapp "serramenti/internal/pricing/application"
	pricing "serramenti/internal/pricing/domain"
	quoteapp "serramenti/internal/quote/application"
	quote "serramenti/internal/quote/domain"
)

const maxBodyBytes = 1 << 20

// FrameCatalog lists and resolves frames.
type FrameCatalog interface {
	Lookup(frameID string) (catalog.FrameDefinition, bool)
	List() []catalog.FrameDefinition
}

// RateReloader swaps the active rate tables.
type RateReloader interface {
	Reload(ctx context.Context) (*pricing.RateTableSet, error)
}

// Deps wires the handler.
type Deps struct {
	Frames     FrameCatalog
	Calculator *pricingapp.Calculator
	Quotes     *quoteapp.QuoteService
	Rates      RateReloader
	Audit      audit.Logger
	Logger     zerolog.Logger
}

// Handler provides catalog, pricing and quote endpoints.
type Handler struct {
	frames FrameCatalog
	calc   *pricingapp.Calculator
	quotes *quoteapp.QuoteService
	rates  RateReloader
	audit  audit.Logger
	logger zerolog.Logger
}

// NewHandler constructs a handler.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Frames == nil {
		return nil, errors.New("quote handler: nil frame catalog")
	}
	if deps.Calculator == nil {
		return nil, errors.New("quote handler: nil calculator")
	}
	if deps.Quotes == nil {
		return nil, errors.New("quote handler: nil quote service")
	}
	return &Handler{
		frames: deps.Frames,
		calc:   deps.Calculator,
		quotes: deps.Quotes,
		rates:  deps.Rates,
		audit:  deps.Audit,
		logger: deps.Logger,
	}, nil
}

// Routes mounts the API under r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/v1/frames", h.handleListFrames)
	r.Get("/api/v1/frames/{id}", h.handleGetFrame)
	r.Post("/api/v1/validate", h.handleValidate)
	r.Post("/api/v1/calculate", h.handleCalculate)
	r.Route("/api/v1/quotes", func(r chi.Router) {
		r.Get("/", h.handleListQuotes)
		r.Post("/", h.handleSaveQuote)
		r.Get("/{id}", h.handleGetQuote)
		r.Post("/{id}/finalize", h.handleFinalize)
		r.Get("/{id}/export.pdf", h.handleExportPDF)
		r.Get("/{id}/export.xlsx", h.handleExportXLSX)
	})
	r.Post("/api/v1/admin/rate-tables/reload", h.handleReloadRates)
}

func (h *Handler) handleListFrames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.frames.List())
}

func (h *Handler) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	frame, ok := h.frames.Lookup(id)
	if !ok {
		respondServiceError(w, pricing.NewError(pricing.KindFrameNotFound, id, "frame is not in the catalog"))
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var body measuresBody
	if !decodeJSON(w, r, &body) {
		return
	}
	frameID, width, height, perr := body.measures()
	if perr != nil {
		respondServiceError(w, perr)
		return
	}
	measures, err := h.calc.Validator().Validate(frameID, width, height)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, measures)
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var body calculationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	req, perr := body.request()
	if perr != nil {
		h.reject(w, perr)
		return
	}
	result := h.calculate(req)
	status := http.StatusOK
	if !result.Success {
		status = StatusForKind(result.Error.Kind)
	}
	writeJSON(w, status, result)
}

// reject answers a request that never reached the calculator with a failed
// result, the same shape a calculation failure has.
func (h *Handler) reject(w http.ResponseWriter, perr *pricing.Error) {
	metrics.ObserveCalculation(metrics.ResultError, string(perr.Kind), 0, 0)
	writeJSON(w, StatusForKind(perr.Kind), pricing.Failed(perr))
}

func (h *Handler) calculate(req pricing.CalculationRequest) pricing.CalculationResult {
	start := time.Now()
	result := h.calc.Calculate(req)
	outcome, kind := metrics.ResultSuccess, ""
	if !result.Success {
		outcome = metrics.ResultError
		if result.Error != nil {
			kind = string(result.Error.Kind)
		}
	}
	metrics.ObserveCalculation(outcome, kind, len(result.Warnings), time.Since(start))
	return result
}

type saveQuoteRequest struct {
	calculationBody
	ClientRef string `json:"clientRef,omitempty"`
	Note      string `json:"note,omitempty"`
	DraftID   string `json:"draftId,omitempty"`
}

type saveQuoteResponse struct {
	quoteapp.Receipt
	Calculation pricing.CalculationResult `json:"calculation"`
}

func (h *Handler) handleSaveQuote(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req saveQuoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	calcReq, perr := req.request()
	if perr != nil {
		h.reject(w, perr)
		return
	}
	result := h.calculate(calcReq)
	if !result.Success {
		writeJSON(w, StatusForKind(result.Error.Kind), result)
		return
	}
	receipt, err := h.quotes.Save(r.Context(), result, quoteapp.SaveRequest{
		OwnerID:   ownerID,
		ClientRef: req.ClientRef,
		Note:      req.Note,
		DraftID:   req.DraftID,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("save quote failed")
		respondServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if receipt.Mode == quote.SaveReplaced {
		status = http.StatusOK
	}
	writeJSON(w, status, saveQuoteResponse{Receipt: receipt, Calculation: result})
}

func (h *Handler) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondServiceError(w, pricing.NewError(pricing.KindMissingParameter, "limit", "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	list, err := h.quotes.List(r.Context(), ownerID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []quote.Quote{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	q, ok := h.loadQuote(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, quoteView(q))
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return
	}
	q, err := h.quotes.Finalize(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteView(q))
}

func (h *Handler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "pdf", "application/pdf", BuildQuotePDF)
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", BuildQuoteXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, format, contentType string, build func(*quote.Quote) ([]byte, error)) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveQuoteExport(format, result, time.Since(start))
	}()

	q, ok := h.loadQuote(w, r)
	if !ok {
		result = metrics.ResultError
		return
	}
	data, err := build(q)
	if err != nil {
		result = metrics.ResultError
		h.logger.Error().Err(err).Str("quote_id", q.ID).Str("format", format).Msg("export failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "export_failed", Message: "export " + format + " error"})
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+q.DisplayNumber()+`.`+format+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, q.ID, audit.ActionQuoteExport, map[string]any{"format": format})
}

func (h *Handler) handleReloadRates(w http.ResponseWriter, r *http.Request) {
	if h.rates == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "not_configured", Message: "rate table reload is not configured"})
		return
	}
	set, err := h.rates.Reload(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("rate table reload failed")
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "reload_failed", Message: err.Error()})
		return
	}
	resp := map[string]any{"tables": set.IDs()}
	if def, ok := set.Default(); ok {
		resp["default"] = def.ID
		resp["version"] = def.Version
	}
	writeJSON(w, http.StatusOK, resp)
	h.logAudit(r, "", audit.ActionRatesReload, resp)
}

func (h *Handler) loadQuote(w http.ResponseWriter, r *http.Request) (*quote.Quote, bool) {
	ownerID, ok := requireOwner(w, r)
	if !ok {
		return nil, false
	}
	q, err := h.quotes.Get(r.Context(), ownerID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	return q, true
}

type quoteResponse struct {
	*quote.Quote
	DisplayNumber string `json:"displayNumber"`
}

func quoteView(q *quote.Quote) quoteResponse {
	return quoteResponse{Quote: q, DisplayNumber: q.DisplayNumber()}
}

func (h *Handler) logAudit(r *http.Request, quoteID, action string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return
	}
	payload, _ := json.Marshal(meta)
	actor := id.Email
	if actor == "" {
		actor = id.OwnerID
	}
	resourceType := "quote"
	if quoteID == "" {
		resourceType = "rate_tables"
	}
	if err := h.audit.Log(r.Context(), audit.Entry{
		OwnerID:      id.OwnerID,
		Actor:        actor,
		Role:         string(id.Role),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   quoteID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Warn().Err(err).Str("action", action).Msg("audit log failed")
	}
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := auth.OwnerIDFromContext(r.Context())
	if ownerID == "" {
		respondServiceError(w, auth.ErrUnauthorized)
		return "", false
	}
	return ownerID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_json", Message: err.Error()})
		return false
	}
	return true
}
