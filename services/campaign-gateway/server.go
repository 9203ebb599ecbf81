package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"hyperdrive/assembly"
	"hyperdrive/crypto"
	"hyperdrive/ledger"
	"hyperdrive/native/campaign"
	"hyperdrive/observability"
	"hyperdrive/observability/logging"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerRequestID      = "X-Request-Id"
	maxRequestBody       = 1 << 20 // 1 MiB
	nodeCallTimeout      = 15 * time.Second

	// defaultCampaignWindow is applied when a project omits its deadline.
	defaultCampaignWindow = int64(60 * 24 * 60 * 60)
)

// Server is the HTTP front-end for campaign interactions.
type Server struct {
	authenticator *Authenticator
	adapter       ledger.Adapter
	store         *SQLiteStore
	log           *slog.Logger
	nowFn         func() time.Time
	maxRounds     int
	router        chi.Router

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	limitRPS  rate.Limit
	limitCap  int
}

func NewServer(auth *Authenticator, adapter ledger.Adapter, store *SQLiteStore, log *slog.Logger, cfg Config) *Server {
	if auth == nil {
		panic("authenticator required")
	}
	if adapter == nil {
		panic("ledger adapter required")
	}
	if store == nil {
		panic("sqlite store required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		authenticator: auth,
		adapter:       adapter,
		store:         store,
		log:           log,
		nowFn:         time.Now,
		maxRounds:     cfg.MaxConfirmRounds,
		limiters:      make(map[string]*rate.Limiter),
		limitRPS:      rate.Limit(cfg.RateLimitPerSecond),
		limitCap:      cfg.RateLimitBurst,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Post("/projects", s.handleProjectCreate)
		r.Get("/projects", s.handleProjectList)
		r.Get("/projects/{projectID}", s.handleProjectGet)
		r.Post("/projects/{projectID}/deploy", s.handleProjectDeploy)

		r.Get("/campaigns/{campaignID}", s.handleCampaignGet)
		r.Get("/campaigns/{campaignID}/contributions/{address}", s.handleContributionGet)
		r.Post("/campaigns/{campaignID}/deposit", s.actionHandler(ledger.CallRecordDeposit))
		r.Post("/campaigns/{campaignID}/contribute", s.actionHandler(ledger.CallContribute))
		r.Post("/campaigns/{campaignID}/withdraw", s.actionHandler(ledger.CallWithdraw))
		r.Post("/campaigns/{campaignID}/claim-tokens", s.actionHandler(ledger.CallClaimTokens))
		r.Post("/campaigns/{campaignID}/refund", s.actionHandler(ledger.CallClaimRefund))
		r.Post("/campaigns/{campaignID}/finalize", s.actionHandler(ledger.CallFinalizeFailure))
	})
	return r
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		observability.Gateway().Observe(route, rec.status, time.Since(start))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(headerAPIKey))
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter(key).Allow() {
			route := chi.RouteContext(r.Context()).RoutePattern()
			observability.Gateway().RecordThrottle(route, "rate_limit")
			s.writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(s.limitRPS, s.limitCap)
		s.limiters[key] = limiter
	}
	return limiter
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// --- Project catalog ---

type projectCreateRequest struct {
	Name         string `json:"name"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	Creator      string `json:"creator"`
	Goal         string `json:"goal"`
	TokenID      uint64 `json:"tokenId"`
	TokenRate    string `json:"tokenRate"`
	FeeBps       uint32 `json:"feeBps"`
	Admin        string `json:"admin"`
	StartTime    int64  `json:"startTime"`
	DeadlineTime int64  `json:"deadlineTime"`
}

func (s *Server) handleProjectCreate(w http.ResponseWriter, r *http.Request) {
	body, principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.respondError(w, r, principal, body, http.StatusBadRequest, errors.New("missing Idempotency-Key header"))
		return
	}
	requestHash := hashRequest(r.Method, canonicalRequestPath(r), body)
	if replayed := s.replayIdempotent(w, r, principal, key, requestHash, body); replayed {
		return
	}

	var req projectCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, r, principal, body, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if req.StartTime == 0 {
		req.StartTime = s.nowFn().Unix()
	}
	if req.DeadlineTime == 0 {
		req.DeadlineTime = req.StartTime + defaultCampaignWindow
	}
	_, params, err := projectDefinition(req)
	if err != nil {
		s.respondError(w, r, principal, body, statusForError(err), err)
		return
	}

	now := s.nowFn().UTC()
	project := Project{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(req.Name),
		Category:     strings.TrimSpace(req.Category),
		Description:  strings.TrimSpace(req.Description),
		Creator:      req.Creator,
		Goal:         params.Goal.String(),
		TokenID:      params.TokenID,
		TokenRate:    params.TokenRate.String(),
		FeeBps:       params.FeeBps,
		Admin:        req.Admin,
		StartTime:    params.StartTime,
		DeadlineTime: params.DeadlineTime,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if project.Name == "" {
		s.respondError(w, r, principal, body, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	if err := s.store.InsertProject(r.Context(), project); err != nil {
		s.respondError(w, r, principal, body, http.StatusInternalServerError, err)
		return
	}
	s.respondIdempotent(w, r, principal, key, requestHash, body, http.StatusCreated, project)
}

func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	body, principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.respondError(w, r, principal, body, http.StatusInternalServerError, err)
		return
	}
	if projects == nil {
		projects = []Project{}
	}
	s.respondJSON(w, r, principal, body, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleProjectGet(w http.ResponseWriter, r *http.Request) {
	body, principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	project, err := s.store.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondError(w, r, principal, body, statusForError(err), err)
		return
	}
	s.respondJSON(w, r, principal, body, http.StatusOK, project)
}

func (s *Server) handleProjectDeploy(w http.ResponseWriter, r *http.Request) {
	body, principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.respondError(w, r, principal, body, http.StatusBadRequest, errors.New("missing Idempotency-Key header"))
		return
	}
	requestHash := hashRequest(r.Method, canonicalRequestPath(r), body)
	if replayed := s.replayIdempotent(w, r, principal, key, requestHash, body); replayed {
		return
	}

	projectID := chi.URLParam(r, "projectID")
	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		s.respondError(w, r, principal, body, statusForError(err), err)
		return
	}
	creator, params, err := storedDefinition(project)
	if err != nil {
		s.respondError(w, r, principal, body, http.StatusInternalServerError, err)
		return
	}
	bundle, _, err := assembly.BuildDeploy(creator, params)
	if err != nil {
		s.respondError(w, r, principal, body, statusForError(err), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	campaignID, err := assembly.FinalizeDeploy(ctx, s.adapter, s.store, projectID, bundle, s.maxRounds)
	observability.Gateway().RecordBundle(ledger.CallInitialize.String(), err)
	if err != nil {
		s.respondError(w, r, principal, body, statusForError(err), err)
		return
	}
	s.log.Info("campaign deployed",
		slog.String("project", projectID),
		slog.String("campaign", hex.EncodeToString(campaignID[:])))
	resp := map[string]string{
		"projectId":  projectID,
		"campaignId": hex.EncodeToString(campaignID[:]),
	}
	s.respondIdempotent(w, r, principal, key, requestHash, body, http.StatusCreated, resp)
}

// --- Campaign state reads ---

type campaignView struct {
	ID        string `json:"id"`
	Creator   string `json:"creator"`
	Escrow    string `json:"escrow"`
	Goal      string `json:"goal"`
	TokenID   uint64 `json:"tokenId"`
	TokenRate string `json:"tokenRate"`
	FeeBps    uint32 `json:"feeBps"`
	Admin     string `json:"admin"`
	StartTime int64  `json:"startTime"`
	Deadline  int64  `json:"deadlineTime"`
	Raised    string `json:"raised"`
	Success   bool   `json:"success"`
	Deposit   string `json:"deposit"`
	Settled   bool   `json:"settled"`
	CreatedAt int64  `json:"createdAt"`
}

func newCampaignView(c *campaign.Campaign) campaignView {
	return campaignView{
		ID:        hex.EncodeToString(c.ID[:]),
		Creator:   bech32Address(c.Creator),
		Escrow:    bech32Address(c.EscrowAccount),
		Goal:      c.Params.Goal.String(),
		TokenID:   c.Params.TokenID,
		TokenRate: c.Params.TokenRate.String(),
		FeeBps:    c.Params.FeeBps,
		Admin:     bech32Address(c.Params.Admin),
		StartTime: c.Params.StartTime,
		Deadline:  c.Params.DeadlineTime,
		Raised:    c.Raised.String(),
		Success:   c.Success,
		Deposit:   c.Deposit.String(),
		Settled:   c.Settled,
		CreatedAt: c.CreatedAt,
	}
}

func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	body, principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, err := parseCampaignID(chi.URLParam(r, "campaignID"))
	if err != nil {
		s.respondError(w, r, principal, body, http.StatusBadRequest, err)
		return
	}
	c, err := s.adapter.GetCampaign(r.Context(), id)
	if err != nil {
		s.respondError(w, r, principal, body, statusForError(err), err)
		return
	}
	s.respondJSON(w, r, principal, body, http.StatusOK, newCampaignView(c))
}

func (s *Server) handleContributionGet(w http.ResponseWriter, r *http.Request) {
	body, principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id, err := parseCampaignID(chi.URLParam(r, "campaignID"))
	if err != nil {
		s.respondError(w, r, principal, body, http.StatusBadRequest, err)
		return
	}
	contributor, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.respondError(w, r, principal, body, http.StatusBadRequest, err)
		return
	}
	rec, err := s.adapter.GetContribution(r.Context(), id, contributor)
	if err != nil {
		s.respondError(w, r, principal, body, statusForError(err), err)
		return
	}
	s.respondJSON(w, r, principal, body, http.StatusOK, map[string]string{
		"amount": rec.Amount.String(),
		"status": rec.Status.String(),
	})
}

// --- Campaign actions ---

type actionRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount,omitempty"`
}

// actionHandler returns the POST handler for one bookkeeping method. Deposit
// and contribute carry an amount and get a companion transfer assembled in
// the same bundle; the rest are bare calls.
func (s *Server) actionHandler(method ledger.CallMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, principal, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		id, err := parseCampaignID(chi.URLParam(r, "campaignID"))
		if err != nil {
			s.respondError(w, r, principal, body, http.StatusBadRequest, err)
			return
		}
		var req actionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.respondError(w, r, principal, body, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
			return
		}
		caller, err := parseAddress(req.Caller)
		if err != nil {
			s.respondError(w, r, principal, body, http.StatusBadRequest, err)
			return
		}
		bundle, err := buildActionBundle(method, id, caller, req.Amount)
		if err != nil {
			s.respondError(w, r, principal, body, statusForError(err), err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
		defer cancel()
		result, err := assembly.Submit(ctx, s.adapter, bundle, s.maxRounds)
		observability.Gateway().RecordBundle(method.String(), err)
		if err != nil {
			s.respondError(w, r, principal, body, statusForError(err), err)
			return
		}
		resp := map[string]interface{}{
			"ref":        string(result.Ref),
			"round":      result.Round,
			"campaignId": hex.EncodeToString(result.CampaignID[:]),
		}
		if result.Amount != nil {
			resp["amount"] = result.Amount.String()
		}
		s.respondJSON(w, r, principal, body, http.StatusOK, resp)
	}
}

func buildActionBundle(method ledger.CallMethod, id [32]byte, caller [20]byte, amount string) (*assembly.Bundle, error) {
	switch method {
	case ledger.CallRecordDeposit:
		amt, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		return assembly.BuildDeposit(id, caller, amt)
	case ledger.CallContribute:
		amt, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		return assembly.BuildContribution(id, caller, amt)
	case ledger.CallWithdraw:
		return assembly.BuildWithdraw(id, caller)
	case ledger.CallClaimTokens:
		return assembly.BuildClaimTokens(id, caller)
	case ledger.CallClaimRefund:
		return assembly.BuildRefund(id, caller)
	case ledger.CallFinalizeFailure:
		return assembly.BuildFinalizeFailure(id, caller)
	default:
		return nil, fmt.Errorf("%w: unsupported method", campaign.ErrValidation)
	}
}

// --- Shared plumbing ---

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) ([]byte, *Principal, bool) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}
	principal, err := s.authenticator.Authenticate(r, body)
	if err != nil {
		s.log.Warn("authentication failed",
			slog.String("path", canonicalRequestPath(r)),
			logging.MaskField("api_key", r.Header.Get(headerAPIKey)),
			slog.String("error", err.Error()))
		s.writeError(w, http.StatusUnauthorized, err)
		s.audit(r.Context(), nil, r, body, http.StatusUnauthorized, []byte(fmt.Sprintf(`{"error":"%s"}`, err.Error())))
		return nil, nil, false
	}
	return body, principal, true
}

// replayIdempotent serves a cached response when the idempotency key was
// already used with the same payload. A reuse with a different payload is a
// conflict.
func (s *Server) replayIdempotent(w http.ResponseWriter, r *http.Request, principal *Principal, key, requestHash string, body []byte) bool {
	cached, err := s.store.LookupIdempotency(r.Context(), principal.APIKey, key, requestHash)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrIdempotencyMismatch) {
			status = http.StatusConflict
		}
		s.respondError(w, r, principal, body, status, err)
		return true
	}
	if cached == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
	s.audit(r.Context(), principal, r, body, cached.Status, cached.Body)
	return true
}

func (s *Server) respondIdempotent(w http.ResponseWriter, r *http.Request, principal *Principal, key, requestHash string, body []byte, status int, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.respondError(w, r, principal, body, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SaveIdempotency(r.Context(), principal.APIKey, key, requestHash, status, encoded); err != nil {
		s.respondError(w, r, principal, body, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
	s.audit(r.Context(), principal, r, body, status, encoded)
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, principal *Principal, body []byte, status int, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.respondError(w, r, principal, body, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
	s.audit(r.Context(), principal, r, body, status, encoded)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, principal *Principal, body []byte, status int, err error) {
	s.writeError(w, status, err)
	s.audit(r.Context(), principal, r, body, status, []byte(fmt.Sprintf(`{"error":"%s"}`, strings.ReplaceAll(err.Error(), "\"", "'"))))
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := strings.ReplaceAll(err.Error(), "\"", "'")
	payload := fmt.Sprintf(`{"error":"%s"}`, msg)
	_, _ = w.Write([]byte(payload))
}

func (s *Server) audit(ctx context.Context, principal *Principal, r *http.Request, requestBody []byte, status int, responseBody []byte) {
	apiKey := ""
	if principal != nil {
		apiKey = principal.APIKey
	}
	entry := AuditEntry{
		APIKey:         apiKey,
		Method:         r.Method,
		Path:           canonicalRequestPath(r),
		RequestBody:    append([]byte(nil), requestBody...),
		ResponseBody:   append([]byte(nil), responseBody...),
		ResponseStatus: status,
		Timestamp:      s.nowFn().UTC(),
	}
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		s.log.Warn("audit insert failed", slog.String("error", err.Error()))
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, campaign.ErrValidation), errors.Is(err, campaign.ErrOverflow):
		return http.StatusBadRequest
	case errors.Is(err, ErrProjectNotFound), errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrPreconditionFailed), errors.Is(err, ErrIdempotencyMismatch):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrNotEligible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, campaign.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func projectDefinition(req projectCreateRequest) ([20]byte, campaign.Params, error) {
	creator, err := parseAddress(req.Creator)
	if err != nil {
		return [20]byte{}, campaign.Params{}, err
	}
	admin, err := parseAddress(req.Admin)
	if err != nil {
		return [20]byte{}, campaign.Params{}, err
	}
	goal, err := parseAmount(req.Goal)
	if err != nil {
		return [20]byte{}, campaign.Params{}, fmt.Errorf("goal: %w", err)
	}
	tokenRate, err := parseNonNegativeAmount(req.TokenRate)
	if err != nil {
		return [20]byte{}, campaign.Params{}, fmt.Errorf("tokenRate: %w", err)
	}
	params := campaign.Params{
		Goal:         goal,
		TokenID:      req.TokenID,
		TokenRate:    tokenRate,
		FeeBps:       req.FeeBps,
		Admin:        admin,
		StartTime:    req.StartTime,
		DeadlineTime: req.DeadlineTime,
	}
	sanitized, err := campaign.SanitizeParams(params)
	if err != nil {
		return [20]byte{}, campaign.Params{}, err
	}
	return creator, sanitized, nil
}

func storedDefinition(p Project) ([20]byte, campaign.Params, error) {
	return projectDefinition(projectCreateRequest{
		Name:         p.Name,
		Creator:      p.Creator,
		Goal:         p.Goal,
		TokenID:      p.TokenID,
		TokenRate:    p.TokenRate,
		FeeBps:       p.FeeBps,
		Admin:        p.Admin,
		StartTime:    p.StartTime,
		DeadlineTime: p.DeadlineTime,
	})
}

func parseAddress(encoded string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(encoded))
	if err != nil {
		return out, fmt.Errorf("%w: %s", campaign.ErrValidation, err.Error())
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func bech32Address(addr [20]byte) string {
	return crypto.NewAddress(crypto.HYDPrefix, addr[:]).String()
}

func parseCampaignID(encoded string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("%w: malformed campaign id", campaign.ErrValidation)
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(encoded string) (*big.Int, error) {
	amount, err := parseNonNegativeAmount(encoded)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", campaign.ErrValidation)
	}
	return amount, nil
}

func parseNonNegativeAmount(encoded string) (*big.Int, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: amount is required", campaign.ErrValidation)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: malformed amount %q", campaign.ErrValidation, trimmed)
	}
	return amount, nil
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
