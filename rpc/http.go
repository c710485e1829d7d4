package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"homeescrow/core/events"
	nativecommon "homeescrow/native/common"
	"homeescrow/native/listing"
	"homeescrow/observability"
	telemetry "homeescrow/observability/otel"
	"homeescrow/storage/audit"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	shutdownTimeout = 10 * time.Second
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeForbidden      = -32002
	codeRateLimited    = -32020
)

// ServerConfig controls the transport concerns of the RPC server.
type ServerConfig struct {
	Auth      AuthConfig
	RateLimit RateLimitConfig
	// CallerMetadataMaxTTL bounds the expiry of replay-protected requests.
	CallerMetadataMaxTTL time.Duration
	// TrustProxyHeaders makes the rate limiter key on X-Forwarded-For.
	TrustProxyHeaders bool
	// CallerQuota bounds mutating calls per authenticated caller.
	CallerQuota nativecommon.Quota
}

// Server exposes the listing engine over JSON-RPC.
type Server struct {
	engine      *listing.Engine
	pauses      *nativecommon.PauseSwitch
	broadcaster *events.Broadcaster
	audit       *audit.Store
	log         *slog.Logger
	cfg         ServerConfig

	auth    *Authenticator
	limiter *RateLimiter

	replay *replayGuard

	quotaMu  sync.Mutex
	quotas   map[string]nativecommon.QuotaNow
	clockNow func() time.Time

	serverMu   sync.Mutex
	httpServer *http.Server
}

// Option wires optional collaborators into the server.
type Option func(*Server)

// WithBroadcaster enables the websocket event stream and the in-memory event
// query.
func WithBroadcaster(b *events.Broadcaster) Option {
	return func(s *Server) { s.broadcaster = b }
}

// WithAuditStore enables the persisted event query and chain verification.
func WithAuditStore(store *audit.Store) Option {
	return func(s *Server) { s.audit = store }
}

// WithPauseSwitch enables the admin pause method.
func WithPauseSwitch(p *nativecommon.PauseSwitch) Option {
	return func(s *Server) { s.pauses = p }
}

// WithLogger overrides the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer builds a server around engine.
func NewServer(engine *listing.Engine, cfg ServerConfig, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("rpc: listing engine required")
	}
	s := &Server{
		engine:   engine,
		cfg:      cfg,
		log:      slog.Default(),
		replay:   newReplayGuard(cfg.CallerMetadataMaxTTL),
		quotas:   make(map[string]nativecommon.QuotaNow),
		clockNow: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	auth, err := NewAuthenticator(cfg.Auth, s.log)
	if err != nil {
		return nil, err
	}
	s.auth = auth
	s.limiter = NewRateLimiter(cfg.RateLimit, cfg.TrustProxyHeaders, s.log)
	return s, nil
}

// Handler returns the instrumented HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/", s.handle)
		r.Get("/ws/events", s.handleEventsWS)
	})
	return otelhttp.NewHandler(r, "listing-rpc")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.log.Info("json-rpc server listening", slog.String("address", listener.Addr().String()))
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(listener) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// codeRecorder captures the JSON-RPC error code written for metrics.
type codeRecorder struct {
	http.ResponseWriter
	code int
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if rec, ok := w.(*codeRecorder); ok {
		rec.code = code
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	if s.pauses != nil && s.pauses.IsPaused(listing.ModuleName) {
		status = "paused"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	method, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}

	ctx, span := telemetry.Tracer().Start(r.Context(), req.Method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
	))
	defer span.End()
	r = r.WithContext(ctx)

	start := time.Now()
	rec := &codeRecorder{ResponseWriter: w}
	defer func() {
		observability.RPC().Observe(req.Method, rec.code, time.Since(start))
		if rec.code != 0 {
			span.SetStatus(codes.Error, fmt.Sprintf("rpc error %d", rec.code))
		}
	}()

	var caller *Caller
	if method.access != accessPublic {
		authed, authErr := s.auth.Authenticate(r)
		if authErr != nil {
			writeError(rec, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if method.access == accessAdmin && !authed.HasScope(ScopeAdmin) {
			writeError(rec, http.StatusForbidden, req.ID, codeForbidden, "admin scope required", nil)
			return
		}
		caller = authed
		span.SetAttributes(attribute.String("rpc.caller", caller.String()))
	}
	method.handler(rec, r, req, caller)
}

type methodAccess int

const (
	accessPublic methodAccess = iota
	accessCaller
	accessAdmin
)

type methodHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller *Caller)

type rpcMethod struct {
	access  methodAccess
	handler methodHandler
}

func (s *Server) methods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"listing_create":             {accessCaller, s.handleListingCreate},
		"listing_reposition":         {accessCaller, s.handleListingReposition},
		"listing_extend":             {accessCaller, s.handleListingExtend},
		"listing_withdraw":           {accessCaller, s.handleListingWithdraw},
		"listing_expire":             {accessCaller, s.handleListingExpire},
		"listing_submitOffer":        {accessCaller, s.handleSubmitOffer},
		"listing_updateOffer":        {accessCaller, s.handleUpdateOffer},
		"listing_acceptOffer":        {accessCaller, s.handleAcceptOffer},
		"listing_approveMortgage":    {accessCaller, s.handleApproveMortgage},
		"listing_revokeMortgage":     {accessCaller, s.handleRevokeMortgage},
		"listing_withdrawOffer":      {accessCaller, s.handleWithdrawOffer},
		"listing_propertySold":       {accessCaller, s.handlePropertySold},
		"listing_terminateAgreement": {accessCaller, s.handleTerminateAgreement},
		"listing_withdrawDeposit":    {accessCaller, s.handleWithdrawDeposit},
		"listing_withdrawFees":       {accessCaller, s.handleWithdrawFees},
		"listing_get":                {accessPublic, s.handleListingGet},
		"listing_offers":             {accessPublic, s.handleListingOffers},
		"listing_offer":              {accessPublic, s.handleListingOffer},
		"listing_refund":             {accessPublic, s.handleListingRefund},
		"listing_feeBalance":         {accessPublic, s.handleFeeBalance},
		"listing_canWithdrawDeposit": {accessPublic, s.handleCanWithdrawDeposit},
		"listing_checkInvariant":     {accessPublic, s.handleCheckInvariant},
		"listing_conservation":       {accessPublic, s.handleConservation},
		"listing_commitAmount":       {accessPublic, s.handleCommitAmount},
		"listing_events":             {accessPublic, s.handleListingEvents},
		"admin_setPaused":            {accessAdmin, s.handleAdminSetPaused},
		"admin_verifyAudit":          {accessAdmin, s.handleAdminVerifyAudit},
	}
}

// consumeQuota charges one mutating call to caller.
func (s *Server) consumeQuota(caller *Caller) error {
	quota := s.cfg.CallerQuota
	if !quota.Enabled() || caller == nil {
		return nil
	}
	key := callerKeyFromAddress(caller.Address)
	window := quota.WindowID(s.clockNow().Unix())
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	next, err := nativecommon.CheckQuota(quota, window, s.quotas[key], 1)
	if err != nil {
		return err
	}
	s.quotas[key] = next
	for id, usage := range s.quotas {
		if usage.WindowID < window {
			delete(s.quotas, id)
		}
	}
	return nil
}

func clientSource(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
