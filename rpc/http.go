package rpc

import (
	"context"
	"crypto/subtle"
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"vaultd/engine"
	"vaultd/journal"
	"vaultd/observability"
	"vaultd/observability/logging"
	"vaultd/token"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	jwtClockSkew    = 30 * time.Second
	maxVisitors     = 4096
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeHealthFactor   = -32030
	codePaused         = -32040
	codeOracleStale    = -32050
)

// Auth modes accepted by the server.
const (
	AuthNone  = "none"
	AuthToken = "token"
	AuthJWT   = "jwt"
)

// Config carries the HTTP listener settings.
type Config struct {
	ListenAddress     string
	AuthMode          string
	BearerToken       string
	JWTSecret         string
	RequestsPerSecond float64
	Burst             int
	TrustProxyHeaders bool
}

// Deps bundles the collaborators the server exposes. Engine is mandatory;
// endpoints backed by an absent collaborator answer with a server error.
type Deps struct {
	Engine  *engine.Engine
	Bank    *token.Bank
	ZUSD    *token.ZUSD
	Journal *journal.Journal
	Pauses  *engine.PauseSwitch
	Hub     *EventHub
	Logger  *slog.Logger
}

// Server hosts the vault JSON-RPC endpoint, the Prometheus scrape endpoint
// and the websocket event stream.
type Server struct {
	cfg     Config
	engine  *engine.Engine
	bank    *token.Bank
	zusd    *token.ZUSD
	journal *journal.Journal
	pauses  *engine.PauseSwitch
	hub     *EventHub
	log     *slog.Logger
	metrics *observability.RPCMetrics
	clock   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New validates the configuration and assembles the server.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("rpc: engine must be configured")
	}
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(cfg.AuthMode))
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthNone
	}
	switch cfg.AuthMode {
	case AuthNone, AuthToken, AuthJWT:
	default:
		return nil, fmt.Errorf("rpc: unknown auth mode %q", cfg.AuthMode)
	}
	if cfg.AuthMode == AuthToken && strings.TrimSpace(cfg.BearerToken) == "" {
		return nil, errors.New("rpc: token auth requires a bearer token")
	}
	if cfg.AuthMode == AuthJWT && strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("rpc: jwt auth requires a secret")
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		engine:   deps.Engine,
		bank:     deps.Bank,
		zusd:     deps.ZUSD,
		journal:  deps.Journal,
		pauses:   deps.Pauses,
		hub:      deps.Hub,
		log:      logger,
		metrics:  observability.RPC(),
		clock:    time.Now,
		visitors: make(map[string]*visitor),
	}, nil
}

// Handler assembles the HTTP routes. The RPC endpoint is registered for all
// verbs so non-POST requests still receive a JSON-RPC error envelope.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Handle("/", otelhttp.NewHandler(http.HandlerFunc(s.handleRPC), "vault.rpc"))
	r.Handle("/healthz", otelhttp.NewHandler(http.HandlerFunc(s.handleHealth), "vault.health"))
	r.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		r.Handle("/ws/events", http.HandlerFunc(s.handleEvents))
	}
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("rpc: server not configured")
	}
	srv := &http.Server{
		Addr:    s.cfg.ListenAddress,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("rpc server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// rpcError pairs a wire-level error with the HTTP status it rides on.
type rpcError struct {
	Status  int
	Code    int
	Message string
	Data    interface{}
}

func invalidParams(message string, data interface{}) *rpcError {
	return &rpcError{Status: http.StatusBadRequest, Code: codeInvalidParams, Message: message, Data: data}
}

func serverError(message string, data interface{}) *rpcError {
	return &rpcError{Status: http.StatusInternalServerError, Code: codeServerError, Message: message, Data: data}
}

func unavailable(message string) *rpcError {
	return &rpcError{Status: http.StatusServiceUnavailable, Code: codeServerError, Message: message}
}

// protectedMethods require authentication when an auth mode is configured.
var protectedMethods = map[string]struct{}{
	"vault_depositCollateral": {},
	"vault_mintZusd":          {},
	"vault_depositAndMint":    {},
	"vault_burnZusd":          {},
	"vault_redeemCollateral":  {},
	"vault_redeemAndMint":     {},
	"vault_redeemForZusd":     {},
	"vault_liquidate":         {},
	"vault_pause":             {},
	"vault_resume":            {},
	"vault_fundCollateral":    {},
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, 0, codeInvalidRequest, "POST required", nil)
		return
	}
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, 0, codeInvalidRequest, "request body exceeds limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, 0, codeParseError, "unable to read request body", nil)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, 0, codeInvalidRequest, "empty request body", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method is required", nil)
		return
	}

	client := s.clientID(r)
	if !s.allow(client) {
		s.metrics.RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	if _, ok := protectedMethods[req.Method]; ok {
		if authErr := s.requireAuth(r); authErr != nil {
			s.metrics.Observe(req.Method, false, 0)
			writeError(w, authErr.Status, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	start := s.clock()
	result, rpcErr := s.dispatch(r.Context(), &req)
	s.metrics.Observe(req.Method, rpcErr == nil, s.clock().Sub(start))
	if rpcErr != nil {
		writeError(w, rpcErr.Status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, req *RPCRequest) (interface{}, *rpcError) {
	switch req.Method {
	case "vault_depositCollateral":
		return s.handleDepositCollateral(ctx, req)
	case "vault_mintZusd":
		return s.handleMintZUSD(ctx, req)
	case "vault_depositAndMint":
		return s.handleDepositAndMint(ctx, req)
	case "vault_burnZusd":
		return s.handleBurnZUSD(ctx, req)
	case "vault_redeemCollateral":
		return s.handleRedeemCollateral(ctx, req)
	case "vault_redeemAndMint":
		return s.handleRedeemAndMint(ctx, req)
	case "vault_redeemForZusd":
		return s.handleRedeemForZUSD(ctx, req)
	case "vault_liquidate":
		return s.handleLiquidate(ctx, req)
	case "vault_getAccount":
		return s.handleGetAccount(ctx, req)
	case "vault_healthFactor":
		return s.handleHealthFactor(ctx, req)
	case "vault_usdValue":
		return s.handleUSDValue(ctx, req)
	case "vault_tokenAmount":
		return s.handleTokenAmount(ctx, req)
	case "vault_collateralBalance":
		return s.handleCollateralBalance(ctx, req)
	case "vault_zusdBalance":
		return s.handleZUSDBalance(ctx, req)
	case "vault_listAssets":
		return s.handleListAssets(ctx, req)
	case "vault_constants":
		return s.handleConstants(ctx, req)
	case "vault_protocolStatus":
		return s.handleProtocolStatus(ctx, req)
	case "vault_opsHistory":
		return s.handleOpsHistory(ctx, req)
	case "vault_liquidations":
		return s.handleLiquidations(ctx, req)
	case "vault_pause":
		return s.handlePause(ctx, req)
	case "vault_resume":
		return s.handleResume(ctx, req)
	case "vault_fundCollateral":
		return s.handleFundCollateral(ctx, req)
	default:
		return nil, &rpcError{
			Status:  http.StatusNotFound,
			Code:    codeMethodNotFound,
			Message: fmt.Sprintf("the method %s does not exist/is not available", req.Method),
		}
	}
}

func (s *Server) requireAuth(r *http.Request) *rpcError {
	switch s.cfg.AuthMode {
	case AuthNone:
		return nil
	case AuthToken:
		supplied := extractBearer(r.Header.Get("Authorization"))
		if supplied == "" {
			return &rpcError{Status: http.StatusUnauthorized, Code: codeUnauthorized, Message: "authorization bearer token required"}
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.BearerToken)) != 1 {
			s.log.Warn("rpc auth rejected",
				"request", chimw.GetReqID(r.Context()),
				"client", s.clientID(r),
				"token", logging.MaskValue(supplied),
			)
			return &rpcError{Status: http.StatusUnauthorized, Code: codeUnauthorized, Message: "invalid bearer token"}
		}
		return nil
	case AuthJWT:
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			return &rpcError{Status: http.StatusUnauthorized, Code: codeUnauthorized, Message: "authorization bearer token required"}
		}
		parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithLeeway(jwtClockSkew))
		if err != nil || !parsed.Valid {
			s.log.Warn("rpc auth rejected",
				"request", chimw.GetReqID(r.Context()),
				"client", s.clientID(r),
				"token", logging.MaskValue(tokenString),
			)
			return &rpcError{Status: http.StatusUnauthorized, Code: codeUnauthorized, Message: "invalid jwt"}
		}
		return nil
	default:
		return &rpcError{Status: http.StatusUnauthorized, Code: codeUnauthorized, Message: "authentication unavailable"}
	}
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// allow applies the per-client token bucket. Stale buckets are pruned once
// the table outgrows maxVisitors.
func (s *Server) allow(client string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	v, ok := s.visitors[client]
	if !ok {
		if len(s.visitors) >= maxVisitors {
			for id, seen := range s.visitors {
				if now.Sub(seen.lastSeen) > 10*time.Minute {
					delete(s.visitors, id)
				}
			}
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// clientID identifies the caller for rate limiting. Proxy headers are only
// honoured when the deployment declares a trusted proxy in front.
func (s *Server) clientID(r *http.Request) string {
	if s.cfg.TrustProxyHeaders {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  result,
	})
}
