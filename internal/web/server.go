package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elys-network/stakeledger/internal/engine"
	"github.com/elys-network/stakeledger/internal/logger"
	"github.com/elys-network/stakeledger/internal/staking"
	"github.com/elys-network/stakeledger/internal/state"
	"github.com/elys-network/stakeledger/internal/types"
	"github.com/elys-network/stakeledger/internal/vault"
)

// CallerHeader carries the bech32 address of the authenticated caller. It is set by the
// gateway in front of this server and trusted as is.
const CallerHeader = "X-Ledger-Caller"

const (
	defaultClaimLimit = 20
	maxClaimLimit     = 100
)

var webLogger = logger.GetForComponent("web_server")

var errBadRequest = errors.New("bad request")

// Operator is the ledger surface served over HTTP.
type Operator interface {
	RegisterParticipant(ctx context.Context, address, upline sdk.AccAddress) error
	Enter(ctx context.Context, req staking.EnterRequest) error
	Claim(ctx context.Context, req staking.ClaimRequest) (staking.ClaimResult, error)
	Cancel(ctx context.Context, req staking.CancelRequest) error
	WithdrawRewards(ctx context.Context, caller sdk.AccAddress, destination types.AccountID, amount uint64) error
	Participant(address sdk.AccAddress) (types.Participant, error)
	PendingReward(address sdk.AccAddress, slot uint64) (uint64, error)

	OpenOrder(ctx context.Context, owner, upline sdk.AccAddress, index uint64) error
	RecordPurchase(ctx context.Context, caller, owner sdk.AccAddress, index uint64, receipt types.PurchaseReceipt) error
	EnterOrder(ctx context.Context, caller sdk.AccAddress, index uint64) error
	AddPower(ctx context.Context, caller, owner sdk.AccAddress, index, amount uint64, burn *staking.Burn) error
	ReducePower(ctx context.Context, caller, owner sdk.AccAddress, index, amount uint64) error
	ClaimOrder(ctx context.Context, req staking.ComputeClaimRequest) (staking.ClaimResult, error)
	Order(owner sdk.AccAddress, index uint64) (types.ComputeOrder, error)
	OrderPendingReward(owner sdk.AccAddress, index uint64) (uint64, error)

	Pools() []types.RewardPool
	Now() uint64
	CheckInvariants() error
	RecentClaims(limit int) ([]state.StoredClaim, error)
	ClaimsByOwner(owner sdk.AccAddress, limit int) ([]state.StoredClaim, error)
	Summary() (*state.LedgerSummary, error)
	PoolCheckpoints(ctx context.Context, poolKey string, limit int) ([]state.PoolCheckpoint, error)
}

// WebServer exposes the ledger over a JSON HTTP API.
type WebServer struct {
	router   *mux.Router
	port     string
	operator Operator
	dbCheck  func() error
	started  time.Time
}

func NewWebServer(port string, operator Operator) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:   mux.NewRouter(),
		port:     port,
		operator: operator,
		started:  time.Now(),
	}

	server.setupRoutes()
	return server
}

// SetDatabaseCheck makes the health endpoint report the database status.
func (ws *WebServer) SetDatabaseCheck(check func() error) {
	ws.dbCheck = check
}

// Handler returns the routed handler with middleware applied.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/pools", ws.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{pool}/checkpoints", ws.handleGetCheckpoints).Methods("GET")
	api.HandleFunc("/claims", ws.handleGetClaims).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")

	api.HandleFunc("/participants", ws.handleRegisterParticipant).Methods("POST")
	api.HandleFunc("/participants/{address}", ws.handleGetParticipant).Methods("GET")
	api.HandleFunc("/participants/{address}/slots/{slot}/pending", ws.handleGetPending).Methods("GET")

	api.HandleFunc("/stakes", ws.handleEnter).Methods("POST")
	api.HandleFunc("/stakes/{slot}/claim", ws.handleClaim).Methods("POST")
	api.HandleFunc("/stakes/{slot}/cancel", ws.handleCancel).Methods("POST")
	api.HandleFunc("/admin/withdraw", ws.handleWithdraw).Methods("POST")

	api.HandleFunc("/orders", ws.handleOpenOrder).Methods("POST")
	api.HandleFunc("/orders/{index}/stake", ws.handleEnterOrder).Methods("POST")
	api.HandleFunc("/orders/{index}/claim", ws.handleClaimOrder).Methods("POST")
	api.HandleFunc("/orders/{owner}/{index}", ws.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{owner}/{index}/purchase", ws.handleRecordPurchase).Methods("POST")
	api.HandleFunc("/orders/{owner}/{index}/power", ws.handleAddPower).Methods("POST")
	api.HandleFunc("/orders/{owner}/{index}/reduce", ws.handleReducePower).Methods("POST")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth reports the runtime, the share invariants and, when configured, the database.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	healthy := true
	ledgerStatus := map[string]interface{}{
		"now":             ws.operator.Now(),
		"pools":           len(ws.operator.Pools()),
		"invariants_hold": true,
	}
	if err := ws.operator.CheckInvariants(); err != nil {
		healthy = false
		ledgerStatus["invariants_hold"] = false
		ledgerStatus["invariant_error"] = err.Error()
	}
	if ws.dbCheck != nil {
		dbHealthy := ws.dbCheck() == nil
		ledgerStatus["database_healthy"] = dbHealthy
		healthy = healthy && dbHealthy
	}

	status, statusCode := "OK", http.StatusOK
	if !healthy {
		status, statusCode = "DEGRADED", http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.started).Seconds()),
		},
		"ledger": ledgerStatus,
	})
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, staking.ErrInvalidSlot),
		errors.Is(err, staking.ErrInvalidTier),
		errors.Is(err, staking.ErrInvalidAmount),
		errors.Is(err, staking.ErrInsufficientBalance),
		errors.Is(err, staking.ErrClaimCeilingExceeded),
		errors.Is(err, staking.ErrInvalidUpline),
		errors.Is(err, vault.ErrInvalidTransfer):
		return http.StatusBadRequest
	case errors.Is(err, staking.ErrUnauthorized),
		errors.Is(err, staking.ErrAccountMismatch),
		errors.Is(err, staking.ErrMintMismatch),
		errors.Is(err, vault.ErrNotAuthorized),
		errors.Is(err, vault.ErrDenomMismatch):
		return http.StatusForbidden
	case errors.Is(err, staking.ErrParticipantNotFound),
		errors.Is(err, staking.ErrOrderNotFound),
		errors.Is(err, vault.ErrAccountNotFound),
		errors.Is(err, engine.ErrVariantDisabled):
		return http.StatusNotFound
	case errors.Is(err, staking.ErrAlreadyStaked),
		errors.Is(err, staking.ErrStakingEnded),
		errors.Is(err, staking.ErrNotStarted),
		errors.Is(err, staking.ErrNotStaked),
		errors.Is(err, staking.ErrNoRewards),
		errors.Is(err, staking.ErrNotMatured),
		errors.Is(err, staking.ErrClaimRequired),
		errors.Is(err, staking.ErrAlreadyMatured),
		errors.Is(err, staking.ErrClaimCooldown),
		errors.Is(err, staking.ErrPurchaseIncomplete),
		errors.Is(err, staking.ErrParticipantExists),
		errors.Is(err, staking.ErrOrderExists),
		errors.Is(err, vault.ErrInsufficientFunds),
		errors.Is(err, vault.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrReportsUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WebServer) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		webLogger.Error().Err(err).Str("path", r.URL.Path).Msg("Ledger operation failed")
		message = "Internal error"
	}
	ws.writeErrorResponse(w, status, message)
}

func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	ws.writeJSONResponse(w, statusCode, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

// callerFrom reads the caller identity header.
func callerFrom(r *http.Request) (sdk.AccAddress, error) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing %s header", errBadRequest, CallerHeader)
	}
	caller, err := sdk.AccAddressFromBech32(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, CallerHeader, err)
	}
	return caller, nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func pathAddress(r *http.Request, name string) (sdk.AccAddress, error) {
	address, err := sdk.AccAddressFromBech32(mux.Vars(r)[name])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return address, nil
}

func pathUint(r *http.Request, name string) (uint64, error) {
	value, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an unsigned integer", errBadRequest, name)
	}
	return value, nil
}

func optionalAddress(raw string) (sdk.AccAddress, error) {
	if raw == "" {
		return nil, nil
	}
	address, err := sdk.AccAddressFromBech32(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return address, nil
}

func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CallerHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("caller", r.Header.Get(CallerHeader)).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper captures the status code for logging.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
