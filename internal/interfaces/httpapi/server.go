package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"txwatch/internal/application"
	"txwatch/internal/config"
	"txwatch/internal/domain"
	"txwatch/internal/streaming"
)

// ArchiveStore is the query surface the archiver exposes over HTTP.
type ArchiveStore interface {
	QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.TransactionRecord, error)
	QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]application.FinalizedReceipt, error)
	QueryEvents(ctx context.Context, chainID uint64, hash string, limit int) ([]streaming.Message, error)
	Stats(ctx context.Context, chainID *uint64) (uint64, uint64, error)
	Ping(ctx context.Context) error
}

type RPCStatus interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// JournalStatus reports on the tracker's local journal for readiness probes.
type JournalStatus interface {
	Ping(ctx context.Context) error
}

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Server is the tracker's HTTP surface: the live record collection, the
// approve/stake workflow and operational endpoints.
type Server struct {
	cfg       config.Config
	store     *application.Store
	workflow  *application.Workflow
	rpc       RPCStatus
	journal   JournalStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(cfg config.Config, store *application.Store, workflow *application.Workflow, rpc RPCStatus, journal JournalStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if store == nil || workflow == nil || rpc == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		workflow:  workflow,
		rpc:       rpc,
		journal:   journal,
		metrics:   metrics,
		buildInfo: buildInfo,
	}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/transactions", s.handleTransactions)
	mux.HandleFunc("/workflow", s.handleWorkflow)
	mux.HandleFunc("/workflow/approve", s.handleApprove)
	mux.HandleFunc("/workflow/stake", s.handleStake)
	mux.HandleFunc("/workflow/amount", s.handleAmount)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.journal != nil {
		if err := s.journal.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "journal not ready")
			return
		}
	}
	if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if hash := r.URL.Query().Get("hash"); hash != "" {
		record, ok := s.store.Get(s.cfg.ChainID, hash)
		if !ok {
			respondError(w, http.StatusNotFound, "unknown transaction")
			return
		}
		respondJSON(w, http.StatusOK, record)
		return
	}

	pending, err := parseBoolParam(r, "pending")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var records []domain.TransactionRecord
	if pending {
		records = s.store.Pending(s.cfg.ChainID)
	} else {
		records = s.store.All(s.cfg.ChainID)
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.workflow.State())
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, s.workflow.Approve)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, s.workflow.Stake)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, submit func(context.Context, string) (string, error)) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	amount, err := parseAmountBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := submit(r.Context(), amount)
	if err != nil {
		status, message := mapWorkflowError(err)
		if status == http.StatusBadGateway {
			s.metrics.IncSubmissionErr()
		}
		respondError(w, status, message)
		return
	}

	s.metrics.IncRecordTracked()
	respondJSON(w, http.StatusOK, map[string]any{
		"hash":  hash,
		"state": s.workflow.State(),
	})
}

func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	amount, err := parseAmountBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.workflow.SetStagedAmount(amount)
	respondJSON(w, http.StatusOK, s.workflow.State())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"chain_id":     s.cfg.ChainID,
		"tracked":      len(s.store.All(s.cfg.ChainID)),
		"pending":      len(s.store.Pending(s.cfg.ChainID)),
		"latest_block": s.metrics.Snapshot().LatestBlock,
		"config": map[string]any{
			"rpc_url":         s.cfg.RPCURL,
			"account":         s.cfg.Account,
			"token_address":   s.cfg.TokenAddress,
			"staking_router":  s.cfg.StakingRouter,
			"token_symbol":    s.cfg.TokenSymbol,
			"token_decimals":  s.cfg.TokenDecimals,
			"db_path":         s.cfg.DBPath,
			"http_addr":       s.cfg.HTTPAddr,
			"poll_interval":   s.cfg.PollInterval.String(),
			"receipt_timeout": s.cfg.ReceiptTimeout.String(),
		},
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeMetrics(w, s.metrics.Snapshot())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

// ArchiveServer is the archiver's HTTP surface over the durable stores.
type ArchiveServer struct {
	cfg       config.Config
	store     ArchiveStore
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewArchiveServer(cfg config.Config, store ArchiveStore, metrics *Metrics, buildInfo BuildInfo) (*ArchiveServer, error) {
	if store == nil {
		return nil, errors.New("archive store must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &ArchiveServer{cfg: cfg, store: store, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *ArchiveServer) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *ArchiveServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/records", s.handleRecords)
	mux.HandleFunc("/receipts", s.handleReceipts)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/version", s.handleVersion)
	return mux
}

func (s *ArchiveServer) ListenAndServe(ctx context.Context, addr string) error {
	return serve(ctx, addr, s.Handler())
}

func (s *ArchiveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ArchiveServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *ArchiveServer) handleRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.store.QueryRecords(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *ArchiveServer) handleReceipts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseReceiptFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipts, err := s.store.QueryReceipts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, receipts)
}

func (s *ArchiveServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	chainID, err := parseChainID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if chainID == nil {
		respondError(w, http.StatusBadRequest, "chain_id is required")
		return
	}
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		respondError(w, http.StatusBadRequest, "hash is required")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := s.store.QueryEvents(r.Context(), *chainID, hash, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *ArchiveServer) handleStats(w http.ResponseWriter, r *http.Request) {
	chainID, err := parseChainID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	total, pending, err := s.store.Stats(r.Context(), chainID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"pending":   pending,
		"finalized": total - pending,
	})
}

func (s *ArchiveServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeMetrics(w, s.metrics.Snapshot())
}

func (s *ArchiveServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeMetrics(w http.ResponseWriter, snap Snapshot) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	uptime := time.Since(snap.StartTime).Seconds()
	fmt.Fprintf(w, "txwatch_uptime_seconds %.0f\n", uptime)
	fmt.Fprintf(w, "txwatch_latest_block %d\n", snap.LatestBlock)
	fmt.Fprintf(w, "txwatch_records_tracked_total %d\n", snap.RecordsTracked)
	fmt.Fprintf(w, "txwatch_receipt_checks_total %d\n", snap.ChecksPerformed)
	fmt.Fprintf(w, "txwatch_records_finalized_total %d\n", snap.RecordsFinalized)
	fmt.Fprintf(w, "txwatch_receipts_succeeded_total %d\n", snap.ReceiptsSucceeded)
	fmt.Fprintf(w, "txwatch_receipts_failed_total %d\n", snap.ReceiptsFailed)
	fmt.Fprintf(w, "txwatch_submission_errors_total %d\n", snap.SubmissionErrs)
	fmt.Fprintf(w, "txwatch_kafka_messages_total %d\n", snap.KafkaMessages)
	fmt.Fprintf(w, "txwatch_kafka_decode_errors_total %d\n", snap.KafkaDecodeErrs)
	fmt.Fprintf(w, "txwatch_kafka_apply_errors_total %d\n", snap.KafkaApplyErrs)
	fmt.Fprintf(w, "txwatch_kafka_commit_errors_total %d\n", snap.KafkaCommitErrs)
	fmt.Fprintf(w, "txwatch_kafka_fetch_errors_total %d\n", snap.KafkaFetchErrs)
	fmt.Fprintf(w, "txwatch_kafka_last_offset %d\n", snap.KafkaLastOffset)
	fmt.Fprintf(w, "txwatch_kafka_last_lag_seconds %.3f\n", snap.KafkaLastLag.Seconds())
	fmt.Fprintf(w, "txwatch_kafka_max_lag_seconds %.3f\n", snap.KafkaMaxLag.Seconds())
	for topic, count := range snap.KafkaTopicCount {
		fmt.Fprintf(w, "txwatch_kafka_topic_messages_total{topic=%q} %d\n", topic, count)
	}
}

func mapWorkflowError(err error) (int, string) {
	var validation *application.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, validation.Error()
	}
	if errors.Is(err, application.ErrNotConnected) {
		return http.StatusServiceUnavailable, err.Error()
	}
	var submission *application.SubmissionError
	if errors.As(err, &submission) {
		return http.StatusBadGateway, submission.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func parseAmountBody(r *http.Request) (string, error) {
	var payload struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return "", errors.New("invalid request body")
	}
	if strings.TrimSpace(payload.Amount) == "" {
		return "", errors.New("amount is required")
	}
	return payload.Amount, nil
}

func parseRecordFilter(r *http.Request) (application.RecordQueryFilter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return application.RecordQueryFilter{}, err
	}
	chainID, err := parseChainID(r)
	if err != nil {
		return application.RecordQueryFilter{}, err
	}

	var pending *bool
	if raw := r.URL.Query().Get("pending"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return application.RecordQueryFilter{}, errors.New("invalid pending")
		}
		pending = &value
	}

	return application.RecordQueryFilter{
		ChainID: chainID,
		Hash:    strings.ToLower(r.URL.Query().Get("hash")),
		Pending: pending,
		Limit:   limit,
	}, nil
}

func parseReceiptFilter(r *http.Request) (application.ReceiptQueryFilter, error) {
	limit, err := parseLimit(r)
	if err != nil {
		return application.ReceiptQueryFilter{}, err
	}
	chainID, err := parseChainID(r)
	if err != nil {
		return application.ReceiptQueryFilter{}, err
	}

	var status *uint64
	if raw := r.URL.Query().Get("status"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return application.ReceiptQueryFilter{}, errors.New("invalid status")
		}
		status = &value
	}

	return application.ReceiptQueryFilter{
		ChainID: chainID,
		Hash:    strings.ToLower(r.URL.Query().Get("hash")),
		Status:  status,
		Limit:   limit,
	}, nil
}

func parseChainID(r *http.Request) (*uint64, error) {
	raw := r.URL.Query().Get("chain_id")
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, errors.New("invalid chain_id")
	}
	return &value, nil
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return 100, nil
}

func parseBoolParam(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return value, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
