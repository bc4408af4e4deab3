// Copyright 2025 The go-ledgerbridge Authors
// This file is part of the go-ledgerbridge library.
//
// The go-ledgerbridge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ledgerbridge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ledgerbridge library. If not, see <http://www.gnu.org/licenses/>.

package audit

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ledgerbridge/go-ledgerbridge/log"
)

// maxBodyBytes bounds webhook request bodies.
const maxBodyBytes = 1 << 20

// ingestRequest is the webhook body: the audit entry under a "payload" key,
// mirroring the transport's message wrap. Signature and idempotency key
// normally travel as headers but are also honored as body fields, for
// senders whose proxies strip custom headers.
type ingestRequest struct {
	Payload        json.RawMessage `json:"payload"`
	Signature      string          `json:"signature,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

type ingestResponse struct {
	Accepted bool `json:"accepted"`
	Deduped  bool `json:"deduped"`
}

var (
	ingestedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "audit", Name: "deliveries_stored_total",
		Help: "Audit deliveries that created a row.",
	})
	replayedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "audit", Name: "deliveries_replayed_total",
		Help: "Audit deliveries deduplicated by delivery key.",
	})
	rejectedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "audit", Name: "deliveries_rejected_total",
		Help: "Audit deliveries rejected (bad signature, body or key reuse).",
	})
)

// ServiceConfig configures the audit sink HTTP surface.
type ServiceConfig struct {
	Secret      []byte
	CORSDomains []string
	Logger      log.Logger
}

// Service is the webhook sink: it verifies deliveries, stores them exactly
// once and serves the transaction log back out.
type Service struct {
	db  *DB
	cfg ServiceConfig
	log log.Logger
}

// NewService wires the sink against db.
func NewService(db *DB, cfg ServiceConfig) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("audit webhook secret not configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New("component", "audit")
	}
	return &Service{db: db, cfg: cfg, log: logger}, nil
}

// Handler builds the routed, CORS-wrapped HTTP handler.
func (s *Service) Handler() http.Handler {
	router := httprouter.New()
	router.POST("/log/transactions", s.handleIngest)
	router.GET("/log/transactions", s.handleList)
	router.GET("/health", s.handleHealth)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSDomains,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", SignatureHeader, IdempotencyKeyHeader},
	})
	return c.Handler(router)
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Payload) == 0 {
		rejectedCounter.Inc()
		http.Error(w, "missing payload", http.StatusBadRequest)
		return
	}
	// Header wins, body field backstops it.
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		key = req.IdempotencyKey
	}
	if key == "" {
		rejectedCounter.Inc()
		http.Error(w, "missing "+IdempotencyKeyHeader+" header or idempotencyKey field", http.StatusBadRequest)
		return
	}
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		signature = req.Signature
	}
	// The signature covers the payload, not the wrap: proxies may re-wrap,
	// the signed content must survive untouched.
	if !Verify(s.cfg.Secret, req.Payload, signature) {
		rejectedCounter.Inc()
		s.log.Warn("Delivery with bad signature", "key", key, "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var entry Entry
	if err := json.Unmarshal(req.Payload, &entry); err != nil {
		rejectedCounter.Inc()
		http.Error(w, "malformed entry", http.StatusBadRequest)
		return
	}
	if entry.TxnID == "" || entry.UserID == "" {
		rejectedCounter.Inc()
		http.Error(w, "entry missing txnId or userId", http.StatusBadRequest)
		return
	}

	hash, err := PayloadHash(req.Payload)
	if err != nil {
		http.Error(w, "malformed entry", http.StatusBadRequest)
		return
	}
	created, err := s.db.Ingest(r.Context(), key, entry, hash)
	switch {
	case errors.Is(err, ErrPayloadMismatch):
		rejectedCounter.Inc()
		s.log.Warn("Delivery key reused with different payload", "key", key)
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		s.log.Error("Audit ingest failed", "key", key, "err", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		if created {
			ingestedCounter.Inc()
			w.WriteHeader(http.StatusCreated)
		} else {
			replayedCounter.Inc()
		}
		json.NewEncoder(w).Encode(ingestResponse{Accepted: true, Deduped: !created})
	}
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID := r.URL.Query().Get("userId") // optional; empty lists all users
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.db.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("Audit listing failed", "user", userID, "err", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.db.Ping(r.Context()); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
