// Package api exposes the engine's externally observable artifacts over
// HTTP: position records, diagnostic records, and a log-ingestion endpoint
// for push-based relays. Positions are the system's sole output; everything
// here is read-only except ingestion.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/omenx/position-engine/internal/chain"
	"github.com/omenx/position-engine/internal/diag"
	"github.com/omenx/position-engine/internal/model"
	"github.com/omenx/position-engine/internal/store"
)

// Service handles position queries and log ingestion.
type Service struct {
	store      store.Store
	diag       *diag.Recorder
	dispatcher *chain.Dispatcher

	// collateralDecimals scales raw integer amounts into display values
	// (6 for USDC-style collateral).
	collateralDecimals int32
}

// NewService creates the query service.
func NewService(st store.Store, recorder *diag.Recorder, dispatcher *chain.Dispatcher, collateralDecimals int32) *Service {
	return &Service{
		store:              st,
		diag:               recorder,
		dispatcher:         dispatcher,
		collateralDecimals: collateralDecimals,
	}
}

// PositionView is the JSON shape of a position. Raw fields are exact
// integer strings; display fields are scaled by the collateral decimals.
type PositionView struct {
	User         string `json:"user"`
	Market       string `json:"market"`
	OutcomeIndex uint   `json:"outcome_index"`

	QuantityBought string `json:"quantity_bought"`
	QuantitySold   string `json:"quantity_sold"`
	NetQuantity    string `json:"net_quantity"`
	ValueBought    string `json:"value_bought"`
	ValueSold      string `json:"value_sold"`
	NetValue       string `json:"net_value"`

	NetQuantityDisplay string `json:"net_quantity_display"`
	NetValueDisplay    string `json:"net_value_display"`

	UpdatedAt string `json:"updated_at"`
}

func (s *Service) view(p *model.MarketPosition) PositionView {
	return PositionView{
		User:           p.User.Hex(),
		Market:         p.Market.Hex(),
		OutcomeIndex:   p.OutcomeIndex,
		QuantityBought: p.QuantityBought.String(),
		QuantitySold:   p.QuantitySold.String(),
		NetQuantity:    p.NetQuantity.String(),
		ValueBought:    p.ValueBought.String(),
		ValueSold:      p.ValueSold.String(),
		NetValue:       p.NetValue.String(),
		NetQuantityDisplay: decimal.NewFromBigInt(
			p.NetQuantity, -s.collateralDecimals).String(),
		NetValueDisplay: decimal.NewFromBigInt(
			p.NetValue, -s.collateralDecimals).String(),
		UpdatedAt: p.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ListUserPositions handles GET /api/v1/positions/user/{address}
func (s *Service) ListUserPositions(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	if !common.IsHexAddress(addr) {
		writeError(w, "invalid user address", http.StatusBadRequest)
		return
	}

	positions, err := s.store.ListPositionsByUser(r.Context(), common.HexToAddress(addr))
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}

	s.writePositions(w, positions)
}

// ListMarketPositions handles GET /api/v1/positions/market/{address}
func (s *Service) ListMarketPositions(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	if !common.IsHexAddress(addr) {
		writeError(w, "invalid market address", http.StatusBadRequest)
		return
	}

	positions, err := s.store.ListPositionsByMarket(r.Context(), common.HexToAddress(addr))
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}

	s.writePositions(w, positions)
}

// GetPosition handles GET /api/v1/positions/{user}/{market}/{index}
// Returns the stored position, or the zero position if none exists yet.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	userParam := chi.URLParam(r, "user")
	marketParam := chi.URLParam(r, "market")
	indexParam := chi.URLParam(r, "index")

	if !common.IsHexAddress(userParam) || !common.IsHexAddress(marketParam) {
		writeError(w, "invalid address", http.StatusBadRequest)
		return
	}
	index, err := strconv.ParseUint(indexParam, 10, 32)
	if err != nil {
		writeError(w, "invalid outcome index", http.StatusBadRequest)
		return
	}

	p, err := s.store.GetPosition(r.Context(),
		common.HexToAddress(userParam), common.HexToAddress(marketParam), uint(index))
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.view(p))
}

// ListDiagnostics handles GET /api/v1/diagnostics?limit=N
func (s *Service) ListDiagnostics(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records := s.diag.Recent(limit)
	if records == nil {
		records = []diag.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// IngestLog handles POST /api/v1/logs. A push-based relay posts one decoded
// receipt log per request; delivery order is the relay's responsibility.
func (s *Service) IngestLog(w http.ResponseWriter, r *http.Request) {
	var log types.Log
	if err := json.NewDecoder(r.Body).Decode(&log); err != nil {
		writeError(w, "invalid log payload", http.StatusBadRequest)
		return
	}

	if err := s.dispatcher.Dispatch(r.Context(), log); err != nil {
		writeError(w, "failed to apply log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (s *Service) writePositions(w http.ResponseWriter, positions []model.MarketPosition) {
	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		views = append(views, s.view(&positions[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
