// Package query serves read-only HTTP/JSON views of the exchange: live
// market state straight from the engine, and operation history from the
// Postgres audit log. All engine reads go through the exchange's public
// query methods, so they see the same locked state as callers do.
package query

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"PerpExchange/internal/exchange"
)

// DefaultTWAPIntervalSeconds is used when a market query does not supply
// its own interval.
const DefaultTWAPIntervalSeconds = 900

// Service answers read-only queries against the live exchange and the
// operation log.
type Service struct {
	ex  *exchange.Exchange
	db  *sql.DB
	log zerolog.Logger
}

func NewService(ex *exchange.Exchange, db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{
		ex:  ex,
		db:  db,
		log: logger.With().Str("component", "query").Logger(),
	}
}

// Market returns the live pricing and fee state for one market.
func (s *Service) Market(baseAsset string, twapIntervalSeconds int64) (*MarketResponse, error) {
	if twapIntervalSeconds <= 0 {
		twapIntervalSeconds = DefaultTWAPIntervalSeconds
	}

	poolID, err := s.ex.PoolFor(baseAsset)
	if err != nil {
		return nil, err
	}
	tick, err := s.ex.CurrentTick(baseAsset)
	if err != nil {
		return nil, err
	}
	spot, err := s.ex.SqrtMarkPriceX96(baseAsset)
	if err != nil {
		return nil, err
	}
	twap, err := s.ex.MarkPriceTWAP(baseAsset, twapIntervalSeconds)
	if err != nil {
		return nil, err
	}
	exFee, insFee, err := s.ex.FeeRatios(baseAsset)
	if err != nil {
		return nil, err
	}

	return &MarketResponse{
		BaseAsset:                baseAsset,
		PoolID:                   poolID.String(),
		CurrentTick:              tick,
		SqrtMarkPriceX96:         spot.Dec(),
		SqrtMarkPriceTWAPX96:     twap.Dec(),
		TWAPIntervalSeconds:      twapIntervalSeconds,
		ExchangeFeeRatioPPM:      exFee,
		InsuranceFundFeeRatioPPM: insFee,
	}, nil
}

// OpenOrders returns a maker's open orders on one market, plus the
// valuation of the whole position at the current mark price.
func (s *Service) OpenOrders(owner, baseAsset string) (*OrdersResponse, error) {
	ids, err := s.ex.OpenOrderIDs(owner, baseAsset)
	if err != nil {
		return nil, err
	}

	orders := make([]OrderResponse, 0, len(ids))
	for _, id := range ids {
		o, err := s.ex.OpenOrder(id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, OrderResponse{
			OrderID:   o.ID,
			Owner:     o.Owner,
			Market:    o.Market,
			LowerTick: o.LowerTick,
			UpperTick: o.UpperTick,
			Liquidity: o.Liquidity.Dec(),
		})
	}

	base, quote, err := s.ex.TotalTokenAmounts(owner, baseAsset)
	if err != nil {
		return nil, err
	}

	return &OrdersResponse{
		Owner:      owner,
		Market:     baseAsset,
		Orders:     orders,
		TotalBase:  base.Dec(),
		TotalQuote: quote.Dec(),
	}, nil
}

// RegisterRoutes mounts the read API on the given mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/markets/{base}", s.handleMarket)
	mux.HandleFunc("GET /v1/markets/{base}/orders", s.handleOrders)
	mux.HandleFunc("GET /v1/operations", s.handleOperations)
}

func (s *Service) handleMarket(w http.ResponseWriter, r *http.Request) {
	interval, _ := strconv.ParseInt(r.URL.Query().Get("twap_seconds"), 10, 64)
	resp, err := s.Market(r.PathValue("base"), interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Service) handleOrders(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, `{"error":"owner is required"}`, http.StatusBadRequest)
		return
	}
	resp, err := s.OpenOrders(owner, r.PathValue("base"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, resp)
}

func (s *Service) handleOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, _ := strconv.Atoi(q.Get("limit"))
	var beforeID *int64
	if v := q.Get("before_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"before_id must be an integer"}`, http.StatusBadRequest)
			return
		}
		beforeID = &n
	}

	entries, err := s.OperationHistory(r.Context(), q.Get("market"), q.Get("account"), limit, beforeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, entries)
}

func (s *Service) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exchange.ErrMarketNotFound),
		errors.Is(err, exchange.ErrPoolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrPoolNotInitialized):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("query failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
