package query_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"PerpExchange/internal/amm"
	"PerpExchange/internal/exchange"
	"PerpExchange/internal/fixedpoint"
	"PerpExchange/internal/query"
)

const (
	adminID    = "admin"
	ledgerID   = "position-ledger"
	makerID    = "maker-1"
	baseAsset  = "vETH"
	quoteAsset = "vUSD"
)

// newTestServer builds a query server over an exchange with one
// initialized vUSD/vETH market. The operation-log routes need Postgres
// and are covered by the integration tests.
func newTestServer(t *testing.T) (*exchange.Exchange, *httptest.Server) {
	t.Helper()

	factory := amm.NewMemFactory(func() int64 { return 1_700_000_000 })
	pool := factory.CreatePool(quoteAsset, baseAsset, 3000, 60)
	if err := pool.Initialize(new(uint256.Int).Set(fixedpoint.Q96)); err != nil {
		t.Fatalf("initialize pool: %v", err)
	}

	ex := exchange.New(exchange.Config{
		QuoteAsset:       quoteAsset,
		AdminID:          adminID,
		PositionLedgerID: ledgerID,
	}, factory, zerolog.Nop(), nil, nil)
	if _, err := ex.AddPool(adminID, baseAsset, 3000); err != nil {
		t.Fatalf("add pool: %v", err)
	}

	svc := query.NewService(ex, nil, zerolog.Nop())
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return ex, srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, wantStatus int, into interface{}) {
	t.Helper()

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", path, resp.StatusCode, wantStatus)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
}

// ============================================================================
// Test: market endpoint
// ============================================================================

func TestMarketEndpoint_ReturnsLiveState(t *testing.T) {
	_, srv := newTestServer(t)

	var got query.MarketResponse
	getJSON(t, srv, "/v1/markets/vETH", http.StatusOK, &got)

	if got.BaseAsset != baseAsset {
		t.Errorf("base asset: got %s, want %s", got.BaseAsset, baseAsset)
	}
	if got.CurrentTick != 0 {
		t.Errorf("tick: got %d, want 0", got.CurrentTick)
	}
	if got.SqrtMarkPriceX96 != fixedpoint.Q96.Dec() {
		t.Errorf("spot: got %s, want %s", got.SqrtMarkPriceX96, fixedpoint.Q96.Dec())
	}
	if got.TWAPIntervalSeconds != query.DefaultTWAPIntervalSeconds {
		t.Errorf("twap interval: got %d, want default %d", got.TWAPIntervalSeconds, query.DefaultTWAPIntervalSeconds)
	}
	// No swaps yet, so the pool fee ratio is the market's exchange ratio.
	if got.ExchangeFeeRatioPPM != 3000 || got.InsuranceFundFeeRatioPPM != 0 {
		t.Errorf("fee ratios: got (%d, %d), want (3000, 0)",
			got.ExchangeFeeRatioPPM, got.InsuranceFundFeeRatioPPM)
	}
}

func TestMarketEndpoint_CustomTWAPInterval(t *testing.T) {
	_, srv := newTestServer(t)

	var got query.MarketResponse
	getJSON(t, srv, "/v1/markets/vETH?twap_seconds=60", http.StatusOK, &got)

	if got.TWAPIntervalSeconds != 60 {
		t.Errorf("twap interval: got %d, want 60", got.TWAPIntervalSeconds)
	}
	// Flat price history: the TWAP equals the spot.
	if got.SqrtMarkPriceTWAPX96 != got.SqrtMarkPriceX96 {
		t.Errorf("flat TWAP %s should equal spot %s", got.SqrtMarkPriceTWAPX96, got.SqrtMarkPriceX96)
	}
}

func TestMarketEndpoint_UnknownMarketIs404(t *testing.T) {
	_, srv := newTestServer(t)
	getJSON(t, srv, "/v1/markets/vDOGE", http.StatusNotFound, nil)
}

// ============================================================================
// Test: orders endpoint
// ============================================================================

func TestOrdersEndpoint_ListsOpenOrders(t *testing.T) {
	ex, srv := newTestServer(t)

	amount := new(uint256.Int).Mul(uint256.NewInt(1_000_000_000), uint256.NewInt(1_000_000_000))
	if _, err := ex.AddLiquidity(exchange.AddLiquidityParams{
		Caller:    ledgerID,
		Maker:     makerID,
		BaseAsset: baseAsset,
		LowerTick: -6000,
		UpperTick: 6000,
		Base:      amount,
		Quote:     amount,
	}); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}

	var got query.OrdersResponse
	getJSON(t, srv, "/v1/markets/vETH/orders?owner=maker-1", http.StatusOK, &got)

	if len(got.Orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(got.Orders))
	}
	o := got.Orders[0]
	if o.Owner != makerID || o.Market != baseAsset {
		t.Errorf("order identity: got (%s, %s)", o.Owner, o.Market)
	}
	if o.LowerTick != -6000 || o.UpperTick != 6000 {
		t.Errorf("order range: got [%d, %d]", o.LowerTick, o.UpperTick)
	}
	if o.Liquidity == "0" || o.Liquidity == "" {
		t.Errorf("order liquidity: got %q", o.Liquidity)
	}
	if got.TotalBase == "0" || got.TotalQuote == "0" {
		t.Errorf("valuation should be nonzero, got (%s, %s)", got.TotalBase, got.TotalQuote)
	}
}

func TestOrdersEndpoint_NoOrdersIsEmpty(t *testing.T) {
	_, srv := newTestServer(t)

	var got query.OrdersResponse
	getJSON(t, srv, "/v1/markets/vETH/orders?owner=nobody", http.StatusOK, &got)

	if len(got.Orders) != 0 {
		t.Errorf("expected no orders, got %d", len(got.Orders))
	}
	if got.TotalBase != "0" || got.TotalQuote != "0" {
		t.Errorf("empty valuation: got (%s, %s)", got.TotalBase, got.TotalQuote)
	}
}

func TestOrdersEndpoint_MissingOwnerIs400(t *testing.T) {
	_, srv := newTestServer(t)
	getJSON(t, srv, "/v1/markets/vETH/orders", http.StatusBadRequest, nil)
}
