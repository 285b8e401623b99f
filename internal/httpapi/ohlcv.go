package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"jax-marketdata-core/internal/bars"
)

// Fetcher is the subset of *internal/orchestrator.Orchestrator the OHLCV
// handler needs.
type Fetcher interface {
	Fetch(ctx context.Context, asset bars.Asset, timeframe bars.Timeframe, since, before *int64, limit int) ([]bars.Bar, error)
}

// ProviderCatalog answers the GET /symbols and GET /providers queries of
// spec.md §6.
type ProviderCatalog interface {
	Providers(market string) []string
	Symbols(ctx context.Context, market, provider string) ([]string, error)
}

type ohlcvResponse struct {
	OHLC   [][5]float64 `json:"ohlc"`
	Volume [][2]float64 `json:"volume"`
}

// RegisterOHLCV attaches GET /ohlcv, GET /symbols, GET /providers to the
// server's router.
func (s *Server) RegisterOHLCV(fetcher Fetcher, catalog ProviderCatalog) {
	s.router.HandleFunc("/ohlcv", handleOHLCV(fetcher)).Methods(http.MethodGet)
	s.router.HandleFunc("/symbols", handleSymbols(catalog)).Methods(http.MethodGet)
	s.router.HandleFunc("/providers", handleProviders(catalog)).Methods(http.MethodGet)
}

func handleOHLCV(fetcher Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		market, provider, symbol := q.Get("market"), q.Get("provider"), q.Get("symbol")
		timeframeRaw := q.Get("timeframe")
		if market == "" || provider == "" || symbol == "" || timeframeRaw == "" {
			writeError(w, http.StatusBadRequest, "market, provider, symbol and timeframe are required")
			return
		}
		tf, err := bars.ParseTimeframe(timeframeRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		since, err := optionalInt64(q, "since")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		until, err := optionalInt64(q, "until")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until")
			return
		}
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		asset := bars.Asset{Market: market, Provider: provider, Symbol: symbol}
		result, err := fetcher.Fetch(r.Context(), asset, tf, since, until, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := ohlcvResponse{OHLC: make([][5]float64, 0, len(result)), Volume: make([][2]float64, 0, len(result))}
		for _, b := range result {
			ts := float64(b.Timestamp)
			resp.OHLC = append(resp.OHLC, [5]float64{ts, b.Open, b.High, b.Low, b.Close})
			resp.Volume = append(resp.Volume, [2]float64{ts, b.Volume})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSymbols(catalog ProviderCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		market, provider := q.Get("market"), q.Get("provider")
		if market == "" || provider == "" {
			writeError(w, http.StatusBadRequest, "market and provider are required")
			return
		}
		symbols, err := catalog.Symbols(r.Context(), market, provider)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, symbols)
	}
}

func handleProviders(catalog ProviderCatalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		market := r.URL.Query().Get("market")
		if market == "" {
			writeError(w, http.StatusBadRequest, "market is required")
			return
		}
		writeJSON(w, http.StatusOK, catalog.Providers(market))
	}
}

func optionalInt64(q map[string][]string, key string) (*int64, error) {
	raw := ""
	if vs, ok := q[key]; ok && len(vs) > 0 {
		raw = vs[0]
	}
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
