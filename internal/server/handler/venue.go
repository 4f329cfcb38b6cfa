package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xarb/internal/domain"
	"github.com/alanyoungcy/xarb/internal/exchange"
)

// VenueSource looks venues up and places operator probe orders.
type VenueSource interface {
	Venue(name string) (exchange.Exchange, bool)
	TestOrder(ctx context.Context, name string, side domain.OrderSide, amount decimal.Decimal) (domain.Outcome, error)
}

// VenueHandler serves per-venue dumps, candles and probe orders.
type VenueHandler struct {
	src        VenueSource
	testAmount decimal.Decimal
	logger     *slog.Logger
}

// NewVenueHandler creates a VenueHandler. testAmount is the size of every
// probe order.
func NewVenueHandler(src VenueSource, testAmount decimal.Decimal, logger *slog.Logger) *VenueHandler {
	return &VenueHandler{
		src:        src,
		testAmount: testAmount,
		logger:     logger.With(slog.String("handler", "venue")),
	}
}

// GetVenue responds with the venue's books, open orders and balances.
// GET /api/venues/{name}
func (h *VenueHandler) GetVenue(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

// ListCandles responds with the venue's candles, oldest first.
// GET /api/venues/{name}/candles
func (h *VenueHandler) ListCandles(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	candles := v.Candles()
	if candles == nil {
		candles = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":   v.Name(),
		"candles": candles,
	})
}

// PlaceTestOrder crosses the top of the book with a small order and waits
// for its outcome.
// POST /api/venues/{name}/test-order?side=buy|sell
func (h *VenueHandler) PlaceTestOrder(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var side domain.OrderSide
	switch strings.ToLower(r.URL.Query().Get("side")) {
	case "buy":
		side = domain.OrderSideBuy
	case "sell":
		side = domain.OrderSideSell
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}

	out, err := h.src.TestOrder(r.Context(), name, side, h.testAmount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "test order failed",
			slog.String("venue", name),
			slog.String("side", string(side)),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":   name,
		"side":    side,
		"amount":  h.testAmount,
		"outcome": out,
	})
}

func (h *VenueHandler) lookup(w http.ResponseWriter, r *http.Request) (exchange.Exchange, bool) {
	name := r.PathValue("name")
	v, ok := h.src.Venue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown venue "+name)
	}
	return v, ok
}
