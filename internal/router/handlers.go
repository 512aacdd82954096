package router

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/algo/chase"
	"github.com/pms-engine/execcore/internal/algo/scalper"
	"github.com/pms-engine/execcore/internal/algo/trailstop"
	"github.com/pms-engine/execcore/internal/algo/twap"
	"github.com/pms-engine/execcore/internal/ordermanager"
	"github.com/pms-engine/execcore/internal/orderbook"
	"github.com/pms-engine/execcore/internal/positions"
	"github.com/pms-engine/execcore/internal/symbolfmt"
	"github.com/pms-engine/execcore/internal/validator"
)

// Deps are the collaborators the default queue handlers dispatch into.
type Deps struct {
	Logger     *zap.Logger
	Manager    *ordermanager.Manager
	Book       *positions.Book
	Prices     validator.PriceLookup
	Supervisor *AlgoSupervisor
}

// QueueNames lists every queue RegisterDefaults binds, for wiring a
// CommandSource that needs to know what to subscribe to up front.
var QueueNames = []string{
	"trade", "limit", "scale", "close", "close_all", "cancel", "cancel_all",
	"basket", "chase", "chase_cancel", "scalper", "scalper_cancel",
	"twap", "twap_basket", "twap_cancel", "trail_stop", "trail_stop_cancel",
	"validate",
}

// RegisterDefaults binds every standard queue name to its handler.
func RegisterDefaults(r *Router, d Deps) {
	r.Register("trade", d.handleTrade)
	r.Register("limit", d.handleLimit)
	r.Register("scale", d.handleScale)
	r.Register("close", d.handleClose)
	r.Register("close_all", d.handleCloseAll)
	r.Register("cancel", d.handleCancel)
	r.Register("cancel_all", d.handleCancelAll)
	r.Register("basket", d.handleBasket)
	r.Register("chase", d.handleChase)
	r.Register("chase_cancel", d.handleChaseCancel)
	r.Register("scalper", d.handleScalper)
	r.Register("scalper_cancel", d.handleScalperCancel)
	r.Register("twap", d.handleTWAP)
	r.Register("twap_basket", d.handleTWAPBasket)
	r.Register("twap_cancel", d.handleTWAPCancel)
	r.Register("trail_stop", d.handleTrailStop)
	r.Register("trail_stop_cancel", d.handleTrailStopCancel)
	r.Register("validate", d.handleValidate)
}

type tradeRequest struct {
	SubAccountID string  `json:"subAccountId"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
	Leverage     float64 `json:"leverage"`
	ReduceOnly   bool    `json:"reduceOnly"`
	Price        float64 `json:"price"`
}

func (d Deps) handleTrade(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req tradeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	side := symbolfmt.OrderSide(req.Side)
	o, err := d.Manager.PlaceMarket(ctx, req.SubAccountID, req.Symbol, side, req.Quantity, req.Leverage,
		orderbook.OriginManual, "", req.ReduceOnly, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"clientOrderId": o.ClientOrderID, "state": string(o.Status)}, nil
}

func (d Deps) handleLimit(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req tradeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	side := symbolfmt.OrderSide(req.Side)
	o, err := d.Manager.PlaceLimit(ctx, req.SubAccountID, req.Symbol, side, req.Quantity, req.Price, req.Leverage,
		orderbook.OriginManual, "", req.ReduceOnly, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"clientOrderId": o.ClientOrderID, "state": string(o.Status)}, nil
}

type scaleRequest struct {
	SubAccountID string  `json:"subAccountId"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Leverage     float64 `json:"leverage"`
	Levels       []struct {
		Price    float64 `json:"price"`
		Quantity float64 `json:"quantity"`
	} `json:"levels"`
}

func (d Deps) handleScale(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req scaleRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	levels := make([]struct{ Price, Quantity float64 }, len(req.Levels))
	for i, lvl := range req.Levels {
		levels[i] = struct{ Price, Quantity float64 }{Price: lvl.Price, Quantity: lvl.Quantity}
	}
	side := symbolfmt.OrderSide(req.Side)
	orders, err := d.Manager.PlaceBatchLimits(ctx, req.SubAccountID, req.Symbol, side, levels, req.Leverage, orderbook.OriginManual, "")
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(orders))
	for i, o := range orders {
		out[i] = map[string]interface{}{"clientOrderId": o.ClientOrderID, "price": o.LimitPrice}
	}
	return map[string]interface{}{"orders": out}, nil
}

type closeRequest struct {
	SubAccountID string  `json:"subAccountId"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
}

func (d Deps) handleClose(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req closeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	side := symbolfmt.OrderSide(req.Side)
	positionSide := symbolfmt.OppositePositionSide(symbolfmt.ToPositionSide(side))

	p, ok := d.Book.FindPosition(req.SubAccountID, req.Symbol, positionSide)
	if !ok {
		return map[string]interface{}{"success": true, "staleCleanup": true}, nil
	}

	o, err := d.Manager.PlaceMarket(ctx, req.SubAccountID, req.Symbol, side, req.Quantity, p.Leverage,
		orderbook.OriginManual, "", true, nil, nil)
	if err != nil {
		return map[string]interface{}{"success": true, "staleCleanup": true, "positionId": p.ID}, nil
	}
	return map[string]interface{}{"clientOrderId": o.ClientOrderID, "state": string(o.Status)}, nil
}

type closeAllRequest struct {
	SubAccountID string `json:"subAccountId"`
}

func (d Deps) handleCloseAll(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req closeAllRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	for _, p := range d.Book.Positions(req.SubAccountID) {
		side := symbolfmt.Opposite(symbolfmt.ToOrderSide(string(p.Side)))
		d.Manager.PlaceMarket(ctx, req.SubAccountID, p.Symbol, side, p.Quantity, p.Leverage, orderbook.OriginManual, "", true, nil, nil)
	}
	return map[string]interface{}{}, nil
}

type cancelRequest struct {
	ClientOrderID string `json:"clientOrderId"`
}

func (d Deps) handleCancel(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req cancelRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	_, err := d.Manager.Cancel(ctx, req.ClientOrderID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type cancelAllRequest struct {
	Symbol       string `json:"symbol"`
	SubAccountID string `json:"subAccountId"`
}

func (d Deps) handleCancelAll(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req cancelAllRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if req.Symbol != "" {
		d.Manager.CancelAllForSymbol(ctx, req.Symbol)
	} else {
		d.Manager.CancelAllForAccount(ctx, req.SubAccountID)
	}
	return map[string]interface{}{}, nil
}

type basketRequest struct {
	SubAccountID string         `json:"subAccountId"`
	Items        []tradeRequest `json:"items"`
}

func (d Deps) handleBasket(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req basketRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	results := make([]map[string]interface{}, 0, len(req.Items))
	for _, item := range req.Items {
		if item.SubAccountID == "" {
			item.SubAccountID = req.SubAccountID
		}
		side := symbolfmt.OrderSide(item.Side)
		o, err := d.Manager.PlaceMarket(ctx, item.SubAccountID, item.Symbol, side, item.Quantity, item.Leverage,
			orderbook.OriginBasket, "", item.ReduceOnly, nil, nil)
		if err != nil {
			results = append(results, map[string]interface{}{"success": false, "error": err.Error()})
			continue
		}
		results = append(results, map[string]interface{}{"success": true, "clientOrderId": o.ClientOrderID})
	}
	return map[string]interface{}{"items": results}, nil
}

type chaseRequest struct {
	SubAccountID   string  `json:"subAccountId"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Quantity       float64 `json:"quantity"`
	Leverage       float64 `json:"leverage"`
	StalkMode      string  `json:"stalkMode"`
	StalkOffsetPct float64 `json:"stalkOffsetPct"`
	MaxDistancePct float64 `json:"maxDistancePct"`
	ReduceOnly     bool    `json:"reduceOnly"`
}

func (d Deps) handleChase(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req chaseRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	id, err := d.Supervisor.StartChase(ctx, req.SubAccountID, chase.Params{
		Symbol: req.Symbol, Side: symbolfmt.OrderSide(req.Side), Quantity: req.Quantity, Leverage: req.Leverage,
		StalkMode: chase.StalkMode(req.StalkMode), StalkOffsetPct: req.StalkOffsetPct,
		MaxDistancePct: req.MaxDistancePct, ReduceOnly: req.ReduceOnly,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"chaseId": id}, nil
}

type idRequest struct {
	ChaseID      string `json:"chaseId"`
	ScalperID    string `json:"scalperId"`
	TwapID       string `json:"twapId"`
	TrailStopID  string `json:"trailStopId"`
}

func (d Deps) handleChaseCancel(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req idRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := d.Supervisor.CancelChase(ctx, req.ChaseID); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type scalperRequest struct {
	SubAccountID      string  `json:"subAccountId"`
	Symbol            string  `json:"symbol"`
	StartSide         string  `json:"startSide"`
	ChildCount        int     `json:"childCount"`
	Skew              float64 `json:"skew"`
	LongOffsetPct     float64 `json:"longOffsetPct"`
	ShortOffsetPct    float64 `json:"shortOffsetPct"`
	LongSizeUSD       float64 `json:"longSizeUsd"`
	ShortSizeUSD      float64 `json:"shortSizeUsd"`
	LongMaxPrice      float64 `json:"longMaxPrice"`
	ShortMinPrice     float64 `json:"shortMinPrice"`
	NeutralMode       bool    `json:"neutralMode"`
	MinFillSpreadPct  float64 `json:"minFillSpreadPct"`
	FillDecayHalfLifeS float64 `json:"fillDecayHalfLifeSeconds"`
	MaxFillsPerMinute int     `json:"maxFillsPerMinute"`
	MinRefillDelayMs  float64 `json:"minRefillDelayMs"`
}

func (d Deps) handleScalper(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req scalperRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	id, err := d.Supervisor.StartScalper(ctx, req.SubAccountID, scalper.Params{
		Symbol: req.Symbol, StartSide: symbolfmt.PositionSide(req.StartSide), ChildCount: req.ChildCount, Skew: req.Skew,
		LongOffsetPct: req.LongOffsetPct, ShortOffsetPct: req.ShortOffsetPct,
		LongSizeUSD: req.LongSizeUSD, ShortSizeUSD: req.ShortSizeUSD,
		LongMaxPrice: req.LongMaxPrice, ShortMinPrice: req.ShortMinPrice, NeutralMode: req.NeutralMode,
		MinFillSpreadPct: req.MinFillSpreadPct, FillDecayHalfLife: time.Duration(req.FillDecayHalfLifeS * float64(time.Second)),
		MaxFillsPerMinute: req.MaxFillsPerMinute, MinRefillDelayMs: req.MinRefillDelayMs,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"scalperId": id}, nil
}

func (d Deps) handleScalperCancel(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req struct {
		idRequest
		ClosePositions bool    `json:"closePositions"`
		RemainingQty   float64 `json:"remainingQuantity"`
		RemainingSide  string  `json:"remainingSide"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := d.Supervisor.CancelScalper(ctx, req.ScalperID, req.ClosePositions, req.RemainingQty, symbolfmt.OrderSide(req.RemainingSide)); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type twapRequest struct {
	SubAccountID    string  `json:"subAccountId"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Quantity        float64 `json:"quantity"`
	NumLots         int     `json:"numLots"`
	IntervalSeconds float64 `json:"intervalSeconds"`
	JitterPct       float64 `json:"jitterPct"`
	Irregular       bool    `json:"irregular"`
	PriceLimit      float64 `json:"priceLimit"`
	Leverage        float64 `json:"leverage"`
}

func (d Deps) handleTWAP(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req twapRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	id, err := d.Supervisor.StartTWAP(ctx, req.SubAccountID, twap.Params{
		Symbol: req.Symbol, Side: symbolfmt.OrderSide(req.Side), TotalQuantity: req.Quantity, NumLots: req.NumLots,
		IntervalSeconds: req.IntervalSeconds, JitterPct: req.JitterPct, Irregular: req.Irregular,
		PriceLimit: req.PriceLimit, Leverage: req.Leverage,
	}, time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"twapId": id}, nil
}

type twapBasketRequest struct {
	SubAccountID string        `json:"subAccountId"`
	Legs         []twapRequest `json:"legs"`
}

func (d Deps) handleTWAPBasket(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req twapBasketRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(req.Legs))
	for i, leg := range req.Legs {
		if leg.SubAccountID == "" {
			leg.SubAccountID = req.SubAccountID
		}
		id, err := d.Supervisor.StartTWAP(ctx, leg.SubAccountID, twap.Params{
			Symbol: leg.Symbol, Side: symbolfmt.OrderSide(leg.Side), TotalQuantity: leg.Quantity, NumLots: leg.NumLots,
			IntervalSeconds: leg.IntervalSeconds, JitterPct: leg.JitterPct, Irregular: leg.Irregular,
			PriceLimit: leg.PriceLimit, Leverage: leg.Leverage,
		}, time.Now().UnixNano()+int64(i))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return map[string]interface{}{"twapIds": ids}, nil
}

func (d Deps) handleTWAPCancel(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req idRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := d.Supervisor.CancelTWAP(req.TwapID); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type trailStopRequest struct {
	SubAccountID   string  `json:"subAccountId"`
	Symbol         string  `json:"symbol"`
	PositionSide   string  `json:"positionSide"`
	Quantity       float64 `json:"quantity"`
	TrailPct       float64 `json:"trailPct"`
	ActivationPrice float64 `json:"activationPrice"`
}

func (d Deps) handleTrailStop(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req trailStopRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	id, err := d.Supervisor.StartTrailStop(ctx, req.SubAccountID, trailstop.Params{
		Symbol: req.Symbol, Side: symbolfmt.PositionSide(req.PositionSide), TrailPct: req.TrailPct, ActivatePx: req.ActivationPrice,
	}, req.Quantity)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"trailStopId": id}, nil
}

func (d Deps) handleTrailStopCancel(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req idRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	if err := d.Supervisor.CancelTrailStop(req.TrailStopID); err != nil {
		return nil, err
	}
	return map[string]interface{}{}, nil
}

type validateRequest struct {
	SubAccountID string  `json:"subAccountId"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
	Leverage     float64 `json:"leverage"`
}

func (d Deps) handleValidate(ctx context.Context, payload json.RawMessage) (map[string]interface{}, error) {
	var req validateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	positionSide := symbolfmt.ToPositionSide(symbolfmt.OrderSide(req.Side))
	result := validator.Validate(d.Book, d.Prices, req.SubAccountID, req.Symbol, positionSide, req.Quantity, req.Leverage)
	return map[string]interface{}{
		"valid":  result.Valid,
		"errors": result.Findings,
		"computed": map[string]interface{}{
			"notional":         result.Computed.Notional,
			"leverage":         result.Computed.Leverage,
			"newExposure":      result.Computed.NewExposure,
			"availableMargin":  result.Computed.AvailableMargin,
			"marginUsageRatio": result.Computed.MarginUsageRatio,
		},
	}, nil
}
