package strategy

import (
	"fmt"

	"github.com/chainsignal/signalengine/internal/candle"
	"github.com/chainsignal/signalengine/internal/indicators"
)

// SignalKind is the outcome of processing one closed candle.
type SignalKind string

const (
	Buy  SignalKind = "Buy"
	Sell SignalKind = "Sell"
	Hold SignalKind = "Hold"
)

// Signal is what a StrategyInstance emits per closed candle. A Hold signal
// is never sent onward to the reconciler or a notification sink; it exists
// only so callers can log/observe non-events.
//
// Shape grounded on the teacher's strategy/interface.go Signal/SignalBuilder,
// generalized from a Polymarket YES/NO market call to a plain Buy/Sell/Hold.
type Signal struct {
	Kind       SignalKind
	Pair       string
	Price      float64
	Confidence float64
	Reason     string
}

// Instance is a running strategy: one indicator set (or, for Mixed, a set of
// sub-instances) bound to a single user+pair+timeframe, holding enough
// state to suppress repeated signals of the same kind.
type Instance struct {
	cfg Config

	rsi  *indicators.RSI
	macd *indicators.MACD
	ema  *indicators.EMA // "fast" leg for EMA/MA/SMA crossover strategies
	sma  *indicators.SMA // "slow" leg for EMA/MA/SMA crossover strategies
	bb   *indicators.BollingerBands
	sto  *indicators.Stochastic
	adx  *indicators.ADX

	subInstances []*Instance

	lastKind SignalKind
}

// NewInstance builds a running strategy instance from a validated Config.
func NewInstance(cfg Config) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}

	inst := &Instance{cfg: cfg, lastKind: Hold}

	switch cfg.Type {
	case KindRSI:
		inst.rsi = indicators.NewRSI(int(paramOr(cfg.Parameters, "period", 14)))
	case KindMACD:
		inst.macd = indicators.NewMACD(
			int(paramOr(cfg.Parameters, "fast", 12)),
			int(paramOr(cfg.Parameters, "slow", 26)),
			int(paramOr(cfg.Parameters, "signal", 9)),
		)
	case KindEMA, KindMA, KindSMA:
		fast := int(paramOr(cfg.Parameters, "fast", 12))
		slow := int(paramOr(cfg.Parameters, "slow", 26))
		inst.ema = indicators.NewEMA(fast)
		inst.sma = indicators.NewSMA(slow)
	case KindBB:
		inst.bb = indicators.NewBollingerBands(
			int(paramOr(cfg.Parameters, "period", 20)),
			paramOr(cfg.Parameters, "std", 2),
		)
	case KindStochastic:
		inst.sto = indicators.NewStochastic(
			int(paramOr(cfg.Parameters, "period", 14)),
			int(paramOr(cfg.Parameters, "smooth_k", 3)),
			int(paramOr(cfg.Parameters, "smooth_d", 3)),
		)
	case KindADX:
		inst.adx = indicators.NewADX(int(paramOr(cfg.Parameters, "period", 14)))
	case KindMixed:
		for _, sub := range cfg.SubConfigs {
			subInst, err := NewInstance(sub)
			if err != nil {
				return nil, err
			}
			inst.subInstances = append(inst.subInstances, subInst)
		}
	}

	return inst, nil
}

// OnClosedCandle feeds one closed candle and returns the (possibly Hold)
// signal for this instance. Duplicate non-Hold signals of the same kind as
// the last emitted signal are suppressed down to Hold, per the spec's "only
// send a signal when signal type changes" rule (mirrored from
// original_source's process_price duplicate-suppression).
func (inst *Instance) OnClosedCandle(c candle.Closed) Signal {
	kind, reason, confidence := inst.evaluate(c)

	if kind != Hold && kind == inst.lastKind {
		return Signal{Kind: Hold, Pair: inst.cfg.Pair, Price: c.Close}
	}
	if kind != Hold {
		inst.lastKind = kind
	}

	return Signal{
		Kind:       kind,
		Pair:       inst.cfg.Pair,
		Price:      c.Close,
		Confidence: confidence,
		Reason:     reason,
	}
}

func (inst *Instance) evaluate(c candle.Closed) (SignalKind, string, float64) {
	switch inst.cfg.Type {
	case KindRSI:
		return inst.evaluateRSI(c)
	case KindMACD:
		return inst.evaluateMACD(c)
	case KindEMA, KindMA, KindSMA:
		return inst.evaluateCrossover(c)
	case KindBB:
		return inst.evaluateBollinger(c)
	case KindStochastic:
		return inst.evaluateStochastic(c)
	case KindADX:
		return inst.evaluateADX(c)
	case KindMixed:
		return inst.evaluateMixed(c)
	default:
		return Hold, "", 0
	}
}

func (inst *Instance) evaluateRSI(c candle.Closed) (SignalKind, string, float64) {
	value, ready := inst.rsi.Update(c.Close)
	if !ready {
		return Hold, "", 0
	}

	buyCond := inst.cfg.BuyCondition
	if buyCond == "" {
		buyCond = fmt.Sprintf("rsi < %v", extractThreshold("", 30))
	}
	sellCond := inst.cfg.SellCondition
	if sellCond == "" {
		sellCond = fmt.Sprintf("rsi > %v", extractThreshold("", 70))
	}

	values := map[string]float64{"rsi": value}
	if ok, _ := evaluateCondition(buyCond, values); ok {
		return Buy, fmt.Sprintf("rsi=%.2f satisfies %q", value, buyCond), confidenceFromDistance(30-value, 30)
	}
	if ok, _ := evaluateCondition(sellCond, values); ok {
		return Sell, fmt.Sprintf("rsi=%.2f satisfies %q", value, sellCond), confidenceFromDistance(value-70, 30)
	}
	return Hold, "", 0
}

func (inst *Instance) evaluateMACD(c candle.Closed) (SignalKind, string, float64) {
	res, ready := inst.macd.Update(c.Close)
	if !ready {
		return Hold, "", 0
	}
	// Fixed rule per original_source's MacdConfig: entry when the line is
	// above its signal (or histogram already positive), exit on the mirror.
	if res.Line > res.Signal || res.Histogram > 0 {
		return Buy, fmt.Sprintf("macd histogram=%.4f", res.Histogram), confidenceFromDistance(res.Histogram, 1)
	}
	if res.Line < res.Signal || res.Histogram < 0 {
		return Sell, fmt.Sprintf("macd histogram=%.4f", res.Histogram), confidenceFromDistance(-res.Histogram, 1)
	}
	return Hold, "", 0
}

func (inst *Instance) evaluateCrossover(c candle.Closed) (SignalKind, string, float64) {
	fastVal, fastReady := inst.ema.Update(c.Close)
	slowVal, slowReady := inst.sma.Update(c.Close)
	if !fastReady || !slowReady {
		return Hold, "", 0
	}
	if fastVal > slowVal {
		return Buy, fmt.Sprintf("fast=%.4f above slow=%.4f", fastVal, slowVal), confidenceFromDistance(fastVal-slowVal, slowVal*0.02)
	}
	if fastVal < slowVal {
		return Sell, fmt.Sprintf("fast=%.4f below slow=%.4f", fastVal, slowVal), confidenceFromDistance(slowVal-fastVal, slowVal*0.02)
	}
	return Hold, "", 0
}

func (inst *Instance) evaluateBollinger(c candle.Closed) (SignalKind, string, float64) {
	res, ready := inst.bb.Update(c.Close)
	if !ready {
		return Hold, "", 0
	}
	if c.Close <= res.Lower {
		return Buy, fmt.Sprintf("close=%.4f at/below lower band=%.4f", c.Close, res.Lower), confidenceFromDistance(res.Lower-c.Close, res.Middle*0.02)
	}
	if c.Close >= res.Upper {
		return Sell, fmt.Sprintf("close=%.4f at/above upper band=%.4f", c.Close, res.Upper), confidenceFromDistance(c.Close-res.Upper, res.Middle*0.02)
	}
	return Hold, "", 0
}

func (inst *Instance) evaluateStochastic(c candle.Closed) (SignalKind, string, float64) {
	res, ready := inst.sto.Update(c.High, c.Low, c.Close)
	if !ready {
		return Hold, "", 0
	}
	lowThreshold := extractThreshold(inst.cfg.BuyCondition, 20)
	highThreshold := extractThreshold(inst.cfg.SellCondition, 80)
	if res.K < lowThreshold && res.D < lowThreshold {
		return Buy, fmt.Sprintf("%%K=%.2f %%D=%.2f below %v", res.K, res.D, lowThreshold), confidenceFromDistance(lowThreshold-res.K, lowThreshold)
	}
	if res.K > highThreshold && res.D > highThreshold {
		return Sell, fmt.Sprintf("%%K=%.2f %%D=%.2f above %v", res.K, res.D, highThreshold), confidenceFromDistance(res.K-highThreshold, 100-highThreshold)
	}
	return Hold, "", 0
}

func (inst *Instance) evaluateADX(c candle.Closed) (SignalKind, string, float64) {
	value, ready := inst.adx.Update(c.High, c.Low, c.Close)
	if !ready {
		return Hold, "", 0
	}
	// ADX is entry-only per original_source's AdxConfig: it signals trend
	// strength, not direction, so it never emits Sell.
	threshold := extractThreshold(inst.cfg.BuyCondition, 25)
	if value > threshold {
		return Buy, fmt.Sprintf("adx=%.2f above %v", value, threshold), confidenceFromDistance(value-threshold, 50)
	}
	return Hold, "", 0
}

func (inst *Instance) evaluateMixed(c candle.Closed) (SignalKind, string, float64) {
	buys, sells, total := 0, 0, len(inst.subInstances)
	var reasons []string
	for _, sub := range inst.subInstances {
		// Evaluate each sub-instance's raw condition directly rather than
		// through its own OnClosedCandle: duplicate-signal suppression is
		// applied once, by this Mixed instance's own OnClosedCandle call, not
		// per sub. Suppressing at the sub level would silently drop a sub's
		// vote on every candle after its first, even while its underlying
		// condition remains true, starving "all"/"majority" combinators.
		kind, reason, _ := sub.evaluate(c)
		switch kind {
		case Buy:
			buys++
			reasons = append(reasons, string(sub.cfg.Type)+":Buy("+reason+")")
		case Sell:
			sells++
			reasons = append(reasons, string(sub.cfg.Type)+":Sell("+reason+")")
		}
	}

	kind := combine(inst.cfg.Combinator, buys, sells, total)
	if kind == Hold {
		return Hold, "", 0
	}
	confidence := float64(max(buys, sells)) / float64(total)
	return kind, fmt.Sprintf("mixed(%s) votes=%v", inst.cfg.Combinator, reasons), confidence
}

func combine(c Combinator, buys, sells, total int) SignalKind {
	if buys > 0 && sells > 0 {
		// Contradictory sub-signals never produce a directional call.
		return Hold
	}
	switch c {
	case CombinatorAll:
		if buys == total {
			return Buy
		}
		if sells == total {
			return Sell
		}
	case CombinatorAny:
		if buys > 0 {
			return Buy
		}
		if sells > 0 {
			return Sell
		}
	case CombinatorMajority:
		if buys*2 > total {
			return Buy
		}
		if sells*2 > total {
			return Sell
		}
	}
	return Hold
}

// confidenceFromDistance maps a non-negative distance past a threshold to a
// [0,1] confidence score, saturating at scale.
func confidenceFromDistance(distance, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	v := distance / scale
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
