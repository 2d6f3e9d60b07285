// Package strategy implements the Strategy Instance (C2): per-user
// stateful indicator sets wired to a buy/sell condition, consuming
// closed candles and emitting Buy/Sell/Hold signals.
//
// The condition-string parser and fixed band/cross rules follow
// original_source's bot/src/services/strategy_engine/indicator_configs.rs
// (substring + operator scan, default thresholds per indicator); the
// Signal/SignalBuilder shape follows the teacher's strategy/interface.go,
// generalized from Polymarket YES/NO sides to Buy/Sell/Hold.
package strategy

import "fmt"

// Kind enumerates the supported strategy types.
type Kind string

const (
	KindRSI        Kind = "RSI"
	KindMACD       Kind = "MACD"
	KindEMA        Kind = "EMA"
	KindMA         Kind = "MA"
	KindSMA        Kind = "SMA"
	KindBB         Kind = "BollingerBands"
	KindStochastic Kind = "Stochastic"
	KindADX        Kind = "ADX"
	KindMixed      Kind = "Mixed"
)

// Combinator is how a Mixed strategy aggregates its sub-results.
type Combinator string

const (
	CombinatorAll      Combinator = "all"
	CombinatorAny      Combinator = "any"
	CombinatorMajority Combinator = "majority"
)

// Config is the validated, user-supplied strategy configuration (the
// spec's StrategyConfig entity).
type Config struct {
	Type          Kind               `json:"type"`
	Parameters    map[string]float64 `json:"parameters,omitempty"`
	Exchange      string             `json:"exchange,omitempty"`
	Pair          string             `json:"pair"`
	Timeframe     string             `json:"timeframe"`
	BuyCondition  string             `json:"buy_condition,omitempty"`
	SellCondition string             `json:"sell_condition,omitempty"`

	// Mixed-only fields.
	SubConfigs []Config   `json:"sub_configs,omitempty"`
	Combinator Combinator `json:"combinator,omitempty"`
}

// Validate applies the spec's §4.4 validation rules. It must be called
// both when a user starts a strategy and when a saved Config is
// deserialized from the session store.
func (c Config) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("strategy type is required")
	}
	if c.Pair == "" {
		return fmt.Errorf("pair is required")
	}

	switch c.Type {
	case KindRSI:
		if err := inRange(c.Parameters, "period", 1, 100, 14); err != nil {
			return err
		}
	case KindMACD:
		fast := paramOr(c.Parameters, "fast", 12)
		slow := paramOr(c.Parameters, "slow", 26)
		signal := paramOr(c.Parameters, "signal", 9)
		if fast < 1 || fast > 50 {
			return fmt.Errorf("MACD fast period out of range [1,50]: %v", fast)
		}
		if slow < 1 || slow > 200 {
			return fmt.Errorf("MACD slow period out of range [1,200]: %v", slow)
		}
		if signal < 1 || signal > 50 {
			return fmt.Errorf("MACD signal period out of range [1,50]: %v", signal)
		}
		if fast >= slow {
			return fmt.Errorf("MACD fast period must be less than slow period")
		}
	case KindBB:
		if err := inRange(c.Parameters, "period", 1, 200, 20); err != nil {
			return err
		}
		std := paramOr(c.Parameters, "std", 2)
		if std <= 0 || std > 5 {
			return fmt.Errorf("BollingerBands std out of range (0,5]: %v", std)
		}
	case KindEMA, KindMA, KindSMA:
		if err := inRange(c.Parameters, "period", 1, 500, 20); err != nil {
			return err
		}
	case KindStochastic:
		if err := inRange(c.Parameters, "period", 1, 200, 14); err != nil {
			return err
		}
		if err := inRange(c.Parameters, "smooth_k", 1, 50, 3); err != nil {
			return err
		}
		if err := inRange(c.Parameters, "smooth_d", 1, 50, 3); err != nil {
			return err
		}
	case KindADX:
		if err := inRange(c.Parameters, "period", 1, 200, 14); err != nil {
			return err
		}
	case KindMixed:
		if len(c.SubConfigs) == 0 {
			return fmt.Errorf("Mixed strategy requires at least one sub-config")
		}
		switch c.Combinator {
		case CombinatorAll, CombinatorAny, CombinatorMajority:
		default:
			return fmt.Errorf("Mixed strategy combinator must be one of all/any/majority")
		}
		for i, sub := range c.SubConfigs {
			if sub.Type == KindMixed {
				return fmt.Errorf("Mixed sub-config %d may not itself be Mixed", i)
			}
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("Mixed sub-config %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown strategy type %q", c.Type)
	}

	// Timeframes outside candle.ValidTimeframes are accepted; candle.ParseTimeframe
	// is the only hard gate, applied when the strategy's executor entry is built.

	return nil
}

func paramOr(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

func inRange(params map[string]float64, key string, lo, hi, def float64) error {
	v := paramOr(params, key, def)
	if v < lo || v > hi {
		return fmt.Errorf("%s out of range [%v,%v]: %v", key, lo, hi, v)
	}
	return nil
}
