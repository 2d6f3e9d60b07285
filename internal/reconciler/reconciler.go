// Package reconciler implements the Position/Trade Reconciler (C7): it
// turns a strategy Buy/Sell signal into a position open, a position close
// plus trade record, or a suppressed no-op, depending on whether the user
// already has an open position in the signal's pair.
//
// Grounded on the teacher's execution/reconciler.go for the persistence-
// backed struct shape, and on original_source's position_service.rs for the
// open/close/suppress decision table itself.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/chainsignal/signalengine/internal/store"
	"github.com/chainsignal/signalengine/internal/strategy"
)

// Notifier delivers a human-readable message about a reconciliation
// outcome. internal/notify implements this over Telegram.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

// Reconciler is the C7 component. One instance serves every user.
type Reconciler struct {
	store      *store.Store
	notifier   Notifier
	defaultQty decimal.Decimal
}

// New creates a Reconciler backed by s, sending outcome notifications
// through n, defaulting position size to defaultQty when a user has no
// saved quantity preference.
func New(s *store.Store, n Notifier, defaultQty decimal.Decimal) *Reconciler {
	return &Reconciler{store: s, notifier: n, defaultQty: defaultQty}
}

// Handle implements worker.SignalHandler. It is invoked with every non-Hold
// signal a user's strategy emits.
func (r *Reconciler) Handle(ctx context.Context, userID int64, sig strategy.Signal) {
	switch sig.Kind {
	case strategy.Buy:
		r.handleBuy(ctx, userID, sig)
	case strategy.Sell:
		r.handleSell(ctx, userID, sig)
	default:
	}
}

func (r *Reconciler) handleBuy(ctx context.Context, userID int64, sig strategy.Signal) {
	existing, err := r.store.OpenPosition(userID, sig.Pair)
	if err != nil {
		// Fail-open: a lookup failure must not silently swallow a real buy
		// signal, so proceed as if no position were found.
		log.Error().Err(err).Int64("user", userID).Str("pair", sig.Pair).Msg("open-position lookup failed, proceeding with buy")
		existing = nil
	}

	suppressed := existing != nil
	status := "executed"
	if suppressed {
		status = "suppressed"
	}
	r.saveSignal(userID, store.NewID(), sig, "", status)

	if suppressed {
		log.Info().Int64("user", userID).Str("pair", sig.Pair).Msg("suppressing buy signal, position already open")
		return
	}

	settings, err := r.store.GetUserSettings(userID, r.defaultQty)
	qty := r.defaultQty
	if err == nil {
		qty = settings.SignalQuantity
	}

	price := decimal.NewFromFloat(sig.Price)
	pos := &store.Position{
		ID:           store.NewID(),
		UserID:       userID,
		Pair:         sig.Pair,
		Side:         "Buy",
		EntryPrice:   price,
		Quantity:     qty,
		EntryValue:   price.Mul(qty),
		CurrentPrice: price,
		Status:       "open",
		EntryTime:    time.Now(),
	}
	if err := r.store.CreatePosition(pos); err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("failed to persist new position")
		return
	}

	r.notify(ctx, userID, fmt.Sprintf("Buy %s @ %.4f (qty %s): %s", sig.Pair, sig.Price, qty.String(), sig.Reason))
}

func (r *Reconciler) handleSell(ctx context.Context, userID int64, sig strategy.Signal) {
	pos, lookupErr := r.store.OpenPosition(userID, sig.Pair)

	suppressed := lookupErr == nil && pos == nil
	status := "executed"
	if suppressed {
		status = "suppressed"
	}
	r.saveSignal(userID, store.NewID(), sig, "", status)

	if lookupErr != nil {
		// Fail-open, as for a buy: a lookup failure must not silently swallow
		// a real sell signal. With no position in hand there is nothing to
		// close and no trade to record, so only the notification goes out.
		log.Error().Err(lookupErr).Int64("user", userID).Str("pair", sig.Pair).Msg("open-position lookup failed, sending sell without closing a position")
		r.notify(ctx, userID, fmt.Sprintf("Sell %s @ %.4f: %s", sig.Pair, sig.Price, sig.Reason))
		return
	}
	if pos == nil {
		log.Info().Int64("user", userID).Str("pair", sig.Pair).Msg("suppressing sell signal, no open position")
		return
	}

	exitPrice := decimal.NewFromFloat(sig.Price)
	exitValue := exitPrice.Mul(pos.Quantity)
	pnl := exitValue.Sub(pos.EntryValue)
	pnlPercent := decimal.Zero
	if !pos.EntryValue.IsZero() {
		pnlPercent = pnl.Div(pos.EntryValue).Mul(decimal.NewFromInt(100))
	}

	now := time.Now()
	pos.Status = "closed"
	pos.CloseTime = &now
	pos.CurrentPrice = exitPrice
	pos.UnrealisedPnL = pnl
	pos.UnrealisedPnLPercent = pnlPercent
	if err := r.store.ClosePosition(pos); err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("failed to persist closed position")
		return
	}

	trade := &store.Trade{
		ID:          store.NewID(),
		UserID:      userID,
		PositionID:  pos.ID,
		Pair:        sig.Pair,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		EntryValue:  pos.EntryValue,
		ExitValue:   exitValue,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		EntryTime:   pos.EntryTime,
		ExitTime:    now,
		DurationS:   int64(now.Sub(pos.EntryTime).Seconds()),
	}
	if err := r.store.CreateTrade(trade); err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("failed to persist trade")
	}

	r.notify(ctx, userID, fmt.Sprintf("Sell %s @ %.4f, PnL %s (%s%%)", sig.Pair, sig.Price, pnl.StringFixed(2), pnlPercent.StringFixed(2)))
}

// saveSignal persists a StoredSignal row for every non-Hold signal the
// reconciler is handed, unconditionally and before any suppression check: a
// suppressed signal still gets a signals row, it just never moves a
// position.
func (r *Reconciler) saveSignal(userID int64, id string, sig strategy.Signal, relatedSignalID, status string) {
	s := &store.StoredSignal{
		ID:         id,
		UserID:     userID,
		Pair:       sig.Pair,
		Side:       string(sig.Kind),
		SignalType: string(sig.Kind),
		Price:      decimal.NewFromFloat(sig.Price),
		Confidence: decimal.NewFromFloat(sig.Confidence),
		Reason:     sig.Reason,
		Status:     status,
	}
	if relatedSignalID != "" {
		s.RelatedSignalID = &relatedSignalID
	}
	if err := r.store.SaveSignal(s); err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("failed to persist signal record")
	}
}

func (r *Reconciler) notify(ctx context.Context, userID int64, message string) {
	if r.notifier == nil {
		return
	}
	if settings, err := r.store.GetUserSettings(userID, r.defaultQty); err == nil && !settings.NotificationsOn {
		return
	}
	if err := r.notifier.Notify(ctx, userID, message); err != nil {
		log.Error().Err(err).Int64("user", userID).Msg("failed to send notification")
	}
}
