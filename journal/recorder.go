package journal

import (
	"context"
	"log/slog"
	"time"

	"vaultd/engine"
)

// EventRecorder copies committed engine events into the journal. Write
// failures are logged, never surfaced to the operation that emitted the
// event.
type EventRecorder struct {
	journal *Journal
	log     *slog.Logger
	timeout time.Duration
}

// NewEventRecorder wires a journal behind the engine's emitter interface.
func NewEventRecorder(j *Journal, log *slog.Logger) *EventRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &EventRecorder{journal: j, log: log, timeout: 5 * time.Second}
}

// Emit persists one committed event.
func (r *EventRecorder) Emit(ev engine.Event) {
	if r == nil || r.journal == nil || ev == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	attrs := ev.Attributes()
	var err error
	switch ev.EventType() {
	case engine.TypeCollateralDeposited:
		err = r.journal.RecordOperation(ctx, OperationRecord{
			Kind:    KindDeposit,
			Account: attrs["account"],
			Asset:   attrs["asset"],
			Amount:  attrs["amount"],
		})
	case engine.TypeZUSDMinted:
		err = r.journal.RecordOperation(ctx, OperationRecord{
			Kind:    KindMint,
			Account: attrs["account"],
			Amount:  attrs["amount"],
		})
	case engine.TypeZUSDBurned:
		err = r.journal.RecordOperation(ctx, OperationRecord{
			Kind:    KindBurn,
			Account: attrs["account"],
			Amount:  attrs["amount"],
		})
	case engine.TypeCollateralRedeemed:
		err = r.journal.RecordOperation(ctx, OperationRecord{
			Kind:    KindRedeem,
			Account: attrs["account"],
			Asset:   attrs["asset"],
			Amount:  attrs["amount"],
		})
	case engine.TypePositionLiquidated:
		err = r.journal.RecordLiquidation(ctx, LiquidationRecord{
			Liquidator:  attrs["liquidator"],
			Account:     attrs["account"],
			Asset:       attrs["asset"],
			DebtCovered: attrs["debt_covered"],
			Seized:      attrs["seized"],
			StartHealth: attrs["start_health"],
			EndHealth:   attrs["end_health"],
		})
	default:
		return
	}
	if err != nil {
		r.log.Error("journal event write failed", "event", ev.EventType(), "error", err)
	}
}
