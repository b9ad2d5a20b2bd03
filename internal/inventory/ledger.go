// Package inventory keeps per-CBB stock counters and raises low-stock
// alerts when a deduction leaves a blood type under the threshold.
package inventory

import (
	"context"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/metrics"
	"github.com/bloodnet/platform/internal/shared/types"
	"go.uber.org/zap"
)

// DefaultThreshold is the stock level below which a CBB raises an alert
const DefaultThreshold = 10

// AlertNotifier announces newly raised threshold alerts
type AlertNotifier interface {
	ThresholdAlertRaised(ctx context.Context, alert *domain.Alert, cbb *domain.Organization)
}

// Adjustment is the payload of an inventory.adjusted event
type Adjustment struct {
	OrganizationID types.ID        `json:"organization_id"`
	BloodType      types.BloodType `json:"blood_type"`
	Delta          int             `json:"delta"`
	Quantity       int             `json:"quantity"`
	Memo           string          `json:"memo,omitempty"`
}

// Ledger applies stock adjustments. All methods ending in Tx run inside a
// caller-owned transaction so workflows can combine them atomically.
type Ledger struct {
	store     domain.Store
	notifier  AlertNotifier
	bus       events.Publisher
	logger    *zap.Logger
	threshold int
	now       func() time.Time
}

// NewLedger creates a ledger. A non-positive threshold selects DefaultThreshold.
func NewLedger(store domain.Store, notifier AlertNotifier, bus events.Publisher, threshold int, logger *zap.Logger) *Ledger {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Ledger{
		store:     store,
		notifier:  notifier,
		bus:       bus,
		logger:    logger.Named("inventory"),
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Threshold returns the configured low-stock threshold
func (l *Ledger) Threshold() int { return l.threshold }

// GetOrCreate returns the stock record for (cbbID, bt), creating an empty
// one when none exists.
func (l *Ledger) GetOrCreate(ctx context.Context, cbbID types.ID, bt types.BloodType) (*domain.InventoryRecord, error) {
	var rec *domain.InventoryRecord
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := loadCBB(ctx, tx, cbbID); err != nil {
			return err
		}
		if err := requireBloodType(bt); err != nil {
			return err
		}
		var err error
		rec, err = tx.Inventory().GetForUpdate(ctx, cbbID, bt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Add credits qty units to a CBB
func (l *Ledger) Add(ctx context.Context, cbbID types.ID, bt types.BloodType, qty int, memo string) (*domain.InventoryRecord, error) {
	var rec *domain.InventoryRecord
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cbb, err := loadCBB(ctx, tx, cbbID)
		if err != nil {
			return err
		}
		rec, err = l.AddTx(ctx, tx, cbb, bt, qty, memo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AddTx credits qty units to cbb inside tx
func (l *Ledger) AddTx(ctx context.Context, tx domain.Tx, cbb *domain.Organization, bt types.BloodType, qty int, memo string) (*domain.InventoryRecord, error) {
	if err := cbb.RequireType(domain.OrganizationTypeCBB); err != nil {
		return nil, err
	}
	if err := requireBloodType(bt); err != nil {
		return nil, err
	}

	rec, err := tx.Inventory().GetForUpdate(ctx, cbb.ID, bt)
	if err != nil {
		return nil, err
	}
	if err := rec.Add(qty, l.now()); err != nil {
		return nil, err
	}
	if err := tx.Inventory().Save(ctx, rec); err != nil {
		return nil, err
	}

	l.afterAdjust(tx, rec, qty, memo)
	return rec, nil
}

// Deduct debits qty units from a CBB and runs the threshold check in the
// same transaction.
func (l *Ledger) Deduct(ctx context.Context, cbbID types.ID, bt types.BloodType, qty int, memo string) (*domain.InventoryRecord, error) {
	var rec *domain.InventoryRecord
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cbb, err := loadCBB(ctx, tx, cbbID)
		if err != nil {
			return err
		}
		rec, err = l.DeductTx(ctx, tx, cbb, bt, qty, memo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeductTx debits qty units from cbb inside tx, then checks the threshold.
// Deducting more than is on hand fails with InsufficientStock and leaves
// the record untouched.
func (l *Ledger) DeductTx(ctx context.Context, tx domain.Tx, cbb *domain.Organization, bt types.BloodType, qty int, memo string) (*domain.InventoryRecord, error) {
	if err := cbb.RequireType(domain.OrganizationTypeCBB); err != nil {
		return nil, err
	}
	if err := requireBloodType(bt); err != nil {
		return nil, err
	}

	rec, err := tx.Inventory().GetForUpdate(ctx, cbb.ID, bt)
	if err != nil {
		return nil, err
	}
	if err := rec.Deduct(qty, l.now()); err != nil {
		return nil, err
	}
	if err := tx.Inventory().Save(ctx, rec); err != nil {
		return nil, err
	}
	l.afterAdjust(tx, rec, -qty, memo)

	if _, err := l.thresholdCheckTx(ctx, tx, cbb, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ThresholdCheck raises a low-stock alert for (cbbID, bt) if stock is under
// the threshold and no unresolved alert exists yet. It returns the new
// alert, or nil when nothing was raised.
func (l *Ledger) ThresholdCheck(ctx context.Context, cbbID types.ID, bt types.BloodType) (*domain.Alert, error) {
	var alert *domain.Alert
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cbb, err := loadCBB(ctx, tx, cbbID)
		if err != nil {
			return err
		}
		if err := requireBloodType(bt); err != nil {
			return err
		}
		rec, err := tx.Inventory().GetForUpdate(ctx, cbbID, bt)
		if err != nil {
			return err
		}
		alert, err = l.thresholdCheckTx(ctx, tx, cbb, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (l *Ledger) thresholdCheckTx(ctx context.Context, tx domain.Tx, cbb *domain.Organization, rec *domain.InventoryRecord) (*domain.Alert, error) {
	if !rec.Below(l.threshold) {
		return nil, nil
	}

	existing, err := tx.Alerts().FindUnresolved(ctx, cbb.ID, rec.BloodType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	alert := domain.NewThresholdAlert(cbb, rec.BloodType, l.now())
	if err := tx.Alerts().Create(ctx, alert); err != nil {
		// A concurrent transaction raised the same alert first.
		if errors.Is(err, errors.ErrConflict) {
			return nil, nil
		}
		return nil, err
	}

	l.logger.Info("low stock alert raised",
		zap.String("alert_id", alert.ID.String()),
		zap.String("cbb_id", cbb.ID.String()),
		zap.String("blood_type", rec.BloodType.String()),
		zap.Int("quantity", rec.Quantity),
	)

	tx.AfterCommit(func(ctx context.Context) {
		metrics.RecordAlertRaised("threshold", alert.BloodType.String())
		events.Emit(ctx, l.bus, l.logger, events.NewEvent(domain.EventAlertRaised, "inventory", alert).ForOrganization(cbb.ID))
		if l.notifier != nil {
			l.notifier.ThresholdAlertRaised(ctx, alert, cbb)
		}
	})
	return alert, nil
}

// ListByOrganization returns every stock record of a CBB
func (l *Ledger) ListByOrganization(ctx context.Context, cbbID types.ID) ([]domain.InventoryRecord, error) {
	var recs []domain.InventoryRecord
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := loadCBB(ctx, tx, cbbID); err != nil {
			return err
		}
		var err error
		recs, err = tx.Inventory().ListByOrganization(ctx, cbbID)
		return err
	})
	return recs, err
}

func (l *Ledger) afterAdjust(tx domain.Tx, rec *domain.InventoryRecord, delta int, memo string) {
	adj := Adjustment{
		OrganizationID: rec.OrganizationID,
		BloodType:      rec.BloodType,
		Delta:          delta,
		Quantity:       rec.Quantity,
		Memo:           memo,
	}
	tx.AfterCommit(func(ctx context.Context) {
		direction := "in"
		if adj.Delta < 0 {
			direction = "out"
		}
		metrics.RecordStockAdjustment(direction, adj.BloodType.String(), abs(adj.Delta))
		events.Emit(ctx, l.bus, l.logger, events.NewEvent(domain.EventInventoryAdjusted, "inventory", adj).ForOrganization(adj.OrganizationID))
		l.logger.Debug("stock adjusted",
			zap.String("cbb_id", adj.OrganizationID.String()),
			zap.String("blood_type", adj.BloodType.String()),
			zap.Int("delta", adj.Delta),
			zap.Int("quantity", adj.Quantity),
			zap.String("memo", adj.Memo),
		)
	})
}

func loadCBB(ctx context.Context, tx domain.Tx, id types.ID) (*domain.Organization, error) {
	org, err := tx.Organizations().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := org.RequireType(domain.OrganizationTypeCBB); err != nil {
		return nil, err
	}
	return org, nil
}

func requireBloodType(bt types.BloodType) error {
	if !bt.Valid() {
		return errors.InvalidArgument("unknown blood type: " + bt.String())
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
