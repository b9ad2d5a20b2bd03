// Package transfer moves blood between organizations and keeps the
// inventory of both ends consistent with the transfer's status.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/inventory"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/metrics"
	"github.com/bloodnet/platform/internal/shared/types"
	"go.uber.org/zap"
)

// Coordinator dispatches and receives transfers.
//
// Stock moves exactly once per transfer. A CBB sender is debited at
// dispatch and a CBB receiver credited at receive. When the sender is not a
// CBB (a collection node) the receiving CBB is credited at dispatch and the
// transfer is marked CreditedOnDispatch, so receive only closes it.
type Coordinator struct {
	store  domain.Store
	ledger *inventory.Ledger
	bus    events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewCoordinator creates a transfer coordinator
func NewCoordinator(store domain.Store, ledger *inventory.Ledger, bus events.Publisher, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		ledger: ledger,
		bus:    bus,
		logger: logger.Named("transfer"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// DispatchInput describes a transfer to send
type DispatchInput struct {
	FromID       types.ID        `json:"from_organization_id"`
	ToID         types.ID        `json:"to_organization_id"`
	BloodType    types.BloodType `json:"blood_type"`
	Quantity     int             `json:"quantity"`
	TransferType string          `json:"transfer_type"`
}

// Dispatch records a transfer and applies its dispatch-time stock movement
func (c *Coordinator) Dispatch(ctx context.Context, in DispatchInput) (*domain.Transfer, error) {
	var t *domain.Transfer
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		from, err := tx.Organizations().Get(ctx, in.FromID)
		if err != nil {
			return err
		}
		to, err := tx.Organizations().Get(ctx, in.ToID)
		if err != nil {
			return err
		}
		t, err = c.DispatchTx(ctx, tx, from, to, in.BloodType, in.Quantity, in.TransferType)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DispatchTx is Dispatch inside a caller-owned transaction
func (c *Coordinator) DispatchTx(ctx context.Context, tx domain.Tx, from, to *domain.Organization, bt types.BloodType, qty int, transferType string) (*domain.Transfer, error) {
	now := c.now()
	t, err := domain.NewTransfer(from, to, bt, qty, transferType, now)
	if err != nil {
		return nil, err
	}

	memo := fmt.Sprintf("transfer %s", t.ID)
	switch {
	case from.IsCBB():
		if _, err := c.ledger.DeductTx(ctx, tx, from, bt, qty, memo); err != nil {
			return nil, err
		}
	case to.IsCBB():
		if _, err := c.ledger.AddTx(ctx, tx, to, bt, qty, memo); err != nil {
			return nil, err
		}
		t.CreditedOnDispatch = true
	default:
		return nil, errors.InvalidArgument("a transfer must start or end at a CBB")
	}

	if err := tx.Transfers().Create(ctx, t); err != nil {
		return nil, err
	}

	tx.AfterCommit(func(ctx context.Context) {
		metrics.RecordTransfer(t.TransferType, string(t.Status))
		events.Emit(ctx, c.bus, c.logger, events.NewEvent(domain.EventTransferDispatched, "transfer", t).ForOrganization(t.FromOrgID))
		c.logger.Info("transfer dispatched",
			zap.String("transfer_id", t.ID.String()),
			zap.String("from", t.FromOrgID.String()),
			zap.String("to", t.ToOrgID.String()),
			zap.String("blood_type", t.BloodType.String()),
			zap.Int("quantity", t.Quantity),
			zap.Bool("credited_on_dispatch", t.CreditedOnDispatch),
		)
	})
	return t, nil
}

// Receive marks a dispatched transfer delivered and credits a CBB receiver
// that was not already credited at dispatch. A fulfillment transfer also
// moves its hospital request to DELIVERED.
func (c *Coordinator) Receive(ctx context.Context, transferID types.ID) (*domain.Transfer, error) {
	var t *domain.Transfer
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := c.now()

		var err error
		t, err = tx.Transfers().GetForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if err := t.Deliver(now); err != nil {
			return err
		}

		if !t.CreditedOnDispatch {
			to, err := tx.Organizations().Get(ctx, t.ToOrgID)
			if err != nil {
				return err
			}
			if to.IsCBB() {
				if _, err := c.ledger.AddTx(ctx, tx, to, t.BloodType, t.Quantity, fmt.Sprintf("transfer %s", t.ID)); err != nil {
					return err
				}
			}
		}

		if t.HospitalRequestID != nil {
			req, err := tx.HospitalRequests().Get(ctx, *t.HospitalRequestID)
			if err != nil {
				return err
			}
			if err := req.TransitionTo(domain.RequestStatusDelivered, now); err != nil {
				return err
			}
			if err := tx.HospitalRequests().Update(ctx, req); err != nil {
				return err
			}
			tx.AfterCommit(func(context.Context) {
				metrics.RecordHospitalRequest(string(req.Urgency), string(req.Status))
			})
		}

		if err := tx.Transfers().Update(ctx, t); err != nil {
			return err
		}
		tx.AfterCommit(func(ctx context.Context) {
			metrics.RecordTransfer(t.TransferType, string(t.Status))
			events.Emit(ctx, c.bus, c.logger, events.NewEvent(domain.EventTransferDelivered, "transfer", t).ForOrganization(t.ToOrgID))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("transfer received", zap.String("transfer_id", t.ID.String()))
	return t, nil
}

// Get returns one transfer
func (c *Coordinator) Get(ctx context.Context, id types.ID) (*domain.Transfer, error) {
	var t *domain.Transfer
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		t, err = tx.Transfers().GetForUpdate(ctx, id)
		return err
	})
	return t, err
}

// HistoryFor returns the transfers sent or received by orgID, newest first
func (c *Coordinator) HistoryFor(ctx context.Context, orgID types.ID) ([]domain.Transfer, error) {
	var out []domain.Transfer
	err := c.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Organizations().Get(ctx, orgID); err != nil {
			return err
		}
		var err error
		out, err = tx.Transfers().ListForOrganization(ctx, orgID)
		return err
	})
	return out, err
}
