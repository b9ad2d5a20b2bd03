// Package donation runs donor requests at collection nodes, from the
// donor's offer through collection and hand-over to a CBB.
package donation

import (
	"context"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/directory"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/metrics"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/bloodnet/platform/internal/transfer"
	"go.uber.org/zap"
)

// CollectedUnits is what a completed donation hands over to the CBB
const CollectedUnits = 1

// Workflow manages donation requests
type Workflow struct {
	store     domain.Store
	transfers *transfer.Coordinator
	bus       events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkflow creates a donation workflow
func NewWorkflow(store domain.Store, transfers *transfer.Coordinator, bus events.Publisher, logger *zap.Logger) *Workflow {
	return &Workflow{
		store:     store,
		transfers: transfers,
		bus:       bus,
		logger:    logger.Named("donation"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (w *Workflow) SetClock(now func() time.Time) { w.now = now }

// CreateInput is a donor's offer to give blood
type CreateInput struct {
	DonorID       types.ID   `json:"donor_id"`
	NodeID        types.ID   `json:"node_id"`
	PreferredDate *time.Time `json:"preferred_date,omitempty"`
}

// Create records a PENDING donation request
func (w *Workflow) Create(ctx context.Context, in CreateInput) (*domain.DonationRequest, error) {
	var d *domain.DonationRequest
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := w.now()

		donor, err := tx.Users().Get(ctx, in.DonorID)
		if err != nil {
			return err
		}
		node, err := tx.Organizations().Get(ctx, in.NodeID)
		if err != nil {
			return err
		}
		d, err = domain.NewDonationRequest(donor, node, in.PreferredDate, now)
		if err != nil {
			return err
		}
		if !donor.Eligible(now) {
			return errors.BusinessRuleViolation("donor is not eligible: last donation was less than 90 days ago")
		}

		active, err := tx.Donations().HasActive(ctx, donor.ID)
		if err != nil {
			return err
		}
		if active {
			return errors.BusinessRuleViolation("donor already has an active donation request")
		}
		if err := tx.Donations().Create(ctx, d); err != nil {
			if errors.Is(err, errors.ErrConflict) {
				return errors.BusinessRuleViolation("donor already has an active donation request")
			}
			return err
		}

		tx.AfterCommit(func(ctx context.Context) {
			metrics.RecordDonation(string(d.Status))
			events.Emit(ctx, w.bus, w.logger, events.NewEvent(domain.EventDonationRequested, "donation", d).ForOrganization(d.NodeID))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("donation requested",
		zap.String("request_id", d.ID.String()),
		zap.String("donor_id", d.DonorID.String()),
		zap.String("node_id", d.NodeID.String()),
		zap.Time("donation_date", d.DonationDate),
	)
	return d, nil
}

// DecisionInput is a node's answer to a pending request
type DecisionInput struct {
	NodeID  types.ID `json:"node_id"`
	Approve bool     `json:"approve"`
	Remarks string   `json:"remarks"`
}

// ApproveOrReject decides a PENDING request. Only the node the request was
// made at may decide it.
func (w *Workflow) ApproveOrReject(ctx context.Context, requestID types.ID, in DecisionInput) (*domain.DonationRequest, error) {
	var d *domain.DonationRequest
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		d, err = tx.Donations().GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if err := d.Decide(in.NodeID, in.Approve, in.Remarks, w.now()); err != nil {
			return err
		}
		if err := tx.Donations().Update(ctx, d); err != nil {
			return err
		}

		tx.AfterCommit(func(ctx context.Context) {
			metrics.RecordDonation(string(d.Status))
			events.Emit(ctx, w.bus, w.logger, events.NewEvent(domain.EventDonationDecided, "donation", d).ForOrganization(d.NodeID))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("donation request decided",
		zap.String("request_id", d.ID.String()),
		zap.String("status", string(d.Status)),
	)
	return d, nil
}

// Completion is the outcome of a completed donation
type Completion struct {
	Request  *domain.DonationRequest `json:"donation_request"`
	Transfer *domain.Transfer        `json:"transfer"`
}

// Complete records the collection, restarts the donor's cooldown and hands
// one unit to the CBB serving the node, all in one transaction.
func (w *Workflow) Complete(ctx context.Context, requestID types.ID, unitsCollected int) (*Completion, error) {
	out := &Completion{}
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := w.now()

		d, err := tx.Donations().GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if err := d.Complete(unitsCollected, now); err != nil {
			return err
		}

		donor, err := tx.Users().Get(ctx, d.DonorID)
		if err != nil {
			return err
		}
		if donor.BloodType == "" {
			return errors.BusinessRuleViolation("donor has no recorded blood type")
		}
		donor.RecordDonation(now)
		if err := tx.Users().Update(ctx, donor); err != nil {
			return err
		}

		node, err := tx.Organizations().Get(ctx, d.NodeID)
		if err != nil {
			return err
		}
		cbb, err := directory.ResolveCollectionCBB(ctx, tx, node)
		if err != nil {
			return err
		}
		t, err := w.transfers.DispatchTx(ctx, tx, node, cbb, donor.BloodType, CollectedUnits, domain.TransferTypeDonationCollection)
		if err != nil {
			return err
		}

		if err := tx.Donations().Update(ctx, d); err != nil {
			return err
		}
		out.Request, out.Transfer = d, t

		tx.AfterCommit(func(ctx context.Context) {
			metrics.RecordDonation(string(d.Status))
			events.Emit(ctx, w.bus, w.logger, events.NewEvent(domain.EventDonationCompleted, "donation", out).ForOrganization(d.NodeID))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("donation completed",
		zap.String("request_id", out.Request.ID.String()),
		zap.Int("units_collected", out.Request.UnitsCollected),
		zap.String("transfer_id", out.Transfer.ID.String()),
		zap.String("cbb_id", out.Transfer.ToOrgID.String()),
	)
	return out, nil
}

// Get returns one donation request
func (w *Workflow) Get(ctx context.Context, id types.ID) (*domain.DonationRequest, error) {
	var d *domain.DonationRequest
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		d, err = tx.Donations().GetForUpdate(ctx, id)
		return err
	})
	return d, err
}

// ListByDonor returns a donor's requests, newest first
func (w *Workflow) ListByDonor(ctx context.Context, donorID types.ID) ([]domain.DonationRequest, error) {
	var out []domain.DonationRequest
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Users().Get(ctx, donorID); err != nil {
			return err
		}
		var err error
		out, err = tx.Donations().ListByDonor(ctx, donorID)
		return err
	})
	return out, err
}

// ListByNode returns the requests made at a node, newest first, optionally
// limited to one status.
func (w *Workflow) ListByNode(ctx context.Context, nodeID types.ID, status *domain.DonationStatus) ([]domain.DonationRequest, error) {
	var out []domain.DonationRequest
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		node, err := tx.Organizations().Get(ctx, nodeID)
		if err != nil {
			return err
		}
		if err := node.RequireType(domain.OrganizationTypeNode); err != nil {
			return err
		}
		out, err = tx.Donations().ListByNode(ctx, nodeID, status)
		return err
	})
	return out, err
}
