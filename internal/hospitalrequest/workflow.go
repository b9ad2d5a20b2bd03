// Package hospitalrequest handles hospitals asking their CBB for blood.
// Every request is tracked by an alert that the CBB resolves to fulfil it.
package hospitalrequest

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

// AlertNotifier announces the alert created for a new request
type AlertNotifier interface {
	RequestAlertRaised(ctx context.Context, alert *domain.Alert, req *domain.HospitalRequest)
}

// Workflow creates and reports on hospital requests
type Workflow struct {
	store    domain.Store
	notifier AlertNotifier
	bus      events.Publisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewWorkflow creates a hospital request workflow
func NewWorkflow(store domain.Store, notifier AlertNotifier, bus events.Publisher, logger *zap.Logger) *Workflow {
	return &Workflow{
		store:    store,
		notifier: notifier,
		bus:      bus,
		logger:   logger.Named("hospital-request"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (w *Workflow) SetClock(now func() time.Time) { w.now = now }

// CreateInput describes a new request. CBBID defaults to the hospital's
// parent CBB.
type CreateInput struct {
	HospitalID  types.ID  `json:"hospital_id"`
	CBBID       *types.ID `json:"cbb_id,omitempty"`
	BloodType   string    `json:"blood_type"`
	UnitsNeeded int       `json:"units_needed"`
	Urgency     string    `json:"urgency"`
}

// View is a request as reported to callers, with its SLA state computed at
// read time.
type View struct {
	domain.HospitalRequest
	AlertID      *types.ID `json:"alert_id,omitempty"`
	HoursElapsed int64     `json:"hours_elapsed"`
	SLABreached  bool      `json:"sla_breached"`
}

func (w *Workflow) view(req *domain.HospitalRequest, alertID *types.ID) *View {
	now := w.now()
	return &View{
		HospitalRequest: *req,
		AlertID:         alertID,
		HoursElapsed:    req.HoursElapsed(now),
		SLABreached:     req.SLABreached(now),
	}
}

// Create records a PENDING request together with its alert. A hospital may
// have only one open alert per blood type, so a second request for the same
// type while the first is unresolved is refused.
func (w *Workflow) Create(ctx context.Context, in CreateInput) (*View, error) {
	bt, err := types.ParseBloodType(in.BloodType)
	if err != nil {
		return nil, errors.InvalidArgument(err.Error())
	}
	urgency, err := domain.ParseUrgency(in.Urgency)
	if err != nil {
		return nil, err
	}

	var (
		req   *domain.HospitalRequest
		alert *domain.Alert
	)
	err = w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := w.now()

		hospital, err := tx.Organizations().Get(ctx, in.HospitalID)
		if err != nil {
			return err
		}
		if err := hospital.RequireType(domain.OrganizationTypeHospital); err != nil {
			return err
		}

		cbbID := in.CBBID
		if cbbID == nil {
			cbbID = hospital.ParentID
		}
		if cbbID == nil {
			return errors.BusinessRuleViolation("hospital has no assigned CBB")
		}
		cbb, err := tx.Organizations().Get(ctx, *cbbID)
		if err != nil {
			return err
		}

		req, err = domain.NewHospitalRequest(hospital, cbb, bt, in.UnitsNeeded, urgency, now)
		if err != nil {
			return err
		}

		open, err := tx.Alerts().FindUnresolved(ctx, hospital.ID, bt)
		if err != nil {
			return err
		}
		if open != nil {
			return errors.BusinessRuleViolation("hospital already has an unresolved request for " + bt.String())
		}

		if err := tx.HospitalRequests().Create(ctx, req); err != nil {
			return err
		}
		alert = domain.NewRequestAlert(hospital, req, now)
		if err := tx.Alerts().Create(ctx, alert); err != nil {
			if errors.Is(err, errors.ErrConflict) {
				return errors.BusinessRuleViolation("hospital already has an unresolved request for " + bt.String())
			}
			return err
		}

		tx.AfterCommit(func(ctx context.Context) {
			metrics.RecordHospitalRequest(string(req.Urgency), string(req.Status))
			metrics.RecordAlertRaised("hospital_request", bt.String())
			events.Emit(ctx, w.bus, w.logger, events.NewEvent(domain.EventHospitalRequestCreated, "hospital-request", req).ForOrganization(req.HospitalID))
			events.Emit(ctx, w.bus, w.logger, events.NewEvent(domain.EventAlertRaised, "hospital-request", alert).ForOrganization(req.HospitalID))
			if w.notifier != nil {
				w.notifier.RequestAlertRaised(ctx, alert, req)
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("hospital request created",
		zap.String("request_id", req.ID.String()),
		zap.String("hospital_id", req.HospitalID.String()),
		zap.String("cbb_id", req.CBBID.String()),
		zap.String("blood_type", bt.String()),
		zap.Int("units", req.UnitsNeeded),
		zap.String("urgency", string(req.Urgency)),
	)
	return w.view(req, &alert.ID), nil
}

// Get returns one request
func (w *Workflow) Get(ctx context.Context, id types.ID) (*View, error) {
	req, err := w.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.view(req, nil), nil
}

// SLABreach reports whether the request is still open after the SLA
func (w *Workflow) SLABreach(ctx context.Context, id types.ID) (bool, error) {
	req, err := w.load(ctx, id)
	if err != nil {
		return false, err
	}
	return req.SLABreached(w.now()), nil
}

// ListByHospital returns a hospital's requests, newest first, optionally
// limited to one status.
func (w *Workflow) ListByHospital(ctx context.Context, hospitalID types.ID, status *domain.RequestStatus) ([]View, error) {
	var reqs []domain.HospitalRequest
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Organizations().Get(ctx, hospitalID); err != nil {
			return err
		}
		var err error
		reqs, err = tx.HospitalRequests().ListByHospital(ctx, hospitalID, status)
		return err
	})
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(reqs))
	for i := range reqs {
		views = append(views, *w.view(&reqs[i], nil))
	}
	return views, nil
}

func (w *Workflow) load(ctx context.Context, id types.ID) (*domain.HospitalRequest, error) {
	var req *domain.HospitalRequest
	err := w.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		req, err = tx.HospitalRequests().Get(ctx, id)
		return err
	})
	return req, err
}
