// Package alert resolves and lists shortage alerts.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/inventory"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/metrics"
	"github.com/bloodnet/platform/internal/shared/types"
	"go.uber.org/zap"
)

// Engine closes alerts and, for alerts raised by hospital requests, fulfils
// the request from the assigned CBB.
type Engine struct {
	store  domain.Store
	ledger *inventory.Ledger
	bus    events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an alert engine
func NewEngine(store domain.Store, ledger *inventory.Ledger, bus events.Publisher, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		ledger: ledger,
		bus:    bus,
		logger: logger.Named("alert"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Resolution is the outcome of resolving an alert. Request and Transfer
// are set only for alerts linked to a hospital request.
type Resolution struct {
	Alert    *domain.Alert           `json:"alert"`
	Request  *domain.HospitalRequest `json:"hospital_request,omitempty"`
	Transfer *domain.Transfer        `json:"transfer,omitempty"`
}

// Resolve closes an alert. For a request alert the same transaction
// approves the request, deducts the units from its CBB and records the
// CBB to hospital transfer. Any failure rolls the whole resolution back.
func (e *Engine) Resolve(ctx context.Context, alertID types.ID) (*Resolution, error) {
	res := &Resolution{}
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := e.now()

		a, err := tx.Alerts().GetForUpdate(ctx, alertID)
		if err != nil {
			return err
		}
		if err := a.Resolve(now); err != nil {
			return err
		}
		if err := tx.Alerts().Update(ctx, a); err != nil {
			return err
		}
		res.Alert = a

		if a.IsRequestAlert() {
			req, transfer, err := e.fulfil(ctx, tx, *a.HospitalRequestID, now)
			if err != nil {
				return err
			}
			res.Request, res.Transfer = req, transfer
		}

		tx.AfterCommit(func(ctx context.Context) {
			metrics.RecordAlertResolved()
			if res.Request != nil {
				metrics.RecordHospitalRequest(string(res.Request.Urgency), string(res.Request.Status))
				metrics.RecordTransfer(res.Transfer.TransferType, string(res.Transfer.Status))
			}
			events.Emit(ctx, e.bus, e.logger, events.NewEvent(domain.EventAlertResolved, "alert", res).ForOrganization(a.RaisingOrgID))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("alert resolved",
		zap.String("alert_id", alertID.String()),
		zap.Bool("request_fulfilled", res.Request != nil),
	)
	return res, nil
}

func (e *Engine) fulfil(ctx context.Context, tx domain.Tx, requestID types.ID, now time.Time) (*domain.HospitalRequest, *domain.Transfer, error) {
	req, err := tx.HospitalRequests().Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if err := req.TransitionTo(domain.RequestStatusApproved, now); err != nil {
		return nil, nil, err
	}

	cbb, err := tx.Organizations().Get(ctx, req.CBBID)
	if err != nil {
		return nil, nil, err
	}
	hospital, err := tx.Organizations().Get(ctx, req.HospitalID)
	if err != nil {
		return nil, nil, err
	}

	memo := fmt.Sprintf("hospital request %s", req.ID)
	if _, err := e.ledger.DeductTx(ctx, tx, cbb, req.BloodType, req.UnitsNeeded, memo); err != nil {
		return nil, nil, err
	}

	transfer, err := domain.NewTransfer(cbb, hospital, req.BloodType, req.UnitsNeeded, domain.TransferTypeRequestFulfillment, now)
	if err != nil {
		return nil, nil, err
	}
	transfer.HospitalRequestID = &req.ID
	if err := tx.Transfers().Create(ctx, transfer); err != nil {
		return nil, nil, err
	}
	if err := tx.HospitalRequests().Update(ctx, req); err != nil {
		return nil, nil, err
	}
	return req, transfer, nil
}

// Get returns one alert
func (e *Engine) Get(ctx context.Context, id types.ID) (*domain.Alert, error) {
	var a *domain.Alert
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		a, err = tx.Alerts().Get(ctx, id)
		return err
	})
	return a, err
}

// Owner returns the organization whose stock resolving the alert touches:
// the request's CBB for hospital request alerts, the raising CBB otherwise.
func (e *Engine) Owner(ctx context.Context, id types.ID) (types.ID, error) {
	var owner types.ID
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		a, err := tx.Alerts().Get(ctx, id)
		if err != nil {
			return err
		}
		owner = a.RaisingOrgID
		if !a.IsRequestAlert() {
			return nil
		}
		req, err := tx.HospitalRequests().Get(ctx, *a.HospitalRequestID)
		if err != nil {
			return err
		}
		owner = req.CBBID
		return nil
	})
	return owner, err
}

// ListAll returns every alert, newest first
func (e *Engine) ListAll(ctx context.Context) ([]domain.Alert, error) {
	return e.list(ctx, domain.AlertFilter{})
}

// ListUnresolved returns the open alerts, newest first
func (e *Engine) ListUnresolved(ctx context.Context) ([]domain.Alert, error) {
	open := false
	return e.list(ctx, domain.AlertFilter{Resolved: &open})
}

// ListUnresolvedByCity returns open alerts raised by organizations in city
func (e *Engine) ListUnresolvedByCity(ctx context.Context, city string) ([]domain.Alert, error) {
	open := false
	return e.list(ctx, domain.AlertFilter{Resolved: &open, City: strings.TrimSpace(city)})
}

func (e *Engine) list(ctx context.Context, filter domain.AlertFilter) ([]domain.Alert, error) {
	var alerts []domain.Alert
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		alerts, err = tx.Alerts().List(ctx, filter)
		return err
	})
	return alerts, err
}
