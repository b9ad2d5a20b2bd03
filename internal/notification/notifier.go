package notification

import (
	"context"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/shared/types"
	"go.uber.org/zap"
)

// Directory is the subset of the organization directory the alert
// notifications need to resolve recipients.
type Directory interface {
	FindOrganizationByID(ctx context.Context, id types.ID) (*domain.Organization, error)
	FindCBBsByCity(ctx context.Context, city string) ([]domain.Organization, error)
	FindCBBsByDistrict(ctx context.Context, district string) ([]domain.Organization, error)
	FindCBBsByState(ctx context.Context, state string) ([]domain.Organization, error)
	FindStaffUserByOrganization(ctx context.Context, orgID types.ID) (*domain.User, error)
	FindNodeStaffByCity(ctx context.Context, city string) ([]domain.User, error)
	FindEligibleDonorsByCity(ctx context.Context, city string) ([]domain.User, error)
}

// AlertNotifier turns alert lifecycle changes into e-mails. Lookup failures
// are logged per recipient group and never abort the remaining groups.
type AlertNotifier struct {
	dir    Directory
	sink   Sink
	logger *zap.Logger
}

// NewAlertNotifier creates an alert notifier
func NewAlertNotifier(dir Directory, sink Sink, logger *zap.Logger) *AlertNotifier {
	return &AlertNotifier{dir: dir, sink: sink, logger: logger.Named("alert-notifier")}
}

// ThresholdAlertRaised notifies, in the raising CBB's city, the other CBBs,
// the node staff and the donors who are currently eligible to give.
func (n *AlertNotifier) ThresholdAlertRaised(ctx context.Context, alert *domain.Alert, cbb *domain.Organization) {
	city := cbb.Location.City
	log := n.logger.With(zap.String("alert_id", alert.ID.String()), zap.String("city", city))

	cbbs, err := n.dir.FindCBBsByCity(ctx, city)
	if err != nil {
		log.Error("failed to find city CBBs", zap.Error(err))
	}
	n.notifyCBBStaff(ctx, alert, cbbs, SubjectLowStock)

	staff, err := n.dir.FindNodeStaffByCity(ctx, city)
	if err != nil {
		log.Error("failed to find node staff", zap.Error(err))
	}
	for _, u := range staff {
		n.sink.Send(ctx, u.Email, SubjectArrangeCamps, alert.Message)
	}

	donors, err := n.dir.FindEligibleDonorsByCity(ctx, city)
	if err != nil {
		log.Error("failed to find eligible donors", zap.Error(err))
	}
	for _, u := range donors {
		n.sink.Send(ctx, u.Email, SubjectUrgentNeed, alert.Message)
	}

	log.Info("threshold alert notifications sent",
		zap.Int("cbbs", len(cbbs)),
		zap.Int("node_staff", len(staff)),
		zap.Int("donors", len(donors)),
	)
}

// RequestAlertRaised notifies the staff of the CBB a hospital request was
// assigned to.
func (n *AlertNotifier) RequestAlertRaised(ctx context.Context, alert *domain.Alert, req *domain.HospitalRequest) {
	user, err := n.dir.FindStaffUserByOrganization(ctx, req.CBBID)
	if err != nil {
		n.logger.Error("failed to find CBB staff",
			zap.String("alert_id", alert.ID.String()),
			zap.String("cbb_id", req.CBBID.String()),
			zap.Error(err),
		)
		return
	}
	if user == nil || !user.HasEmail() {
		return
	}
	n.sink.Send(ctx, user.Email, SubjectBloodRequest, alert.Message)
}

// Escalated notifies every CBB in the district (level 1) or state (level 2)
// of the raising organization, excluding that organization.
func (n *AlertNotifier) Escalated(ctx context.Context, alert *domain.Alert, raising *domain.Organization) {
	var (
		cbbs    []domain.Organization
		err     error
		subject string
	)
	switch alert.EscalationLevel {
	case domain.EscalationDistrict:
		cbbs, err = n.dir.FindCBBsByDistrict(ctx, raising.Location.District)
		subject = SubjectEscalatedDistrict
	case domain.EscalationState:
		cbbs, err = n.dir.FindCBBsByState(ctx, raising.Location.State)
		subject = SubjectEscalatedState
	default:
		return
	}
	if err != nil {
		n.logger.Error("failed to find escalation recipients",
			zap.String("alert_id", alert.ID.String()),
			zap.Stringer("level", alert.EscalationLevel),
			zap.Error(err),
		)
		return
	}

	n.notifyCBBStaff(ctx, alert, cbbs, subject)
}

func (n *AlertNotifier) notifyCBBStaff(ctx context.Context, alert *domain.Alert, cbbs []domain.Organization, subject string) {
	for _, cbb := range cbbs {
		if cbb.ID == alert.RaisingOrgID {
			continue
		}
		user, err := n.dir.FindStaffUserByOrganization(ctx, cbb.ID)
		if err != nil {
			n.logger.Warn("failed to find CBB staff", zap.String("cbb_id", cbb.ID.String()), zap.Error(err))
			continue
		}
		if user == nil || !user.HasEmail() {
			continue
		}
		n.sink.Send(ctx, user.Email, subject, alert.Message)
	}
}
