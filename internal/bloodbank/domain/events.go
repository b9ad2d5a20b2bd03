package domain

// Domain event types published after commit
const (
	EventAlertRaised            = "bloodnet.alert.raised"
	EventAlertResolved          = "bloodnet.alert.resolved"
	EventAlertEscalated         = "bloodnet.alert.escalated"
	EventInventoryAdjusted      = "bloodnet.inventory.adjusted"
	EventTransferDispatched     = "bloodnet.transfer.dispatched"
	EventTransferDelivered      = "bloodnet.transfer.delivered"
	EventHospitalRequestCreated = "bloodnet.hospital_request.created"
	EventDonationRequested      = "bloodnet.donation.requested"
	EventDonationDecided        = "bloodnet.donation.decided"
	EventDonationCompleted      = "bloodnet.donation.completed"
	EventOrganizationRegistered = "bloodnet.organization.registered"
)
