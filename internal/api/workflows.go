package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/donation"
	"github.com/bloodnet/platform/internal/hospitalrequest"
	"github.com/bloodnet/platform/internal/shared/auth"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
	"go.uber.org/zap"
)

// --- Hospital requests ---

// CreateHospitalRequest handles POST /hospital-requests
func (h *Handler) CreateHospitalRequest(w http.ResponseWriter, r *http.Request) {
	var req hospitalrequest.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authorizeOrg(r, req.HospitalID); err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.svc.HospitalRequests.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetHospitalRequest handles GET /hospital-requests/{requestID}
func (h *Handler) GetHospitalRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "requestID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	v, err := h.svc.HospitalRequests.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HospitalRequestSLA handles GET /hospital-requests/{requestID}/sla-breach
func (h *Handler) HospitalRequestSLA(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "requestID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	breached, err := h.svc.HospitalRequests.SLABreach(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "sla_breached": breached})
}

// ListHospitalRequests handles GET /hospital-requests/hospital/{hospitalID}
func (h *Handler) ListHospitalRequests(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "hospitalID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var status *domain.RequestStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s, err := domain.ParseRequestStatus(v)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		status = &s
	}

	views, err := h.svc.HospitalRequests.ListByHospital(r.Context(), id, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// --- Donations ---

// CreateDonation handles POST /donations
func (h *Handler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	var req donation.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authorizeDonor(r, req.DonorID); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.svc.Donations.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ListDonationsByDonor handles GET /donations/donor/{donorID}
func (h *Handler) ListDonationsByDonor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "donorID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.svc.Donations.ListByDonor(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListDonationsByNode handles GET /donations/node/{nodeID}
func (h *Handler) ListDonationsByNode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "nodeID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var status *domain.DonationStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s, err := domain.ParseDonationStatus(v)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		status = &s
	}

	list, err := h.svc.Donations.ListByNode(r.Context(), id, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// DecideDonation handles PUT /donations/{requestID}/decision
func (h *Handler) DecideDonation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "requestID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req donation.DecisionInput
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authorizeOrg(r, req.NodeID); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.svc.Donations.ApproveOrReject(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CompleteDonationRequest reports what was collected
type CompleteDonationRequest struct {
	UnitsCollected int `json:"units_collected"`
}

// CompleteDonation handles PUT /donations/{requestID}/complete
func (h *Handler) CompleteDonation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "requestID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CompleteDonationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := authorizeOwner(r, func(ctx context.Context) (types.ID, error) {
		d, err := h.svc.Donations.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return d.NodeID, nil
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.svc.Donations.Complete(r.Context(), id, req.UnitsCollected)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// authorizeOrg lets admins through and requires any other authenticated
// caller to be staff of orgID. Without a caller there is nothing to check.
func authorizeOrg(r *http.Request, orgID types.ID) error {
	caller := auth.GetCaller(r.Context())
	if caller == nil || caller.HasRole(string(domain.RoleAdmin)) {
		return nil
	}
	if !caller.BelongsTo(orgID) {
		return errors.Forbidden("caller is not staff of organization " + orgID.String())
	}
	return nil
}

// authorizeOwner is authorizeOrg for routes that name an entity rather than
// an organization. owner is only looked up when there is a caller to check.
func authorizeOwner(r *http.Request, owner func(ctx context.Context) (types.ID, error)) error {
	if auth.GetCaller(r.Context()) == nil {
		return nil
	}
	orgID, err := owner(r.Context())
	if err != nil {
		return err
	}
	return authorizeOrg(r, orgID)
}

// authorizeDonor requires a DONOR caller to act for themselves
func authorizeDonor(r *http.Request, donorID types.ID) error {
	caller := auth.GetCaller(r.Context())
	if caller == nil || caller.Role != string(domain.RoleDonor) {
		return nil
	}
	if caller.UserID != donorID {
		return errors.Forbidden("donors can only request donations for themselves")
	}
	return nil
}

// --- Escalation ---

// RunEscalation handles POST /escalations/run
func (h *Handler) RunEscalation(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	res, err := h.svc.Escalation.Tick(r.Context(), h.now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("manual escalation sweep",
		zap.Int("escalated", res.Escalated),
		zap.Bool("skipped", res.Skipped),
		zap.Duration("took", time.Since(started)),
	)
	writeJSON(w, http.StatusOK, res)
}
