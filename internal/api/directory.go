package api

import (
	"net/http"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/directory"
	"github.com/bloodnet/platform/internal/shared/types"
)

// RegisterOrganization handles POST /organizations
func (h *Handler) RegisterOrganization(w http.ResponseWriter, r *http.Request) {
	var req directory.RegisterOrganizationInput
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	org, err := h.svc.Directory.RegisterOrganization(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

// ListOrganizations handles GET /organizations
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrganizationFilter{
		City:     q.Get("city"),
		District: q.Get("district"),
		State:    q.Get("state"),
	}
	if v := q.Get("type"); v != "" {
		t, err := domain.ParseOrganizationType(v)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Type = &t
	}

	orgs, err := h.svc.Directory.ListOrganizations(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

// GetOrganization handles GET /organizations/{orgID}
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orgID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	org, err := h.svc.Directory.FindOrganizationByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// ReassignParentRequest moves an organization under another parent. A null
// parent_id detaches it.
type ReassignParentRequest struct {
	ParentID *types.ID `json:"parent_id"`
}

// ReassignParent handles PUT /organizations/{orgID}/parent
func (h *Handler) ReassignParent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orgID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req ReassignParentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	org, err := h.svc.Directory.ReassignParent(r.Context(), id, req.ParentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// RegisterUser handles POST /users
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req directory.RegisterUserInput
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, err := h.svc.Directory.RegisterUser(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetDonorProfile handles GET /donors/{userID}
func (h *Handler) GetDonorProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.svc.Directory.GetDonorProfile(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
