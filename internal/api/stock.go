package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/bloodnet/platform/internal/transfer"
)

// StockRequest adjusts one CBB stock record
type StockRequest struct {
	CBBID     types.ID `json:"cbb_id"`
	BloodType string   `json:"blood_type"`
	Quantity  int      `json:"quantity"`
	Memo      string   `json:"memo"`
}

func parseBloodType(s string) (types.BloodType, error) {
	bt, err := types.ParseBloodType(s)
	if err != nil {
		return "", errors.InvalidArgument(err.Error())
	}
	return bt, nil
}

// ListInventory handles GET /inventory/{cbbID}
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "cbbID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.svc.Ledger.ListByOrganization(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// AddStock handles POST /inventory/add
func (h *Handler) AddStock(w http.ResponseWriter, r *http.Request) {
	h.adjustStock(w, r, false)
}

// DeductStock handles POST /inventory/deduct
func (h *Handler) DeductStock(w http.ResponseWriter, r *http.Request) {
	h.adjustStock(w, r, true)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request, deduct bool) {
	var req StockRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authorizeOrg(r, req.CBBID); err != nil {
		h.writeError(w, r, err)
		return
	}
	bt, err := parseBloodType(req.BloodType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	adjust := h.svc.Ledger.Add
	if deduct {
		adjust = h.svc.Ledger.Deduct
	}
	rec, err := adjust(r.Context(), req.CBBID, bt, req.Quantity, strings.TrimSpace(req.Memo))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListAlerts handles GET /alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.svc.Alerts.ListAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// ListUnresolvedAlerts handles GET /alerts/unresolved, optionally by ?city=
func (h *Handler) ListUnresolvedAlerts(w http.ResponseWriter, r *http.Request) {
	var (
		alerts []domain.Alert
		err    error
	)
	if city := r.URL.Query().Get("city"); city != "" {
		alerts, err = h.svc.Alerts.ListUnresolvedByCity(r.Context(), city)
	} else {
		alerts, err = h.svc.Alerts.ListUnresolved(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// ResolveAlert handles POST /alerts/{alertID}/resolve
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "alertID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := authorizeOwner(r, func(ctx context.Context) (types.ID, error) {
		return h.svc.Alerts.Owner(ctx, id)
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Alerts.Resolve(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DispatchRequest sends blood from one organization to another
type DispatchRequest struct {
	FromID       types.ID `json:"from_organization_id"`
	ToID         types.ID `json:"to_organization_id"`
	BloodType    string   `json:"blood_type"`
	Quantity     int      `json:"quantity"`
	TransferType string   `json:"transfer_type"`
}

// DispatchTransfer handles POST /transfers/dispatch
func (h *Handler) DispatchTransfer(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := authorizeOrg(r, req.FromID); err != nil {
		h.writeError(w, r, err)
		return
	}
	bt, err := parseBloodType(req.BloodType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.svc.Transfers.Dispatch(r.Context(), transfer.DispatchInput{
		FromID:       req.FromID,
		ToID:         req.ToID,
		BloodType:    bt,
		Quantity:     req.Quantity,
		TransferType: req.TransferType,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ReceiveTransfer handles POST /transfers/{transferID}/receive
func (h *Handler) ReceiveTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "transferID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := authorizeOwner(r, func(ctx context.Context) (types.ID, error) {
		t, err := h.svc.Transfers.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return t.ToOrgID, nil
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.svc.Transfers.Receive(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// TransferHistory handles GET /transfers/history/{orgID}
func (h *Handler) TransferHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orgID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	history, err := h.svc.Transfers.HistoryFor(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
