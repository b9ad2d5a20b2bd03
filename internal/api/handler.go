// Package api exposes the blood network operations over HTTP/JSON.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/bloodnet/platform/internal/alert"
	"github.com/bloodnet/platform/internal/directory"
	"github.com/bloodnet/platform/internal/donation"
	"github.com/bloodnet/platform/internal/escalation"
	"github.com/bloodnet/platform/internal/hospitalrequest"
	"github.com/bloodnet/platform/internal/inventory"
	"github.com/bloodnet/platform/internal/shared/auth"
	"github.com/bloodnet/platform/internal/shared/config"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/bloodnet/platform/internal/transfer"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Services are the components the handlers delegate to
type Services struct {
	Directory        *directory.Service
	Ledger           *inventory.Ledger
	Alerts           *alert.Engine
	Transfers        *transfer.Coordinator
	HospitalRequests *hospitalrequest.Workflow
	Donations        *donation.Workflow
	Escalation       *escalation.Scheduler
}

// Options controls authentication of the API routes
type Options struct {
	// RequireAuth enables JWT authentication on every route
	RequireAuth bool
	Auth        config.AuthConfig
}

// Handler provides HTTP handlers for the blood network
type Handler struct {
	svc    Services
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new handler
func NewHandler(svc Services, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		svc:    svc,
		opts:   opts,
		logger: logger.Named("api"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the API routes, to be mounted at /api/v1
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(correlate)
	if h.opts.RequireAuth {
		r.Use(auth.Middleware(h.opts.Auth))
	}

	guard := h.guard

	r.Route("/organizations", func(r chi.Router) {
		r.Get("/", h.ListOrganizations)
		r.With(guard(auth.PermOrganizationManage)).Post("/", h.RegisterOrganization)
		r.Get("/{orgID}", h.GetOrganization)
		r.With(guard(auth.PermOrganizationManage)).Put("/{orgID}/parent", h.ReassignParent)
	})
	r.With(guard(auth.PermUserRegister)).Post("/users", h.RegisterUser)
	r.Get("/donors/{userID}", h.GetDonorProfile)

	r.Route("/inventory", func(r chi.Router) {
		r.Get("/{cbbID}", h.ListInventory)
		r.With(guard(auth.PermInventoryAdjust)).Post("/add", h.AddStock)
		r.With(guard(auth.PermInventoryAdjust)).Post("/deduct", h.DeductStock)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.ListAlerts)
		r.Get("/unresolved", h.ListUnresolvedAlerts)
		r.With(guard(auth.PermAlertResolve)).Post("/{alertID}/resolve", h.ResolveAlert)
	})

	r.Route("/transfers", func(r chi.Router) {
		r.With(guard(auth.PermTransferDispatch)).Post("/dispatch", h.DispatchTransfer)
		r.With(guard(auth.PermTransferReceive)).Post("/{transferID}/receive", h.ReceiveTransfer)
		r.Get("/history/{orgID}", h.TransferHistory)
	})

	r.Route("/hospital-requests", func(r chi.Router) {
		r.With(guard(auth.PermRequestCreate)).Post("/", h.CreateHospitalRequest)
		r.Get("/{requestID}", h.GetHospitalRequest)
		r.Get("/{requestID}/sla-breach", h.HospitalRequestSLA)
		r.Get("/hospital/{hospitalID}", h.ListHospitalRequests)
	})

	r.Route("/donations", func(r chi.Router) {
		r.With(guard(auth.PermDonationCreate)).Post("/", h.CreateDonation)
		r.Get("/donor/{donorID}", h.ListDonationsByDonor)
		r.Get("/node/{nodeID}", h.ListDonationsByNode)
		r.With(guard(auth.PermDonationDecide)).Put("/{requestID}/decision", h.DecideDonation)
		r.With(guard(auth.PermDonationComplete)).Put("/{requestID}/complete", h.CompleteDonation)
	})

	r.With(guard(auth.PermEscalationRun)).Post("/escalations/run", h.RunEscalation)

	return r
}

// guard requires perm when authentication is enabled
func (h *Handler) guard(perm auth.Permission) func(http.Handler) http.Handler {
	if !h.opts.RequireAuth {
		return func(next http.Handler) http.Handler { return next }
	}
	return auth.RequirePermission(perm)
}

// --- Helpers ---

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.InvalidArgument("invalid request body: " + err.Error())
	}
	return nil
}

func pathID(r *http.Request, param string) (types.ID, error) {
	id, err := types.ParseID(chi.URLParam(r, param))
	if err != nil {
		return "", errors.InvalidArgument("invalid " + param)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// correlate stamps events published while serving r with its request ID
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			r = r.WithContext(events.ContextWithCorrelation(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := errors.As(err); ok && !appErr.Internal() {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	h.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error", "code": "INTERNAL_ERROR"})
}
