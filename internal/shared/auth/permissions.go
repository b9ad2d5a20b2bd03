package auth

import (
	"net/http"
	"slices"
)

// Permission is an action a caller may take through the API.
type Permission string

const (
	PermOrganizationManage Permission = "organization.manage"
	PermUserRegister       Permission = "user.register"
	PermInventoryAdjust    Permission = "inventory.adjust"
	PermAlertResolve       Permission = "alert.resolve"
	PermTransferDispatch   Permission = "transfer.dispatch"
	PermTransferReceive    Permission = "transfer.receive"
	PermRequestCreate      Permission = "hospital_request.create"
	PermDonationCreate     Permission = "donation.create"
	PermDonationDecide     Permission = "donation.decide"
	PermDonationComplete   Permission = "donation.complete"
	PermEscalationRun      Permission = "escalation.run"
)

// RolePermissions maps roles to what they may change. Reads are open to
// every authenticated caller.
var RolePermissions = map[string][]Permission{
	"ADMIN": {
		PermOrganizationManage, PermUserRegister,
		PermInventoryAdjust, PermAlertResolve,
		PermTransferDispatch, PermTransferReceive,
		PermRequestCreate,
		PermDonationCreate, PermDonationDecide, PermDonationComplete,
		PermEscalationRun,
	},
	"CBB_STAFF": {
		PermInventoryAdjust, PermAlertResolve,
		PermTransferDispatch, PermTransferReceive,
	},
	"NODE_STAFF": {
		PermTransferDispatch,
		PermDonationDecide, PermDonationComplete,
	},
	"HOSPITAL_STAFF": {
		PermRequestCreate, PermTransferReceive,
	},
	"DONOR": {
		PermDonationCreate,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role string, perm Permission) bool {
	return slices.Contains(RolePermissions[role], perm)
}

// Can reports whether the caller's role grants perm
func (c *Caller) Can(perm Permission) bool {
	return HasPermission(c.Role, perm)
}

// RequirePermission creates middleware that requires perm
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := GetCaller(r.Context())
			if caller == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !caller.Can(perm) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
