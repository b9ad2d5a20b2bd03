package infrastructure

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
)

// MemoryStore is an in-process implementation of domain.Store. Transactions
// are fully serialized and work on a copy of the state that replaces the
// committed state only when fn succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	seq   int64
}

type entry[T any] struct {
	v   T
	seq int64
}

type inventoryKey struct {
	org types.ID
	bt  types.BloodType
}

type memState struct {
	orgs      map[types.ID]entry[domain.Organization]
	users     map[types.ID]entry[domain.User]
	inventory map[inventoryKey]entry[domain.InventoryRecord]
	alerts    map[types.ID]entry[domain.Alert]
	transfers map[types.ID]entry[domain.Transfer]
	requests  map[types.ID]entry[domain.HospitalRequest]
	donations map[types.ID]entry[domain.DonationRequest]
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		orgs:      map[types.ID]entry[domain.Organization]{},
		users:     map[types.ID]entry[domain.User]{},
		inventory: map[inventoryKey]entry[domain.InventoryRecord]{},
		alerts:    map[types.ID]entry[domain.Alert]{},
		transfers: map[types.ID]entry[domain.Transfer]{},
		requests:  map[types.ID]entry[domain.HospitalRequest]{},
		donations: map[types.ID]entry[domain.DonationRequest]{},
	}}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		orgs:      cloneMap(s.orgs),
		users:     cloneMap(s.users),
		inventory: cloneMap(s.inventory),
		alerts:    cloneMap(s.alerts),
		transfers: cloneMap(s.transfers),
		requests:  cloneMap(s.requests),
		donations: cloneMap(s.donations),
	}
}

// WithinTx implements domain.Store
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	tx := &memTx{store: s, state: s.state.clone()}
	err := fn(ctx, tx)
	if err == nil {
		s.state = tx.state
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	for _, hook := range tx.hooks {
		hook(ctx)
	}
	return nil
}

func (s *MemoryStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

type memTx struct {
	store *MemoryStore
	state *memState
	hooks []func(ctx context.Context)
}

func (t *memTx) Organizations() domain.OrganizationRepository       { return memOrgs{t} }
func (t *memTx) Users() domain.UserRepository                       { return memUsers{t} }
func (t *memTx) Inventory() domain.InventoryRepository              { return memInventory{t} }
func (t *memTx) Alerts() domain.AlertRepository                     { return memAlerts{t} }
func (t *memTx) Transfers() domain.TransferRepository               { return memTransfers{t} }
func (t *memTx) HospitalRequests() domain.HospitalRequestRepository { return memRequests{t} }
func (t *memTx) Donations() domain.DonationRepository               { return memDonations{t} }

func (t *memTx) AfterCommit(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}

func matchFold(want, got string) bool {
	return want == "" || strings.EqualFold(strings.TrimSpace(want), got)
}

func sortedValues[T any](m map[types.ID]entry[T], keep func(T) bool, newestFirst bool) []T {
	var entries []entry[T]
	for _, e := range m {
		if keep(e.v) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if newestFirst {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.v)
	}
	return out
}

// --- Organizations ---

type memOrgs struct{ tx *memTx }

func (r memOrgs) Create(_ context.Context, org *domain.Organization) error {
	if _, ok := r.tx.state.orgs[org.ID]; ok {
		return errors.Conflict("organization already exists")
	}
	r.tx.state.orgs[org.ID] = entry[domain.Organization]{v: *org, seq: r.tx.store.nextSeq()}
	return nil
}

func (r memOrgs) Get(_ context.Context, id types.ID) (*domain.Organization, error) {
	e, ok := r.tx.state.orgs[id]
	if !ok {
		return nil, errors.NotFound("organization", id.String())
	}
	org := e.v
	return &org, nil
}

func (r memOrgs) Update(_ context.Context, org *domain.Organization) error {
	e, ok := r.tx.state.orgs[org.ID]
	if !ok {
		return errors.NotFound("organization", org.ID.String())
	}
	e.v = *org
	r.tx.state.orgs[org.ID] = e
	return nil
}

func (r memOrgs) List(_ context.Context, f domain.OrganizationFilter) ([]domain.Organization, error) {
	return sortedValues(r.tx.state.orgs, func(o domain.Organization) bool {
		if f.Type != nil && o.Type != *f.Type {
			return false
		}
		if f.ParentID != nil && (o.ParentID == nil || *o.ParentID != *f.ParentID) {
			return false
		}
		return matchFold(f.City, o.Location.City) &&
			matchFold(f.District, o.Location.District) &&
			matchFold(f.State, o.Location.State)
	}, false), nil
}

// --- Users ---

type memUsers struct{ tx *memTx }

func (r memUsers) Create(_ context.Context, u *domain.User) error {
	for _, e := range r.tx.state.users {
		if strings.EqualFold(e.v.Email, u.Email) {
			return errors.Conflict("user with this email already exists")
		}
	}
	r.tx.state.users[u.ID] = entry[domain.User]{v: *u, seq: r.tx.store.nextSeq()}
	return nil
}

func (r memUsers) Get(_ context.Context, id types.ID) (*domain.User, error) {
	e, ok := r.tx.state.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	u := e.v
	return &u, nil
}

func (r memUsers) Update(_ context.Context, u *domain.User) error {
	e, ok := r.tx.state.users[u.ID]
	if !ok {
		return errors.NotFound("user", u.ID.String())
	}
	e.v = *u
	r.tx.state.users[u.ID] = e
	return nil
}

func (r memUsers) List(_ context.Context, f domain.UserFilter) ([]domain.User, error) {
	return sortedValues(r.tx.state.users, func(u domain.User) bool {
		if f.Role != nil && u.Role != *f.Role {
			return false
		}
		if f.OrganizationID != nil && (u.OrganizationID == nil || *u.OrganizationID != *f.OrganizationID) {
			return false
		}
		if !matchFold(f.City, u.City) {
			return false
		}
		if f.OrganizationCity != "" {
			if u.OrganizationID == nil {
				return false
			}
			org, ok := r.tx.state.orgs[*u.OrganizationID]
			if !ok || !matchFold(f.OrganizationCity, org.v.Location.City) {
				return false
			}
		}
		return true
	}, false), nil
}

// --- Inventory ---

type memInventory struct{ tx *memTx }

func (r memInventory) GetForUpdate(_ context.Context, orgID types.ID, bt types.BloodType) (*domain.InventoryRecord, error) {
	key := inventoryKey{orgID, bt}
	e, ok := r.tx.state.inventory[key]
	if !ok {
		if _, exists := r.tx.state.orgs[orgID]; !exists {
			return nil, errors.NotFound("organization", orgID.String())
		}
		e = entry[domain.InventoryRecord]{
			v:   *domain.NewInventoryRecord(orgID, bt, time.Now().UTC()),
			seq: r.tx.store.nextSeq(),
		}
		r.tx.state.inventory[key] = e
	}
	rec := e.v
	return &rec, nil
}

func (r memInventory) Save(_ context.Context, rec *domain.InventoryRecord) error {
	if rec.Quantity < 0 {
		return errors.Internal(errors.ErrInsufficientStock)
	}
	key := inventoryKey{rec.OrganizationID, rec.BloodType}
	e, ok := r.tx.state.inventory[key]
	if !ok {
		e.seq = r.tx.store.nextSeq()
	}
	e.v = *rec
	r.tx.state.inventory[key] = e
	return nil
}

func (r memInventory) ListByOrganization(_ context.Context, orgID types.ID) ([]domain.InventoryRecord, error) {
	var out []domain.InventoryRecord
	for key, e := range r.tx.state.inventory {
		if key.org == orgID {
			out = append(out, e.v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BloodType < out[j].BloodType })
	return out, nil
}

// --- Alerts ---

type memAlerts struct{ tx *memTx }

func (r memAlerts) Create(_ context.Context, a *domain.Alert) error {
	if !a.Resolved {
		for _, e := range r.tx.state.alerts {
			if !e.v.Resolved && e.v.RaisingOrgID == a.RaisingOrgID && e.v.BloodType == a.BloodType {
				return errors.Conflict("an unresolved alert already exists for this organization and blood type")
			}
		}
	}
	r.tx.state.alerts[a.ID] = entry[domain.Alert]{v: *a, seq: r.tx.store.nextSeq()}
	return nil
}

func (r memAlerts) Get(_ context.Context, id types.ID) (*domain.Alert, error) {
	e, ok := r.tx.state.alerts[id]
	if !ok {
		return nil, errors.NotFound("alert", id.String())
	}
	a := e.v
	return &a, nil
}

func (r memAlerts) GetForUpdate(ctx context.Context, id types.ID) (*domain.Alert, error) {
	return r.Get(ctx, id)
}

func (r memAlerts) FindUnresolved(_ context.Context, orgID types.ID, bt types.BloodType) (*domain.Alert, error) {
	for _, e := range r.tx.state.alerts {
		if !e.v.Resolved && e.v.RaisingOrgID == orgID && e.v.BloodType == bt {
			a := e.v
			return &a, nil
		}
	}
	return nil, nil
}

func (r memAlerts) Update(_ context.Context, a *domain.Alert) error {
	e, ok := r.tx.state.alerts[a.ID]
	if !ok {
		return errors.NotFound("alert", a.ID.String())
	}
	e.v = *a
	r.tx.state.alerts[a.ID] = e
	return nil
}

func (r memAlerts) List(_ context.Context, f domain.AlertFilter) ([]domain.Alert, error) {
	return sortedValues(r.tx.state.alerts, func(a domain.Alert) bool {
		if f.Resolved != nil && a.Resolved != *f.Resolved {
			return false
		}
		if f.City != "" {
			org, ok := r.tx.state.orgs[a.RaisingOrgID]
			if !ok || !matchFold(f.City, org.v.Location.City) {
				return false
			}
		}
		return true
	}, true), nil
}

// --- Transfers ---

type memTransfers struct{ tx *memTx }

func (r memTransfers) Create(_ context.Context, t *domain.Transfer) error {
	r.tx.state.transfers[t.ID] = entry[domain.Transfer]{v: *t, seq: r.tx.store.nextSeq()}
	return nil
}

func (r memTransfers) GetForUpdate(_ context.Context, id types.ID) (*domain.Transfer, error) {
	e, ok := r.tx.state.transfers[id]
	if !ok {
		return nil, errors.NotFound("blood transfer", id.String())
	}
	t := e.v
	return &t, nil
}

func (r memTransfers) Update(_ context.Context, t *domain.Transfer) error {
	e, ok := r.tx.state.transfers[t.ID]
	if !ok {
		return errors.NotFound("blood transfer", t.ID.String())
	}
	e.v = *t
	r.tx.state.transfers[t.ID] = e
	return nil
}

func (r memTransfers) ListForOrganization(_ context.Context, orgID types.ID) ([]domain.Transfer, error) {
	return sortedValues(r.tx.state.transfers, func(t domain.Transfer) bool {
		return t.Involves(orgID)
	}, true), nil
}

// --- Hospital requests ---

type memRequests struct{ tx *memTx }

func (r memRequests) Create(_ context.Context, req *domain.HospitalRequest) error {
	r.tx.state.requests[req.ID] = entry[domain.HospitalRequest]{v: *req, seq: r.tx.store.nextSeq()}
	return nil
}

func (r memRequests) Get(_ context.Context, id types.ID) (*domain.HospitalRequest, error) {
	e, ok := r.tx.state.requests[id]
	if !ok {
		return nil, errors.NotFound("hospital request", id.String())
	}
	req := e.v
	return &req, nil
}

func (r memRequests) Update(_ context.Context, req *domain.HospitalRequest) error {
	e, ok := r.tx.state.requests[req.ID]
	if !ok {
		return errors.NotFound("hospital request", req.ID.String())
	}
	e.v = *req
	r.tx.state.requests[req.ID] = e
	return nil
}

func (r memRequests) ListByHospital(_ context.Context, hospitalID types.ID, status *domain.RequestStatus) ([]domain.HospitalRequest, error) {
	return sortedValues(r.tx.state.requests, func(req domain.HospitalRequest) bool {
		return req.HospitalID == hospitalID && (status == nil || req.Status == *status)
	}, true), nil
}

// --- Donations ---

type memDonations struct{ tx *memTx }

func (r memDonations) Create(_ context.Context, d *domain.DonationRequest) error {
	if d.Status.Active() {
		for _, e := range r.tx.state.donations {
			if e.v.DonorID == d.DonorID && e.v.Status.Active() {
				return errors.Conflict("donor already has an active donation request")
			}
		}
	}
	r.tx.state.donations[d.ID] = entry[domain.DonationRequest]{v: *d, seq: r.tx.store.nextSeq()}
	return nil
}

func (r memDonations) GetForUpdate(_ context.Context, id types.ID) (*domain.DonationRequest, error) {
	e, ok := r.tx.state.donations[id]
	if !ok {
		return nil, errors.NotFound("donation request", id.String())
	}
	d := e.v
	return &d, nil
}

func (r memDonations) Update(_ context.Context, d *domain.DonationRequest) error {
	e, ok := r.tx.state.donations[d.ID]
	if !ok {
		return errors.NotFound("donation request", d.ID.String())
	}
	e.v = *d
	r.tx.state.donations[d.ID] = e
	return nil
}

func (r memDonations) ListByDonor(_ context.Context, donorID types.ID) ([]domain.DonationRequest, error) {
	return sortedValues(r.tx.state.donations, func(d domain.DonationRequest) bool {
		return d.DonorID == donorID
	}, true), nil
}

func (r memDonations) ListByNode(_ context.Context, nodeID types.ID, status *domain.DonationStatus) ([]domain.DonationRequest, error) {
	return sortedValues(r.tx.state.donations, func(d domain.DonationRequest) bool {
		return d.NodeID == nodeID && (status == nil || d.Status == *status)
	}, true), nil
}

func (r memDonations) HasActive(_ context.Context, donorID types.ID) (bool, error) {
	for _, e := range r.tx.state.donations {
		if e.v.DonorID == donorID && e.v.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

var (
	_ domain.Store = (*MemoryStore)(nil)
	_ domain.Tx    = (*memTx)(nil)
)
