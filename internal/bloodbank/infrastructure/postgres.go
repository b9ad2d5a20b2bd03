package infrastructure

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/shared/errors"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements domain.Store on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// WithinTx implements domain.Store
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer pgTx.Rollback(ctx)

	tx := &pgStoreTx{tx: pgTx}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("concurrent update conflict")
		}
		return errors.Wrap(err, "failed to commit transaction")
	}

	for _, hook := range tx.hooks {
		hook(ctx)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

type pgStoreTx struct {
	tx    pgx.Tx
	hooks []func(ctx context.Context)
}

func (t *pgStoreTx) Organizations() domain.OrganizationRepository       { return pgOrgs{t.tx} }
func (t *pgStoreTx) Users() domain.UserRepository                       { return pgUsers{t.tx} }
func (t *pgStoreTx) Inventory() domain.InventoryRepository              { return pgInventory{t.tx} }
func (t *pgStoreTx) Alerts() domain.AlertRepository                     { return pgAlerts{t.tx} }
func (t *pgStoreTx) Transfers() domain.TransferRepository               { return pgTransfers{t.tx} }
func (t *pgStoreTx) HospitalRequests() domain.HospitalRequestRepository { return pgRequests{t.tx} }
func (t *pgStoreTx) Donations() domain.DonationRepository               { return pgDonations{t.tx} }

func (t *pgStoreTx) AfterCommit(fn func(ctx context.Context)) {
	t.hooks = append(t.hooks, fn)
}

// whereBuilder accumulates AND-ed conditions with positional arguments
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// --- Organizations ---

type pgOrgs struct{ tx pgx.Tx }

const orgColumns = `id, name, type, parent_id, COALESCE(street, ''), city, district, state,
	COALESCE(contact_email, ''), COALESCE(contact_phone, ''), created_at, updated_at`

func scanOrg(row pgx.Row) (*domain.Organization, error) {
	o := &domain.Organization{}
	err := row.Scan(
		&o.ID, &o.Name, &o.Type, &o.ParentID,
		&o.Location.Street, &o.Location.City, &o.Location.District, &o.Location.State,
		&o.Contact.Email, &o.Contact.Phone, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func (r pgOrgs) Create(ctx context.Context, o *domain.Organization) error {
	query := `
		INSERT INTO organizations (
			id, name, type, parent_id, street, city, district, state,
			contact_email, contact_phone, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12)`

	_, err := r.tx.Exec(ctx, query,
		o.ID, o.Name, o.Type, o.ParentID,
		o.Location.Street, o.Location.City, o.Location.District, o.Location.State,
		o.Contact.Email, o.Contact.Phone, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("organization already exists")
		}
		return errors.Wrap(err, "failed to create organization")
	}
	return nil
}

func (r pgOrgs) Get(ctx context.Context, id types.ID) (*domain.Organization, error) {
	o, err := scanOrg(r.tx.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("organization", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get organization")
	}
	return o, nil
}

func (r pgOrgs) Update(ctx context.Context, o *domain.Organization) error {
	query := `
		UPDATE organizations SET
			name = $2, parent_id = $3, street = NULLIF($4, ''), city = $5, district = $6, state = $7,
			contact_email = NULLIF($8, ''), contact_phone = NULLIF($9, ''), updated_at = $10
		WHERE id = $1`

	tag, err := r.tx.Exec(ctx, query,
		o.ID, o.Name, o.ParentID,
		o.Location.Street, o.Location.City, o.Location.District, o.Location.State,
		o.Contact.Email, o.Contact.Phone, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update organization")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("organization", o.ID.String())
	}
	return nil
}

func (r pgOrgs) List(ctx context.Context, f domain.OrganizationFilter) ([]domain.Organization, error) {
	var w whereBuilder
	if f.Type != nil {
		w.add("type = $%d", *f.Type)
	}
	if f.City != "" {
		w.add("LOWER(city) = LOWER($%d)", strings.TrimSpace(f.City))
	}
	if f.District != "" {
		w.add("LOWER(district) = LOWER($%d)", strings.TrimSpace(f.District))
	}
	if f.State != "" {
		w.add("LOWER(state) = LOWER($%d)", strings.TrimSpace(f.State))
	}
	if f.ParentID != nil {
		w.add("parent_id = $%d", *f.ParentID)
	}

	rows, err := r.tx.Query(ctx, `SELECT `+orgColumns+` FROM organizations`+w.String()+` ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list organizations")
	}
	defer rows.Close()

	var orgs []domain.Organization
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan organization")
		}
		orgs = append(orgs, *o)
	}
	return orgs, rows.Err()
}

// --- Users ---

type pgUsers struct{ tx pgx.Tx }

const userColumns = `u.id, u.email, u.full_name, u.role, u.organization_id, COALESCE(u.blood_type, ''),
	COALESCE(u.city, ''), COALESCE(u.district, ''), COALESCE(u.contact_number, ''),
	u.last_donation_date, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.FullName, &u.Role, &u.OrganizationID, &u.BloodType,
		&u.City, &u.District, &u.ContactNumber,
		&u.LastDonationDate, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

func (r pgUsers) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (
			id, email, full_name, role, organization_id, blood_type,
			city, district, contact_number, last_donation_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)`

	_, err := r.tx.Exec(ctx, query,
		u.ID, u.Email, u.FullName, u.Role, u.OrganizationID, u.BloodType,
		u.City, u.District, u.ContactNumber, u.LastDonationDate, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("user with this email already exists")
		}
		return errors.Wrap(err, "failed to create user")
	}
	return nil
}

func (r pgUsers) Get(ctx context.Context, id types.ID) (*domain.User, error) {
	u, err := scanUser(r.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	return u, nil
}

func (r pgUsers) Update(ctx context.Context, u *domain.User) error {
	query := `
		UPDATE users SET
			full_name = $2, organization_id = $3, blood_type = NULLIF($4, ''),
			city = NULLIF($5, ''), district = NULLIF($6, ''), contact_number = NULLIF($7, ''),
			last_donation_date = $8, updated_at = $9
		WHERE id = $1`

	tag, err := r.tx.Exec(ctx, query,
		u.ID, u.FullName, u.OrganizationID, u.BloodType,
		u.City, u.District, u.ContactNumber, u.LastDonationDate, u.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update user")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", u.ID.String())
	}
	return nil
}

func (r pgUsers) List(ctx context.Context, f domain.UserFilter) ([]domain.User, error) {
	var w whereBuilder
	if f.Role != nil {
		w.add("u.role = $%d", *f.Role)
	}
	if f.OrganizationID != nil {
		w.add("u.organization_id = $%d", *f.OrganizationID)
	}
	if f.City != "" {
		w.add("LOWER(u.city) = LOWER($%d)", strings.TrimSpace(f.City))
	}
	if f.OrganizationCity != "" {
		w.add("LOWER(o.city) = LOWER($%d)", strings.TrimSpace(f.OrganizationCity))
	}

	query := `SELECT ` + userColumns + ` FROM users u
		LEFT JOIN organizations o ON o.id = u.organization_id` + w.String() + ` ORDER BY u.created_at, u.id`

	rows, err := r.tx.Query(ctx, query, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// --- Inventory ---

type pgInventory struct{ tx pgx.Tx }

func (r pgInventory) GetForUpdate(ctx context.Context, orgID types.ID, bt types.BloodType) (*domain.InventoryRecord, error) {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO blood_inventory (organization_id, blood_type, quantity, last_updated)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (organization_id, blood_type) DO NOTHING`, orgID, bt)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, errors.NotFound("organization", orgID.String())
		}
		return nil, errors.Wrap(err, "failed to initialize inventory record")
	}

	rec := &domain.InventoryRecord{}
	err = r.tx.QueryRow(ctx, `
		SELECT organization_id, blood_type, quantity, last_updated
		FROM blood_inventory
		WHERE organization_id = $1 AND blood_type = $2
		FOR UPDATE`, orgID, bt).Scan(&rec.OrganizationID, &rec.BloodType, &rec.Quantity, &rec.LastUpdated)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock inventory record")
	}
	return rec, nil
}

func (r pgInventory) Save(ctx context.Context, rec *domain.InventoryRecord) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE blood_inventory SET quantity = $3, last_updated = $4
		WHERE organization_id = $1 AND blood_type = $2`,
		rec.OrganizationID, rec.BloodType, rec.Quantity, rec.LastUpdated)
	if err != nil {
		return errors.Wrap(err, "failed to save inventory record")
	}
	return nil
}

func (r pgInventory) ListByOrganization(ctx context.Context, orgID types.ID) ([]domain.InventoryRecord, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT organization_id, blood_type, quantity, last_updated
		FROM blood_inventory
		WHERE organization_id = $1
		ORDER BY blood_type`, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list inventory")
	}
	defer rows.Close()

	var records []domain.InventoryRecord
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.OrganizationID, &rec.BloodType, &rec.Quantity, &rec.LastUpdated); err != nil {
			return nil, errors.Wrap(err, "failed to scan inventory record")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Alerts ---

type pgAlerts struct{ tx pgx.Tx }

const alertColumns = `a.id, a.raising_org_id, a.blood_type, a.urgency, COALESCE(a.target_district, ''), a.message,
	a.resolved, a.escalation_level, a.hospital_request_id, a.created_at, a.resolved_at, a.last_escalated_at`

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	a := &domain.Alert{}
	err := row.Scan(
		&a.ID, &a.RaisingOrgID, &a.BloodType, &a.Urgency, &a.TargetDistrict, &a.Message,
		&a.Resolved, &a.EscalationLevel, &a.HospitalRequestID, &a.CreatedAt, &a.ResolvedAt, &a.LastEscalatedAt,
	)
	return a, err
}

func (r pgAlerts) Create(ctx context.Context, a *domain.Alert) error {
	// The savepoint keeps the surrounding transaction usable when the
	// partial unique index rejects a second open alert.
	_, err := r.tx.Exec(ctx, `SAVEPOINT alert_insert`)
	if err != nil {
		return errors.Wrap(err, "failed to create savepoint")
	}

	_, err = r.tx.Exec(ctx, `
		INSERT INTO alerts (
			id, raising_org_id, blood_type, urgency, target_district, message,
			resolved, escalation_level, hospital_request_id, created_at, resolved_at, last_escalated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.RaisingOrgID, a.BloodType, a.Urgency, a.TargetDistrict, a.Message,
		a.Resolved, a.EscalationLevel, a.HospitalRequestID, a.CreatedAt, a.ResolvedAt, a.LastEscalatedAt,
	)
	if err != nil {
		_, _ = r.tx.Exec(ctx, `ROLLBACK TO SAVEPOINT alert_insert`)
		if isUniqueViolation(err) {
			return errors.Conflict("an unresolved alert already exists for this organization and blood type")
		}
		return errors.Wrap(err, "failed to create alert")
	}

	_, err = r.tx.Exec(ctx, `RELEASE SAVEPOINT alert_insert`)
	return err
}

func (r pgAlerts) get(ctx context.Context, id types.ID, lock bool) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts a WHERE a.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	a, err := scanAlert(r.tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("alert", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get alert")
	}
	return a, nil
}

func (r pgAlerts) Get(ctx context.Context, id types.ID) (*domain.Alert, error) {
	return r.get(ctx, id, false)
}

func (r pgAlerts) GetForUpdate(ctx context.Context, id types.ID) (*domain.Alert, error) {
	return r.get(ctx, id, true)
}

func (r pgAlerts) FindUnresolved(ctx context.Context, orgID types.ID, bt types.BloodType) (*domain.Alert, error) {
	a, err := scanAlert(r.tx.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM alerts a
		WHERE a.raising_org_id = $1 AND a.blood_type = $2 AND NOT a.resolved`, orgID, bt))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find unresolved alert")
	}
	return a, nil
}

func (r pgAlerts) Update(ctx context.Context, a *domain.Alert) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE alerts SET
			urgency = $2, resolved = $3, escalation_level = $4, resolved_at = $5, last_escalated_at = $6
		WHERE id = $1`,
		a.ID, a.Urgency, a.Resolved, a.EscalationLevel, a.ResolvedAt, a.LastEscalatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to update alert")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("alert", a.ID.String())
	}
	return nil
}

func (r pgAlerts) List(ctx context.Context, f domain.AlertFilter) ([]domain.Alert, error) {
	var w whereBuilder
	if f.Resolved != nil {
		w.add("a.resolved = $%d", *f.Resolved)
	}
	if f.City != "" {
		w.add("LOWER(o.city) = LOWER($%d)", strings.TrimSpace(f.City))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts a
		JOIN organizations o ON o.id = a.raising_org_id` + w.String() + ` ORDER BY a.created_at DESC, a.id`

	rows, err := r.tx.Query(ctx, query, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list alerts")
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan alert")
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// --- Transfers ---

type pgTransfers struct{ tx pgx.Tx }

const transferColumns = `id, from_org_id, to_org_id, blood_type, quantity, status, transfer_type,
	credited_on_dispatch, hospital_request_id, transfer_date, delivered_at`

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	t := &domain.Transfer{}
	err := row.Scan(
		&t.ID, &t.FromOrgID, &t.ToOrgID, &t.BloodType, &t.Quantity, &t.Status, &t.TransferType,
		&t.CreditedOnDispatch, &t.HospitalRequestID, &t.TransferDate, &t.DeliveredAt,
	)
	return t, err
}

func (r pgTransfers) Create(ctx context.Context, t *domain.Transfer) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO blood_transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.FromOrgID, t.ToOrgID, t.BloodType, t.Quantity, t.Status, t.TransferType,
		t.CreditedOnDispatch, t.HospitalRequestID, t.TransferDate, t.DeliveredAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create transfer")
	}
	return nil
}

func (r pgTransfers) GetForUpdate(ctx context.Context, id types.ID) (*domain.Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM blood_transfers WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("blood transfer", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transfer")
	}
	return t, nil
}

func (r pgTransfers) Update(ctx context.Context, t *domain.Transfer) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE blood_transfers SET status = $2, delivered_at = $3 WHERE id = $1`,
		t.ID, t.Status, t.DeliveredAt)
	if err != nil {
		return errors.Wrap(err, "failed to update transfer")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("blood transfer", t.ID.String())
	}
	return nil
}

func (r pgTransfers) ListForOrganization(ctx context.Context, orgID types.ID) ([]domain.Transfer, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT `+transferColumns+` FROM blood_transfers
		WHERE from_org_id = $1 OR to_org_id = $1
		ORDER BY transfer_date DESC, id`, orgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transfers")
	}
	defer rows.Close()

	var transfers []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan transfer")
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// --- Hospital requests ---

type pgRequests struct{ tx pgx.Tx }

const requestColumns = `id, hospital_id, cbb_id, blood_type, units_needed, urgency, status, request_date, updated_at`

func scanRequest(row pgx.Row) (*domain.HospitalRequest, error) {
	req := &domain.HospitalRequest{}
	err := row.Scan(
		&req.ID, &req.HospitalID, &req.CBBID, &req.BloodType, &req.UnitsNeeded,
		&req.Urgency, &req.Status, &req.RequestDate, &req.UpdatedAt,
	)
	return req, err
}

func (r pgRequests) Create(ctx context.Context, req *domain.HospitalRequest) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO hospital_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.HospitalID, req.CBBID, req.BloodType, req.UnitsNeeded,
		req.Urgency, req.Status, req.RequestDate, req.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create hospital request")
	}
	return nil
}

func (r pgRequests) Get(ctx context.Context, id types.ID) (*domain.HospitalRequest, error) {
	req, err := scanRequest(r.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM hospital_requests WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("hospital request", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get hospital request")
	}
	return req, nil
}

func (r pgRequests) Update(ctx context.Context, req *domain.HospitalRequest) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE hospital_requests SET status = $2, updated_at = $3 WHERE id = $1`,
		req.ID, req.Status, req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to update hospital request")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("hospital request", req.ID.String())
	}
	return nil
}

func (r pgRequests) ListByHospital(ctx context.Context, hospitalID types.ID, status *domain.RequestStatus) ([]domain.HospitalRequest, error) {
	var w whereBuilder
	w.add("hospital_id = $%d", hospitalID)
	if status != nil {
		w.add("status = $%d", *status)
	}

	rows, err := r.tx.Query(ctx, `SELECT `+requestColumns+` FROM hospital_requests`+w.String()+` ORDER BY request_date DESC, id`, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list hospital requests")
	}
	defer rows.Close()

	var requests []domain.HospitalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan hospital request")
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// --- Donations ---

type pgDonations struct{ tx pgx.Tx }

const donationColumns = `id, donor_id, node_id, donation_date, status, units_collected,
	COALESCE(medical_remarks, ''), created_at, updated_at`

func scanDonation(row pgx.Row) (*domain.DonationRequest, error) {
	d := &domain.DonationRequest{}
	err := row.Scan(
		&d.ID, &d.DonorID, &d.NodeID, &d.DonationDate, &d.Status, &d.UnitsCollected,
		&d.MedicalRemarks, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func (r pgDonations) Create(ctx context.Context, d *domain.DonationRequest) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO donation_requests (
			id, donor_id, node_id, donation_date, status, units_collected,
			medical_remarks, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		d.ID, d.DonorID, d.NodeID, d.DonationDate, d.Status, d.UnitsCollected,
		d.MedicalRemarks, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("donor already has an active donation request")
		}
		return errors.Wrap(err, "failed to create donation request")
	}
	return nil
}

func (r pgDonations) GetForUpdate(ctx context.Context, id types.ID) (*domain.DonationRequest, error) {
	d, err := scanDonation(r.tx.QueryRow(ctx, `SELECT `+donationColumns+` FROM donation_requests WHERE id = $1 FOR UPDATE`, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("donation request", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get donation request")
	}
	return d, nil
}

func (r pgDonations) Update(ctx context.Context, d *domain.DonationRequest) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE donation_requests SET
			donation_date = $2, status = $3, units_collected = $4,
			medical_remarks = NULLIF($5, ''), updated_at = $6
		WHERE id = $1`,
		d.ID, d.DonationDate, d.Status, d.UnitsCollected, d.MedicalRemarks, d.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to update donation request")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("donation request", d.ID.String())
	}
	return nil
}

func (r pgDonations) list(ctx context.Context, w whereBuilder) ([]domain.DonationRequest, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+donationColumns+` FROM donation_requests`+w.String()+` ORDER BY created_at DESC, id`, w.args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list donation requests")
	}
	defer rows.Close()

	var donations []domain.DonationRequest
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan donation request")
		}
		donations = append(donations, *d)
	}
	return donations, rows.Err()
}

func (r pgDonations) ListByDonor(ctx context.Context, donorID types.ID) ([]domain.DonationRequest, error) {
	var w whereBuilder
	w.add("donor_id = $%d", donorID)
	return r.list(ctx, w)
}

func (r pgDonations) ListByNode(ctx context.Context, nodeID types.ID, status *domain.DonationStatus) ([]domain.DonationRequest, error) {
	var w whereBuilder
	w.add("node_id = $%d", nodeID)
	if status != nil {
		w.add("status = $%d", *status)
	}
	return r.list(ctx, w)
}

func (r pgDonations) HasActive(ctx context.Context, donorID types.ID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM donation_requests
			WHERE donor_id = $1 AND status IN ('PENDING', 'APPROVED')
		)`, donorID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check active donation requests")
	}
	return exists, nil
}

var (
	_ domain.Store = (*PostgresStore)(nil)
	_ domain.Tx    = (*pgStoreTx)(nil)
)
