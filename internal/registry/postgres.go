package registry

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "edgesites/internal/errors"
	"edgesites/internal/models"
)

//go:embed schema.sql
var Schema string

// DB is the subset of pgxpool.Pool used by the registry. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const pgForeignKeyViolation = "23503"

const (
	tenantColumns = `tenant_id, name, slug, subdomain, owner_id, metadata, created_at, updated_at`
	domainColumns = `domain, tenant_id, status, ssl_status, verification_method, hostname_id,
		verification_name, verification_value, cname_target, error_message, created_at, updated_at, verified_at`

	insertTenantSQL = `
		INSERT INTO tenants (` + tenantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	getTenantSQL = `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE tenant_id = $1`

	listTenantsSQL = `
		SELECT ` + tenantColumns + `
		FROM tenants
		ORDER BY created_at, tenant_id
		LIMIT $1 OFFSET $2`

	updateMetadataSQL = `
		UPDATE tenants
		SET metadata = (metadata || $2::jsonb) - $3::text[], updated_at = NOW()
		WHERE tenant_id = $1
		RETURNING ` + tenantColumns

	deleteTenantSQL = `DELETE FROM tenants WHERE tenant_id = $1`

	upsertDomainSQL = `
		INSERT INTO domains (` + domainColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (domain) DO UPDATE SET
			status = EXCLUDED.status,
			ssl_status = EXCLUDED.ssl_status,
			verification_method = EXCLUDED.verification_method,
			hostname_id = EXCLUDED.hostname_id,
			verification_name = EXCLUDED.verification_name,
			verification_value = EXCLUDED.verification_value,
			cname_target = EXCLUDED.cname_target,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at,
			verified_at = EXCLUDED.verified_at
		WHERE domains.tenant_id = EXCLUDED.tenant_id`

	getDomainSQL = `
		SELECT ` + domainColumns + `
		FROM domains
		WHERE domain = $1`

	listDomainsSQL = `
		SELECT ` + domainColumns + `
		FROM domains
		WHERE tenant_id = $1
		ORDER BY domain`

	listPendingDomainsSQL = `
		SELECT ` + domainColumns + `
		FROM domains
		WHERE status IN ('pending', 'pending_verification')
		   OR (status = 'active' AND ssl_status IN ('pending', 'pending_validation'))
		ORDER BY created_at, domain
		LIMIT $1`

	deleteDomainSQL = `DELETE FROM domains WHERE domain = $1`
)

type PostgresRegistry struct {
	db DB
}

func NewPostgresRegistry(db DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// EnsureSchema creates the tables if they do not exist yet.
func (r *PostgresRegistry) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	return err
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	t := &models.Tenant{}
	var metadata []byte
	err := row.Scan(&t.TenantID, &t.Name, &t.Slug, &t.Subdomain, &t.OwnerID, &metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Metadata = map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", t.TenantID, err)
		}
	}
	return t, nil
}

func scanDomain(row pgx.Row) (*models.CustomDomain, error) {
	d := &models.CustomDomain{}
	var status, sslStatus, method string
	err := row.Scan(&d.Domain, &d.TenantID, &status, &sslStatus, &method, &d.HostnameID,
		&d.VerificationName, &d.VerificationValue, &d.CNAMETarget, &d.ErrorMessage,
		&d.CreatedAt, &d.UpdatedAt, &d.VerifiedAt)
	if err != nil {
		return nil, err
	}
	d.Status = models.DomainStatus(status)
	d.SSLStatus = models.SSLStatus(sslStatus)
	d.VerificationMethod = models.VerificationMethod(method)
	return d, nil
}

func (r *PostgresRegistry) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	metadata, err := json.Marshal(tenant.Metadata)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, insertTenantSQL,
		tenant.TenantID, tenant.Name, tenant.Slug, tenant.Subdomain, tenant.OwnerID, metadata,
		tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tenant %s: %w", tenant.TenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.AlreadyExistsError{Entity: "tenant", Key: tenant.Slug}
	}
	return nil
}

func (r *PostgresRegistry) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	t, err := scanTenant(r.db.QueryRow(ctx, getTenantSQL, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperrors.TenantNotFoundError{TenantID: tenantID}
	}
	return t, err
}

func (r *PostgresRegistry) ListTenants(ctx context.Context, limit, offset int) ([]*models.Tenant, error) {
	// LIMIT NULL means no limit
	var lim any
	if limit > 0 {
		lim = limit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, listTenantsSQL, lim, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make([]*models.Tenant, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (r *PostgresRegistry) UpdateTenantMetadata(ctx context.Context, tenantID string, patch map[string]string) (*models.Tenant, error) {
	set := map[string]string{}
	removed := []string{}
	for k, v := range patch {
		if v == "" {
			removed = append(removed, k)
			continue
		}
		set[k] = v
	}
	setJSON, err := json.Marshal(set)
	if err != nil {
		return nil, err
	}

	t, err := scanTenant(r.db.QueryRow(ctx, updateMetadataSQL, tenantID, setJSON, removed))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperrors.TenantNotFoundError{TenantID: tenantID}
	}
	return t, err
}

func (r *PostgresRegistry) DeleteTenant(ctx context.Context, tenantID string) error {
	tag, err := r.db.Exec(ctx, deleteTenantSQL, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.TenantNotFoundError{TenantID: tenantID}
	}
	return nil
}

func (r *PostgresRegistry) UpsertDomain(ctx context.Context, d *models.CustomDomain) error {
	tag, err := r.db.Exec(ctx, upsertDomainSQL,
		d.Domain, d.TenantID, string(d.Status), string(d.SSLStatus), string(d.VerificationMethod), d.HostnameID,
		d.VerificationName, d.VerificationValue, d.CNAMETarget, d.ErrorMessage,
		d.CreatedAt, d.UpdatedAt, d.VerifiedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return &apperrors.TenantNotFoundError{TenantID: d.TenantID}
		}
		return fmt.Errorf("upsert domain %s: %w", d.Domain, err)
	}
	// the conflict clause skips rows owned by another tenant
	if tag.RowsAffected() == 0 {
		return &apperrors.DomainVerificationError{
			Domain: d.Domain,
			Kind:   apperrors.DomainAlreadyRegistered,
			Reason: "registered to another tenant",
		}
	}
	return nil
}

func (r *PostgresRegistry) GetDomain(ctx context.Context, domain string) (*models.CustomDomain, error) {
	d, err := scanDomain(r.db.QueryRow(ctx, getDomainSQL, domain))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *PostgresRegistry) queryDomains(ctx context.Context, sql string, args ...any) ([]*models.CustomDomain, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.CustomDomain, 0)
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRegistry) ListDomains(ctx context.Context, tenantID string) ([]*models.CustomDomain, error) {
	return r.queryDomains(ctx, listDomainsSQL, tenantID)
}

func (r *PostgresRegistry) ListPendingDomains(ctx context.Context, limit int) ([]*models.CustomDomain, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	return r.queryDomains(ctx, listPendingDomainsSQL, lim)
}

func (r *PostgresRegistry) DeleteDomain(ctx context.Context, domain string) error {
	tag, err := r.db.Exec(ctx, deleteDomainSQL, domain)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.DomainVerificationError{Domain: domain, Kind: apperrors.DomainNotFound}
	}
	return nil
}

func (r *PostgresRegistry) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.Ping(ctx)
}
