// Package domains drives the custom domain lifecycle: registration at the
// edge, verification polling and removal.
package domains

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"edgesites/internal/edgeapi"
	apperrors "edgesites/internal/errors"
	"edgesites/internal/models"
	"edgesites/internal/registry"
)

// EdgePlatform is the part of the edge API the manager needs.
type EdgePlatform interface {
	CreateCustomHostname(ctx context.Context, hostname, sslMethod string) (*edgeapi.CustomHostname, error)
	GetCustomHostname(ctx context.Context, id string) (*edgeapi.CustomHostname, error)
	FindCustomHostname(ctx context.Context, hostname string) (*edgeapi.CustomHostname, error)
	DeleteCustomHostname(ctx context.Context, id string) error
	EnsureRoute(ctx context.Context, pattern string) (*edgeapi.Route, error)
	RemoveRoute(ctx context.Context, pattern string) error
}

type Config struct {
	// PlatformDomain hosts the reserved tenant subdomains and can not be claimed as a custom domain.
	PlatformDomain string
	// CNAMETarget is what tenants point their domain at.
	CNAMETarget string
}

type Manager struct {
	registry registry.Registry
	edge     EdgePlatform
	cfg      Config
	clock    clockwork.Clock
	logger   *zap.Logger
	validate *validator.Validate
}

func NewManager(reg registry.Registry, edge EdgePlatform, cfg Config, clock clockwork.Clock, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.PlatformDomain = strings.ToLower(strings.TrimSuffix(cfg.PlatformDomain, "."))
	if cfg.CNAMETarget == "" {
		cfg.CNAMETarget = cfg.PlatformDomain
	}
	return &Manager{
		registry: reg,
		edge:     edge,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		validate: validator.New(),
	}
}

func routePattern(domain string) string {
	return domain + "/*"
}

// Normalize lowercases domain, trims whitespace and a trailing dot, and checks
// it is a syntactically valid hostname outside the platform domain.
func (m *Manager) Normalize(domain string) (string, error) {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	if len(name) > 253 || m.validate.Var(name, "required,fqdn") != nil {
		return "", &apperrors.DomainVerificationError{Domain: domain, Kind: apperrors.DomainInvalid, Reason: "not a valid hostname"}
	}
	if m.cfg.PlatformDomain != "" && (name == m.cfg.PlatformDomain || strings.HasSuffix(name, "."+m.cfg.PlatformDomain)) {
		return "", &apperrors.DomainVerificationError{Domain: domain, Kind: apperrors.DomainInvalid, Reason: "hosts under the platform domain are reserved"}
	}
	return name, nil
}

func asEdgeError(op string, err error) error {
	var edgeErr *apperrors.EdgePlatformError
	if errors.As(err, &edgeErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &apperrors.EdgePlatformError{Op: op, Err: err}
}

// AddDomain registers domain for tenantID. Adding a domain the tenant already
// owns returns the stored record unchanged.
func (m *Manager) AddDomain(ctx context.Context, tenantID, domain string, method models.VerificationMethod) (*models.CustomDomain, error) {
	if method == "" {
		method = models.VerificationHTTP
	}
	if !method.Valid() {
		return nil, &apperrors.DomainVerificationError{Domain: domain, Kind: apperrors.DomainInvalid, Reason: "unsupported verification method " + string(method)}
	}
	name, err := m.Normalize(domain)
	if err != nil {
		return nil, err
	}
	if _, err := m.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	existing, err := m.registry.GetDomain(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.TenantID != tenantID {
			return nil, &apperrors.DomainVerificationError{Domain: name, Kind: apperrors.DomainAlreadyRegistered, Reason: "registered to another tenant"}
		}
		return existing, nil
	}

	log := m.logger.With(zap.String("tenant_id", tenantID), zap.String("domain", name))

	hostname, err := m.edge.CreateCustomHostname(ctx, name, method.EdgeSSLMethod())
	if edgeapi.IsDuplicateHostname(err) {
		log.Info("custom hostname already exists at the edge, reusing it")
		hostname, err = m.edge.FindCustomHostname(ctx, name)
		if err == nil && hostname == nil {
			err = &apperrors.EdgePlatformError{Op: "find-custom-hostname", Messages: []string{"duplicate reported but hostname not found"}}
		}
	}
	if err != nil {
		log.Error("failed to register custom hostname", zap.Error(err))
		return nil, asEdgeError("create-custom-hostname", err)
	}

	if _, err := m.edge.EnsureRoute(ctx, routePattern(name)); err != nil {
		log.Warn("failed to attach worker route", zap.Error(err))
	}

	now := m.clock.Now().UTC()
	record := &models.CustomDomain{
		Domain:             name,
		TenantID:           tenantID,
		Status:             models.DomainStatusPending,
		SSLStatus:          models.SSLStatusPending,
		VerificationMethod: method,
		HostnameID:         hostname.ID,
		CNAMETarget:        m.cfg.CNAMETarget,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	applyVerification(record, hostname)

	if err := m.registry.UpsertDomain(ctx, record); err != nil {
		return nil, err
	}
	log.Info("custom domain added", zap.String("hostname_id", record.HostnameID), zap.String("method", string(method)))
	return record, nil
}

func (m *Manager) GetDomain(ctx context.Context, domain string) (*models.CustomDomain, error) {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), "."))
	d, err := m.registry.GetDomain(ctx, name)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &apperrors.DomainVerificationError{Domain: name, Kind: apperrors.DomainNotFound}
	}
	return d, nil
}

// GetVerificationInstructions renders the stored verification data. It does no network I/O.
func (m *Manager) GetVerificationInstructions(ctx context.Context, domain string) (*models.VerificationInstructions, error) {
	d, err := m.GetDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	return models.InstructionsFor(d), nil
}

func (m *Manager) ListDomains(ctx context.Context, tenantID string) ([]*models.CustomDomain, error) {
	if _, err := m.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return m.registry.ListDomains(ctx, tenantID)
}

// PollStatus queries the edge once and advances the stored state. Edge errors
// leave the record untouched.
func (m *Manager) PollStatus(ctx context.Context, domain string) (*models.CustomDomain, error) {
	d, err := m.GetDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if d.Terminal() && d.SSLSettled() {
		return d, nil
	}

	var hostname *edgeapi.CustomHostname
	if d.HostnameID != "" {
		hostname, err = m.edge.GetCustomHostname(ctx, d.HostnameID)
	} else {
		hostname, err = m.edge.FindCustomHostname(ctx, d.Domain)
		if err == nil && hostname == nil {
			return nil, &apperrors.DomainVerificationError{Domain: d.Domain, Kind: apperrors.DomainRejected, Reason: "hostname is not registered at the edge"}
		}
	}
	if err != nil {
		m.logger.Warn("domain status poll failed", zap.String("domain", d.Domain), zap.Error(err))
		return nil, asEdgeError("get-custom-hostname", err)
	}

	updated := *d
	updated.HostnameID = hostname.ID
	updated.Status = d.Status.Advance(hostnameStatus(hostname.Status))
	updated.SSLStatus = d.SSLStatus.Advance(sslStatus(hostname.SSL.Status))
	applyVerification(&updated, hostname)

	now := m.clock.Now().UTC()
	if updated.Status == models.DomainStatusActive && updated.VerifiedAt == nil {
		updated.VerifiedAt = &now
	}
	if updated.Status == models.DomainStatusFailed && d.Status != models.DomainStatusFailed {
		msg := "edge platform reported hostname status " + hostname.Status
		if details := hostname.ValidationErrorMessages(); len(details) > 0 {
			msg += ": " + strings.Join(details, "; ")
		}
		updated.ErrorMessage = &msg
	}

	if changed(d, &updated) {
		updated.UpdatedAt = now
		if err := m.registry.UpsertDomain(ctx, &updated); err != nil {
			return nil, err
		}
		m.logger.Info("domain status changed",
			zap.String("domain", d.Domain),
			zap.String("status", string(updated.Status)),
			zap.String("ssl_status", string(updated.SSLStatus)),
		)
	}
	return &updated, nil
}

func changed(before, after *models.CustomDomain) bool {
	return before.Status != after.Status ||
		before.SSLStatus != after.SSLStatus ||
		before.HostnameID != after.HostnameID ||
		before.VerificationName != after.VerificationName ||
		before.VerificationValue != after.VerificationValue ||
		(before.VerifiedAt == nil) != (after.VerifiedAt == nil)
}

// MarkTimedOut fails a domain whose verification window has elapsed. Terminal
// domains are returned unchanged.
func (m *Manager) MarkTimedOut(ctx context.Context, domain, reason string) (*models.CustomDomain, error) {
	d, err := m.GetDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if d.Terminal() {
		return d, nil
	}

	d.Status = d.Status.Advance(models.DomainStatusFailed)
	d.SSLStatus = d.SSLStatus.Advance(models.SSLStatusFailed)
	if reason == "" {
		reason = "verification timed out"
	}
	d.ErrorMessage = &reason
	d.UpdatedAt = m.clock.Now().UTC()
	if err := m.registry.UpsertDomain(ctx, d); err != nil {
		return nil, err
	}
	m.logger.Warn("domain verification timed out", zap.String("domain", d.Domain), zap.String("tenant_id", d.TenantID))
	return d, nil
}

// RemoveDomain detaches the route, deletes the edge hostname and then the record.
// The record survives an edge failure so removal can be retried.
func (m *Manager) RemoveDomain(ctx context.Context, domain string) error {
	d, err := m.GetDomain(ctx, domain)
	if err != nil {
		return err
	}
	log := m.logger.With(zap.String("domain", d.Domain), zap.String("tenant_id", d.TenantID))

	if err := m.edge.RemoveRoute(ctx, routePattern(d.Domain)); err != nil {
		log.Warn("failed to detach worker route", zap.Error(err))
	}
	if d.HostnameID != "" {
		if err := m.edge.DeleteCustomHostname(ctx, d.HostnameID); err != nil {
			log.Error("failed to delete custom hostname", zap.Error(err))
			return asEdgeError("delete-custom-hostname", err)
		}
	}
	if err := m.registry.DeleteDomain(ctx, d.Domain); err != nil {
		return err
	}
	log.Info("custom domain removed")
	return nil
}

// RemoveTenantDomains removes every domain of a tenant, continuing past failures.
func (m *Manager) RemoveTenantDomains(ctx context.Context, tenantID string) error {
	domains, err := m.registry.ListDomains(ctx, tenantID)
	if err != nil {
		return err
	}
	var errs []error
	for _, d := range domains {
		if err := m.RemoveDomain(ctx, d.Domain); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TenantForDomain returns the tenant serving a custom domain. Failed domains
// and unknown hosts report ok=false.
func (m *Manager) TenantForDomain(ctx context.Context, host string) (tenantID string, ok bool, err error) {
	return registry.TenantForHost(ctx, m.registry, strings.ToLower(strings.TrimSuffix(host, ".")))
}
