// Package platform is the single entry point callers use to manage tenants,
// deployments and custom domains.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"edgesites/internal/caching"
	"edgesites/internal/deploy"
	apperrors "edgesites/internal/errors"
	"edgesites/internal/models"
	"edgesites/internal/registry"
)

const (
	DefaultListLimit        = 50
	MaxListLimit            = 500
	DefaultBatchConcurrency = 4
)

// Deployer uploads site content. deploy.Engine implements it.
type Deployer interface {
	Deploy(ctx context.Context, tenantID, localRoot, basePrefix string) (*models.DeploymentResult, error)
	DeployFiles(ctx context.Context, tenantID, localRoot, basePrefix string, relPaths []string) (*models.DeploymentResult, error)
	Status(ctx context.Context, tenantID string) (*models.DeploymentStatus, error)
	Purge(ctx context.Context, tenantID string) (int, error)
}

// DomainManager drives custom domains. domains.Manager implements it.
type DomainManager interface {
	AddDomain(ctx context.Context, tenantID, domain string, method models.VerificationMethod) (*models.CustomDomain, error)
	GetDomain(ctx context.Context, domain string) (*models.CustomDomain, error)
	GetVerificationInstructions(ctx context.Context, domain string) (*models.VerificationInstructions, error)
	ListDomains(ctx context.Context, tenantID string) ([]*models.CustomDomain, error)
	PollStatus(ctx context.Context, domain string) (*models.CustomDomain, error)
	RemoveDomain(ctx context.Context, domain string) error
	RemoveTenantDomains(ctx context.Context, tenantID string) error
	TenantForDomain(ctx context.Context, host string) (string, bool, error)
}

type Service interface {
	CreateTenant(ctx context.Context, req *CreateTenantRequest) (*models.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	ListTenants(ctx context.Context, limit, offset int) ([]*models.Tenant, error)
	UpdateTenantMetadata(ctx context.Context, tenantID string, patch map[string]string) (*models.Tenant, error)
	DeleteTenant(ctx context.Context, tenantID string) error

	DeployTenantSite(ctx context.Context, req *DeployRequest) (*models.DeploymentResult, error)
	RedeployFailedFiles(ctx context.Context, req *DeployRequest, relPaths []string) (*models.DeploymentResult, error)
	DeployBatch(ctx context.Context, reqs []*DeployRequest) *BatchResult
	GetDeploymentStatus(ctx context.Context, tenantID string) (*models.DeploymentStatus, error)

	AddCustomDomain(ctx context.Context, tenantID, domain string, method models.VerificationMethod) (*models.VerificationInstructions, error)
	GetDomainStatus(ctx context.Context, domain string) (*models.CustomDomain, error)
	GetDomain(ctx context.Context, domain string) (*models.CustomDomain, error)
	GetVerificationInstructions(ctx context.Context, domain string) (*models.VerificationInstructions, error)
	ListTenantDomains(ctx context.Context, tenantID string) ([]*models.CustomDomain, error)
	RemoveCustomDomain(ctx context.Context, domain string) error

	ResolveTenantFromHost(ctx context.Context, host string) (string, bool, error)
}

type Config struct {
	PlatformDomain   string
	BatchConcurrency int
	// DeployRoot is the only directory tree deployments may read from.
	// Requests are refused when it is empty.
	DeployRoot string
}

type CreateTenantRequest struct {
	Name     string            `json:"name" validate:"required,max=200"`
	Slug     string            `json:"slug" validate:"omitempty,max=56"`
	OwnerID  *string           `json:"owner_id,omitempty" validate:"omitempty,max=200"`
	Metadata map[string]string `json:"metadata,omitempty" validate:"omitempty,dive,keys,required,max=100,endkeys,max=2000"`
}

type DeployRequest struct {
	TenantID   string `json:"tenant_id" validate:"required"`
	LocalRoot  string `json:"local_path" validate:"required"`
	BasePrefix string `json:"base_prefix,omitempty" validate:"omitempty,max=512"`
}

// BatchOutcome is the result of one tenant in a batch. Error is set when the
// deployment could not run at all.
type BatchOutcome struct {
	TenantID string                   `json:"tenant_id"`
	Result   *models.DeploymentResult `json:"result,omitempty"`
	Error    string                   `json:"error,omitempty"`
	err      error
}

func (o *BatchOutcome) Err() error { return o.err }

type BatchResult struct {
	Outcomes  []*BatchOutcome `json:"outcomes"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
}

type platformService struct {
	registry registry.Registry
	deployer Deployer
	domains  DomainManager
	cache    caching.CacheService
	cfg      Config
	clock    clockwork.Clock
	logger   *zap.Logger
	validate *validator.Validate
}

// NewService wires the facade. cache may be nil when no shared host cache is deployed.
func NewService(reg registry.Registry, deployer Deployer, domains DomainManager, cache caching.CacheService, cfg Config, clock clockwork.Clock, logger *zap.Logger) Service {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultBatchConcurrency
	}
	cfg.PlatformDomain = strings.ToLower(strings.TrimSuffix(cfg.PlatformDomain, "."))
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &platformService{
		registry: reg,
		deployer: deployer,
		domains:  domains,
		cache:    cache,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		validate: validator.New(),
	}
}

// translate lets taxonomy errors and cancellation through untouched and
// classifies anything else as a registry failure of the given operation.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound   *apperrors.TenantNotFoundError
		domainErr  *apperrors.DomainVerificationError
		deployErr  *apperrors.DeploymentError
		storeErr   *apperrors.ObjectStoreOperationError
		edgeErr    *apperrors.EdgePlatformError
		existsErr  *apperrors.AlreadyExistsError
		invalidErr *apperrors.ValidationError
		regErr     *apperrors.RegistryError
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &domainErr), errors.As(err, &deployErr),
		errors.As(err, &storeErr), errors.As(err, &edgeErr), errors.As(err, &existsErr),
		errors.As(err, &invalidErr), errors.As(err, &regErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &apperrors.RegistryError{Op: op, Err: err}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &apperrors.ValidationError{Field: strings.ToLower(fe.Field()), Message: fmt.Sprintf("failed %q validation", fe.Tag())}
	}
	return &apperrors.ValidationError{Message: err.Error()}
}

func (s *platformService) CreateTenant(ctx context.Context, req *CreateTenantRequest) (*models.Tenant, error) {
	if req == nil {
		return nil, &apperrors.ValidationError{Message: "request is required"}
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	slug := req.Slug
	if slug == "" {
		slug = models.Slugify(req.Name)
	}
	if !models.ValidSlug(slug) {
		return nil, &apperrors.ValidationError{Field: "slug", Message: "must be lowercase letters, digits and inner hyphens"}
	}

	tenant := models.NewTenant(strings.TrimSpace(req.Name), slug, s.cfg.PlatformDomain, req.OwnerID, req.Metadata, s.clock.Now().UTC())
	if err := s.registry.CreateTenant(ctx, tenant); err != nil {
		return nil, translate("create tenant", err)
	}
	s.logger.Info("tenant created", zap.String("tenant_id", tenant.TenantID), zap.String("subdomain", tenant.Subdomain))
	return tenant, nil
}

func (s *platformService) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	t, err := s.registry.GetTenant(ctx, tenantID)
	return t, translate("get tenant", err)
}

func (s *platformService) ListTenants(ctx context.Context, limit, offset int) ([]*models.Tenant, error) {
	if offset < 0 {
		return nil, &apperrors.ValidationError{Field: "offset", Message: "must not be negative"}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	tenants, err := s.registry.ListTenants(ctx, limit, offset)
	return tenants, translate("list tenants", err)
}

func (s *platformService) UpdateTenantMetadata(ctx context.Context, tenantID string, patch map[string]string) (*models.Tenant, error) {
	for k := range patch {
		if strings.TrimSpace(k) == "" {
			return nil, &apperrors.ValidationError{Field: "metadata", Message: "keys must not be empty"}
		}
	}
	t, err := s.registry.UpdateTenantMetadata(ctx, tenantID, patch)
	return t, translate("update tenant metadata", err)
}

// DeleteTenant removes the tenant's objects, its custom hostnames and routes,
// its domain rows and finally the tenant row. A failure stops the cascade with
// the tenant row still in place so the delete can be repeated.
func (s *platformService) DeleteTenant(ctx context.Context, tenantID string) error {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return translate("delete tenant", err)
	}
	log := s.logger.With(zap.String("tenant_id", tenantID))

	removed, err := s.deployer.Purge(ctx, tenantID)
	if err != nil {
		log.Error("failed to purge tenant objects", zap.Error(err))
		return translate("purge tenant objects", err)
	}
	if err := s.domains.RemoveTenantDomains(ctx, tenantID); err != nil {
		log.Error("failed to remove tenant domains", zap.Error(err))
		return translate("remove tenant domains", err)
	}
	if err := s.registry.DeleteTenant(ctx, tenantID); err != nil {
		return translate("delete tenant", err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidateTenantCache(ctx, tenantID); err != nil {
			log.Warn("failed to invalidate tenant host cache", zap.Error(err))
		}
	}
	log.Info("tenant deleted", zap.Int("objects_removed", removed))
	return nil
}

// checkDeployRequest validates req and returns its local root resolved under
// the configured deploy root.
func (s *platformService) checkDeployRequest(ctx context.Context, req *DeployRequest) (string, error) {
	if req == nil {
		return "", &apperrors.ValidationError{Message: "request is required"}
	}
	if err := s.validate.Struct(req); err != nil {
		return "", validationError(err)
	}
	if _, err := s.registry.GetTenant(ctx, req.TenantID); err != nil {
		return "", translate("deploy", err)
	}
	root, err := deploy.ResolveLocalRoot(s.cfg.DeployRoot, req.LocalRoot)
	if err != nil {
		s.logger.Warn("rejected deployment path",
			zap.String("tenant_id", req.TenantID), zap.String("local_path", req.LocalRoot), zap.Error(err))
		return "", &apperrors.DeploymentError{Kind: apperrors.DeploymentPathNotFound, TenantID: req.TenantID, Path: req.LocalRoot, Err: deploy.ErrPathNotAllowed}
	}
	return root, nil
}

func (s *platformService) DeployTenantSite(ctx context.Context, req *DeployRequest) (*models.DeploymentResult, error) {
	root, err := s.checkDeployRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.deployer.Deploy(ctx, req.TenantID, root, req.BasePrefix)
	return result, translate("deploy", err)
}

// RedeployFailedFiles uploads only relPaths, typically the FailedPaths of an
// earlier result.
func (s *platformService) RedeployFailedFiles(ctx context.Context, req *DeployRequest, relPaths []string) (*models.DeploymentResult, error) {
	if len(relPaths) == 0 {
		return nil, &apperrors.ValidationError{Field: "files", Message: "at least one file is required"}
	}
	root, err := s.checkDeployRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	result, err := s.deployer.DeployFiles(ctx, req.TenantID, root, req.BasePrefix, relPaths)
	return result, translate("redeploy", err)
}

// DeployBatch deploys several tenants with bounded parallelism. One tenant
// failing never stops the others.
func (s *platformService) DeployBatch(ctx context.Context, reqs []*DeployRequest) *BatchResult {
	out := &BatchResult{Outcomes: make([]*BatchOutcome, len(reqs))}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, req := range reqs {
		outcome := &BatchOutcome{}
		if req != nil {
			outcome.TenantID = req.TenantID
		}
		out.Outcomes[i] = outcome
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcome.err = err
			} else {
				outcome.Result, outcome.err = s.DeployTenantSite(ctx, req)
			}
			if outcome.err != nil {
				outcome.Error = outcome.err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range out.Outcomes {
		if o.err == nil && o.Result != nil && o.Result.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	s.logger.Info("batch deployment finished",
		zap.Int("tenants", len(reqs)), zap.Int("succeeded", out.Succeeded), zap.Int("failed", out.Failed))
	return out
}

func (s *platformService) GetDeploymentStatus(ctx context.Context, tenantID string) (*models.DeploymentStatus, error) {
	if _, err := s.registry.GetTenant(ctx, tenantID); err != nil {
		return nil, translate("deployment status", err)
	}
	status, err := s.deployer.Status(ctx, tenantID)
	return status, translate("deployment status", err)
}

func (s *platformService) AddCustomDomain(ctx context.Context, tenantID, domain string, method models.VerificationMethod) (*models.VerificationInstructions, error) {
	d, err := s.domains.AddDomain(ctx, tenantID, domain, method)
	if err != nil {
		return nil, translate("add custom domain", err)
	}
	s.forgetHost(ctx, d.Domain)
	return models.InstructionsFor(d), nil
}

// GetDomainStatus polls the edge once and returns the updated record.
func (s *platformService) GetDomainStatus(ctx context.Context, domain string) (*models.CustomDomain, error) {
	d, err := s.domains.PollStatus(ctx, domain)
	if err != nil {
		return nil, translate("domain status", err)
	}
	if d.Status == models.DomainStatusFailed {
		s.forgetHost(ctx, d.Domain)
	}
	return d, nil
}

func (s *platformService) GetDomain(ctx context.Context, domain string) (*models.CustomDomain, error) {
	d, err := s.domains.GetDomain(ctx, domain)
	return d, translate("get domain", err)
}

func (s *platformService) GetVerificationInstructions(ctx context.Context, domain string) (*models.VerificationInstructions, error) {
	in, err := s.domains.GetVerificationInstructions(ctx, domain)
	return in, translate("verification instructions", err)
}

func (s *platformService) ListTenantDomains(ctx context.Context, tenantID string) ([]*models.CustomDomain, error) {
	ds, err := s.domains.ListDomains(ctx, tenantID)
	return ds, translate("list domains", err)
}

func (s *platformService) RemoveCustomDomain(ctx context.Context, domain string) error {
	if err := s.domains.RemoveDomain(ctx, domain); err != nil {
		return translate("remove custom domain", err)
	}
	s.forgetHost(ctx, strings.ToLower(strings.TrimSuffix(strings.TrimSpace(domain), ".")))
	return nil
}

// forgetHost drops a host from the shared cache so routers pick up the change
// on their next miss.
func (s *platformService) forgetHost(ctx context.Context, host string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteHost(ctx, host); err != nil {
		s.logger.Warn("failed to drop host from cache", zap.String("domain", host), zap.Error(err))
	}
}

// ResolveTenantFromHost maps a request host to a tenant: reserved platform
// subdomains by their label, everything else through the domain records.
func (s *platformService) ResolveTenantFromHost(ctx context.Context, host string) (string, bool, error) {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return "", false, &apperrors.ValidationError{Field: "host", Message: "is required"}
	}
	if s.cfg.PlatformDomain != "" && (host == s.cfg.PlatformDomain || strings.HasSuffix(host, "."+s.cfg.PlatformDomain)) {
		label := strings.TrimSuffix(host, "."+s.cfg.PlatformDomain)
		if _, ok := models.SlugFromTenantID(label); !ok {
			return "", false, nil
		}
		_, err := s.registry.GetTenant(ctx, label)
		if errors.Is(err, apperrors.ErrTenantNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, translate("resolve host", err)
		}
		return label, true, nil
	}
	tenantID, found, err := s.domains.TenantForDomain(ctx, host)
	return tenantID, found, translate("resolve host", err)
}
