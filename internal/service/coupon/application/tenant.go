// internal/service/coupon/application/tenant.go
package application

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/service/coupon/domain"
)

// TenantService 负责把 slug 解析为租户句柄，并提供平台侧的租户创建。
type TenantService struct {
	repo   domain.TenantRepository
	tracer trace.Tracer
	group  singleflight.Group
	now    func() time.Time
}

// NewTenantService 创建一个新的租户服务实例
func NewTenantService(repo domain.TenantRepository, tracer trace.Tracer) *TenantService {
	return &TenantService{repo: repo, tracer: tracer, now: time.Now}
}

// Resolve 把 slug 解析为 TenantContext。未知或已停用的租户都返回 ErrTenantNotFound。
// 同一 slug 的并发解析会被合并成一次查询。
func (s *TenantService) Resolve(ctx context.Context, slug string) (domain.TenantContext, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.TenantContext{}, domain.ErrTenantNotFound
	}

	// 合并后的查询由多个请求共享，不能跟随其中某一个请求取消
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(slug, func() (interface{}, error) {
		return s.repo.FindBySlug(shared, slug)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return domain.TenantContext{}, ctx.Err()
	}
	if res.Err != nil {
		return domain.TenantContext{}, res.Err
	}
	tenant := res.Val.(*domain.Tenant)
	if !tenant.Active {
		logger.Ctx(ctx).Info().Str("tenant", slug).Msg("rejecting inactive tenant")
		return domain.TenantContext{}, domain.ErrTenantNotFound
	}
	return domain.TenantContext{TenantID: tenant.ID, Slug: tenant.Slug}, nil
}

// CreateTenant 由平台运营调用。
func (s *TenantService) CreateTenant(ctx context.Context, slug, name string) (*domain.Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateTenant")
	defer span.End()

	slug = strings.ToLower(strings.TrimSpace(slug))
	if !domain.ValidSlug(slug) {
		return nil, domain.Invalid("slug must be lowercase letters, digits and hyphens")
	}
	if strings.TrimSpace(name) == "" {
		name = slug
	}
	span.SetAttributes(attribute.String("tenant.slug", slug))

	tenant := &domain.Tenant{
		ID:        uuid.NewString(),
		Slug:      slug,
		Name:      strings.TrimSpace(name),
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, tenant); err != nil {
		return nil, recordErr(span, err)
	}
	logger.Ctx(ctx).Info().Str("tenant", slug).Str("tenant_id", tenant.ID).Msg("tenant created")
	return tenant, nil
}
