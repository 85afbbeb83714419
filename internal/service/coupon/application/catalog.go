// internal/service/coupon/application/catalog.go
package application

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/service/coupon/domain"
	"nexus-coupon/internal/service/coupon/port"
)

// CatalogService 管理租户的优惠活动目录
type CatalogService struct {
	tenants              *TenantService
	repo                 domain.CouponDefinitionRepository
	rules                port.RuleEngine
	tracer               trace.Tracer
	defaultMaxRedemption int
	now                  func() time.Time
}

// NewCatalogService 创建一个新的活动目录服务实例
func NewCatalogService(tenants *TenantService, repo domain.CouponDefinitionRepository, rules port.RuleEngine, tracer trace.Tracer, defaultMaxRedemptions int) *CatalogService {
	if defaultMaxRedemptions < 1 {
		defaultMaxRedemptions = 1
	}
	return &CatalogService{
		tenants:              tenants,
		repo:                 repo,
		rules:                rules,
		tracer:               tracer,
		defaultMaxRedemption: defaultMaxRedemptions,
		now:                  time.Now,
	}
}

// CreateCoupon 新建一个活动，未指定次数上限时使用默认值。
func (s *CatalogService) CreateCoupon(ctx context.Context, slug string, in *CouponDefinitionInput) (*domain.CouponDefinition, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateCoupon")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}

	now := s.now().UTC()
	def := &domain.CouponDefinition{
		ID:              uuid.NewString(),
		TenantID:        tc.TenantID,
		Title:           strings.TrimSpace(in.Title),
		Discount:        strings.TrimSpace(in.Discount),
		ExpiresAt:       utcPtr(in.ExpiresAt),
		Active:          true,
		MaxRedemptions:  in.MaxRedemptions,
		CodePrefix:      strings.ToUpper(strings.TrimSpace(in.CodePrefix)),
		EligibilityRule: strings.TrimSpace(in.EligibilityRule),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.Active != nil {
		def.Active = *in.Active
	}
	if def.MaxRedemptions == 0 {
		def.MaxRedemptions = s.defaultMaxRedemption
	}
	if err := s.validate(def); err != nil {
		return nil, recordErr(span, err)
	}
	if err := s.repo.Create(ctx, tc, def); err != nil {
		return nil, recordErr(span, err)
	}

	span.SetAttributes(attribute.String("coupon.id", def.ID))
	logger.Ctx(ctx).Info().Str("tenant", tc.Slug).Str("coupon_id", def.ID).Str("title", def.Title).Msg("coupon definition created")
	return def, nil
}

// GetCoupon 读取单个活动
func (s *CatalogService) GetCoupon(ctx context.Context, slug, id string) (*domain.CouponDefinition, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetCoupon")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	def, err := s.repo.FindByID(ctx, tc, id)
	return def, recordErr(span, err)
}

// ListCoupons 列出租户的全部活动
func (s *CatalogService) ListCoupons(ctx context.Context, slug string) ([]*domain.CouponDefinition, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListCoupons")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	defs, err := s.repo.List(ctx, tc)
	return defs, recordErr(span, err)
}

// UpdateCoupon 部分更新活动。已发放的券保留各自发放时的上限和过期时间。
func (s *CatalogService) UpdateCoupon(ctx context.Context, slug, id string, patch *CouponDefinitionPatch) (*domain.CouponDefinition, error) {
	ctx, span := s.tracer.Start(ctx, "service.UpdateCoupon")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	def, err := s.repo.FindByID(ctx, tc, id)
	if err != nil {
		return nil, recordErr(span, err)
	}

	if patch.Title != nil {
		def.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Discount != nil {
		def.Discount = strings.TrimSpace(*patch.Discount)
	}
	if patch.ClearExpiresAt {
		def.ExpiresAt = nil
	} else if patch.ExpiresAt != nil {
		def.ExpiresAt = utcPtr(patch.ExpiresAt)
	}
	if patch.Active != nil {
		def.Active = *patch.Active
	}
	if patch.MaxRedemptions != nil {
		def.MaxRedemptions = *patch.MaxRedemptions
	}
	if patch.CodePrefix != nil {
		def.CodePrefix = strings.ToUpper(strings.TrimSpace(*patch.CodePrefix))
	}
	if patch.EligibilityRule != nil {
		def.EligibilityRule = strings.TrimSpace(*patch.EligibilityRule)
	}
	def.UpdatedAt = s.now().UTC()

	if err := s.validate(def); err != nil {
		return nil, recordErr(span, err)
	}
	if err := s.repo.Update(ctx, tc, def); err != nil {
		return nil, recordErr(span, err)
	}
	logger.Ctx(ctx).Info().Str("tenant", tc.Slug).Str("coupon_id", def.ID).Msg("coupon definition updated")
	return def, nil
}

// DeleteCoupon 硬删除活动，已发放的券不受影响。
func (s *CatalogService) DeleteCoupon(ctx context.Context, slug, id string) error {
	ctx, span := s.tracer.Start(ctx, "service.DeleteCoupon")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return recordErr(span, err)
	}
	if err := s.repo.Delete(ctx, tc, id); err != nil {
		return recordErr(span, err)
	}
	logger.Ctx(ctx).Info().Str("tenant", tc.Slug).Str("coupon_id", id).Msg("coupon definition deleted")
	return nil
}

func (s *CatalogService) validate(def *domain.CouponDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.EligibilityRule != "" && s.rules != nil {
		if err := s.rules.Compile(def.EligibilityRule); err != nil {
			return domain.Invalid("invalid eligibility rule: " + err.Error())
		}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
