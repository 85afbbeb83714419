// internal/service/coupon/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/service/coupon/domain"
	"nexus-coupon/internal/service/coupon/port"
)

// DuplicateCheckPolicy 决定发券前查询已有券失败时的行为。
type DuplicateCheckPolicy string

const (
	// DuplicateCheckProceed 继续发新券，唯一索引兜底防止同一顾客拿到两张。
	DuplicateCheckProceed DuplicateCheckPolicy = "proceed"
	// DuplicateCheckReject 直接返回错误，让调用方重试。
	DuplicateCheckReject DuplicateCheckPolicy = "reject"
)

// ParseDuplicateCheckPolicy 解析配置值，空串视为 proceed。
func ParseDuplicateCheckPolicy(s string) (DuplicateCheckPolicy, error) {
	switch DuplicateCheckPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DuplicateCheckProceed:
		return DuplicateCheckProceed, nil
	case DuplicateCheckReject:
		return DuplicateCheckReject, nil
	default:
		return "", fmt.Errorf("unknown duplicate check policy %q", s)
	}
}

// Options 是优惠券服务的可调参数
type Options struct {
	CodePrefix              string
	MaxCodeAttempts         int
	RedeemAttempts          int
	OnDuplicateCheckFailure DuplicateCheckPolicy
	Now                     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.CodePrefix == "" {
		o.CodePrefix = "CPN"
	}
	if o.MaxCodeAttempts <= 0 {
		o.MaxCodeAttempts = 10
	}
	if o.RedeemAttempts <= 0 {
		o.RedeemAttempts = 3
	}
	if o.OnDuplicateCheckFailure == "" {
		o.OnDuplicateCheckFailure = DuplicateCheckProceed
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps 汇总优惠券服务依赖的仓储和端口。Locker、Publisher、Rules 可以为 nil。
type Deps struct {
	Tenants     *TenantService
	Definitions domain.CouponDefinitionRepository
	Issued      domain.IssuedCouponRepository
	Limiter     port.RateLimiter
	Locker      port.Locker
	Publisher   port.EventPublisher
	Rules       port.RuleEngine
	Metrics     *Metrics
	Tracer      trace.Tracer
}

// CouponService 实现发券、校验核销以及管理端对已发券的操作。
type CouponService struct {
	tenants     *TenantService
	definitions domain.CouponDefinitionRepository
	issued      domain.IssuedCouponRepository
	limiter     port.RateLimiter
	locker      port.Locker
	publisher   port.EventPublisher
	rules       port.RuleEngine
	metrics     *Metrics
	tracer      trace.Tracer
	opts        Options
}

// NewCouponService 创建一个新的优惠券服务实例
func NewCouponService(deps Deps, opts Options) *CouponService {
	return &CouponService{
		tenants:     deps.Tenants,
		definitions: deps.Definitions,
		issued:      deps.Issued,
		limiter:     deps.Limiter,
		locker:      deps.Locker,
		publisher:   deps.Publisher,
		rules:       deps.Rules,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		opts:        opts.withDefaults(),
	}
}

// IssueCoupon 为顾客发放一张券。同一顾客对同一活动重复领取时返回已有的券。
func (s *CouponService) IssueCoupon(ctx context.Context, req *IssueCouponRequest) (*IssueCouponResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.IssueCoupon")
	defer span.End()
	defer s.observe("issue", time.Now())

	email := domain.NormalizeEmail(req.Email)
	span.SetAttributes(
		attribute.String("tenant.slug", req.TenantSlug),
		attribute.String("coupon.id", req.CouponID),
		attribute.Bool("customer.anonymous", email == nil),
	)

	// 1. 限流：有邮箱按邮箱计，否则按来源 IP
	identifier := req.CallerIP
	if email != nil {
		identifier = *email
	}
	if err := s.checkRate(ctx, port.LimitIssuance, identifier); err != nil {
		s.countIssue("rejected")
		return nil, recordErr(span, err)
	}

	// 2. 解析租户
	tc, err := s.tenants.Resolve(ctx, req.TenantSlug)
	if err != nil {
		s.countIssue("rejected")
		return nil, recordErr(span, err)
	}

	// 同一顾客的发券串行化，只有配置了分布式锁时才生效
	if email != nil && s.locker != nil {
		release, err := s.locker.Acquire(ctx, issueLockKey(tc, req.CouponID, *email))
		if err != nil {
			s.countIssue("error")
			return nil, recordErr(span, domain.Unexpected("Failed to issue coupon", err))
		}
		defer release()
	}

	// 3. 已领取过则直接返回
	if email != nil {
		existing, err := s.issued.FindLatestForCustomer(ctx, tc, req.CouponID, *email)
		switch {
		case err != nil:
			logger.Ctx(ctx).Warn().Err(err).
				Str("tenant", tc.Slug).
				Str("coupon_id", req.CouponID).
				Str("policy", string(s.opts.OnDuplicateCheckFailure)).
				Msg("duplicate check failed")
			if s.opts.OnDuplicateCheckFailure == DuplicateCheckReject {
				s.countIssue("error")
				return nil, recordErr(span, &domain.Error{
					Kind:    domain.KindUnexpected,
					Message: domain.ErrDuplicateCheckFailed.Message,
					Err:     errors.Join(domain.ErrDuplicateCheckFailed, err),
				})
			}
		case existing != nil:
			s.countIssue("existing")
			span.AddEvent("Returning existing coupon")
			return &IssueCouponResult{IssuedCoupon: existing, Existing: true}, nil
		}
	}

	// 4. 活动本身的校验
	now := s.opts.Now().UTC()
	def, err := s.definitions.FindByID(ctx, tc, req.CouponID)
	if err != nil {
		s.countIssue("rejected")
		return nil, recordErr(span, err)
	}
	if !def.Active {
		s.countIssue("rejected")
		return nil, recordErr(span, domain.BusinessRule(domain.MsgInactive))
	}
	if def.IsExpiredAt(now) {
		s.countIssue("rejected")
		return nil, recordErr(span, domain.BusinessRule(domain.MsgExpired))
	}
	if err := s.checkEligibility(ctx, def, email, now); err != nil {
		s.countIssue("rejected")
		return nil, recordErr(span, err)
	}

	// 5. 生成券码并插入，唯一索引冲突时区分"同一顾客并发领取"和"券码碰撞"
	expiresAt := def.ExpiresAt
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		expiresAt = &t
	}
	prefix := def.CodePrefix
	if prefix == "" {
		prefix = s.opts.CodePrefix
	}

	for attempt := 1; attempt <= s.opts.MaxCodeAttempts; attempt++ {
		code, err := domain.NewCode(prefix, now)
		if err != nil {
			s.countIssue("error")
			return nil, recordErr(span, domain.Unexpected("Failed to generate coupon code", err))
		}
		coupon := &domain.IssuedCoupon{
			ID:             uuid.NewString(),
			TenantID:       tc.TenantID,
			CouponID:       def.ID,
			Code:           code,
			Email:          email,
			Status:         domain.StatusIssued,
			MaxRedemptions: def.MaxRedemptions,
			IssuedAt:       now,
			ExpiresAt:      expiresAt,
			Metadata:       map[string]any{},
		}

		err = s.issued.Insert(ctx, tc, coupon)
		if err == nil {
			s.countIssue("created")
			span.SetAttributes(attribute.String("coupon.code", coupon.Code), attribute.Int("attempts", attempt))
			logger.Ctx(ctx).Info().
				Str("tenant", tc.Slug).
				Str("coupon_id", def.ID).
				Str("code", coupon.Code).
				Msg("coupon issued")
			s.publish(ctx, domain.NewCouponEvent(domain.EventCouponIssued, tc, coupon, now))
			return &IssueCouponResult{IssuedCoupon: coupon}, nil
		}
		if !errors.Is(err, domain.ErrDuplicateKey) {
			s.countIssue("error")
			return nil, recordErr(span, err)
		}

		if email != nil {
			existing, ferr := s.issued.FindLatestForCustomer(ctx, tc, def.ID, *email)
			if ferr == nil && existing != nil {
				s.countIssue("existing")
				span.AddEvent("Concurrent issuance resolved to existing coupon")
				return &IssueCouponResult{IssuedCoupon: existing, Existing: true}, nil
			}
		}
		if s.metrics != nil {
			s.metrics.CodeCollisions.Inc()
		}
		logger.Ctx(ctx).Debug().Int("attempt", attempt).Str("code", code).Msg("coupon code collision, retrying")
	}

	s.countIssue("error")
	return nil, recordErr(span, domain.ErrCodeGenerationExhausted)
}

// ValidateCoupon 校验券码，Redeem 为 true 时同时核销一次。
// 不可用的券返回 Valid=false 以及原因；error 只用于租户不存在或存储故障。
// 核销写入失败时同时返回核销前的券和错误。
func (s *CouponService) ValidateCoupon(ctx context.Context, req *ValidateCouponRequest) (*ValidateCouponResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.ValidateCoupon")
	defer span.End()
	defer s.observe("validate", time.Now())

	code := domain.NormalizeCode(req.Code)
	span.SetAttributes(
		attribute.String("tenant.slug", req.TenantSlug),
		attribute.String("coupon.code", code),
		attribute.Bool("redeem", req.Redeem),
	)

	tc, err := s.tenants.Resolve(ctx, req.TenantSlug)
	if err != nil {
		return nil, recordErr(span, err)
	}

	coupon, err := s.issued.FindByCode(ctx, tc, code)
	if errors.Is(err, domain.ErrCouponCodeNotFound) {
		s.countRedemption("rejected")
		return &ValidateCouponResult{Message: domain.MsgCodeNotFound}, nil
	}
	if err != nil {
		s.countRedemption("error")
		return nil, recordErr(span, err)
	}

	now := s.opts.Now().UTC()
	if coupon.NeedsExpiryWrite(now) {
		s.expire(ctx, tc, coupon, now)
	}

	if err := coupon.Usability(now); err != nil {
		s.countRedemption("rejected")
		return &ValidateCouponResult{IssuedCoupon: coupon, Message: domain.MessageOf(err)}, nil
	}
	if !req.Redeem {
		s.countRedemption("valid")
		return &ValidateCouponResult{Valid: true, IssuedCoupon: coupon, Message: "Coupon is valid"}, nil
	}

	// 同一顾客在同一活动下只能用完一张
	if coupon.Email != nil {
		redeemed, err := s.issued.HasRedeemedSibling(ctx, tc, coupon.CouponID, *coupon.Email, coupon.ID)
		if err != nil {
			s.countRedemption("error")
			return nil, recordErr(span, err)
		}
		if redeemed {
			s.countRedemption("rejected")
			return &ValidateCouponResult{IssuedCoupon: coupon, Message: domain.MsgCustomerRedeemed}, nil
		}
	}

	current := coupon
	for attempt := 1; attempt <= s.opts.RedeemAttempts; attempt++ {
		next, err := current.Redeem(now)
		if err != nil {
			s.countRedemption("rejected")
			return &ValidateCouponResult{IssuedCoupon: current, Message: domain.MessageOf(err)}, nil
		}

		swapped, err := s.issued.CompareAndSwap(ctx, tc, current, next)
		if err != nil {
			s.countRedemption("error")
			return &ValidateCouponResult{IssuedCoupon: current}, recordErr(span, err)
		}
		if swapped {
			s.countRedemption("redeemed")
			span.SetAttributes(attribute.Int("coupon.redemptions", next.RedemptionsCount))
			logger.Ctx(ctx).Info().
				Str("tenant", tc.Slug).
				Str("code", next.Code).
				Int("redemptions", next.RedemptionsCount).
				Int("max_redemptions", next.MaxRedemptions).
				Msg("coupon redeemed")
			s.publish(ctx, domain.NewCouponEvent(domain.EventCouponRedeemed, tc, next, now))
			return &ValidateCouponResult{Valid: true, IssuedCoupon: next, Message: "Coupon redeemed successfully"}, nil
		}

		// 有并发核销，重新读取后再按最新状态判断
		span.AddEvent("Redemption lost compare-and-swap, reloading")
		current, err = s.issued.FindByID(ctx, tc, current.ID)
		if err != nil {
			s.countRedemption("error")
			return nil, recordErr(span, err)
		}
	}

	s.countRedemption("error")
	return &ValidateCouponResult{IssuedCoupon: current}, recordErr(span, domain.ErrRedemptionContention)
}

// expire 在读取路径上把已过期的非终态券写成 expired，失败只记录日志。
func (s *CouponService) expire(ctx context.Context, tc domain.TenantContext, coupon *domain.IssuedCoupon, now time.Time) {
	changed, err := s.issued.MarkExpired(ctx, tc, coupon.ID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("code", coupon.Code).Msg("failed to persist expired status")
		return
	}
	if changed {
		coupon.Status = domain.StatusExpired
		s.publish(ctx, domain.NewCouponEvent(domain.EventCouponExpired, tc, coupon, now))
	}
}

// CheckExistingCoupon 查询顾客在某个活动下最近领取的券。
func (s *CouponService) CheckExistingCoupon(ctx context.Context, req *CheckExistingRequest) (*CheckExistingResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.CheckExistingCoupon")
	defer span.End()
	defer s.observe("check_existing", time.Now())

	email := domain.NormalizeEmail(req.Email)
	if email == nil {
		return nil, recordErr(span, domain.Invalid("email is required"))
	}
	if err := s.checkRate(ctx, port.LimitCheck, *email); err != nil {
		return nil, recordErr(span, err)
	}

	tc, err := s.tenants.Resolve(ctx, req.TenantSlug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	existing, err := s.issued.FindLatestForCustomer(ctx, tc, req.CouponID, *email)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return &CheckExistingResult{Exists: existing != nil, IssuedCoupon: existing}, nil
}

// HasCompletedSurveyForTenant 报告该邮箱在租户下是否领取过任何券，用来跳过问卷。
func (s *CouponService) HasCompletedSurveyForTenant(ctx context.Context, slug, email string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "service.HasCompletedSurveyForTenant")
	defer span.End()

	normalized := domain.NormalizeEmail(email)
	if normalized == nil {
		return false, nil
	}
	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return false, recordErr(span, err)
	}
	exists, err := s.issued.ExistsForEmail(ctx, tc, *normalized)
	if err != nil {
		return false, recordErr(span, err)
	}
	return exists, nil
}

// GetCouponStatus 返回顾客最近一张券的展示状态，没有券或仍可用时返回 nil。
func (s *CouponService) GetCouponStatus(ctx context.Context, slug, couponID, email string) (*domain.Status, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetCouponStatus")
	defer span.End()

	coupon, err := s.latestForCustomer(ctx, slug, couponID, email)
	if err != nil || coupon == nil {
		return nil, recordErr(span, err)
	}
	return coupon.ReportedStatus(s.opts.Now().UTC()), nil
}

// IsCouponAlreadyRedeemed 是给前端的只读预检。
func (s *CouponService) IsCouponAlreadyRedeemed(ctx context.Context, slug, couponID, email string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "service.IsCouponAlreadyRedeemed")
	defer span.End()

	coupon, err := s.latestForCustomer(ctx, slug, couponID, email)
	if err != nil || coupon == nil {
		return false, recordErr(span, err)
	}
	return coupon.IsAlreadyRedeemed(), nil
}

func (s *CouponService) latestForCustomer(ctx context.Context, slug, couponID, email string) (*domain.IssuedCoupon, error) {
	normalized := domain.NormalizeEmail(email)
	if normalized == nil {
		return nil, domain.Invalid("email is required")
	}
	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.issued.FindLatestForCustomer(ctx, tc, couponID, *normalized)
}

// UpdateIssuedCoupon 是管理端对单张券的字段级修改。
// 只改次数时按与 AdjustRedemptions 相同的规则推导状态。
func (s *CouponService) UpdateIssuedCoupon(ctx context.Context, slug, id string, patch *IssuedCouponPatch) (*domain.IssuedCoupon, error) {
	ctx, span := s.tracer.Start(ctx, "service.UpdateIssuedCoupon")
	defer span.End()
	defer s.observe("admin_update", time.Now())

	span.SetAttributes(attribute.String("tenant.slug", slug), attribute.String("issued_coupon.id", id))

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	current, err := s.issued.FindByID(ctx, tc, id)
	if err != nil {
		return nil, recordErr(span, err)
	}

	now := s.opts.Now().UTC()
	next := current.Clone()
	var upd domain.IssuedCouponUpdate

	if patch.RedemptionsCount != nil {
		derived := current.WithRedemptionsCount(*patch.RedemptionsCount, now)
		next.RedemptionsCount = derived.RedemptionsCount
		upd.RedemptionsCount = &next.RedemptionsCount
		if patch.Status == nil && derived.Status != current.Status {
			next.Status = derived.Status
			next.RedeemedAt = derived.RedeemedAt
			upd.Status = &next.Status
			upd.SetRedeemedAt = true
			upd.RedeemedAt = next.RedeemedAt
		}
	}

	if patch.Status != nil {
		st, err := domain.ParseStatus(*patch.Status)
		if err != nil {
			return nil, recordErr(span, err)
		}
		next.Status = st
		upd.Status = &next.Status
		switch {
		case st == domain.StatusRedeemed && current.RedeemedAt == nil:
			t := now
			next.RedeemedAt = &t
			upd.SetRedeemedAt = true
			upd.RedeemedAt = next.RedeemedAt
		case st == domain.StatusIssued && current.RedeemedAt != nil:
			next.RedeemedAt = nil
			upd.SetRedeemedAt = true
		}
	}

	if patch.Metadata != nil {
		merged := make(map[string]any, len(current.Metadata)+len(patch.Metadata))
		for k, v := range current.Metadata {
			merged[k] = v
		}
		for k, v := range patch.Metadata {
			if v == nil {
				delete(merged, k)
				continue
			}
			merged[k] = v
		}
		next.Metadata = merged
		upd.Metadata = merged
	}

	rows, err := s.issued.Update(ctx, tc, id, upd)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if rows == 0 {
		logger.Ctx(ctx).Warn().
			Str("tenant", tc.Slug).
			Str("issued_coupon_id", id).
			Msg("admin update affected no rows")
		return nil, recordErr(span, domain.ErrUpdateBlocked)
	}

	logger.Ctx(ctx).Info().
		Str("tenant", tc.Slug).
		Str("issued_coupon_id", id).
		Str("status", string(next.Status)).
		Int("redemptions", next.RedemptionsCount).
		Msg("issued coupon updated")
	s.publish(ctx, domain.NewCouponEvent(domain.EventCouponUpdated, tc, next, now))
	return next, nil
}

// AdjustRedemptions 在当前次数上加减 delta，结果夹到 [0, max_redemptions]。
func (s *CouponService) AdjustRedemptions(ctx context.Context, slug, id string, delta int) (*domain.IssuedCoupon, error) {
	ctx, span := s.tracer.Start(ctx, "service.AdjustRedemptions")
	defer span.End()
	defer s.observe("admin_adjust", time.Now())

	span.SetAttributes(attribute.String("issued_coupon.id", id), attribute.Int("delta", delta))

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}

	now := s.opts.Now().UTC()
	for attempt := 1; attempt <= s.opts.RedeemAttempts; attempt++ {
		current, err := s.issued.FindByID(ctx, tc, id)
		if err != nil {
			return nil, recordErr(span, err)
		}
		next := current.WithRedemptionsCount(current.RedemptionsCount+delta, now)
		if next.RedemptionsCount == current.RedemptionsCount && next.Status == current.Status {
			return current, nil
		}
		swapped, err := s.issued.CompareAndSwap(ctx, tc, current, next)
		if err != nil {
			return nil, recordErr(span, err)
		}
		if swapped {
			logger.Ctx(ctx).Info().
				Str("tenant", tc.Slug).
				Str("issued_coupon_id", id).
				Int("delta", delta).
				Int("redemptions", next.RedemptionsCount).
				Msg("redemptions adjusted")
			s.publish(ctx, domain.NewCouponEvent(domain.EventCouponUpdated, tc, next, now))
			return next, nil
		}
	}
	return nil, recordErr(span, domain.ErrRedemptionContention)
}

const maxItemsPerPage = 100

// ListIssuedCoupons 按发放时间倒序分页列出租户的券，page 从 1 开始。
func (s *CouponService) ListIssuedCoupons(ctx context.Context, slug string, page, perPage int) (*IssuedCouponPage, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListIssuedCoupons")
	defer span.End()

	if page < 1 {
		return nil, recordErr(span, domain.Invalid("page must be at least 1"))
	}
	if perPage < 1 || perPage > maxItemsPerPage {
		return nil, recordErr(span, domain.Invalid(fmt.Sprintf("items per page must be between 1 and %d", maxItemsPerPage)))
	}

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	items, total, err := s.issued.ListPage(ctx, tc, (page-1)*perPage, perPage)
	if err != nil {
		return nil, recordErr(span, err)
	}
	return &IssuedCouponPage{
		IssuedCoupons: items,
		Page:          page,
		ItemsPerPage:  perPage,
		TotalCount:    total,
		TotalPages:    int(math.Ceil(float64(total) / float64(perPage))),
	}, nil
}

// checkRate 做限流判定。限流后端故障时放行并记录日志。
func (s *CouponService) checkRate(ctx context.Context, kind port.LimitKind, identifier string) error {
	if s.limiter == nil || identifier == "" {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, kind, identifier)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("kind", string(kind)).Msg("rate limiter unavailable, allowing request")
		return nil
	}
	if decision.Allowed {
		return nil
	}
	if s.metrics != nil {
		s.metrics.RateLimited.WithLabelValues(string(kind)).Inc()
	}
	logger.Ctx(ctx).Info().
		Str("kind", string(kind)).
		Dur("retry_after", decision.RetryAfter).
		Msg("rate limit exceeded")
	return domain.RateLimited(decision.RetryAfter)
}

func (s *CouponService) checkEligibility(ctx context.Context, def *domain.CouponDefinition, email *string, now time.Time) error {
	if def.EligibilityRule == "" || s.rules == nil {
		return nil
	}
	facts := domain.EligibilityFacts{Anonymous: email == nil, Now: now}
	if email != nil {
		facts.Email = *email
		if at := strings.LastIndex(*email, "@"); at >= 0 {
			facts.EmailDomain = (*email)[at+1:]
		}
	}
	ok, err := s.rules.Evaluate(def.EligibilityRule, facts)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("coupon_id", def.ID).Msg("eligibility rule failed")
		return domain.Unexpected("Failed to evaluate coupon eligibility", err)
	}
	if !ok {
		return domain.BusinessRule(domain.MsgNotEligible)
	}
	return nil
}

// publish 在状态变更成功之后调用，失败不影响业务结果。
func (s *CouponService) publish(ctx context.Context, event domain.CouponEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event", string(event.Type)).Msg("failed to publish coupon event")
	}
}

func (s *CouponService) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.Latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (s *CouponService) countIssue(outcome string) {
	if s.metrics != nil {
		s.metrics.Issued.WithLabelValues(outcome).Inc()
	}
}

func (s *CouponService) countRedemption(outcome string) {
	if s.metrics != nil {
		s.metrics.Redemptions.WithLabelValues(outcome).Inc()
	}
}

func issueLockKey(tc domain.TenantContext, couponID, email string) string {
	return "coupon:issue:" + tc.TenantID + ":" + couponID + ":" + email
}

// recordErr 把错误记到 span 上并原样返回，err 为 nil 时什么也不做。
func recordErr(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if domain.KindOf(err) == domain.KindUnexpected {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
