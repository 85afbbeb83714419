// internal/service/coupon/domain/repository.go
package domain

import (
	"context"
	"time"
)

// 以下接口是领域层与基础设施层之间的"插座"。
// 所有带 TenantContext 的方法都只能看到该租户自己的数据。

// TenantRepository 负责租户的读取和创建。
type TenantRepository interface {
	// FindBySlug 找不到时返回 ErrTenantNotFound。
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
	// Create slug 冲突时返回 ErrTenantSlugTaken。
	Create(ctx context.Context, tenant *Tenant) error
}

// CouponDefinitionRepository 负责优惠活动目录的 CRUD。
type CouponDefinitionRepository interface {
	Create(ctx context.Context, tc TenantContext, def *CouponDefinition) error
	// FindByID 找不到时返回 ErrCouponNotFound。
	FindByID(ctx context.Context, tc TenantContext, id string) (*CouponDefinition, error)
	List(ctx context.Context, tc TenantContext) ([]*CouponDefinition, error)
	Update(ctx context.Context, tc TenantContext, def *CouponDefinition) error
	// Delete 是硬删除，找不到时返回 ErrCouponNotFound。
	Delete(ctx context.Context, tc TenantContext, id string) error
}

// IssuedCouponUpdate 是管理端的字段级更新，nil 字段保持不变。
type IssuedCouponUpdate struct {
	Status           *Status
	RedemptionsCount *int
	// SetRedeemedAt 为 true 时才写 RedeemedAt，RedeemedAt 为 nil 表示置空。
	SetRedeemedAt bool
	RedeemedAt    *time.Time
	Metadata      map[string]any
}

// IssuedCouponRepository 负责已发放优惠券的持久化。
type IssuedCouponRepository interface {
	// FindLatestForCustomer 返回 (tenant, coupon, email) 最近的一张券，没有时返回 nil, nil。
	FindLatestForCustomer(ctx context.Context, tc TenantContext, couponID, email string) (*IssuedCoupon, error)
	// FindByCode 找不到时返回 ErrCouponCodeNotFound。
	FindByCode(ctx context.Context, tc TenantContext, code string) (*IssuedCoupon, error)
	// FindByID 找不到时返回 ErrIssuedCouponNotFound。
	FindByID(ctx context.Context, tc TenantContext, id string) (*IssuedCoupon, error)
	// Insert 违反唯一约束时返回 ErrDuplicateKey。
	Insert(ctx context.Context, tc TenantContext, coupon *IssuedCoupon) error
	ExistsForEmail(ctx context.Context, tc TenantContext, email string) (bool, error)
	// HasRedeemedSibling 报告同一顾客同一活动下，除 excludeID 以外是否有已用完的券。
	HasRedeemedSibling(ctx context.Context, tc TenantContext, couponID, email, excludeID string) (bool, error)
	// CompareAndSwap 仅当行仍处于 prev 的 status 与 redemptions_count 时写入 next。
	CompareAndSwap(ctx context.Context, tc TenantContext, prev, next *IssuedCoupon) (bool, error)
	// MarkExpired 把 issued 或 redeemed 的券写成 expired，返回是否有行被修改。
	MarkExpired(ctx context.Context, tc TenantContext, id string) (bool, error)
	// Update 返回受影响的行数，0 通常意味着行级权限拦截。
	Update(ctx context.Context, tc TenantContext, id string, upd IssuedCouponUpdate) (int64, error)
	ListPage(ctx context.Context, tc TenantContext, offset, limit int) ([]*IssuedCoupon, int64, error)
}

// QuestionRepository 负责问卷问题。
type QuestionRepository interface {
	Create(ctx context.Context, tc TenantContext, q *Question) error
	// FindByID 找不到时返回 ErrQuestionNotFound。
	FindByID(ctx context.Context, tc TenantContext, id string) (*Question, error)
	// List 按 order_index 升序返回。
	List(ctx context.Context, tc TenantContext, activeOnly bool) ([]*Question, error)
	Update(ctx context.Context, tc TenantContext, q *Question) error
	Delete(ctx context.Context, tc TenantContext, id string) error
	// SetOrderIndex 违反 (tenant_id, order_index) 唯一约束时返回 ErrDuplicateKey。
	SetOrderIndex(ctx context.Context, tc TenantContext, id string, orderIndex int) error
	// MaxOrderIndex 没有问题时返回 -1。
	MaxOrderIndex(ctx context.Context, tc TenantContext) (int, error)
}

// ResponseRepository 负责原始答卷。
type ResponseRepository interface {
	Insert(ctx context.Context, tc TenantContext, responses []*Response) error
	ListByEmail(ctx context.Context, tc TenantContext, email string) ([]*Response, error)
}
