// internal/service/coupon/application/dto.go
package application

import (
	"time"

	"nexus-coupon/internal/service/coupon/domain"
)

// IssueCouponRequest 是发券请求
type IssueCouponRequest struct {
	TenantSlug string
	CouponID   string
	Email      string
	ExpiresAt  *time.Time
	// CallerIP 在没有邮箱时作为限流的标识
	CallerIP string
}

// IssueCouponResult 是发券结果，Existing 为 true 表示返回的是顾客已有的券。
type IssueCouponResult struct {
	IssuedCoupon *domain.IssuedCoupon
	Existing     bool
}

// ValidateCouponRequest 是校验/核销请求
type ValidateCouponRequest struct {
	TenantSlug string
	Code       string
	Redeem     bool
}

// ValidateCouponResult 中 Valid 为 false 时 Message 是不可用的原因。
type ValidateCouponResult struct {
	Valid        bool
	IssuedCoupon *domain.IssuedCoupon
	Message      string
}

// CheckExistingRequest 查询顾客已领取的券
type CheckExistingRequest struct {
	TenantSlug string
	CouponID   string
	Email      string
	CallerIP   string
}

// CheckExistingResult 是查询结果
type CheckExistingResult struct {
	Exists       bool
	IssuedCoupon *domain.IssuedCoupon
}

// IssuedCouponPatch 是管理端的字段级修改，nil 字段保持不变。
// Metadata 中值为 nil 的键会被删除。
type IssuedCouponPatch struct {
	Status           *string
	RedemptionsCount *int
	Metadata         map[string]any
}

// IssuedCouponPage 是分页结果
type IssuedCouponPage struct {
	IssuedCoupons []*domain.IssuedCoupon
	Page          int
	ItemsPerPage  int
	TotalCount    int64
	TotalPages    int
}

// CouponDefinitionInput 用于创建活动
type CouponDefinitionInput struct {
	Title           string
	Discount        string
	ExpiresAt       *time.Time
	Active          *bool
	MaxRedemptions  int
	CodePrefix      string
	EligibilityRule string
}

// CouponDefinitionPatch 用于部分更新活动，ClearExpiresAt 为 true 时去掉过期时间。
type CouponDefinitionPatch struct {
	Title           *string
	Discount        *string
	ExpiresAt       *time.Time
	ClearExpiresAt  bool
	Active          *bool
	MaxRedemptions  *int
	CodePrefix      *string
	EligibilityRule *string
}

// QuestionInput 用于创建或整体替换问题
type QuestionInput struct {
	Prompt   string
	Kind     domain.QuestionKind
	Options  []string
	Required bool
	Active   *bool
}

// MoveDirection 表示问题上移还是下移
type MoveDirection string

const (
	MoveUp   MoveDirection = "up"
	MoveDown MoveDirection = "down"
)

// SubmitResponseRequest 是一次问卷提交，Answers 以问题 ID 为键。
type SubmitResponseRequest struct {
	TenantSlug string
	Email      string
	Answers    map[string]domain.Answer
}
