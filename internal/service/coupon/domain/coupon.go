// internal/service/coupon/domain/coupon.go
package domain

import (
	"strings"
	"time"
)

// CouponDefinition 是租户定义的一种优惠活动。
type CouponDefinition struct {
	ID             string
	TenantID       string
	Title          string
	Discount       string // 自由文本，例如 "20% off"
	ExpiresAt      *time.Time
	Active         bool
	MaxRedemptions int
	CodePrefix     string
	// EligibilityRule 是可选的 CEL 表达式，发券时求值。
	EligibilityRule string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsExpiredAt 报告活动本身是否已过期。
func (d *CouponDefinition) IsExpiredAt(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// Validate 检查定义的基本字段。
func (d *CouponDefinition) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return Invalid("title is required")
	}
	if d.MaxRedemptions < 1 {
		return Invalid("max_redemptions must be at least 1")
	}
	if d.CodePrefix != "" && !codePrefixPattern.MatchString(d.CodePrefix) {
		return Invalid("code_prefix must be 1-12 letters or digits")
	}
	return nil
}

// IssuedCoupon 是发放给某位顾客（或匿名）的一张具体优惠券。
type IssuedCoupon struct {
	ID               string
	TenantID         string
	CouponID         string
	Code             string
	Email            *string
	Status           Status
	RedemptionsCount int
	MaxRedemptions   int
	IssuedAt         time.Time
	ExpiresAt        *time.Time
	RedeemedAt       *time.Time
	Metadata         map[string]any
}

// Clone 返回一份深拷贝，状态变更总是作用在副本上，便于做 compare-and-swap。
func (c *IssuedCoupon) Clone() *IssuedCoupon {
	cp := *c
	if c.Email != nil {
		e := *c.Email
		cp.Email = &e
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		cp.ExpiresAt = &t
	}
	if c.RedeemedAt != nil {
		t := *c.RedeemedAt
		cp.RedeemedAt = &t
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// EmailValue 返回邮箱，匿名券返回空串。
func (c *IssuedCoupon) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// IsExpiredAt 报告 expires_at 是否已经过去。
func (c *IssuedCoupon) IsExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// IsFullyRedeemed 报告可用次数是否已经用完。
func (c *IssuedCoupon) IsFullyRedeemed() bool {
	return c.RedemptionsCount >= c.MaxRedemptions
}

// IsAlreadyRedeemed 是给前端预检用的只读判断。
func (c *IssuedCoupon) IsAlreadyRedeemed() bool {
	return c.Status == StatusRedeemed || c.IsFullyRedeemed()
}

// NeedsExpiryWrite 报告读取时是否应该顺手把状态写成 expired。
// issued 和 redeemed 会被改写，终态保持不变。
func (c *IssuedCoupon) NeedsExpiryWrite(now time.Time) bool {
	return c.IsExpiredAt(now) && !c.Status.IsTerminal()
}

// Usability 按 过期 → 状态 → 次数 的顺序检查优惠券当前是否可用，
// 不可用时返回 BusinessRule 错误，Message 可直接展示。
func (c *IssuedCoupon) Usability(now time.Time) error {
	if c.IsExpiredAt(now) {
		return BusinessRule(MsgExpired)
	}
	if reason := c.Status.rejection(); reason != "" {
		return BusinessRule(reason)
	}
	if c.IsFullyRedeemed() {
		return BusinessRule(MsgAlreadyUsed)
	}
	return nil
}

// Redeem 计算核销一次之后的新状态，不修改接收者。
// 达到上限时状态变为 redeemed 并记录 redeemed_at，否则状态不变（多次券）。
func (c *IssuedCoupon) Redeem(now time.Time) (*IssuedCoupon, error) {
	if err := c.Usability(now); err != nil {
		return nil, err
	}
	next := c.Clone()
	next.RedemptionsCount++
	if next.RedemptionsCount >= next.MaxRedemptions {
		next.Status = StatusRedeemed
		t := now
		next.RedeemedAt = &t
	}
	return next, nil
}

// WithRedemptionsCount 是管理端修改次数时使用的规则：
// 次数被夹到 [0, max_redemptions]；到达上限且为 issued 时变为 redeemed，
// 低于上限且为 redeemed 时退回 issued；终态不受影响。
func (c *IssuedCoupon) WithRedemptionsCount(count int, now time.Time) *IssuedCoupon {
	next := c.Clone()
	next.RedemptionsCount = clamp(count, 0, next.MaxRedemptions)
	switch {
	case next.Status == StatusIssued && next.RedemptionsCount >= next.MaxRedemptions:
		next.Status = StatusRedeemed
		t := now
		next.RedeemedAt = &t
	case next.Status == StatusRedeemed && next.RedemptionsCount < next.MaxRedemptions:
		next.Status = StatusIssued
		next.RedeemedAt = nil
	}
	return next
}

// ReportedStatus 返回前端展示用的状态，优先级 revoked/cancelled > expired > redeemed，
// 仍可用时返回 nil。
func (c *IssuedCoupon) ReportedStatus(now time.Time) *Status {
	var st Status
	switch {
	case c.Status == StatusRevoked || c.Status == StatusCancelled:
		st = c.Status
	case c.Status == StatusExpired || c.IsExpiredAt(now):
		st = StatusExpired
	case c.IsAlreadyRedeemed():
		st = StatusRedeemed
	default:
		return nil
	}
	return &st
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NormalizeEmail 去掉首尾空白并转小写，空串返回 nil。
func NormalizeEmail(email string) *string {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" {
		return nil
	}
	return &e
}
