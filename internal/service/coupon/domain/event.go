// internal/service/coupon/domain/event.go
package domain

import "time"

// EventType 标识优惠券生命周期事件。
type EventType string

const (
	EventCouponIssued   EventType = "coupon.issued"
	EventCouponRedeemed EventType = "coupon.redeemed"
	EventCouponExpired  EventType = "coupon.expired"
	EventCouponUpdated  EventType = "coupon.updated"
)

// CouponEvent 在每次成功的状态变更之后发布。
type CouponEvent struct {
	Type             EventType `json:"type"`
	TenantID         string    `json:"tenantId"`
	TenantSlug       string    `json:"tenantSlug"`
	IssuedCouponID   string    `json:"issuedCouponId"`
	CouponID         string    `json:"couponId"`
	Code             string    `json:"code"`
	Email            string    `json:"email,omitempty"`
	Status           Status    `json:"status"`
	RedemptionsCount int       `json:"redemptionsCount"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// NewCouponEvent 从券的当前状态构造事件。
func NewCouponEvent(typ EventType, tc TenantContext, c *IssuedCoupon, now time.Time) CouponEvent {
	return CouponEvent{
		Type:             typ,
		TenantID:         tc.TenantID,
		TenantSlug:       tc.Slug,
		IssuedCouponID:   c.ID,
		CouponID:         c.CouponID,
		Code:             c.Code,
		Email:            c.EmailValue(),
		Status:           c.Status,
		RedemptionsCount: c.RedemptionsCount,
		OccurredAt:       now,
	}
}

// EligibilityFacts 是资格规则可以引用的事实。
type EligibilityFacts struct {
	Email       string
	EmailDomain string
	Anonymous   bool
	Now         time.Time
}
