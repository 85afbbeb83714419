// internal/service/coupon/interfaces/views.go
package interfaces

import (
	"time"

	"nexus-coupon/internal/service/coupon/application"
	"nexus-coupon/internal/service/coupon/domain"
)

// IssuedCouponView 是已发券对外的 JSON 形式
type IssuedCouponView struct {
	ID               string         `json:"id"`
	CouponID         string         `json:"couponId"`
	Code             string         `json:"code"`
	Email            *string        `json:"email"`
	Status           domain.Status  `json:"status"`
	RedemptionsCount int            `json:"redemptionsCount"`
	MaxRedemptions   int            `json:"maxRedemptions"`
	IssuedAt         time.Time      `json:"issuedAt"`
	ExpiresAt        *time.Time     `json:"expiresAt"`
	RedeemedAt       *time.Time     `json:"redeemedAt"`
	Metadata         map[string]any `json:"metadata"`
}

func toIssuedCouponView(c *domain.IssuedCoupon) *IssuedCouponView {
	if c == nil {
		return nil
	}
	return &IssuedCouponView{
		ID:               c.ID,
		CouponID:         c.CouponID,
		Code:             c.Code,
		Email:            c.Email,
		Status:           c.Status,
		RedemptionsCount: c.RedemptionsCount,
		MaxRedemptions:   c.MaxRedemptions,
		IssuedAt:         c.IssuedAt,
		ExpiresAt:        c.ExpiresAt,
		RedeemedAt:       c.RedeemedAt,
		Metadata:         c.Metadata,
	}
}

// CouponDefinitionView 是活动定义对外的 JSON 形式
type CouponDefinitionView struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Discount        string     `json:"discount"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	Active          bool       `json:"active"`
	MaxRedemptions  int        `json:"maxRedemptions"`
	CodePrefix      string     `json:"codePrefix,omitempty"`
	EligibilityRule string     `json:"eligibilityRule,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func toCouponDefinitionView(d *domain.CouponDefinition) *CouponDefinitionView {
	return &CouponDefinitionView{
		ID:              d.ID,
		Title:           d.Title,
		Discount:        d.Discount,
		ExpiresAt:       d.ExpiresAt,
		Active:          d.Active,
		MaxRedemptions:  d.MaxRedemptions,
		CodePrefix:      d.CodePrefix,
		EligibilityRule: d.EligibilityRule,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// QuestionView 是问卷问题对外的 JSON 形式
type QuestionView struct {
	ID         string              `json:"id"`
	Prompt     string              `json:"prompt"`
	Kind       domain.QuestionKind `json:"kind"`
	Options    []string            `json:"options"`
	Required   bool                `json:"required"`
	Active     bool                `json:"active"`
	OrderIndex int                 `json:"orderIndex"`
}

func toQuestionViews(qs []*domain.Question) []*QuestionView {
	out := make([]*QuestionView, 0, len(qs))
	for _, q := range qs {
		out = append(out, toQuestionView(q))
	}
	return out
}

func toQuestionView(q *domain.Question) *QuestionView {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	return &QuestionView{
		ID:         q.ID,
		Prompt:     q.Prompt,
		Kind:       q.Kind,
		Options:    options,
		Required:   q.Required,
		Active:     q.Active,
		OrderIndex: q.OrderIndex,
	}
}

// ResponseView 是一条答卷对外的 JSON 形式
type ResponseView struct {
	ID          string        `json:"id"`
	QuestionID  string        `json:"questionId"`
	Email       *string       `json:"email"`
	Answer      domain.Answer `json:"answer"`
	SubmittedAt time.Time     `json:"submittedAt"`
}

func toResponseViews(rs []*domain.Response) []*ResponseView {
	out := make([]*ResponseView, 0, len(rs))
	for _, r := range rs {
		out = append(out, &ResponseView{
			ID:          r.ID,
			QuestionID:  r.QuestionID,
			Email:       r.Email,
			Answer:      r.Answer,
			SubmittedAt: r.SubmittedAt,
		})
	}
	return out
}

// PageView 是分页列表的 JSON 形式
type PageView struct {
	IssuedCoupons []*IssuedCouponView `json:"issuedCoupons"`
	TotalCount    int64               `json:"totalCount"`
	TotalPages    int                 `json:"totalPages"`
	Page          int                 `json:"page"`
	ItemsPerPage  int                 `json:"itemsPerPage"`
}

func toPageView(p *application.IssuedCouponPage) *PageView {
	items := make([]*IssuedCouponView, 0, len(p.IssuedCoupons))
	for _, c := range p.IssuedCoupons {
		items = append(items, toIssuedCouponView(c))
	}
	return &PageView{
		IssuedCoupons: items,
		TotalCount:    p.TotalCount,
		TotalPages:    p.TotalPages,
		Page:          p.Page,
		ItemsPerPage:  p.ItemsPerPage,
	}
}
