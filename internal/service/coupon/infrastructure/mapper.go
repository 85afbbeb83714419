// internal/service/coupon/infrastructure/mapper.go
package infrastructure

import (
	"encoding/json"

	"gorm.io/datatypes"

	"nexus-coupon/internal/service/coupon/domain"
)

// ToDomainTenant 将数据库模型转换为领域模型
func ToDomainTenant(m *TenantModel) *domain.Tenant {
	if m == nil {
		return nil
	}
	return &domain.Tenant{
		ID:        m.ID,
		Slug:      m.Slug,
		Name:      m.Name,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}

// FromDomainTenant 将领域模型转换为数据库模型
func FromDomainTenant(t *domain.Tenant) *TenantModel {
	return &TenantModel{
		ID:        t.ID,
		Slug:      t.Slug,
		Name:      t.Name,
		Active:    t.Active,
		CreatedAt: t.CreatedAt,
	}
}

// ToDomainCouponDefinition 将数据库模型转换为领域模型
func ToDomainCouponDefinition(m *CouponDefinitionModel) *domain.CouponDefinition {
	if m == nil {
		return nil
	}
	return &domain.CouponDefinition{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Title:           m.Title,
		Discount:        m.Discount,
		ExpiresAt:       m.ExpiresAt,
		Active:          m.Active,
		MaxRedemptions:  m.MaxRedemptions,
		CodePrefix:      m.CodePrefix,
		EligibilityRule: m.EligibilityRule,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// FromDomainCouponDefinition 将领域模型转换为数据库模型
func FromDomainCouponDefinition(d *domain.CouponDefinition) *CouponDefinitionModel {
	return &CouponDefinitionModel{
		ID:              d.ID,
		TenantID:        d.TenantID,
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

// ToDomainIssuedCoupon 将数据库模型转换为领域模型
func ToDomainIssuedCoupon(m *IssuedCouponModel) *domain.IssuedCoupon {
	if m == nil {
		return nil
	}
	meta := map[string]any(m.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	return &domain.IssuedCoupon{
		ID:               m.ID,
		TenantID:         m.TenantID,
		CouponID:         m.CouponID,
		Code:             m.Code,
		Email:            m.Email,
		Status:           domain.Status(m.Status),
		RedemptionsCount: m.RedemptionsCount,
		MaxRedemptions:   m.MaxRedemptions,
		IssuedAt:         m.IssuedAt,
		ExpiresAt:        m.ExpiresAt,
		RedeemedAt:       m.RedeemedAt,
		Metadata:         meta,
	}
}

// FromDomainIssuedCoupon 将领域模型转换为数据库模型 (用于插入)
func FromDomainIssuedCoupon(c *domain.IssuedCoupon) *IssuedCouponModel {
	meta := datatypes.JSONMap(c.Metadata)
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	return &IssuedCouponModel{
		ID:               c.ID,
		TenantID:         c.TenantID,
		CouponID:         c.CouponID,
		Code:             c.Code,
		Email:            c.Email,
		Status:           string(c.Status),
		RedemptionsCount: c.RedemptionsCount,
		MaxRedemptions:   c.MaxRedemptions,
		IssuedAt:         c.IssuedAt,
		ExpiresAt:        c.ExpiresAt,
		RedeemedAt:       c.RedeemedAt,
		Metadata:         meta,
	}
}

// ToDomainQuestion 将数据库模型转换为领域模型
func ToDomainQuestion(m *QuestionModel) (*domain.Question, error) {
	var options []string
	if len(m.Options) > 0 {
		if err := json.Unmarshal(m.Options, &options); err != nil {
			return nil, err
		}
	}
	return &domain.Question{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Prompt:     m.Prompt,
		Kind:       domain.QuestionKind(m.Kind),
		Options:    options,
		Required:   m.Required,
		Active:     m.Active,
		OrderIndex: m.OrderIndex,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

// FromDomainQuestion 将领域模型转换为数据库模型
func FromDomainQuestion(q *domain.Question) (*QuestionModel, error) {
	options := q.Options
	if options == nil {
		options = []string{}
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}
	return &QuestionModel{
		ID:         q.ID,
		TenantID:   q.TenantID,
		OrderIndex: q.OrderIndex,
		Prompt:     q.Prompt,
		Kind:       string(q.Kind),
		Options:    datatypes.JSON(raw),
		Required:   q.Required,
		Active:     q.Active,
		CreatedAt:  q.CreatedAt,
		UpdatedAt:  q.UpdatedAt,
	}, nil
}

// ToDomainResponse 将数据库模型转换为领域模型
func ToDomainResponse(m *ResponseModel) (*domain.Response, error) {
	var answer domain.Answer
	if err := json.Unmarshal(m.Answer, &answer); err != nil {
		return nil, err
	}
	return &domain.Response{
		ID:          m.ID,
		TenantID:    m.TenantID,
		QuestionID:  m.QuestionID,
		Email:       m.Email,
		Answer:      answer,
		SubmittedAt: m.SubmittedAt,
	}, nil
}

// FromDomainResponse 将领域模型转换为数据库模型
func FromDomainResponse(r *domain.Response) (*ResponseModel, error) {
	raw, err := json.Marshal(r.Answer)
	if err != nil {
		return nil, err
	}
	return &ResponseModel{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Email:       r.Email,
		QuestionID:  r.QuestionID,
		Answer:      datatypes.JSON(raw),
		SubmittedAt: r.SubmittedAt,
	}, nil
}
