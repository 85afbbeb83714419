// internal/service/coupon/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"gorm.io/datatypes"
)

// TenantModel 对应数据库中的 tenants 表
type TenantModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	Slug      string `gorm:"size:64;not null;uniqueIndex"`
	Name      string `gorm:"size:255;not null"`
	Active    bool   `gorm:"not null"`
	CreatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (TenantModel) TableName() string {
	return "tenants"
}

// CouponDefinitionModel 对应数据库中的 coupons 表
type CouponDefinitionModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	TenantID        string `gorm:"size:36;not null;index"`
	Title           string `gorm:"size:255;not null"`
	Discount        string `gorm:"size:255"`
	ExpiresAt       *time.Time
	Active          bool   `gorm:"not null"`
	MaxRedemptions  int    `gorm:"not null;default:1"`
	CodePrefix      string `gorm:"size:12"`
	EligibilityRule string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName 指定 GORM 应该使用的表名
func (CouponDefinitionModel) TableName() string {
	return "coupons"
}

// IssuedCouponModel 对应数据库中的 issued_coupons 表。
// (tenant_id, code) 和 (tenant_id, coupon_id, email) 上各有一个唯一索引，
// 匿名券的 email 为 NULL，不受第二个索引约束。
type IssuedCouponModel struct {
	ID               string     `gorm:"primaryKey;size:36"`
	TenantID         string     `gorm:"size:36;not null;uniqueIndex:idx_issued_tenant_code,priority:1;uniqueIndex:idx_issued_customer,priority:1"`
	CouponID         string     `gorm:"size:36;not null;uniqueIndex:idx_issued_customer,priority:2"`
	Code             string     `gorm:"size:64;not null;uniqueIndex:idx_issued_tenant_code,priority:2"`
	Email            *string    `gorm:"size:255;uniqueIndex:idx_issued_customer,priority:3"`
	Status           string     `gorm:"size:16;not null;default:'issued'"`
	RedemptionsCount int        `gorm:"not null;default:0"`
	MaxRedemptions   int        `gorm:"not null;default:1"`
	IssuedAt         time.Time  `gorm:"not null;index"`
	ExpiresAt        *time.Time
	RedeemedAt       *time.Time
	Metadata         datatypes.JSONMap
}

// TableName 指定 GORM 应该使用的表名
func (IssuedCouponModel) TableName() string {
	return "issued_coupons"
}

// QuestionModel 对应数据库中的 questions 表，(tenant_id, order_index) 唯一。
type QuestionModel struct {
	ID         string         `gorm:"primaryKey;size:36"`
	TenantID   string         `gorm:"size:36;not null;uniqueIndex:idx_question_order,priority:1"`
	OrderIndex int            `gorm:"not null;uniqueIndex:idx_question_order,priority:2"`
	Prompt     string         `gorm:"type:text;not null"`
	Kind       string         `gorm:"size:32;not null"`
	Options    datatypes.JSON
	Required   bool           `gorm:"not null"`
	Active     bool           `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName 指定 GORM 应该使用的表名
func (QuestionModel) TableName() string {
	return "questions"
}

// ResponseModel 对应数据库中的 responses 表，Answer 保存带标签的答案。
type ResponseModel struct {
	ID          string         `gorm:"primaryKey;size:36"`
	TenantID    string         `gorm:"size:36;not null;index:idx_response_email,priority:1"`
	Email       *string        `gorm:"size:255;index:idx_response_email,priority:2"`
	QuestionID  string         `gorm:"size:36;not null;index"`
	Answer      datatypes.JSON `gorm:"not null"`
	SubmittedAt time.Time      `gorm:"not null"`
}

// TableName 指定 GORM 应该使用的表名
func (ResponseModel) TableName() string {
	return "responses"
}

// AllModels 返回需要自动迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&TenantModel{},
		&CouponDefinitionModel{},
		&IssuedCouponModel{},
		&QuestionModel{},
		&ResponseModel{},
	}
}
