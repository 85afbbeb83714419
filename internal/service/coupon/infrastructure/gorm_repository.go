// internal/service/coupon/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"nexus-coupon/internal/service/coupon/domain"
)

// scoped 返回只能看到该租户数据的查询
func scoped(ctx context.Context, db *gorm.DB, tc domain.TenantContext) *gorm.DB {
	return db.WithContext(ctx).Where("tenant_id = ?", tc.TenantID)
}

// GormTenantRepository 是 TenantRepository 的 GORM 实现
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository 创建一个新的 GORM 仓储实例
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

func (r *GormTenantRepository) FindBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	var model TenantModel
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, errors.Wrap(err, "find tenant by slug")
	}
	return ToDomainTenant(&model), nil
}

func (r *GormTenantRepository) Create(ctx context.Context, tenant *domain.Tenant) error {
	err := r.db.WithContext(ctx).Create(FromDomainTenant(tenant)).Error
	if isDuplicateKey(err) {
		return domain.ErrTenantSlugTaken
	}
	return errors.Wrap(err, "create tenant")
}

// GormCouponDefinitionRepository 是 CouponDefinitionRepository 的 GORM 实现
type GormCouponDefinitionRepository struct {
	db *gorm.DB
}

// NewGormCouponDefinitionRepository 创建一个新的 GORM 仓储实例
func NewGormCouponDefinitionRepository(db *gorm.DB) *GormCouponDefinitionRepository {
	return &GormCouponDefinitionRepository{db: db}
}

func (r *GormCouponDefinitionRepository) Create(ctx context.Context, tc domain.TenantContext, def *domain.CouponDefinition) error {
	model := FromDomainCouponDefinition(def)
	model.TenantID = tc.TenantID
	return errors.Wrap(r.db.WithContext(ctx).Create(model).Error, "create coupon definition")
}

func (r *GormCouponDefinitionRepository) FindByID(ctx context.Context, tc domain.TenantContext, id string) (*domain.CouponDefinition, error) {
	var model CouponDefinitionModel
	err := scoped(ctx, r.db, tc).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, errors.Wrap(err, "find coupon definition")
	}
	return ToDomainCouponDefinition(&model), nil
}

func (r *GormCouponDefinitionRepository) List(ctx context.Context, tc domain.TenantContext) ([]*domain.CouponDefinition, error) {
	var models []CouponDefinitionModel
	if err := scoped(ctx, r.db, tc).Order("created_at DESC").Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list coupon definitions")
	}
	out := make([]*domain.CouponDefinition, 0, len(models))
	for i := range models {
		out = append(out, ToDomainCouponDefinition(&models[i]))
	}
	return out, nil
}

func (r *GormCouponDefinitionRepository) Update(ctx context.Context, tc domain.TenantContext, def *domain.CouponDefinition) error {
	model := FromDomainCouponDefinition(def)
	// Select("*") 让 false、0 这类零值也被写入
	res := scoped(ctx, r.db, tc).Model(&CouponDefinitionModel{}).Where("id = ?", def.ID).
		Select("*").Omit("id", "tenant_id", "created_at").
		Updates(model)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update coupon definition")
	}
	if res.RowsAffected == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

func (r *GormCouponDefinitionRepository) Delete(ctx context.Context, tc domain.TenantContext, id string) error {
	res := scoped(ctx, r.db, tc).Where("id = ?", id).Delete(&CouponDefinitionModel{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete coupon definition")
	}
	if res.RowsAffected == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

// GormIssuedCouponRepository 是 IssuedCouponRepository 的 GORM 实现
type GormIssuedCouponRepository struct {
	db *gorm.DB
}

// NewGormIssuedCouponRepository 创建一个新的 GORM 仓储实例
func NewGormIssuedCouponRepository(db *gorm.DB) *GormIssuedCouponRepository {
	return &GormIssuedCouponRepository{db: db}
}

func (r *GormIssuedCouponRepository) FindLatestForCustomer(ctx context.Context, tc domain.TenantContext, couponID, email string) (*domain.IssuedCoupon, error) {
	var model IssuedCouponModel
	err := scoped(ctx, r.db, tc).
		Where("coupon_id = ? AND email = ?", couponID, email).
		Order("issued_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find latest coupon for customer")
	}
	return ToDomainIssuedCoupon(&model), nil
}

func (r *GormIssuedCouponRepository) FindByCode(ctx context.Context, tc domain.TenantContext, code string) (*domain.IssuedCoupon, error) {
	var model IssuedCouponModel
	err := scoped(ctx, r.db, tc).Where("code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCouponCodeNotFound
		}
		return nil, errors.Wrap(err, "find issued coupon by code")
	}
	return ToDomainIssuedCoupon(&model), nil
}

func (r *GormIssuedCouponRepository) FindByID(ctx context.Context, tc domain.TenantContext, id string) (*domain.IssuedCoupon, error) {
	var model IssuedCouponModel
	err := scoped(ctx, r.db, tc).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrIssuedCouponNotFound
		}
		return nil, errors.Wrap(err, "find issued coupon by id")
	}
	return ToDomainIssuedCoupon(&model), nil
}

func (r *GormIssuedCouponRepository) Insert(ctx context.Context, tc domain.TenantContext, coupon *domain.IssuedCoupon) error {
	model := FromDomainIssuedCoupon(coupon)
	model.TenantID = tc.TenantID
	err := r.db.WithContext(ctx).Create(model).Error
	if isDuplicateKey(err) {
		return domain.ErrDuplicateKey
	}
	return errors.Wrap(err, "insert issued coupon")
}

func (r *GormIssuedCouponRepository) ExistsForEmail(ctx context.Context, tc domain.TenantContext, email string) (bool, error) {
	var count int64
	err := scoped(ctx, r.db, tc).Model(&IssuedCouponModel{}).Where("email = ?", email).Limit(1).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check coupons for email")
	}
	return count > 0, nil
}

func (r *GormIssuedCouponRepository) HasRedeemedSibling(ctx context.Context, tc domain.TenantContext, couponID, email, excludeID string) (bool, error) {
	var count int64
	err := scoped(ctx, r.db, tc).Model(&IssuedCouponModel{}).
		Where("coupon_id = ? AND email = ? AND id <> ?", couponID, email, excludeID).
		Where("status = ? OR redemptions_count >= max_redemptions", string(domain.StatusRedeemed)).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check redeemed siblings")
	}
	return count > 0, nil
}

// CompareAndSwap 以 (id, tenant_id, status, redemptions_count) 为条件更新，
// 条件不满足时不写入并返回 false。
func (r *GormIssuedCouponRepository) CompareAndSwap(ctx context.Context, tc domain.TenantContext, prev, next *domain.IssuedCoupon) (bool, error) {
	updates := map[string]interface{}{
		"status":            string(next.Status),
		"redemptions_count": next.RedemptionsCount,
		"redeemed_at":       nullableTime(next),
	}
	res := scoped(ctx, r.db, tc).Model(&IssuedCouponModel{}).
		Where("id = ? AND status = ? AND redemptions_count = ?", prev.ID, string(prev.Status), prev.RedemptionsCount).
		Updates(updates)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "compare and swap issued coupon")
	}
	return res.RowsAffected == 1, nil
}

func (r *GormIssuedCouponRepository) MarkExpired(ctx context.Context, tc domain.TenantContext, id string) (bool, error) {
	res := scoped(ctx, r.db, tc).Model(&IssuedCouponModel{}).
		Where("id = ? AND status IN ?", id, []string{string(domain.StatusIssued), string(domain.StatusRedeemed)}).
		Update("status", string(domain.StatusExpired))
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "mark issued coupon expired")
	}
	return res.RowsAffected > 0, nil
}

func (r *GormIssuedCouponRepository) Update(ctx context.Context, tc domain.TenantContext, id string, upd domain.IssuedCouponUpdate) (int64, error) {
	updates := map[string]interface{}{}
	if upd.Status != nil {
		updates["status"] = string(*upd.Status)
	}
	if upd.RedemptionsCount != nil {
		updates["redemptions_count"] = *upd.RedemptionsCount
	}
	if upd.SetRedeemedAt {
		if upd.RedeemedAt == nil {
			updates["redeemed_at"] = nil
		} else {
			updates["redeemed_at"] = *upd.RedeemedAt
		}
	}
	if upd.Metadata != nil {
		updates["metadata"] = datatypes.JSONMap(upd.Metadata)
	}

	// 没有字段要改时只确认行是否可见
	if len(updates) == 0 {
		var count int64
		err := scoped(ctx, r.db, tc).Model(&IssuedCouponModel{}).Where("id = ?", id).Count(&count).Error
		return count, errors.Wrap(err, "check issued coupon")
	}

	res := scoped(ctx, r.db, tc).Model(&IssuedCouponModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "update issued coupon")
	}
	return res.RowsAffected, nil
}

func (r *GormIssuedCouponRepository) ListPage(ctx context.Context, tc domain.TenantContext, offset, limit int) ([]*domain.IssuedCoupon, int64, error) {
	var total int64
	if err := scoped(ctx, r.db, tc).Model(&IssuedCouponModel{}).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count issued coupons")
	}

	var models []IssuedCouponModel
	err := scoped(ctx, r.db, tc).
		Order("issued_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list issued coupons")
	}
	out := make([]*domain.IssuedCoupon, 0, len(models))
	for i := range models {
		out = append(out, ToDomainIssuedCoupon(&models[i]))
	}
	return out, total, nil
}

func nullableTime(c *domain.IssuedCoupon) interface{} {
	if c.RedeemedAt == nil {
		return nil
	}
	return *c.RedeemedAt
}

// GormQuestionRepository 是 QuestionRepository 的 GORM 实现
type GormQuestionRepository struct {
	db *gorm.DB
}

// NewGormQuestionRepository 创建一个新的 GORM 仓储实例
func NewGormQuestionRepository(db *gorm.DB) *GormQuestionRepository {
	return &GormQuestionRepository{db: db}
}

func (r *GormQuestionRepository) Create(ctx context.Context, tc domain.TenantContext, q *domain.Question) error {
	model, err := FromDomainQuestion(q)
	if err != nil {
		return errors.Wrap(err, "encode question")
	}
	model.TenantID = tc.TenantID
	err = r.db.WithContext(ctx).Create(model).Error
	if isDuplicateKey(err) {
		return domain.ErrDuplicateKey
	}
	return errors.Wrap(err, "create question")
}

func (r *GormQuestionRepository) FindByID(ctx context.Context, tc domain.TenantContext, id string) (*domain.Question, error) {
	var model QuestionModel
	err := scoped(ctx, r.db, tc).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrQuestionNotFound
		}
		return nil, errors.Wrap(err, "find question")
	}
	q, err := ToDomainQuestion(&model)
	return q, errors.Wrap(err, "decode question")
}

func (r *GormQuestionRepository) List(ctx context.Context, tc domain.TenantContext, activeOnly bool) ([]*domain.Question, error) {
	query := scoped(ctx, r.db, tc)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var models []QuestionModel
	if err := query.Order("order_index ASC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list questions")
	}
	out := make([]*domain.Question, 0, len(models))
	for i := range models {
		q, err := ToDomainQuestion(&models[i])
		if err != nil {
			return nil, errors.Wrap(err, "decode question")
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *GormQuestionRepository) Update(ctx context.Context, tc domain.TenantContext, q *domain.Question) error {
	model, err := FromDomainQuestion(q)
	if err != nil {
		return errors.Wrap(err, "encode question")
	}
	res := scoped(ctx, r.db, tc).Model(&QuestionModel{}).Where("id = ?", q.ID).
		Select("prompt", "kind", "options", "required", "active", "updated_at").
		Updates(model)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update question")
	}
	if res.RowsAffected == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (r *GormQuestionRepository) Delete(ctx context.Context, tc domain.TenantContext, id string) error {
	res := scoped(ctx, r.db, tc).Where("id = ?", id).Delete(&QuestionModel{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete question")
	}
	if res.RowsAffected == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (r *GormQuestionRepository) SetOrderIndex(ctx context.Context, tc domain.TenantContext, id string, orderIndex int) error {
	res := scoped(ctx, r.db, tc).Model(&QuestionModel{}).Where("id = ?", id).Update("order_index", orderIndex)
	if isDuplicateKey(res.Error) {
		return domain.ErrDuplicateKey
	}
	if res.Error != nil {
		return errors.Wrap(res.Error, "set question order")
	}
	if res.RowsAffected == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (r *GormQuestionRepository) MaxOrderIndex(ctx context.Context, tc domain.TenantContext) (int, error) {
	var max int
	err := scoped(ctx, r.db, tc).Model(&QuestionModel{}).
		Select("COALESCE(MAX(order_index), -1)").
		Scan(&max).Error
	return max, errors.Wrap(err, "max question order")
}

// GormResponseRepository 是 ResponseRepository 的 GORM 实现
type GormResponseRepository struct {
	db *gorm.DB
}

// NewGormResponseRepository 创建一个新的 GORM 仓储实例
func NewGormResponseRepository(db *gorm.DB) *GormResponseRepository {
	return &GormResponseRepository{db: db}
}

func (r *GormResponseRepository) Insert(ctx context.Context, tc domain.TenantContext, responses []*domain.Response) error {
	if len(responses) == 0 {
		return nil
	}
	models := make([]*ResponseModel, 0, len(responses))
	for _, resp := range responses {
		m, err := FromDomainResponse(resp)
		if err != nil {
			return errors.Wrap(err, "encode response")
		}
		m.TenantID = tc.TenantID
		models = append(models, m)
	}
	// 一次答卷要么全部写入，要么都不写
	return errors.Wrap(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&models).Error
	}), "insert responses")
}

func (r *GormResponseRepository) ListByEmail(ctx context.Context, tc domain.TenantContext, email string) ([]*domain.Response, error) {
	var models []ResponseModel
	err := scoped(ctx, r.db, tc).Where("email = ?", email).Order("submitted_at ASC").Order("id").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list responses")
	}
	out := make([]*domain.Response, 0, len(models))
	for i := range models {
		resp, err := ToDomainResponse(&models[i])
		if err != nil {
			return nil, errors.Wrap(err, "decode response")
		}
		out = append(out, resp)
	}
	return out, nil
}

var (
	_ domain.TenantRepository           = (*GormTenantRepository)(nil)
	_ domain.CouponDefinitionRepository = (*GormCouponDefinitionRepository)(nil)
	_ domain.IssuedCouponRepository     = (*GormIssuedCouponRepository)(nil)
	_ domain.QuestionRepository         = (*GormQuestionRepository)(nil)
	_ domain.ResponseRepository         = (*GormResponseRepository)(nil)
)
