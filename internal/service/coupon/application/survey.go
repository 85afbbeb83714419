// internal/service/coupon/application/survey.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/service/coupon/domain"
)

// SurveyService 管理问卷问题的增删改、排序以及答卷的保存。
type SurveyService struct {
	tenants   *TenantService
	questions domain.QuestionRepository
	responses domain.ResponseRepository
	tracer    trace.Tracer
	now       func() time.Time
}

// NewSurveyService 创建一个新的问卷服务实例
func NewSurveyService(tenants *TenantService, questions domain.QuestionRepository, responses domain.ResponseRepository, tracer trace.Tracer) *SurveyService {
	return &SurveyService{
		tenants:   tenants,
		questions: questions,
		responses: responses,
		tracer:    tracer,
		now:       time.Now,
	}
}

// CreateQuestion 新建问题并追加到末尾
func (s *SurveyService) CreateQuestion(ctx context.Context, slug string, in *QuestionInput) (*domain.Question, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateQuestion")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}

	now := s.now().UTC()
	q := &domain.Question{
		ID:        uuid.NewString(),
		TenantID:  tc.TenantID,
		Prompt:    strings.TrimSpace(in.Prompt),
		Kind:      in.Kind,
		Options:   in.Options,
		Required:  in.Required,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Active != nil {
		q.Active = *in.Active
	}
	if err := q.Validate(); err != nil {
		return nil, recordErr(span, err)
	}

	maxIndex, err := s.questions.MaxOrderIndex(ctx, tc)
	if err != nil {
		return nil, recordErr(span, err)
	}
	q.OrderIndex = maxIndex + 1
	if err := s.questions.Create(ctx, tc, q); err != nil {
		return nil, recordErr(span, err)
	}

	logger.Ctx(ctx).Info().Str("tenant", tc.Slug).Str("question_id", q.ID).Int("order_index", q.OrderIndex).Msg("question created")
	return q, nil
}

// ListQuestions 按顺序返回问题，activeOnly 用于顾客侧的问卷页面。
func (s *SurveyService) ListQuestions(ctx context.Context, slug string, activeOnly bool) ([]*domain.Question, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListQuestions")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	qs, err := s.questions.List(ctx, tc, activeOnly)
	return qs, recordErr(span, err)
}

// UpdateQuestion 整体替换问题内容，顺序不变。
func (s *SurveyService) UpdateQuestion(ctx context.Context, slug, id string, in *QuestionInput) (*domain.Question, error) {
	ctx, span := s.tracer.Start(ctx, "service.UpdateQuestion")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	q, err := s.questions.FindByID(ctx, tc, id)
	if err != nil {
		return nil, recordErr(span, err)
	}

	q.Prompt = strings.TrimSpace(in.Prompt)
	q.Kind = in.Kind
	q.Options = in.Options
	q.Required = in.Required
	if in.Active != nil {
		q.Active = *in.Active
	}
	q.UpdatedAt = s.now().UTC()
	if err := q.Validate(); err != nil {
		return nil, recordErr(span, err)
	}
	if err := s.questions.Update(ctx, tc, q); err != nil {
		return nil, recordErr(span, err)
	}
	return q, nil
}

// DeleteQuestion 删除问题，剩余问题的顺序号保持不变。
func (s *SurveyService) DeleteQuestion(ctx context.Context, slug, id string) error {
	ctx, span := s.tracer.Start(ctx, "service.DeleteQuestion")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return recordErr(span, err)
	}
	if err := s.questions.Delete(ctx, tc, id); err != nil {
		return recordErr(span, err)
	}
	logger.Ctx(ctx).Info().Str("tenant", tc.Slug).Str("question_id", id).Msg("question deleted")
	return nil
}

// MoveQuestion 把问题与相邻问题交换位置。
//
// (tenant_id, order_index) 上有唯一约束，交换分三步：
//  1. a 移到哨兵位置 -(a.order+1)
//  2. b 移到 a 原来的位置
//  3. a 移到 b 原来的位置
//
// 任一步失败都会按相反顺序撤销已完成的步骤。
func (s *SurveyService) MoveQuestion(ctx context.Context, slug, id string, dir MoveDirection) ([]*domain.Question, error) {
	ctx, span := s.tracer.Start(ctx, "service.MoveQuestion")
	defer span.End()

	span.SetAttributes(attribute.String("question.id", id), attribute.String("direction", string(dir)))

	if dir != MoveUp && dir != MoveDown {
		return nil, recordErr(span, domain.Invalid(fmt.Sprintf("direction must be %q or %q", MoveUp, MoveDown)))
	}

	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	all, err := s.questions.List(ctx, tc, false)
	if err != nil {
		return nil, recordErr(span, err)
	}

	pos := -1
	for i, q := range all {
		if q.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, recordErr(span, domain.ErrQuestionNotFound)
	}
	neighbour := pos - 1
	if dir == MoveDown {
		neighbour = pos + 1
	}
	if neighbour < 0 || neighbour >= len(all) {
		return nil, recordErr(span, domain.ErrQuestionOrderBoundary)
	}

	if err := s.swap(ctx, tc, all[pos], all[neighbour]); err != nil {
		return nil, recordErr(span, err)
	}
	all[pos].OrderIndex, all[neighbour].OrderIndex = all[neighbour].OrderIndex, all[pos].OrderIndex
	all[pos], all[neighbour] = all[neighbour], all[pos]
	return all, nil
}

func (s *SurveyService) swap(ctx context.Context, tc domain.TenantContext, a, b *domain.Question) error {
	log := logger.Ctx(ctx)
	aIndex, bIndex := a.OrderIndex, b.OrderIndex
	sentinel := -(aIndex + 1)

	if err := s.questions.SetOrderIndex(ctx, tc, a.ID, sentinel); err != nil {
		return domain.Unexpected("Failed to reorder questions", err)
	}

	if err := s.questions.SetOrderIndex(ctx, tc, b.ID, aIndex); err != nil {
		log.Warn().Err(err).Str("question_id", b.ID).Msg("reorder step 2 failed, rolling back")
		if rbErr := s.questions.SetOrderIndex(ctx, tc, a.ID, aIndex); rbErr != nil {
			return s.rollbackFailed(ctx, err, rbErr)
		}
		return &domain.Error{Kind: domain.KindUnexpected, Message: domain.ErrQuestionReorderRecovered.Message, Err: errors.Join(domain.ErrQuestionReorderRecovered, err)}
	}

	if err := s.questions.SetOrderIndex(ctx, tc, a.ID, bIndex); err != nil {
		log.Warn().Err(err).Str("question_id", a.ID).Msg("reorder step 3 failed, rolling back")
		if rbErr := s.questions.SetOrderIndex(ctx, tc, b.ID, bIndex); rbErr != nil {
			return s.rollbackFailed(ctx, err, rbErr)
		}
		if rbErr := s.questions.SetOrderIndex(ctx, tc, a.ID, aIndex); rbErr != nil {
			return s.rollbackFailed(ctx, err, rbErr)
		}
		return &domain.Error{Kind: domain.KindUnexpected, Message: domain.ErrQuestionReorderRecovered.Message, Err: errors.Join(domain.ErrQuestionReorderRecovered, err)}
	}

	log.Info().Str("tenant", tc.Slug).Str("question_id", a.ID).Int("from", aIndex).Int("to", bIndex).Msg("question moved")
	return nil
}

func (s *SurveyService) rollbackFailed(ctx context.Context, cause, rbErr error) error {
	logger.Ctx(ctx).Error().Err(rbErr).AnErr("cause", cause).Msg("question reorder rollback failed, order may contain a sentinel index")
	return domain.Unexpected("Failed to reorder questions", errors.Join(cause, rbErr))
}

// SubmitResponse 保存一次答卷，每个答案一行。必答的启用问题必须回答。
func (s *SurveyService) SubmitResponse(ctx context.Context, req *SubmitResponseRequest) ([]*domain.Response, error) {
	ctx, span := s.tracer.Start(ctx, "service.SubmitResponse")
	defer span.End()

	tc, err := s.tenants.Resolve(ctx, req.TenantSlug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if len(req.Answers) == 0 {
		return nil, recordErr(span, domain.Invalid("at least one answer is required"))
	}

	questions, err := s.questions.List(ctx, tc, true)
	if err != nil {
		return nil, recordErr(span, err)
	}
	byID := make(map[string]*domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
		if _, ok := req.Answers[q.ID]; q.Required && !ok {
			return nil, recordErr(span, domain.Invalid(fmt.Sprintf("question %s is required", q.ID)))
		}
	}

	now := s.now().UTC()
	email := domain.NormalizeEmail(req.Email)
	out := make([]*domain.Response, 0, len(req.Answers))
	// 按问题顺序写入，结果稳定
	for _, q := range questions {
		answer, ok := req.Answers[q.ID]
		if !ok {
			continue
		}
		if err := q.Accepts(answer); err != nil {
			return nil, recordErr(span, err)
		}
		out = append(out, &domain.Response{
			ID:          uuid.NewString(),
			TenantID:    tc.TenantID,
			QuestionID:  q.ID,
			Email:       email,
			Answer:      answer,
			SubmittedAt: now,
		})
	}
	for qid := range req.Answers {
		if _, ok := byID[qid]; !ok {
			return nil, recordErr(span, domain.Invalid(fmt.Sprintf("question %s does not exist or is inactive", qid)))
		}
	}

	if err := s.responses.Insert(ctx, tc, out); err != nil {
		return nil, recordErr(span, err)
	}
	span.SetAttributes(attribute.Int("answers", len(out)))
	logger.Ctx(ctx).Info().Str("tenant", tc.Slug).Int("answers", len(out)).Msg("survey response stored")
	return out, nil
}

// ListResponses 返回某个邮箱的全部答卷
func (s *SurveyService) ListResponses(ctx context.Context, slug, email string) ([]*domain.Response, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListResponses")
	defer span.End()

	normalized := domain.NormalizeEmail(email)
	if normalized == nil {
		return nil, recordErr(span, domain.Invalid("email is required"))
	}
	tc, err := s.tenants.Resolve(ctx, slug)
	if err != nil {
		return nil, recordErr(span, err)
	}
	rs, err := s.responses.ListByEmail(ctx, tc, *normalized)
	return rs, recordErr(span, err)
}
