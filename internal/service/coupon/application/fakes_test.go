package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"nexus-coupon/internal/service/coupon/domain"
	"nexus-coupon/internal/service/coupon/port"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

type memTenants struct {
	mu      sync.Mutex
	bySlug  map[string]*domain.Tenant
	lookups int
}

func newMemTenants(tenants ...*domain.Tenant) *memTenants {
	m := &memTenants{bySlug: map[string]*domain.Tenant{}}
	for _, t := range tenants {
		m.bySlug[t.Slug] = t
	}
	return m
}

func (m *memTenants) FindBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	t, ok := m.bySlug[slug]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTenants) Create(_ context.Context, t *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySlug[t.Slug]; ok {
		return domain.ErrTenantSlugTaken
	}
	m.bySlug[t.Slug] = t
	return nil
}

type memDefinitions struct {
	mu   sync.Mutex
	defs map[string]*domain.CouponDefinition
}

func newMemDefinitions(defs ...*domain.CouponDefinition) *memDefinitions {
	m := &memDefinitions{defs: map[string]*domain.CouponDefinition{}}
	for _, d := range defs {
		m.defs[d.ID] = d
	}
	return m
}

func (m *memDefinitions) Create(_ context.Context, _ domain.TenantContext, def *domain.CouponDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *def
	m.defs[def.ID] = &cp
	return nil
}

func (m *memDefinitions) FindByID(_ context.Context, tc domain.TenantContext, id string) (*domain.CouponDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[id]
	if !ok || d.TenantID != tc.TenantID {
		return nil, domain.ErrCouponNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDefinitions) List(_ context.Context, tc domain.TenantContext) ([]*domain.CouponDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.CouponDefinition
	for _, d := range m.defs {
		if d.TenantID == tc.TenantID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memDefinitions) Update(_ context.Context, tc domain.TenantContext, def *domain.CouponDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.defs[def.ID]; !ok || d.TenantID != tc.TenantID {
		return domain.ErrCouponNotFound
	}
	cp := *def
	m.defs[def.ID] = &cp
	return nil
}

func (m *memDefinitions) Delete(_ context.Context, tc domain.TenantContext, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.defs[id]; !ok || d.TenantID != tc.TenantID {
		return domain.ErrCouponNotFound
	}
	delete(m.defs, id)
	return nil
}

// memIssued 模拟两个唯一索引：(tenant, code) 和 (tenant, coupon, email)。
type memIssued struct {
	mu      sync.Mutex
	coupons map[string]*domain.IssuedCoupon

	// 以下钩子用于注入故障
	insertHook     func(c *domain.IssuedCoupon) error
	findLatestErr  error
	casHook        func(prev *domain.IssuedCoupon) (bool, error)
	markExpiredErr error
	updateRows     *int64
	inserts        int
}

func newMemIssued() *memIssued {
	return &memIssued{coupons: map[string]*domain.IssuedCoupon{}}
}

func (m *memIssued) put(c *domain.IssuedCoupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[c.ID] = c.Clone()
}

func (m *memIssued) get(id string) *domain.IssuedCoupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[id].Clone()
}

func (m *memIssued) FindLatestForCustomer(_ context.Context, tc domain.TenantContext, couponID, email string) (*domain.IssuedCoupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findLatestErr != nil {
		return nil, m.findLatestErr
	}
	var latest *domain.IssuedCoupon
	for _, c := range m.coupons {
		if c.TenantID == tc.TenantID && c.CouponID == couponID && c.EmailValue() == email {
			if latest == nil || c.IssuedAt.After(latest.IssuedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Clone(), nil
}

func (m *memIssued) FindByCode(_ context.Context, tc domain.TenantContext, code string) (*domain.IssuedCoupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.TenantID == tc.TenantID && c.Code == code {
			return c.Clone(), nil
		}
	}
	return nil, domain.ErrCouponCodeNotFound
}

func (m *memIssued) FindByID(_ context.Context, tc domain.TenantContext, id string) (*domain.IssuedCoupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok || c.TenantID != tc.TenantID {
		return nil, domain.ErrIssuedCouponNotFound
	}
	return c.Clone(), nil
}

func (m *memIssued) Insert(_ context.Context, tc domain.TenantContext, coupon *domain.IssuedCoupon) error {
	if m.insertHook != nil {
		if err := m.insertHook(coupon); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	for _, c := range m.coupons {
		if c.TenantID != tc.TenantID {
			continue
		}
		if c.Code == coupon.Code {
			return domain.ErrDuplicateKey
		}
		if coupon.Email != nil && c.CouponID == coupon.CouponID && c.EmailValue() == *coupon.Email {
			return domain.ErrDuplicateKey
		}
	}
	m.coupons[coupon.ID] = coupon.Clone()
	return nil
}

func (m *memIssued) ExistsForEmail(_ context.Context, tc domain.TenantContext, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.TenantID == tc.TenantID && c.EmailValue() == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memIssued) HasRedeemedSibling(_ context.Context, tc domain.TenantContext, couponID, email, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.TenantID == tc.TenantID && c.CouponID == couponID && c.EmailValue() == email &&
			c.ID != excludeID && c.Status == domain.StatusRedeemed {
			return true, nil
		}
	}
	return false, nil
}

func (m *memIssued) CompareAndSwap(_ context.Context, tc domain.TenantContext, prev, next *domain.IssuedCoupon) (bool, error) {
	if m.casHook != nil {
		if ok, err := m.casHook(prev); !ok || err != nil {
			return ok, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[prev.ID]
	if !ok || c.TenantID != tc.TenantID || c.Status != prev.Status || c.RedemptionsCount != prev.RedemptionsCount {
		return false, nil
	}
	m.coupons[prev.ID] = next.Clone()
	return true, nil
}

func (m *memIssued) MarkExpired(_ context.Context, tc domain.TenantContext, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markExpiredErr != nil {
		return false, m.markExpiredErr
	}
	c, ok := m.coupons[id]
	if !ok || c.TenantID != tc.TenantID || (c.Status != domain.StatusIssued && c.Status != domain.StatusRedeemed) {
		return false, nil
	}
	c.Status = domain.StatusExpired
	return true, nil
}

func (m *memIssued) Update(_ context.Context, tc domain.TenantContext, id string, upd domain.IssuedCouponUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateRows != nil {
		return *m.updateRows, nil
	}
	c, ok := m.coupons[id]
	if !ok || c.TenantID != tc.TenantID {
		return 0, nil
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.RedemptionsCount != nil {
		c.RedemptionsCount = *upd.RedemptionsCount
	}
	if upd.SetRedeemedAt {
		c.RedeemedAt = upd.RedeemedAt
	}
	if upd.Metadata != nil {
		c.Metadata = upd.Metadata
	}
	return 1, nil
}

func (m *memIssued) ListPage(_ context.Context, tc domain.TenantContext, offset, limit int) ([]*domain.IssuedCoupon, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*domain.IssuedCoupon
	for _, c := range m.coupons {
		if c.TenantID == tc.TenantID {
			all = append(all, c.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].IssuedAt.After(all[j].IssuedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return []*domain.IssuedCoupon{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

type memQuestions struct {
	mu        sync.Mutex
	questions map[string]*domain.Question
	// failSet 返回非 nil 时 SetOrderIndex 失败，call 从 1 开始计数
	failSet func(call int, id string, idx int) error
	setCalls int
}

func newMemQuestions() *memQuestions {
	return &memQuestions{questions: map[string]*domain.Question{}}
}

func (m *memQuestions) Create(_ context.Context, _ domain.TenantContext, q *domain.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.questions {
		if other.TenantID == q.TenantID && other.OrderIndex == q.OrderIndex {
			return domain.ErrDuplicateKey
		}
	}
	cp := *q
	m.questions[q.ID] = &cp
	return nil
}

func (m *memQuestions) FindByID(_ context.Context, tc domain.TenantContext, id string) (*domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok || q.TenantID != tc.TenantID {
		return nil, domain.ErrQuestionNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *memQuestions) List(_ context.Context, tc domain.TenantContext, activeOnly bool) ([]*domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Question
	for _, q := range m.questions {
		if q.TenantID != tc.TenantID || (activeOnly && !q.Active) {
			continue
		}
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *memQuestions) Update(_ context.Context, tc domain.TenantContext, q *domain.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.questions[q.ID]; !ok || cur.TenantID != tc.TenantID {
		return domain.ErrQuestionNotFound
	}
	cp := *q
	m.questions[q.ID] = &cp
	return nil
}

func (m *memQuestions) Delete(_ context.Context, tc domain.TenantContext, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.questions[id]; !ok || cur.TenantID != tc.TenantID {
		return domain.ErrQuestionNotFound
	}
	delete(m.questions, id)
	return nil
}

func (m *memQuestions) SetOrderIndex(_ context.Context, tc domain.TenantContext, id string, orderIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.failSet != nil {
		if err := m.failSet(m.setCalls, id, orderIndex); err != nil {
			return err
		}
	}
	q, ok := m.questions[id]
	if !ok || q.TenantID != tc.TenantID {
		return domain.ErrQuestionNotFound
	}
	for _, other := range m.questions {
		if other.ID != id && other.TenantID == tc.TenantID && other.OrderIndex == orderIndex {
			return domain.ErrDuplicateKey
		}
	}
	q.OrderIndex = orderIndex
	return nil
}

func (m *memQuestions) MaxOrderIndex(_ context.Context, tc domain.TenantContext) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := -1
	for _, q := range m.questions {
		if q.TenantID == tc.TenantID && q.OrderIndex > max {
			max = q.OrderIndex
		}
	}
	return max, nil
}

func (m *memQuestions) indexes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for id, q := range m.questions {
		out[id] = q.OrderIndex
	}
	return out
}

type memResponses struct {
	mu        sync.Mutex
	responses []*domain.Response
}

func (m *memResponses) Insert(_ context.Context, _ domain.TenantContext, rs []*domain.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, rs...)
	return nil
}

func (m *memResponses) ListByEmail(_ context.Context, tc domain.TenantContext, email string) ([]*domain.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Response
	for _, r := range m.responses {
		if r.TenantID == tc.TenantID && r.Email != nil && *r.Email == email {
			out = append(out, r)
		}
	}
	return out, nil
}

// stubLimiter 对每个 (kind, id) 计数，超过 limit 拒绝。
type stubLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
	err    error
}

func newStubLimiter(limit int) *stubLimiter {
	return &stubLimiter{limit: limit, counts: map[string]int{}}
}

func (l *stubLimiter) Allow(_ context.Context, kind port.LimitKind, identifier string) (port.RateLimitDecision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return port.RateLimitDecision{}, l.err
	}
	key := string(kind) + ":" + identifier
	l.counts[key]++
	if l.counts[key] > l.limit {
		return port.RateLimitDecision{RetryAfter: 30 * time.Second}, nil
	}
	return port.RateLimitDecision{Allowed: true, Remaining: l.limit - l.counts[key]}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.CouponEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.CouponEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type funcRules func(rule string, facts domain.EligibilityFacts) (bool, error)

func (f funcRules) Compile(string) error { return nil }

func (f funcRules) Evaluate(rule string, facts domain.EligibilityFacts) (bool, error) {
	return f(rule, facts)
}
