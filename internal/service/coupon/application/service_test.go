package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-coupon/internal/service/coupon/domain"
)

var fixedNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *CouponService
	tenants   *memTenants
	defs      *memDefinitions
	issued    *memIssued
	limiter   *stubLimiter
	publisher *recordingPublisher
	metrics   *Metrics
	tc        domain.TenantContext
}

func newFixture(t *testing.T, mutate ...func(*Deps, *Options)) *fixture {
	t.Helper()
	tenant := &domain.Tenant{ID: "t-acme", Slug: "acme", Name: "Acme", Active: true}
	f := &fixture{
		tenants: newMemTenants(tenant, &domain.Tenant{ID: "t-old", Slug: "old", Active: false}),
		defs: newMemDefinitions(&domain.CouponDefinition{
			ID: "spring", TenantID: "t-acme", Title: "Spring", Active: true, MaxRedemptions: 1,
		}),
		issued:    newMemIssued(),
		limiter:   newStubLimiter(100),
		publisher: &recordingPublisher{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
		tc:        domain.TenantContext{TenantID: "t-acme", Slug: "acme"},
	}
	deps := Deps{
		Tenants:     NewTenantService(f.tenants, testTracer),
		Definitions: f.defs,
		Issued:      f.issued,
		Limiter:     f.limiter,
		Publisher:   f.publisher,
		Metrics:     f.metrics,
		Tracer:      testTracer,
	}
	opts := Options{Now: func() time.Time { return fixedNow }}
	for _, m := range mutate {
		m(&deps, &opts)
	}
	f.svc = NewCouponService(deps, opts)
	return f
}

func (f *fixture) issue(t *testing.T, email string) *IssueCouponResult {
	t.Helper()
	res, err := f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{TenantSlug: "acme", CouponID: "spring", Email: email})
	require.NoError(t, err)
	return res
}

func (f *fixture) validate(code string, redeem bool) (*ValidateCouponResult, error) {
	return f.svc.ValidateCoupon(context.Background(), &ValidateCouponRequest{TenantSlug: "acme", Code: code, Redeem: redeem})
}

func seedCoupon(f *fixture, id string, max int, mutate func(*domain.IssuedCoupon)) *domain.IssuedCoupon {
	email := id + "@example.com"
	c := &domain.IssuedCoupon{
		ID:             id,
		TenantID:       "t-acme",
		CouponID:       "spring",
		Code:           "CPN-" + strings.ToUpper(id),
		Email:          &email,
		Status:         domain.StatusIssued,
		MaxRedemptions: max,
		IssuedAt:       fixedNow.Add(-time.Hour),
		Metadata:       map[string]any{},
	}
	if mutate != nil {
		mutate(c)
	}
	f.issued.put(c)
	return c
}

func TestIssueCouponIsIdempotentPerCustomer(t *testing.T) {
	f := newFixture(t)

	first := f.issue(t, "Jane@Example.com")
	assert.False(t, first.Existing)
	assert.Equal(t, "jane@example.com", first.IssuedCoupon.EmailValue())
	assert.True(t, strings.HasPrefix(first.IssuedCoupon.Code, "CPN-"))
	assert.Equal(t, domain.StatusIssued, first.IssuedCoupon.Status)
	assert.Equal(t, 1, first.IssuedCoupon.MaxRedemptions)

	second := f.issue(t, " jane@example.com ")
	assert.True(t, second.Existing)
	assert.Equal(t, first.IssuedCoupon.ID, second.IssuedCoupon.ID)

	assert.Equal(t, []domain.EventType{domain.EventCouponIssued}, f.publisher.types())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Issued.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Issued.WithLabelValues("existing")))
}

func TestIssueCouponAnonymousAlwaysCreates(t *testing.T) {
	f := newFixture(t)

	a := f.issue(t, "")
	b := f.issue(t, "")
	assert.NotEqual(t, a.IssuedCoupon.ID, b.IssuedCoupon.ID)
	assert.Nil(t, a.IssuedCoupon.Email)
}

func TestIssueCouponUsesDefinitionPrefixAndRequestExpiry(t *testing.T) {
	f := newFixture(t)
	f.defs.defs["spring"].CodePrefix = "SPR"
	exp := fixedNow.Add(48 * time.Hour)

	res, err := f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{
		TenantSlug: "acme", CouponID: "spring", Email: "x@example.com", ExpiresAt: &exp,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.IssuedCoupon.Code, "SPR-"))
	require.NotNil(t, res.IssuedCoupon.ExpiresAt)
	assert.Equal(t, exp, *res.IssuedCoupon.ExpiresAt)
}

func TestIssueCouponGates(t *testing.T) {
	cases := []struct {
		name   string
		slug   string
		coupon string
		setup  func(f *fixture)
		kind   domain.Kind
		msg    string
	}{
		{name: "unknown tenant", slug: "nope", coupon: "spring", kind: domain.KindNotFound},
		{name: "inactive tenant", slug: "old", coupon: "spring", kind: domain.KindNotFound},
		{name: "unknown coupon", slug: "acme", coupon: "winter", kind: domain.KindNotFound},
		{
			name: "inactive coupon", slug: "acme", coupon: "spring",
			setup: func(f *fixture) { f.defs.defs["spring"].Active = false },
			kind:  domain.KindBusinessRule, msg: domain.MsgInactive,
		},
		{
			name: "expired coupon", slug: "acme", coupon: "spring",
			setup: func(f *fixture) {
				past := fixedNow.Add(-time.Second)
				f.defs.defs["spring"].ExpiresAt = &past
			},
			kind: domain.KindBusinessRule, msg: domain.MsgExpired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			_, err := f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{TenantSlug: tc.slug, CouponID: tc.coupon, Email: "a@example.com"})
			require.Error(t, err)
			assert.Equal(t, tc.kind, domain.KindOf(err))
			if tc.msg != "" {
				assert.Equal(t, tc.msg, domain.MessageOf(err))
			}
			assert.Equal(t, 0, f.issued.inserts)
		})
	}
}

func TestIssueCouponEligibilityRule(t *testing.T) {
	var seen domain.EligibilityFacts
	f := newFixture(t, func(d *Deps, _ *Options) {
		d.Rules = funcRules(func(_ string, facts domain.EligibilityFacts) (bool, error) {
			seen = facts
			return facts.EmailDomain == "example.com", nil
		})
	})
	f.defs.defs["spring"].EligibilityRule = `email_domain == "example.com"`

	f.issue(t, "a@example.com")
	assert.Equal(t, "example.com", seen.EmailDomain)
	assert.False(t, seen.Anonymous)
	assert.Equal(t, fixedNow, seen.Now)

	_, err := f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{TenantSlug: "acme", CouponID: "spring", Email: "b@other.org"})
	require.Error(t, err)
	assert.Equal(t, domain.MsgNotEligible, domain.MessageOf(err))
}

func TestIssueCouponRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.limit = 1

	f.issue(t, "a@example.com")
	_, err := f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{TenantSlug: "acme", CouponID: "spring", Email: "a@example.com"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))

	var de *domain.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 30*time.Second, de.RetryAfter)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RateLimited.WithLabelValues("issue")))

	// 匿名请求按 IP 计数
	_, err = f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{TenantSlug: "acme", CouponID: "spring", CallerIP: "10.0.0.1"})
	require.NoError(t, err)
	_, err = f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{TenantSlug: "acme", CouponID: "spring", CallerIP: "10.0.0.1"})
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestIssueCouponLimiterFailureFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.limiter.err = errors.New("redis down")

	res := f.issue(t, "a@example.com")
	assert.NotNil(t, res.IssuedCoupon)
}

func TestIssueCouponConcurrentInsertReturnsExisting(t *testing.T) {
	f := newFixture(t)
	// 另一个请求在本次读取和插入之间抢先写入
	f.issued.insertHook = func(c *domain.IssuedCoupon) error {
		f.issued.insertHook = nil
		winner := c.Clone()
		winner.ID = "winner"
		winner.Code = "CPN-WINNER"
		f.issued.put(winner)
		return nil
	}

	res := f.issue(t, "a@example.com")
	assert.True(t, res.Existing)
	assert.Equal(t, "winner", res.IssuedCoupon.ID)
	assert.Empty(t, f.publisher.types())
}

func TestIssueCouponRetriesCodeCollisions(t *testing.T) {
	f := newFixture(t)
	collisions := 0
	f.issued.insertHook = func(*domain.IssuedCoupon) error {
		if collisions < 2 {
			collisions++
			return domain.ErrDuplicateKey
		}
		return nil
	}

	res := f.issue(t, "a@example.com")
	assert.False(t, res.Existing)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.CodeCollisions))
}

func TestIssueCouponCodeGenerationExhausted(t *testing.T) {
	f := newFixture(t, func(_ *Deps, o *Options) { o.MaxCodeAttempts = 4 })
	attempts := 0
	f.issued.insertHook = func(*domain.IssuedCoupon) error {
		attempts++
		return domain.ErrDuplicateKey
	}

	_, err := f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{TenantSlug: "acme", CouponID: "spring", Email: "a@example.com"})
	require.ErrorIs(t, err, domain.ErrCodeGenerationExhausted)
	assert.Equal(t, 4, attempts)
}

func TestIssueCouponDuplicateCheckPolicy(t *testing.T) {
	lookupErr := errors.New("read replica timeout")

	t.Run("proceed", func(t *testing.T) {
		f := newFixture(t)
		f.issued.findLatestErr = lookupErr
		res := f.issue(t, "a@example.com")
		assert.False(t, res.Existing)
	})

	t.Run("reject", func(t *testing.T) {
		f := newFixture(t, func(_ *Deps, o *Options) { o.OnDuplicateCheckFailure = DuplicateCheckReject })
		f.issued.findLatestErr = lookupErr
		_, err := f.svc.IssueCoupon(context.Background(), &IssueCouponRequest{TenantSlug: "acme", CouponID: "spring", Email: "a@example.com"})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrDuplicateCheckFailed)
		assert.ErrorIs(t, err, lookupErr)
		assert.Equal(t, domain.ErrDuplicateCheckFailed.Message, domain.MessageOf(err))
		assert.Equal(t, 0, f.issued.inserts)
	})
}

func TestParseDuplicateCheckPolicy(t *testing.T) {
	p, err := ParseDuplicateCheckPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DuplicateCheckProceed, p)

	p, err = ParseDuplicateCheckPolicy(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, DuplicateCheckReject, p)

	_, err = ParseDuplicateCheckPolicy("retry")
	assert.Error(t, err)
}

func TestIssueCouponSerialisedByLocker(t *testing.T) {
	locker := &countingLocker{}
	f := newFixture(t, func(d *Deps, _ *Options) { d.Locker = locker })

	f.issue(t, "a@example.com")
	f.issue(t, "")
	assert.Equal(t, []string{"coupon:issue:t-acme:spring:a@example.com"}, locker.keys)
	assert.Equal(t, 1, locker.released)
}

type countingLocker struct {
	mu       sync.Mutex
	keys     []string
	released int
}

func (l *countingLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

func TestValidateCouponWithoutRedeem(t *testing.T) {
	f := newFixture(t)
	c := seedCoupon(f, "v1", 1, nil)

	res, err := f.validate(strings.ToLower(c.Code), false)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 0, f.issued.get("v1").RedemptionsCount)
}

func TestValidateCouponUnknownCode(t *testing.T) {
	f := newFixture(t)
	res, err := f.validate("CPN-NOPE", true)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Nil(t, res.IssuedCoupon)
	assert.Equal(t, domain.MsgCodeNotFound, res.Message)
}

func TestValidateCouponUnknownTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ValidateCoupon(context.Background(), &ValidateCouponRequest{TenantSlug: "ghost", Code: "X"})
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestValidateCouponRedeemSingleUse(t *testing.T) {
	f := newFixture(t)
	c := seedCoupon(f, "r1", 1, nil)

	res, err := f.validate(c.Code, true)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, domain.StatusRedeemed, res.IssuedCoupon.Status)

	stored := f.issued.get("r1")
	assert.Equal(t, 1, stored.RedemptionsCount)
	assert.Equal(t, domain.StatusRedeemed, stored.Status)
	require.NotNil(t, stored.RedeemedAt)

	res, err = f.validate(c.Code, true)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.MsgAlreadyUsed, res.Message)
	assert.Equal(t, []domain.EventType{domain.EventCouponRedeemed}, f.publisher.types())
}

func TestValidateCouponRedeemMultiUse(t *testing.T) {
	f := newFixture(t)
	c := seedCoupon(f, "m1", 3, nil)

	for i := 1; i <= 3; i++ {
		res, err := f.validate(c.Code, true)
		require.NoError(t, err)
		require.True(t, res.Valid, "redemption %d", i)
		assert.Equal(t, i, res.IssuedCoupon.RedemptionsCount)
	}
	assert.Equal(t, domain.StatusRedeemed, f.issued.get("m1").Status)

	res, err := f.validate(c.Code, true)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidateCouponRejectsByStatus(t *testing.T) {
	cases := map[domain.Status]string{
		domain.StatusRevoked:   domain.MsgRevoked,
		domain.StatusCancelled: domain.MsgCancelled,
		domain.StatusExpired:   domain.MsgExpired,
	}
	for st, msg := range cases {
		t.Run(string(st), func(t *testing.T) {
			f := newFixture(t)
			c := seedCoupon(f, "s1", 1, func(c *domain.IssuedCoupon) { c.Status = st })
			res, err := f.validate(c.Code, true)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, msg, res.Message)
			assert.Equal(t, st, f.issued.get("s1").Status)
		})
	}
}

func TestValidateCouponWritesExpiry(t *testing.T) {
	f := newFixture(t)
	past := fixedNow.Add(-time.Minute)
	c := seedCoupon(f, "e1", 1, func(c *domain.IssuedCoupon) { c.ExpiresAt = &past })

	res, err := f.validate(c.Code, false)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.MsgExpired, res.Message)
	assert.Equal(t, domain.StatusExpired, res.IssuedCoupon.Status)
	assert.Equal(t, domain.StatusExpired, f.issued.get("e1").Status)
	assert.Equal(t, []domain.EventType{domain.EventCouponExpired}, f.publisher.types())
}

func TestValidateCouponExpiryKeepsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	past := fixedNow.Add(-time.Minute)
	c := seedCoupon(f, "e2", 1, func(c *domain.IssuedCoupon) {
		c.ExpiresAt = &past
		c.Status = domain.StatusRevoked
	})

	res, err := f.validate(c.Code, false)
	require.NoError(t, err)
	assert.Equal(t, domain.MsgExpired, res.Message)
	assert.Equal(t, domain.StatusRevoked, f.issued.get("e2").Status)
	assert.Empty(t, f.publisher.types())
}

func TestValidateCouponExpiresRedeemedCoupon(t *testing.T) {
	f := newFixture(t)
	past := fixedNow.Add(-time.Hour)
	c := seedCoupon(f, "e4", 1, func(c *domain.IssuedCoupon) {
		c.ExpiresAt = &past
		c.Status = domain.StatusRedeemed
		c.RedemptionsCount = 1
	})

	res, err := f.validate(c.Code, false)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.MsgExpired, res.Message)
	assert.Equal(t, domain.StatusExpired, res.IssuedCoupon.Status)
	assert.Equal(t, domain.StatusExpired, f.issued.get("e4").Status)
	assert.Equal(t, []domain.EventType{domain.EventCouponExpired}, f.publisher.types())
}

func TestValidateCouponExpiryWriteFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.issued.markExpiredErr = errors.New("write failed")
	past := fixedNow.Add(-time.Minute)
	c := seedCoupon(f, "e3", 1, func(c *domain.IssuedCoupon) { c.ExpiresAt = &past })

	res, err := f.validate(c.Code, false)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.StatusIssued, res.IssuedCoupon.Status)
}

func TestValidateCouponCustomerAlreadyRedeemedSibling(t *testing.T) {
	f := newFixture(t)
	seedCoupon(f, "sib-old", 1, func(c *domain.IssuedCoupon) {
		e := "same@example.com"
		c.Email = &e
		c.Status = domain.StatusRedeemed
		c.RedemptionsCount = 1
	})
	c := seedCoupon(f, "sib-new", 1, func(c *domain.IssuedCoupon) {
		e := "same@example.com"
		c.Email = &e
	})

	res, err := f.validate(c.Code, true)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.MsgCustomerRedeemed, res.Message)
}

func TestValidateCouponRetriesLostCompareAndSwap(t *testing.T) {
	f := newFixture(t)
	c := seedCoupon(f, "cas1", 3, nil)
	lost := false
	f.issued.casHook = func(prev *domain.IssuedCoupon) (bool, error) {
		if !lost {
			lost = true
			// 并发核销抢先一步
			other := f.issued.get(prev.ID)
			other.RedemptionsCount++
			f.issued.put(other)
			return false, nil
		}
		return true, nil
	}

	res, err := f.validate(c.Code, true)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 2, f.issued.get("cas1").RedemptionsCount)
}

func TestValidateCouponConcurrentSingleUse(t *testing.T) {
	f := newFixture(t, func(_ *Deps, o *Options) { o.RedeemAttempts = 10 })
	c := seedCoupon(f, "race", 1, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	valid := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.validate(c.Code, true)
			if err == nil && res.Valid {
				mu.Lock()
				valid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, valid)
	assert.Equal(t, 1, f.issued.get("race").RedemptionsCount)
}

func TestValidateCouponContentionExhausted(t *testing.T) {
	f := newFixture(t, func(_ *Deps, o *Options) { o.RedeemAttempts = 2 })
	c := seedCoupon(f, "busy", 5, nil)
	f.issued.casHook = func(*domain.IssuedCoupon) (bool, error) { return false, nil }

	res, err := f.validate(c.Code, true)
	require.ErrorIs(t, err, domain.ErrRedemptionContention)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.IssuedCoupon.RedemptionsCount)
}

func TestValidateCouponStorageErrorReturnsPreviousState(t *testing.T) {
	f := newFixture(t)
	c := seedCoupon(f, "broken", 1, nil)
	storeErr := errors.New("connection reset")
	f.issued.casHook = func(*domain.IssuedCoupon) (bool, error) { return false, storeErr }

	res, err := f.validate(c.Code, true)
	require.ErrorIs(t, err, storeErr)
	require.NotNil(t, res)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.StatusIssued, res.IssuedCoupon.Status)
	assert.Equal(t, 0, res.IssuedCoupon.RedemptionsCount)
}

func TestValidateCouponPublishFailureDoesNotFailRedemption(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	c := seedCoupon(f, "pub", 1, nil)

	res, err := f.validate(c.Code, true)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestCheckExistingCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CheckExistingCoupon(ctx, &CheckExistingRequest{TenantSlug: "acme", CouponID: "spring"})
	assert.Equal(t, domain.KindInvalid, domain.KindOf(err))

	res, err := f.svc.CheckExistingCoupon(ctx, &CheckExistingRequest{TenantSlug: "acme", CouponID: "spring", Email: "a@example.com"})
	require.NoError(t, err)
	assert.False(t, res.Exists)

	issued := f.issue(t, "a@example.com")
	res, err = f.svc.CheckExistingCoupon(ctx, &CheckExistingRequest{TenantSlug: "acme", CouponID: "spring", Email: "A@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, issued.IssuedCoupon.ID, res.IssuedCoupon.ID)
}

func TestCheckExistingCouponRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.limit = 2
	req := &CheckExistingRequest{TenantSlug: "acme", CouponID: "spring", Email: "a@example.com"}

	for i := 0; i < 2; i++ {
		_, err := f.svc.CheckExistingCoupon(context.Background(), req)
		require.NoError(t, err)
	}
	_, err := f.svc.CheckExistingCoupon(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestHasCompletedSurveyForTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done, err := f.svc.HasCompletedSurveyForTenant(ctx, "acme", "")
	require.NoError(t, err)
	assert.False(t, done)

	done, err = f.svc.HasCompletedSurveyForTenant(ctx, "acme", "a@example.com")
	require.NoError(t, err)
	assert.False(t, done)

	f.issue(t, "a@example.com")
	done, err = f.svc.HasCompletedSurveyForTenant(ctx, "acme", "a@example.com")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestGetCouponStatusAndAlreadyRedeemed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.GetCouponStatus(ctx, "acme", "spring", "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, st)

	c := seedCoupon(f, "gs", 1, nil)
	st, err = f.svc.GetCouponStatus(ctx, "acme", "spring", c.EmailValue())
	require.NoError(t, err)
	assert.Nil(t, st)

	redeemed, err := f.svc.IsCouponAlreadyRedeemed(ctx, "acme", "spring", c.EmailValue())
	require.NoError(t, err)
	assert.False(t, redeemed)

	_, err = f.validate(c.Code, true)
	require.NoError(t, err)

	st, err = f.svc.GetCouponStatus(ctx, "acme", "spring", c.EmailValue())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, domain.StatusRedeemed, *st)

	redeemed, err = f.svc.IsCouponAlreadyRedeemed(ctx, "acme", "spring", c.EmailValue())
	require.NoError(t, err)
	assert.True(t, redeemed)

	_, err = f.svc.GetCouponStatus(ctx, "acme", "spring", " ")
	assert.Equal(t, domain.KindInvalid, domain.KindOf(err))
}

func TestUpdateIssuedCouponDerivesStatusFromCount(t *testing.T) {
	f := newFixture(t)
	seedCoupon(f, "u1", 2, nil)

	count := 5
	got, err := f.svc.UpdateIssuedCoupon(context.Background(), "acme", "u1", &IssuedCouponPatch{RedemptionsCount: &count})
	require.NoError(t, err)
	assert.Equal(t, 2, got.RedemptionsCount)
	assert.Equal(t, domain.StatusRedeemed, got.Status)

	stored := f.issued.get("u1")
	assert.Equal(t, 2, stored.RedemptionsCount)
	assert.Equal(t, domain.StatusRedeemed, stored.Status)
	require.NotNil(t, stored.RedeemedAt)

	count = 0
	got, err = f.svc.UpdateIssuedCoupon(context.Background(), "acme", "u1", &IssuedCouponPatch{RedemptionsCount: &count})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIssued, got.Status)
	assert.Nil(t, f.issued.get("u1").RedeemedAt)
}

func TestUpdateIssuedCouponExplicitStatus(t *testing.T) {
	f := newFixture(t)
	seedCoupon(f, "u2", 1, nil)

	status := "redeemed"
	got, err := f.svc.UpdateIssuedCoupon(context.Background(), "acme", "u2", &IssuedCouponPatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRedeemed, got.Status)
	require.NotNil(t, f.issued.get("u2").RedeemedAt)

	status = "issued"
	_, err = f.svc.UpdateIssuedCoupon(context.Background(), "acme", "u2", &IssuedCouponPatch{Status: &status})
	require.NoError(t, err)
	assert.Nil(t, f.issued.get("u2").RedeemedAt)

	status = "revoked"
	count := 1
	got, err = f.svc.UpdateIssuedCoupon(context.Background(), "acme", "u2", &IssuedCouponPatch{Status: &status, RedemptionsCount: &count})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevoked, got.Status)
	assert.Equal(t, 1, got.RedemptionsCount)

	status = "bogus"
	_, err = f.svc.UpdateIssuedCoupon(context.Background(), "acme", "u2", &IssuedCouponPatch{Status: &status})
	assert.Equal(t, domain.KindInvalid, domain.KindOf(err))
}

func TestUpdateIssuedCouponMergesMetadata(t *testing.T) {
	f := newFixture(t)
	seedCoupon(f, "u3", 1, func(c *domain.IssuedCoupon) {
		c.Metadata = map[string]any{"source": "web", "note": "vip"}
	})

	got, err := f.svc.UpdateIssuedCoupon(context.Background(), "acme", "u3", &IssuedCouponPatch{
		Metadata: map[string]any{"note": nil, "channel": "email"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"source": "web", "channel": "email"}, got.Metadata)
	assert.Equal(t, got.Metadata, f.issued.get("u3").Metadata)
}

func TestUpdateIssuedCouponBlocked(t *testing.T) {
	f := newFixture(t)
	seedCoupon(f, "u4", 1, nil)
	zero := int64(0)
	f.issued.updateRows = &zero

	status := "revoked"
	_, err := f.svc.UpdateIssuedCoupon(context.Background(), "acme", "u4", &IssuedCouponPatch{Status: &status})
	require.ErrorIs(t, err, domain.ErrUpdateBlocked)
	assert.Equal(t, domain.KindAuthorizationBlocked, domain.KindOf(err))
	assert.Empty(t, f.publisher.types())
}

func TestUpdateIssuedCouponNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateIssuedCoupon(context.Background(), "acme", "missing", &IssuedCouponPatch{})
	assert.ErrorIs(t, err, domain.ErrIssuedCouponNotFound)
}

func TestAdjustRedemptions(t *testing.T) {
	f := newFixture(t)
	seedCoupon(f, "adj", 3, nil)
	ctx := context.Background()

	got, err := f.svc.AdjustRedemptions(ctx, "acme", "adj", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RedemptionsCount)
	assert.Equal(t, domain.StatusIssued, got.Status)

	got, err = f.svc.AdjustRedemptions(ctx, "acme", "adj", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RedemptionsCount)
	assert.Equal(t, domain.StatusRedeemed, got.Status)

	// 已在上限，不再写入
	events := len(f.publisher.types())
	got, err = f.svc.AdjustRedemptions(ctx, "acme", "adj", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RedemptionsCount)
	assert.Len(t, f.publisher.types(), events)

	got, err = f.svc.AdjustRedemptions(ctx, "acme", "adj", -5)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RedemptionsCount)
	assert.Equal(t, domain.StatusIssued, got.Status)
	assert.Nil(t, f.issued.get("adj").RedeemedAt)
}

func TestListIssuedCoupons(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		seedCoupon(f, id, 1, func(c *domain.IssuedCoupon) { c.IssuedAt = fixedNow.Add(time.Duration(i) * time.Minute) })
	}
	ctx := context.Background()

	page, err := f.svc.ListIssuedCoupons(ctx, "acme", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.IssuedCoupons, 2)
	assert.Equal(t, "e", page.IssuedCoupons[0].ID)

	page, err = f.svc.ListIssuedCoupons(ctx, "acme", 3, 2)
	require.NoError(t, err)
	require.Len(t, page.IssuedCoupons, 1)
	assert.Equal(t, "a", page.IssuedCoupons[0].ID)

	page, err = f.svc.ListIssuedCoupons(ctx, "acme", 9, 2)
	require.NoError(t, err)
	assert.Empty(t, page.IssuedCoupons)

	_, err = f.svc.ListIssuedCoupons(ctx, "acme", 0, 2)
	assert.Equal(t, domain.KindInvalid, domain.KindOf(err))
	_, err = f.svc.ListIssuedCoupons(ctx, "acme", 1, 101)
	assert.Equal(t, domain.KindInvalid, domain.KindOf(err))
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tenants.Create(context.Background(), &domain.Tenant{ID: "t-other", Slug: "other", Active: true}))
	c := seedCoupon(f, "iso", 1, nil)

	res, err := f.svc.ValidateCoupon(context.Background(), &ValidateCouponRequest{TenantSlug: "other", Code: c.Code, Redeem: true})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.MsgCodeNotFound, res.Message)

	_, err = f.svc.UpdateIssuedCoupon(context.Background(), "other", "iso", &IssuedCouponPatch{})
	assert.ErrorIs(t, err, domain.ErrIssuedCouponNotFound)
}
