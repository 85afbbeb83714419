// internal/service/coupon/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind 是错误分类，接口层据此决定 HTTP 状态码。
type Kind int

const (
	KindUnexpected Kind = iota
	KindNotFound
	KindRateLimited
	KindConflict
	KindAuthorizationBlocked
	KindBusinessRule
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindConflict:
		return "conflict"
	case KindAuthorizationBlocked:
		return "authorization_blocked"
	case KindBusinessRule:
		return "business_rule"
	case KindInvalid:
		return "invalid"
	default:
		return "unexpected"
	}
}

// 面向用户的提示语
const (
	MsgCodeNotFound     = "Coupon code not found"
	MsgRevoked          = "This coupon has been revoked"
	MsgExpired          = "This coupon has expired"
	MsgCancelled        = "This coupon has been cancelled"
	MsgAlreadyUsed      = "This coupon has already been used"
	MsgCustomerRedeemed = "This customer has already redeemed this coupon"
	MsgUnknownStatus    = "This coupon is not in a redeemable state"
	MsgInactive         = "This coupon is not active"
	MsgNotEligible      = "This customer is not eligible for this coupon"
)

// Error 携带分类、给用户看的 Message 以及被包装的底层错误。
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrTenantNotFound           = &Error{Kind: KindNotFound, Message: "Tenant not found"}
	ErrTenantSlugTaken          = &Error{Kind: KindConflict, Message: "Tenant slug already exists"}
	ErrCouponNotFound           = &Error{Kind: KindNotFound, Message: "Coupon not found"}
	ErrCouponCodeNotFound       = &Error{Kind: KindNotFound, Message: MsgCodeNotFound}
	ErrIssuedCouponNotFound     = &Error{Kind: KindNotFound, Message: "Issued coupon not found"}
	ErrQuestionNotFound         = &Error{Kind: KindNotFound, Message: "Question not found"}
	ErrDuplicateKey             = &Error{Kind: KindConflict, Message: "Duplicate key"}
	ErrCodeGenerationExhausted  = &Error{Kind: KindConflict, Message: "Failed to generate unique code"}
	ErrUpdateBlocked            = &Error{Kind: KindAuthorizationBlocked, Message: "Update affected no rows; the row is missing or access was denied"}
	ErrRateLimited              = &Error{Kind: KindRateLimited, Message: "Too many requests"}
	ErrDuplicateCheckFailed     = &Error{Kind: KindUnexpected, Message: "Could not verify existing coupons, please try again"}
	ErrRedemptionContention     = &Error{Kind: KindConflict, Message: "Coupon is being redeemed concurrently, please retry"}
	ErrQuestionOrderBoundary    = &Error{Kind: KindBusinessRule, Message: "Question cannot be moved further"}
	ErrQuestionReorderRecovered = &Error{Kind: KindUnexpected, Message: "Failed to reorder questions; changes were rolled back"}
)

// NotFound / Invalid / BusinessRule 等构造函数用于携带具体提示的场景。
func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func Invalid(msg string) *Error { return &Error{Kind: KindInvalid, Message: msg} }

func BusinessRule(msg string) *Error { return &Error{Kind: KindBusinessRule, Message: msg} }

// RateLimited 返回带重试时间的限流错误，errors.Is(err, ErrRateLimited) 成立。
func RateLimited(retryAfter time.Duration) *Error {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("Too many requests, please try again in %d seconds", secs),
		RetryAfter: retryAfter,
		Err:        ErrRateLimited,
	}
}

// Unexpected 把未分类的错误归一化，msg 是给用户看的提示。
func Unexpected(msg string, err error) *Error {
	return &Error{Kind: KindUnexpected, Message: msg, Err: err}
}

// KindOf 返回错误链上第一个 *Error 的分类。
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}

// MessageOf 返回可以直接展示给用户的文案；未分类错误不泄露内部细节。
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "Unexpected error"
}
