// internal/service/coupon/interfaces/errors.go
package interfaces

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/service/coupon/domain"
)

// statusFor 根据错误分类返回 HTTP 状态码
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuthorizationBlocked:
		return http.StatusForbidden
	case domain.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case domain.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError 输出 {"error": "..."}，限流时附带 Retry-After。
// 未分类的错误只记录日志，不把内部细节返回给调用方。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorBody(w, r, err, map[string]interface{}{})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, err error, body map[string]interface{}) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	var de *domain.Error
	if errors.As(err, &de) && de.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(de.RetryAfter.Seconds()))))
	}
	body["error"] = domain.MessageOf(err)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("Invalid request body")
	}
	return nil
}

// decodeOptionalJSON 与 decodeJSON 相同，但允许请求体为空
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.Invalid("Invalid request body")
	}
	return nil
}
