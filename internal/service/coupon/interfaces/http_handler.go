// internal/service/coupon/interfaces/http_handler.go
package interfaces

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"nexus-coupon/internal/service/coupon/application"
	"nexus-coupon/internal/service/coupon/domain"
	"nexus-coupon/internal/service/coupon/infrastructure/adapter"
)

// Handler 封装了优惠券服务的 HTTP 处理器
type Handler struct {
	coupons  *application.CouponService
	catalog  *application.CatalogService
	survey   *application.SurveyService
	tenants  *application.TenantService
	hub      *adapter.EventHub
	auth     *Authenticator
	upgrader websocket.Upgrader
}

// HandlerDeps 是构造 Handler 需要的服务，Hub 为 nil 时不提供实时推送
type HandlerDeps struct {
	Coupons *application.CouponService
	Catalog *application.CatalogService
	Survey  *application.SurveyService
	Tenants *application.TenantService
	Hub     *adapter.EventHub
	Auth    *Authenticator
}

// NewHandler 创建一个新的 HTTP 处理器实例
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		coupons: deps.Coupons,
		catalog: deps.Catalog,
		survey:  deps.Survey,
		tenants: deps.Tenants,
		hub:     deps.Hub,
		auth:    deps.Auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 在 chi 路由上注册所有路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	// 顾客侧，无需登录；核销需要店员身份
	r.Route("/t/{slug}", func(r chi.Router) {
		r.Post("/coupons/{couponID}/issue", h.handleIssueCoupon)
		r.With(h.auth.Optional).Post("/coupons/validate", h.handleValidateCoupon)
		r.Get("/coupons/{couponID}/existing", h.handleCheckExisting)
		r.Get("/coupons/{couponID}/status", h.handleCouponStatus)
		r.Get("/coupons/{couponID}/redeemed", h.handleAlreadyRedeemed)
		r.Get("/survey/completed", h.handleSurveyCompleted)
		r.Get("/survey/questions", h.handleListActiveQuestions)
		r.Post("/survey/responses", h.handleSubmitResponse)
	})

	// 管理后台
	r.Route("/admin/t/{slug}", func(r chi.Router) {
		r.Use(h.auth.Authenticate)

		r.With(RequireRole(domain.RoleStaff)).Get("/issued-coupons", h.handleListIssued)
		r.With(RequireRole(domain.RoleAdmin)).Patch("/issued-coupons/{id}", h.handleUpdateIssued)
		r.With(RequireRole(domain.RoleStaff)).Post("/issued-coupons/{id}/adjust", h.handleAdjustRedemptions)

		r.Route("/coupons", func(r chi.Router) {
			r.Use(RequireRole(domain.RoleAdmin))
			r.Get("/", h.handleListCoupons)
			r.Post("/", h.handleCreateCoupon)
			r.Get("/{id}", h.handleGetCoupon)
			r.Patch("/{id}", h.handleUpdateCoupon)
			r.With(RequireRole(domain.RoleOwner)).Delete("/{id}", h.handleDeleteCoupon)
		})

		r.Route("/questions", func(r chi.Router) {
			r.Use(RequireRole(domain.RoleAdmin))
			r.Get("/", h.handleListQuestions)
			r.Post("/", h.handleCreateQuestion)
			r.Put("/{id}", h.handleUpdateQuestion)
			r.Delete("/{id}", h.handleDeleteQuestion)
			r.Post("/{id}/move", h.handleMoveQuestion)
		})

		r.With(RequireRole(domain.RoleStaff)).Get("/responses", h.handleListResponses)
		r.With(RequireRole(domain.RoleAdmin)).Get("/events/ws", h.handleEventsWS)
	})

	// 平台运营
	r.With(h.auth.Authenticate, RequirePlatform).Post("/platform/tenants", h.handleCreateTenant)
}

type issueCouponBody struct {
	Email     string     `json:"email"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (h *Handler) handleIssueCoupon(w http.ResponseWriter, r *http.Request) {
	var body issueCouponBody
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.coupons.IssueCoupon(r.Context(), &application.IssueCouponRequest{
		TenantSlug: chi.URLParam(r, "slug"),
		CouponID:   chi.URLParam(r, "couponID"),
		Email:      body.Email,
		ExpiresAt:  body.ExpiresAt,
		CallerIP:   callerIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]interface{}{
		"issuedCoupon": toIssuedCouponView(res.IssuedCoupon),
		"existing":     res.Existing,
	})
}

type validateCouponBody struct {
	Code   string `json:"code"`
	Redeem bool   `json:"redeem"`
}

func (h *Handler) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var body validateCouponBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	slug := chi.URLParam(r, "slug")
	if body.Redeem && !ClaimsFromContext(r.Context()).RoleFor(slug).AtLeast(domain.RoleStaff) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden: requires staff role"})
		return
	}

	res, err := h.coupons.ValidateCoupon(r.Context(), &application.ValidateCouponRequest{
		TenantSlug: slug,
		Code:       body.Code,
		Redeem:     body.Redeem,
	})
	if err != nil {
		out := map[string]interface{}{"valid": false}
		if res != nil {
			out["issuedCoupon"] = toIssuedCouponView(res.IssuedCoupon)
		}
		writeErrorBody(w, r, err, out)
		return
	}

	out := map[string]interface{}{
		"valid":        res.Valid,
		"issuedCoupon": toIssuedCouponView(res.IssuedCoupon),
		"message":      res.Message,
	}
	if !res.Valid {
		out["error"] = res.Message
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleCheckExisting(w http.ResponseWriter, r *http.Request) {
	res, err := h.coupons.CheckExistingCoupon(r.Context(), &application.CheckExistingRequest{
		TenantSlug: chi.URLParam(r, "slug"),
		CouponID:   chi.URLParam(r, "couponID"),
		Email:      r.URL.Query().Get("email"),
		CallerIP:   callerIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exists":       res.Exists,
		"issuedCoupon": toIssuedCouponView(res.IssuedCoupon),
	})
}

func (h *Handler) handleCouponStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.coupons.GetCouponStatus(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "couponID"), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": status})
}

func (h *Handler) handleAlreadyRedeemed(w http.ResponseWriter, r *http.Request) {
	redeemed, err := h.coupons.IsCouponAlreadyRedeemed(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "couponID"), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"redeemed": redeemed})
}

func (h *Handler) handleSurveyCompleted(w http.ResponseWriter, r *http.Request) {
	completed, err := h.coupons.HasCompletedSurveyForTenant(r.Context(), chi.URLParam(r, "slug"), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"completed": completed})
}

// handleEventsWS 把连接升级为 WebSocket 并订阅该租户的生命周期事件
func (h *Handler) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Live feed is disabled"})
		return
	}
	tc, err := h.tenants.Resolve(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		return
	}
	h.hub.Serve(r.Context(), conn, tc.TenantID)
}

// callerIP 返回调用方 IP，受信代理的转发头已由 ClientIP 中间件处理
func callerIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
