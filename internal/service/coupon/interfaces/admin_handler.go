// internal/service/coupon/interfaces/admin_handler.go
package interfaces

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"nexus-coupon/internal/service/coupon/application"
	"nexus-coupon/internal/service/coupon/domain"
)

const defaultItemsPerPage = 20

func (h *Handler) handleListIssued(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	perPage, err := queryInt(r, "per_page", defaultItemsPerPage)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.coupons.ListIssuedCoupons(r.Context(), chi.URLParam(r, "slug"), page, perPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageView(res))
}

type updateIssuedBody struct {
	Status           *string        `json:"status"`
	RedemptionsCount *int           `json:"redemptionsCount"`
	Metadata         map[string]any `json:"metadata"`
}

func (h *Handler) handleUpdateIssued(w http.ResponseWriter, r *http.Request) {
	var body updateIssuedBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.coupons.UpdateIssuedCoupon(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "id"), &application.IssuedCouponPatch{
		Status:           body.Status,
		RedemptionsCount: body.RedemptionsCount,
		Metadata:         body.Metadata,
	})
	if err != nil {
		writeErrorBody(w, r, err, map[string]interface{}{"success": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"issuedCoupon": toIssuedCouponView(updated),
	})
}

type adjustBody struct {
	Delta int `json:"delta"`
}

func (h *Handler) handleAdjustRedemptions(w http.ResponseWriter, r *http.Request) {
	var body adjustBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Delta == 0 {
		writeError(w, r, domain.Invalid("delta must not be zero"))
		return
	}
	updated, err := h.coupons.AdjustRedemptions(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "id"), body.Delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"issuedCoupon": toIssuedCouponView(updated)})
}

type couponBody struct {
	Title           *string    `json:"title"`
	Discount        *string    `json:"discount"`
	ExpiresAt       *time.Time `json:"expiresAt"`
	ClearExpiresAt  bool       `json:"clearExpiresAt"`
	Active          *bool      `json:"active"`
	MaxRedemptions  *int       `json:"maxRedemptions"`
	CodePrefix      *string    `json:"codePrefix"`
	EligibilityRule *string    `json:"eligibilityRule"`
}

func (h *Handler) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var body couponBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	in := &application.CouponDefinitionInput{
		Title:           deref(body.Title),
		Discount:        deref(body.Discount),
		ExpiresAt:       body.ExpiresAt,
		Active:          body.Active,
		CodePrefix:      deref(body.CodePrefix),
		EligibilityRule: deref(body.EligibilityRule),
	}
	if body.MaxRedemptions != nil {
		in.MaxRedemptions = *body.MaxRedemptions
	}
	def, err := h.catalog.CreateCoupon(r.Context(), chi.URLParam(r, "slug"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponDefinitionView(def))
}

func (h *Handler) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	defs, err := h.catalog.ListCoupons(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]*CouponDefinitionView, 0, len(defs))
	for _, d := range defs {
		out = append(out, toCouponDefinitionView(d))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"coupons": out})
}

func (h *Handler) handleGetCoupon(w http.ResponseWriter, r *http.Request) {
	def, err := h.catalog.GetCoupon(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDefinitionView(def))
}

func (h *Handler) handleUpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var body couponBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	def, err := h.catalog.UpdateCoupon(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "id"), &application.CouponDefinitionPatch{
		Title:           body.Title,
		Discount:        body.Discount,
		ExpiresAt:       body.ExpiresAt,
		ClearExpiresAt:  body.ClearExpiresAt,
		Active:          body.Active,
		MaxRedemptions:  body.MaxRedemptions,
		CodePrefix:      body.CodePrefix,
		EligibilityRule: body.EligibilityRule,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponDefinitionView(def))
}

func (h *Handler) handleDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteCoupon(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createTenantBody struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var body createTenantBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	tenant, err := h.tenants.CreateTenant(r.Context(), body.Slug, body.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        tenant.ID,
		"slug":      tenant.Slug,
		"name":      tenant.Name,
		"active":    tenant.Active,
		"createdAt": tenant.CreatedAt,
	})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Invalid(key + " must be an integer")
	}
	return v, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
