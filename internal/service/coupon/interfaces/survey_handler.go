// internal/service/coupon/interfaces/survey_handler.go
package interfaces

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"nexus-coupon/internal/service/coupon/application"
	"nexus-coupon/internal/service/coupon/domain"
)

func (h *Handler) handleListActiveQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.survey.ListQuestions(r.Context(), chi.URLParam(r, "slug"), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": toQuestionViews(qs)})
}

type submitResponseBody struct {
	Email   string                   `json:"email"`
	Answers map[string]domain.Answer `json:"answers"`
}

func (h *Handler) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	var body submitResponseBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := h.survey.SubmitResponse(r.Context(), &application.SubmitResponseRequest{
		TenantSlug: chi.URLParam(r, "slug"),
		Email:      body.Email,
		Answers:    body.Answers,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"responses": toResponseViews(stored)})
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.survey.ListQuestions(r.Context(), chi.URLParam(r, "slug"), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": toQuestionViews(qs)})
}

type questionBody struct {
	Prompt   string              `json:"prompt"`
	Kind     domain.QuestionKind `json:"kind"`
	Options  []string            `json:"options"`
	Required bool                `json:"required"`
	Active   *bool               `json:"active"`
}

func (b *questionBody) input() *application.QuestionInput {
	return &application.QuestionInput{
		Prompt:   b.Prompt,
		Kind:     b.Kind,
		Options:  b.Options,
		Required: b.Required,
		Active:   b.Active,
	}
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var body questionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.survey.CreateQuestion(r.Context(), chi.URLParam(r, "slug"), body.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQuestionView(q))
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var body questionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.survey.UpdateQuestion(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "id"), body.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuestionView(q))
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.survey.DeleteQuestion(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type moveBody struct {
	Direction application.MoveDirection `json:"direction"`
}

func (h *Handler) handleMoveQuestion(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	qs, err := h.survey.MoveQuestion(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "id"), body.Direction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": toQuestionViews(qs)})
}

func (h *Handler) handleListResponses(w http.ResponseWriter, r *http.Request) {
	rs, err := h.survey.ListResponses(r.Context(), chi.URLParam(r, "slug"), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"responses": toResponseViews(rs)})
}
