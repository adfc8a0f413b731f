package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sketchsage/server/internal/auth"
	apierrors "github.com/sketchsage/server/internal/errors"
	"github.com/sketchsage/server/internal/evaluation"
	"github.com/sketchsage/server/internal/logger"
	"github.com/sketchsage/server/internal/storage"
	"github.com/sketchsage/server/pkg/responders"
)

type submitEvaluationRequest struct {
	MediaURL    string `json:"mediaUrl"`
	MediaType   string `json:"mediaType"`
	MediaSizeMB int    `json:"mediaSizeMb"`
	UserMessage string `json:"userMessage"`
}

type evaluationResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	MediaURL         string     `json:"mediaUrl"`
	MediaType        string     `json:"mediaType"`
	UserMessage      string     `json:"userMessage,omitempty"`
	Status           string     `json:"status"`
	FeedbackType     string     `json:"feedbackType,omitempty"`
	FeedbackContent  string     `json:"feedbackContent,omitempty"`
	FeedbackAudioURL string     `json:"feedbackAudioUrl,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

type questionResponse struct {
	ID           string     `json:"id"`
	EvaluationID string     `json:"evaluationId"`
	Question     string     `json:"question"`
	Answer       *string    `json:"answer,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	AnsweredAt   *time.Time `json:"answeredAt,omitempty"`
}

func toEvaluationResponse(ev storage.Evaluation) evaluationResponse {
	return evaluationResponse{
		ID:               ev.ID,
		UserID:           ev.UserID,
		MediaURL:         ev.MediaURL,
		MediaType:        string(ev.MediaType),
		UserMessage:      ev.UserMessage,
		Status:           string(ev.Status),
		FeedbackType:     string(ev.FeedbackType),
		FeedbackContent:  ev.FeedbackContent,
		FeedbackAudioURL: ev.FeedbackAudioURL,
		CreatedAt:        ev.CreatedAt,
		CompletedAt:      ev.CompletedAt,
	}
}

func toQuestionResponse(q storage.EvaluationQuestion) questionResponse {
	return questionResponse{
		ID:           q.ID,
		EvaluationID: q.EvaluationID,
		Question:     q.Question,
		Answer:       q.Answer,
		CreatedAt:    q.CreatedAt,
		AnsweredAt:   q.AnsweredAt,
	}
}

// createEvaluation debits one credit and creates a pending evaluation.
func (h *handlers) createEvaluation(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}

	var req submitEvaluationRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.MediaURL == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "mediaUrl is required")
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "userMessage is required")
		return
	}
	mediaType := storage.MediaType(req.MediaType)
	if !mediaType.Valid() {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidMediaType, "mediaType must be image or video", "mediaType", req.MediaType)
		return
	}

	ev, balance, err := h.evaluations.Submit(r.Context(), evaluation.SubmitRequest{
		UserID:      account.ID,
		MediaURL:    req.MediaURL,
		MediaType:   mediaType,
		MediaSizeMB: req.MediaSizeMB,
		UserMessage: req.UserMessage,
	})
	if err != nil {
		switch {
		case errors.Is(err, evaluation.ErrInsufficientCredits):
			if h.metrics != nil {
				h.metrics.SubmissionsRejectedTotal.WithLabelValues("insufficient_credits").Inc()
			}
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInsufficientCredits, "not enough credits for an evaluation")
		case errors.Is(err, evaluation.ErrMediaTooLarge):
			if h.metrics != nil {
				h.metrics.SubmissionsRejectedTotal.WithLabelValues("media_too_large").Inc()
			}
			apierrors.WriteSimpleError(w, apierrors.ErrCodeMediaTooLarge, err.Error())
		default:
			log.Error().Err(err).Str("user_id", account.ID).Msg("evaluation.submit_failed")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to submit evaluation")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.SubmissionsTotal.WithLabelValues(string(ev.MediaType)).Inc()
		h.metrics.CreditsSpentTotal.Add(float64(evaluation.SubmissionCost))
		h.metrics.CreditMutationsTotal.WithLabelValues("debit", "ok").Inc()
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"evaluation": toEvaluationResponse(ev),
		"credits":    balance,
	})
}

// listEvaluations returns the caller's evaluations, newest first.
func (h *handlers) listEvaluations(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}

	evs, err := h.evaluations.ListForUser(r.Context(), account.ID)
	if err != nil {
		log.Error().Err(err).Msg("evaluation.list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load evaluations")
		return
	}

	out := make([]evaluationResponse, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toEvaluationResponse(ev))
	}
	responders.JSON(w, http.StatusOK, map[string]any{"evaluations": out})
}

// getEvaluation returns a single evaluation owned by the caller.
func (h *handlers) getEvaluation(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	ev, err := h.evaluations.Get(r.Context(), id, account.ID, account.IsAdmin)
	if err != nil {
		// Someone else's evaluation looks identical to a missing one.
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, evaluation.ErrNotOwner) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeEvaluationNotFound, "evaluation not found", "id", id)
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load evaluation")
		return
	}

	responders.JSON(w, http.StatusOK, toEvaluationResponse(ev))
}

type askQuestionRequest struct {
	Question string `json:"question"`
}

// askQuestion files a follow-up question against the caller's evaluation.
func (h *handlers) askQuestion(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}

	var req askQuestionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.Question == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "question is required")
		return
	}

	id := chi.URLParam(r, "id")
	q, err := h.evaluations.AskQuestion(r.Context(), id, account.ID, req.Question)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, evaluation.ErrNotOwner):
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeEvaluationNotFound, "evaluation not found", "id", id)
		case errors.Is(err, evaluation.ErrQuestionLimit):
			apierrors.WriteSimpleError(w, apierrors.ErrCodeQuestionLimitReached, "question limit reached for this evaluation")
		default:
			log.Error().Err(err).Msg("evaluation.ask_question_failed")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to save question")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.QuestionsAskedTotal.Inc()
	}

	responders.JSON(w, http.StatusCreated, toQuestionResponse(q))
}

// listQuestions returns the questions on the caller's evaluation.
func (h *handlers) listQuestions(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	questions, err := h.evaluations.ListQuestions(r.Context(), id, account.ID, account.IsAdmin)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, evaluation.ErrNotOwner) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeEvaluationNotFound, "evaluation not found", "id", id)
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load questions")
		return
	}

	out := make([]questionResponse, 0, len(questions))
	for _, q := range questions {
		out = append(out, toQuestionResponse(q))
	}
	responders.JSON(w, http.StatusOK, map[string]any{"questions": out})
}
