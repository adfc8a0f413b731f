package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/sketchsage/server/internal/errors"
	"github.com/sketchsage/server/internal/evaluation"
	"github.com/sketchsage/server/internal/logger"
	"github.com/sketchsage/server/internal/packages"
	"github.com/sketchsage/server/internal/settings"
	"github.com/sketchsage/server/internal/storage"
	"github.com/sketchsage/server/pkg/responders"
)

// knownSettingKeys guards against typo'd keys silently rotting in the store.
var knownSettingKeys = map[string]bool{
	settings.KeyDefaultWelcomeCredits: true,
	settings.KeyMaxImageSizeMB:        true,
	settings.KeyMaxVideoSizeMB:        true,
	settings.KeyQuestionsPerEval:      true,
	settings.KeyStripePublishableKey:  true,
	settings.KeyGoogleOAuthEnabled:    true,
	settings.KeyFacebookOAuthEnabled:  true,
}

// getSettings returns the effective runtime settings.
func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	current, err := h.settings.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("settings.load_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load settings")
		return
	}
	responders.JSON(w, http.StatusOK, current)
}

// updateSettings applies a partial settings update keyed by setting name.
func (h *handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var updates map[string]json.RawMessage
	if err := decodeJSON(r.Body, &updates); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if len(updates) == 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "no settings provided")
		return
	}

	for key := range updates {
		if !knownSettingKeys[key] {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "unknown setting key", "key", key)
			return
		}
	}

	for key, value := range updates {
		if err := h.settings.Set(r.Context(), key, value); err != nil {
			log.Error().Err(err).Str("key", key).Msg("settings.update_failed")
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, err.Error(), "key", key)
			return
		}
	}

	current, err := h.settings.Get(r.Context())
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to reload settings")
		return
	}
	responders.JSON(w, http.StatusOK, current)
}

type packageRequest struct {
	Name             string `json:"name"`
	Credits          int    `json:"credits"`
	PriceUSD         int64  `json:"priceUsd"`
	PriceTRY         int64  `json:"priceTry"`
	StripePriceIDUSD string `json:"stripePriceIdUsd"`
	StripePriceIDTRY string `json:"stripePriceIdTry"`
	Active           bool   `json:"active"`
	DisplayOrder     int    `json:"displayOrder"`
}

func (p packageRequest) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if p.Credits <= 0 {
		return errors.New("credits must be positive")
	}
	if p.PriceUSD < 0 || p.PriceTRY < 0 {
		return errors.New("prices cannot be negative")
	}
	return nil
}

// adminPackageResponse extends the public shape with the Stripe price IDs.
type adminPackageResponse struct {
	packageResponse
	StripePriceIDUSD string    `json:"stripePriceIdUsd"`
	StripePriceIDTRY string    `json:"stripePriceIdTry"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toAdminPackageResponse(p packages.Package) adminPackageResponse {
	return adminPackageResponse{
		packageResponse:  toPackageResponse(p),
		StripePriceIDUSD: p.StripePriceIDUSD,
		StripePriceIDTRY: p.StripePriceIDTRY,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

// adminListPackages returns every package, inactive ones included.
func (h *handlers) adminListPackages(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	pkgs, err := h.packages.ListAllPackages(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("packages.admin_list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load packages")
		return
	}

	out := make([]adminPackageResponse, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, toAdminPackageResponse(p))
	}
	responders.JSON(w, http.StatusOK, map[string]any{"packages": out})
}

func (h *handlers) createPackage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req packageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	now := time.Now().UTC()
	pkg := packages.Package{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(req.Name),
		Credits:          req.Credits,
		PriceUSD:         req.PriceUSD,
		PriceTRY:         req.PriceTRY,
		StripePriceIDUSD: req.StripePriceIDUSD,
		StripePriceIDTRY: req.StripePriceIDTRY,
		Active:           req.Active,
		DisplayOrder:     req.DisplayOrder,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.packages.CreatePackage(r.Context(), pkg); err != nil {
		log.Error().Err(err).Msg("packages.create_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to create package")
		return
	}

	responders.JSON(w, http.StatusCreated, toAdminPackageResponse(pkg))
}

func (h *handlers) updatePackage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	existing, err := h.packages.GetPackage(r.Context(), id)
	if err != nil {
		if errors.Is(err, packages.ErrPackageNotFound) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodePackageNotFound, "package not found", "id", id)
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load package")
		return
	}

	var req packageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}

	existing.Name = strings.TrimSpace(req.Name)
	existing.Credits = req.Credits
	existing.PriceUSD = req.PriceUSD
	existing.PriceTRY = req.PriceTRY
	existing.StripePriceIDUSD = req.StripePriceIDUSD
	existing.StripePriceIDTRY = req.StripePriceIDTRY
	existing.Active = req.Active
	existing.DisplayOrder = req.DisplayOrder
	existing.UpdatedAt = time.Now().UTC()

	if err := h.packages.UpdatePackage(r.Context(), existing); err != nil {
		log.Error().Err(err).Str("package_id", id).Msg("packages.update_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to update package")
		return
	}

	responders.JSON(w, http.StatusOK, toAdminPackageResponse(existing))
}

// deletePackage deactivates a package. Transactions keep referencing it, so
// rows are never physically removed.
func (h *handlers) deletePackage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.packages.DeletePackage(r.Context(), id); err != nil {
		if errors.Is(err, packages.ErrPackageNotFound) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodePackageNotFound, "package not found", "id", id)
			return
		}
		log.Error().Err(err).Str("package_id", id).Msg("packages.delete_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to delete package")
		return
	}

	responders.NoContent(w)
}

// adminListEvaluations returns every evaluation across all users.
func (h *handlers) adminListEvaluations(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	evs, err := h.evaluations.ListAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("evaluation.admin_list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load evaluations")
		return
	}

	out := make([]evaluationResponse, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toEvaluationResponse(ev))
	}
	responders.JSON(w, http.StatusOK, map[string]any{"evaluations": out})
}

func (h *handlers) adminGetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ev, err := h.evaluations.Get(r.Context(), id, "", true)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeEvaluationNotFound, "evaluation not found", "id", id)
			return
		}
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load evaluation")
		return
	}

	responders.JSON(w, http.StatusOK, toEvaluationResponse(ev))
}

type feedbackRequest struct {
	Status           string `json:"status"`
	FeedbackType     string `json:"feedbackType"`
	FeedbackContent  string `json:"feedbackContent"`
	FeedbackAudioURL string `json:"feedbackAudioUrl"`
}

// setFeedback applies a reviewer status/feedback update to an evaluation.
func (h *handlers) setFeedback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req feedbackRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if req.Status == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "status is required")
		return
	}

	ev, err := h.evaluations.SetFeedback(r.Context(), evaluation.FeedbackRequest{
		EvaluationID:     id,
		Status:           storage.EvaluationStatus(req.Status),
		FeedbackType:     storage.FeedbackType(req.FeedbackType),
		FeedbackContent:  req.FeedbackContent,
		FeedbackAudioURL: req.FeedbackAudioURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeEvaluationNotFound, "evaluation not found", "id", id)
		case errors.Is(err, evaluation.ErrStatusRegression):
			apierrors.WriteSimpleError(w, apierrors.ErrCodeStatusRegression, "status cannot move backwards")
		case errors.Is(err, evaluation.ErrFeedbackNotCompleted):
			apierrors.WriteSimpleError(w, apierrors.ErrCodeFeedbackNotCompleted, "feedback requires completed status")
		default:
			log.Warn().Err(err).Str("evaluation_id", id).Msg("evaluation.feedback_rejected")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		}
		return
	}

	if h.metrics != nil && ev.Status == storage.StatusCompleted && ev.FeedbackType != "" {
		h.metrics.FeedbackDeliveredTotal.WithLabelValues(string(ev.FeedbackType)).Inc()
	}

	responders.JSON(w, http.StatusOK, toEvaluationResponse(ev))
}

func (h *handlers) deleteEvaluation(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.evaluations.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeEvaluationNotFound, "evaluation not found", "id", id)
			return
		}
		log.Error().Err(err).Str("evaluation_id", id).Msg("evaluation.delete_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to delete evaluation")
		return
	}

	responders.NoContent(w)
}

// listUnansweredQuestions returns the reviewer answer queue.
func (h *handlers) listUnansweredQuestions(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	questions, err := h.evaluations.ListUnansweredQuestions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("evaluation.question_queue_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to load questions")
		return
	}

	out := make([]questionResponse, 0, len(questions))
	for _, q := range questions {
		out = append(out, toQuestionResponse(q))
	}
	responders.JSON(w, http.StatusOK, map[string]any{"questions": out})
}

type answerRequest struct {
	Answer string `json:"answer"`
}

// answerQuestion records a reviewer answer. Answers are write-once.
func (h *handlers) answerQuestion(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req answerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "answer is required")
		return
	}

	q, err := h.evaluations.AnswerQuestion(r.Context(), id, req.Answer)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeQuestionNotFound, "question not found", "id", id)
		case errors.Is(err, storage.ErrQuestionAnswered):
			apierrors.WriteSimpleError(w, apierrors.ErrCodeQuestionAnswered, "question already answered")
		default:
			log.Error().Err(err).Str("question_id", id).Msg("evaluation.answer_failed")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to save answer")
		}
		return
	}

	responders.JSON(w, http.StatusOK, toQuestionResponse(q))
}
