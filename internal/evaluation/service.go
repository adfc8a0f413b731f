// Package evaluation implements artwork evaluation submission and the
// reviewer feedback workflow.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sketchsage/server/internal/settings"
	"github.com/sketchsage/server/internal/storage"
)

// SubmissionCost is the credit price of one evaluation.
const SubmissionCost = 1

var (
	// ErrInsufficientCredits is returned when the submitter can't afford the evaluation.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNotOwner is returned when a user accesses someone else's evaluation.
	ErrNotOwner = errors.New("evaluation belongs to another user")

	// ErrQuestionLimit is returned when the per-evaluation question quota is exhausted.
	ErrQuestionLimit = errors.New("question limit reached")

	// ErrStatusRegression is returned when feedback would move status backwards.
	ErrStatusRegression = errors.New("status cannot move backwards")

	// ErrFeedbackNotCompleted is returned when feedback content is set without
	// marking the evaluation completed.
	ErrFeedbackNotCompleted = errors.New("feedback requires completed status")

	// ErrMediaTooLarge is returned when the declared media size exceeds the limit.
	ErrMediaTooLarge = errors.New("media exceeds size limit")
)

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	EvaluationSubmitted(ev storage.Evaluation)
	FeedbackDelivered(ev storage.Evaluation)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) EvaluationSubmitted(storage.Evaluation) {}
func (NopNotifier) FeedbackDelivered(storage.Evaluation)   {}

// Service coordinates credit debits, evaluation records, and follow-up questions.
type Service struct {
	store    storage.Store
	settings *settings.Service
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates an evaluation service.
func NewService(store storage.Store, settingsSvc *settings.Service, notifier Notifier, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:    store,
		settings: settingsSvc,
		notifier: notifier,
		logger:   logger.With().Str("component", "evaluation").Logger(),
		now:      time.Now,
	}
}

// SubmitRequest carries the fields of a new evaluation submission.
type SubmitRequest struct {
	UserID      string
	MediaURL    string
	MediaType   storage.MediaType
	MediaSizeMB int // declared upload size, 0 if unknown
	UserMessage string
}

func (r SubmitRequest) validate() error {
	if strings.TrimSpace(r.MediaURL) == "" {
		return errors.New("media_url is required")
	}
	if !r.MediaType.Valid() {
		return fmt.Errorf("invalid media type %q", r.MediaType)
	}
	if strings.TrimSpace(r.UserMessage) == "" {
		return errors.New("message is required")
	}
	return nil
}

// Submit charges the submission cost and creates a pending evaluation.
//
// The debit runs first: the conditional update in the store is the only
// reliable guard against two concurrent submissions sharing one credit. If
// persisting the evaluation then fails, the debit is compensated with a
// refund.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (storage.Evaluation, int, error) {
	if err := req.validate(); err != nil {
		return storage.Evaluation{}, 0, err
	}

	if err := s.checkMediaSize(ctx, req); err != nil {
		return storage.Evaluation{}, 0, err
	}

	balance, err := s.store.AdjustCredits(ctx, req.UserID, -SubmissionCost)
	if err != nil {
		if errors.Is(err, storage.ErrInsufficientCredits) {
			return storage.Evaluation{}, 0, ErrInsufficientCredits
		}
		return storage.Evaluation{}, 0, fmt.Errorf("debit credits: %w", err)
	}

	ev := storage.Evaluation{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		MediaURL:    strings.TrimSpace(req.MediaURL),
		MediaType:   req.MediaType,
		UserMessage: strings.TrimSpace(req.UserMessage),
		Status:      storage.StatusPending,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.store.CreateEvaluation(ctx, ev); err != nil {
		// Refund the debit so the failed submission doesn't eat a credit.
		if _, refundErr := s.store.AdjustCredits(ctx, req.UserID, SubmissionCost); refundErr != nil {
			s.logger.Error().Err(refundErr).
				Str("user_id", req.UserID).
				Str("evaluation_id", ev.ID).
				Msg("evaluation.refund_failed")
		}
		return storage.Evaluation{}, 0, fmt.Errorf("create evaluation: %w", err)
	}

	s.logger.Info().
		Str("user_id", req.UserID).
		Str("evaluation_id", ev.ID).
		Str("media_type", string(ev.MediaType)).
		Int("balance", balance).
		Msg("evaluation.submitted")

	s.notifier.EvaluationSubmitted(ev)
	return ev, balance, nil
}

func (s *Service) checkMediaSize(ctx context.Context, req SubmitRequest) error {
	if req.MediaSizeMB <= 0 {
		return nil
	}
	current, err := s.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	limit := current.MaxImageSizeMB
	if req.MediaType == storage.MediaVideo {
		limit = current.MaxVideoSizeMB
	}
	if limit > 0 && req.MediaSizeMB > limit {
		return fmt.Errorf("%w: %dMB > %dMB", ErrMediaTooLarge, req.MediaSizeMB, limit)
	}
	return nil
}

// Get returns an evaluation, enforcing ownership for non-admin callers.
func (s *Service) Get(ctx context.Context, id, userID string, isAdmin bool) (storage.Evaluation, error) {
	ev, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return storage.Evaluation{}, err
	}
	if !isAdmin && ev.UserID != userID {
		return storage.Evaluation{}, ErrNotOwner
	}
	return ev, nil
}

// ListForUser returns the caller's evaluations, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]storage.Evaluation, error) {
	return s.store.ListEvaluationsByUser(ctx, userID)
}

// ListAll returns every evaluation (admin review queue).
func (s *Service) ListAll(ctx context.Context) ([]storage.Evaluation, error) {
	return s.store.ListEvaluations(ctx)
}

// AskQuestion adds a follow-up question to the caller's evaluation, bounded
// by the per-evaluation quota from settings.
func (s *Service) AskQuestion(ctx context.Context, evaluationID, userID, question string) (storage.EvaluationQuestion, error) {
	if strings.TrimSpace(question) == "" {
		return storage.EvaluationQuestion{}, errors.New("question is required")
	}

	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return storage.EvaluationQuestion{}, err
	}
	if ev.UserID != userID {
		return storage.EvaluationQuestion{}, ErrNotOwner
	}

	current, err := s.settings.Get(ctx)
	if err != nil {
		return storage.EvaluationQuestion{}, fmt.Errorf("load settings: %w", err)
	}

	count, err := s.store.CountQuestions(ctx, evaluationID)
	if err != nil {
		return storage.EvaluationQuestion{}, fmt.Errorf("count questions: %w", err)
	}
	if current.QuestionsPerEvaluation > 0 && count >= current.QuestionsPerEvaluation {
		return storage.EvaluationQuestion{}, ErrQuestionLimit
	}

	q := storage.EvaluationQuestion{
		ID:           uuid.NewString(),
		EvaluationID: evaluationID,
		UserID:       userID,
		Question:     strings.TrimSpace(question),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return storage.EvaluationQuestion{}, fmt.Errorf("create question: %w", err)
	}

	s.logger.Info().
		Str("evaluation_id", evaluationID).
		Str("question_id", q.ID).
		Msg("evaluation.question_asked")
	return q, nil
}

// ListQuestions returns an evaluation's questions, enforcing ownership.
func (s *Service) ListQuestions(ctx context.Context, evaluationID, userID string, isAdmin bool) ([]storage.EvaluationQuestion, error) {
	ev, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && ev.UserID != userID {
		return nil, ErrNotOwner
	}
	return s.store.ListQuestions(ctx, evaluationID)
}

// FeedbackRequest carries a reviewer's feedback update.
type FeedbackRequest struct {
	EvaluationID     string
	Status           storage.EvaluationStatus
	FeedbackType     storage.FeedbackType
	FeedbackContent  string
	FeedbackAudioURL string
}

// SetFeedback applies a reviewer update. Status only moves forward, and
// feedback content may only be attached together with completed status.
func (s *Service) SetFeedback(ctx context.Context, req FeedbackRequest) (storage.Evaluation, error) {
	if !req.Status.Valid() {
		return storage.Evaluation{}, fmt.Errorf("invalid status %q", req.Status)
	}

	ev, err := s.store.GetEvaluation(ctx, req.EvaluationID)
	if err != nil {
		return storage.Evaluation{}, err
	}

	if !ev.Status.CanTransitionTo(req.Status) {
		return storage.Evaluation{}, ErrStatusRegression
	}

	hasFeedback := req.FeedbackContent != "" || req.FeedbackAudioURL != ""
	if hasFeedback && req.Status != storage.StatusCompleted {
		return storage.Evaluation{}, ErrFeedbackNotCompleted
	}
	if hasFeedback && !req.FeedbackType.Valid() {
		return storage.Evaluation{}, fmt.Errorf("invalid feedback type %q", req.FeedbackType)
	}

	wasCompleted := ev.Status == storage.StatusCompleted

	ev.Status = req.Status
	if hasFeedback {
		ev.FeedbackType = req.FeedbackType
		ev.FeedbackContent = req.FeedbackContent
		ev.FeedbackAudioURL = req.FeedbackAudioURL
	}
	if req.Status == storage.StatusCompleted && ev.CompletedAt == nil {
		now := s.now().UTC()
		ev.CompletedAt = &now
	}

	if err := s.store.UpdateEvaluationFeedback(ctx, ev); err != nil {
		return storage.Evaluation{}, fmt.Errorf("update feedback: %w", err)
	}

	s.logger.Info().
		Str("evaluation_id", ev.ID).
		Str("status", string(ev.Status)).
		Msg("evaluation.feedback_updated")

	if !wasCompleted && ev.Status == storage.StatusCompleted {
		s.notifier.FeedbackDelivered(ev)
	}
	return ev, nil
}

// AnswerQuestion records the reviewer's answer to a follow-up question.
// Answers are write-once.
func (s *Service) AnswerQuestion(ctx context.Context, questionID, answer string) (storage.EvaluationQuestion, error) {
	if strings.TrimSpace(answer) == "" {
		return storage.EvaluationQuestion{}, errors.New("answer is required")
	}

	if err := s.store.AnswerQuestion(ctx, questionID, strings.TrimSpace(answer)); err != nil {
		return storage.EvaluationQuestion{}, err
	}

	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return storage.EvaluationQuestion{}, err
	}

	s.logger.Info().Str("question_id", questionID).Msg("evaluation.question_answered")
	return q, nil
}

// ListUnansweredQuestions returns the admin answer queue, oldest first.
func (s *Service) ListUnansweredQuestions(ctx context.Context) ([]storage.EvaluationQuestion, error) {
	return s.store.ListUnansweredQuestions(ctx)
}

// Delete removes an evaluation. Admin only; credits already spent on the
// evaluation are not refunded.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteEvaluation(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("evaluation_id", id).Msg("evaluation.deleted")
	return nil
}
