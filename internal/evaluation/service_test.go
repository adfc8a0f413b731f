package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sketchsage/server/internal/settings"
	"github.com/sketchsage/server/internal/storage"
)

type recordingNotifier struct {
	mu        sync.Mutex
	submitted []string
	delivered []string
}

func (n *recordingNotifier) EvaluationSubmitted(ev storage.Evaluation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, ev.ID)
}

func (n *recordingNotifier) FeedbackDelivered(ev storage.Evaluation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered = append(n.delivered, ev.ID)
}

func newTestService(t *testing.T) (*Service, storage.Store, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	settingsSvc := settings.NewService(store, 0, zerolog.Nop())
	notifier := &recordingNotifier{}
	svc := NewService(store, settingsSvc, notifier, zerolog.Nop())
	return svc, store, notifier
}

func seedAccount(t *testing.T, store storage.Store, id string, credits int) {
	t.Helper()
	now := time.Now().UTC()
	err := store.CreateAccount(context.Background(), storage.Account{
		ID:        id,
		Email:     id + "@example.com",
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func submitReq(userID string) SubmitRequest {
	return SubmitRequest{
		UserID:      userID,
		MediaURL:    "https://cdn.example.com/sketch.png",
		MediaType:   storage.MediaImage,
		UserMessage: "How is my linework?",
	}
}

func TestSubmitDebitsAndCreates(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 3)

	ev, balance, err := svc.Submit(ctx, submitReq("user-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if balance != 2 {
		t.Errorf("expected balance 2, got %d", balance)
	}
	if ev.Status != storage.StatusPending {
		t.Errorf("expected pending status, got %q", ev.Status)
	}

	stored, err := store.GetEvaluation(ctx, ev.ID)
	if err != nil {
		t.Fatalf("evaluation not persisted: %v", err)
	}
	if stored.UserID != "user-1" {
		t.Errorf("wrong owner: %s", stored.UserID)
	}

	if len(notifier.submitted) != 1 || notifier.submitted[0] != ev.ID {
		t.Errorf("expected submission notification for %s, got %v", ev.ID, notifier.submitted)
	}
}

func TestSubmitInsufficientCredits(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 0)

	if _, _, err := svc.Submit(ctx, submitReq("user-1")); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits, got %v", err)
	}

	// Balance never went negative
	account, _ := store.GetAccount(ctx, "user-1")
	if account.Credits != 0 {
		t.Errorf("balance changed on rejected submission: %d", account.Credits)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 5)

	noURL := submitReq("user-1")
	noURL.MediaURL = "  "
	if _, _, err := svc.Submit(ctx, noURL); err == nil {
		t.Error("expected error for missing media URL")
	}

	badType := submitReq("user-1")
	badType.MediaType = "gif"
	if _, _, err := svc.Submit(ctx, badType); err == nil {
		t.Error("expected error for invalid media type")
	}

	// Invalid submissions must not debit
	account, _ := store.GetAccount(ctx, "user-1")
	if account.Credits != 5 {
		t.Errorf("validation failures consumed credits: %d", account.Credits)
	}
}

func TestSubmitMediaSizeLimits(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 5)

	if err := store.SetSetting(ctx, settings.KeyMaxImageSizeMB, json.RawMessage(`10`)); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := store.SetSetting(ctx, settings.KeyMaxVideoSizeMB, json.RawMessage(`100`)); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}

	tooBig := submitReq("user-1")
	tooBig.MediaSizeMB = 11
	if _, _, err := svc.Submit(ctx, tooBig); !errors.Is(err, ErrMediaTooLarge) {
		t.Errorf("expected ErrMediaTooLarge, got %v", err)
	}

	// The same size is fine for video, which has a higher limit
	video := submitReq("user-1")
	video.MediaType = storage.MediaVideo
	video.MediaSizeMB = 11
	if _, _, err := svc.Submit(ctx, video); err != nil {
		t.Errorf("video within limit rejected: %v", err)
	}
}

func TestConcurrentSubmissionsNeverOverspend(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	const credits = 5
	const attempts = 25
	seedAccount(t, store, "user-1", credits)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.Submit(ctx, submitReq("user-1")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != credits {
		t.Errorf("expected exactly %d submissions, got %d", credits, succeeded)
	}
	account, _ := store.GetAccount(ctx, "user-1")
	if account.Credits != 0 {
		t.Errorf("expected final balance 0, got %d", account.Credits)
	}
	list, _ := store.ListEvaluationsByUser(ctx, "user-1")
	if len(list) != credits {
		t.Errorf("expected %d evaluations, got %d", credits, len(list))
	}
}

type failingCreateStore struct {
	storage.Store
}

func (s failingCreateStore) CreateEvaluation(ctx context.Context, ev storage.Evaluation) error {
	return errors.New("disk full")
}

func TestSubmitRefundsOnPersistFailure(t *testing.T) {
	inner := storage.NewMemoryStore()
	store := failingCreateStore{Store: inner}
	settingsSvc := settings.NewService(store, 0, zerolog.Nop())
	svc := NewService(store, settingsSvc, nil, zerolog.Nop())
	ctx := context.Background()

	seedAccount(t, inner, "user-1", 3)

	if _, _, err := svc.Submit(ctx, submitReq("user-1")); err == nil {
		t.Fatal("expected submission to fail")
	}

	account, _ := inner.GetAccount(ctx, "user-1")
	if account.Credits != 3 {
		t.Errorf("debit not refunded: balance %d", account.Credits)
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 3)

	ev, _, err := svc.Submit(ctx, submitReq("user-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := svc.Get(ctx, ev.ID, "user-2", false); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if _, err := svc.Get(ctx, ev.ID, "user-1", false); err != nil {
		t.Errorf("owner access failed: %v", err)
	}
	if _, err := svc.Get(ctx, ev.ID, "admin", true); err != nil {
		t.Errorf("admin access failed: %v", err)
	}
}

func TestAskQuestionQuota(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 3)

	if err := store.SetSetting(ctx, settings.KeyQuestionsPerEval, json.RawMessage(`2`)); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}

	ev, _, err := svc.Submit(ctx, submitReq("user-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.AskQuestion(ctx, ev.ID, "user-1", "What about perspective?"); err != nil {
			t.Fatalf("AskQuestion %d failed: %v", i, err)
		}
	}
	if _, err := svc.AskQuestion(ctx, ev.ID, "user-1", "One more?"); !errors.Is(err, ErrQuestionLimit) {
		t.Errorf("expected ErrQuestionLimit, got %v", err)
	}

	// Other users can't ask on someone else's evaluation
	if _, err := svc.AskQuestion(ctx, ev.ID, "user-2", "Mine too?"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestSetFeedbackLifecycle(t *testing.T) {
	svc, store, notifier := newTestService(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 3)

	ev, _, err := svc.Submit(ctx, submitReq("user-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// pending -> in_progress
	updated, err := svc.SetFeedback(ctx, FeedbackRequest{
		EvaluationID: ev.ID,
		Status:       storage.StatusInProgress,
	})
	if err != nil {
		t.Fatalf("SetFeedback in_progress failed: %v", err)
	}
	if updated.CompletedAt != nil {
		t.Error("completed_at set before completion")
	}

	// Feedback content requires completed status
	_, err = svc.SetFeedback(ctx, FeedbackRequest{
		EvaluationID:    ev.ID,
		Status:          storage.StatusInProgress,
		FeedbackType:    storage.FeedbackText,
		FeedbackContent: "Nice work",
	})
	if !errors.Is(err, ErrFeedbackNotCompleted) {
		t.Errorf("expected ErrFeedbackNotCompleted, got %v", err)
	}

	// in_progress -> completed with feedback
	updated, err = svc.SetFeedback(ctx, FeedbackRequest{
		EvaluationID:    ev.ID,
		Status:          storage.StatusCompleted,
		FeedbackType:    storage.FeedbackText,
		FeedbackContent: "Strong composition, loosen up the wrists.",
	})
	if err != nil {
		t.Fatalf("SetFeedback completed failed: %v", err)
	}
	if updated.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if len(notifier.delivered) != 1 {
		t.Errorf("expected 1 delivery notification, got %d", len(notifier.delivered))
	}

	// completed -> in_progress is a regression
	_, err = svc.SetFeedback(ctx, FeedbackRequest{
		EvaluationID: ev.ID,
		Status:       storage.StatusInProgress,
	})
	if !errors.Is(err, ErrStatusRegression) {
		t.Errorf("expected ErrStatusRegression, got %v", err)
	}

	// Re-completing doesn't re-notify or reset completed_at
	first := *updated.CompletedAt
	updated, err = svc.SetFeedback(ctx, FeedbackRequest{
		EvaluationID:    ev.ID,
		Status:          storage.StatusCompleted,
		FeedbackType:    storage.FeedbackText,
		FeedbackContent: "Amended: also check proportions.",
	})
	if err != nil {
		t.Fatalf("amend feedback failed: %v", err)
	}
	if !updated.CompletedAt.Equal(first) {
		t.Error("completed_at changed on amendment")
	}
	if len(notifier.delivered) != 1 {
		t.Errorf("amendment re-notified: %d", len(notifier.delivered))
	}
}

func TestAnswerQuestionWriteOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seedAccount(t, store, "user-1", 3)

	ev, _, err := svc.Submit(ctx, submitReq("user-1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	q, err := svc.AskQuestion(ctx, ev.ID, "user-1", "Which reference did you use?")
	if err != nil {
		t.Fatalf("AskQuestion failed: %v", err)
	}

	answered, err := svc.AnswerQuestion(ctx, q.ID, "A photo study.")
	if err != nil {
		t.Fatalf("AnswerQuestion failed: %v", err)
	}
	if answered.Answer == nil || *answered.Answer != "A photo study." {
		t.Error("answer not persisted")
	}

	if _, err := svc.AnswerQuestion(ctx, q.ID, "Changed answer"); !errors.Is(err, storage.ErrQuestionAnswered) {
		t.Errorf("expected ErrQuestionAnswered, got %v", err)
	}

	if _, err := svc.AnswerQuestion(ctx, q.ID, "  "); err == nil {
		t.Error("expected error for blank answer")
	}
}
