package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestAccount(id string, credits int) Account {
	now := time.Now().UTC()
	return Account{
		ID:        id,
		Email:     id + "@example.com",
		FullName:  "Test User",
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStoreAccounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateAccount(ctx, newTestAccount("user-1", 3)); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	account, err := store.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Credits != 3 {
		t.Errorf("expected 3 credits, got %d", account.Credits)
	}

	// Email lookup is case-insensitive
	if _, err := store.GetAccountByEmail(ctx, "USER-1@EXAMPLE.COM"); err != nil {
		t.Errorf("case-insensitive email lookup failed: %v", err)
	}

	dup := newTestAccount("user-2", 0)
	dup.Email = "User-1@Example.com"
	if err := store.CreateAccount(ctx, dup); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}

	if _, err := store.GetAccount(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdjustCredits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateAccount(ctx, newTestAccount("user-1", 5)); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	balance, err := store.AdjustCredits(ctx, "user-1", -2)
	if err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if balance != 3 {
		t.Errorf("expected balance 3, got %d", balance)
	}

	balance, err = store.AdjustCredits(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if balance != 13 {
		t.Errorf("expected balance 13, got %d", balance)
	}

	if _, err := store.AdjustCredits(ctx, "user-1", -100); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits, got %v", err)
	}

	// Failed debit must not change the balance
	account, _ := store.GetAccount(ctx, "user-1")
	if account.Credits != 13 {
		t.Errorf("balance changed after failed debit: %d", account.Credits)
	}

	if _, err := store.AdjustCredits(ctx, "missing", -1); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAdjustCreditsConcurrentDebits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const initial = 10
	const attempts = 50

	if err := store.CreateAccount(ctx, newTestAccount("user-1", initial)); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AdjustCredits(ctx, "user-1", -1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != initial {
		t.Errorf("expected exactly %d successful debits, got %d", initial, succeeded)
	}

	account, err := store.GetAccount(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account.Credits != 0 {
		t.Errorf("expected balance 0, got %d", account.Credits)
	}
}

func TestAdjustCreditsConcurrentMixed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateAccount(ctx, newTestAccount("user-1", 100)); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.AdjustCredits(ctx, "user-1", -3)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.AdjustCredits(ctx, "user-1", 3)
		}()
	}
	wg.Wait()

	// Equal credits and debits all fit within the starting balance, so the
	// final balance must be exactly where it started.
	account, _ := store.GetAccount(ctx, "user-1")
	if account.Credits != 100 {
		t.Errorf("expected balance 100 after balanced adjustments, got %d", account.Credits)
	}
}

func TestRecordTransactionDeduplication(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx := Transaction{
		ID:           "txn-1",
		UserID:       "user-1",
		PaymentRef:   "pi_12345",
		PackageID:    "pkg-starter",
		Amount:       999,
		Currency:     "usd",
		CreditsAdded: 10,
		Status:       TransactionStatusCompleted,
		CreatedAt:    time.Now().UTC(),
	}

	if err := store.RecordTransaction(ctx, tx); err != nil {
		t.Fatalf("first RecordTransaction failed: %v", err)
	}

	replay := tx
	replay.ID = "txn-2"
	if err := store.RecordTransaction(ctx, replay); !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("expected ErrDuplicateTransaction, got %v", err)
	}

	has, err := store.HasTransaction(ctx, "pi_12345")
	if err != nil {
		t.Fatalf("HasTransaction failed: %v", err)
	}
	if !has {
		t.Error("expected transaction to exist")
	}

	has, err = store.HasTransaction(ctx, "pi_other")
	if err != nil {
		t.Fatalf("HasTransaction failed: %v", err)
	}
	if has {
		t.Error("expected transaction to not exist")
	}

	got, err := store.GetTransactionByRef(ctx, "pi_12345")
	if err != nil {
		t.Fatalf("GetTransactionByRef failed: %v", err)
	}
	if got.ID != "txn-1" {
		t.Errorf("replay overwrote original transaction: got id %q", got.ID)
	}
}

func TestRecordTransactionConcurrentReplay(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tx := Transaction{
				ID:           "txn-" + string(rune('a'+n)),
				UserID:       "user-1",
				PaymentRef:   "pi_contested",
				Amount:       999,
				Currency:     "usd",
				CreditsAdded: 10,
				Status:       TransactionStatusCompleted,
				CreatedAt:    time.Now().UTC(),
			}
			if err := store.RecordTransaction(ctx, tx); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected exactly 1 successful record, got %d", succeeded)
	}
}

func TestEvaluationLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ev := Evaluation{
		ID:          "eval-1",
		UserID:      "user-1",
		MediaURL:    "https://cdn.example.com/sketch.png",
		MediaType:   MediaImage,
		UserMessage: "How is my shading?",
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.CreateEvaluation(ctx, ev); err != nil {
		t.Fatalf("CreateEvaluation failed: %v", err)
	}

	got, err := store.GetEvaluation(ctx, "eval-1")
	if err != nil {
		t.Fatalf("GetEvaluation failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected pending status, got %q", got.Status)
	}

	now := time.Now().UTC()
	got.Status = StatusCompleted
	got.FeedbackType = FeedbackText
	got.FeedbackContent = "Strong values, work on edges."
	got.CompletedAt = &now
	if err := store.UpdateEvaluationFeedback(ctx, got); err != nil {
		t.Fatalf("UpdateEvaluationFeedback failed: %v", err)
	}

	got, _ = store.GetEvaluation(ctx, "eval-1")
	if got.FeedbackContent == "" || got.CompletedAt == nil {
		t.Error("feedback update was not persisted")
	}

	if err := store.DeleteEvaluation(ctx, "eval-1"); err != nil {
		t.Fatalf("DeleteEvaluation failed: %v", err)
	}
	if _, err := store.GetEvaluation(ctx, "eval-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteEvaluation(ctx, "eval-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestListEvaluationsOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"eval-old", "eval-mid", "eval-new"} {
		ev := Evaluation{
			ID:        id,
			UserID:    "user-1",
			MediaURL:  "https://cdn.example.com/" + id + ".png",
			MediaType: MediaImage,
			Status:    StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateEvaluation(ctx, ev); err != nil {
			t.Fatalf("CreateEvaluation failed: %v", err)
		}
	}

	list, err := store.ListEvaluationsByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListEvaluationsByUser failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 evaluations, got %d", len(list))
	}
	if list[0].ID != "eval-new" || list[2].ID != "eval-old" {
		t.Errorf("expected newest-first ordering, got %s, %s, %s",
			list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestAnswerQuestionSetOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	q := EvaluationQuestion{
		ID:           "q-1",
		EvaluationID: "eval-1",
		UserID:       "user-1",
		Question:     "Which brush did you mean?",
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.CreateQuestion(ctx, q); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}

	unanswered, err := store.ListUnansweredQuestions(ctx)
	if err != nil {
		t.Fatalf("ListUnansweredQuestions failed: %v", err)
	}
	if len(unanswered) != 1 {
		t.Fatalf("expected 1 unanswered question, got %d", len(unanswered))
	}

	if err := store.AnswerQuestion(ctx, "q-1", "A round brush."); err != nil {
		t.Fatalf("AnswerQuestion failed: %v", err)
	}

	if err := store.AnswerQuestion(ctx, "q-1", "Changed my mind."); !errors.Is(err, ErrQuestionAnswered) {
		t.Errorf("expected ErrQuestionAnswered, got %v", err)
	}

	got, err := store.GetQuestion(ctx, "q-1")
	if err != nil {
		t.Fatalf("GetQuestion failed: %v", err)
	}
	if got.Answer == nil || *got.Answer != "A round brush." {
		t.Error("second answer overwrote the first")
	}
	if got.AnsweredAt == nil {
		t.Error("answered_at not set")
	}

	unanswered, _ = store.ListUnansweredQuestions(ctx)
	if len(unanswered) != 0 {
		t.Errorf("answered question still in unanswered list")
	}

	if err := store.AnswerQuestion(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCountQuestions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q := EvaluationQuestion{
			ID:           "q-" + string(rune('a'+i)),
			EvaluationID: "eval-1",
			UserID:       "user-1",
			Question:     "question",
			CreatedAt:    time.Now().UTC(),
		}
		if err := store.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("CreateQuestion failed: %v", err)
		}
	}

	count, err := store.CountQuestions(ctx, "eval-1")
	if err != nil {
		t.Fatalf("CountQuestions failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 questions, got %d", count)
	}

	count, _ = store.CountQuestions(ctx, "eval-other")
	if count != 0 {
		t.Errorf("expected 0 questions for other evaluation, got %d", count)
	}
}

func TestSettings(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SetSetting(ctx, "default_welcome_credits", json.RawMessage(`3`)); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := store.SetSetting(ctx, "max_image_size_mb", json.RawMessage(`10`)); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}

	settings, err := store.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if len(settings) != 2 {
		t.Fatalf("expected 2 settings, got %d", len(settings))
	}
	if string(settings["default_welcome_credits"]) != "3" {
		t.Errorf("unexpected value: %s", settings["default_welcome_credits"])
	}

	// Upsert replaces the value
	if err := store.SetSetting(ctx, "default_welcome_credits", json.RawMessage(`5`)); err != nil {
		t.Fatalf("SetSetting upsert failed: %v", err)
	}
	settings, _ = store.GetSettings(ctx)
	if string(settings["default_welcome_credits"]) != "5" {
		t.Errorf("upsert did not replace value: %s", settings["default_welcome_credits"])
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to EvaluationStatus
		allowed  bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCompleted, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusInProgress, StatusPending, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}
