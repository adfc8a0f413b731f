package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation suitable for tests and
// local development. A single mutex serializes all mutations, which trivially
// satisfies the atomicity contract of AdjustCredits.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]Account            // accountID -> account
	emailIndex   map[string]string             // lowercased email -> accountID
	evaluations  map[string]Evaluation         // evaluationID -> evaluation
	questions    map[string]EvaluationQuestion // questionID -> question
	transactions map[string]Transaction        // paymentRef -> transaction
	settings     map[string]json.RawMessage    // key -> JSON value
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]Account),
		emailIndex:   make(map[string]string),
		evaluations:  make(map[string]Evaluation),
		questions:    make(map[string]EvaluationQuestion),
		transactions: make(map[string]Transaction),
		settings:     make(map[string]json.RawMessage),
	}
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error {
	return nil
}

// CreateAccount stores a new account, rejecting duplicate emails.
func (m *MemoryStore) CreateAccount(_ context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, exists := m.emailIndex[email]; exists {
		return ErrDuplicateEmail
	}
	m.accounts[account.ID] = account
	m.emailIndex[email] = account.ID
	return nil
}

// GetAccount retrieves an account by id.
func (m *MemoryStore) GetAccount(_ context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return account, nil
}

// GetAccountByEmail retrieves an account by email (case-insensitive).
func (m *MemoryStore) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emailIndex[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return m.accounts[id], nil
}

// AdjustCredits applies a signed delta under the store mutex, so the balance
// check and write are atomic with respect to concurrent callers.
func (m *MemoryStore) AdjustCredits(_ context.Context, accountID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	next := account.Credits + delta
	if next < 0 {
		return account.Credits, ErrInsufficientCredits
	}
	account.Credits = next
	account.UpdatedAt = time.Now()
	m.accounts[accountID] = account
	return next, nil
}

// CreateEvaluation stores a new evaluation record.
func (m *MemoryStore) CreateEvaluation(_ context.Context, ev Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evaluations[ev.ID] = ev
	return nil
}

// GetEvaluation retrieves an evaluation by id.
func (m *MemoryStore) GetEvaluation(_ context.Context, id string) (Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.evaluations[id]
	if !ok {
		return Evaluation{}, ErrNotFound
	}
	return ev, nil
}

// ListEvaluationsByUser returns a user's evaluations, newest first.
func (m *MemoryStore) ListEvaluationsByUser(_ context.Context, userID string) ([]Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Evaluation
	for _, ev := range m.evaluations {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	sortEvaluations(out)
	return out, nil
}

// ListEvaluations returns all evaluations, newest first (admin view).
func (m *MemoryStore) ListEvaluations(_ context.Context) ([]Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Evaluation, 0, len(m.evaluations))
	for _, ev := range m.evaluations {
		out = append(out, ev)
	}
	sortEvaluations(out)
	return out, nil
}

// DeleteEvaluation removes an evaluation. Used only to compensate a failed
// submission; completed evaluations are never deleted.
func (m *MemoryStore) DeleteEvaluation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.evaluations[id]; !ok {
		return ErrNotFound
	}
	delete(m.evaluations, id)
	return nil
}

// UpdateEvaluationFeedback persists reviewer changes to status and feedback fields.
func (m *MemoryStore) UpdateEvaluationFeedback(_ context.Context, ev Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.evaluations[ev.ID]
	if !ok {
		return ErrNotFound
	}
	current.Status = ev.Status
	current.FeedbackType = ev.FeedbackType
	current.FeedbackContent = ev.FeedbackContent
	current.FeedbackAudioURL = ev.FeedbackAudioURL
	current.CompletedAt = ev.CompletedAt
	m.evaluations[ev.ID] = current
	return nil
}

// CreateQuestion stores a new follow-up question.
func (m *MemoryStore) CreateQuestion(_ context.Context, q EvaluationQuestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.questions[q.ID] = q
	return nil
}

// GetQuestion retrieves a question by id.
func (m *MemoryStore) GetQuestion(_ context.Context, id string) (EvaluationQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.questions[id]
	if !ok {
		return EvaluationQuestion{}, ErrNotFound
	}
	return q, nil
}

// CountQuestions returns how many questions exist for an evaluation.
func (m *MemoryStore) CountQuestions(_ context.Context, evaluationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, q := range m.questions {
		if q.EvaluationID == evaluationID {
			count++
		}
	}
	return count, nil
}

// ListQuestions returns an evaluation's questions, oldest first.
func (m *MemoryStore) ListQuestions(_ context.Context, evaluationID string) ([]EvaluationQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []EvaluationQuestion
	for _, q := range m.questions {
		if q.EvaluationID == evaluationID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListUnansweredQuestions returns all pending questions, oldest first (admin queue).
func (m *MemoryStore) ListUnansweredQuestions(_ context.Context) ([]EvaluationQuestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []EvaluationQuestion
	for _, q := range m.questions {
		if q.Answer == nil {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AnswerQuestion sets a question's answer exactly once.
func (m *MemoryStore) AnswerQuestion(_ context.Context, id, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[id]
	if !ok {
		return ErrNotFound
	}
	if q.Answer != nil {
		return ErrQuestionAnswered
	}
	now := time.Now()
	q.Answer = &answer
	q.AnsweredAt = &now
	m.questions[id] = q
	return nil
}

// RecordTransaction appends a transaction row, rejecting duplicate payment references.
func (m *MemoryStore) RecordTransaction(_ context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[tx.PaymentRef]; exists {
		return ErrDuplicateTransaction
	}
	m.transactions[tx.PaymentRef] = tx
	return nil
}

// HasTransaction checks whether a payment reference has already been processed.
func (m *MemoryStore) HasTransaction(_ context.Context, paymentRef string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.transactions[paymentRef]
	return exists, nil
}

// GetTransactionByRef retrieves a transaction by payment reference.
func (m *MemoryStore) GetTransactionByRef(_ context.Context, paymentRef string) (Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[paymentRef]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

// ListTransactionsByUser returns a user's transactions, newest first.
func (m *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Transaction
	for _, tx := range m.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// GetSettings returns a copy of all settings.
func (m *MemoryStore) GetSettings(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

// SetSetting stores a single setting value.
func (m *MemoryStore) SetSetting(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[key] = value
	return nil
}

func sortEvaluations(evs []Evaluation) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].CreatedAt.After(evs[j].CreatedAt) })
}
