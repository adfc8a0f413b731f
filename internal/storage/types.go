package storage

import (
	"time"
)

// MediaType identifies the kind of artwork attached to an evaluation.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Valid reports whether the media type is one the platform accepts.
func (m MediaType) Valid() bool {
	return m == MediaImage || m == MediaVideo
}

// EvaluationStatus tracks the review lifecycle of a submission.
// Transitions are one-way: pending -> in_progress -> completed.
type EvaluationStatus string

const (
	StatusPending    EvaluationStatus = "pending"
	StatusInProgress EvaluationStatus = "in_progress"
	StatusCompleted  EvaluationStatus = "completed"
)

// rank orders statuses for monotonic transition checks.
func (s EvaluationStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// Valid reports whether the status is a known lifecycle state.
func (s EvaluationStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether moving from s to next respects the one-way lifecycle.
// Staying on the same status is allowed (admin re-saves).
func (s EvaluationStatus) CanTransitionTo(next EvaluationStatus) bool {
	if !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// FeedbackType identifies how the reviewer delivered feedback.
type FeedbackType string

const (
	FeedbackText  FeedbackType = "text"
	FeedbackAudio FeedbackType = "audio"
)

// Valid reports whether the feedback type is known.
func (f FeedbackType) Valid() bool {
	return f == FeedbackText || f == FeedbackAudio
}

// Account is a user profile with its credit balance.
// Credits are the platform entitlement: one credit buys one evaluation.
// The balance is mutated exclusively through Store.AdjustCredits.
type Account struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Credits      int
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Evaluation is a user's submitted artwork awaiting or having received expert feedback.
type Evaluation struct {
	ID               string
	UserID           string
	MediaURL         string
	MediaType        MediaType
	UserMessage      string
	Status           EvaluationStatus
	FeedbackType     FeedbackType // empty until feedback is delivered
	FeedbackContent  string       // text feedback body
	FeedbackAudioURL string       // audio feedback location
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// EvaluationQuestion is a follow-up question a user asked about their evaluation.
// Answer is set exactly once by an admin reviewer.
type EvaluationQuestion struct {
	ID           string
	EvaluationID string
	UserID       string
	Question     string
	Answer       *string
	CreatedAt    time.Time
	AnsweredAt   *time.Time
}

// Transaction records one completed external payment.
// PaymentRef (the gateway payment-intent id) is globally unique: each completed
// payment produces at most one row, which is what makes webhook redelivery safe.
type Transaction struct {
	ID           string
	UserID       string
	PaymentRef   string
	PackageID    string
	Amount       int64 // minor units (cents/kurus)
	Currency     string
	CreditsAdded int
	Status       string // "completed" is the only status this system writes
	CreatedAt    time.Time
}

// TransactionStatusCompleted is the sole transaction status written by the reconciler.
const TransactionStatusCompleted = "completed"
