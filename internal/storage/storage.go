package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/metrics"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrAccountNotFound is returned when a credit mutation targets an unknown account.
var ErrAccountNotFound = errors.New("storage: account not found")

// ErrInsufficientCredits is returned when a debit would push a balance below zero.
var ErrInsufficientCredits = errors.New("storage: insufficient credits")

// ErrDuplicateTransaction is returned when a payment reference was already recorded.
// The webhook reconciler treats this as "already processed" and no-ops.
var ErrDuplicateTransaction = errors.New("storage: duplicate payment reference")

// ErrDuplicateEmail is returned when an account email is already registered.
var ErrDuplicateEmail = errors.New("storage: email already registered")

// ErrQuestionAnswered is returned when answering a question that already has an answer.
var ErrQuestionAnswered = errors.New("storage: question already answered")

// Store captures the persistence requirements for the platform.
//
// The one hard correctness requirement lives in AdjustCredits: the balance
// check and write must be a single atomic step per account so that concurrent
// debits can never both consume the last credit. Implementations must use the
// backend's native conditional-update primitive, never read-then-write.
type Store interface {
	// Account operations
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)

	// AdjustCredits applies a signed delta to an account balance in one
	// conditional write. It returns the new balance on success,
	// ErrInsufficientCredits when a debit would go negative, and
	// ErrAccountNotFound when the account does not exist.
	AdjustCredits(ctx context.Context, accountID string, delta int) (int, error)

	// Evaluation operations
	CreateEvaluation(ctx context.Context, ev Evaluation) error
	GetEvaluation(ctx context.Context, id string) (Evaluation, error)
	ListEvaluationsByUser(ctx context.Context, userID string) ([]Evaluation, error)
	ListEvaluations(ctx context.Context) ([]Evaluation, error)
	DeleteEvaluation(ctx context.Context, id string) error
	UpdateEvaluationFeedback(ctx context.Context, ev Evaluation) error

	// Question operations
	CreateQuestion(ctx context.Context, q EvaluationQuestion) error
	GetQuestion(ctx context.Context, id string) (EvaluationQuestion, error)
	CountQuestions(ctx context.Context, evaluationID string) (int, error)
	ListQuestions(ctx context.Context, evaluationID string) ([]EvaluationQuestion, error)
	ListUnansweredQuestions(ctx context.Context) ([]EvaluationQuestion, error)
	AnswerQuestion(ctx context.Context, id, answer string) error

	// Transaction tracking. PaymentRef is globally unique: RecordTransaction
	// returns ErrDuplicateTransaction if the reference was already recorded,
	// which is the idempotency guarantee webhook redelivery relies on.
	RecordTransaction(ctx context.Context, tx Transaction) error
	HasTransaction(ctx context.Context, paymentRef string) (bool, error)
	GetTransactionByRef(ctx context.Context, paymentRef string) (Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error)

	// Runtime-mutable settings (key -> JSON value)
	GetSettings(ctx context.Context) (map[string]json.RawMessage, error)
	SetSetting(ctx context.Context, key string, value json.RawMessage) error

	Close() error
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg config.DatabaseConfig, m *metrics.Metrics) (Store, error) {
	return NewStoreWithDB(cfg, nil, m)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is provided (non-nil) for the postgres backend, it is used instead
// of opening a new connection pool.
func NewStoreWithDB(cfg config.DatabaseConfig, sharedDB *sql.DB, m *metrics.Metrics) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		// Loses all state on restart - development and tests only
		return NewMemoryStore(), nil
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB, m)
		}
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool, m)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		database := cfg.MongoDBDatabase
		if database == "" {
			database = "sketchsage"
		}
		return NewMongoDBStore(cfg.MongoDBURL, database, m)
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.Backend)
	}
}
