package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sketchsage/server/internal/config"
	"github.com/sketchsage/server/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db      *sql.DB
	ownsDB  bool // Track if we created the DB connection (for Close())
	metrics *metrics.Metrics
}

const queryTimeout = 10 * time.Second

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// withQueryTimeout adds a timeout to the context if not already set.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig, m *metrics.Metrics) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() error is not actionable here; the connection failure is the
		// error the caller needs to see.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true, metrics: m}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing
// connection pool, allowing the pool to be shared across repositories.
func NewPostgresStoreWithDB(db *sql.DB, m *metrics.Metrics) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false, metrics: m}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

// createTables creates the necessary tables if they don't exist.
func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users_profile (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			credits INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS evaluations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users_profile(id),
			media_url TEXT NOT NULL,
			media_type TEXT NOT NULL,
			user_message TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			feedback_type TEXT,
			feedback_content TEXT,
			feedback_audio_url TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS evaluation_questions (
			id TEXT PRIMARY KEY,
			evaluation_id TEXT NOT NULL REFERENCES evaluations(id),
			user_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT,
			created_at TIMESTAMP NOT NULL,
			answered_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			stripe_payment_intent_id TEXT NOT NULL UNIQUE,
			package_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			credits_added INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS system_settings (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_evaluations_user ON evaluations(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_evaluations_status ON evaluations(status);
		CREATE INDEX IF NOT EXISTS idx_questions_evaluation ON evaluation_questions(evaluation_id);
		CREATE INDEX IF NOT EXISTS idx_questions_unanswered ON evaluation_questions(created_at) WHERE answer IS NULL;
		CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close closes the database connection if this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// CreateAccount inserts a new account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_account", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users_profile (id, email, full_name, password_hash, credits, is_admin, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8)
	`, account.ID, account.Email, account.FullName, account.PasswordHash,
		account.Credits, account.IsAdmin, account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by id.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_account", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, password_hash, credits, is_admin, created_at, updated_at
		FROM users_profile WHERE id = $1
	`, id))
}

// GetAccountByEmail retrieves an account by email (case-insensitive).
func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_account_by_email", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, email, full_name, password_hash, credits, is_admin, created_at, updated_at
		FROM users_profile WHERE email = lower($1)
	`, email))
}

func (s *PostgresStore) scanAccount(row *sql.Row) (Account, error) {
	var account Account
	err := row.Scan(&account.ID, &account.Email, &account.FullName, &account.PasswordHash,
		&account.Credits, &account.IsAdmin, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

// AdjustCredits applies a signed delta as a single conditional UPDATE.
// The balance floor is enforced in the WHERE clause, so two concurrent debits
// can never both consume the last credit: one of them matches zero rows.
func (s *PostgresStore) AdjustCredits(ctx context.Context, accountID string, delta int) (int, error) {
	defer metrics.MeasureDBQuery(s.metrics, "adjust_credits", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var newBalance int
	err := s.db.QueryRowContext(ctx, `
		UPDATE users_profile
		SET credits = credits + $1, updated_at = $2
		WHERE id = $3 AND credits + $1 >= 0
		RETURNING credits
	`, delta, time.Now().UTC(), accountID).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the account is missing or the debit would go negative;
		// distinguish with a follow-up existence check.
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users_profile WHERE id = $1)`, accountID,
		).Scan(&exists); checkErr != nil {
			return 0, fmt.Errorf("check account exists: %w", checkErr)
		}
		if !exists {
			return 0, ErrAccountNotFound
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("adjust credits: %w", err)
	}
	return newBalance, nil
}

// CreateEvaluation inserts a new evaluation row.
func (s *PostgresStore) CreateEvaluation(ctx context.Context, ev Evaluation) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_evaluation", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluations (id, user_id, media_url, media_type, user_message, status,
			feedback_type, feedback_content, feedback_audio_url, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11)
	`, ev.ID, ev.UserID, ev.MediaURL, string(ev.MediaType), ev.UserMessage, string(ev.Status),
		string(ev.FeedbackType), ev.FeedbackContent, ev.FeedbackAudioURL,
		ev.CreatedAt.UTC(), nullableTime(ev.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

const evaluationColumns = `
	id, user_id, media_url, media_type, user_message, status,
	COALESCE(feedback_type, ''), COALESCE(feedback_content, ''), COALESCE(feedback_audio_url, ''),
	created_at, completed_at`

// GetEvaluation retrieves an evaluation by id.
func (s *PostgresStore) GetEvaluation(ctx context.Context, id string) (Evaluation, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_evaluation", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1`, id)
	ev, err := scanEvaluationRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Evaluation{}, ErrNotFound
	}
	return ev, err
}

// ListEvaluationsByUser returns a user's evaluations, newest first.
func (s *PostgresStore) ListEvaluationsByUser(ctx context.Context, userID string) ([]Evaluation, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_evaluations_by_user", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return collectEvaluations(rows)
}

// ListEvaluations returns all evaluations, newest first (admin view).
func (s *PostgresStore) ListEvaluations(ctx context.Context) ([]Evaluation, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_evaluations", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return collectEvaluations(rows)
}

// DeleteEvaluation removes an evaluation (submission compensation only).
func (s *PostgresStore) DeleteEvaluation(ctx context.Context, id string) error {
	defer metrics.MeasureDBQuery(s.metrics, "delete_evaluation", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM evaluations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete evaluation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEvaluationFeedback persists reviewer changes to status and feedback fields.
func (s *PostgresStore) UpdateEvaluationFeedback(ctx context.Context, ev Evaluation) error {
	defer metrics.MeasureDBQuery(s.metrics, "update_evaluation_feedback", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE evaluations
		SET status = $1,
		    feedback_type = NULLIF($2, ''),
		    feedback_content = NULLIF($3, ''),
		    feedback_audio_url = NULLIF($4, ''),
		    completed_at = $5
		WHERE id = $6
	`, string(ev.Status), string(ev.FeedbackType), ev.FeedbackContent, ev.FeedbackAudioURL,
		nullableTime(ev.CompletedAt), ev.ID)
	if err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateQuestion inserts a new follow-up question.
func (s *PostgresStore) CreateQuestion(ctx context.Context, q EvaluationQuestion) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_question", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_questions (id, evaluation_id, user_id, question, answer, created_at, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, q.ID, q.EvaluationID, q.UserID, q.Question, q.Answer, q.CreatedAt.UTC(), nullableTime(q.AnsweredAt))
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// GetQuestion retrieves a question by id.
func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (EvaluationQuestion, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_question", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var q EvaluationQuestion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, evaluation_id, user_id, question, answer, created_at, answered_at
		FROM evaluation_questions WHERE id = $1
	`, id).Scan(&q.ID, &q.EvaluationID, &q.UserID, &q.Question, &q.Answer, &q.CreatedAt, &q.AnsweredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EvaluationQuestion{}, ErrNotFound
	}
	if err != nil {
		return EvaluationQuestion{}, fmt.Errorf("scan question: %w", err)
	}
	return q, nil
}

// CountQuestions returns how many questions exist for an evaluation.
func (s *PostgresStore) CountQuestions(ctx context.Context, evaluationID string) (int, error) {
	defer metrics.MeasureDBQuery(s.metrics, "count_questions", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluation_questions WHERE evaluation_id = $1`, evaluationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return count, nil
}

// ListQuestions returns an evaluation's questions, oldest first.
func (s *PostgresStore) ListQuestions(ctx context.Context, evaluationID string) ([]EvaluationQuestion, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_questions", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, evaluation_id, user_id, question, answer, created_at, answered_at
		FROM evaluation_questions WHERE evaluation_id = $1 ORDER BY created_at
	`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return collectQuestions(rows)
}

// ListUnansweredQuestions returns all pending questions, oldest first (admin queue).
func (s *PostgresStore) ListUnansweredQuestions(ctx context.Context) ([]EvaluationQuestion, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_unanswered_questions", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, evaluation_id, user_id, question, answer, created_at, answered_at
		FROM evaluation_questions WHERE answer IS NULL ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list unanswered questions: %w", err)
	}
	return collectQuestions(rows)
}

// AnswerQuestion sets a question's answer exactly once; the answer IS NULL
// guard makes the set-once rule atomic.
func (s *PostgresStore) AnswerQuestion(ctx context.Context, id, answer string) error {
	defer metrics.MeasureDBQuery(s.metrics, "answer_question", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `
		UPDATE evaluation_questions
		SET answer = $1, answered_at = $2
		WHERE id = $3 AND answer IS NULL
	`, answer, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("answer question: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish missing from already answered
		var exists bool
		if checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM evaluation_questions WHERE id = $1)`, id,
		).Scan(&exists); checkErr != nil {
			return fmt.Errorf("check question exists: %w", checkErr)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrQuestionAnswered
	}
	return nil
}

// RecordTransaction appends a transaction row. The unique constraint on the
// payment reference is the idempotency guarantee: a duplicate insert reports
// ErrDuplicateTransaction instead of creating a second row.
func (s *PostgresStore) RecordTransaction(ctx context.Context, tx Transaction) error {
	defer metrics.MeasureDBQuery(s.metrics, "record_transaction", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, stripe_payment_intent_id, package_id,
			amount, currency, credits_added, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tx.ID, tx.UserID, tx.PaymentRef, tx.PackageID,
		tx.Amount, tx.Currency, tx.CreditsAdded, tx.Status, tx.CreatedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// HasTransaction checks whether a payment reference has already been processed.
func (s *PostgresStore) HasTransaction(ctx context.Context, paymentRef string) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "has_transaction", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE stripe_payment_intent_id = $1)`, paymentRef,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transaction: %w", err)
	}
	return exists, nil
}

// GetTransactionByRef retrieves a transaction by payment reference.
func (s *PostgresStore) GetTransactionByRef(ctx context.Context, paymentRef string) (Transaction, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_transaction_by_ref", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var tx Transaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, stripe_payment_intent_id, package_id, amount, currency, credits_added, status, created_at
		FROM transactions WHERE stripe_payment_intent_id = $1
	`, paymentRef).Scan(&tx.ID, &tx.UserID, &tx.PaymentRef, &tx.PackageID,
		&tx.Amount, &tx.Currency, &tx.CreditsAdded, &tx.Status, &tx.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	return tx, nil
}

// ListTransactionsByUser returns a user's transactions, newest first.
func (s *PostgresStore) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_transactions_by_user", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, stripe_payment_intent_id, package_id, amount, currency, credits_added, status, created_at
		FROM transactions WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.PaymentRef, &tx.PackageID,
			&tx.Amount, &tx.Currency, &tx.CreditsAdded, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// GetSettings returns all settings as a key -> raw JSON map.
func (s *PostgresStore) GetSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_settings", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// SetSetting upserts a single setting value.
func (s *PostgresStore) SetSetting(ctx context.Context, key string, value json.RawMessage) error {
	defer metrics.MeasureDBQuery(s.metrics, "set_setting", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, []byte(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type scanFunc func(dest ...any) error

func scanEvaluationRow(scan scanFunc) (Evaluation, error) {
	var ev Evaluation
	var mediaType, status, feedbackType string
	err := scan(&ev.ID, &ev.UserID, &ev.MediaURL, &mediaType, &ev.UserMessage, &status,
		&feedbackType, &ev.FeedbackContent, &ev.FeedbackAudioURL, &ev.CreatedAt, &ev.CompletedAt)
	if err != nil {
		return Evaluation{}, err
	}
	ev.MediaType = MediaType(mediaType)
	ev.Status = EvaluationStatus(status)
	ev.FeedbackType = FeedbackType(feedbackType)
	return ev, nil
}

func collectEvaluations(rows *sql.Rows) ([]Evaluation, error) {
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		ev, err := scanEvaluationRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func collectQuestions(rows *sql.Rows) ([]EvaluationQuestion, error) {
	defer rows.Close()

	var out []EvaluationQuestion
	for rows.Next() {
		var q EvaluationQuestion
		if err := rows.Scan(&q.ID, &q.EvaluationID, &q.UserID, &q.Question, &q.Answer,
			&q.CreatedAt, &q.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
