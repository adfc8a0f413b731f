package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sketchsage/server/internal/metrics"
)

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client       *mongo.Client
	accounts     *mongo.Collection
	evaluations  *mongo.Collection
	questions    *mongo.Collection
	transactions *mongo.Collection
	settings     *mongo.Collection
	metrics      *metrics.Metrics
}

// NewMongoDBStore creates a new MongoDB-backed store.
func NewMongoDBStore(connectionString, database string, m *metrics.Metrics) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	store := &MongoDBStore{
		client:       client,
		accounts:     db.Collection("users_profile"),
		evaluations:  db.Collection("evaluations"),
		questions:    db.Collection("evaluation_questions"),
		transactions: db.Collection("transactions"),
		settings:     db.Collection("system_settings"),
		metrics:      m,
	}

	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *MongoDBStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if _, err := s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("create email index: %w", err)
	}

	if _, err := s.transactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "payment_ref", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("create payment_ref index: %w", err)
	}

	if _, err := s.evaluations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create evaluations index: %w", err)
	}

	if _, err := s.questions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "evaluation_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create questions index: %w", err)
	}

	return nil
}

// Close disconnects the MongoDB client.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type mongoAccount struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	FullName     string    `bson:"full_name"`
	PasswordHash string    `bson:"password_hash"`
	Credits      int       `bson:"credits"`
	IsAdmin      bool      `bson:"is_admin"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type mongoEvaluation struct {
	ID               string     `bson:"_id"`
	UserID           string     `bson:"user_id"`
	MediaURL         string     `bson:"media_url"`
	MediaType        string     `bson:"media_type"`
	UserMessage      string     `bson:"user_message"`
	Status           string     `bson:"status"`
	FeedbackType     string     `bson:"feedback_type,omitempty"`
	FeedbackContent  string     `bson:"feedback_content,omitempty"`
	FeedbackAudioURL string     `bson:"feedback_audio_url,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
	CompletedAt      *time.Time `bson:"completed_at,omitempty"`
}

type mongoQuestion struct {
	ID           string     `bson:"_id"`
	EvaluationID string     `bson:"evaluation_id"`
	UserID       string     `bson:"user_id"`
	Question     string     `bson:"question"`
	Answer       *string    `bson:"answer,omitempty"`
	CreatedAt    time.Time  `bson:"created_at"`
	AnsweredAt   *time.Time `bson:"answered_at,omitempty"`
}

type mongoTransaction struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	PaymentRef   string    `bson:"payment_ref"`
	PackageID    string    `bson:"package_id"`
	Amount       int64     `bson:"amount"`
	Currency     string    `bson:"currency"`
	CreditsAdded int       `bson:"credits_added"`
	Status       string    `bson:"status"`
	CreatedAt    time.Time `bson:"created_at"`
}

func toMongoAccount(a Account) mongoAccount {
	return mongoAccount{
		ID:           a.ID,
		Email:        strings.ToLower(a.Email),
		FullName:     a.FullName,
		PasswordHash: a.PasswordHash,
		Credits:      a.Credits,
		IsAdmin:      a.IsAdmin,
		CreatedAt:    a.CreatedAt.UTC(),
		UpdatedAt:    a.UpdatedAt.UTC(),
	}
}

func (m mongoAccount) toAccount() Account {
	return Account{
		ID:           m.ID,
		Email:        m.Email,
		FullName:     m.FullName,
		PasswordHash: m.PasswordHash,
		Credits:      m.Credits,
		IsAdmin:      m.IsAdmin,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toMongoEvaluation(e Evaluation) mongoEvaluation {
	return mongoEvaluation{
		ID:               e.ID,
		UserID:           e.UserID,
		MediaURL:         e.MediaURL,
		MediaType:        string(e.MediaType),
		UserMessage:      e.UserMessage,
		Status:           string(e.Status),
		FeedbackType:     string(e.FeedbackType),
		FeedbackContent:  e.FeedbackContent,
		FeedbackAudioURL: e.FeedbackAudioURL,
		CreatedAt:        e.CreatedAt.UTC(),
		CompletedAt:      e.CompletedAt,
	}
}

func (m mongoEvaluation) toEvaluation() Evaluation {
	return Evaluation{
		ID:               m.ID,
		UserID:           m.UserID,
		MediaURL:         m.MediaURL,
		MediaType:        MediaType(m.MediaType),
		UserMessage:      m.UserMessage,
		Status:           EvaluationStatus(m.Status),
		FeedbackType:     FeedbackType(m.FeedbackType),
		FeedbackContent:  m.FeedbackContent,
		FeedbackAudioURL: m.FeedbackAudioURL,
		CreatedAt:        m.CreatedAt,
		CompletedAt:      m.CompletedAt,
	}
}

// CreateAccount inserts a new account document.
func (s *MongoDBStore) CreateAccount(ctx context.Context, account Account) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_account", "mongodb")()

	_, err := s.accounts.InsertOne(ctx, toMongoAccount(account))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by id.
func (s *MongoDBStore) GetAccount(ctx context.Context, id string) (Account, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_account", "mongodb")()

	var m mongoAccount
	err := s.accounts.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("find account: %w", err)
	}
	return m.toAccount(), nil
}

// GetAccountByEmail retrieves an account by email (case-insensitive).
func (s *MongoDBStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_account_by_email", "mongodb")()

	var m mongoAccount
	err := s.accounts.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("find account: %w", err)
	}
	return m.toAccount(), nil
}

// AdjustCredits applies a signed delta atomically via FindOneAndUpdate.
// For debits the filter requires sufficient balance, so a matching document
// both passes the check and receives the $inc in one server-side operation.
func (s *MongoDBStore) AdjustCredits(ctx context.Context, accountID string, delta int) (int, error) {
	defer metrics.MeasureDBQuery(s.metrics, "adjust_credits", "mongodb")()

	filter := bson.M{"_id": accountID}
	if delta < 0 {
		filter["credits"] = bson.M{"$gte": -delta}
	}

	var updated mongoAccount
	err := s.accounts.FindOneAndUpdate(ctx,
		filter,
		bson.M{
			"$inc": bson.M{"credits": delta},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Missing account or insufficient balance; a second lookup tells them apart.
		count, countErr := s.accounts.CountDocuments(ctx, bson.M{"_id": accountID})
		if countErr != nil {
			return 0, fmt.Errorf("check account exists: %w", countErr)
		}
		if count == 0 {
			return 0, ErrAccountNotFound
		}
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("adjust credits: %w", err)
	}
	return updated.Credits, nil
}

// CreateEvaluation inserts a new evaluation document.
func (s *MongoDBStore) CreateEvaluation(ctx context.Context, ev Evaluation) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_evaluation", "mongodb")()

	if _, err := s.evaluations.InsertOne(ctx, toMongoEvaluation(ev)); err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// GetEvaluation retrieves an evaluation by id.
func (s *MongoDBStore) GetEvaluation(ctx context.Context, id string) (Evaluation, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_evaluation", "mongodb")()

	var m mongoEvaluation
	err := s.evaluations.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Evaluation{}, ErrNotFound
	}
	if err != nil {
		return Evaluation{}, fmt.Errorf("find evaluation: %w", err)
	}
	return m.toEvaluation(), nil
}

// ListEvaluationsByUser returns a user's evaluations, newest first.
func (s *MongoDBStore) ListEvaluationsByUser(ctx context.Context, userID string) ([]Evaluation, error) {
	return s.findEvaluations(ctx, bson.M{"user_id": userID})
}

// ListEvaluations returns all evaluations, newest first (admin view).
func (s *MongoDBStore) ListEvaluations(ctx context.Context) ([]Evaluation, error) {
	return s.findEvaluations(ctx, bson.M{})
}

func (s *MongoDBStore) findEvaluations(ctx context.Context, filter bson.M) ([]Evaluation, error) {
	defer metrics.MeasureDBQuery(s.metrics, "find_evaluations", "mongodb")()

	cursor, err := s.evaluations.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Evaluation
	for cursor.Next(ctx) {
		var m mongoEvaluation
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode evaluation: %w", err)
		}
		out = append(out, m.toEvaluation())
	}
	return out, cursor.Err()
}

// DeleteEvaluation removes an evaluation (submission compensation only).
func (s *MongoDBStore) DeleteEvaluation(ctx context.Context, id string) error {
	defer metrics.MeasureDBQuery(s.metrics, "delete_evaluation", "mongodb")()

	result, err := s.evaluations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete evaluation: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEvaluationFeedback persists reviewer changes to status and feedback fields.
func (s *MongoDBStore) UpdateEvaluationFeedback(ctx context.Context, ev Evaluation) error {
	defer metrics.MeasureDBQuery(s.metrics, "update_evaluation_feedback", "mongodb")()

	update := bson.M{
		"status":             string(ev.Status),
		"feedback_type":      string(ev.FeedbackType),
		"feedback_content":   ev.FeedbackContent,
		"feedback_audio_url": ev.FeedbackAudioURL,
		"completed_at":       ev.CompletedAt,
	}
	result, err := s.evaluations.UpdateOne(ctx, bson.M{"_id": ev.ID}, bson.M{"$set": update})
	if err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateQuestion inserts a new follow-up question.
func (s *MongoDBStore) CreateQuestion(ctx context.Context, q EvaluationQuestion) error {
	defer metrics.MeasureDBQuery(s.metrics, "create_question", "mongodb")()

	doc := mongoQuestion{
		ID:           q.ID,
		EvaluationID: q.EvaluationID,
		UserID:       q.UserID,
		Question:     q.Question,
		Answer:       q.Answer,
		CreatedAt:    q.CreatedAt.UTC(),
		AnsweredAt:   q.AnsweredAt,
	}
	if _, err := s.questions.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

// GetQuestion retrieves a question by id.
func (s *MongoDBStore) GetQuestion(ctx context.Context, id string) (EvaluationQuestion, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_question", "mongodb")()

	var m mongoQuestion
	err := s.questions.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return EvaluationQuestion{}, ErrNotFound
	}
	if err != nil {
		return EvaluationQuestion{}, fmt.Errorf("find question: %w", err)
	}
	return m.toQuestion(), nil
}

func (m mongoQuestion) toQuestion() EvaluationQuestion {
	return EvaluationQuestion{
		ID:           m.ID,
		EvaluationID: m.EvaluationID,
		UserID:       m.UserID,
		Question:     m.Question,
		Answer:       m.Answer,
		CreatedAt:    m.CreatedAt,
		AnsweredAt:   m.AnsweredAt,
	}
}

// CountQuestions returns how many questions exist for an evaluation.
func (s *MongoDBStore) CountQuestions(ctx context.Context, evaluationID string) (int, error) {
	defer metrics.MeasureDBQuery(s.metrics, "count_questions", "mongodb")()

	count, err := s.questions.CountDocuments(ctx, bson.M{"evaluation_id": evaluationID})
	if err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return int(count), nil
}

// ListQuestions returns an evaluation's questions, oldest first.
func (s *MongoDBStore) ListQuestions(ctx context.Context, evaluationID string) ([]EvaluationQuestion, error) {
	return s.findQuestions(ctx, bson.M{"evaluation_id": evaluationID})
}

// ListUnansweredQuestions returns all pending questions, oldest first (admin queue).
func (s *MongoDBStore) ListUnansweredQuestions(ctx context.Context) ([]EvaluationQuestion, error) {
	return s.findQuestions(ctx, bson.M{"answer": nil})
}

func (s *MongoDBStore) findQuestions(ctx context.Context, filter bson.M) ([]EvaluationQuestion, error) {
	defer metrics.MeasureDBQuery(s.metrics, "find_questions", "mongodb")()

	cursor, err := s.questions.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []EvaluationQuestion
	for cursor.Next(ctx) {
		var m mongoQuestion
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode question: %w", err)
		}
		out = append(out, m.toQuestion())
	}
	return out, cursor.Err()
}

// AnswerQuestion sets a question's answer exactly once.
func (s *MongoDBStore) AnswerQuestion(ctx context.Context, id, answer string) error {
	defer metrics.MeasureDBQuery(s.metrics, "answer_question", "mongodb")()

	result, err := s.questions.UpdateOne(ctx,
		bson.M{"_id": id, "answer": nil},
		bson.M{"$set": bson.M{"answer": answer, "answered_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("answer question: %w", err)
	}
	if result.MatchedCount == 0 {
		count, countErr := s.questions.CountDocuments(ctx, bson.M{"_id": id})
		if countErr != nil {
			return fmt.Errorf("check question exists: %w", countErr)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrQuestionAnswered
	}
	return nil
}

// RecordTransaction appends a transaction document. The unique index on the
// payment reference turns a replayed insert into ErrDuplicateTransaction.
func (s *MongoDBStore) RecordTransaction(ctx context.Context, tx Transaction) error {
	defer metrics.MeasureDBQuery(s.metrics, "record_transaction", "mongodb")()

	doc := mongoTransaction{
		ID:           tx.ID,
		UserID:       tx.UserID,
		PaymentRef:   tx.PaymentRef,
		PackageID:    tx.PackageID,
		Amount:       tx.Amount,
		Currency:     tx.Currency,
		CreditsAdded: tx.CreditsAdded,
		Status:       tx.Status,
		CreatedAt:    tx.CreatedAt.UTC(),
	}
	_, err := s.transactions.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateTransaction
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// HasTransaction checks whether a payment reference has already been processed.
func (s *MongoDBStore) HasTransaction(ctx context.Context, paymentRef string) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "has_transaction", "mongodb")()

	count, err := s.transactions.CountDocuments(ctx, bson.M{"payment_ref": paymentRef})
	if err != nil {
		return false, fmt.Errorf("check transaction: %w", err)
	}
	return count > 0, nil
}

// GetTransactionByRef retrieves a transaction by payment reference.
func (s *MongoDBStore) GetTransactionByRef(ctx context.Context, paymentRef string) (Transaction, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_transaction_by_ref", "mongodb")()

	var m mongoTransaction
	err := s.transactions.FindOne(ctx, bson.M{"payment_ref": paymentRef}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("find transaction: %w", err)
	}
	return m.toTransaction(), nil
}

func (m mongoTransaction) toTransaction() Transaction {
	return Transaction{
		ID:           m.ID,
		UserID:       m.UserID,
		PaymentRef:   m.PaymentRef,
		PackageID:    m.PackageID,
		Amount:       m.Amount,
		Currency:     m.Currency,
		CreditsAdded: m.CreditsAdded,
		Status:       m.Status,
		CreatedAt:    m.CreatedAt,
	}
}

// ListTransactionsByUser returns a user's transactions, newest first.
func (s *MongoDBStore) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	defer metrics.MeasureDBQuery(s.metrics, "list_transactions_by_user", "mongodb")()

	cursor, err := s.transactions.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Transaction
	for cursor.Next(ctx) {
		var m mongoTransaction
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		out = append(out, m.toTransaction())
	}
	return out, cursor.Err()
}

type mongoSetting struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// GetSettings returns all settings as a key -> raw JSON map.
func (s *MongoDBStore) GetSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_settings", "mongodb")()

	cursor, err := s.settings.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer cursor.Close(ctx)

	out := make(map[string]json.RawMessage)
	for cursor.Next(ctx) {
		var m mongoSetting
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("decode setting: %w", err)
		}
		out[m.Key] = json.RawMessage(m.Value)
	}
	return out, cursor.Err()
}

// SetSetting upserts a single setting value.
func (s *MongoDBStore) SetSetting(ctx context.Context, key string, value json.RawMessage) error {
	defer metrics.MeasureDBQuery(s.metrics, "set_setting", "mongodb")()

	_, err := s.settings.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": []byte(value), "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}
