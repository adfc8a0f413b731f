package errors

// ErrorCode represents a machine-readable error identifier for frontend error handling.
type ErrorCode string

// Validation errors (request input validation)
const (
	ErrCodeMissingField     ErrorCode = "missing_field"
	ErrCodeInvalidField     ErrorCode = "invalid_field"
	ErrCodeInvalidMediaType ErrorCode = "invalid_media_type"
	ErrCodeMediaTooLarge    ErrorCode = "media_too_large"
	ErrCodeInvalidCurrency  ErrorCode = "invalid_currency"
)

// Authentication/authorization errors
const (
	ErrCodeUnauthorized       ErrorCode = "unauthorized"
	ErrCodeForbidden          ErrorCode = "forbidden"
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	ErrCodeEmailTaken         ErrorCode = "email_taken"
)

// Credit ledger errors
const (
	ErrCodeInsufficientCredits ErrorCode = "insufficient_credits"
	ErrCodeAccountNotFound     ErrorCode = "account_not_found"
)

// Resource/state errors
const (
	ErrCodeEvaluationNotFound ErrorCode = "evaluation_not_found"
	ErrCodeQuestionNotFound   ErrorCode = "question_not_found"
	ErrCodePackageNotFound    ErrorCode = "package_not_found"
	ErrCodeSessionNotFound    ErrorCode = "session_not_found"

	ErrCodeQuestionLimitReached ErrorCode = "question_limit_reached"
	ErrCodeQuestionAnswered     ErrorCode = "question_already_answered"
	ErrCodeStatusRegression     ErrorCode = "status_regression"
	ErrCodeFeedbackNotCompleted ErrorCode = "feedback_requires_completed"
)

// Payment errors
const (
	ErrCodePricingNotConfigured ErrorCode = "pricing_not_configured"
	ErrCodeInvalidSignature     ErrorCode = "invalid_signature"
	ErrCodeMissingMetadata      ErrorCode = "missing_metadata"
)

// External service errors (Stripe, storage, etc.)
const (
	ErrCodeStripeError  ErrorCode = "stripe_error"
	ErrCodeNetworkError ErrorCode = "network_error"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are typically transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeStripeError,
		ErrCodeNetworkError,
		ErrCodeDatabaseError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - client validation errors
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidMediaType,
		ErrCodeMediaTooLarge,
		ErrCodeInvalidCurrency,
		ErrCodeInvalidSignature,
		ErrCodeMissingMetadata,
		ErrCodePricingNotConfigured,
		ErrCodeQuestionAnswered,
		ErrCodeStatusRegression,
		ErrCodeFeedbackNotCompleted:
		return 400

	// 401 Unauthorized - missing or invalid session
	case ErrCodeUnauthorized,
		ErrCodeInvalidCredentials:
		return 401

	// 402 Payment Required - credit shortfall
	case ErrCodeInsufficientCredits:
		return 402

	// 403 Forbidden - authenticated but not allowed
	case ErrCodeForbidden:
		return 403

	// 404 Not Found
	case ErrCodeEvaluationNotFound,
		ErrCodeQuestionNotFound,
		ErrCodePackageNotFound,
		ErrCodeSessionNotFound,
		ErrCodeAccountNotFound:
		return 404

	// 409 Conflict - business rule conflicts
	case ErrCodeEmailTaken,
		ErrCodeQuestionLimitReached:
		return 409

	// 502 Bad Gateway - external service errors
	case ErrCodeStripeError,
		ErrCodeNetworkError:
		return 502

	// 500 Internal Server Error
	default:
		return 500
	}
}
