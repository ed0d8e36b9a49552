package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden           ErrCode = "FORBIDDEN"
	ErrCandidateAccessOnly ErrCode = "CANDIDATE_ACCESS_ONLY"
	ErrAdminAccessOnly     ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"
	ErrInvalidID  ErrCode = "INVALID_ID"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam session lifecycle ────────────────────────────────────────
	ErrAlreadyCompleted ErrCode = "ALREADY_COMPLETED"
	ErrSessionExpired   ErrCode = "SESSION_EXPIRED"
	ErrSessionNotFound  ErrCode = "SESSION_NOT_FOUND"
	ErrAlreadySubmitted ErrCode = "ALREADY_SUBMITTED"
	ErrNoActiveSet      ErrCode = "NO_ACTIVE_QUESTION_SET"
	ErrInvalidSet       ErrCode = "INVALID_QUESTION_SET"
	ErrNotSubmittedYet  ErrCode = "NOT_SUBMITTED_YET"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrCandidateAccessOnly:
		return "This resource is restricted to candidates."
	case ErrAdminAccessOnly:
		return "This resource is restricted to administrators."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Exam session lifecycle ────────────────────────────────────────
	case ErrAlreadyCompleted:
		return "You have already completed the exam and cannot take it again."
	case ErrSessionExpired:
		return "Your exam session has expired. The exam was submitted automatically."
	case ErrSessionNotFound:
		return "Exam session not found."
	case ErrAlreadySubmitted:
		return "This exam has already been submitted."
	case ErrNoActiveSet:
		return "No question set is currently active. Please contact an administrator."
	case ErrInvalidSet:
		return "The active question set is invalid. Please contact an administrator."
	case ErrNotSubmittedYet:
		return "This exam has not been submitted yet."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
