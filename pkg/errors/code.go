package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Catalog errors
// 12000-12999: Security profile errors
// 13000-13999: Orchestrator & runtime errors
// 14000-14999: Session errors
// 15000-15999: Flag errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalError      ErrorCode = 10001
	InvalidParams      ErrorCode = 10002
	NotFound           ErrorCode = 10003
	Timeout            ErrorCode = 10004
	ServiceUnavailable ErrorCode = 10005

	// Configuration errors (10100-10199)
	ConfigInvalid ErrorCode = 10100
	ConfigMissing ErrorCode = 10101

	// ========== Catalog Errors (11000-11999) ==========

	SchemaError        ErrorCode = 11000
	CatalogNotFound    ErrorCode = 11001
	DuplicateChallenge ErrorCode = 11002
	ChallengeNotFound  ErrorCode = 11003
	InvalidDifficulty  ErrorCode = 11004

	// ========== Security Profile Errors (12000-12999) ==========

	SecurityViolation     ErrorCode = 12000
	CapabilityNotAllowed  ErrorCode = 12001
	ResourceCeilingExceed ErrorCode = 12002
	MountNotAllowed       ErrorCode = 12003
	ProfileNotFound       ErrorCode = 12004

	// ========== Orchestrator & Runtime Errors (13000-13999) ==========

	RuntimeError       ErrorCode = 13000
	StartupError       ErrorCode = 13001
	InstanceNotFound   ErrorCode = 13002
	ImageNotAvailable  ErrorCode = 13003
	HealthCheckTimeout ErrorCode = 13004
	RollbackFailed     ErrorCode = 13005

	// ========== Session Errors (14000-14999) ==========

	SessionNotFound ErrorCode = 14000
	SessionExpired  ErrorCode = 14001
	SessionLimit    ErrorCode = 14002
	SessionTerminal ErrorCode = 14003

	// ========== Flag Errors (15000-15999) ==========

	FlagInvalid       ErrorCode = 15000
	FlagFormatInvalid ErrorCode = 15001
	SecretMissing     ErrorCode = 15002
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:            "Success",
	InternalError:      "Internal error",
	InvalidParams:      "Invalid parameters",
	NotFound:           "Resource not found",
	Timeout:            "Operation timed out",
	ServiceUnavailable: "Service temporarily unavailable",

	// Configuration
	ConfigInvalid: "Invalid configuration",
	ConfigMissing: "Required configuration is missing",

	// Catalog
	SchemaError:        "Challenge catalog failed validation",
	CatalogNotFound:    "Challenge catalog not found",
	DuplicateChallenge: "Duplicate challenge id in catalog",
	ChallengeNotFound:  "Challenge not found",
	InvalidDifficulty:  "Invalid challenge difficulty",

	// Security
	SecurityViolation:     "Container spec violates security policy",
	CapabilityNotAllowed:  "Requested capability is not in the allowlist",
	ResourceCeilingExceed: "Requested resources exceed the enforced ceiling",
	MountNotAllowed:       "Requested mount type is not allowed",
	ProfileNotFound:       "Security profile not found",

	// Orchestrator & Runtime
	RuntimeError:       "Container runtime operation failed",
	StartupError:       "Container failed to start",
	InstanceNotFound:   "Challenge instance not found",
	ImageNotAvailable:  "Challenge image is not available",
	HealthCheckTimeout: "Container did not become healthy in time",
	RollbackFailed:     "Failed to roll back partially created container",

	// Session
	SessionNotFound: "Session not found",
	SessionExpired:  "Session has expired",
	SessionLimit:    "User has reached the maximum session limit",
	SessionTerminal: "Session is already in a terminal state",

	// Flag
	FlagInvalid:       "Flag validation failed",
	FlagFormatInvalid: "Flag format is invalid",
	SecretMissing:     "Flag secret key is not configured",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code.
// The HTTP layer lives outside this module; this mapping is the contract it
// uses to translate engine errors into responses.
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == ChallengeNotFound, c == InstanceNotFound,
		c == SessionNotFound, c == CatalogNotFound:
		return 404
	case c == SessionExpired:
		return 410
	case c >= 12000 && c < 13000: // security violations
		return 403
	case c == SessionLimit:
		return 429
	case c == InvalidParams, c == SchemaError, c == FlagFormatInvalid:
		return 400
	case c == FlagInvalid:
		return 422
	case c == Timeout, c == HealthCheckTimeout:
		return 504
	case c == ServiceUnavailable, c == RuntimeError:
		return 503
	default:
		return 500
	}
}
