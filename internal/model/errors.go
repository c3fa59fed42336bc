package model

import "fmt"

// ErrorKind は呼び出し元に返すエラー種別。
// この列挙は閉じており、HTTPステータスへの対応付けは middleware.StatusForKind で網羅的に行う。
type ErrorKind int

const (
	KindServerError ErrorKind = iota
	KindValidationFailed
	KindInvalidJSON
	KindInvalidDateFormat
	KindDuplicateEmail
	KindInvalidCredentials
	KindUnauthenticated
	KindInvalidToken
	KindTokenExpired
	KindIdentityNotFound
	KindMissingEmail
	KindNotFound
	KindRateLimited
)

// String はログ出力用の種別名を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindServerError:
		return "server_error"
	case KindValidationFailed:
		return "validation_failed"
	case KindInvalidJSON:
		return "invalid_json"
	case KindInvalidDateFormat:
		return "invalid_date_format"
	case KindDuplicateEmail:
		return "duplicate_email"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidToken:
		return "invalid_token"
	case KindTokenExpired:
		return "token_expired"
	case KindIdentityNotFound:
		return "identity_not_found"
	case KindMissingEmail:
		return "missing_email"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// APIError は呼び出し元に返してよいエラーを表す。
// Messageはそのままレスポンスボディに載るため、内部情報を含めてはならない。
type APIError struct {
	Kind    ErrorKind
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// NewValidationError はバリデーションエラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{Kind: KindValidationFailed, Message: message}
}

// NewInvalidJSONError はリクエストボディのJSON解析失敗エラーを生成する。
func NewInvalidJSONError() *APIError {
	return &APIError{Kind: KindInvalidJSON, Message: "Invalid JSON"}
}

// NewInvalidDateFormatError は日付形式エラーを生成する。
func NewInvalidDateFormatError() *APIError {
	return &APIError{Kind: KindInvalidDateFormat, Message: "Invalid date format"}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{Kind: KindDuplicateEmail, Message: "Email already exists"}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// ユーザー不在とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{Kind: KindInvalidCredentials, Message: "Invalid credentials"}
}

// NewUnauthenticatedError はトークン未提示エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{Kind: KindUnauthenticated, Message: "No token provided"}
}

// NewInvalidTokenError はトークン不正エラーを生成する。
func NewInvalidTokenError(message string) *APIError {
	if message == "" {
		message = "Invalid token"
	}
	return &APIError{Kind: KindInvalidToken, Message: message}
}

// NewTokenExpiredError はトークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{Kind: KindTokenExpired, Message: "Token expired"}
}

// NewIdentityNotFoundError はトークンの主体が存在しない場合のエラーを生成する。
// 呼び出し元には不正トークンと同じメッセージを返す。
func NewIdentityNotFoundError() *APIError {
	return &APIError{Kind: KindIdentityNotFound, Message: "Invalid token"}
}

// NewMissingEmailError はOAuthクレームにemailが含まれない場合のエラーを生成する。
func NewMissingEmailError() *APIError {
	return &APIError{Kind: KindMissingEmail, Message: "Email not provided by OAuth provider"}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
// 他ユーザーのタスクも同じエラーになる。
func NewTaskNotFoundError() *APIError {
	return &APIError{Kind: KindNotFound, Message: "Task not found"}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{Kind: KindNotFound, Message: "User not found"}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{Kind: KindRateLimited, Message: "Too many requests. Please try again later."}
}

// NewServerError は内部エラーを生成する。詳細はログのみに残す。
func NewServerError() *APIError {
	return &APIError{Kind: KindServerError, Message: "Server error"}
}
