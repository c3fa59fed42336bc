package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// Register はパスワードユーザーを作成しトークンを発行する。
	Register(ctx context.Context, input auth.RegisterInput) (*auth.Result, error)
	// Login はメールアドレスとパスワードで認証しトークンを発行する。
	Login(ctx context.Context, input auth.LoginInput) (*auth.Result, error)
	// OAuthLogin は外部IDトークンを検証し、ユーザーを検索または作成してトークンを発行する。
	OAuthLogin(ctx context.Context, idToken string) (*auth.Result, error)
}

// AuthEventRecorder は登録・ログインの結果を記録する。
type AuthEventRecorder interface {
	RecordAuthEvent(event, outcome string)
}

// AuthHandler は登録・ログインのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	recorder AuthEventRecorder
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, recorder AuthEventRecorder) *AuthHandler {
	return &AuthHandler{
		service:  service,
		recorder: recorder,
	}
}

// registerRequest は登録リクエストのボディ。
type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// oauthLoginRequest はOAuthログインリクエストのボディ。
type oauthLoginRequest struct {
	IDToken string `json:"idToken"`
}

// authResponse は登録・ログイン成功時のレスポンス。
type authResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    userResponse `json:"user"`
}

// Register はパスワードユーザーの登録を処理する。
// POST /api/users/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	h.record("register", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		Success: true,
		Message: "User registered successfully",
		Token:   result.Token,
		User:    toUserResponse(result.User),
	})
}

// Login はパスワードログインを処理する。
// POST /api/users/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	h.record("login", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Message: "Login successful",
		Token:   result.Token,
		User:    toUserResponse(result.User),
	})
}

// OAuthLogin は外部IDトークンによるログインを処理する。
// POST /api/users/oauth-login
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req oauthLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.OAuthLogin(r.Context(), req.IDToken)
	h.record("oauth_login", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		Message: "OAuth login successful",
		Token:   result.Token,
		User:    toUserResponse(result.User),
	})
}

// record は認証イベントの結果をメトリクスに記録する。
// 内部エラーは呼び出し元の入力に起因しないため失敗として数えない。
func (h *AuthHandler) record(event string, err error) {
	if h.recorder == nil {
		return
	}
	if err == nil {
		h.recorder.RecordAuthEvent(event, metrics.OutcomeSuccess)
		return
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Kind != model.KindServerError {
		h.recorder.RecordAuthEvent(event, metrics.OutcomeFailure)
	}
}
