// Package auth はセッショントークンの発行・検証と、登録・ログイン・OAuthログインのフローを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
	"github.com/hitoshi/taskman/internal/validate"
)

// bcryptは72バイトを超える入力を扱えない。
const maxPasswordBytes = 72

const maxNameLength = 100

// TokenIssuer はセッショントークンを発行する。
type TokenIssuer interface {
	Issue(user *model.User) (string, time.Time, error)
}

// Result は認証成功時に呼び出し元へ返す内容。
type Result struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// RegisterInput は登録リクエストの入力。
type RegisterInput struct {
	Name     string `validate:"required,max=100"`
	Email    string `validate:"required,email,max=255"`
	Password string `validate:"required,min=6"`
}

var registerMessages = validate.Messages{
	"required":     "All fields are required",
	"Password.min": "Password must be at least 6 characters",
	"Email.email":  "Invalid email format",
	"Email.max":    "Email must be at most 255 characters",
	"Name.max":     "Name must be at most 100 characters",
}

// LoginInput はログインリクエストの入力。
type LoginInput struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

var loginMessages = validate.Messages{
	"required": "Email and password are required",
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo  repository.UserRepository
	tokens    TokenIssuer
	hasher    PasswordHasher
	oauth     OAuthVerifier
	sanitizer security.TextSanitizer
	validator *validate.Validator
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
// oauthがnilの場合、OAuthログインは設定エラーとして失敗する。
func NewService(
	userRepo repository.UserRepository,
	tokens TokenIssuer,
	hasher PasswordHasher,
	oauth OAuthVerifier,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		userRepo:  userRepo,
		tokens:    tokens,
		hasher:    hasher,
		oauth:     oauth,
		sanitizer: sanitizer,
		validator: validate.New(),
		now:       time.Now,
	}
}

// NormalizeEmail はemailの前後空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register はパスワードユーザーを登録し、トークンを発行する。
// emailの重複は事前に確認せず、ストアの一意制約違反をDuplicateEmailとして返す。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Result, error) {
	input.Name = s.sanitizer.Sanitize(input.Name)
	input.Email = NormalizeEmail(input.Email)

	msg, err := s.validator.Struct(input, registerMessages, "Invalid input")
	if err != nil {
		return nil, fmt.Errorf("failed to validate register input: %w", err)
	}
	if msg != "" {
		return nil, model.NewValidationError(msg)
	}
	if len(input.Password) > maxPasswordBytes {
		return nil, model.NewValidationError("Password must be at most 72 bytes")
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return s.issue(user)
}

// Login はemailとパスワードで認証し、トークンを発行する。
// ユーザー不在とパスワード不一致は同じエラーを返し、応答時間も揃える。
func (s *Service) Login(ctx context.Context, input LoginInput) (*Result, error) {
	input.Email = NormalizeEmail(input.Email)

	msg, err := s.validator.Struct(input, loginMessages, "Email and password are required")
	if err != nil {
		return nil, fmt.Errorf("failed to validate login input: %w", err)
	}
	if msg != "" {
		return nil, model.NewValidationError(msg)
	}

	user, err := s.userRepo.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil || !user.HasPassword() {
		s.hasher.Compare(s.timingHash(), input.Password)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Compare(user.PasswordHash, input.Password) {
		return nil, model.NewInvalidCredentialsError()
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return s.issue(user)
}

// OAuthLogin はサードパーティのIDトークンを検証し、emailでユーザーを検索または作成してトークンを発行する。
func (s *Service) OAuthLogin(ctx context.Context, idToken string) (*Result, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return nil, model.NewValidationError("ID token is required")
	}
	if s.oauth == nil {
		slog.Warn("oauth login attempted while oauth is disabled")
		return nil, model.NewInvalidTokenError("Invalid ID token")
	}

	claims, err := s.oauth.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, ErrInvalidIDToken) {
			slog.Warn("oauth id token rejected", slog.String("error", err.Error()))
			return nil, model.NewInvalidTokenError("Invalid ID token")
		}
		return nil, fmt.Errorf("failed to verify id token: %w", err)
	}

	email := NormalizeEmail(claims.Email)
	if email == "" {
		return nil, model.NewMissingEmailError()
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		user, err = s.createOAuthUser(ctx, email, claims)
		if err != nil {
			return nil, err
		}
		return s.issue(user)
	}

	if err := s.linkOAuthUser(ctx, user, claims); err != nil {
		return nil, err
	}
	return s.issue(user)
}

// createOAuthUser はOAuthクレームから新規ユーザーを作成する。
// 並行リクエストにより作成が重複した場合は既存ユーザーへの紐付けにフォールバックする。
func (s *Service) createOAuthUser(ctx context.Context, email string, claims *OAuthClaims) (*model.User, error) {
	now := s.now().UTC()
	user := &model.User{
		ID:             uuid.New().String(),
		Name:           s.displayName(claims.Name, email),
		Email:          email,
		OAuthSubjectID: claims.Subject,
		IsOAuthUser:    true,
		ProfilePicture: claims.Picture,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.userRepo.Create(ctx, user)
	if err == nil {
		slog.Info("oauth user created", slog.String("user_id", user.ID))
		return user, nil
	}
	if !errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, fmt.Errorf("failed to create oauth user: %w", err)
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("user disappeared after duplicate email conflict")
	}
	if err := s.linkOAuthUser(ctx, existing, claims); err != nil {
		return nil, err
	}
	return existing, nil
}

// linkOAuthUser は既存ユーザーにOAuth属性を反映して保存する。
func (s *Service) linkOAuthUser(ctx context.Context, user *model.User, claims *OAuthClaims) error {
	user.OAuthSubjectID = claims.Subject
	user.IsOAuthUser = true
	if claims.Picture != "" {
		user.ProfilePicture = claims.Picture
	}

	if err := s.userRepo.Save(ctx, user); err != nil {
		return fmt.Errorf("failed to save oauth user: %w", err)
	}

	slog.Info("oauth user linked", slog.String("user_id", user.ID))
	return nil
}

// displayName はOAuthクレームの名前を表示名に整える。空の場合はemailのローカル部を使う。
func (s *Service) displayName(name, email string) string {
	name = s.sanitizer.Sanitize(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}

// issue はユーザーのトークンを発行する。
func (s *Service) issue(user *model.User) (*Result, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &Result{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// timingHash はユーザー不在時の照合に使うハッシュを返す。初回呼び出し時に1度だけ生成する。
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("taskman-timing-equalizer")
		if err != nil {
			slog.Error("failed to prepare timing hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
