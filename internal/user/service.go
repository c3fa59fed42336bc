// Package user はユーザープロフィールのドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
)

const maxNameLength = 100

const maxPictureURLLength = 500

// ProfileInput はプロフィール更新の入力。nilのフィールドは変更しない。
type ProfileInput struct {
	Name           *string
	ProfilePicture *string
}

// Service はユーザープロフィールのサービス層。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer security.TextSanitizer
	urlGuard  security.URLGuard
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sanitizer security.TextSanitizer,
	urlGuard security.URLGuard,
) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
	}
}

// GetProfile は指定ユーザーのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile は名前とプロフィール画像を更新する。
// プロフィール画像は空文字列で削除でき、それ以外は公開ホストのhttp(s) URLのみ受け付ける。
func (s *Service) UpdateProfile(ctx context.Context, userID string, input ProfileInput) (*model.User, error) {
	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := s.sanitizer.Sanitize(*input.Name)
		if name == "" {
			return nil, model.NewValidationError("Name is required")
		}
		if utf8.RuneCountInString(name) > maxNameLength {
			return nil, model.NewValidationError("Name must be at most 100 characters")
		}
		user.Name = name
	}

	if input.ProfilePicture != nil {
		picture := strings.TrimSpace(*input.ProfilePicture)
		if picture != "" {
			if len(picture) > maxPictureURLLength {
				return nil, model.NewValidationError("Profile picture URL is too long")
			}
			if err := s.urlGuard.ValidateURL(picture); err != nil {
				slog.Warn("profile picture rejected",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				return nil, model.NewValidationError("Invalid profile picture URL")
			}
		}
		user.ProfilePicture = picture
	}

	if err := s.userRepo.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("ユーザーの保存に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました", slog.String("user_id", userID))
	return user, nil
}
