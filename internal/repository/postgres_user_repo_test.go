package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/lib/pq"
)

func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestIsEmailConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"一般エラー", errors.New("boom"), false},
		{"email一意制約違反", &pq.Error{Code: "23505", Constraint: "users_email_key"}, true},
		{"ラップされた一意制約違反", fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "users_email_key"}), true},
		{"別の一意制約", &pq.Error{Code: "23505", Constraint: "users_pkey"}, false},
		{"外部キー違反", &pq.Error{Code: "23503", Constraint: "users_email_key"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEmailConflict(tt.err); got != tt.want {
				t.Errorf("isEmailConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

// UUID以外のIDはクエリを発行せずに未検出として扱う。dbがnilでもpanicしない。
func TestPostgresUserRepo_FindByID_NonUUID_ReturnsNil(t *testing.T) {
	repo := NewPostgresUserRepo(nil)

	user, err := repo.FindByID(context.Background(), "not-a-uuid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
}

func TestPostgresUserRepo_Integration(t *testing.T) {
	db := openTestDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	email := fmt.Sprintf("repo-%s@example.com", uuid.NewString())
	user := &model.User{
		ID:           uuid.NewString(),
		Name:         "Repo User",
		Email:        email,
		PasswordHash: "$2a$10$hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	found, err := repo.FindByEmail(ctx, email)
	if err != nil || found == nil {
		t.Fatalf("FindByEmail() = %v, %v", found, err)
	}
	if found.ID != user.ID || found.Name != "Repo User" || found.PasswordHash != "$2a$10$hash" {
		t.Errorf("FindByEmail() returned %+v", found)
	}

	dup := *user
	dup.ID = uuid.NewString()
	if err := repo.Create(ctx, &dup); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("Create() duplicate error = %v, want ErrDuplicateEmail", err)
	}

	found.ProfilePicture = "https://example.com/p.png"
	before := found.UpdatedAt
	if err := repo.Save(ctx, found); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !found.UpdatedAt.After(before) {
		t.Errorf("UpdatedAt should advance: before=%v after=%v", before, found.UpdatedAt)
	}

	byID, err := repo.FindByID(ctx, user.ID)
	if err != nil || byID == nil {
		t.Fatalf("FindByID() = %v, %v", byID, err)
	}
	if byID.ProfilePicture != "https://example.com/p.png" {
		t.Errorf("ProfilePicture = %q", byID.ProfilePicture)
	}

	missing, err := repo.FindByEmail(ctx, "missing-"+email)
	if err != nil || missing != nil {
		t.Errorf("FindByEmail(missing) = %v, %v; want nil, nil", missing, err)
	}
}
