// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// ErrDuplicateEmail はemailの一意制約違反を表す。
// 事前チェックなしに作成し、ストアの制約違反をこのエラーに変換して返す。
var ErrDuplicateEmail = errors.New("email already exists")

// UserRepository はユーザー（Credential Store）の永続化インターフェース。
type UserRepository interface {
	// FindByEmail はemailでユーザーを検索する。見つからない場合はnilを返す。
	// emailは正規化済み（小文字・前後空白なし）で渡すこと。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。emailが既に存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// Save はユーザーを更新する。updated_atは保存時に再計算される。
	Save(ctx context.Context, user *model.User) error
}

// TaskRepository はタスクの永続化インターフェース。
// すべての操作は所有者IDでスコープされ、他ユーザーのタスクは存在しないものとして扱う。
type TaskRepository interface {
	// FindByIDAndOwner はIDと所有者でタスクを取得する。見つからない場合はnilを返す。
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Task, error)

	// List はフィルタに一致するタスクを created_at DESC, id DESC の順で返す。
	// totalはページングを適用する前の件数。
	List(ctx context.Context, filter model.TaskFilter) ([]*model.Task, int, error)

	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// Update はタスクを更新する。該当行がない場合はfalseを返す。
	Update(ctx context.Context, task *model.Task) (bool, error)

	// DeleteByIDAndOwner はタスクを削除する。該当行がない場合はfalseを返す。
	DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error)

	// Stats は所有者のタスク集計を返す。nowより前の期限で未完了のものをoverdueとして数える。
	Stats(ctx context.Context, ownerID string, now time.Time) (*model.TaskStats, error)
}
