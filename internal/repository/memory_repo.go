package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// MemoryUserRepo はメモリ上で動作するUserRepository。
// PostgreSQLなしでサービス層とHTTP層を通しで検証するために使う。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]*model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]*model.User)}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

// FindByEmail はemailでユーザーを検索する。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.users[id]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

// Create はユーザーを作成する。emailの一意性はロック内で検査する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

// Save はユーザーを更新する。
func (r *MemoryUserRepo) Save(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, u := range r.users {
		if id != user.ID && strings.EqualFold(u.Email, user.Email) {
			return ErrDuplicateEmail
		}
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = cloneUser(user)
	return nil
}

// MemoryTaskRepo はメモリ上で動作するTaskRepository。
type MemoryTaskRepo struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
}

// NewMemoryTaskRepo はMemoryTaskRepoを生成する。
func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{tasks: make(map[string]*model.Task)}
}

func cloneTask(t *model.Task) *model.Task {
	c := *t
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}

// FindByIDAndOwner はIDと所有者でタスクを取得する。
func (r *MemoryTaskRepo) FindByIDAndOwner(_ context.Context, id, ownerID string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tasks[id]; ok && t.OwnerID == ownerID {
		return cloneTask(t), nil
	}
	return nil, nil
}

// List はフィルタに一致するタスクを created_at DESC, id DESC の順で返す。
func (r *MemoryTaskRepo) List(_ context.Context, filter model.TaskFilter) ([]*model.Task, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*model.Task
	for _, t := range r.tasks {
		if t.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			continue
		}
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	page := []*model.Task{}
	if filter.Offset < 0 {
		return page, total, nil
	}
	for i := filter.Offset; i < total && len(page) < filter.Limit; i++ {
		page = append(page, cloneTask(matched[i]))
	}
	return page, total, nil
}

// Create はタスクを作成する。
func (r *MemoryTaskRepo) Create(_ context.Context, task *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[task.ID] = cloneTask(task)
	return nil
}

// Update はタスクを更新する。所有者が一致しない場合はfalseを返す。
func (r *MemoryTaskRepo) Update(_ context.Context, task *model.Task) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tasks[task.ID]
	if !ok || existing.OwnerID != task.OwnerID {
		return false, nil
	}
	r.tasks[task.ID] = cloneTask(task)
	return true, nil
}

// DeleteByIDAndOwner はタスクを削除する。
func (r *MemoryTaskRepo) DeleteByIDAndOwner(_ context.Context, id, ownerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.tasks[id]
	if !ok || existing.OwnerID != ownerID {
		return false, nil
	}
	delete(r.tasks, id)
	return true, nil
}

// Stats は所有者のタスク集計を返す。
func (r *MemoryTaskRepo) Stats(_ context.Context, ownerID string, now time.Time) (*model.TaskStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &model.TaskStats{}
	for _, t := range r.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		stats.Total++
		switch t.Status {
		case model.TaskStatusPending:
			stats.Pending++
		case model.TaskStatusInProgress:
			stats.InProgress++
		case model.TaskStatusCompleted:
			stats.Completed++
		}
		if t.IsOverdue(now) {
			stats.Overdue++
		}
	}
	return stats, nil
}

// compile-time interface checks
var _ UserRepository = (*MemoryUserRepo)(nil)
var _ TaskRepository = (*MemoryTaskRepo)(nil)
