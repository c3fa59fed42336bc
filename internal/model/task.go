package model

import "time"

// TaskStatus はタスクの進捗状態を表す。
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Valid は定義済みのステータスかどうかを返す。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// TaskPriority はタスクの優先度を表す。
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Valid は定義済みの優先度かどうかを返す。
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	default:
		return false
	}
}

// Task はユーザーが管理するタスクを表す。
// 所有者（OwnerID）は必ず1人で、読み書きはすべて所有者でスコープされる。
type Task struct {
	ID          string
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	DueDate     *time.Time
	CompletedAt *time.Time
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsOverdue は期限切れかつ未完了のタスクかどうかを返す。
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && t.Status != TaskStatusCompleted
}

// TaskFilter はタスク一覧取得の条件。
// StatusとPriorityは空の場合は絞り込まない。
type TaskFilter struct {
	OwnerID  string
	Status   TaskStatus
	Priority TaskPriority
	Offset   int
	Limit    int
}

// TaskStats はユーザーごとのタスク集計結果。
type TaskStats struct {
	Total      int
	Pending    int
	InProgress int
	Completed  int
	Overdue    int
}
