// Package task はタスクの検索・集計・作成・更新・削除を所有者スコープで提供する。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
	"github.com/hitoshi/taskman/internal/validate"
)

const (
	// DefaultPage はpage未指定時のページ番号。
	DefaultPage = 1
	// DefaultLimit はlimit未指定時の1ページあたりの件数。
	DefaultLimit = 10
)

// ListParams は一覧取得の条件。PageとLimitの0は未指定を表す。
type ListParams struct {
	Status   string
	Priority string
	Page     int
	Limit    int
}

// ListResult は一覧取得の結果。Pagesは ceil(Total/Limit)。
type ListResult struct {
	Items []*model.Task
	Total int
	Page  int
	Limit int
	Pages int
}

// CreateInput はタスク作成の入力。空文字列は未指定を表す。
type CreateInput struct {
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     string
}

// UpdateInput はタスク更新の入力。nilのフィールドは変更しない。
// DueDateSetがtrueでDueDateがnilまたは空文字列の場合は期限を削除する。
type UpdateInput struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	DueDateSet  bool
	DueDate     *string
}

// taskFields は保存前に検証するタスクの可変フィールド。
type taskFields struct {
	Title       string `validate:"required,max=255"`
	Description string `validate:"max=1000"`
	Status      string `validate:"oneof=pending in-progress completed"`
	Priority    string `validate:"oneof=low medium high"`
}

var taskMessages = validate.Messages{
	"Title.required":  "Title is required",
	"Title.max":       "Title must be at most 255 characters",
	"Description.max": "Description must be at most 1000 characters",
	"Status.oneof":    "Status must be one of pending, in-progress, completed",
	"Priority.oneof":  "Priority must be one of low, medium, high",
}

// Service はタスクのサービス層。
type Service struct {
	repo      repository.TaskRepository
	sanitizer security.TextSanitizer
	validator *validate.Validator
	maxLimit  int
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// maxLimitは1ページあたりの件数の上限で、これを超えるlimitは上限に丸める。
func NewService(repo repository.TaskRepository, sanitizer security.TextSanitizer, maxLimit int) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		validator: validate.New(),
		maxLimit:  maxLimit,
		now:       time.Now,
	}
}

// List は所有者のタスクをフィルタ・ページングして返す。
// ページ範囲外を指定した場合は空のItemsと変わらないTotalを返す。
func (s *Service) List(ctx context.Context, ownerID string, params ListParams) (*ListResult, error) {
	page, limit := params.Page, params.Limit
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 0 {
		return nil, model.NewValidationError("page must be a positive integer")
	}
	if limit < 0 {
		return nil, model.NewValidationError("limit must be a positive integer")
	}
	if s.maxLimit > 0 && limit > s.maxLimit {
		limit = s.maxLimit
	}

	filter := model.TaskFilter{
		OwnerID: ownerID,
		Offset:  pageOffset(page, limit),
		Limit:   limit,
	}
	if params.Status != "" {
		status := model.TaskStatus(params.Status)
		if !status.Valid() {
			return nil, model.NewValidationError(taskMessages["Status.oneof"])
		}
		filter.Status = status
	}
	if params.Priority != "" {
		priority := model.TaskPriority(params.Priority)
		if !priority.Valid() {
			return nil, model.NewValidationError(taskMessages["Priority.oneof"])
		}
		filter.Priority = priority
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return &ListResult{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: (total + limit - 1) / limit,
	}, nil
}

// pageOffset はページ番号から読み飛ばす件数を返す。
// intの範囲を超える場合はmath.MaxIntに丸め、どの総件数よりも後ろを指す。
func pageOffset(page, limit int) int {
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

// Get は所有者のタスクを返す。他ユーザーのタスクは存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, ownerID, taskID string) (*model.Task, error) {
	task, err := s.repo.FindByIDAndOwner(ctx, taskID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	if task == nil {
		return nil, model.NewTaskNotFoundError()
	}
	return task, nil
}

// Create はタスクを作成する。statusとpriorityのデフォルトはpending/medium。
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (*model.Task, error) {
	now := s.now().UTC()
	task := &model.Task{
		ID:          uuid.New().String(),
		Title:       s.sanitizer.Sanitize(input.Title),
		Description: s.sanitizer.Sanitize(input.Description),
		Status:      model.TaskStatusPending,
		Priority:    model.TaskPriorityMedium,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.Status != "" {
		task.Status = model.TaskStatus(strings.TrimSpace(input.Status))
	}
	if input.Priority != "" {
		task.Priority = model.TaskPriority(strings.TrimSpace(input.Priority))
	}

	if err := s.validate(task); err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.DueDate) != "" {
		due, err := ParseDueDate(input.DueDate)
		if err != nil {
			return nil, model.NewInvalidDateFormatError()
		}
		task.DueDate = &due
	}
	if task.Status == model.TaskStatusCompleted {
		task.CompletedAt = &now
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	slog.Info("task created", slog.String("user_id", ownerID), slog.String("task_id", task.ID))
	return task, nil
}

// Update はinputに含まれるフィールドのみを更新する。
// statusがcompletedへ遷移した時点でcompleted_atを記録し、completed以外へ戻すと削除する。
func (s *Service) Update(ctx context.Context, ownerID, taskID string, input UpdateInput) (*model.Task, error) {
	task, err := s.Get(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	previousStatus := task.Status

	if input.Title != nil {
		task.Title = s.sanitizer.Sanitize(*input.Title)
	}
	if input.Description != nil {
		task.Description = s.sanitizer.Sanitize(*input.Description)
	}
	if input.Status != nil {
		task.Status = model.TaskStatus(strings.TrimSpace(*input.Status))
	}
	if input.Priority != nil {
		task.Priority = model.TaskPriority(strings.TrimSpace(*input.Priority))
	}

	if err := s.validate(task); err != nil {
		return nil, err
	}

	if input.DueDateSet {
		if input.DueDate == nil || strings.TrimSpace(*input.DueDate) == "" {
			task.DueDate = nil
		} else {
			due, err := ParseDueDate(*input.DueDate)
			if err != nil {
				return nil, model.NewInvalidDateFormatError()
			}
			task.DueDate = &due
		}
	}

	now := s.now().UTC()
	switch {
	case task.Status == model.TaskStatusCompleted && previousStatus != model.TaskStatusCompleted:
		task.CompletedAt = &now
	case task.Status != model.TaskStatusCompleted:
		task.CompletedAt = nil
	}
	task.UpdatedAt = now

	updated, err := s.repo.Update(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	if !updated {
		return nil, model.NewTaskNotFoundError()
	}

	return task, nil
}

// Delete は所有者のタスクを削除する。
func (s *Service) Delete(ctx context.Context, ownerID, taskID string) error {
	deleted, err := s.repo.DeleteByIDAndOwner(ctx, taskID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if !deleted {
		return model.NewTaskNotFoundError()
	}

	slog.Info("task deleted", slog.String("user_id", ownerID), slog.String("task_id", taskID))
	return nil
}

// Stats は所有者のタスクをステータス別に集計する。
func (s *Service) Stats(ctx context.Context, ownerID string) (*model.TaskStats, error) {
	stats, err := s.repo.Stats(ctx, ownerID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate task stats: %w", err)
	}
	return stats, nil
}

// validate は保存前のタスクを検証する。
func (s *Service) validate(task *model.Task) error {
	msg, err := s.validator.Struct(taskFields{
		Title:       task.Title,
		Description: task.Description,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
	}, taskMessages, "Invalid task")
	if err != nil {
		return fmt.Errorf("failed to validate task: %w", err)
	}
	if msg != "" {
		return model.NewValidationError(msg)
	}
	return nil
}
