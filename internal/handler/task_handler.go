package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
// すべての操作は所有者（認証済みユーザー）でスコープされる。
type TaskServiceInterface interface {
	List(ctx context.Context, ownerID string, params task.ListParams) (*task.ListResult, error)
	Get(ctx context.Context, ownerID, taskID string) (*model.Task, error)
	Create(ctx context.Context, ownerID string, input task.CreateInput) (*model.Task, error)
	Update(ctx context.Context, ownerID, taskID string, input task.UpdateInput) (*model.Task, error)
	Delete(ctx context.Context, ownerID, taskID string) error
	Stats(ctx context.Context, ownerID string) (*model.TaskStats, error)
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{
		service: service,
	}
}

// createTaskRequest はタスク作成リクエストのボディ。
type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	DueDate     string `json:"dueDate"`
}

// paginationResponse は一覧のページ情報。
type paginationResponse struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// taskListResponse はタスク一覧のレスポンス。
type taskListResponse struct {
	Success    bool               `json:"success"`
	Data       []taskResponse     `json:"data"`
	Pagination paginationResponse `json:"pagination"`
}

// taskStatsResponse はタスク集計のレスポンスデータ。
type taskStatsResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
}

// ListTasks はタスク一覧をフィルタ・ページネーション付きで返す。
// GET /api/tasks?status=&priority=&page=&limit=
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), "page")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), "limit")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.List(r.Context(), userID, task.ListParams{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	data := make([]taskResponse, len(result.Items))
	for i, t := range result.Items {
		data[i] = toTaskResponse(t)
	}

	writeJSON(w, http.StatusOK, taskListResponse{
		Success: true,
		Data:    data,
		Pagination: paginationResponse{
			Page:  result.Page,
			Limit: result.Limit,
			Total: result.Total,
			Pages: result.Pages,
		},
	})
}

// CreateTask はタスクを作成する。
// POST /api/tasks/create
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	created, err := h.service.Create(r.Context(), userID, task.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Task created successfully",
		"data":    toTaskResponse(created),
	})
}

// GetTask はタスク詳細を返す。
// GET /api/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    toTaskResponse(t),
	})
}

// UpdateTask はボディに含まれるフィールドのみを更新する。
// dueDateにnullまたは空文字列を指定すると期限を削除する。
// PUT /api/tasks/{id}/update
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := decodeJSON(w, r, &fields); err != nil {
		handleServiceError(w, err)
		return
	}

	input, err := toUpdateInput(fields)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	updated, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), input)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Task updated successfully",
		"data":    toTaskResponse(updated),
	})
}

// DeleteTask はタスクを削除する。
// DELETE /api/tasks/{id}/delete
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Task deleted successfully",
	})
}

// Stats はステータス別のタスク件数を返す。
// GET /api/tasks/stats
func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": taskStatsResponse{
			Total:      stats.Total,
			Pending:    stats.Pending,
			InProgress: stats.InProgress,
			Completed:  stats.Completed,
			Overdue:    stats.Overdue,
		},
	})
}

// toUpdateInput は部分更新ボディをtask.UpdateInputに変換する。
func toUpdateInput(fields map[string]json.RawMessage) (task.UpdateInput, error) {
	var input task.UpdateInput
	var err error

	if input.Title, err = optionalString(fields, "title"); err != nil {
		return input, err
	}
	if input.Description, err = optionalString(fields, "description"); err != nil {
		return input, err
	}
	if input.Status, err = optionalString(fields, "status"); err != nil {
		return input, err
	}
	if input.Priority, err = optionalString(fields, "priority"); err != nil {
		return input, err
	}
	if _, ok := fields["dueDate"]; ok {
		input.DueDateSet = true
		if input.DueDate, err = optionalString(fields, "dueDate"); err != nil {
			return input, model.NewInvalidDateFormatError()
		}
	}
	return input, nil
}

// parsePositiveInt はクエリパラメータを正の整数として解析する。
// 空文字列は未指定として0を返す。
func parsePositiveInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, model.NewValidationError(name + " must be a positive integer")
	}
	return n, nil
}
