package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

const taskColumns = `id, title, description, status, priority, due_date, completed_at, owner_id, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	task := &model.Task{}
	var status, priority string
	var dueDate, completedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &status, &priority,
		&dueDate, &completedAt, &task.OwnerID, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = model.TaskStatus(status)
	task.Priority = model.TaskPriority(priority)
	if dueDate.Valid {
		t := dueDate.Time.UTC()
		task.DueDate = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		task.CompletedAt = &t
	}
	return task, nil
}

// FindByIDAndOwner はIDと所有者でタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*model.Task, error) {
	if !isValidID(id) || !isValidID(ownerID) {
		return nil, nil
	}

	task, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return task, nil
}

// buildTaskWhere はフィルタからWHERE句と引数を構築する。
// 所有者条件は常に先頭に付く。
func buildTaskWhere(filter model.TaskFilter) (string, []any) {
	conds := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		conds = append(conds, fmt.Sprintf("priority = $%d", len(args)))
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildTaskListQuery は一覧取得とカウントのクエリを構築する。
func buildTaskListQuery(filter model.TaskFilter) (listSQL string, listArgs []any, countSQL string, countArgs []any) {
	where, args := buildTaskWhere(filter)

	countSQL = `SELECT COUNT(*) FROM tasks` + where
	countArgs = append([]any(nil), args...)

	listArgs = append(args, filter.Limit, filter.Offset)
	listSQL = `SELECT ` + taskColumns + ` FROM tasks` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(listArgs)-1, len(listArgs))

	return listSQL, listArgs, countSQL, countArgs
}

// List はフィルタに一致するタスクのページと総件数を返す。
func (r *PostgresTaskRepo) List(ctx context.Context, filter model.TaskFilter) ([]*model.Task, int, error) {
	if !isValidID(filter.OwnerID) {
		return []*model.Task{}, 0, nil
	}

	listSQL, listArgs, countSQL, countArgs := buildTaskListQuery(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, total, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.Title, task.Description, string(task.Status), string(task.Priority),
		nullTime(task.DueDate), nullTime(task.CompletedAt), task.OwnerID,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Update はタスクの可変フィールドを更新する。所有者が一致しない場合はfalseを返す。
func (r *PostgresTaskRepo) Update(ctx context.Context, task *model.Task) (bool, error) {
	if !isValidID(task.ID) || !isValidID(task.OwnerID) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks
		 SET title = $3, description = $4, status = $5, priority = $6,
		     due_date = $7, completed_at = $8, updated_at = $9
		 WHERE id = $1 AND owner_id = $2`,
		task.ID, task.OwnerID, task.Title, task.Description,
		string(task.Status), string(task.Priority),
		nullTime(task.DueDate), nullTime(task.CompletedAt), task.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteByIDAndOwner はタスクを削除する。該当行がない場合はfalseを返す。
func (r *PostgresTaskRepo) DeleteByIDAndOwner(ctx context.Context, id, ownerID string) (bool, error) {
	if !isValidID(id) || !isValidID(ownerID) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Stats は所有者のタスク集計を1クエリで返す。
func (r *PostgresTaskRepo) Stats(ctx context.Context, ownerID string, now time.Time) (*model.TaskStats, error) {
	stats := &model.TaskStats{}
	if !isValidID(ownerID) {
		return stats, nil
	}

	err := r.db.QueryRowContext(ctx,
		`SELECT
		     COUNT(*),
		     COUNT(*) FILTER (WHERE status = 'pending'),
		     COUNT(*) FILTER (WHERE status = 'in-progress'),
		     COUNT(*) FILTER (WHERE status = 'completed'),
		     COUNT(*) FILTER (WHERE due_date < $2 AND status <> 'completed')
		 FROM tasks
		 WHERE owner_id = $1`,
		ownerID, now,
	).Scan(&stats.Total, &stats.Pending, &stats.InProgress, &stats.Completed, &stats.Overdue)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate task stats: %w", err)
	}
	return stats, nil
}

// nullTime はnilを許容する時刻をSQLパラメータに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
