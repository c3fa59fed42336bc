package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation pq.ErrorCode = "23505"

// usersEmailConstraint はusers.emailの一意制約名。
const usersEmailConstraint = "users_email_key"

// isEmailConflict はerrがusers.emailの一意制約違反かどうかを返す。
func isEmailConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == usersEmailConstraint
}

// isValidID はIDがUUID形式かどうかを返す。
// UUID以外の値をそのままクエリに渡すとキャストエラーになるため、事前に未検出として扱う。
func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
