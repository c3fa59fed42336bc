package task

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidDate は期限日時の形式不正を表す。
var ErrInvalidDate = errors.New("invalid date format")

// dueDateLayouts はISO-8601として受け付ける形式。オフセットなしはUTCとして解釈する。
var dueDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseDueDate はISO-8601の日時文字列をUTCの時刻に変換する。
// 末尾のZ（小文字も可）はUTC指定として扱う。
func ParseDueDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}

	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidDate
}
