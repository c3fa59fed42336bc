package task

import (
	"errors"
	"testing"
	"time"
)

func TestParseDueDate_Accepted(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2025-01-01T10:00:00Z", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01T10:00:00z", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01T10:00:00.123Z", time.Date(2025, 1, 1, 10, 0, 0, 123000000, time.UTC)},
		{"2025-01-01T10:00:00+00:00", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01T19:00:00+09:00", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01T19:00:00+0900", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01T10:00:00", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01T10:00", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01 10:00:00", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"  2025-01-01T10:00:00Z  ", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDueDate(tt.input)
			if err != nil {
				t.Fatalf("ParseDueDate(%q) error = %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDueDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got.Location() != time.UTC {
				t.Errorf("ParseDueDate(%q) location = %v, want UTC", tt.input, got.Location())
			}
		})
	}
}

func TestParseDueDate_Rejected(t *testing.T) {
	for _, input := range []string{"", "tomorrow", "2025-13-01", "2025-01-32T10:00:00Z", "01/02/2025", "2025-01-01T25:00:00Z", "1735725600"} {
		if _, err := ParseDueDate(input); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("ParseDueDate(%q) error = %v, want ErrInvalidDate", input, err)
		}
	}
}
