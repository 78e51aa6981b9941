package sched

import (
	"errors"
	"testing"
	"time"
)

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	fire := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{
			name: "minimal valid",
			task: Task{ID: "t1", FireAt: fire},
		},
		{
			name: "valid with notifies",
			task: Task{ID: "t2", FireAt: fire, NotifyAt: []time.Time{fire.Add(-30 * time.Minute), fire.Add(-10 * time.Minute)}},
		},
		{
			name: "duplicate notify instants allowed",
			task: Task{ID: "t3", FireAt: fire, NotifyAt: []time.Time{fire.Add(-time.Hour), fire.Add(-time.Hour)}},
		},
		{
			name:    "empty id",
			task:    Task{FireAt: fire},
			wantErr: true,
		},
		{
			name:    "whitespace id",
			task:    Task{ID: "   ", FireAt: fire},
			wantErr: true,
		},
		{
			name:    "zero fire time",
			task:    Task{ID: "t4"},
			wantErr: true,
		},
		{
			name:    "notify equals fire time",
			task:    Task{ID: "t5", FireAt: fire, NotifyAt: []time.Time{fire}},
			wantErr: true,
		},
		{
			name:    "notify after fire time",
			task:    Task{ID: "t6", FireAt: fire, NotifyAt: []time.Time{fire.Add(time.Minute)}},
			wantErr: true,
		},
		{
			name:    "notify times descending",
			task:    Task{ID: "t7", FireAt: fire, NotifyAt: []time.Time{fire.Add(-10 * time.Minute), fire.Add(-30 * time.Minute)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTaskValidateEmptyIDSentinel(t *testing.T) {
	t.Parallel()

	err := Task{FireAt: time.Now().Add(time.Hour)}.Validate()
	if !errors.Is(err, ErrEmptyID) {
		t.Fatalf("want ErrEmptyID, got %v", err)
	}
}
