package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestJob_Fields(t *testing.T) {
	typ := reflect.TypeOf(Job{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:32")
	assertGormTag(t, typ, "UserID", "not null")
	assertGormTag(t, typ, "UserID", "index")
	assertGormTag(t, typ, "Name", "not null")
	assertGormTag(t, typ, "Kind", "default:extraction")
}

func TestRun_Fields(t *testing.T) {
	typ := reflect.TypeOf(Run{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "JobID", "not null")
	assertGormTag(t, typ, "ConfigStep", "default:upload")
	assertGormTag(t, typ, "Status", "default:pending")
	assertGormTag(t, typ, "Status", "index")
	assertFieldType(t, typ, "TemplateID", "*string")
	assertFieldType(t, typ, "AppendFromRunID", "*string")
	assertFieldType(t, typ, "CompletedAt", "*time.Time")
}

func TestRun_AppendUniqueIndex(t *testing.T) {
	typ := reflect.TypeOf(Run{})

	// Both columns must share the composite unique index that blocks
	// duplicate append-runs off the same source run.
	assertGormTag(t, typ, "JobID", "uniqueIndex:idx_job_append")
	assertGormTag(t, typ, "AppendFromRunID", "uniqueIndex:idx_job_append")
}

func TestSourceFile_Fields(t *testing.T) {
	typ := reflect.TypeOf(SourceFile{})

	assertGormTag(t, typ, "RunID", "not null")
	assertGormTag(t, typ, "Path", "not null")
	assertGormTag(t, typ, "Status", "default:uploading")
	assertGormTag(t, typ, "Source", "default:upload")
	assertFieldType(t, typ, "PageCount", "*int")
}

func TestExtractionTask_Fields(t *testing.T) {
	typ := reflect.TypeOf(ExtractionTask{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "RunID", "not null")
	assertGormTag(t, typ, "Mode", "default:individual")
	assertGormTag(t, typ, "Status", "default:pending")
	assertGormTag(t, typ, "ErrorMessage", "type:text")
	assertFieldType(t, typ, "ClaimedAt", "*time.Time")
}

func TestTaskFile_CompositeKey(t *testing.T) {
	typ := reflect.TypeOf(TaskFile{})

	assertGormTag(t, typ, "TaskID", "primaryKey")
	assertGormTag(t, typ, "FileID", "primaryKey")
}

func TestExtractionResult_UniquePerTask(t *testing.T) {
	typ := reflect.TypeOf(ExtractionResult{})

	assertGormTag(t, typ, "TaskID", "uniqueIndex")
}

func TestIsTerminalRunStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{RunPending, false},
		{RunInProgress, false},
		{RunCompleted, true},
		{RunPartiallyCompleted, true},
		{RunFailed, true},
		{RunCancelled, true},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsTerminalRunStatus(tt.status); got != tt.want {
			t.Errorf("IsTerminalRunStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestIsTerminalTaskStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{TaskPending, false},
		{TaskProcessing, false},
		{TaskCompleted, true},
		{TaskFailed, true},
	}

	for _, tt := range tests {
		if got := IsTerminalTaskStatus(tt.status); got != tt.want {
			t.Errorf("IsTerminalTaskStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestUserPlan_Fields(t *testing.T) {
	typ := reflect.TypeOf(UserPlan{})

	assertGormTag(t, typ, "UserID", "primaryKey")
	assertFieldType(t, typ, "UpdatedAt", reflect.TypeOf(time.Time{}).String())
}
