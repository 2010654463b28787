package tracker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection: all goroutines share the in-memory database and
	// transactions serialize instead of fighting over file locks.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Job{}, &models.Run{}, &models.ExtractionTask{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedSubmittedRun creates an in-progress run with n pending tasks.
func seedSubmittedRun(t *testing.T, db *gorm.DB, n int) (*models.Run, []string) {
	t.Helper()
	job := models.Job{ID: "job-00001", UserID: "u1", Name: "J"}
	if err := db.Create(&job).Error; err != nil {
		t.Fatalf("create job: %v", err)
	}
	r := models.Run{
		ID:         "run-00001",
		JobID:      job.ID,
		ConfigStep: models.StepSubmitted,
		Status:     models.RunInProgress,
		TasksTotal: n,
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("create run: %v", err)
	}
	taskIDs := make([]string, n)
	for i := range n {
		taskIDs[i] = fmt.Sprintf("task-%05d", i)
		task := models.ExtractionTask{ID: taskIDs[i], RunID: r.ID, Status: models.TaskProcessing}
		if err := db.Create(&task).Error; err != nil {
			t.Fatalf("create task: %v", err)
		}
	}
	return &r, taskIDs
}

func reloadRun(t *testing.T, db *gorm.DB, id string) *models.Run {
	t.Helper()
	var r models.Run
	if err := db.Where("id = ?", id).First(&r).Error; err != nil {
		t.Fatalf("reload run: %v", err)
	}
	return &r
}

func TestRecordTaskCompletion_PartialMix(t *testing.T) {
	db := openTestDB(t)
	r, tasks := seedSubmittedRun(t, db, 3)

	for _, taskID := range tasks[:2] {
		if _, err := RecordTaskCompletion(db, taskID, true, CompletionOpts{}); err != nil {
			t.Fatalf("success signal: %v", err)
		}
	}
	out, err := RecordTaskCompletion(db, tasks[2], false, CompletionOpts{ErrorMessage: "model timeout"})
	if err != nil {
		t.Fatalf("failure signal: %v", err)
	}
	if !out.Finished || out.FinalStatus != models.RunPartiallyCompleted {
		t.Errorf("outcome = %+v, want finished partially_completed", out)
	}

	got := reloadRun(t, db, r.ID)
	if got.Status != models.RunPartiallyCompleted {
		t.Errorf("Status = %q, want partially_completed", got.Status)
	}
	if got.TasksCompleted != 2 || got.TasksFailed != 1 {
		t.Errorf("counters = %d/%d, want 2/1", got.TasksCompleted, got.TasksFailed)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt set for a partially completed run")
	}

	var task models.ExtractionTask
	db.Where("id = ?", tasks[2]).First(&task)
	if task.ErrorMessage != "model timeout" {
		t.Errorf("task error = %q", task.ErrorMessage)
	}
}

func TestRecordTaskCompletion_AllSucceed(t *testing.T) {
	db := openTestDB(t)
	r, tasks := seedSubmittedRun(t, db, 2)

	finishes := 0
	hook := func(db *gorm.DB, run *models.Run) error {
		finishes++
		return nil
	}
	for _, taskID := range tasks {
		if _, err := RecordTaskCompletion(db, taskID, true, CompletionOpts{OnFinish: []FinishHook{hook}}); err != nil {
			t.Fatalf("signal: %v", err)
		}
	}

	got := reloadRun(t, db, r.ID)
	if got.Status != models.RunCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if finishes != 1 {
		t.Errorf("finish hook ran %d times, want exactly 1", finishes)
	}
}

func TestRecordTaskCompletion_AllFail(t *testing.T) {
	db := openTestDB(t)
	r, tasks := seedSubmittedRun(t, db, 2)

	for _, taskID := range tasks {
		if _, err := RecordTaskCompletion(db, taskID, false, CompletionOpts{}); err != nil {
			t.Fatalf("signal: %v", err)
		}
	}
	got := reloadRun(t, db, r.ID)
	if got.Status != models.RunFailed {
		t.Errorf("Status = %q, want failed when nothing succeeded", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt set for a failed run")
	}
}

func TestRecordTaskCompletion_DuplicateDeliveryNoop(t *testing.T) {
	db := openTestDB(t)
	r, tasks := seedSubmittedRun(t, db, 2)

	if _, err := RecordTaskCompletion(db, tasks[0], true, CompletionOpts{}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	out, err := RecordTaskCompletion(db, tasks[0], true, CompletionOpts{})
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !out.Duplicate {
		t.Error("second delivery not flagged as duplicate")
	}

	got := reloadRun(t, db, r.ID)
	if got.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1 (no double count)", got.TasksCompleted)
	}
}

func TestRecordTaskCompletion_AfterCancelCountsButNeverFinishes(t *testing.T) {
	db := openTestDB(t)
	r, tasks := seedSubmittedRun(t, db, 2)
	db.Model(&models.Run{}).Where("id = ?", r.ID).Update("status", models.RunCancelled)

	hookRan := false
	hook := func(db *gorm.DB, run *models.Run) error { hookRan = true; return nil }
	for _, taskID := range tasks {
		out, err := RecordTaskCompletion(db, taskID, true, CompletionOpts{OnFinish: []FinishHook{hook}})
		if err != nil {
			t.Fatalf("signal: %v", err)
		}
		if out.Finished {
			t.Error("signal finished a cancelled run")
		}
	}

	got := reloadRun(t, db, r.ID)
	if got.Status != models.RunCancelled {
		t.Errorf("Status = %q, want cancelled preserved", got.Status)
	}
	if got.TasksCompleted != 2 {
		t.Errorf("TasksCompleted = %d, want 2 (late signals still count)", got.TasksCompleted)
	}
	if hookRan {
		t.Error("finish hook ran for a cancelled run")
	}
}

func TestRecordTaskCompletion_HookFailureIsolated(t *testing.T) {
	db := openTestDB(t)
	r, tasks := seedSubmittedRun(t, db, 1)

	hook := func(db *gorm.DB, run *models.Run) error { return errors.New("export queue down") }
	out, err := RecordTaskCompletion(db, tasks[0], true, CompletionOpts{OnFinish: []FinishHook{hook}})
	if err != nil {
		t.Fatalf("signal returned error despite hook isolation: %v", err)
	}
	if !out.Finished {
		t.Error("run not finished")
	}
	got := reloadRun(t, db, r.ID)
	if got.TasksCompleted != 1 || got.Status != models.RunCompleted {
		t.Errorf("counter/status = %d/%q, hook failure must not unwind them", got.TasksCompleted, got.Status)
	}
}

func TestRecordTaskCompletion_UnknownTask(t *testing.T) {
	db := openTestDB(t)
	if _, err := RecordTaskCompletion(db, "task-nope0", true, CompletionOpts{}); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestRecordTaskCompletion_ConcurrentSignals(t *testing.T) {
	const total = 24
	const failures = 5

	db := openTestDB(t)
	r, tasks := seedSubmittedRun(t, db, total)

	var finishCount atomic.Int32
	hook := func(db *gorm.DB, run *models.Run) error {
		finishCount.Add(1)
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(total)
	for i, taskID := range tasks {
		success := i >= failures
		go func() {
			defer wg.Done()
			if _, err := RecordTaskCompletion(db, taskID, success, CompletionOpts{OnFinish: []FinishHook{hook}}); err != nil {
				t.Errorf("signal for %s: %v", taskID, err)
			}
		}()
	}
	wg.Wait()

	got := reloadRun(t, db, r.ID)
	if got.TasksCompleted != total-failures || got.TasksFailed != failures {
		t.Errorf("counters = %d/%d, want %d/%d", got.TasksCompleted, got.TasksFailed, total-failures, failures)
	}
	if got.TasksCompleted+got.TasksFailed != got.TasksTotal {
		t.Errorf("counter sum %d != total %d", got.TasksCompleted+got.TasksFailed, got.TasksTotal)
	}
	if got.Status != models.RunPartiallyCompleted {
		t.Errorf("Status = %q, want partially_completed", got.Status)
	}
	if n := finishCount.Load(); n != 1 {
		t.Errorf("finishing transition fired %d times, want exactly 1", n)
	}
}

func TestRecordTaskCompletion_CounterInvariantHolds(t *testing.T) {
	db := openTestDB(t)
	r, tasks := seedSubmittedRun(t, db, 4)

	for i, taskID := range tasks {
		if _, err := RecordTaskCompletion(db, taskID, i%2 == 0, CompletionOpts{}); err != nil {
			t.Fatalf("signal: %v", err)
		}
		got := reloadRun(t, db, r.ID)
		if got.TasksCompleted+got.TasksFailed > got.TasksTotal {
			t.Fatalf("invariant violated: %d+%d > %d", got.TasksCompleted, got.TasksFailed, got.TasksTotal)
		}
	}
}
