package job

import (
	"errors"
	"sync"
	"testing"
	"time"

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
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Job{}, &models.Run{}, &models.RunField{},
		&models.SourceFile{}, &models.ExtractionTask{}, &models.TaskFile{},
		&models.ExtractionResult{}, &models.Automation{}, &models.AutomationRun{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestCreate_JobGetsFirstRun(t *testing.T) {
	db := openTestDB(t)

	j, err := Create(db, CreateOpts{UserID: "u1", Name: "Monthly receipts"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if j.Kind != models.JobKindExtraction {
		t.Errorf("Kind = %q, want extraction default", j.Kind)
	}

	var runs []models.Run
	if err := db.Where("job_id = ?", j.ID).Find(&runs).Error; err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1 (a job always has at least one run)", len(runs))
	}
	if runs[0].ConfigStep != models.StepUpload || runs[0].Status != models.RunPending {
		t.Errorf("first run state = %q/%q, want upload/pending", runs[0].ConfigStep, runs[0].Status)
	}
}

func TestCreate_Validation(t *testing.T) {
	db := openTestDB(t)

	if _, err := Create(db, CreateOpts{Name: "x"}); err == nil {
		t.Error("expected error for missing userID")
	}
	if _, err := Create(db, CreateOpts{UserID: "u1"}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := Create(db, CreateOpts{UserID: "u1", Name: "x", Kind: "mystery"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestRename(t *testing.T) {
	db := openTestDB(t)
	j, err := Create(db, CreateOpts{UserID: "u1", Name: "Old"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := Rename(db, j.ID, "New"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	got, err := Get(db, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "New" {
		t.Errorf("Name = %q, want New", got.Name)
	}

	if err := Rename(db, "job-nope0", "x"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestDelete_Cascades(t *testing.T) {
	db := openTestDB(t)
	j, err := Create(db, CreateOpts{UserID: "u1", Name: "Doomed"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r, err := Latest(db, j.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	db.Create(&models.SourceFile{ID: "file-00001", RunID: r.ID, Path: "a.pdf", Status: models.FileReady})
	db.Create(&models.ExtractionTask{ID: "task-00001", RunID: r.ID, Status: models.TaskCompleted})
	db.Create(&models.TaskFile{TaskID: "task-00001", FileID: "file-00001"})
	db.Create(&models.ExtractionResult{ID: "res-00001", TaskID: "task-00001", Rows: "[]"})
	db.Create(&models.RunField{RunID: r.ID, Name: "total"})
	db.Create(&models.Automation{ID: "auto-0001", JobID: j.ID, Name: "nightly"})
	db.Create(&models.AutomationRun{AutomationID: "auto-0001", Status: models.AutomationRunning})

	if err := Delete(db, j.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, check := range []struct {
		name  string
		model interface{}
	}{
		{"jobs", &models.Job{}},
		{"runs", &models.Run{}},
		{"files", &models.SourceFile{}},
		{"tasks", &models.ExtractionTask{}},
		{"task files", &models.TaskFile{}},
		{"results", &models.ExtractionResult{}},
		{"fields", &models.RunField{}},
		{"automations", &models.Automation{}},
		{"automation runs", &models.AutomationRun{}},
	} {
		var n int64
		db.Model(check.model).Count(&n)
		if n != 0 {
			t.Errorf("%s remaining after delete: %d", check.name, n)
		}
	}
}

func TestLatest_PicksNewest(t *testing.T) {
	db := openTestDB(t)
	j, err := Create(db, CreateOpts{UserID: "u1", Name: "J"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	older := time.Now().Add(-time.Hour)
	db.Model(&models.Run{}).Where("job_id = ?", j.ID).Update("created_at", older)

	r2, err := CreateRun(db, j.ID, CreateRunOpts{})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	latest, err := Latest(db, j.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != r2.ID {
		t.Errorf("Latest = %s, want %s", latest.ID, r2.ID)
	}
}

func TestCreateRun_ClonesFieldsFromLatest(t *testing.T) {
	db := openTestDB(t)
	j, err := Create(db, CreateOpts{UserID: "u1", Name: "J"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first, err := Latest(db, j.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	tmpl := "tmpl-0001"
	db.Model(&models.Run{}).Where("id = ?", first.ID).Update("template_id", tmpl)
	db.Create(&models.RunField{RunID: first.ID, Name: "vendor", DataType: "string", Prompt: "Vendor name", DisplayOrder: 0})
	db.Create(&models.RunField{RunID: first.ID, Name: "total", DataType: "number", Prompt: "Invoice total", DisplayOrder: 1})

	r2, err := CreateRun(db, j.ID, CreateRunOpts{})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if r2.TemplateID == nil || *r2.TemplateID != tmpl {
		t.Errorf("TemplateID = %v, want %q cloned", r2.TemplateID, tmpl)
	}

	var fields []models.RunField
	if err := db.Where("run_id = ?", r2.ID).Order("display_order ASC").Find(&fields).Error; err != nil {
		t.Fatalf("load cloned fields: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("cloned fields = %d, want 2", len(fields))
	}
	if fields[0].Name != "vendor" || fields[1].Name != "total" {
		t.Errorf("cloned field order = %q, %q", fields[0].Name, fields[1].Name)
	}
	if fields[1].Prompt != "Invoice total" {
		t.Errorf("cloned prompt = %q", fields[1].Prompt)
	}
}

func TestCreateRun_ExplicitCloneSource(t *testing.T) {
	db := openTestDB(t)
	j, err := Create(db, CreateOpts{UserID: "u1", Name: "J"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first, _ := Latest(db, j.ID)
	db.Create(&models.RunField{RunID: first.ID, Name: "date"})

	// A newer run with different fields; explicit clone must still use first.
	newer, err := CreateRun(db, j.ID, CreateRunOpts{})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	db.Where("run_id = ?", newer.ID).Delete(&models.RunField{})
	db.Create(&models.RunField{RunID: newer.ID, Name: "amount"})

	r3, err := CreateRun(db, j.ID, CreateRunOpts{CloneFromRunID: first.ID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	var fields []models.RunField
	db.Where("run_id = ?", r3.ID).Find(&fields)
	if len(fields) != 1 || fields[0].Name != "date" {
		t.Errorf("cloned fields = %+v, want the explicit source's snapshot", fields)
	}
}

func TestCreateRun_CloneSourceFromOtherJobRejected(t *testing.T) {
	db := openTestDB(t)
	j1, _ := Create(db, CreateOpts{UserID: "u1", Name: "A"})
	j2, _ := Create(db, CreateOpts{UserID: "u1", Name: "B"})
	otherRun, _ := Latest(db, j2.ID)

	_, err := CreateRun(db, j1.ID, CreateRunOpts{CloneFromRunID: otherRun.ID})
	if err == nil {
		t.Fatal("expected error cloning across jobs")
	}
}

func TestCreateRun_AppendSetsBackReference(t *testing.T) {
	db := openTestDB(t)
	j, _ := Create(db, CreateOpts{UserID: "u1", Name: "J"})
	source, _ := Latest(db, j.ID)

	r2, err := CreateRun(db, j.ID, CreateRunOpts{CloneFromRunID: source.ID, AppendResults: true})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if r2.AppendFromRunID == nil || *r2.AppendFromRunID != source.ID {
		t.Errorf("AppendFromRunID = %v, want %s", r2.AppendFromRunID, source.ID)
	}
}

func TestCreateRun_DuplicateAppendConflicts(t *testing.T) {
	db := openTestDB(t)
	j, _ := Create(db, CreateOpts{UserID: "u1", Name: "J"})
	source, _ := Latest(db, j.ID)
	opts := CreateRunOpts{CloneFromRunID: source.ID, AppendResults: true}

	if _, err := CreateRun(db, j.ID, opts); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err := CreateRun(db, j.ID, opts)
	if !errors.Is(err, ErrAppendConflict) {
		t.Fatalf("err = %v, want ErrAppendConflict", err)
	}
}

func TestCreateRun_ConcurrentAppendRace(t *testing.T) {
	db := openTestDB(t)
	j, _ := Create(db, CreateOpts{UserID: "u1", Name: "J"})
	source, _ := Latest(db, j.ID)
	opts := CreateRunOpts{CloneFromRunID: source.ID, AppendResults: true}

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			_, errs[i] = CreateRun(db, j.ID, opts)
		}()
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAppendConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if conflicts != callers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, callers-1)
	}

	var n int64
	db.Model(&models.Run{}).Where("append_from_run_id = ?", source.ID).Count(&n)
	if n != 1 {
		t.Errorf("append runs persisted = %d, want 1", n)
	}
}

func TestCreateRun_UnknownJob(t *testing.T) {
	db := openTestDB(t)
	if _, err := CreateRun(db, "job-nope0", CreateRunOpts{}); err == nil {
		t.Fatal("expected error for unknown job")
	}
}
