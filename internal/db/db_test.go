package db

import (
	"testing"

	"github.com/ledgerline/ledgerline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		host     string
		port     int
		database string
		want     string
	}{
		{
			name:     "default local",
			user:     "root",
			host:     "127.0.0.1",
			port:     3306,
			database: "ledgerline",
			want:     "root@tcp(127.0.0.1:3306)/ledgerline?parseTime=true&charset=utf8mb4",
		},
		{
			name:     "with password",
			user:     "ledger",
			password: "s3cret",
			host:     "db.vpc.internal",
			port:     3307,
			database: "ledgerline_prod",
			want:     "ledger:s3cret@tcp(db.vpc.internal:3307)/ledgerline_prod?parseTime=true&charset=utf8mb4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.user, tt.password, tt.host, tt.port, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 10 {
		t.Errorf("AllModels() has %d entries, want 10", got)
	}
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	for _, table := range []string{"jobs", "runs", "run_fields", "source_files", "extraction_tasks", "task_files", "extraction_results", "automations", "automation_runs", "user_plans"} {
		if !gormDB.Migrator().HasTable(table) {
			t.Errorf("table %q missing after migrate", table)
		}
	}
}

func TestSeedPlan_Upsert(t *testing.T) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	if err := SeedPlan(gormDB, "user-1", 500); err != nil {
		t.Fatalf("SeedPlan: %v", err)
	}

	// Simulate usage, then re-seed with a new limit: usage must survive.
	if err := gormDB.Model(&models.UserPlan{}).Where("user_id = ?", "user-1").
		Update("pages_used", 42).Error; err != nil {
		t.Fatalf("update pages_used: %v", err)
	}
	if err := SeedPlan(gormDB, "user-1", 1000); err != nil {
		t.Fatalf("SeedPlan upsert: %v", err)
	}

	var plan models.UserPlan
	if err := gormDB.First(&plan, "user_id = ?", "user-1").Error; err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if plan.PageLimit != 1000 {
		t.Errorf("PageLimit = %d, want 1000", plan.PageLimit)
	}
	if plan.PagesUsed != 42 {
		t.Errorf("PagesUsed = %d, want 42", plan.PagesUsed)
	}
}
