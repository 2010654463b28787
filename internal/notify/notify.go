// Package notify announces finished runs to chat backends.
package notify

import (
	"fmt"
	"log"

	"github.com/ledgerline/ledgerline/internal/models"
)

// Notifier announces a run reaching a terminal status.
type Notifier interface {
	RunFinished(job *models.Job, run *models.Run) error
}

// Multi fans out to several backends. A backend failure is logged and the
// remaining backends still get the announcement.
type Multi struct {
	backends []Notifier
}

// NewMulti builds a fan-out notifier; nil backends are skipped.
func NewMulti(backends ...Notifier) *Multi {
	m := &Multi{}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

// RunFinished delivers to every backend, returning nil always: a missed
// notification never fails the run pipeline.
func (m *Multi) RunFinished(job *models.Job, run *models.Run) error {
	for _, b := range m.backends {
		if err := b.RunFinished(job, run); err != nil {
			log.Printf("notify: backend failed for run %s: %v", run.ID, err)
		}
	}
	return nil
}

// Message renders the announcement text shared by all backends.
func Message(job *models.Job, run *models.Run) string {
	switch run.Status {
	case models.RunCompleted:
		return fmt.Sprintf("%s: run %s completed, %d/%d tasks extracted",
			job.Name, run.ID, run.TasksCompleted, run.TasksTotal)
	case models.RunPartiallyCompleted:
		return fmt.Sprintf("%s: run %s partially completed, %d succeeded / %d failed of %d",
			job.Name, run.ID, run.TasksCompleted, run.TasksFailed, run.TasksTotal)
	case models.RunFailed:
		return fmt.Sprintf("%s: run %s failed, all %d tasks errored",
			job.Name, run.ID, run.TasksTotal)
	default:
		return fmt.Sprintf("%s: run %s is %s", job.Name, run.ID, run.Status)
	}
}
