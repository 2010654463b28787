package run

import "github.com/ledgerline/ledgerline/internal/models"

// wizard step fractions shown before submission.
var stepProgress = map[string]float64{
	models.StepUpload:    0,
	models.StepFields:    33,
	models.StepReview:    67,
	models.StepSubmitted: 100,
}

// Progress returns a 0–100 completion figure for a run. Before submission it
// reflects the wizard position; after, the task completion fraction.
func Progress(r *models.Run) float64 {
	if r.ConfigStep != models.StepSubmitted {
		return stepProgress[r.ConfigStep]
	}
	if r.Status == models.RunCompleted && r.TasksTotal == 0 {
		return 100
	}

	total := r.TasksTotal
	if total < 1 {
		total = 1
	}
	pct := float64(r.TasksCompleted) / float64(total) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// IsResumable reports whether the user can pick the run back up: still in
// the wizard, or processing with tasks outstanding.
func IsResumable(r *models.Run) bool {
	if r.ConfigStep != models.StepSubmitted {
		return true
	}
	switch r.Status {
	case models.RunInProgress, models.RunPartiallyCompleted, models.RunFailed:
		return r.TasksCompleted < r.TasksTotal
	}
	return false
}
