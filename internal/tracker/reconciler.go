// -----------------------------------------------------------------------
// Reconciler - Single-writer merge of channel updates into canonical state
// -----------------------------------------------------------------------

package tracker

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gentrack/internal/models"
)

// Reconciler owns canonical JobState and is its only writer. Apply is
// called from exactly one goroutine (the tracker loop), which is the whole
// synchronization story: the merge itself is commutative and idempotent
// with respect to arrival order, so no cross-channel ordering is needed.
type Reconciler struct {
	logger arbor.ILogger
	state  *models.JobState
}

// applyResult describes what one merge step did.
type applyResult struct {
	state         *models.JobState // post-merge snapshot (clone), nil when no job attached
	changed       bool             // any canonical field changed
	statusChanged bool             // status specifically changed
	conflict      bool             // a contradicting terminal update was discarded
}

// NewReconciler creates a reconciler with no job attached
func NewReconciler(logger arbor.ILogger) *Reconciler {
	return &Reconciler{logger: logger}
}

// Attach seeds canonical state from a job record and returns a snapshot
func (r *Reconciler) Attach(job *models.Job) *models.JobState {
	r.state = models.NewJobState(job)
	return r.state.Clone()
}

// Reset drops canonical state (controller went idle)
func (r *Reconciler) Reset() {
	r.state = nil
}

// Snapshot returns a clone of canonical state, or nil when no job is attached
func (r *Reconciler) Snapshot() *models.JobState {
	return r.state.Clone()
}

// Apply merges one update into canonical state.
//
// Rules:
//  1. Locked state discards everything. A differing terminal status in the
//     discarded update is a TerminalConflict: logged, never surfaced.
//  2. Progress is monotone: max(canonical, incoming).
//  3. Status adopts a strictly later rank. Any terminal status is adopted
//     and locks the state regardless of relative progress.
//  4. Stage, outputs and error adopt the incoming value when present.
func (r *Reconciler) Apply(u *models.JobUpdate) applyResult {
	if r.state == nil || u == nil {
		return applyResult{}
	}

	if r.state.Locked {
		conflict := u.Status != nil && u.Status.IsTerminal() && *u.Status != r.state.Status
		if conflict {
			r.logger.Warn().
				Str("job_id", u.JobID).
				Str("locked_status", string(r.state.Status)).
				Str("incoming_status", string(*u.Status)).
				Str("source", string(u.Source)).
				Msg("TerminalConflict - discarding contradicting terminal update")
		}
		return applyResult{state: r.state.Clone(), conflict: conflict}
	}

	changed := false
	statusChanged := false

	if u.Progress != nil && *u.Progress > r.state.Progress {
		r.state.Progress = *u.Progress
		changed = true
	}

	if u.Status != nil && u.Status.IsValid() {
		incoming := *u.Status
		if incoming.IsTerminal() {
			if r.state.Status != incoming {
				r.state.Status = incoming
				statusChanged = true
			}
			r.state.Locked = true
			changed = true
		} else if incoming.Rank() > r.state.Status.Rank() {
			r.state.Status = incoming
			statusChanged = true
			changed = true
		}
	}

	if u.CurrentStage != nil && *u.CurrentStage != r.state.CurrentStage {
		r.state.CurrentStage = *u.CurrentStage
		changed = true
	}
	if len(u.Outputs) > 0 {
		r.state.Outputs = u.Outputs
		changed = true
	}
	if u.ErrorMessage != nil && *u.ErrorMessage != r.state.ErrorMessage {
		r.state.ErrorMessage = *u.ErrorMessage
		changed = true
	}

	return applyResult{
		state:         r.state.Clone(),
		changed:       changed,
		statusChanged: statusChanged,
	}
}

// SetOutputs replaces canonical outputs after result resolution. This is
// the one mutation allowed on locked state, and only the result resolver
// path uses it.
func (r *Reconciler) SetOutputs(outputs []models.Asset) *models.JobState {
	if r.state == nil {
		return nil
	}
	r.state.Outputs = outputs
	return r.state.Clone()
}
