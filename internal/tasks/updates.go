package tasks

import (
	"fmt"
	"sync"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	LoadIntegration Phase = iota
	RefreshToken
	FetchHistory
	Deduplicate
	SavePlays
	SyncUsers
)

func (p Phase) String() string {
	switch p {
	case LoadIntegration:
		return "load_integration"
	case RefreshToken:
		return "refresh_token"
	case FetchHistory:
		return "fetch_history"
	case Deduplicate:
		return "deduplicate"
	case SavePlays:
		return "save_plays"
	case SyncUsers:
		return "sync_users"
	default:
		return ""
	}
}

// sendProgress sends an update without blocking; a full or nil channel drops it.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// progressSink forwards a sync pass's updates to its caller's channel until
// the caller stops listening. The caller may close its channel after detach.
type progressSink struct {
	mu sync.Mutex
	ch chan<- ProgressUpdate
}

func (s *progressSink) send(update ProgressUpdate) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sendProgress(s.ch, update)
}

func (s *progressSink) detach() {
	s.mu.Lock()
	s.ch = nil
	s.mu.Unlock()
}

func loadIntegrationUpdate(provider string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadIntegration,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Loading %s integration...", provider),
	}
}

func refreshTokenUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshToken,
		Step:    1,
		Total:   1,
		Message: "Refreshing access token...",
	}
}

func fetchHistoryUpdate(limit int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchHistory,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching up to %d recently played tracks...", limit),
	}
}

func deduplicateUpdate(fetched int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Deduplicate,
		Step:    1,
		Total:   fetched,
		Message: fmt.Sprintf("Comparing %d plays with stored history...", fetched),
	}
}

func savePlaysUpdate(staged int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SavePlays,
		Step:    1,
		Total:   staged,
		Message: fmt.Sprintf("Saving %d new plays...", staged),
	}
}

func userSyncedUpdate(step, total int, res *UserSyncResult) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] ✓ %s (%d new)", step, total, res.UserID, res.TracksAdded)
	if res.Error != nil {
		msg = fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.UserID, res.Error)
	}
	return ProgressUpdate{
		Phase:   SyncUsers,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    res,
	}
}
