// Package scheduler keeps the dashboard cache fresh by polling.
//
// Overview
//
// A Scheduler owns at most one repeating timer, tied to the active tenant
// (store) and the user's poll interval. Every tick runs one sync cycle:
//
//	capture "before" snapshots     (only when diff logging is enabled)
//	        ↓
//	invalidate every registry prefix for the tenant
//	        ↓ (background refetches, not awaited by the tick)
//	settle: refetches done, or SettleDelay elapsed, whichever comes first
//	        ↓
//	capture "after" snapshots → diff per type → append one synclog.Entry
//
// Usage
//
//	store := cache.New(nil)
//	sink := synclog.New(100)
//	s := scheduler.New(store, sink, nil)
//	defer s.Close()
//
//	s.Start("store-1", 30) // poll every 30s
//	s.Start("store-1", 0)  // disable polling
//
//	// Manual refresh outside the timer cadence
//	cycle, err := s.ForceSync("store-1")
//	if err != nil {
//	    return err
//	}
//	<-cycle.Done()
//
// Re-arming
//
// Calling Start with a different tenant or interval cancels the armed timer
// before arming a new one. Timer callbacks carry a generation number and do
// nothing once their generation has been superseded, so a late callback from
// a cancelled timer can neither run a cycle nor re-arm itself.
//
// Overlapping cycles
//
// A tick does not wait for the previous cycle's settle step. Under short
// intervals or repeated ForceSync calls the before/after windows of two
// cycles may overlap; each entry is still self-contained.
//
// Tenant switches
//
// Each cycle records the tenant selection in effect when it started. The
// settle step discards the entry if the selection has changed since, so a
// forced sync of an unselected tenant still logs while a mid-cycle switch
// does not.
package scheduler
