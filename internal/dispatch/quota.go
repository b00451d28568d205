package dispatch

import (
	"fmt"
	"sync"
	"time"

	"leadengine/platform/apperr"
)

// quota enforces the daily global and per-lead send caps. Counters reset
// at UTC midnight and live in memory only.
type quota struct {
	mu      sync.Mutex
	day     string
	global  int
	perLead map[string]int

	globalLimit int
	leadLimit   int
}

func newQuota(globalLimit, leadLimit int) *quota {
	return &quota{perLead: make(map[string]int), globalLimit: globalLimit, leadLimit: leadLimit}
}

func (q *quota) roll(now time.Time) {
	day := now.UTC().Format(time.DateOnly)
	if day != q.day {
		q.day = day
		q.global = 0
		clear(q.perLead)
	}
}

// reserve counts one send or returns a Permanent limit error.
func (q *quota) reserve(leadID string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll(now)
	if q.globalLimit > 0 && q.global >= q.globalLimit {
		return apperr.Wrap(apperr.KindPermanent, fmt.Sprintf("daily send limit of %d reached", q.globalLimit), ErrLimitReached)
	}
	if q.leadLimit > 0 && q.perLead[leadID] >= q.leadLimit {
		return apperr.Wrap(apperr.KindPermanent, fmt.Sprintf("daily limit of %d sends for lead reached", q.leadLimit), ErrLimitReached)
	}
	q.global++
	q.perLead[leadID]++
	return nil
}

// release returns a reservation for a send that did not go out.
func (q *quota) release(leadID string, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if now.UTC().Format(time.DateOnly) != q.day {
		return
	}
	if q.global > 0 {
		q.global--
	}
	if q.perLead[leadID] > 0 {
		q.perLead[leadID]--
	}
}

// usage returns today's global count and limit.
func (q *quota) usage(now time.Time) (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll(now)
	return q.global, q.globalLimit
}
