package securityscore

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	id "vouch/pkg/domain"
)

// flight serializes recomputes for one subject. Generations are assigned on
// arrival; a computation covers every generation requested before it read the
// records, so a caller may reuse a result only when that computation started
// after the caller arrived.
type flight struct {
	sem       *semaphore.Weighted
	refs      int
	requested uint64
	completed uint64
	last      Score
}

type flights struct {
	mu sync.Mutex
	m  map[id.SubjectID]*flight
}

func newFlights() *flights {
	return &flights{m: make(map[id.SubjectID]*flight)}
}

// join registers a caller for subject and returns its flight and generation.
func (fs *flights) join(subject id.SubjectID) (*flight, uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.m[subject]
	if !ok {
		f = &flight{sem: semaphore.NewWeighted(1)}
		fs.m[subject] = f
	}
	f.refs++
	f.requested++
	return f, f.requested
}

func (fs *flights) leave(subject id.SubjectID, f *flight) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f.refs--
	if f.refs == 0 {
		delete(fs.m, subject)
	}
}

// acquire waits for the subject's turn. Callers must release on success.
func (f *flight) acquire(ctx context.Context) error {
	return f.sem.Acquire(ctx, 1)
}

func (f *flight) release() { f.sem.Release(1) }

// covered returns the last result if a computation that started after gen was
// requested has completed. Otherwise it returns the generation the caller's own
// computation will cover.
func (fs *flights) covered(f *flight, gen uint64) (Score, uint64, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f.completed >= gen {
		return f.last, 0, true
	}
	return Score{}, f.requested, false
}

func (fs *flights) complete(f *flight, upTo uint64, score Score) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if upTo > f.completed {
		f.completed = upTo
		f.last = score
	}
}
