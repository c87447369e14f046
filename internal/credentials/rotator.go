// Package credentials round-robins the Adzuna credential pool and tracks
// which entries the upstream has rejected for the rest of the process
// lifetime.
package credentials

import (
	"sync"

	"jobmate/ingestion-service/internal/model"
)

// Rotator hands out credentials in round-robin order, skipping exhausted
// ones. It is safe for concurrent use.
type Rotator struct {
	mu        sync.Mutex
	creds     []model.Credential
	cursor    int
	exhausted map[int]struct{}
}

// NewRotator copies creds; the pool is fixed after construction.
func NewRotator(creds []model.Credential) *Rotator {
	cp := make([]model.Credential, len(creds))
	copy(cp, creds)
	return &Rotator{creds: cp, exhausted: make(map[int]struct{})}
}

// Next returns the next credential that has not been marked exhausted.
// ok is false once every credential in the pool is exhausted (or the pool
// is empty).
func (r *Rotator) Next() (cred model.Credential, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.creds)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		if _, gone := r.exhausted[idx]; gone {
			continue
		}
		r.cursor = (idx + 1) % n
		return r.creds[idx], true
	}
	return model.Credential{}, false
}

// MarkExhausted flags every pool entry matching cred's AppID and AppKey.
// Calling it twice, or with an unknown credential, is a no-op.
func (r *Rotator) MarkExhausted(cred model.Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.creds {
		if c.AppID == cred.AppID && c.AppKey == cred.AppKey {
			r.exhausted[i] = struct{}{}
		}
	}
}

// Reset clears the exhausted set. The cursor is left where it is.
func (r *Rotator) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.exhausted)
}

// Available reports how many credentials are still usable.
func (r *Rotator) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds) - len(r.exhausted)
}

// Len is the pool size.
func (r *Rotator) Len() int {
	return len(r.creds)
}
