package realtime

import "sync"

// Roster tracks which counterparts are currently online, fed by the
// user_online/user_offline stream. Purely transient.
type Roster struct {
	mu     sync.Mutex
	online map[string]struct{}
}

func NewRoster() *Roster {
	return &Roster{online: make(map[string]struct{})}
}

func (r *Roster) SetOnline(userID string, online bool) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if online {
		r.online[userID] = struct{}{}
	} else {
		delete(r.online, userID)
	}
}

func (r *Roster) Online(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.online[userID]
	return ok
}

func (r *Roster) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online)
}

func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = make(map[string]struct{})
}
