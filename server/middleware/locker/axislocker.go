package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	"github.com/yolab/thorimager/generichttp"
)

// AxisLocker is a locker that locks each axis of a motion controller independently
type AxisLocker struct {
	mu     sync.Mutex
	locked map[string]bool
}

// NewAL returns a new AxisLocker with every axis unlocked
func NewAL() *AxisLocker {
	return &AxisLocker{locked: map[string]bool{}}
}

// Route returns /axis/{axis}/lock
func (l *AxisLocker) Route() string {
	return "/axis/{axis}/lock"
}

// Lock locks an axis
func (l *AxisLocker) Lock(axis string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked[strings.ToLower(axis)] = true
}

// Unlock unlocks an axis
func (l *AxisLocker) Unlock(axis string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locked, strings.ToLower(axis))
}

// Locked returns true if the axis is locked
func (l *AxisLocker) Locked(axis string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked[strings.ToLower(axis)]
}

// Check is an HTTP middleware that returns http.StatusLocked for requests
// under /axis/{axis}/ while that axis is locked.  Reads are allowed.
func (l *AxisLocker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || strings.HasSuffix(r.URL.Path, "/lock") {
			next.ServeHTTP(w, r)
			return
		}
		// this runs before routing, so the axis is taken from the path
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		for i := 0; i < len(parts)-1; i++ {
			if parts[i] == "axis" && l.Locked(parts[i+1]) {
				http.Error(w, "axis "+parts[i+1]+" is locked", http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks the axis in the URL based on json:bool on the request body
func (l *AxisLocker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	axis := chi.URLParam(r, "axis")
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock(axis)
	} else {
		l.Unlock(axis)
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked(axis) over HTTP as JSON
func (l *AxisLocker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked(chi.URLParam(r, "axis"))}
	hp.EncodeAndRespond(w, r)
}
