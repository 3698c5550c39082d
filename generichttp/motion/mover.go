package motion

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/yolab/thorimager/generichttp"
)

// Mover moves named axes.  Positions are in mm.
type Mover interface {
	// GetPos returns the current position of an axis
	GetPos(string) (float64, error)

	// MoveAbs moves an axis to a position and waits for it to arrive
	MoveAbs(string, float64) error

	// MoveRel moves an axis by a distance and waits for it to arrive
	MoveRel(string, float64) error

	// Home homes an axis
	Home(string) error
}

// HTTPMove adds the position and homing routes of m to table
func HTTPMove(m Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/home"}] = Home(m)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetPos(m)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = SetPos(m)
}

// GetPos returns a handler replying with the position of the axis
func GetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pos, err := m.GetPos(chi.URLParam(r, "axis"))
		replyFloat(w, r, pos, err)
	}
}

// parseRelative reads the relative query parameter, false if absent
func parseRelative(r *http.Request) (bool, error) {
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		return false, nil
	}
	return strconv.ParseBool(relative)
}

// SetPos returns a handler which moves the axis to the position in the body,
// or by it when the relative query parameter is true.  The response is sent
// once the move completes.
func SetPos(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		relative, err := parseRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, ok := decodeFloat(w, r)
		if !ok {
			return
		}
		axis := chi.URLParam(r, "axis")
		move := m.MoveAbs
		if relative {
			move = m.MoveRel
		}
		if err := move(axis, f); err != nil {
			replyError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Home returns a handler which homes the axis
func Home(m Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Home(chi.URLParam(r, "axis")); err != nil {
			replyError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
