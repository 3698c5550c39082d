package motion

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/yolab/thorimager/generichttp"
)

// Speeder has a velocity setpoint per axis, in mm/s
type Speeder interface {
	SetVelocity(string, float64) error
	GetVelocity(string) (float64, error)
}

// HTTPSpeed adds the velocity routes of s to table
func HTTPSpeed(s Speeder, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/velocity"}] = SetVelocity(s)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/velocity"}] = GetVelocity(s)
}

// SetVelocity returns a handler which sets the velocity of the axis
func SetVelocity(s Speeder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, ok := decodeFloat(w, r)
		if !ok {
			return
		}
		if err := s.SetVelocity(chi.URLParam(r, "axis"), v); err != nil {
			replyError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetVelocity returns a handler replying with the velocity of the axis
func GetVelocity(s Speeder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.GetVelocity(chi.URLParam(r, "axis"))
		replyFloat(w, r, v, err)
	}
}
