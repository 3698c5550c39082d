package motion

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"github.com/yolab/thorimager/generichttp"
	"github.com/yolab/thorimager/stage"
)

// StatusFor returns the HTTP status code for an error from a stage
// controller.  Errors from the device itself are 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, stage.ErrUnknownAxis):
		return http.StatusNotFound
	case errors.Is(err, stage.ErrMoveTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, stage.ErrMoveStopped):
		return http.StatusConflict
	case errors.Is(err, stage.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func replyError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusFor(err))
}

// decodeFloat reads a FloatT from the body, replying 400 if it is malformed
func decodeFloat(w http.ResponseWriter, r *http.Request) (float64, bool) {
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return f.F64, true
}

func replyFloat(w http.ResponseWriter, r *http.Request, f float64, err error) {
	if err != nil {
		replyError(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Float64, Float: f}
	hp.EncodeAndRespond(w, r)
}
