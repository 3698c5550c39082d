package motion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/yolab/thorimager/generichttp"
	"github.com/yolab/thorimager/kinesis"
	"github.com/yolab/thorimager/stage"
	"github.com/yolab/thorimager/util"
)

type fakeMover struct {
	pos map[string]float64
	vel map[string]float64
}

func newFakeMover() *fakeMover {
	return &fakeMover{pos: map[string]float64{"x": 1, "y": 2}, vel: map[string]float64{}}
}

func (f *fakeMover) GetPos(axis string) (float64, error) {
	p, ok := f.pos[axis]
	if !ok {
		return 0, fmt.Errorf("%w: %q", stage.ErrUnknownAxis, axis)
	}
	return p, nil
}

func (f *fakeMover) MoveAbs(axis string, p float64) error {
	if _, ok := f.pos[axis]; !ok {
		return fmt.Errorf("%w: %q", stage.ErrUnknownAxis, axis)
	}
	f.pos[axis] = p
	return nil
}

func (f *fakeMover) MoveRel(axis string, d float64) error {
	p, err := f.GetPos(axis)
	if err != nil {
		return err
	}
	f.pos[axis] = p + d
	return nil
}

func (f *fakeMover) Home(axis string) error {
	return f.MoveAbs(axis, 0)
}

func (f *fakeMover) SetVelocity(axis string, v float64) error {
	f.vel[axis] = v
	return nil
}

func (f *fakeMover) GetVelocity(axis string) (float64, error) {
	return f.vel[axis], nil
}

func newServer(t *testing.T, m Mover, limits map[string]util.Limiter) *httptest.Server {
	t.Helper()
	h := NewHTTPMotionController(m)
	r := chi.NewRouter()
	if limits != nil {
		lm := LimitMiddleware{Limits: limits, Mov: m}
		lm.Inject(h)
		r.Use(lm.Check)
	}
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestRoutesIncludeSpeeder(t *testing.T) {
	h := NewHTTPMotionController(newFakeMover())
	if _, ok := h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/velocity"}]; !ok {
		t.Error("velocity routes should be injected for a Speeder")
	}
}

func TestGetPos(t *testing.T) {
	srv := newServer(t, newFakeMover(), nil)
	resp, err := http.Get(srv.URL + "/axis/y/pos")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	f := generichttp.FloatT{}
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 2 {
		t.Errorf("expected 2, got %f", f.F64)
	}
}

func TestSetPosAbsoluteAndRelative(t *testing.T) {
	m := newFakeMover()
	srv := newServer(t, m, nil)
	if code := post(t, srv.URL+"/axis/x/pos", `{"f64":5}`); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if code := post(t, srv.URL+"/axis/x/pos?relative=true", `{"f64":-1.5}`); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if m.pos["x"] != 3.5 {
		t.Errorf("expected x at 3.5, got %f", m.pos["x"])
	}
	if code := post(t, srv.URL+"/axis/x/pos?relative=maybe", `{"f64":1}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad relative flag, got %d", code)
	}
	if code := post(t, srv.URL+"/axis/x/pos", `{"f64":`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body, got %d", code)
	}
	if code := post(t, srv.URL+"/axis/q/pos", `{"f64":1}`); code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown axis, got %d", code)
	}
}

func TestHomeAndVelocity(t *testing.T) {
	m := newFakeMover()
	srv := newServer(t, m, nil)
	if code := post(t, srv.URL+"/axis/y/home", ""); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if m.pos["y"] != 0 {
		t.Errorf("expected y homed, at %f", m.pos["y"])
	}
	if code := post(t, srv.URL+"/axis/y/velocity", `{"f64":0.5}`); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if m.vel["y"] != 0.5 {
		t.Errorf("expected velocity 0.5, got %f", m.vel["y"])
	}
}

func TestLimitMiddleware(t *testing.T) {
	m := newFakeMover()
	srv := newServer(t, m, map[string]util.Limiter{"x": {Min: 0, Max: 10}})
	if code := post(t, srv.URL+"/axis/x/pos", `{"f64":11}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 beyond the limit, got %d", code)
	}
	if code := post(t, srv.URL+"/axis/x/pos?relative=true", `{"f64":9.5}`); code != http.StatusBadRequest {
		t.Errorf("expected 400 for a relative move beyond the limit, got %d", code)
	}
	if m.pos["x"] != 1 {
		t.Errorf("x should not have moved, at %f", m.pos["x"])
	}
	if code := post(t, srv.URL+"/axis/x/pos", `{"f64":9}`); code != http.StatusOK {
		t.Errorf("expected 200 inside the limit, got %d", code)
	}
	// axes without limits pass through
	if code := post(t, srv.URL+"/axis/y/pos", `{"f64":100}`); code != http.StatusOK {
		t.Errorf("expected 200 for an unlimited axis, got %d", code)
	}

	resp, err := http.Get(srv.URL + "/axis/x/limits")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var lim util.Limiter
	if err := json.NewDecoder(resp.Body).Decode(&lim); err != nil {
		t.Fatal(err)
	}
	if lim.Max != 10 {
		t.Errorf("expected max 10, got %+v", lim)
	}
}

func TestAxisFromPath(t *testing.T) {
	cases := map[string]string{
		"/axis/x/pos":            "x",
		"/stage/axis/z/pos":      "z",
		"/axis":                  "",
		"/emission":              "",
		"/stage/axis/y/velocity": "y",
	}
	for in, want := range cases {
		if got := axisFromPath(in); got != want {
			t.Errorf("axisFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: %q", stage.ErrUnknownAxis, "q"), http.StatusNotFound},
		{fmt.Errorf("axis x: %w", stage.ErrMoveTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("axis x: %w", stage.ErrMoveStopped), http.StatusConflict},
		{stage.ErrClosed, http.StatusServiceUnavailable},
		{kinesis.Error{Code: 2}, http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := StatusFor(c.err); got != c.code {
			t.Errorf("StatusFor(%v) = %d, want %d", c.err, got, c.code)
		}
	}
}

func openStage(t *testing.T, m *kinesis.Mock, moveTimeout time.Duration) *stage.Controller {
	t.Helper()
	c, err := stage.Open(context.Background(), func(string) kinesis.Device { return m },
		[]string{"x"}, moveTimeout, stage.WithPollInterval(2*time.Millisecond), stage.WithOpenRetry(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestStageErrorsOverHTTP(t *testing.T) {
	m := kinesis.NewMock(stage.SerialNumber("x"))
	m.Stuck = true
	c := openStage(t, m, 30*time.Millisecond)
	srv := newServer(t, c, nil)
	if code := post(t, srv.URL+"/axis/x/pos", `{"f64":1}`); code != http.StatusGatewayTimeout {
		t.Errorf("expected 504 for a move that never completes, got %d", code)
	}
	resp, err := http.Get(srv.URL + "/axis/q/pos")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown axis, got %d", resp.StatusCode)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if code := post(t, srv.URL+"/axis/x/home", ""); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for a closed stage, got %d", code)
	}
}
