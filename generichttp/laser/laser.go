// Package laser exposes control of laser controllers over HTTP
package laser

import (
	"net/http"

	"github.com/yolab/thorimager/generichttp"
)

// Controller is a basic interface for laser controllers
type Controller interface {
	// SetEmission turns emission on or off
	SetEmission(bool) error

	// GetEmission queries if the laser is currently outputting
	GetEmission() (bool, error)
}

// SetEmission configures the output state of the laser
func SetEmission(c Controller) http.HandlerFunc {
	return generichttp.SetBool(c.SetEmission)
}

// GetEmission queries the output state of the laser
func GetEmission(c Controller) http.HandlerFunc {
	return generichttp.GetBool(c.GetEmission)
}

// CurrentController can control its output current
type CurrentController interface {
	// SetCurrent sets the output current setpoint of the controller
	SetCurrent(float64) error

	// GetCurrent retrieves the output current setpoint of the controller
	GetCurrent() (float64, error)
}

// SetCurrent configures the output current of the laser
func SetCurrent(c CurrentController) http.HandlerFunc {
	return generichttp.SetFloat(c.SetCurrent)
}

// GetCurrent queries the output current of the laser
func GetCurrent(c CurrentController) http.HandlerFunc {
	return generichttp.GetFloat(c.GetCurrent)
}

// TECController can switch the thermoelectric cooler of the laser mount
type TECController interface {
	// SetTECOutput turns the TEC on or off
	SetTECOutput(bool) error

	// GetTECOutput queries if the TEC is on
	GetTECOutput() (bool, error)
}

// SetTEC configures the TEC output
func SetTEC(c TECController) http.HandlerFunc {
	return generichttp.SetBool(c.SetTECOutput)
}

// GetTEC queries the TEC output
func GetTEC(c TECController) http.HandlerFunc {
	return generichttp.GetBool(c.GetTECOutput)
}

// HTTPLaserController wraps a LaserController in an HTTP route table
type HTTPLaserController struct {
	// Ctl is the underlying laser controller
	Ctl Controller

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPLaserController returns a new HTTP wrapper around an existing laser controller
func NewHTTPLaserController(ctl Controller) HTTPLaserController {
	h := HTTPLaserController{Ctl: ctl}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/emission"}:  GetEmission(ctl),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/emission"}: SetEmission(ctl),
	}
	if currentctl, ok := interface{}(ctl).(CurrentController); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/current"}] = GetCurrent(currentctl)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/current"}] = SetCurrent(currentctl)
	}
	if tecctl, ok := interface{}(ctl).(TECController); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/tec"}] = GetTEC(tecctl)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/tec"}] = SetTEC(tecctl)
	}
	h.RouteTable = rt
	return h
}

// RT safisfies the generichttp.HTTPer interface
func (h HTTPLaserController) RT() generichttp.RouteTable {
	return h.RouteTable
}
