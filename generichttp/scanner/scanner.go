// Package scanner provides an HTTP interface to an OCT scanner session
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/yolab/thorimager/generichttp"
	"github.com/yolab/thorimager/generichttp/camera"
	"github.com/yolab/thorimager/imgrec"
	"github.com/yolab/thorimager/oct"
	"github.com/yolab/thorimager/server"
)

// Scanner describes an OCT scanner session
type Scanner interface {
	Profile() oct.DeviceProfile
	ProbeIni() string
	ScanVolume(context.Context, oct.VolumeScan) (oct.VolumeResult, error)
	PhotobleachLine(context.Context, oct.Line) error
	CameraImage() (image.Image, error)
	SetRingLightIntensity(int) error
}

// Device is the response to GET /device
type Device struct {
	oct.DeviceProfile
	ProbeIni string `json:"probeIni"`
}

// VolumeResponse is the response to POST /scan/volume
type VolumeResponse struct {
	OutputDir   string   `json:"outputDir"`
	Files       []string `json:"files"`
	OCTFile     string   `json:"octFile,omitempty"`
	FrameErrors []string `json:"frameErrors,omitempty"`
}

// HTTPScanner wraps a Scanner in an HTTP route table
type HTTPScanner struct {
	s Scanner

	RouteTable generichttp.RouteTable
}

// NewHTTPScanner returns a new HTTP wrapper around s.  Camera frames are also
// written to rec when it is enabled; rec may be nil.
func NewHTTPScanner(s Scanner, rec *imgrec.Recorder) HTTPScanner {
	h := HTTPScanner{s: s}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/device"}:            h.GetDevice,
		{Method: http.MethodPost, Path: "/scan/volume"}:      h.ScanVolume,
		{Method: http.MethodPost, Path: "/photobleach/line"}: h.PhotobleachLine,
		{Method: http.MethodGet, Path: "/scan/manifest"}:     GetManifest,
		{Method: http.MethodGet, Path: "/scan/verify"}:       Verify,
		{Method: http.MethodGet, Path: "/scan/file"}:         GetFile,
	}
	camera.HTTPPicture(cameraSource{s}, rt, rec)
	h.RouteTable = rt
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(&h)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPScanner) RT() generichttp.RouteTable {
	return h.RouteTable
}

// StatusFor maps an error from a scanner session to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, oct.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, oct.ErrOutputExists), errors.Is(err, oct.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, oct.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetDevice returns the device profile and probe configuration as JSON
func (h *HTTPScanner) GetDevice(w http.ResponseWriter, r *http.Request) {
	d := Device{DeviceProfile: h.s.Profile(), ProbeIni: h.s.ProbeIni()}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(d)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ScanVolume decodes a VolumeScan from the body and acquires it.
//
// If only some frames failed, the result is still returned as JSON with
// status 500 and the errors listed in frameErrors.
func (h *HTTPScanner) ScanVolume(w http.ResponseWriter, r *http.Request) {
	v := oct.VolumeScan{}
	err := json.NewDecoder(r.Body).Decode(&v)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.s.ScanVolume(r.Context(), v)
	if err != nil && len(res.FrameErrors) == 0 {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	resp := VolumeResponse{OutputDir: res.OutputDir, Files: res.Files, OCTFile: res.OCTFile}
	for _, ferr := range res.FrameErrors {
		resp.FrameErrors = append(resp.FrameErrors, ferr.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(resp)
}

// PhotobleachLine decodes a Line from the body and bleaches it.  The request
// does not return until the bleach is done; if the client goes away the
// bleach is stopped.
func (h *HTTPScanner) PhotobleachLine(w http.ResponseWriter, r *http.Request) {
	l := oct.Line{}
	err := json.NewDecoder(r.Body).Decode(&l)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.s.PhotobleachLine(r.Context(), l)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func readManifest(w http.ResponseWriter, r *http.Request) (oct.Manifest, string, bool) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		http.Error(w, "dir query parameter is required", http.StatusBadRequest)
		return oct.Manifest{}, dir, false
	}
	m, err := oct.ReadManifest(dir)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return m, dir, false
	}
	return m, dir, true
}

// GetManifest returns the manifest of the volume in the dir query parameter as JSON
func GetManifest(w http.ResponseWriter, r *http.Request) {
	m, _, ok := readManifest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(m)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Verify checks the frames of the volume in the dir query parameter against
// their checksums, returning the names of those that differ as a JSON array
func Verify(w http.ResponseWriter, r *http.Request) {
	m, dir, ok := readManifest(w, r)
	if !ok {
		return
	}
	bad, err := m.Verify(dir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if bad == nil {
		bad = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bad)
}

// GetFile serves a file written by a volume scan.  The name query parameter
// must be a frame in the manifest, the manifest, the OCT file or the chirp
// calibration.
func GetFile(w http.ResponseWriter, r *http.Request) {
	m, dir, ok := readManifest(w, r)
	if !ok {
		return
	}
	name := r.URL.Query().Get("name")
	known := name == oct.ManifestFilename || name == oct.ChirpFilename ||
		(m.OCTFile != "" && name == m.OCTFile) || m.Has(name)
	if !known {
		http.Error(w, fmt.Sprintf("%q is not part of the volume", name), http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, name, dir)
}

// cameraSource adds FITS metadata to the scanner's camera
type cameraSource struct {
	Scanner
}

func (c cameraSource) CollectHeaderMetadata() []fitsio.Card {
	p := c.Profile()
	return []fitsio.Card{
		{Name: "DEVICE", Value: p.Name, Comment: "OCT base unit"},
		{Name: "PROBE", Value: c.ProbeIni(), Comment: "probe configuration"},
		{Name: "DATE-OBS", Value: time.Now().UTC().Format(time.RFC3339), Comment: "frame capture time"},
	}
}
