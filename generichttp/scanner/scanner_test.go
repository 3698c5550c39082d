package scanner

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.com/yolab/thorimager/oct"
	"github.com/yolab/thorimager/spectralradar"
)

type fixture struct {
	dir  string
	mock *spectralradar.Mock
	srv  *httptest.Server
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	ini := filepath.Join(dir, "Probe.ini")
	chirp := filepath.Join(dir, "Chirp.dat")
	os.WriteFile(ini, []byte("[Probe]\n"), 0o644)
	os.WriteFile(chirp, []byte{1, 2, 3, 4}, 0o644)
	m := spectralradar.NewMock("Telesto")
	s, err := oct.Init(m, ini, oct.WithChirpPath(chirp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	h := NewHTTPScanner(s, nil)
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fixture{dir: dir, mock: m, srv: srv}
}

func (f fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestGetDevice(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/device")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var d Device
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if d.Name != "Telesto" || d.ScanRate != 28000 || filepath.Base(d.ProbeIni) != "Probe.ini" {
		t.Errorf("unexpected device %+v", d)
	}
}

func TestScanVolume(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "vol")
	body, _ := json.Marshal(oct.VolumeScan{RangeX: 1, RangeY: 1, SizeX: 8, SizeY: 2, BScanAvg: 1, OutputDir: out})
	resp := f.post(t, "/scan/volume", string(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var vr VolumeResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"Data_Y0002_YTotal2_B0001_BTotal1_Telesto.srr",
		"Data_Y0001_YTotal2_B0001_BTotal1_Telesto.srr",
	}
	if diff := cmp.Diff(want, vr.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	mresp, err := http.Get(f.srv.URL + "/scan/manifest?dir=" + url.QueryEscape(out))
	if err != nil {
		t.Fatal(err)
	}
	defer mresp.Body.Close()
	var man oct.Manifest
	if err := json.NewDecoder(mresp.Body).Decode(&man); err != nil {
		t.Fatal(err)
	}
	if len(man.Frames) != 2 || man.Device.Name != "Telesto" {
		t.Errorf("unexpected manifest %+v", man)
	}

	vresp, err := http.Get(f.srv.URL + "/scan/verify?dir=" + url.QueryEscape(out))
	if err != nil {
		t.Fatal(err)
	}
	defer vresp.Body.Close()
	var bad []string
	if err := json.NewDecoder(vresp.Body).Decode(&bad); err != nil {
		t.Fatal(err)
	}
	if len(bad) != 0 {
		t.Errorf("expected every frame to verify, got %v", bad)
	}

	fresp, err := http.Get(f.srv.URL + "/scan/file?dir=" + url.QueryEscape(out) + "&name=" + want[0])
	if err != nil {
		t.Fatal(err)
	}
	frame, _ := io.ReadAll(fresp.Body)
	fresp.Body.Close()
	onDisk, _ := os.ReadFile(filepath.Join(out, want[0]))
	if fresp.StatusCode != http.StatusOK || len(frame) == 0 || string(frame) != string(onDisk) {
		t.Errorf("frame download: status %d, %d bytes", fresp.StatusCode, len(frame))
	}
	if vr.OCTFile != "VolumeTelestoOCTFile.oct" {
		t.Errorf("unexpected OCT file %q", vr.OCTFile)
	}
	fresp, err = http.Get(f.srv.URL + "/scan/file?dir=" + url.QueryEscape(out) + "&name=" + vr.OCTFile)
	if err != nil {
		t.Fatal(err)
	}
	fresp.Body.Close()
	if fresp.StatusCode != http.StatusOK {
		t.Errorf("OCT file download: status %d", fresp.StatusCode)
	}
	fresp, err = http.Get(f.srv.URL + "/scan/file?dir=" + url.QueryEscape(out) + "&name=..%2FProbe.ini")
	if err != nil {
		t.Fatal(err)
	}
	fresp.Body.Close()
	if fresp.StatusCode != http.StatusNotFound {
		t.Errorf("files outside the volume must not be served, got %d", fresp.StatusCode)
	}

	// the same directory a second time is a conflict
	resp2 := f.post(t, "/scan/volume", string(body))
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for existing output, got %d", resp2.StatusCode)
	}
}

func TestScanVolumeBadRequest(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{"sizeX":`, `{"sizeX":0,"sizeY":1,"bScanAvg":1,"outputDir":"x"}`} {
		resp := f.post(t, "/scan/volume", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestScanVolumeFrameErrors(t *testing.T) {
	f := newFixture(t)
	f.mock.FailFrames[0] = true
	body, _ := json.Marshal(oct.VolumeScan{RangeX: 1, RangeY: 1, SizeX: 8, SizeY: 2, BScanAvg: 1, OutputDir: filepath.Join(f.dir, "errs")})
	resp := f.post(t, "/scan/volume", string(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var vr VolumeResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		t.Fatal(err)
	}
	if len(vr.FrameErrors) != 1 || len(vr.Files) != 1 {
		t.Errorf("expected 1 file and 1 frame error, got %+v", vr)
	}
}

func TestPhotobleachLine(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/photobleach/line", `{"xStart":0,"yStart":0,"xEnd":1,"yEnd":1,"duration":0.01,"repetition":1}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if f.mock.Measuring() {
		t.Error("measurement should be stopped after the bleach")
	}
	resp = f.post(t, "/photobleach/line", `{"duration":1,"repetition":0}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCameraRoutes(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/camera/image?fmt=png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); resp.StatusCode != http.StatusOK || ct != "image/png" {
		t.Errorf("status %d content type %s", resp.StatusCode, ct)
	}
	resp = f.post(t, "/camera/ring-light", `{"int":25}`)
	resp.Body.Close()
	if v, ok := f.mock.Output(oct.RingLight); !ok || v != 25 {
		t.Errorf("expected ring light at 25, got %v", v)
	}
}

func TestEndpoints(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/endpoints")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var eps []string
	if err := json.NewDecoder(resp.Body).Decode(&eps); err != nil {
		t.Fatal(err)
	}
	if len(eps) != 8 {
		t.Errorf("expected 8 endpoints, got %v", eps)
	}
}
