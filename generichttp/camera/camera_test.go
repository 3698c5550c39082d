package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/yolab/thorimager/generichttp"
	"github.com/yolab/thorimager/imgrec"
)

type fakeCam struct {
	ring int
}

func (f *fakeCam) CameraImage() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for x := 0; x < 8; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x * 30), A: 255})
	}
	return img, nil
}

func (f *fakeCam) SetRingLightIntensity(i int) error {
	f.ring = i
	return nil
}

func (f *fakeCam) CollectHeaderMetadata() []fitsio.Card {
	return []fitsio.Card{{Name: "DEVICE", Value: "Ganymede"}}
}

func TestGetFrameFormats(t *testing.T) {
	h := GetFrame(&fakeCam{}, nil)
	for _, fmt := range []string{"", "png", "fits"} {
		req := httptest.NewRequest(http.MethodGet, "/camera/image?fmt="+fmt, nil)
		w := httptest.NewRecorder()
		h(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("fmt=%q: status %d", fmt, w.Code)
		}
		body := w.Body.Bytes()
		switch fmt {
		case "":
			if _, err := jpeg.Decode(bytes.NewReader(body)); err != nil {
				t.Error(err)
			}
		case "png":
			img, err := png.Decode(bytes.NewReader(body))
			if err != nil {
				t.Fatal(err)
			}
			if img.Bounds().Dx() != 8 {
				t.Errorf("expected width 8, got %d", img.Bounds().Dx())
			}
		case "fits":
			if !strings.HasPrefix(string(body), "SIMPLE") {
				t.Error("fits body does not start with SIMPLE")
			}
			if !bytes.Contains(body, []byte("DEVICE")) {
				t.Error("metadata card missing from header")
			}
		}
	}
}

func TestGetFrameBadFormat(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/camera/image?fmt=bmp", nil)
	w := httptest.NewRecorder()
	GetFrame(&fakeCam{}, nil)(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetFrameAutowrite(t *testing.T) {
	rec := &imgrec.Recorder{Root: t.TempDir(), Prefix: "cam", Enabled: true}
	req := httptest.NewRequest(http.MethodGet, "/camera/image?fmt=png", nil)
	w := httptest.NewRecorder()
	GetFrame(&fakeCam{}, rec)(w, req)
	entries, err := os.ReadDir(rec.Root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one dated folder, got %d entries", len(entries))
	}
}

func TestHTTPPictureRingLight(t *testing.T) {
	cam := &fakeCam{}
	rt := generichttp.RouteTable{}
	HTTPPicture(cam, rt, nil)
	h, ok := rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/camera/ring-light"}]
	if !ok {
		t.Fatal("ring light route not injected")
	}
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/camera/ring-light", strings.NewReader(`{"int":40}`)))
	if w.Code != http.StatusOK || cam.ring != 40 {
		t.Errorf("status %d ring %d", w.Code, cam.ring)
	}
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/camera/ring-light", strings.NewReader(`{"int":140}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out of range intensity, got %d", w.Code)
	}
}

func TestWriteFitsNoFrames(t *testing.T) {
	if err := WriteFits(&bytes.Buffer{}, nil, nil); err != ErrNoFrames {
		t.Errorf("expected ErrNoFrames, got %v", err)
	}
}
