// Package camera provides a generic HTTP interface to the video camera in an OCT scan head
package camera

import (
	"encoding/json"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"

	"github.com/astrogo/fitsio"
	"github.com/yolab/thorimager/generichttp"
	"github.com/yolab/thorimager/imgrec"
)

// JPEGQuality is the quality used for jpg frames
const JPEGQuality = 95

// ImageSource describes anything that can produce a single frame
type ImageSource interface {
	// CameraImage grabs a frame
	CameraImage() (image.Image, error)
}

// RingLighter describes a camera with an adjustable ring light
type RingLighter interface {
	// SetRingLightIntensity sets the ring light, 0..100 percent
	SetRingLightIntensity(int) error
}

// MetadataMaker can produce FITS header cards describing the source of a frame
type MetadataMaker interface {
	CollectHeaderMetadata() []fitsio.Card
}

// HTTPPicture injects GET /camera/image into the route table,
// and POST /camera/ring-light if src is a RingLighter
func HTTPPicture(src ImageSource, table generichttp.RouteTable, rec *imgrec.Recorder) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/camera/image"}] = GetFrame(src, rec)
	if rl, ok := src.(RingLighter); ok {
		table[generichttp.MethodPath{Method: http.MethodPost, Path: "/camera/ring-light"}] = SetRingLight(rl)
	}
}

// SetRingLight returns an HTTP handler func that sets the ring light intensity
// from an IntT payload
func SetRingLight(rl RingLighter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := generichttp.IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if i.Int < 0 || i.Int > 100 {
			http.Error(w, "ring light intensity must be in [0,100]", http.StatusBadRequest)
			return
		}
		err = rl.SetRingLightIntensity(i.Int)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetFrame returns an HTTP handler func that returns a frame from the camera.
//
// The format is selected with the fmt query parameter, one of jpg, png, or fits.
// jpg is the default.  When rec is enabled, each frame served is also written
// to the recorder.
func GetFrame(src ImageSource, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "jpg"
		}
		var contentType string
		switch format {
		case "jpg":
			contentType = "image/jpeg"
		case "png":
			contentType = "image/png"
		case "fits":
			contentType = "image/fits"
		default:
			http.Error(w, "fmt must be one of jpg, png, fits", http.StatusBadRequest)
			return
		}

		img, err := src.CameraImage()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// declare a writer to use to stream the file to
		var w2 io.Writer = w
		if rec != nil && rec.Active() {
			f, err := rec.Next(format)
			if err != nil {
				log.Println("autowrite:", err)
			} else {
				defer f.Close()
				w2 = io.MultiWriter(w, f)
			}
		}

		hdr := w.Header()
		hdr.Set("Content-Type", contentType)
		switch format {
		case "jpg":
			err = jpeg.Encode(w2, img, &jpeg.Options{Quality: JPEGQuality})
		case "png":
			err = png.Encode(w2, img)
		case "fits":
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			cards := []fitsio.Card{}
			if carder, ok := src.(MetadataMaker); ok {
				cards = carder.CollectHeaderMetadata()
			}
			err = WriteFits(w2, cards, []image.Image{img})
		}
		if err != nil {
			// headers are already gone
			log.Println("camera frame encode:", err)
		}
	}
}
