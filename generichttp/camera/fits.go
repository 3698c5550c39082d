package camera

import (
	"errors"
	"image"
	"image/color"
	"io"

	"github.com/astrogo/fitsio"
)

// ErrNoFrames is generated when WriteFits is called with no images
var ErrNoFrames = errors.New("no frames to write")

// WriteFits streams a fits file to w.  Frames are converted to 16-bit grayscale.
// More than one frame produces a cube; all frames must have the same size.
func WriteFits(w io.Writer, metadata []fitsio.Card, imgs []image.Image) error {
	if len(imgs) == 0 {
		return ErrNoFrames
	}
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	nframes := len(imgs)
	b := imgs[0].Bounds()
	width, height := b.Dx(), b.Dy()
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if nframes > 1 {
		dims = append(dims, nframes)
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	ints := make([]int16, width*height*nframes)
	offset := 0
	for _, img := range imgs {
		bb := img.Bounds()
		if bb.Dx() != width || bb.Dy() != height {
			return errors.New("all frames in a cube must have the same size")
		}
		for y := bb.Min.Y; y < bb.Max.Y; y++ {
			for x := bb.Min.X; x < bb.Max.X; x++ {
				g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				ints[offset] = int16(int32(g.Y) - 32768)
				offset++
			}
		}
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
