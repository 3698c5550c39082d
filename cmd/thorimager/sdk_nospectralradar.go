//go:build !spectralradar

package main

import (
	"errors"

	"github.com/yolab/thorimager/spectralradar"
)

func openSpectralRadar() (spectralradar.Device, error) {
	return nil, errors.New("built without the SpectralRadar SDK (build tag spectralradar), only Mock is available")
}
