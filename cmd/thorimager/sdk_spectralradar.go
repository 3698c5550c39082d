//go:build spectralradar

package main

import "github.com/yolab/thorimager/spectralradar"

func openSpectralRadar() (spectralradar.Device, error) {
	return spectralradar.Open()
}
