//go:build !kinesis

package main

import (
	"errors"

	"github.com/yolab/thorimager/kinesis"
)

const kinesisAvailable = false

var errKinesisUnavailable = errors.New("built without the Kinesis SDK (build tag kinesis), only Mock is available")

func newKCube() kinesis.Device {
	return nil
}
