//go:build kinesis

package main

import "github.com/yolab/thorimager/kinesis"

const kinesisAvailable = true

var errKinesisUnavailable error

func newKCube() kinesis.Device {
	return kinesis.NewKCube()
}
