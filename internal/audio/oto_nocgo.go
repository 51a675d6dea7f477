//go:build nocgo
// +build nocgo

package audio

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
)

// OtoDevice is unavailable in builds without cgo.
type OtoDevice struct{}

// NewOtoDevice always fails in nocgo builds.
func NewOtoDevice(Config, *log.Logger) (*OtoDevice, error) {
	return nil, errors.New("audio not available in nocgo build")
}

// Play implements Device.
func (*OtoDevice) Play(context.Context, []byte) error {
	return errors.New("audio not available in nocgo build")
}

// Close implements Device.
func (*OtoDevice) Close() error { return nil }
