// Package features computes per-frame feature vectors from an ordered CAN
// frame stream: elapsed-time intervals, trailing-window frequencies and
// count-window statistics and entropies.
//
// Every computation depends on the frames before it, so one Pass must see
// one interface's frames in timestamp order. Independent passes share nothing
// and may run in parallel.
package features

import (
	"errors"
	"fmt"
)

// Defaults match the original AutoHack preprocessing.
const (
	DefaultWindowSize    = 10
	DefaultTimeSize      = 10.0
	DefaultRollingWindow = 10.0
)

// ErrOutOfOrder is returned when a pass sees a timestamp earlier than the
// previous frame's.
var ErrOutOfOrder = errors.New("frame timestamps out of order")

// Config is the immutable extraction configuration.
type Config struct {
	// Set names the feature set: compact, standard or extended.
	Set string
	// WindowSize is the count window used by statistical features.
	WindowSize int
	// TimeSize fills first-occurrence intervals, in seconds.
	TimeSize float64
	// RollingWindow is the trailing frequency window, in seconds.
	RollingWindow float64
}

// DefaultConfig returns the extended set with the default windows.
func DefaultConfig() Config {
	return Config{
		Set:           SetExtended,
		WindowSize:    DefaultWindowSize,
		TimeSize:      DefaultTimeSize,
		RollingWindow: DefaultRollingWindow,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", c.WindowSize)
	}
	if c.TimeSize <= 0 {
		return fmt.Errorf("time size must be positive, got %v", c.TimeSize)
	}
	if c.RollingWindow <= 0 {
		return fmt.Errorf("rolling window must be positive, got %v", c.RollingWindow)
	}
	if _, err := LookupSet(c.Set); err != nil {
		return err
	}
	return nil
}
