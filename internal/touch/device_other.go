//go:build !linux

package touch

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnsupported is returned by Open on platforms without evdev.
var ErrUnsupported = errors.New("touch input requires linux evdev")

// Device is unavailable on this platform.
type Device struct{}

func Open(path string, logger *slog.Logger) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) Close() error { return nil }

func (d *Device) Run(ctx context.Context, out chan<- Gesture) error { return ErrUnsupported }
