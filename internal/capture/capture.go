// Package capture models screenshot acquisition as an optional capability:
// platforms that can grab the screen plug in an implementation, everything
// else gets the null object. The toolkit core only ever carries the returned
// reference string, never image bytes.
package capture

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by Capture on platforms without screen access.
var ErrUnsupported = errors.New("capture: screenshots not supported on this platform")

// ScreenCapturer grabs the current screen and returns a reference handle
// (a local file path) to the captured image.
type ScreenCapturer interface {
	// Supported reports whether this platform can capture at all. Decided
	// once at construction, so call sites need no presence checks.
	Supported() bool
	Capture(ctx context.Context) (string, error)
}

// Unsupported is the null object used when no platform capturer is wired in.
type Unsupported struct{}

func (Unsupported) Supported() bool { return false }

func (Unsupported) Capture(context.Context) (string, error) {
	return "", ErrUnsupported
}
