// Package contextprobe produces the best-effort environment snapshot attached
// to submissions. Probing never fails: whatever cannot be determined is simply
// left absent, with locale and timezone as the minimal guaranteed fields.
package contextprobe

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"feedback-widget/internal/models"
)

// Prober returns a context snapshot for the current environment.
type Prober interface {
	Context(ctx context.Context) models.Context
}

// Runtime probes the Go runtime and process environment.
type Runtime struct {
	// AppVersion is the embedding application's version, when it cares to say.
	AppVersion string
}

func (r Runtime) Context(_ context.Context) models.Context {
	snap := models.Context{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Locale:     localeFromEnv(),
		Timezone:   timezone(),
		AppVersion: r.AppVersion,
	}
	if host, err := os.Hostname(); err == nil {
		snap.Device = host
	}
	return snap
}

func localeFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			// "en_US.UTF-8" -> "en_US"
			if i := strings.IndexByte(v, '.'); i > 0 {
				v = v[:i]
			}
			return v
		}
	}
	return "en_US"
}

func timezone() string {
	name, _ := time.Now().Zone()
	if name == "" {
		return "UTC"
	}
	return name
}

// Static returns a fixed snapshot; handy for tests and for embedders that
// already know their environment.
type Static struct {
	Snapshot models.Context
}

func (s Static) Context(_ context.Context) models.Context { return s.Snapshot }
