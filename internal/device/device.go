// Package device reports host information for diagnostics.
//
// Nothing here feeds authentication decisions; the presence authenticator
// has its own capability probe.
package device

import (
	"os"
	"runtime"
	"sync"
)

// Info is a snapshot of the host.
type Info struct {
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	Kernel          string `json:"kernel,omitempty"`
	Machine         string `json:"machine,omitempty"`
	Hostname        string `json:"hostname,omitempty"`
}

var (
	once   sync.Once
	cached Info
)

// Current returns host info, queried once per process.
func Current() Info {
	once.Do(func() {
		cached = Query()
	})
	return cached
}

// Query reads host info now.
func Query() Info {
	info := Info{Platform: platformName()}
	info.Kernel, info.Machine = uname()
	info.PlatformVersion = platformVersion(info.Kernel)
	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}
	if info.Machine == "" {
		info.Machine = runtime.GOARCH
	}
	return info
}
