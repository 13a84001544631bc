//go:build darwin

package device

import "golang.org/x/sys/unix"

func platformName() string { return "macos" }

// platformVersion returns the marketing version (e.g. 15.3) rather than
// the Darwin kernel release.
func platformVersion(kernel string) string {
	if v, err := unix.Sysctl("kern.osproductversion"); err == nil && v != "" {
		return v
	}
	return kernel
}
