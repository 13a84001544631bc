//go:build !linux && !darwin

package device

import "runtime"

func platformName() string { return runtime.GOOS }

func platformVersion(kernel string) string { return kernel }

func uname() (release, machine string) { return "", "" }
