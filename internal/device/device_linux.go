//go:build linux

package device

func platformName() string { return "linux" }

func platformVersion(kernel string) string { return kernel }
