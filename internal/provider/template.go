package provider

import (
	"runtime"
	"strings"
)

// OSName returns the identifier substituted for <os> on this platform.
func OSName() string { return osName(runtime.GOOS) }

// ArchName returns the identifier substituted for <arch> on this platform.
func ArchName() string { return archName(runtime.GOARCH) }

// ResolveAssetName replaces every <os> and <arch> placeholder in tmpl.
func ResolveAssetName(tmpl string) string {
	return resolveAssetName(tmpl, runtime.GOOS, runtime.GOARCH)
}

func resolveAssetName(tmpl, goos, goarch string) string {
	r := strings.NewReplacer("<os>", osName(goos), "<arch>", archName(goarch))
	return r.Replace(tmpl)
}

func osName(goos string) string {
	switch goos {
	case "darwin":
		return "macos"
	default:
		return goos
	}
}

func archName(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "386":
		return "x86"
	case "arm64":
		return "aarch64"
	default:
		return goarch
	}
}
