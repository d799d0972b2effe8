// Package namespace names the versioned store generations of an application.
//
// The static group is named `<app-id>-v<version>`, the external group
// `<app-id>-v<version>-cdn` and the API fallback group `<app-id>-v<version>-api`.
// Changing the version is all it takes to migrate to a new generation.
package namespace

import "strings"

const (
	ExternalSuffix = "-cdn"
	APISuffix      = "-api"
)

type Namespaces struct {
	AppID   string
	Version string
}

// New returns the namespaces of the given application version.
// A leading "v" in the version is ignored, so "v2" and "2" are equal.
func New(appID, version string) Namespaces {
	return Namespaces{
		AppID:   appID,
		Version: strings.TrimPrefix(version, "v"),
	}
}

func (n Namespaces) prefix() string {
	return n.AppID + "-v"
}

// Static is the default namespace, holding local static assets.
func (n Namespaces) Static() string {
	return n.prefix() + n.Version
}

// External holds external (CDN, fonts) assets.
func (n Namespaces) External() string {
	return n.Static() + ExternalSuffix
}

// API holds fallbacks for API requests.
func (n Namespaces) API() string {
	return n.Static() + APISuffix
}

// Current returns all namespaces of the running version.
func (n Namespaces) Current() []string {
	return []string{n.Static(), n.External(), n.API()}
}

// IsCurrent reports whether the namespace belongs to the running version.
func (n Namespaces) IsCurrent(name string) bool {
	for _, ns := range n.Current() {
		if ns == name {
			return true
		}
	}
	return false
}

// VersionOf returns the version tag of a namespace of this application.
// The boolean is false if the namespace does not belong to the application.
// A version tag starts with a digit and contains no "-", so `app-vendor-v1`
// belongs to the application `app-vendor`, not to `app`.
func (n Namespaces) VersionOf(name string) (string, bool) {
	if !strings.HasPrefix(name, n.prefix()) {
		return "", false
	}
	version := strings.TrimPrefix(name, n.prefix())
	version = strings.TrimSuffix(version, ExternalSuffix)
	version = strings.TrimSuffix(version, APISuffix)
	if !isVersionTag(version) {
		return "", false
	}
	return version, true
}

func isVersionTag(version string) bool {
	if version == "" || version[0] < '0' || version[0] > '9' {
		return false
	}
	return !strings.Contains(version, "-")
}

// IsStale reports whether the namespace belongs to the application
// but to another version than the running one.
func (n Namespaces) IsStale(name string) bool {
	_, ok := n.VersionOf(name)
	return ok && !n.IsCurrent(name)
}
