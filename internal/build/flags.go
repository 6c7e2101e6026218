// SPDX-License-Identifier: MIT
//
// Package build holds the release metadata linked into the daq binary.
//
//	go build -ldflags "-X daq/internal/build.buildName=daq \
//	  -X daq/internal/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ) \
//	  -X daq/internal/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X daq/internal/build.buildVersion=0.1.0"
package build

import (
	"errors"
	"fmt"
	"time"
)

// Info describes the running binary for --help, --version and the version
// command.
type Info struct {
	Name        string
	Description string
	Time        string // RFC3339, UTC
	Commit      string
	Version     string
}

const (
	description = "Stream a DAQ device and publish its averaged power spectra"
	unknown     = "unknown"
	devVersion  = "dev"
)

// Set with -ldflags -X. Empty in `go run` and test binaries.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var current = defaultInfo()

func defaultInfo() *Info {
	return &Info{
		Name:        unknown,
		Description: description,
		Time:        unknown,
		Commit:      unknown,
		Version:     unknown,
	}
}

// Initialize copies the linked-in values into the current Info. Every
// missing value is reported in the returned error and nothing is copied
// unless all four are present and the build time parses.
func Initialize() error {
	var errs []error
	for _, f := range []struct{ flag, value string }{
		{"buildName", buildName},
		{"buildTime", buildTime},
		{"buildCommit", buildCommit},
		{"buildVersion", buildVersion},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("ldflag %s is not set", f.flag))
		}
	}
	if buildTime != "" {
		if _, err := time.Parse(time.RFC3339, buildTime); err != nil {
			errs = append(errs, fmt.Errorf("ldflag buildTime %q is not RFC3339", buildTime))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	current.Name = buildName
	current.Time = buildTime
	current.Commit = buildCommit
	current.Version = buildVersion
	return nil
}

// InitializeDev is Initialize for development builds. Whatever was linked in
// is kept; the name falls back to fallbackName and the version to "dev".
func InitializeDev(fallbackName string) {
	if Initialize() == nil {
		return
	}
	current.Name = orDefault(buildName, fallbackName)
	current.Version = orDefault(buildVersion, devVersion)
	current.Commit = orDefault(buildCommit, unknown)
	current.Time = orDefault(buildTime, unknown)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Get returns the build information of the running binary.
func Get() *Info {
	return current
}

func (i *Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}
