// Package version хранит сведения о сборке, заполняемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/rms/internal/version.version=v1.2.0"
//
// Если commit и date не переданы, они берутся из VCS-меток бинарника.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

const unknown = "unknown"

var (
	version = "dev"
	commit  = unknown
	date    = unknown
)

var readBuildInfo = debug.ReadBuildInfo

// Build — сведения о сборке.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

// Get возвращает сведения о текущем бинарнике.
func Get() Build {
	b := Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
	if info, ok := readBuildInfo(); ok {
		b = b.withBuildInfo(info)
	}
	return b
}

// withBuildInfo дополняет незаданные через ldflags поля данными go build.
func (b Build) withBuildInfo(info *debug.BuildInfo) Build {
	if info == nil {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}

	var revision, at string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			at = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if b.Commit == unknown && revision != "" {
		b.Commit = revision[:min(len(revision), 12)]
		if dirty {
			b.Commit += "-dirty"
		}
	}
	if b.Date == unknown && at != "" {
		b.Date = at
	}
	return b
}

// GetVersion возвращает версию для health и трейсинга.
func GetVersion() string { return Get().Version }

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s go=%s", b.Version, b.Commit, b.Date, b.GoVersion)
}

// Fields — поля сборки для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version":    b.Version,
		"commit":     b.Commit,
		"date":       b.Date,
		"go_version": b.GoVersion,
	}
}
