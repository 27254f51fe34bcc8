// Package version reports build information attached to every run report.
package version

import (
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
)

// Version information (set via ldflags).
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// tracked lists dependencies whose versions are worth recording alongside a
// run, keyed by the tag name they appear under.
var tracked = map[string]string{
	"gocloud.dev":                             "gocloud_version",
	"github.com/klauspost/compress":           "zstd_version",
	"github.com/sirupsen/logrus":              "logrus_version",
	"go.opentelemetry.io/otel":                "otel_version",
	"github.com/HdrHistogram/hdrhistogram-go": "hdrhistogram_version",
}

// Tags returns the version tags of this build.
func Tags() map[string]string {
	info, _ := debug.ReadBuildInfo()
	return tags(info)
}

func tags(info *debug.BuildInfo) map[string]string {
	out := map[string]string{
		"streamfire_version": Version,
		"streamfire_commit":  GitSHA,
		"go_version":         runtime.Version(),
	}
	if info == nil {
		return out
	}
	if info.GoVersion != "" {
		out["go_version"] = info.GoVersion
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		out["streamfire_version"] = v
	}
	for _, dep := range info.Deps {
		mod := dep
		if dep.Replace != nil {
			mod = dep.Replace
		}
		if tag, ok := tracked[dep.Path]; ok {
			out[tag] = mod.Version
		}
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && GitSHA == "unknown" && s.Value != "" {
			out["streamfire_commit"] = s.Value
		}
	}
	return out
}

// String renders tags as sorted key=value pairs.
func String(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, " ")
}
