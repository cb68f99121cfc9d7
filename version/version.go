// Package version provides the version of a hostoverride build.
package version

import (
	"runtime/debug"
)

// Version is set at startup from the build info of the main module.
var Version = "(devel)"

func init() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	Version = buildInfo.Main.Version
	if Version != "(devel)" && Version != "" {
		return
	}
	var vcsRev, vcsMod string
	for _, setting := range buildInfo.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcsRev = setting.Value
		case "vcs.modified":
			vcsMod = setting.Value
		}
	}
	if vcsRev == "" {
		Version = "(devel)"
		return
	}
	Version = vcsRev
	if vcsMod == "true" {
		Version += "+modifications"
	}
}
