package version

import "runtime/debug"

// Overridden at build time via -ldflags.
var (
	AppName = "wastream"
	Version = "dev"
	Commit  = "none"
)

type Info struct {
	AppName   string `json:"app_name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	VCSDirty  *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	out := Info{
		AppName: AppName,
		Version: Version,
		Commit:  Commit,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		out.GoVersion = bi.GoVersion
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if out.Commit == "none" && s.Value != "" {
					out.Commit = s.Value
				}
			case "vcs.modified":
				switch s.Value {
				case "true":
					v := true
					out.VCSDirty = &v
				case "false":
					v := false
					out.VCSDirty = &v
				}
			}
		}
	}

	return out
}
