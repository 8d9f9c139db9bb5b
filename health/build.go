package health

import (
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time,omitempty"`
	GoVersion string    `json:"go_version"`
	OS        string    `json:"os"`
	Arch      string    `json:"arch"`
}

// ReadBuildInfo combines BUILD_* environment variables, an optional
// build.info file and the VCS stamp the Go toolchain embeds.
func ReadBuildInfo(version string) BuildInfo {
	info := BuildInfo{
		Version:   getEnvOrDefault("BUILD_VERSION", version),
		GitCommit: getEnvOrDefault("BUILD_COMMIT", ""),
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	if buildTime, err := time.Parse(time.RFC3339, os.Getenv("BUILD_TIME")); err == nil {
		info.BuildTime = buildTime
	}

	if data, err := os.ReadFile("build.info"); err == nil {
		mergeBuildInfoFile(&info, string(data))
	}

	if info.GitCommit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range bi.Settings {
				if setting.Key == "vcs.revision" {
					info.GitCommit = setting.Value
				}
			}
		}
	}

	if info.Version == "" {
		info.Version = "dev"
	}
	if len(info.GitCommit) > 7 {
		info.GitCommit = info.GitCommit[:7]
	}

	return info
}

func mergeBuildInfoFile(info *BuildInfo, content string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "VERSION":
			info.Version = value
		case "GIT_COMMIT":
			info.GitCommit = value
		case "BUILD_TIME":
			if buildTime, err := time.Parse(time.RFC3339, value); err == nil {
				info.BuildTime = buildTime
			}
		}
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
