package version

// Version is the current version of the videocall CLI.
// This value can be overridden at build time using:
//   go build -ldflags="-X 'github.com/ankith2004ahms/video-calling/internal/version.Version=v1.0.0'"
var Version = "dev"
