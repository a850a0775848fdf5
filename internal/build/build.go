// Package build carries values stamped in at link time:
//
//	go build -ldflags "-X github.com/drummonds/elibrary/internal/build.Version=v1.2.0"
package build

// Version of the binary, "dev" for local builds
var Version = "dev"
