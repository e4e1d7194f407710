// Package version carries the build version stamped into the Server
// header, the health endpoints, and the build-info metric.
package version

// Version is overridden at build time via
// -ldflags="-X github.com/nulpointcorp/ai-gateway/pkg/version.Version=x.y.z".
var Version = "0.1.0"
