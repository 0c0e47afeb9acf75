// Package countsteps carries assets embedded at the repository root.
package countsteps

import "embed"

// StaticFiles holds the built-in status dashboard served by the main binary.
//
//go:embed static/*
var StaticFiles embed.FS
