// Package ir provides the versioned Protocol IR types for ethos.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Versions keep the text they were written with; ordering is numeric
//   - Every descriptor carries a VersionRange, half-open [introduced, removed)
//   - Numbers in literals are decimal text, never float64
//   - All JSON tags use snake_case and are part of the artifact format
package ir
