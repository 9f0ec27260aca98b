// Package app wires the clonebox components into one process-wide
// context.
//
// # Construction
//
// New loads the host config and the security profiles, then builds the
// registry, the sandbox manager, the quota monitor and the path resolver
// around a single system.FileSystem. Tests replace any of these through
// functional options:
//
//	a, err := app.New(
//	    app.WithPaths(testPaths),
//	    app.WithHostConfig(cfg),
//	    app.WithHostLookup(fakeLookup),
//	)
//
// Open must be called before the first request. It creates the state
// directories and rehydrates the registry from persisted descriptors.
package app
