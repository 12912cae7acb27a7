//go:build integration

// Package integration provides integration tests for the image fetcher.
//
// These tests require Docker. They spin up a real OCI registry and a MinIO
// server using testcontainers and fetch images through the storage
// resolvers. Run with: go test -tags=integration ./integration/...
package integration
