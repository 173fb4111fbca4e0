//go:build ruleguard

// Package gorules holds the ruleguard rules run by gocritic through
// golangci-lint. See .golangci.yaml.
package gorules
