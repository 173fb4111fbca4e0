// Package buildinfo holds the build-time metadata injected through ldflags.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata the build did not set.
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
type Context struct {
	Version   string
	BuildDate string
	Commit    string
}

// NewContext creates a Context from the ldflags values.
func NewContext(version, buildDate, commit string) *Context {
	return &Context{Version: version, BuildDate: buildDate, Commit: commit}
}

// GetVersion returns the version tag or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Version)
}

// GetBuildDate returns the build date or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.BuildDate)
}

// GetCommit returns the source revision or UnknownValue.
func (c *Context) GetCommit() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Commit)
}

func (c *Context) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", c.GetVersion(), c.GetCommit(), c.GetBuildDate())
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}
