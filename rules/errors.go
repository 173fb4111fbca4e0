//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// EnhancedErrors flags plain standard library errors in internal packages.
// Errors leaving a component go through the internal/errors builder so
// they carry a category for telemetry and HTTP mapping.
//
// Flagged:
//
//	return fmt.Errorf("object store unreachable")
//	return errors.New("invalid category")
//
// Preferred:
//
//	return errors.Newf("invalid category %q", name).
//	    Component("consent").
//	    Category(errors.CategoryValidation).
//	    Build()
//
// Sentinel values declared with errors.NewStd and wrapping with %w stay allowed.
func EnhancedErrors(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`errors.New($msg)`).
		Where(m["msg"].Type.Is("string") &&
			m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().PkgPath.Matches(`/internal/errors$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("use errors.NewStd for sentinels or the internal/errors builder for returned errors")

	m.Match(`fmt.Errorf($format)`).
		Where(m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("fmt.Errorf without %w loses nothing to wrap; build the error with errors.Newf and a category")
}
