//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// ModuleLogger flags the standard log package and bare prints in internal
// packages. Components log through logger.Global().Module(name) so output
// honours the per-module levels from config.yaml.
func ModuleLogger(m dsl.Matcher) {
	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Print($*_)`, `log.Fatalf($*_)`, `log.Fatal($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("log through the module logger: logger.Global().Module(...)")

	m.Match(`fmt.Println($*_)`, `fmt.Printf($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("internal packages must not print to stdout; use the module logger")
}

// SensitiveLogFields flags log fields that would put credentials or
// consent-gated data in the logs.
//
// Flagged:
//
//	log.Info("upload", logger.String("token", raw))
//	log.Debug("fields", logger.String("latitude", lat))
func SensitiveLogFields(m dsl.Matcher) {
	m.Match(`logger.String($key, $_)`, `logger.Any($key, $_)`).
		Where(m["key"].Text.Matches(`(?i)"(token|password|secret|jwt_secret|authorization|dsn)"`)).
		Report("do not log credentials ($key)")

	m.Match(`logger.String($key, $_)`, `logger.Any($key, $_)`, `logger.Float64($key, $_)`).
		Where(m["key"].Text.Matches(`(?i)"(lat|lon|latitude|longitude|location)"`)).
		Report("location is consent-gated; log the contribution id instead of $key")
}
