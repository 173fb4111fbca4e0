//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// TestingContext flags context.Background() and context.TODO() in tests.
// t.Context() is cancelled when the test ends, which stops background
// sweeps and broker retries started by the test.
func TestingContext(m dsl.Matcher) {
	m.Match(`$ctx := context.Background()`, `$ctx = context.Background()`,
		`$ctx := context.TODO()`, `$ctx = context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context()")

	m.Match(`$fn(context.Background(), $*_)`, `$fn(context.TODO(), $*_)`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, pass t.Context()")
}

// SleepInTests flags fixed sleeps used to wait for asynchronous work.
//
// Flagged:
//
//	go janitor.Run(ctx)
//	time.Sleep(100 * time.Millisecond)
//
// Preferred:
//
//	require.Eventually(t, func() bool { ... }, time.Second, 10*time.Millisecond)
func SleepInTests(m dsl.Matcher) {
	m.Match(`time.Sleep($_)`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("poll with require.Eventually instead of sleeping")
}

// BenchmarkLoop flags b.N loops; b.Loop() keeps setup out of the timing.
func BenchmarkLoop(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $b.N; $i++ { $*_ }`, `for $i := range $b.N { $*_ }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... }")

	m.Match(`for range $b.N { $*body }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... }").
		Suggest("for $b.Loop() { $body }")
}
