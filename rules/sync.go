//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern that wg.Go replaces.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    publish()
//	}()
//
// becomes
//
//	wg.Go(publish)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... })").
		Suggest("$wg.Go(func() { $body })")
}

// UnboundedGoroutine flags goroutines in request handlers that outlive the
// request context. Work started from a handler runs under the server's
// errgroup or is done inline.
func UnboundedGoroutine(m dsl.Matcher) {
	m.Match(`go $fn($c.Request().Context(), $*_)`).
		Where(m["c"].Type.Is("echo.Context")).
		Report("the request context ends with the response; do not hand it to a goroutine")
}
