// Package resilience groups the failure-handling building blocks used by the
// request client and the proxy relays.
//
// Package retry is a bounded attempt loop with fixed or exponential delays;
// the caller classifies each result as final or retryable. Package
// circuitbreaker holds gobreaker presets for the housing and prediction
// upstreams and exports their state as Prometheus gauges.
//
//	out, err := retry.Run(ctx, retry.Fixed(1, 300*time.Millisecond), func(attempt int) (Outcome, bool) {
//	    o := attemptOnce(ctx, attempt)
//	    return o, o.Kind.Retryable()
//	})
//
//	cb := circuitbreaker.New(circuitbreaker.HousingUpstreamConfig())
//	err := cb.Execute(func() error { return relay(ctx) })
package resilience
