// Package transport delivers encoded batches to an APM collector.
//
// A Transport sends one Payload per call and reports failures as *Error,
// classified as Transient (worth retrying: network errors, 429, 5xx) or
// Fatal (the collector rejected the payload: other 4xx, malformed URLs).
// Unclassified errors are treated as transient.
//
// HTTPTransport is built on go-resty/resty with a pooled transport from
// hashicorp/go-retryablehttp, whose DefaultRetryPolicy decides retryability.
// Resty's own retries are disabled; the dispatcher owns the retry loop so
// it can honor shutdown deadlines. A circuit breaker fails sends fast while
// the collector is down.
//
// Example Usage:
//
//	t, err := transport.NewHTTPTransport(transport.HTTPOptions{
//		ServerURL:   "http://localhost:8200",
//		SecretToken: os.Getenv("ELASTIC_APM_SECRET_TOKEN"),
//	})
//	err = t.Send(ctx, &transport.Payload{Path: "/intake/v2/events", Body: body})
//	if transport.IsFatal(err) {
//		// drop the batch
//	}
package transport
