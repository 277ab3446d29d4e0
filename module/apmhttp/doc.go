// Package apmhttp instruments net/http servers and clients.
//
// The server side starts a transaction per request, continuing the remote
// trace carried by the traceparent header (or the legacy
// elastic-apm-traceparent header). The client side records each outgoing
// request as an exit span and propagates its trace context downstream.
//
//	mux := http.NewServeMux()
//	http.ListenAndServe(":8080", apmhttp.Wrap(mux, tracer))
//
//	client := apmhttp.WrapClient(http.DefaultClient)
//	req = req.WithContext(ctx)
//	client.Do(req)
package apmhttp
