// Package encoding serializes batches of events into collector payloads.
//
// Two wire formats are supported:
//   - intake: Elastic APM intake v2 NDJSON, a metadata line followed by one
//     line per event, marshalled with bytedance/sonic
//   - otlp: an OTLP ExportTraceServiceRequest in protobuf; transactions,
//     spans and errors become spans, metric sets are not carried
//
// Payload bodies are compressed with klauspost/compress (gzip or zstd) or
// sent as-is.
//
// An Encoder reuses its buffers and is not safe for concurrent use.
package encoding
