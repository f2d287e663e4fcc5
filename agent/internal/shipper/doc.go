// Package shipper sends tag updates to tagalarm-server over gRPC
// (tagalarm.v1.TagService/Publish).
//
// Shipper.Ship is non-blocking: updates go into an in-memory buffer of
// agent.buffer_size entries, and when it is full the oldest update is
// evicted so the latest readings are kept.
//
// Shipper.Run flushes the buffer every ship_interval in batches of at most
// 500 updates and reconnects with truncated exponential backoff (1s to 60s,
// ±25% jitter) on connection or send errors. Permanent errors
// (Unauthenticated, PermissionDenied, InvalidArgument) discard the batch
// instead of retrying. With server_auth.mode apikey the key is sent as gRPC
// metadata on every call.
package shipper
