// Package receiver implements tagrpc.TagServiceServer, the ingestion point
// for tag updates sent by agents over gRPC and by clients of the REST write
// endpoint.
//
// Receiver.Publish validates the batch (non-empty, well-formed tag names,
// scalar values) and returns codes.InvalidArgument on the first problem.
// Accepted updates are stamped with the receive time when they carry none and
// handed to every Sink in order; a failing sink does not affect the others.
// Authentication is enforced upstream by the gRPC server interceptor (see
// package auth).
package receiver
