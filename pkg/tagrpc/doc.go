// Package tagrpc defines the gRPC contract between the agent and the server.
//
// The service has a single unary method, tagalarm.v1.TagService/Publish,
// whose request is a google.protobuf.Struct carrying a batch of tag updates
// and whose response is google.protobuf.Empty. Using well-known types keeps
// the contract free of generated code while staying proto-encoded on the
// wire.
//
// The server registers an implementation with RegisterTagServiceServer; the
// agent calls it through Client.
package tagrpc
