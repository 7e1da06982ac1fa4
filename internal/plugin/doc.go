// Package plugin implements the remote transformer protocol: a small gRPC
// service whose messages are protobuf well-known types, so plugins need no
// generated code to interoperate with the engine.
//
// A Transform request is a Struct with fields
//
//	payload           any JSON value, or base64 text when payload_encoding is "base64"
//	payload_encoding  "" or "base64"
//	headers           Struct of header values
//
// and the response a Struct with result/result_encoding. A null result
// means the transformer produced nothing for the frame.
package plugin
