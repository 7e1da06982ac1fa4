// Package transform implements the expression transform stage and the
// client abstraction the pipeline runner uses to call it, either in
// process or through a remote transformer plugin.
//
// The stage decodes binary payloads whose content type looks textual
// (contains "text", "json" or "x-spring-tuple") into strings, evaluates
// the configured expression against payload and headers, and returns the
// result verbatim.
package transform
