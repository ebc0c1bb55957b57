// Package parser talks to the external embroidery parser/renderer service.
// Requests are signed with HMAC-SHA256 over the timestamp, method, path, and
// body hash. A deterministic mock gateway stands in for the real service in
// development and tests.
package parser
