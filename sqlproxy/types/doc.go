// Package types defines the messages exchanged between a client and a SQL
// worker.
//
// A Message is a tagged variant: Kind selects the operation and exactly one
// of Request, Response, Progress or Error carries the content. Requests flow
// from client to worker; the worker answers every request with zero or more
// progress messages followed by exactly one terminal message (a Response or
// an Error) carrying the same correlation id.
//
// In-process transports pass Message values directly. Stream transports use
// EncodeMessage and DecodeMessage, which write one JSON Envelope per line:
//
//	{"mid":"7b3c…","kind":"step","request":{"id":4294967297,"start":0,"end":60}}
//	{"mid":"7b3c…","kind":"step","response":{"results":[{"id":1,"name":"a"}],"done":true}}
//
// Rows keep their column order on the wire. Integral JSON numbers decode to
// int64, other numbers to float64, and blobs travel as base64 strings.
package types
