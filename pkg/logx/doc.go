// Package logx is relaybot's logging layer: a thin Logger over zerolog with
// typed field helpers, fanned out to up to three sinks.
//
// The console sink writes human-readable lines to stderr, the file sink writes
// JSON, and the alert sink relays WARN+ lines to an operator contact through
// a Sender at a bounded rate. Service.Apply swaps sinks and levels at runtime
// and every Logger derived from the Service follows.
package logx
