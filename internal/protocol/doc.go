// Package protocol defines the request and response messages exchanged
// between clients and the daemon, and their JSON envelope.
//
// Both directions are closed sets: every Request and every Response
// implementation lives in this package, so the daemon's dispatcher can switch
// over them exhaustively. On the wire a message is
//
//	{"type": "<kind>", "payload": {...}}
//
// Decode never touches daemon state; malformed input yields a protocol
// category error.
package protocol
