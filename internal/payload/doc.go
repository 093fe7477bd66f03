// Package payload implements ownership-transferring containers for values that
// cross a goroutine or process boundary.
//
// A Payload is live from Wrap until it is consumed, either by Unpack (the
// receiver takes the value) or by Finalize (the host collector releases it).
// Consumption happens exactly once; the second attempt to unpack panics and the
// second attempt to finalize does nothing.
//
// Payloads travel as Handles. Go does not allow a pointer to be rebuilt from an
// integer, so a Table plays the role of the address space: Pin issues a handle
// and Claim turns it back into the payload, at most once. Handle 0 is reserved
// as the close sentinel.
package payload
