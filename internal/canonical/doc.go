// Package canonical produces canonical JSON and content hashes for protocol
// definitions and assembled timelines.
//
// Canonical form follows RFC 8785 for the subset of JSON this module emits:
//   - object keys sorted by UTF-16 code units
//   - no HTML escaping, U+2028/U+2029 emitted literally
//   - strings NFC-normalized
//   - integers only; floats are rejected
//
// Two timelines that hash equal were served byte-identical to the runner,
// which is what lets a stored session be matched to the exact trial order a
// participant saw.
package canonical
