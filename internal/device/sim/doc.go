// Package sim is an in-memory signing device that implements the device
// contracts. It derives one ed25519 key per derivation path from a seed and
// lets callers unplug it, script failures and hold commands in flight.
package sim
