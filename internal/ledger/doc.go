// Package ledger owns the logical session with one hardware signing device.
//
// Ownership boundary:
// - derivation path selection (BuildPath, Account)
// - connect retry loop and session fields (Controller)
// - heartbeat polling that detects silent removal
// - serialized signing against the live session
//
// Session lifecycle:
// - connect -> handshake (retry until public key) -> connected -> heartbeat
//
// - a path change drops the application and public key, then hands the open
//   transport to the next handshake.
//
// - disconnect stops polling, closes the transport, fires the notification,
//   then clears every session field.
//
// Signing and the heartbeat share the device gate of the current transport,
// so at most one device command is in flight on a handle. Each new transport
// starts with a free gate.
package ledger
