// Package admin serves the ledgerctl HTTP control surface.
//
// Ownership boundary:
// - maps HTTP requests onto one session controller
// - translates ledger failure classes into status codes
// - exposes health and prometheus metrics
//
// Session state, retry and polling stay in ledger.
package admin
