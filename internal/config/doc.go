// Package config loads ledgerctl process settings from TOML.
//
// Ownership boundary:
// - decodes and validates the on-disk file
// - renders the default template written by configgen
// - hands ledger.Config to the controller; timing semantics stay in ledger
package config
