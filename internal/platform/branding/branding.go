// Package branding holds product naming shared by every surface.
package branding

// AppName is the user-facing product name.
const AppName = "Ledger Wallet"
