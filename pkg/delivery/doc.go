// Package delivery stores the append-only log of attempted notification sends.
// The fallback queue consults it to skip items that already went out recently.
package delivery
