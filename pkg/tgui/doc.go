// Package tgui provides small Telegram text helpers:
//   - HTML escaping and tag wrappers for ParseMode="HTML"
//   - A line-oriented message builder that carries its send options
//
// Everything built here is safe by default: plain strings are escaped.
package tgui
