// Package logx configures namazbot's structured logging.
//
// Logger is a small wrapper on top of zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON
//   - warnings and errors can be mirrored to the admin Telegram chat (min-level + rate limiting)
package logx
