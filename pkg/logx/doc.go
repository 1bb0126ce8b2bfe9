// Package logx configures msgblast's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON, one event per line
//   - Service.Apply swaps sinks and level at runtime (config hot reload)
package logx
