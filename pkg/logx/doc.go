// Package logx configures the engine's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional eventbus sink (min-level + rate limiting) so connected
//     operator clients can stream engine logs
package logx
