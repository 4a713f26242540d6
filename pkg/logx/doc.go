// Package logx configures studysched's structured logging.
//
// Components receive a logx.Logger (a thin wrapper over zerolog) so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - Level and sinks can be swapped at runtime on config reload
package logx
