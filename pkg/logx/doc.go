// Package logx is labrun's structured logging facade over zerolog.
//
// It supports two sinks that can be reconfigured at runtime via Service.Apply:
//   - Console (human-friendly output)
//   - File (JSON lines, append-only)
//
// Components hold a Logger value; loggers created from a Service stay live
// across Apply calls, so a config reload changes level and sinks everywhere
// at once.
package logx
