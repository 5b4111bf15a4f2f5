// Package logx is the structured logger used across the joiner.
//
// It wraps zerolog: readable console lines with a short caller, JSON lines
// in the optional log file, and an optional Telegram sink that forwards
// warnings to the log group under a rate limit. Outputs and levels can be
// swapped at runtime with Service.Apply; loggers handed out earlier follow.
package logx
