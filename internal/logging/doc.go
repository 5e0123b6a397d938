// Package logging builds the process-wide slog logger from the log section of
// the config: JSON or text handler, stdout/stderr, a lumberjack-rotated file,
// or both. The level is held in a slog.LevelVar so hot reload can change it.
package logging
