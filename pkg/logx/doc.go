// Package logx is tellbot's zerolog wrapper.
//
// Console lines are human-readable (colored only on a TTY), the optional file
// sink gets JSON lines, and Service.Apply swaps level and sinks on reload.
package logx
