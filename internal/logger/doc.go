// Package logger wraps zap for the release tooling: one console logger on
// stderr with a level shared by the whole process, and context helpers so
// staging, builders and the CI dispatcher log the distribution, action and
// run they belong to.
package logger
