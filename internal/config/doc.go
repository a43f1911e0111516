// Package config defines the packaging settings used by super-ci and
// super-builder and provides helpers to load, validate and save them in YAML
// format.
//
// The CI context (release tag, OS family, toolchain channel, pull request
// status, branch and secrets) is resolved once into an Environment value by
// ResolveEnvironment and handed to the services explicitly.
package config
