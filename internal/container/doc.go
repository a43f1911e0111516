// Package container runs disposable build containers through the Docker
// Engine API: pull, create with the build directory bind-mounted, start,
// stream logs, wait and force-remove.
package container
