// Package dispatcher implements super-ci: one entry point that takes an
// action name and an optional platform, checks the action's gates against the
// CI environment and runs it fail-fast.
//
// Gates that do not hold turn the action into a logged no-op. Unknown action
// names are no-ops as well. dist_test and deploy run the distribution builder
// inside disposable containers.
package dispatcher
