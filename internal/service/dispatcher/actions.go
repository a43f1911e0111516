package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/logger"
)

// Gate is a condition on the CI environment an action requires.
type Gate string

// Known gates.
const (
	// GateTag holds when a release tag is set.
	GateTag Gate = "tag"
	// GateLinux holds on Linux hosts.
	GateLinux Gate = "linux"
	// GateStable holds on the stable toolchain channel.
	GateStable Gate = "stable"
	// GateLintChannel holds on the channel configured for clippy.
	GateLintChannel Gate = "lint_channel"
	// GateNotPullRequest holds outside pull request builds.
	GateNotPullRequest Gate = "not_pull_request"
	// GateDocsBranch holds on the documentation branch.
	GateDocsBranch Gate = "docs_branch"
)

// Action names.
const (
	ActionTest                = "test"
	ActionTestIgnored         = "test_ignored"
	ActionFmt                 = "fmt_run"
	ActionClippy              = "clippy_run"
	ActionBuild               = "build"
	ActionUploadCoverage      = "upload_code_coverage"
	ActionUploadDocumentation = "upload_documentation"
	ActionDistTest            = "dist_test"
	ActionDeploy              = "deploy"
)

// action is one row of the action table.
type action struct {
	// name is the action name given on the command line.
	name string
	// gates must all hold for the action to run.
	gates []Gate
	// needsPlatform requires the platform argument.
	needsPlatform bool
	// run performs the action on the dispatcher the table was built for.
	run func(ctx context.Context) error
}

var (
	// errGateClosed marks a gate that does not hold; the action is skipped.
	errGateClosed = errors.New("gate does not hold")
	// errUnknownGate is returned for a gate no evaluator exists for.
	errUnknownGate = errors.New("unknown gate")
	// errContradictoryGates is returned when an action's gates can never hold together.
	errContradictoryGates = errors.New("contradictory gates")
)

// actions returns every action with its gates, bound to d.
func (d *dispatcher) actions() []*action {
	return []*action{
		{name: ActionTest, run: d.test},
		{name: ActionTestIgnored, gates: []Gate{GateTag}, run: d.testIgnored},
		{name: ActionFmt, gates: []Gate{GateLinux, GateStable}, run: d.fmtCheck},
		{name: ActionClippy, gates: []Gate{GateLinux, GateLintChannel}, run: d.clippy},
		{name: ActionBuild, run: d.build},
		{
			name:  ActionUploadCoverage,
			gates: []Gate{GateLinux, GateStable, GateNotPullRequest},
			run:   d.uploadCoverage,
		},
		{
			name:  ActionUploadDocumentation,
			gates: []Gate{GateLinux, GateStable, GateNotPullRequest, GateDocsBranch},
			run:   d.uploadDocumentation,
		},
		{name: ActionDistTest, gates: []Gate{GateLinux}, needsPlatform: true, run: d.distTest},
		{name: ActionDeploy, gates: []Gate{GateLinux, GateTag}, run: d.deploy},
	}
}

func (d *dispatcher) lookupAction(name string) (*action, bool) {
	name = strings.TrimSpace(name)

	for _, a := range d.actions() {
		if a.name == name {
			return a, true
		}
	}

	return nil, false
}

func (d *dispatcher) actionNames() []string {
	table := d.actions()

	names := make([]string, 0, len(table))
	for _, a := range table {
		names = append(names, a.name)
	}

	return names
}

// checkGates rejects gate lists that are malformed or can never hold.
func (d *dispatcher) checkGates(a *action) error {
	seen := make(map[Gate]struct{}, len(a.gates))

	for _, g := range a.gates {
		if _, ok := d.gateEvaluators()[g]; !ok {
			return fmt.Errorf("%s: %q: %w", a.name, g, errUnknownGate)
		}

		if _, dup := seen[g]; dup {
			return fmt.Errorf("%s: %q listed twice: %w", a.name, g, errContradictoryGates)
		}

		seen[g] = struct{}{}
	}

	if slices.Contains(a.gates, GateStable) && slices.Contains(a.gates, GateLintChannel) &&
		d.cfg.LintChannel != config.DefaultChannel {
		return fmt.Errorf("%s: channel must be both %q and %q: %w",
			a.name, config.DefaultChannel, d.cfg.LintChannel, errContradictoryGates)
	}

	return nil
}

// gateEvaluators maps each gate to its check against the environment.
func (d *dispatcher) gateEvaluators() map[Gate]func() bool {
	return map[Gate]func() bool{
		GateTag:            d.env.HasTag,
		GateLinux:          d.env.IsLinux,
		GateStable:         func() bool { return d.env.Channel == config.DefaultChannel },
		GateLintChannel:    func() bool { return d.env.Channel == d.cfg.LintChannel },
		GateNotPullRequest: func() bool { return !d.env.PullRequest },
		GateDocsBranch:     func() bool { return d.env.Branch == d.cfg.Docs.Branch },
	}
}

// gatesHold returns errGateClosed naming the first gate that does not hold.
func (d *dispatcher) gatesHold(ctx context.Context, a *action) error {
	evaluators := d.gateEvaluators()

	for _, g := range a.gates {
		if !evaluators[g]() {
			logger.DebugKV(ctx, "Gate closed", "gate", g)
			return fmt.Errorf("%q: %w", g, errGateClosed)
		}
	}

	return nil
}
