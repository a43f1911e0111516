package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/container"
	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/printer"
	"github.com/oshokin/super-release/internal/repository/history"
	"github.com/oshokin/super-release/internal/service/common"
)

// Options contains inputs for one super-ci invocation.
type Options struct {
	// Action is the action name (test, deploy, ...).
	Action string
	// Platform is the distribution for dist_test.
	Platform string
	// Config holds the validated packaging settings.
	Config *config.Config
	// ConfigPath is the file Config was loaded from; build containers load the same file.
	ConfigPath string
	// Env is the CI context resolved at the boundary.
	Env *config.Environment
	// Runner executes external commands; os/exec when nil.
	Runner common.Runner
	// Containers runs build containers; a Docker runner is created on demand when nil.
	Containers container.Runner
	// HTTPClient downloads kcov sources and the coverage uploader.
	HTTPClient *http.Client
	// Probe captures the output of a version command; os/exec when nil.
	Probe ProbeFunc
	// History records the outcome when set.
	History *history.Store
	// Printer renders summaries; stdout when nil.
	Printer *printer.Printer
}

// dispatcher runs one action. It is unexported; callers should use Run.
type dispatcher struct {
	// cfg holds the packaging settings.
	cfg *config.Config
	// configPath is where cfg was loaded from, possibly a missing file.
	configPath string
	// env is the CI context.
	env *config.Environment
	// platform is the dist_test distribution.
	platform string
	// runID groups the ledger rows and container labels of this invocation.
	runID string
	// runner executes external commands.
	runner common.Runner
	// containers runs build containers, possibly created lazily.
	containers container.Runner
	// httpClient performs downloads.
	httpClient *http.Client
	// probe captures version output.
	probe ProbeFunc
	// printer renders summaries.
	printer *printer.Printer
}

var (
	errConfigRequired      = errors.New("configuration must be provided")
	errEnvironmentRequired = errors.New("environment must be provided")
	errPlatformRequired    = errors.New("platform must be provided")
	errConfigOutsideMount  = errors.New("configuration file is outside the build dir mounted into containers")
)

// Run executes opts.Action. Unknown actions and actions whose gates do not
// hold return nil without running anything.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "super-ci")

	if opts.Config == nil {
		return release.Fail(release.KindConfiguration, "setup", errConfigRequired)
	}

	if opts.Env == nil {
		return release.Fail(release.KindConfiguration, "setup", errEnvironmentRequired)
	}

	d := newDispatcher(opts)
	ctx = logger.WithFields(ctx, "action", opts.Action, "run", d.runID)
	if opts.Env.JobID != "" {
		ctx = logger.WithKV(ctx, "job", opts.Env.JobID)
	}

	startedAt := time.Now()

	action, ok := d.lookupAction(opts.Action)
	if !ok {
		logger.InfoKV(ctx, "Unknown action, nothing to do", "known", d.actionNames())
		d.record(ctx, opts, startedAt, history.OutcomeSkipped, nil)

		return nil
	}

	err := d.dispatch(ctx, action)

	switch {
	case errors.Is(err, errGateClosed):
		logger.InfoKV(ctx, "Action skipped", "reason", err)
		d.record(ctx, opts, startedAt, history.OutcomeSkipped, nil)

		return nil
	case err != nil:
		logger.ErrorKV(ctx, "Action failed", "class", release.KindOf(err), "exit_status", common.ExitCode(err), "error", err)
	default:
		logger.Info(ctx, "Action completed")
	}

	outcome, _ := history.OutcomeOf(err)
	d.record(ctx, opts, startedAt, outcome, err)

	return err
}

func newDispatcher(opts *Options) *dispatcher {
	d := &dispatcher{
		cfg:        opts.Config,
		configPath: opts.ConfigPath,
		env:        opts.Env,
		platform:   opts.Platform,
		runID:      container.GenerateRunID(),
		runner:     opts.Runner,
		containers: opts.Containers,
		httpClient: opts.HTTPClient,
		probe:      opts.Probe,
		printer:    opts.Printer,
	}

	if d.runner == nil {
		d.runner = common.NewExecRunner()
	}

	if d.httpClient == nil {
		d.httpClient = &http.Client{Timeout: opts.Config.Coverage.DownloadTimeout}
	}

	if d.probe == nil {
		d.probe = execProbe
	}

	if d.printer == nil {
		d.printer = printer.New(nil)
	}

	return d
}

// dispatch validates the action's gates and runs it.
func (d *dispatcher) dispatch(ctx context.Context, a *action) error {
	if err := d.checkGates(a); err != nil {
		return release.Fail(release.KindConfiguration, "gates", err)
	}

	if a.needsPlatform && d.platform == "" {
		return release.Fail(release.KindConfiguration, "gates", fmt.Errorf("%s: %w", a.name, errPlatformRequired))
	}

	if err := d.gatesHold(ctx, a); err != nil {
		return err
	}

	return a.run(ctx)
}

// command runs a command chain in the build directory.
func (d *dispatcher) command(ctx context.Context, commands ...common.Command) error {
	for i := range commands {
		if commands[i].Dir == "" {
			commands[i].Dir = d.env.BuildDir
		}
	}

	return common.RunChain(ctx, d.runner, commands...)
}

func (d *dispatcher) record(ctx context.Context, opts *Options, startedAt time.Time, outcome history.Outcome, runErr error) {
	if opts.History == nil {
		return
	}

	entry := &history.Entry{
		RunID:        d.runID,
		Action:       opts.Action,
		Distribution: opts.Platform,
		Version:      opts.Env.Tag,
		Outcome:      outcome,
		FailureKind:  release.KindOf(runErr),
		StartedAt:    startedAt,
		CompletedAt:  time.Now(),
	}

	if runErr != nil {
		entry.Error = runErr.Error()
	}

	if actor, err := common.DetectActor(); err == nil {
		entry.Actor = actor.String()
	}

	if err := opts.History.Record(ctx, entry); err != nil {
		logger.WarnKV(ctx, "Could not record action outcome", "error", err)
	}
}
