package dispatcher

import (
	"context"

	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/service/common"
)

func cargo(args ...string) common.Command {
	return common.Command{Name: "cargo", Args: args}
}

func rustupComponent(name string) common.Command {
	return common.Command{Name: "rustup", Args: []string{"component", "add", name}}
}

func (d *dispatcher) test(ctx context.Context) error {
	return release.Fail(release.KindBuild, ActionTest, d.command(ctx, cargo("test", "--verbose")))
}

func (d *dispatcher) testIgnored(ctx context.Context) error {
	return release.Fail(release.KindBuild, ActionTestIgnored,
		d.command(ctx, cargo("test", "--verbose", "--", "--ignored")))
}

func (d *dispatcher) fmtCheck(ctx context.Context) error {
	return release.Fail(release.KindBuild, ActionFmt,
		d.command(ctx, rustupComponent("rustfmt"), cargo("fmt", "--", "--check")))
}

func (d *dispatcher) clippy(ctx context.Context) error {
	return release.Fail(release.KindBuild, ActionClippy,
		d.command(ctx, rustupComponent("clippy"), cargo("clippy", "--", "-D", "warnings")))
}

func (d *dispatcher) build(ctx context.Context) error {
	args := []string{"build", "--verbose"}
	if d.env.Features != "" {
		args = append(args, "--features", d.env.Features)
	}

	return release.Fail(release.KindBuild, ActionBuild, d.command(ctx, cargo(args...)))
}
