package operations

import (
	"context"
	"path"

	"github.com/arthur-debert/flashtool/pkg/flashtool/core"
	"github.com/arthur-debert/flashtool/pkg/flashtool/proc"
)

// ByLabelDir is where udev publishes filesystem labels.
const ByLabelDir = "/dev/disk/by-label"

// ResolveDevice picks /dev/disk/by-label/<filesystem_label> when that node
// exists and falls back to the explicit target otherwise.
func ResolveDevice(env *Env, p Params) string {
	if label := p.String("filesystem_label"); label != "" {
		byLabel := path.Join(ByLabelDir, label)
		if env.Exists(byLabel) {
			return byLabel
		}
	}
	return p.String("target")
}

// mount attaches device on mountpoint.
func mount(ctx context.Context, env *Env, device, mountpoint string) error {
	res, err := env.Launch(ctx, proc.Command{Path: env.Tools.Mount, Args: []string{device, mountpoint}})
	if err != nil {
		return err
	}
	if !res.Success() {
		return core.ToolError(res.Output(), "could not mount %s on %s", device, mountpoint)
	}
	return nil
}

// unmount detaches whatever is mounted on target. Failures are only logged;
// when retryReadOnly is set a failed unmount is retried as a read-only remount.
func unmount(ctx context.Context, env *Env, logger core.Logger, target string, retryReadOnly bool) {
	res, err := env.Launch(ctx, proc.Command{Path: env.Tools.Umount, Args: []string{target}})
	if err == nil && res.Success() {
		return
	}
	logger.Warn().
		Str("target", target).
		Int("exit_code", res.ExitCode).
		Err(err).
		Msg("unmount failed")
	if !retryReadOnly {
		return
	}
	res, err = env.Launch(ctx, proc.Command{Path: env.Tools.Umount, Args: []string{target, "-o", "remount,ro"}})
	if err != nil || !res.Success() {
		logger.Warn().Str("target", target).Err(err).Msg("read-only remount failed")
	}
}
