// Command cdist is the top-level CLI: it wires together the session,
// target, executor, and runtime packages into the "config" and "explore"
// subcommands. Grounded on the cobra root-command shape of the teacher's
// entry point, generalized from a single-file-argument command into
// cdist-ng's target/tag/manifest flag surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cdist-ng/cdist/internal/clog"
	"github.com/cdist-ng/cdist/internal/cliutil"
	"github.com/cdist-ng/cdist/internal/executor"
	"github.com/cdist-ng/cdist/internal/runconfig"
	"github.com/cdist-ng/cdist/internal/runtime"
	"github.com/cdist-ng/cdist/internal/session"
	"github.com/cdist-ng/cdist/internal/target"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, syscall.SIGINT)
	go func() {
		if _, ok := <-interrupted; ok {
			cancel()
		}
	}()

	log := clog.New("cdist")

	root := &cobra.Command{
		Use:           "cdist",
		Short:         "Declarative configuration management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newConfigCmd(log), newExploreCmd(log))

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cdist:", err)
		if ctx.Err() != nil {
			return 2
		}
		return 1
	}
	return 0
}

// confDirsFromEnv splits CDIST_PATH (colon-separated) into a conf-dir list,
// falling back to "./conf" when unset, mirroring the env-var-first
// convention runconfig uses for executor tunables.
func confDirsFromEnv(flagDirs []string) []string {
	if len(flagDirs) > 0 {
		return flagDirs
	}
	if v := os.Getenv("CDIST_PATH"); v != "" {
		return strings.Split(v, ":")
	}
	return []string{"conf"}
}

// emulatorPath locates the cdist-type binary alongside the running
// executable, falling back to PATH resolution.
func emulatorPath() (string, error) {
	self, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(self), "cdist-type")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}
	return "cdist-type", nil
}

func newConfigCmd(log hclog.Logger) *cobra.Command {
	var (
		manifestFlag string
		confDirFlag  []string
		onlyTag      []string
		includeTag   []string
		excludeTag   []string
		dryRun       bool
		sequential   bool
		parallel     bool
	)

	cmd := &cobra.Command{
		Use:   "config [targets...]",
		Short: "Realize the object catalog on one or more targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			tagFilter, err := cliutil.NewTagFilter(onlyTag, includeTag, excludeTag)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return nil
			}

			confDirs := confDirsFromEnv(confDirFlag)
			cfg := runconfig.FromEnv()

			localRoot, err := os.MkdirTemp("", "cdist-session-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(localRoot)

			fqdn, err := os.Hostname()
			if err != nil {
				fqdn = "localhost"
			}
			sess := session.New(localRoot, time.Now(), fqdn)

			if err := session.MergeConfDirs(sess, confDirs); err != nil {
				return err
			}

			emuPath, err := emulatorPath()
			if err != nil {
				return err
			}
			typeNames, err := listDirNames(sess.ConfDir("type"))
			if err != nil {
				return err
			}
			if err := session.WriteTypeWrappers(sess, typeNames, emuPath); err != nil {
				return err
			}

			manifestPath := manifestFlag
			if manifestPath == "" {
				manifestPath = sess.ManifestPath()
			}

			runOne := func(ctx context.Context, rawURL string) error {
				return configureTarget(ctx, sess, rawURL, manifestPath, cfg, tagFilter, dryRun, log)
			}

			if sequential || (!parallel && len(args) == 1) {
				for _, rawURL := range args {
					if err := runOne(cmd.Context(), rawURL); err != nil {
						return err
					}
				}
				return nil
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			for _, rawURL := range args {
				rawURL := rawURL
				g.Go(func() error { return runOne(gctx, rawURL) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&manifestFlag, "manifest", "", "initial manifest to run (default: session's merged manifest)")
	cmd.Flags().StringArrayVar(&confDirFlag, "conf-dir", nil, "configuration directory to merge (repeatable; default CDIST_PATH or ./conf)")
	cmd.Flags().StringArrayVar(&onlyTag, "only-tag", nil, "restrict the active tag set to exactly these tags (repeatable, comma-splittable)")
	cmd.Flags().StringArrayVar(&includeTag, "include-tag", nil, "add these tags to the active tag set (repeatable, comma-splittable)")
	cmd.Flags().StringArrayVar(&excludeTag, "exclude-tag", nil, "tags that must never be active (repeatable, comma-splittable)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "prepare and gencode every object, but skip code-local/code-remote execution")
	cmd.Flags().BoolVarP(&sequential, "sequential", "s", false, "process targets one at a time")
	cmd.Flags().BoolVarP(&parallel, "parallel", "p", false, "process targets concurrently (default for >1 target)")

	return cmd
}

func configureTarget(ctx context.Context, sess *session.Session, rawURL, manifestPath string, cfg runconfig.Config, tagFilter cliutil.TagFilter, dryRun bool, log hclog.Logger) error {
	t, err := target.New(rawURL)
	if err != nil {
		return err
	}
	tlog := log.Named(t.Identifier())

	local := executor.NewLocalWithCaps(cfg.LocalCopyCap, cfg.LocalExecCap)
	execScript, copyScript := transportScripts(sess, t)
	remote := executor.NewRemoteWithCaps(execScript, copyScript, cfg.RemoteCopyCap, cfg.RemoteExecCap)

	rt := runtime.New(sess, t, local, remote, tlog)
	rt.ActiveTags = tagFilter.ActiveTags()
	if dryRun {
		rt.DryRun = true
	}

	tlog.Info("initializing target", "url", rawURL)
	if err := rt.Initialize(ctx); err != nil {
		return err
	}
	if err := rt.TransferGlobalExplorers(ctx); err != nil {
		return err
	}
	if err := rt.RunGlobalExplorers(ctx, nil, true); err != nil {
		return err
	}
	if err := rt.RunInitialManifest(ctx, manifestPath); err != nil {
		return err
	}
	if err := rt.ProcessObjects(ctx); err != nil {
		return err
	}
	return rt.Finalize(ctx)
}

// transportScripts resolves a target's stacked transport scheme (e.g.
// "ssh+sudo+chroot") to the operator-supplied exec/copy scripts nested
// under the merged conf-dir's transport tree, per the spec's
// "transport/ssh/sudo/chroot/{exec,copy}" layout.
func transportScripts(sess *session.Session, t *target.Target) (execScript, copyScript string) {
	base := filepath.Join(append([]string{sess.ConfDir("transport")}, t.Transports...)...)
	return filepath.Join(base, "exec"), filepath.Join(base, "copy")
}

func newExploreCmd(log hclog.Logger) *cobra.Command {
	var (
		explorerNames []string
		confDirFlag   []string
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "explore [TARGET]",
		Short: "Run global explorers against a target and print their output",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawURL := target.Local
			if len(args) == 1 {
				rawURL = args[0]
			}

			confDirs := confDirsFromEnv(confDirFlag)
			cfg := runconfig.FromEnv()

			localRoot, err := os.MkdirTemp("", "cdist-explore-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(localRoot)

			fqdn, err := os.Hostname()
			if err != nil {
				fqdn = "localhost"
			}
			sess := session.New(localRoot, time.Now(), fqdn)
			if err := session.MergeConfDirs(sess, confDirs); err != nil {
				return err
			}

			var t *target.Target
			var remote *executor.Remote
			local := executor.NewLocalWithCaps(cfg.LocalCopyCap, cfg.LocalExecCap)
			localExplore := rawURL == target.Local

			if localExplore {
				t = target.NewLocal()
				// remote is never touched in local-explore mode.
			} else {
				t, err = target.New(rawURL)
				if err != nil {
					return err
				}
				execScript, copyScript := transportScripts(sess, t)
				remote = executor.NewRemoteWithCaps(execScript, copyScript, cfg.RemoteCopyCap, cfg.RemoteExecCap)
			}

			rt := runtime.New(sess, t, local, remote, log.Named("explore"))
			rt.LocalExplore = localExplore

			if !rt.LocalExplore {
				if err := rt.Initialize(cmd.Context()); err != nil {
					return err
				}
				if err := rt.TransferGlobalExplorers(cmd.Context()); err != nil {
					return err
				}
			}
			if err := rt.RunGlobalExplorers(cmd.Context(), explorerNames, true); err != nil {
				return err
			}

			if jsonOutput {
				enc, err := json.Marshal(t.Explorer)
				if err != nil {
					return err
				}
				fmt.Println(string(enc))
				return nil
			}
			for name, out := range t.Explorer {
				fmt.Printf("%s: %s\n", name, out)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&explorerNames, "explorer", nil, "explorer to run (repeatable; default: every global explorer)")
	cmd.Flags().StringArrayVar(&confDirFlag, "conf-dir", nil, "configuration directory to merge (repeatable; default CDIST_PATH or ./conf)")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "print explorer output as a JSON object instead of name: value lines")

	return cmd
}

func listDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
