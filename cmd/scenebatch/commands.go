package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spearsim/scenebatch/internal/api"
	"github.com/spearsim/scenebatch/internal/batch"
	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/fsutil"
	"github.com/spearsim/scenebatch/internal/paths"
	"github.com/spearsim/scenebatch/internal/playback"
	"github.com/spearsim/scenebatch/internal/postproc"
	"github.com/spearsim/scenebatch/internal/render"
	"github.com/spearsim/scenebatch/internal/scene"
	"github.com/spearsim/scenebatch/internal/scene/blocks"
	"github.com/spearsim/scenebatch/internal/variant"
)

const (
	commandGenerate = "generate"
	commandRender   = "render"
	commandRun      = "run"
)

var batchShort = map[string]string{
	commandGenerate: "Write the scene descriptions of every minute of a session",
	commandRender:   "Render every missing variant of a session from existing descriptions",
	commandRun:      "Generate the scene descriptions, then render them",
}

func addUnitFlags(cmd *cobra.Command) {
	cmd.Flags().Int("dataset", 0, "dataset index (2 or higher)")
	cmd.Flags().Int("session", 0, "session index")
	cmd.MarkFlagRequired("dataset")
	cmd.MarkFlagRequired("session")
}

func newBatchCmd(name string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: batchShort[name],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, name)
		},
	}
	addUnitFlags(cmd)
	cmd.Flags().Int64("seed", config.DefaultSeed, "seed of the noise and minute choices")
	if name != commandGenerate {
		cmd.Flags().Bool("random-minute", false, "render a single randomly chosen minute")
		cmd.Flags().Bool("no-convolve", false, "stop after the ambisonic render")
		cmd.Flags().Duration("settle-delay", 0, "pause between renderer exit and convolution")
	}
	return cmd
}

func newService(a *app) (*batch.Service, error) {
	s := a.cfg.Settings()

	fsys := blocks.Embedded()
	if dir := a.cfg.BlocksDir(); dir != "" {
		fsys = os.DirFS(dir)
	}
	binder, err := blocks.NewBinder(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to load scene blocks: %w", err)
	}

	driver := render.NewDriver(render.DriverConfig{
		Settings:  s,
		Tools:     render.NewSubprocessTools(render.ToolsConfigFromSettings(s, a.logger)),
		Ephemeral: render.SelectEphemeral(render.DefaultShmDir, a.logger),
		Finalizer: postproc.New(postproc.Config{Frames: s.SamplesPerMinute(), BitDepth: s.BitDepth, Logger: a.logger}),
		Recorder:  a.repo,
		Logger:    a.logger,
	})

	return batch.NewService(batch.Config{
		Settings: s,
		Resolver: a.resolver,
		Composer: scene.NewComposer(binder, s),
		Driver:   driver,
		Repo:     a.repo,
		Logger:   a.logger,
	}), nil
}

func runBatch(cmd *cobra.Command, name string) error {
	a, err := openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := newService(a)
	if err != nil {
		return err
	}

	dataset, _ := cmd.Flags().GetInt("dataset")
	session, _ := cmd.Flags().GetInt("session")
	opts := batch.Options{
		Dataset:      dataset,
		Session:      session,
		Seed:         a.cfg.Seed(),
		RandomMinute: a.cfg.RandomMinute(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var report *batch.Report
	switch name {
	case commandGenerate:
		report, err = svc.Generate(ctx, opts)
	case commandRender:
		report, err = svc.Render(ctx, opts)
	default:
		report, err = svc.Run(ctx, opts)
	}
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return err
	}
	if report.Failed() {
		return fmt.Errorf("run %s: %d failed: %w", report.RunID, report.FailedUnits(), errUnitsFailed)
	}
	return nil
}

func printReport(w io.Writer, r *batch.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\t%s D%d S%d\n", r.RunID, r.Command, r.Dataset, r.Session)
	if len(r.Generated) > 0 {
		fmt.Fprintf(tw, "generated\t%d minutes\n", len(r.Generated))
	}
	if len(r.Minutes) > 0 {
		fmt.Fprintln(tw, "minute\tdone\tskipped\tpartial\tfailed")
		for _, m := range r.Minutes {
			counts := map[render.Outcome]int{}
			for _, res := range m.Results {
				counts[res.Outcome]++
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", m.Minute,
				counts[render.OutcomeDone], counts[render.OutcomeSkipped], counts[render.OutcomePartial], counts[render.OutcomeFailed])
			for _, res := range m.Results {
				if res.Err != nil {
					fmt.Fprintf(tw, "  %s\t%v\n", res.Variant.Name(), res.Err)
				}
			}
		}
	}
	for _, f := range r.Failures {
		fmt.Fprintf(tw, "aborted\t%s\t%s\t%v\n", f.Minute, f.Stage, f.Err)
	}
	tw.Flush()
}

func newVariantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variants",
		Short: "List the variants a minute requires and their artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataset, _ := cmd.Flags().GetInt("dataset")
			session, _ := cmd.Flags().GetInt("session")
			minute, _ := cmd.Flags().GetString("minute")

			resolver := paths.NewSPEARResolver(cfg.Root())
			sceneRoot, err := resolver.Resolve(dataset, session, paths.SceneWorking)
			if err != nil {
				return err
			}
			s := cfg.Settings()
			talkers, err := scene.DiscoverTalkers(filepath.Join(sceneRoot, minute), s.ReceiverID, s.Interferers)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "variant\tscene\tartifact\treference")
			for _, v := range variant.Enumerate(talkers) {
				ref := "-"
				if v.IsReference() {
					ref = v.ReferenceFileName(dataset, session, minute)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Name(), v.SceneName(), v.ArrayFileName(), ref)
			}
			return tw.Flush()
		},
	}
	addUnitFlags(cmd)
	cmd.Flags().String("minute", "", "minute directory name, e.g. 05")
	cmd.MarkFlagRequired("minute")
	return cmd
}

// doctorReport is printed by the doctor command.
type doctorReport struct {
	Tools       *render.Capabilities `json:"tools"`
	Directories map[string]string    `json:"directories,omitempty"`
	Missing     []string             `json:"missing,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the external tools and the SPEAR directories are in place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s := cfg.Settings()
			doctor := render.NewCachedDoctor(render.LookPathProber{Renderer: s.Renderer, Convolver: s.Convolver}, logger)
			caps, err := doctor.Get(cmd.Context())
			if err != nil {
				return err
			}

			out := doctorReport{Tools: caps}
			var problems []string
			if !caps.CanRender() {
				problems = append(problems, "renderer "+s.Renderer+" not found")
			}
			if s.Convolve && !caps.CanConvolve() {
				problems = append(problems, "convolver "+s.Convolver+" not found")
			}

			dataset, _ := cmd.Flags().GetInt("dataset")
			session, _ := cmd.Flags().GetInt("session")
			if cfg.Root() != "" && dataset > 0 && session > 0 {
				out.Directories, out.Missing = checkDirectories(paths.NewSPEARResolver(cfg.Root()), dataset, session)
				if s.Convolve {
					if dir := out.Directories[string(paths.TransferConfig)]; dir != "" {
						if _, err := batch.FindConvolverConfig(dir); err != nil {
							problems = append(problems, err.Error())
						}
					}
				}
			}
			for _, m := range out.Missing {
				problems = append(problems, "missing directory "+m)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d problems: %v", len(problems), problems)
			}
			return nil
		},
	}
	cmd.Flags().Int("dataset", 0, "also check the directories of this dataset")
	cmd.Flags().Int("session", 0, "also check the directories of this session")
	return cmd
}

func checkDirectories(r paths.Resolver, dataset, session int) (map[string]string, []string) {
	dirs := map[string]string{}
	var missing []string
	for _, cat := range []paths.Category{paths.SceneWorking, paths.NoisePool, paths.TransferConfig, paths.ArrayOutput, paths.ReferenceOutput} {
		dir, err := r.Resolve(dataset, session, cat)
		if err != nil {
			missing = append(missing, fmt.Sprintf("%s (%v)", cat, err))
			continue
		}
		dirs[string(cat)] = dir
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			missing = append(missing, dir)
		}
	}
	return dirs, missing
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run status and rendered artifacts on localhost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime := time.Now()
			a, err := openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			s := a.cfg.Settings()
			doctor := render.NewCachedDoctor(render.LookPathProber{Renderer: s.Renderer, Convolver: s.Convolver}, a.logger)
			var artifacts playback.ArtifactService
			if root := a.cfg.Root(); root != "" && fsutil.Exists(root) {
				artifacts = playback.NewServer(root, a.logger)
			} else {
				a.logger.Warn("SPEAR root not available, artifact streaming disabled", "root", root)
			}

			server := api.NewServer(api.ServerConfig{
				Port:       a.cfg.Port(),
				Repository: a.repo,
				Artifacts:  artifacts,
				Doctor:     doctor,
				Logger:     a.logger,
				StartTime:  startTime,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				a.logger.Info("received shutdown signal")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			a.logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().Int("port", config.DefaultPort, "port of the status server on 127.0.0.1")
	return cmd
}
