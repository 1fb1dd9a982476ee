// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/d-gangz/glowing-braintrust/internal/backend"
	"github.com/d-gangz/glowing-braintrust/internal/chains"
	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/d-gangz/glowing-braintrust/internal/eval"
	"github.com/d-gangz/glowing-braintrust/internal/notify"
	"github.com/d-gangz/glowing-braintrust/internal/persistence/postgres"
	"github.com/d-gangz/glowing-braintrust/internal/repository"
	"github.com/spf13/cobra"
)

type evalOptions struct {
	datasetFile string
	scorers     []string
	concurrency int
	asJSON      bool
	list        bool
}

func newEvalCmd(a *app) *cobra.Command {
	opts := &evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval [preset]",
		Short: "Run an experiment preset over its dataset",
		Long: `eval runs a chain over every case of a dataset, scores each output and
records the experiment. The preset is an experiment name or a chain name;
without one every preset runs in turn.

Records go to Postgres when DATABASE_URL is set and to the log otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.list {
				return printPresets(cmd.OutOrStdout())
			}
			return a.runEval(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.datasetFile, "dataset-file", "", "YAML dataset to use instead of the preset's dataset")
	cmd.Flags().StringSliceVar(&opts.scorers, "scorer", []string{"non_empty"}, "scorers to apply (non_empty, exact_match)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "cases run at once; defaults to EVAL_CONCURRENCY")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the experiment summaries as JSON")
	cmd.Flags().BoolVar(&opts.list, "list", false, "list the presets and exit")
	return cmd
}

func (a *app) runEval(cmd *cobra.Command, args []string, opts *evalOptions) error {
	ctx := cmd.Context()

	presets := chains.Presets()
	if len(args) == 1 {
		p, ok := chains.PresetByName(args[0])
		if !ok {
			return fmt.Errorf("unknown preset %q", args[0])
		}
		presets = []chains.Preset{p}
	}

	scorers, err := eval.ScorersByName(opts.scorers...)
	if err != nil {
		return err
	}

	be, err := a.newBackend(a.cfg, a.logger)
	if err != nil {
		return err
	}
	registry, err := chains.NewRegistry(chains.Deps{Invoker: be.Invoker, Logger: a.logger})
	if err != nil {
		return err
	}

	var recorder eval.Recorder = eval.LogRecorder{Logger: a.logger}
	if strings.TrimSpace(a.cfg.DatabaseURL) != "" {
		pool, err := postgres.NewPool(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if a.cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, a.logger); err != nil {
				return err
			}
		}
		recorder = repository.NewExperimentRepository(pool, a.logger)
	}

	var notifier eval.Notifier
	if strings.TrimSpace(a.cfg.EvalWebhookURL) != "" {
		notifier = notify.NewWebhook(notify.WebhookConfig{
			URL:    a.cfg.EvalWebhookURL,
			Secret: a.cfg.EvalWebhookSecret,
			Logger: a.logger,
		})
	}

	concurrency := opts.concurrency
	if concurrency < 1 {
		concurrency = a.cfg.EvalConcurrency
	}

	summaries := make([]*eval.Summary, 0, len(presets))
	var failed []string
	for _, p := range presets {
		c, ok := registry.Get(p.Chain)
		if !ok {
			return fmt.Errorf("preset %s names unknown chain %s", p.Experiment, p.Chain)
		}
		dataset, datasetName, err := presetDataset(be, p, opts.datasetFile)
		if err != nil {
			return err
		}

		runner, err := eval.NewRunner(eval.Config{
			Task:        eval.ChainTask(c),
			Dataset:     dataset,
			Scorers:     scorers,
			Recorder:    recorder,
			Notifier:    notifier,
			Concurrency: concurrency,
			Logger:      a.logger,
		})
		if err != nil {
			return err
		}

		summary, err := runner.Run(ctx, domain.Experiment{
			Name:     p.Experiment,
			Project:  p.Project,
			Chain:    p.Chain,
			Dataset:  datasetName,
			Metadata: p.Metadata,
		})
		if err != nil {
			a.logger.Error("experiment failed", "experiment", p.Experiment, "error", err)
			failed = append(failed, p.Experiment)
			continue
		}
		summaries = append(summaries, summary)
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			return err
		}
	} else {
		for _, s := range summaries {
			printSummary(out, s)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("experiments failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func presetDataset(be *backend.Backend, p chains.Preset, file string) (eval.Dataset, string, error) {
	switch {
	case file != "":
		return eval.File(file), file, nil
	case p.Dataset == "":
		return p.Inline, "inline", nil
	default:
		ds, err := be.Dataset(p.Project, p.Dataset)
		if err != nil {
			if errors.Is(err, backend.ErrNoRemoteDatasets) {
				return nil, "", fmt.Errorf("preset %s: %w (pass --dataset-file)", p.Experiment, err)
			}
			return nil, "", err
		}
		return ds, p.Dataset, nil
	}
}

func printSummary(w io.Writer, s *eval.Summary) {
	exp := s.Experiment
	fmt.Fprintf(w, "experiment %s (%s) %s: %d cases, %d succeeded, %d failed\n",
		exp.Name, exp.ID, exp.Status, exp.Total, exp.Succeeded, exp.Failed)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tSTATUS\tMS\tSCORES\tOUTPUT")
	for _, rec := range s.Records {
		detail := rec.Output
		if rec.Error != "" {
			detail = rec.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", rec.CaseIndex, rec.Status, rec.DurationMS, formatScores(rec.Scores), truncate(detail, 60))
	}
	_ = tw.Flush()
}

func printPresets(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXPERIMENT\tCHAIN\tDATASET")
	for _, p := range chains.Presets() {
		dataset := p.Dataset
		if dataset == "" {
			dataset = fmt.Sprintf("inline (%d cases)", len(p.Inline))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Experiment, p.Chain, dataset)
	}
	return tw.Flush()
}

func formatScores(scores map[string]float64) string {
	if len(scores) == 0 {
		return "-"
	}
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%g", name, scores[name]))
	}
	return strings.Join(parts, ",")
}

// truncate shortens s to at most n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
