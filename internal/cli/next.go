package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cadence/internal/config"
)

type nextOptions struct {
	count int
	from  string
}

func newNextCmd(o *rootOptions) *cobra.Command {
	n := &nextOptions{}
	cmd := &cobra.Command{
		Use:   "next [job...]",
		Short: "Preview upcoming deadlines",
		Long: `Next prints the upcoming deadlines of each job (or the named ones) in the
runner timezone, as if the job started at --from.

Examples:
  cadenced next                 Next 5 deadlines of every job
  cadenced next backup -n 10    Next 10 deadlines of "backup"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(cmd, o.configPath, n, args)
		},
	}
	cmd.Flags().IntVarP(&n.count, "count", "n", 5, "deadlines per job")
	cmd.Flags().StringVar(&n.from, "from", "", "start time (RFC 3339, default now)")
	return cmd
}

func runNext(cmd *cobra.Command, cfgPath string, n *nextOptions, names []string) error {
	if n.count <= 0 {
		return fmt.Errorf("--count must be > 0")
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	loc, err := cfg.Runner.Location()
	if err != nil {
		return err
	}
	from := time.Now()
	if n.from != "" {
		if from, err = time.Parse(time.RFC3339, n.from); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}

	jobs := cfg.Jobs
	if len(names) > 0 {
		jobs = make([]config.JobConfig, 0, len(names))
		for _, name := range names {
			j, ok := cfg.Job(name)
			if !ok {
				return fmt.Errorf("unknown job %q", name)
			}
			jobs = append(jobs, j)
		}
	}

	out := cmd.OutOrStdout()
	for _, j := range jobs {
		js, err := j.Settings(cfg.Runner)
		if err != nil {
			return err
		}
		state := ""
		if j.Disabled {
			state = " (disabled)"
		}
		fmt.Fprintf(out, "%s\t%s\t%s%s\n", js.Name, js.Schedule.Mode, js.Schedule, state)
		times := js.Schedule.Preview(from, n.count)
		if len(times) == 0 {
			fmt.Fprintln(out, "  (none)")
		}
		for _, t := range times {
			fmt.Fprintf(out, "  %s\n", t.In(loc).Format(time.RFC3339))
		}
	}
	return nil
}
