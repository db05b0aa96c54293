package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cadence/internal/config"
)

func newValidateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		Long: `Validate decodes the config strictly (unknown fields are errors) and
reports every invalid field at once, each prefixed with its path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o.configPath)
			if err != nil {
				return err
			}
			enabled := 0
			for _, j := range cfg.Jobs {
				if !j.Disabled {
					enabled++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d jobs, %d enabled)\n", o.configPath, len(cfg.Jobs), enabled)
			return nil
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}
