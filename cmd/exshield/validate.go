package main

import (
	"github.com/spf13/cobra"

	"github.com/exshield/exshield/pkg/config"
	"github.com/exshield/exshield/pkg/expr"
)

// newValidateCmd creates the validate command: load the configuration and
// compile-check every rule so authoring bugs surface before deployment.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the rule configuration without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// Gate expressions were compile-checked during Load. Value
			// expressions are diagnostic-only at runtime, so a broken one is
			// worth a warning here rather than a hard failure.
			for _, rc := range cfg.Shield.Rules {
				if rc.ValueExpression == "" {
					continue
				}
				if _, err := expr.Compile(rc.ValueExpression); err != nil {
					cmd.Printf("warning: rule %q: value expression does not compile: %v\n", rc.Name, err)
				}
			}

			cmd.Printf("configuration OK: %d rule(s), cache size %d, bypass allowed %t\n",
				len(cfg.Shield.Rules), cfg.Shield.CacheSize, cfg.Shield.BypassAllowed)
			return nil
		},
	}
}
