package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/planstore/internal/config"
)

// flagOnlyKeys are bound to viper for precedence but are not configuration.
var flagOnlyKeys = []string{"config", "json", "metrics_textfile"}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the planstore configuration",
	}
	cmd.AddCommand(a.configShowCommand(), a.configPathCommand(), a.configInitCommand())
	return cmd
}

func settings(v *viper.Viper) map[string]any {
	all := v.AllSettings()
	for _, k := range flagOnlyKeys {
		delete(all, k)
	}
	return all
}

func (a *app) configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the configuration after defaults, the config file, PLANSTORE_*
environment variables and flags have been applied.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			all := settings(a.v)
			if a.out.JSONMode() {
				return a.out.JSON(all)
			}
			data, err := yaml.Marshal(all)
			if err != nil {
				return err
			}
			_, err = a.out.Writer().Write(data)
			return err
		}),
	}
}

func (a *app) configPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file location",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			used := a.v.ConfigFileUsed()
			if a.out.JSONMode() {
				return a.out.JSON(map[string]string{"default": config.ConfigFile(), "used": used})
			}
			fmt.Fprintln(a.out.Writer(), config.ConfigFile())
			if used != "" && used != config.ConfigFile() {
				fmt.Fprintf(a.out.Writer(), "in use: %s\n", used)
			}
			return nil
		}),
	}
}

func (a *app) configInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file with the default values",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			path := a.v.GetString("config")
			if path == "" {
				path = config.ConfigFile()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}

			defaults := viper.New()
			config.SetDefaultsOn(defaults)
			data, err := yaml.Marshal(defaults.AllSettings())
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(a.out.Writer(), "Created config file at %s\n", path)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
