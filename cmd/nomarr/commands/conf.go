package commands

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/xiaden/nomarr-sub002/conf"
)

// ConfCmd groups configuration commands.
var ConfCmd = &cobra.Command{
	Use:   "conf",
	Short: "Show or initialize configuration",
	Long: `Manage nomarr configuration.

Configuration is read from nomarr.toml in the working directory or
~/.nomarr/, with NOMARR_* environment variables taking precedence.

Commands:
  nomarr conf show   # Print the effective configuration
  nomarr conf init   # Write a starter nomarr.toml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// ConfShowCmd prints the effective configuration.
var ConfShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfShow(cmd)
	},
}

// ConfInitCmd writes a starter config file.
var ConfInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter nomarr.toml with defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "nomarr.toml"
		if len(args) == 1 {
			path = args[0]
		}
		return runConfInit(path)
	},
}

func init() {
	ConfCmd.AddCommand(ConfShowCmd)
	ConfCmd.AddCommand(ConfInitCmd)
}

func runConfShow(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	if file := conf.ConfigFileUsed(); file != "" {
		fmt.Printf("# loaded from %s\n", file)
	} else {
		fmt.Println("# defaults (no config file found)")
	}
	fmt.Print(string(out))
	return nil
}

func runConfInit(path string) error {
	if err := conf.WriteStarterConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote starter configuration to %s\n", path)
	return nil
}
