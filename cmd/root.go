package cmd

import (
	"fmt"
	"os"

	"raygate/internal/config"

	"github.com/spf13/cobra"
)

var (
	configPath = "config.yml"
	skipConfig = false
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "raygate",
	Short: "Local proxy engine manager.",
	Long:  "Raygate supervises a local xray-core process and keeps its server list in sync with remote subscription sources.",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// resolveConfig or exit with error
func resolveConfig() *config.Config {
	cfg, err := config.New(configPath, skipConfig)
	if err != nil {
		fmt.Printf("unable to initialize config: %s\n", err.Error())
		os.Exit(1)
	}

	if skipConfig {
		fmt.Println("Skipped file-based configuration, using only ENV")
	}

	return cfg
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yml", "path to yml config")
	rootCmd.PersistentFlags().BoolVar(&skipConfig, "skip-config", false, "skips config and uses ENV only")
}
