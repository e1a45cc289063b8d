package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ftl/tagstrainer/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "manage the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "write the default configuration",
	Long:  "Write the default configuration into the given file, default: tagstrainer.yaml in the user's config directory.",
	Args:  cobra.MaximumNArgs(1),
	Run:   runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "print the effective configuration",
	Run:   runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	var filename string
	if len(args) > 0 {
		filename = args[0]
	} else {
		configDir, err := os.UserConfigDir()
		if err != nil {
			log.Fatal(err)
		}
		filename = filepath.Join(configDir, config.AppName, config.AppName+"."+config.ConfigType)
	}

	if err := config.WriteDefault(filename); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("default configuration written to %s\n", filename)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	settings := loadSettings()
	fmt.Printf("mode: %s\n", settings.Mode)
	fmt.Printf("pulse protocol: %s\n", settings.Addr)
	fmt.Printf("web API: %s\n", settings.HTTPAddr)
	fmt.Printf("center frequency: %d Hz\n", settings.SdrConfig.CenterFreq)
	fmt.Printf("sample rate: %d samples/s\n", settings.SdrConfig.SampRate)
	for i, target := range settings.PulseTargets {
		status := "active"
		if !settings.SdrConfig.Contains(target.Freq) {
			status = "outside of the bandwidth"
		}
		fmt.Printf("target %d: %.0f Hz, %.0f ms, %s\n", i, target.Freq, target.Duration*1000, status)
	}
	if settings.Export.Type != config.ExportNone {
		fmt.Printf("export: %s\n", settings.Export.Type)
	}
}
