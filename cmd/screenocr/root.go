package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/screenocr/internal/api"
	"github.com/jackzampolin/screenocr/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "screenocr",
	Short: "Local OCR service for screen captures",
	Long: `screenocr serves text recognition over HTTP for a desktop screen-capture app.

The OCR models load once, on the first request (or at startup with
models.preload). While they load, /progress reports how far along they are.

Endpoints:
  GET  /health      Server and model status
  GET  /progress    Model load progress
  POST /ocr         Recognize text in one base64 image
  POST /ocr/batch   Recognize text in several images with one engine call`,
	Version:      version.GitRelease,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or {install_dir}/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "install directory holding ocr_models/ (default: next to the executable)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
