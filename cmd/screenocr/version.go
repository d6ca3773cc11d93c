package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/screenocr/internal/engine"
	"github.com/jackzampolin/screenocr/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("screenocr %s\n", version.GitRelease)
		fmt.Printf("  Go:     %s\n", version.GoInfo)
		fmt.Printf("  Commit: %s\n", version.GitCommit)
		fmt.Printf("  Date:   %s\n", version.GitCommitDate)
		// Engines depend on build tags (tesseract needs -tags ocr with cgo).
		fmt.Printf("  Engines: %s\n", strings.Join(engine.Names(), ", "))
	},
}
