package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	_ "github.com/jackzampolin/screenocr/docs"
	"github.com/jackzampolin/screenocr/internal/config"
	"github.com/jackzampolin/screenocr/internal/home"
	"github.com/jackzampolin/screenocr/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the screenocr server",
	Long: `Start the screenocr HTTP server.

The model cache (ocr_models/ next to the install directory, or models.cache_dir)
is created if missing and exported to the OCR engine. Models load on the first
OCR request, or in the background at startup when models.preload is set.

The server provides:
  - /health     - Server, engine and device status
  - /progress   - Model load progress
  - /ocr        - Single-image OCR
  - /ocr/batch  - Batched OCR
  - /metrics    - Prometheus metrics
  - /swagger    - API documentation

Examples:
  screenocr serve                   # Listen on 0.0.0.0:5000
  screenocr serve --port 5001       # Listen on a custom port
  screenocr serve --device cpu      # Skip accelerator detection`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger; the level follows log.level across reloads
		levelVar := new(slog.LevelVar)
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: levelVar,
		}))
		slog.SetDefault(logger)

		// Resolve the install directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}

		cm, err := config.NewManager(cfgFile, h.Path())
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if err := cm.BindFlags(map[string]*pflag.Flag{
			"server.host":      flags.Lookup("host"),
			"server.port":      flags.Lookup("port"),
			"models.engine":    flags.Lookup("engine"),
			"models.device":    flags.Lookup("device"),
			"models.preload":   flags.Lookup("preload"),
			"models.cache_dir": flags.Lookup("cache-dir"),
		}); err != nil {
			return err
		}
		cfg := cm.Get()
		if lvl, err := cfg.Log.SlogLevel(); err == nil {
			levelVar.Set(lvl)
		}
		if f := cm.ConfigFile(); f != "" {
			logger.Info("using config file", "path", f)
		}

		// Model cache
		if cfg.Models.CacheDir != "" {
			h = h.WithCacheDir(cfg.Models.CacheDir)
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		prefix, err := h.ExportCacheEnv()
		if err != nil {
			return err
		}
		if prefix == "" {
			logger.Info("model cache ready", "dir", h.ModelCacheDir(), "tessdata", "system default")
		} else {
			logger.Info("model cache ready", "dir", h.ModelCacheDir(), "TESSDATA_PREFIX", prefix)
		}

		cm.WatchConfig()

		// Create server
		srv, err := server.New(server.Config{
			ConfigManager: cm,
			Home:          h,
			Logger:        logger,
			LevelVar:      levelVar,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 5000, "Port to listen on")
	serveCmd.Flags().String("engine", "tesseract", "OCR engine: tesseract or mock")
	serveCmd.Flags().String("device", "auto", "Compute device: auto, cuda, mps or cpu")
	serveCmd.Flags().Bool("preload", true, "Load models in the background at startup")
	serveCmd.Flags().String("cache-dir", "", "Model cache directory (default: {install_dir}/ocr_models)")

	rootCmd.AddCommand(serveCmd)
}
