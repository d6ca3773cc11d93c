package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/screenocr/internal/api"
	"github.com/jackzampolin/screenocr/internal/progress"
	"github.com/jackzampolin/screenocr/internal/svcctx"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Engine   string         `json:"engine"`
	CacheDir string         `json:"cache_dir"`
	Device   string         `json:"device"`
	Dtype    string         `json:"dtype"`
	Loading  progress.State `json:"loading"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Health check
//	@Description	Always 200 while the server is up. Reports the engine, cache directory, device and load state.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Device: progress.DeviceUnknown,
		Dtype:  progress.DeviceUnknown,
	}

	if h := svcctx.HomeFrom(r.Context()); h != nil {
		resp.CacheDir = h.ModelCacheDir()
	}
	if reg := svcctx.ModelsFrom(r.Context()); reg != nil {
		resp.Engine = reg.Backend().Name()
		resp.Loading = reg.Tracker().Get()
		if choice, ok := reg.SelectedDevice(); ok {
			resp.Device = choice.String()
			resp.Dtype = string(choice.Precision)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(ctx, "/health", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ProgressEndpoint handles GET /progress.
type ProgressEndpoint struct{}

func (e *ProgressEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/progress", e.handler
}

func (e *ProgressEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Model load progress
//	@Description	Snapshot of the model load state. Poll while status is "loading".
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	progress.State
//	@Failure		503	{object}	ErrorResponse
//	@Router			/progress [get]
func (e *ProgressEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	reg := svcctx.ModelsFrom(r.Context())
	if reg == nil {
		writeFailure(w, http.StatusServiceUnavailable, "model registry not initialized")
		return
	}
	writeJSON(w, http.StatusOK, reg.Tracker().Get())
}

func (e *ProgressEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show model load progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			if !wait {
				var st progress.State
				if err := client.Get(ctx, "/progress", &st); err != nil {
					return err
				}
				return api.Output(st)
			}

			last := -1
			st, err := api.WaitReady(ctx, client, api.WaitOptions{
				Interval: interval,
				Timeout:  timeout,
				OnProgress: func(s progress.State) {
					if s.Progress != last {
						last = s.Progress
						fmt.Fprintf(cmd.ErrOrStderr(), "%3d%%  %s\n", s.Progress, s.Message)
					}
				},
			})
			if err != nil {
				return err
			}
			return api.Output(st)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until models are ready")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Poll interval with --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long with --wait")
	return cmd
}
