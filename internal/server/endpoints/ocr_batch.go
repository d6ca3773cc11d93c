package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/screenocr/internal/api"
	"github.com/jackzampolin/screenocr/internal/inference"
	"github.com/jackzampolin/screenocr/internal/schema"
	"github.com/jackzampolin/screenocr/internal/svcctx"
)

// OCRBatchRequest is the request body for POST /ocr/batch.
type OCRBatchRequest struct {
	Images []inference.Request `json:"images"`
}

// OCRBatchResponse is the response for POST /ocr/batch.
type OCRBatchResponse struct {
	Results []inference.Result `json:"results"`
	Success bool               `json:"success"`
}

// OCRBatchEndpoint handles POST /ocr/batch.
type OCRBatchEndpoint struct{}

func (e *OCRBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/ocr/batch", e.handler
}

func (e *OCRBatchEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Recognize text in several images
//	@Description	All images go to the engine in one call. Results are in request order. One undecodable image fails the whole batch.
//	@Tags			ocr
//	@Accept			json
//	@Produce		json
//	@Param			request	body		OCRBatchRequest	true	"Images with optional per-image languages"
//	@Success		200		{object}	OCRBatchResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/ocr/batch [post]
func (e *OCRBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)

	raw, obj, err := readJSONObject(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := obj["images"]; !ok {
		writeFailure(w, http.StatusBadRequest, msgNoImages)
		return
	}
	if err := schema.Validate(schema.OCRBatchRequest, obj); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	reg := svcctx.ModelsFrom(ctx)
	svc := svcctx.InferenceFrom(ctx)
	if reg == nil || svc == nil {
		writeFailure(w, http.StatusServiceUnavailable, msgNotInitialized)
		return
	}
	if !reg.EnsureLoaded(ctx) {
		writeFailure(w, http.StatusInternalServerError, msgLoadFailed)
		return
	}

	var req OCRBatchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := svc.RunBatch(ctx, req.Images)
	if err != nil {
		logger.Error("batch OCR failed", "images", len(req.Images), "error", err)
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, OCRBatchResponse{Results: results, Success: true})
}

func (e *OCRBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var langs []string
	cmd := &cobra.Command{
		Use:   "ocr-batch <image-file>...",
		Short: "Recognize text in several image files with one request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req OCRBatchRequest
			for _, path := range args {
				item, err := requestFromFile(path, langs)
				if err != nil {
					return err
				}
				req.Images = append(req.Images, item)
			}
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp OCRBatchResponse
			if err := client.Post(ctx, "/ocr/batch", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringSliceVar(&langs, "langs", nil, "Language tags applied to every image, e.g. en,de")
	return cmd
}
