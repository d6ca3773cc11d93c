package endpoints

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/screenocr/internal/api"
	"github.com/jackzampolin/screenocr/internal/inference"
	"github.com/jackzampolin/screenocr/internal/schema"
	"github.com/jackzampolin/screenocr/internal/svcctx"
)

// Messages shared by the OCR endpoints.
const (
	msgLoadFailed     = "Failed to load models"
	msgNoImage        = "No image provided"
	msgNoImages       = "No images provided"
	msgNotInitialized = "OCR services not initialized"
)

// OCRRequest is the request body for POST /ocr.
type OCRRequest = inference.Request

// OCRResponse is the response for POST /ocr.
type OCRResponse struct {
	Text    string `json:"text"`
	Lines   int    `json:"lines"`
	Success bool   `json:"success"`
}

// OCREndpoint handles POST /ocr.
type OCREndpoint struct{}

func (e *OCREndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/ocr", e.handler
}

func (e *OCREndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Recognize text in one image
//	@Description	Loads the models on first use. langs may be a string or an array and defaults to ["en"].
//	@Tags			ocr
//	@Accept			json
//	@Produce		json
//	@Param			request	body		OCRRequest	true	"Base64 image (bare or data URI) and languages"
//	@Success		200		{object}	OCRResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/ocr [post]
func (e *OCREndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)

	raw, obj, err := readJSONObject(w, r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := obj["image"]; !ok {
		writeFailure(w, http.StatusBadRequest, msgNoImage)
		return
	}
	if err := schema.Validate(schema.OCRRequest, obj); err != nil {
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

	var req OCRRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := svc.Run(ctx, req)
	if err != nil {
		logger.Error("OCR failed", "error", err)
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, OCRResponse{Text: res.Text, Lines: res.Lines, Success: true})
}

func (e *OCREndpoint) Command(getServerURL func() string) *cobra.Command {
	var langs []string
	cmd := &cobra.Command{
		Use:   "ocr <image-file>",
		Short: "Recognize text in an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := requestFromFile(args[0], langs)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp OCRResponse
			if err := client.Post(ctx, "/ocr", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringSliceVar(&langs, "langs", nil, "Language tags, e.g. en,de (default: server default)")
	return cmd
}

// requestFromFile builds an OCR request from an image on disk.
func requestFromFile(path string, langs []string) (inference.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return inference.Request{}, fmt.Errorf("failed to read image: %w", err)
	}
	req := inference.Request{Image: base64.StdEncoding.EncodeToString(data)}
	for _, l := range langs {
		if l = strings.TrimSpace(l); l != "" {
			req.Langs = append(req.Langs, l)
		}
	}
	return req, nil
}
