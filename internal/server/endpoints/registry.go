package endpoints

import (
	"github.com/jackzampolin/screenocr/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// SwaggerInstance selects the registered OpenAPI doc (default: swag.Name).
	SwaggerInstance string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ProgressEndpoint{},
		&MetricsEndpoint{},

		// OCR endpoints
		&OCREndpoint{},
		&OCRBatchEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{InstanceName: cfg.SwaggerInstance},
		&SwaggerUIEndpoint{},
	}
}
