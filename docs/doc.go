// Package docs provides generated OpenAPI documentation.
//
// screenocr API
//
//	@title			screenocr API
//	@version		1.0
//	@description	Local OCR service for a desktop screen-capture app. Models load once on first use; poll /progress while they load.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/screenocr
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:5000
//	@BasePath	/
//
//	@schemes	http
package docs

//go:generate swag init -g ../cmd/screenocr/serve.go -o . --parseDependency --parseInternal
