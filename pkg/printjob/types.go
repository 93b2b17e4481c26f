package printjob

import "context"

// ColorMode selects monochrome or color output
type ColorMode string

const (
	// Mono prints in black and white
	Mono ColorMode = "mono"
	// Color prints in color
	Color ColorMode = "color"
)

// IPPValue returns the print-color-mode keyword for the mode. Anything other
// than Color prints monochrome.
func (m ColorMode) IPPValue() string {
	if m == Color {
		return "color"
	}
	return "monochrome"
}

// Label returns the Portuguese label shown to users
func (m ColorMode) Label() string {
	if m == Color {
		return "Colorida"
	}
	return "Preto e Branco"
}

// Job is a single print request
type Job struct {
	FilePath       string
	DocumentName   string
	Copies         int
	ColorMode      ColorMode
	RequestingUser string
}

// Attributes are the job attributes handed to the connector
type Attributes struct {
	RequestingUser string
	JobName        string
	DocumentFormat string
	Copies         int
	ColorMode      string
}

// DefaultDocumentFormat lets the printer detect the document type
const DefaultDocumentFormat = "application/octet-stream"

// Result is the printer's answer to a submission
type Result struct {
	Accepted bool
	JobID    string
	Detail   string
}

// Connector speaks the printer wire protocol
type Connector interface {
	SubmitJob(ctx context.Context, endpoint string, attrs Attributes, data []byte) (Result, error)
}

// EndpointSource provides the printer endpoint at submission time
type EndpointSource interface {
	PrinterEndpoint() string
}

// StaticEndpoint is an EndpointSource with a fixed value
type StaticEndpoint string

// PrinterEndpoint implements EndpointSource
func (e StaticEndpoint) PrinterEndpoint() string {
	return string(e)
}
