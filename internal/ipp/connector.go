// Package ipp submits print jobs to network printers over IPP.
package ipp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	ippclient "github.com/phin1x/go-ipp"
	"github.com/rs/zerolog"

	"github.com/harun/printdesk/pkg/printjob"
)

const (
	// DefaultPort is the IANA IPP port
	DefaultPort = 631
	// DefaultPath is the resource used for bare host endpoints
	DefaultPath = "/ipp/print"

	attributePrintColorMode = "print-color-mode"
	attributeStatusMessage  = "status-message"
	attributeJobID          = "job-id"
	contentType             = "application/ipp"
)

func init() {
	if _, ok := ippclient.AttributeTagMapping[attributePrintColorMode]; !ok {
		ippclient.AttributeTagMapping[attributePrintColorMode] = ippclient.TagKeyword
	}
}

// Endpoint is a parsed printer endpoint
type Endpoint struct {
	// PrinterURI is sent as the printer-uri operation attribute
	PrinterURI string
	// URL is where the request is posted
	URL string
}

// ParseEndpoint accepts ipp://, ipps://, http://, https:// or a bare host
// with an optional port.
func ParseEndpoint(endpoint string) (Endpoint, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Endpoint{}, printjob.ErrNoEndpoint
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "ipp://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid printer endpoint: %w", err)
	}
	if u.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("printer endpoint has no host: %s", endpoint)
	}

	var scheme string
	switch u.Scheme {
	case "ipp", "http":
		scheme = "http"
	case "ipps", "https":
		scheme = "https"
	default:
		return Endpoint{}, fmt.Errorf("unsupported printer endpoint scheme: %s", u.Scheme)
	}

	port := u.Port()
	if port == "" && (u.Scheme == "ipp" || u.Scheme == "ipps") {
		port = strconv.Itoa(DefaultPort)
	}

	host := u.Hostname()
	if port != "" {
		host = net.JoinHostPort(host, port)
	}

	path := u.EscapedPath()
	if path == "" || path == "/" {
		path = DefaultPath
	}

	printerScheme := "ipp"
	if scheme == "https" {
		printerScheme = "ipps"
	}

	return Endpoint{
		PrinterURI: printerScheme + "://" + host + path,
		URL:        scheme + "://" + host + path,
	}, nil
}

// Option configures a Connector
type Option func(*Connector)

// WithCredentials enables HTTP basic auth
func WithCredentials(username, password string) Option {
	return func(c *Connector) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Connector) {
		c.http = client
	}
}

// WithLogger sets the connector logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Connector) {
		c.logger = logger.With().Str("component", "ipp").Logger()
	}
}

// Connector implements printjob.Connector with IPP Print-Job requests
type Connector struct {
	http      *http.Client
	username  string
	password  string
	logger    zerolog.Logger
	requestID atomic.Int32
}

// New creates an IPP connector
func New(opts ...Option) *Connector {
	c := &Connector{
		http:   &http.Client{Timeout: 2 * time.Minute},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitJob sends a Print-Job request. Transport and protocol failures are
// returned as errors; an IPP status outside the successful range is returned
// as a Result that is not accepted.
func (c *Connector) SubmitJob(ctx context.Context, endpoint string, attrs printjob.Attributes, data []byte) (printjob.Result, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return printjob.Result{}, err
	}

	req := ippclient.NewRequest(ippclient.OperationPrintJob, c.requestID.Add(1))
	req.OperationAttributes[ippclient.AttributePrinterURI] = ep.PrinterURI
	req.OperationAttributes[ippclient.AttributeRequestingUserName] = attrs.RequestingUser
	req.OperationAttributes[ippclient.AttributeJobName] = attrs.JobName
	req.OperationAttributes[ippclient.AttributeDocumentFormat] = documentFormat(attrs.DocumentFormat)
	req.JobAttributes[ippclient.AttributeCopies] = attrs.Copies
	if attrs.ColorMode != "" {
		req.JobAttributes[attributePrintColorMode] = attrs.ColorMode
	}

	payload, err := req.Encode()
	if err != nil {
		return printjob.Result{}, fmt.Errorf("failed to encode ipp request: %w", err)
	}

	body := io.MultiReader(bytes.NewReader(payload), bytes.NewReader(data))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, body)
	if err != nil {
		return printjob.Result{}, fmt.Errorf("failed to build ipp request: %w", err)
	}
	httpReq.ContentLength = int64(len(payload) + len(data))
	httpReq.Header.Set("Content-Type", contentType)
	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	c.logger.Debug().
		Str("url", ep.URL).
		Str("job_name", attrs.JobName).
		Int("size", len(data)).
		Msg("Sending Print-Job")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return printjob.Result{}, fmt.Errorf("failed to reach printer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return printjob.Result{}, fmt.Errorf("printer answered http status %d", resp.StatusCode)
	}

	ippResp, err := ippclient.NewResponseDecoder(resp.Body).Decode(nil)
	if err != nil {
		return printjob.Result{}, fmt.Errorf("failed to decode ipp response: %w", err)
	}

	return resultOf(ippResp), nil
}

// resultOf maps an IPP response to a submission result. Status codes below
// 0x0100 are the successful-ok family.
func resultOf(resp *ippclient.Response) printjob.Result {
	if resp.StatusCode < 0 || resp.StatusCode >= 0x0100 {
		detail := fmt.Sprintf("ipp status 0x%04x", uint16(resp.StatusCode))
		if msg := firstString(resp.OperationAttributes, attributeStatusMessage); msg != "" {
			detail += ": " + msg
		}
		return printjob.Result{Accepted: false, Detail: detail}
	}

	var jobID string
	for _, attrs := range resp.JobAttributes {
		if v, ok := attrs[attributeJobID]; ok && len(v) > 0 {
			jobID = fmt.Sprint(v[0].Value)
			break
		}
	}

	return printjob.Result{Accepted: true, JobID: jobID}
}

func firstString(attrs ippclient.Attributes, name string) string {
	if v, ok := attrs[name]; ok && len(v) > 0 {
		if s, ok := v[0].Value.(string); ok {
			return s
		}
	}
	return ""
}

func documentFormat(format string) string {
	if format == "" {
		return printjob.DefaultDocumentFormat
	}
	return format
}
