// Package client talks to the image-to-audio pipeline over HTTP.
//
// The pipeline exposes two endpoints: one accepting a base64 image upload and
// one returning a JSON object with the URL of the generated audio once it is
// available. Both are plain HTTP; this package only encodes the contract.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Query parameters.
const (
	queryImageKey = "image_key"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Error messages shown to users verbatim.
const (
	msgUploadFailed  = "Image upload failed"
	msgAudioNotReady = "Timed out waiting for audio"
)

// Error formats.
const (
	errFmtUploadStatus   = "%w: status %s"
	errFmtDownloadStatus = "audio download returned non-OK status: %s"
	errFmtDecodeResult   = "failed to decode audio lookup response: %w"
	errFmtBuildResultURL = "failed to build audio lookup url from '%s': %w"
	errFmtMarshalUpload  = "failed to marshal upload request: %w"
	errFmtCreateRequest  = "failed to create %s request: %w"
	errFilenameEmpty     = "filename cannot be empty"
	errAudioURLEmpty     = "audio url cannot be empty"
)

// Operation names used in NetworkError.
const (
	uploadOperationName   = "upload"
	lookupOperationName   = "audio lookup"
	downloadOperationName = "audio download"
)

const (
	maxDrainBytes        = 4096
	downloadAcceptHeader = "audio/*"
)

var (
	// ErrUploadFailed is returned when the upload endpoint answers with a non-2xx status.
	ErrUploadFailed = errors.New(msgUploadFailed)
	// ErrAudioNotReady is returned when the lookup response carries no url.
	ErrAudioNotReady = errors.New(msgAudioNotReady)
	// ErrFilenameEmpty is returned when an upload or lookup has no filename.
	ErrFilenameEmpty = errors.New(errFilenameEmpty)
	// ErrAudioURLEmpty is returned when a download is requested without a URL.
	ErrAudioURLEmpty = errors.New(errAudioURLEmpty)
)

// NetworkError wraps a transport failure of one of the pipeline calls.
type NetworkError struct {
	Err error
	Op  string
	URL string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s request to %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UploadRequest is the JSON body of the upload call.
type UploadRequest struct {
	// Filename doubles as the key the audio is later looked up by.
	Filename string `json:"filename"`

	// File is the standard base64 encoding of the image, without a data URL prefix.
	File string `json:"file"`
}

// AudioResponse is the JSON body of the lookup call.
type AudioResponse struct {
	URL string `json:"url"`
}

// HTTPClient represents a client for the upload and audio lookup endpoints.
type HTTPClient struct {
	httpClient *http.Client
	uploadURL  string
	resultURL  string
}

// NewHTTPClient creates a client for the two pipeline endpoints. A zero timeout
// leaves requests unbounded except by their context.
func NewHTTPClient(uploadURL, resultURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		uploadURL: uploadURL,
		resultURL: resultURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Upload posts the encoded image. Any 2xx status counts as success and the
// response body is discarded.
func (c *HTTPClient) Upload(ctx context.Context, req UploadRequest) error {
	if req.Filename == "" {
		return ErrFilenameEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf(errFmtMarshalUpload, err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.uploadURL,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return fmt.Errorf(errFmtCreateRequest, uploadOperationName, err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &NetworkError{Err: err, Op: uploadOperationName, URL: c.uploadURL}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf(errFmtUploadStatus, ErrUploadFailed, resp.Status)
	}

	return nil
}

// FetchAudioURL issues one lookup for imageKey and returns the url field of the
// JSON response. The HTTP status is not inspected; a body without a url is
// reported as ErrAudioNotReady.
func (c *HTTPClient) FetchAudioURL(ctx context.Context, imageKey string) (string, error) {
	if imageKey == "" {
		return "", ErrFilenameEmpty
	}

	lookupURL, err := c.lookupURL(imageKey)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf(errFmtCreateRequest, lookupOperationName, err)
	}

	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &NetworkError{Err: err, Op: lookupOperationName, URL: lookupURL}
	}
	defer drainAndClose(resp.Body)

	var audio AudioResponse

	err = json.NewDecoder(resp.Body).Decode(&audio)
	if err != nil {
		return "", fmt.Errorf(errFmtDecodeResult, err)
	}

	if audio.URL == "" {
		return "", ErrAudioNotReady
	}

	return audio.URL, nil
}

// DownloadAudio fetches the bytes behind a ready audio URL.
func (c *HTTPClient) DownloadAudio(ctx context.Context, audioURL string) ([]byte, error) {
	if audioURL == "" {
		return nil, ErrAudioURLEmpty
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, downloadOperationName, err)
	}

	httpReq.Header.Set(headerAccept, downloadAcceptHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Err: err, Op: downloadOperationName, URL: audioURL}
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(errFmtDownloadStatus, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err, Op: downloadOperationName, URL: audioURL}
	}

	return data, nil
}

func (c *HTTPClient) lookupURL(imageKey string) (string, error) {
	parsed, err := url.Parse(c.resultURL)
	if err != nil {
		return "", fmt.Errorf(errFmtBuildResultURL, c.resultURL, err)
	}

	param := queryImageKey + "=" + escapeComponent(imageKey)
	if parsed.RawQuery == "" {
		parsed.RawQuery = param
	} else {
		parsed.RawQuery += "&" + param
	}

	return parsed.String(), nil
}

// escapeComponent percent-encodes spaces as %20 rather than '+'.
func escapeComponent(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	_ = body.Close()
}
