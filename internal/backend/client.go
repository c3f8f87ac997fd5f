package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Rakk301/speech-to-text-app/internal/diaglog"
)

// Endpoint is the backend's current listen address. Produced by the
// Supervisor, consumed by the Client; readers always see a fully-formed
// value via EndpointSource.
type Endpoint struct {
	Host string
	Port int
}

// BaseURL renders the endpoint for HTTP calls. A wildcard bind address is
// reached via loopback.
func (e Endpoint) BaseURL() string {
	host := e.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, e.Port)
}

// EndpointSource yields the backend's current endpoint, or false while no
// backend is running. The Supervisor implements this.
type EndpointSource interface {
	Endpoint() (Endpoint, bool)
}

// Client exchanges transcription, capability and reload requests with the
// supervised backend. Transcription uses a long timeout (model inference on
// a minute of audio is slow); probes use a short one.
type Client struct {
	source EndpointSource
	long   *http.Client // /transcribe
	short  *http.Client // /providers, /reload_model, /health
	logger *diaglog.Logger
}

const (
	transcribeTimeout = 120 * time.Second
	probeTimeout      = 3 * time.Second
)

// NewClient creates a client over the supervisor's endpoint.
func NewClient(source EndpointSource, logger *diaglog.Logger) *Client {
	return &Client{
		source: source,
		long:   &http.Client{Timeout: transcribeTimeout},
		short:  &http.Client{Timeout: probeTimeout},
		logger: logger,
	}
}

type transcribeRequest struct {
	AudioPath string `json:"audio_path"`
}

// Pointer fields distinguish an absent key from an empty string: an empty
// transcription is a legal result for silent audio.
type transcribeResponse struct {
	Transcription *string `json:"transcription"`
	Error         *string `json:"error"`
}

// Transcribe sends the finished audio artifact to the backend and returns
// the recognized text. Exactly one request is issued; the error is one of
// *NetworkError, ErrInvalidResponse or *ServerError.
func (c *Client) Transcribe(audioPath string) (string, error) {
	ep, ok := c.source.Endpoint()
	if !ok {
		return "", &NetworkError{Err: fmt.Errorf("no backend endpoint available")}
	}

	body, err := json.Marshal(transcribeRequest{AudioPath: audioPath})
	if err != nil {
		return "", fmt.Errorf("encode transcribe request: %w", err)
	}

	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentClient,
		Event:     diaglog.EventTranscribeRequest,
		Payload:   map[string]interface{}{"audio_path": audioPath, "endpoint": ep.BaseURL()},
	})

	resp, err := c.long.Post(ep.BaseURL()+"/transcribe", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: err}
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	switch {
	case parsed.Error != nil:
		return "", &ServerError{Message: *parsed.Error}
	case parsed.Transcription != nil:
		c.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentClient,
			Event:     diaglog.EventTranscribeResult,
			Payload:   map[string]interface{}{"text": *parsed.Transcription, "chars": len(*parsed.Transcription)},
		})
		return *parsed.Transcription, nil
	default:
		return "", fmt.Errorf("%w: neither transcription nor error field present", ErrInvalidResponse)
	}
}

// SupportsReload probes GET /providers. Any transport error, non-2xx status
// or unparseable descriptor reports false: the supervisor then falls back to
// a full restart rather than reloading into an unknown state.
func (c *Client) SupportsReload() bool {
	ep, ok := c.source.Endpoint()
	if !ok {
		return false
	}

	resp, err := c.short.Get(ep.BaseURL() + "/providers")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var descriptor struct {
		Providers map[string]struct {
			Available bool `json:"available"`
		} `json:"providers"`
		Current string `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&descriptor); err != nil {
		return false
	}
	// Hot reload swaps the current provider's model in place; it only works
	// when the backend reports that provider as available.
	p, ok := descriptor.Providers[descriptor.Current]
	return ok && p.Available
}

// ReloadParams are the hot-reloadable backend parameters.
type ReloadParams struct {
	Model       string  `json:"model"`
	Language    string  `json:"language"`
	Task        string  `json:"task"`
	Temperature float64 `json:"temperature"`
}

// ReloadModel POSTs new parameters to the backend's reload endpoint. Any
// non-2xx response, network error or malformed reply is an error; the
// caller treats that as a restart trigger.
func (c *Client) ReloadModel(p ReloadParams) error {
	ep, ok := c.source.Endpoint()
	if !ok {
		return &NetworkError{Err: fmt.Errorf("no backend endpoint available")}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode reload request: %w", err)
	}

	resp, err := c.short.Post(ep.BaseURL()+"/reload_model", "application/json", bytes.NewReader(body))
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("reload_model returned %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var parsed struct {
		Config map[string]interface{} `json:"config"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.Config == nil {
		return fmt.Errorf("%w: reload_model reply missing config", ErrInvalidResponse)
	}

	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentClient,
		Event:     diaglog.EventBackendReload,
		Payload:   map[string]interface{}{"model": p.Model, "language": p.Language, "task": p.Task},
	})
	return nil
}

// Health issues a short-timeout GET to the health endpoint. A failure is
// advisory: it never aborts an in-flight transcription on its own.
func (c *Client) Health() error {
	ep, ok := c.source.Endpoint()
	if !ok {
		return &NetworkError{Err: fmt.Errorf("no backend endpoint available")}
	}

	resp, err := c.short.Get(ep.BaseURL() + "/health")
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// truncate bounds response bodies quoted in error messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
