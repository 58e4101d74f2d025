// Package gateway sends WhatsApp messages through the Evolution API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielCayresFilho/NoVendx/internal/apperrors"
	"github.com/DanielCayresFilho/NoVendx/internal/config"
	"github.com/DanielCayresFilho/NoVendx/internal/model"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/internal/validator"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxErrorBody          = 512
)

// InstanceStore resolves a line's gateway deployment.
type InstanceStore interface {
	FindGatewayInstance(ctx context.Context, name string) (*model.GatewayInstance, error)
}

// Sender is what the admission pipeline needs from a gateway.
type Sender interface {
	SendText(ctx context.Context, line *model.Line, to, text string) error
	SendMedia(ctx context.Context, line *model.Line, to string, media Media) error
}

// Media describes a media message. Caption is optional.
type Media struct {
	Type     string `json:"mediatype,omitempty" validate:"omitempty,oneof=image video audio document"`
	URL      string `json:"mediaUrl" validate:"required,url"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

type textRequest struct {
	Number string `json:"number" validate:"required,phone"`
	Text   string `json:"text" validate:"required"`
}

type mediaRequest struct {
	Number string `json:"number" validate:"required,phone"`
	Media
}

// Client talks to Evolution API deployments.
type Client struct {
	http      *http.Client
	instances InstanceStore
	cfg       config.GatewayConfig
}

var _ Sender = (*Client)(nil)

// NewClient creates a Client. Lines whose GatewayName has no registered instance
// use cfg.BaseURL and cfg.APIKey.
func NewClient(cfg config.GatewayConfig, instances InstanceStore) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		instances: instances,
		cfg:       cfg,
	}
}

// InstanceName is the Evolution instance that serves a line phone.
func InstanceName(linePhone string) string {
	return utils.InstanceName(linePhone)
}

// SendText sends a text message from line to the given phone.
func (c *Client) SendText(ctx context.Context, line *model.Line, to, text string) error {
	req := textRequest{Number: utils.NormalizePhone(to), Text: text}
	if err := validator.Validate(req); err != nil {
		return apperrors.NewFatal(err, "invalid text message")
	}
	return c.post(ctx, "send_text", "sendText", line, req)
}

// SendMedia sends an image, video, audio or document from line.
func (c *Client) SendMedia(ctx context.Context, line *model.Line, to string, media Media) error {
	req := mediaRequest{Number: utils.NormalizePhone(to), Media: media}
	if err := validator.Validate(req); err != nil {
		return apperrors.NewFatal(err, "invalid media message")
	}
	return c.post(ctx, "send_media", "sendMedia", line, req)
}

// endpoint returns the base URL and API key for line.
func (c *Client) endpoint(ctx context.Context, line *model.Line) (string, string, error) {
	if line.GatewayName != "" && c.instances != nil {
		gi, err := c.instances.FindGatewayInstance(ctx, line.GatewayName)
		switch {
		case err == nil:
			if !gi.Active {
				return "", "", apperrors.NewFatal(apperrors.ErrGateway, "gateway instance %s is inactive", gi.Name)
			}
			return gi.BaseURL, gi.APIKey, nil
		case !errors.Is(err, apperrors.ErrNotFound):
			return "", "", apperrors.NewRetryable(err, "failed to resolve gateway instance %s", line.GatewayName)
		}
	}
	if c.cfg.BaseURL == "" {
		return "", "", apperrors.NewFatal(apperrors.ErrGateway, "no gateway configured for line %d", line.ID)
	}
	return c.cfg.BaseURL, c.cfg.APIKey, nil
}

func (c *Client) post(ctx context.Context, op, path string, line *model.Line, body interface{}) (err error) {
	start := time.Now()
	defer func() { observer.ObserveGatewayAttempt(op, time.Since(start), err) }()

	if line == nil {
		return apperrors.NewFatal(apperrors.ErrLineUnavailable, "no line to send from")
	}
	baseURL, apiKey, err := c.endpoint(ctx, line)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.NewFatal(err, "failed to marshal %s request", op)
	}
	url := fmt.Sprintf("%s/message/%s/%s", strings.TrimRight(baseURL, "/"), path, InstanceName(line.Phone))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewFatal(err, "failed to create gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewRetryable(fmt.Errorf("%w: %w", apperrors.ErrGateway, err), "gateway %s request failed", op)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("%w: status %d: %s", apperrors.ErrGateway, resp.StatusCode, strings.TrimSpace(string(snippet)))
	logger.FromContext(ctx).Warn("Gateway rejected message",
		zap.String("operation", op),
		zap.Int64("line_id", line.ID),
		zap.Int("status", resp.StatusCode))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apperrors.NewRetryable(cause, "gateway %s failed", op)
	}
	return apperrors.NewFatal(cause, "gateway %s rejected", op)
}
