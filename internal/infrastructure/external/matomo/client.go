package matomo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 10 * time.Second
	// MaxRetries for failed requests
	MaxRetries = 3
	// RetryDelay is the first backoff step
	RetryDelay = 500 * time.Millisecond

	trackPath = "/matomo.php"
)

// Config represents Matomo configuration
type Config struct {
	BaseURL    string
	SiteID     string
	TokenAuth  string
	Timeout    time.Duration
	MaxRetries uint64
	RetryDelay time.Duration
}

// Client sends tracking requests to Matomo
type Client struct {
	config Config
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a new Matomo HTTP client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = MaxRetries
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = RetryDelay
	}

	return &Client{
		config: config,
		http: resty.New().
			SetBaseURL(config.BaseURL).
			SetTimeout(config.Timeout),
		logger: logger,
	}
}

// TrackEventRequest represents a standard event tracking request
type TrackEventRequest struct {
	Category        string
	Action          string
	Name            string
	Value           float64
	VisitorID       string
	EventTime       time.Time
	CustomVariables map[string]string
}

// TrackEvent tracks a standard event in Matomo
func (c *Client) TrackEvent(ctx context.Context, req TrackEventRequest) error {
	params := c.baseParams()
	params.Set("e_c", req.Category)
	params.Set("e_a", req.Action)
	if req.Name != "" {
		params.Set("e_n", req.Name)
	}
	if req.Value > 0 {
		params.Set("e_v", strconv.FormatFloat(req.Value, 'f', 2, 64))
	}
	if req.VisitorID != "" {
		params.Set("uid", req.VisitorID)
	}

	i := 1
	for key, value := range req.CustomVariables {
		params.Set(fmt.Sprintf("cvar[%d][0]", i), key)
		params.Set(fmt.Sprintf("cvar[%d][1]", i), value)
		i++
	}

	if !req.EventTime.IsZero() {
		params.Set("cdt", strconv.FormatInt(req.EventTime.Unix(), 10))
	}

	return c.send(ctx, params)
}

// HealthCheck sends a tracking request Matomo records as a health event
func (c *Client) HealthCheck(ctx context.Context) error {
	params := c.baseParams()
	params.Set("e_c", "health")
	params.Set("e_a", "check")
	return c.send(ctx, params)
}

func (c *Client) baseParams() url.Values {
	params := url.Values{}
	params.Set("rec", "1")
	params.Set("idsite", c.config.SiteID)
	if c.config.TokenAuth != "" {
		params.Set("token_auth", c.config.TokenAuth)
	}
	// Prevent caching
	params.Set("rand", strconv.FormatInt(time.Now().UnixNano(), 10))
	return params
}

// send posts the tracking request, retrying transport failures and 5xx answers
func (c *Client) send(ctx context.Context, params url.Values) error {
	backoff := retry.WithMaxRetries(c.config.MaxRetries, retry.NewExponential(c.config.RetryDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := c.http.R().
			SetContext(ctx).
			SetFormDataFromValues(params).
			Post(trackPath)
		if err != nil {
			c.logger.Warn("Matomo request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}

		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			return nil
		case status >= http.StatusInternalServerError:
			c.logger.Warn("Matomo request returned error status, retrying",
				zap.Int("attempt", attempt),
				zap.Int("status", status),
			)
			return retry.RetryableError(fmt.Errorf("matomo returned status %d", status))
		default:
			return fmt.Errorf("matomo returned status %d: %s", status, resp.String())
		}
	})
	if err != nil {
		return fmt.Errorf("matomo tracking failed: %w", err)
	}
	return nil
}
