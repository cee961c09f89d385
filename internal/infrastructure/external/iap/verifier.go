package iap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/awa/go-iap/appstore"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/domain/valueobject"
	"github.com/bivex/storekit-settlement/internal/infrastructure/logging"
)

const defaultTimeout = 30 * time.Second

// AppleVerifier verifies App Store receipts against the verifyReceipt endpoints.
// Production is always tried first; a 21007 answer is resent to the sandbox exactly once.
type AppleVerifier struct {
	sharedSecret  string
	productionURL string
	sandboxURL    string
	timeout       time.Duration

	mu       sync.Mutex
	client   *resty.Client
	inflight map[uint64]context.CancelFunc
	nextID   uint64
}

// VerifierOption configures an AppleVerifier
type VerifierOption func(*AppleVerifier)

// WithSharedSecret sets the app-specific shared secret sent as "password"
func WithSharedSecret(secret string) VerifierOption {
	return func(v *AppleVerifier) { v.sharedSecret = secret }
}

// WithEndpoints overrides the production and sandbox endpoints
func WithEndpoints(productionURL, sandboxURL string) VerifierOption {
	return func(v *AppleVerifier) {
		v.productionURL = productionURL
		v.sandboxURL = sandboxURL
	}
}

// WithTimeout sets the per-request HTTP timeout
func WithTimeout(timeout time.Duration) VerifierOption {
	return func(v *AppleVerifier) { v.timeout = timeout }
}

// NewAppleVerifier creates a new Apple verifier
func NewAppleVerifier(opts ...VerifierOption) *AppleVerifier {
	v := &AppleVerifier{
		productionURL: appstore.ProductionURL,
		sandboxURL:    appstore.SandboxURL,
		timeout:       defaultTimeout,
		inflight:      make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify verifies receipt with the configured shared secret
func (v *AppleVerifier) Verify(ctx context.Context, receipt []byte) (*entity.ReceiptVerification, error) {
	return v.VerifyWithSecret(ctx, receipt, v.sharedSecret)
}

// VerifyWithSecret verifies receipt, sending sharedSecret as the password when it is not empty
func (v *AppleVerifier) VerifyWithSecret(ctx context.Context, receipt []byte, sharedSecret string) (*entity.ReceiptVerification, error) {
	if len(receipt) == 0 {
		return nil, domainErrors.NewInvalidParameterError("receipt data is empty")
	}

	ctx, done := v.track(ctx)
	defer done()

	body := appstore.IAPRequest{
		ReceiptData: base64.StdEncoding.EncodeToString(receipt),
		Password:    sharedSecret,
	}

	result, err := v.post(ctx, v.productionURL, appstore.Production, body, true)
	if errors.Is(err, domainErrors.ErrEnvironmentRedirect) {
		logging.WithComponent("apple_verifier").Debug("receipt belongs to the sandbox, resubmitting",
			zap.String("url", v.sandboxURL))
		result, err = v.post(ctx, v.sandboxURL, appstore.Sandbox, body, false)
	}
	return result, err
}

// Cancel aborts every outstanding verification. Callers get ErrVerificationCancelled
func (v *AppleVerifier) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelLocked()
}

// InvalidateAndCancel aborts outstanding verifications and discards the HTTP client.
// The next verification creates a fresh one
func (v *AppleVerifier) InvalidateAndCancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelLocked()
	v.client = nil
}

func (v *AppleVerifier) cancelLocked() {
	for id, cancel := range v.inflight {
		cancel()
		delete(v.inflight, id)
	}
}

// track registers one cancellable request; concurrent verifications are tracked together so Cancel aborts them all
func (v *AppleVerifier) track(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.inflight[id] = cancel
	v.mu.Unlock()

	return ctx, func() {
		v.mu.Lock()
		delete(v.inflight, id)
		v.mu.Unlock()
		cancel()
	}
}

func (v *AppleVerifier) httpClient() *resty.Client {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client == nil {
		v.client = resty.New().
			SetTimeout(v.timeout).
			SetHeader("Content-Type", appstore.ContentType).
			SetHeader("Accept", "application/json")
	}
	return v.client
}

func (v *AppleVerifier) post(ctx context.Context, url string, env appstore.Environment, body appstore.IAPRequest, redirect bool) (*entity.ReceiptVerification, error) {
	op := "POST " + url
	resp, err := v.httpClient().R().
		SetContext(ctx).
		SetBody(body).
		Post(url)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, domainErrors.ErrVerificationCancelled
		}
		return nil, &domainErrors.NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &domainErrors.NetworkError{Op: op, Err: fmt.Errorf("unexpected HTTP status %d", resp.StatusCode())}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, &domainErrors.NetworkError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	rawStatus, ok := payload["status"].(float64)
	if !ok {
		return nil, &domainErrors.NetworkError{Op: op, Err: errors.New("response has no status")}
	}

	status := valueobject.VerifyStatus(int(rawStatus))
	switch {
	case status.IsValid():
		return &entity.ReceiptVerification{Status: status.Int(), Environment: string(env), Payload: payload}, nil
	case status.IsSandboxRedirect() && redirect:
		return nil, domainErrors.ErrEnvironmentRedirect
	default:
		return nil, domainErrors.NewVerificationError(status.Int(), appstore.HandleError(status.Int()))
	}
}
