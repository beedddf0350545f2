package broadcast

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/peakfeed/cache-service/types"
	"github.com/peakfeed/cache-service/utils"
)

const (
	webhookTimeout         = 10 * time.Second
	webhookSignatureHeader = "X-Cache-Signature"
)

// WebhookClient posts notification events to a configured URL. When a
// shared secret is set each payload is signed with HMAC-SHA256 so the
// receiver can verify origin.
type WebhookClient struct {
	logger types.Logger
	client *fasthttp.Client
	url    string
	secret string
}

func NewWebhookClient(logger types.Logger, url, secret string) *WebhookClient {
	return &WebhookClient{
		logger: logger,
		client: &fasthttp.Client{
			ReadTimeout:  webhookTimeout,
			WriteTimeout: webhookTimeout,
		},
		url:    url,
		secret: secret,
	}
}

func (w *WebhookClient) Deliver(ctx context.Context, event *types.NotificationEvent) error {
	payload, err := utils.Marshal(event)
	if err != nil {
		return types.WrapError(err, "failed to marshal webhook payload")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.SetRequestURI(w.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if w.secret != "" {
		req.Header.Set(webhookSignatureHeader, w.sign(payload))
	}

	deadline := time.Now().Add(webhookTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := w.client.DoDeadline(req, resp, deadline); err != nil {
		return types.WrapError(err, "webhook request failed")
	}

	if resp.StatusCode() >= fasthttp.StatusBadRequest {
		return types.Errorf(types.ErrWebhookDeliveryFailed, "status %d", resp.StatusCode())
	}

	w.logger.Debug("Webhook delivered",
		zap.String("type", string(event.Type)),
		zap.Int("status", resp.StatusCode()))

	return nil
}

func (w *WebhookClient) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
