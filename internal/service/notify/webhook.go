package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"StockAlert/internal/domain/service"
	"StockAlert/internal/service/ratelimit"
	xhttp "StockAlert/pkg/http"
	"StockAlert/pkg/logger"
	"StockAlert/pkg/queue"
)

// WebhookRetryType is the job type webhook retries are queued under.
const WebhookRetryType = "webhook.deliver"

var errRateLimited = errors.New("webhook rate limited")

// Webhook posts alert payloads to user endpoints. Calls are rate limited per
// host; when a retry queue is set, retryable failures are queued for later
// delivery while the call itself still reports failure.
type Webhook struct {
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	retry   queue.Publisher
	log     *logger.Logger
}

var _ service.WebhookCaller = (*Webhook)(nil)

// NewWebhook builds a caller. limiter and retry may be nil.
func NewWebhook(client *xhttp.Client, limiter *ratelimit.Limiter, retry queue.Publisher, log *logger.Logger) *Webhook {
	return &Webhook{client: client, limiter: limiter, retry: retry, log: log}
}

func (w *Webhook) Call(ctx context.Context, target string, body []byte, timeout time.Duration) bool {
	err := w.post(ctx, target, body, timeout)
	if err == nil {
		return true
	}
	w.log.Warn("webhook delivery failed", logger.String("host", host(target)), logger.Error(err))
	if w.retry != nil && retryable(err) {
		job := webhookJob{URL: target, Body: body, Timeout: timeout}
		if qerr := w.retry.Enqueue(context.WithoutCancel(ctx), WebhookRetryType, job); qerr != nil {
			w.log.Error("webhook retry enqueue failed", logger.String("host", host(target)), logger.Error(qerr))
		}
	}
	return false
}

func (w *Webhook) post(ctx context.Context, target string, body []byte, timeout time.Duration) error {
	if w.limiter != nil && !w.limiter.Allow(host(target)) {
		return errRateLimited
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return w.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     target,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil)
}

// retryable excludes client errors other than 408 and 429; those will not
// succeed on a second attempt.
func retryable(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout
	}
	return true
}

func host(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Host
}

type webhookJob struct {
	URL     string          `json:"url"`
	Body    json.RawMessage `json:"body"`
	Timeout time.Duration   `json:"timeout"`
}

// RetryJob redelivers queued webhook calls.
type RetryJob struct {
	hook *Webhook
}

var _ queue.Job = (*RetryJob)(nil)

// NewRetryJob uses hook without its retry publisher, so the queue alone
// decides about further attempts.
func NewRetryJob(hook *Webhook) *RetryJob {
	return &RetryJob{hook: &Webhook{client: hook.client, limiter: hook.limiter, log: hook.log}}
}

func (j *RetryJob) Name() string { return "webhook-retry" }
func (j *RetryJob) Type() string { return WebhookRetryType }

func (j *RetryJob) Handle(ctx context.Context, payload json.RawMessage) error {
	job, err := queue.Decode[webhookJob](payload)
	if err != nil {
		return err
	}
	if err := j.hook.post(ctx, job.URL, []byte(job.Body), job.Timeout); err != nil {
		if !retryable(err) {
			j.hook.log.Warn("webhook retry abandoned", logger.String("host", host(job.URL)), logger.Error(err))
			return nil
		}
		return fmt.Errorf("webhook %s: %w", host(job.URL), err)
	}
	j.hook.log.Info("webhook redelivered", logger.String("host", host(job.URL)))
	return nil
}
