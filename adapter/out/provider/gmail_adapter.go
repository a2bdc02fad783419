// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	"caseroute/core/port/out"
	"caseroute/pkg/apperr"
	"caseroute/pkg/logger"
	"caseroute/pkg/ratelimit"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// =============================================================================
// Gmail Adapter
// =============================================================================

// GmailAdapter implements out.MailProviderPort for Gmail. Every method takes
// the token explicitly; the adapter never caches credentials.
type GmailAdapter struct {
	config  *oauth2.Config
	cb      *gobreaker.CircuitBreaker
	limiter *ratelimit.SlidingWindowLimiter
	log     *logger.Logger
}

type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func NewGmailAdapter(cfg *GmailConfig) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}

	log := logger.WithField("component", "gmail_adapter")

	cbSettings := gobreaker.Settings{
		Name:     "gmail-api",
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	}

	return &GmailAdapter{
		config: config,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
		log:    log,
	}
}

func (a *GmailAdapter) ProviderType() string {
	return "gmail"
}

// OAuthConfig exposes the endpoint configuration for the token source.
func (a *GmailAdapter) OAuthConfig() *oauth2.Config {
	return a.config
}

// SetRateLimiter installs a shared quota limiter. Gmail enforces per-user
// quota units; the limiter spreads them across all worker instances.
func (a *GmailAdapter) SetRateLimiter(l *ratelimit.SlidingWindowLimiter) {
	a.limiter = l
}

func (a *GmailAdapter) waitForQuota(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx, "gmail-api")
}

// =============================================================================
// Port Operations
// =============================================================================

// ListByCorrespondent pages through correspondence with the given address in
// either direction. Only ids and thread ids come back from the list call;
// the service fetches full messages one by one.
func (a *GmailAdapter) ListByCorrespondent(ctx context.Context, token *oauth2.Token, address, pageToken string, pageSize int) (*out.ProviderPage, error) {
	if err := a.waitForQuota(ctx); err != nil {
		return nil, err
	}
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	if pageSize <= 0 {
		pageSize = 50
	}
	query := "from:" + address + " OR to:" + address + " OR cc:" + address

	req := svc.Users.Messages.List("me").Q(query).MaxResults(int64(pageSize))
	if pageToken != "" {
		req = req.PageToken(pageToken)
	}

	var resp *gmail.ListMessagesResponse
	cbErr := a.executeWithCircuitBreaker("ListByCorrespondent", func() error {
		var apiErr error
		resp, apiErr = req.Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "list correspondence")
	}

	page := &out.ProviderPage{
		NextPageToken: resp.NextPageToken,
	}
	if pageToken == "" {
		page.TotalEstimate = int(resp.ResultSizeEstimate)
	}
	for _, ref := range resp.Messages {
		page.Messages = append(page.Messages, &out.ProviderMessage{
			ExternalID:     ref.Id,
			ConversationID: ref.ThreadId,
		})
	}
	return page, nil
}

func (a *GmailAdapter) GetMessage(ctx context.Context, token *oauth2.Token, externalID string) (*out.ProviderMessage, error) {
	if err := a.waitForQuota(ctx); err != nil {
		return nil, err
	}
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker("GetMessage", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", externalID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "get message")
	}

	return a.convertMessage(msg), nil
}

func (a *GmailAdapter) DownloadAttachment(ctx context.Context, token *oauth2.Token, messageExternalID, attachmentID string) ([]byte, error) {
	if err := a.waitForQuota(ctx); err != nil {
		return nil, err
	}
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var att *gmail.MessagePartBody
	cbErr := a.executeWithCircuitBreaker("DownloadAttachment", func() error {
		var apiErr error
		att, apiErr = svc.Users.Messages.Attachments.Get("me", messageExternalID, attachmentID).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "download attachment")
	}

	data, err := base64.URLEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}
	return data, nil
}

// =============================================================================
// Conversion
// =============================================================================

func (a *GmailAdapter) convertMessage(msg *gmail.Message) *out.ProviderMessage {
	result := &out.ProviderMessage{
		ExternalID:     msg.Id,
		ConversationID: msg.ThreadId,
		ReceivedAt:     time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload == nil {
		return result
	}

	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			result.Subject = h.Value
		case "From":
			result.From = parseAddress(h.Value)
		case "To":
			result.To = parseAddressList(h.Value)
		case "Cc":
			result.Cc = parseAddressList(h.Value)
		case "Date":
			if result.ReceivedAt.IsZero() {
				if t, err := mail.ParseDate(h.Value); err == nil {
					result.ReceivedAt = t
				}
			}
		}
	}

	extractBody(msg.Payload, result)
	result.Attachments = extractAttachments(msg.Payload, nil)
	return result
}

func extractBody(part *gmail.MessagePart, msg *out.ProviderMessage) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if msg.BodyText == "" {
					msg.BodyText = string(data)
				}
			case "text/html":
				if msg.BodyHTML == "" {
					msg.BodyHTML = string(data)
				}
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, msg)
	}
}

func extractAttachments(part *gmail.MessagePart, acc []out.ProviderAttachmentRef) []out.ProviderAttachmentRef {
	if part == nil {
		return acc
	}

	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		acc = append(acc, out.ProviderAttachmentRef{
			ID:       part.Body.AttachmentId,
			FileName: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	}

	for _, p := range part.Parts {
		acc = extractAttachments(p, acc)
	}
	return acc
}

func parseAddress(raw string) string {
	if addr, err := mail.ParseAddress(raw); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(raw)
}

func parseAddressList(raw string) []string {
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		// Malformed header; keep the raw pieces so matching can still try.
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	result := make([]string, len(addrs))
	for i, addr := range addrs {
		result[i] = addr.Address
	}
	return result
}

// =============================================================================
// Infrastructure
// =============================================================================

func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
}

// executeWithCircuitBreaker guards the Gmail API. Only server-side failure
// modes count toward tripping; client errors pass through untouched.
func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err != nil {
		a.log.WithError(err).Warn("gmail call failed: op=%s breaker=%s", operation, a.cb.State().String())
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// wrapError maps Gmail failures onto the shared taxonomy. Auth problems are
// fatal for a sync job; rate limits and server errors are transient.
func (a *GmailAdapter) wrapError(err error, operation string) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return apperr.Unauthorized("gmail token rejected")
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return apperr.ExternalError("gmail", err)
			}
			return apperr.Forbidden("gmail access denied")
		case 404:
			return apperr.NotFound("gmail message")
		}
	}
	return apperr.ExternalError("gmail", err).WithDetail("operation", operation)
}

var _ out.MailProviderPort = (*GmailAdapter)(nil)
