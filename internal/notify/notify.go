// Package notify implements the send-notification action's fan-out
// transports: SMTP email, Slack, and a generic webhook POST, all behind a
// single Transport interface dispatched by Dispatcher.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/slack-go/slack"

	"github.com/orion-sentinel/netsec/internal/platform/logging"
)

// Message is a transport-agnostic notification payload.
type Message struct {
	Subject string
	Body    string
}

// Transport delivers a Message. Send must return a non-nil error on any
// delivery failure; Name identifies the transport in logs and receipts.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Dispatcher fans a Message out to every configured transport. Delivery
// succeeds if at least one transport succeeds; every transport is always
// attempted.
type Dispatcher struct {
	transports []Transport
	log        *logging.Logger
}

// NewDispatcher constructs a Dispatcher over the given transports. A nil or
// unconfigured transport should not be included by the caller.
func NewDispatcher(log *logging.Logger, transports ...Transport) *Dispatcher {
	return &Dispatcher{transports: transports, log: log}
}

// Result records one transport's outcome.
type Result struct {
	Transport string
	Err       error
}

// Send delivers msg to every transport, returning per-transport results and
// an overall error that is non-nil only when every transport failed.
func (d *Dispatcher) Send(ctx context.Context, msg Message) ([]Result, error) {
	results := make([]Result, 0, len(d.transports))
	successes := 0
	for _, t := range d.transports {
		err := t.Send(ctx, msg)
		if err != nil && d.log != nil {
			d.log.WithError(err).WithField("transport", t.Name()).Warn("notification transport failed")
		}
		if err == nil {
			successes++
		}
		results = append(results, Result{Transport: t.Name(), Err: err})
	}
	if len(d.transports) > 0 && successes == 0 {
		return results, fmt.Errorf("all %d notification transports failed", len(d.transports))
	}
	return results, nil
}

// SMTPTransport sends email via STARTTLS with PLAIN auth when credentials
// are configured.
type SMTPTransport struct {
	Addr string
	User string
	Pass string
	From string
	To   []string
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Send builds a minimal RFC 5322 message and delivers it with net/smtp's
// PlainAuth. Recipients are taken from t.To.
func (t *SMTPTransport) Send(_ context.Context, msg Message) error {
	if t.Addr == "" || len(t.To) == 0 {
		return fmt.Errorf("smtp transport not configured")
	}

	host := t.Addr
	if idx := strings.LastIndex(t.Addr, ":"); idx >= 0 {
		host = t.Addr[:idx]
	}

	var auth smtp.Auth
	if t.User != "" {
		auth = smtp.PlainAuth("", t.User, t.Pass, host)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", t.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(t.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)

	return smtp.SendMail(t.Addr, auth, t.From, t.To, buf.Bytes())
}

// SlackTransport posts to a channel via the Slack Web API.
type SlackTransport struct {
	Client  *slack.Client
	Channel string
}

// NewSlackTransport constructs a SlackTransport from a bot token.
func NewSlackTransport(token, channel string) *SlackTransport {
	return &SlackTransport{Client: slack.New(token), Channel: channel}
}

func (t *SlackTransport) Name() string { return "slack" }

func (t *SlackTransport) Send(ctx context.Context, msg Message) error {
	if t.Client == nil || t.Channel == "" {
		return fmt.Errorf("slack transport not configured")
	}
	text := msg.Subject
	if msg.Body != "" {
		text = text + "\n" + msg.Body
	}
	_, _, err := t.Client.PostMessageContext(ctx, t.Channel, slack.MsgOptionText(text, false))
	return err
}

// WebhookTransport POSTs a JSON payload to an arbitrary URL (e.g. a SIEM
// ingest endpoint or chat-ops bridge).
type WebhookTransport struct {
	URL    string
	Client *http.Client
}

// NewWebhookTransport constructs a WebhookTransport with a default client.
func NewWebhookTransport(url string) *WebhookTransport {
	return &WebhookTransport{URL: url, Client: http.DefaultClient}
}

func (t *WebhookTransport) Name() string { return "webhook" }

func (t *WebhookTransport) Send(ctx context.Context, msg Message) error {
	if t.URL == "" {
		return fmt.Errorf("webhook transport not configured")
	}
	payload, err := json.Marshal(map[string]string{"subject": msg.Subject, "body": msg.Body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
