package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/pkg/logger"
)

// EmailMessage is the resolved payload handed to a transport.
type EmailMessage struct {
	From    string
	To      string
	Subject string
	Body    string
}

// SendResult reports what a transport did with the message.
type SendResult struct {
	MessageID string
	Accepted  []string
	Rejected  []string
}

// EmailTransport performs the actual send for one provider.
type EmailTransport interface {
	Send(ctx context.Context, msg EmailMessage) (*SendResult, error)
}

// EmailNodeExecutor resolves to/subject/body from inputs and dispatches to
// the transport selected by config.provider.
type EmailNodeExecutor struct {
	BaseNodeExecutor
	transports map[string]EmailTransport
	logger     logger.Logger
}

func NewEmailNodeExecutor(transports map[string]EmailTransport, log logger.Logger) *EmailNodeExecutor {
	return &EmailNodeExecutor{
		BaseNodeExecutor: BaseNodeExecutor{timeout: 60 * time.Second},
		transports:       transports,
		logger:           log,
	}
}

func (e *EmailNodeExecutor) Execute(ctx context.Context, node workflow.Node, input map[string]interface{}) (map[string]interface{}, error) {
	provider, _ := node.Config["provider"].(string)
	if provider == "" {
		provider = "smtp"
	}

	transport, ok := e.transports[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnsupportedProvider, provider)
	}

	msg := EmailMessage{
		From:    asString(input["from"]),
		To:      asString(input["to"]),
		Subject: asString(input["subject"]),
		Body:    asString(input["body"]),
	}
	if msg.To == "" {
		return nil, fmt.Errorf("%w: recipient is required", workflow.ErrTransport)
	}

	result, err := transport.Send(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrTransport, err)
	}

	e.logger.Info("email sent", "provider", provider, "to", msg.To, "messageId", result.MessageID)

	return map[string]interface{}{
		"messageId": result.MessageID,
		"accepted":  result.Accepted,
		"rejected":  result.Rejected,
	}, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// SMTPTransport sends through a plain SMTP relay.
type SMTPTransport struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (t *SMTPTransport) Send(_ context.Context, msg EmailMessage) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = t.From
	}

	raw := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, msg.To, msg.Subject, msg.Body)

	var auth smtp.Auth
	if t.Username != "" && t.Password != "" {
		auth = smtp.PlainAuth("", t.Username, t.Password, t.Host)
	}

	if err := smtp.SendMail(t.Host+":"+t.Port, auth, from, []string{msg.To}, []byte(raw)); err != nil {
		return nil, err
	}

	return &SendResult{
		MessageID: uuid.New().String(),
		Accepted:  []string{msg.To},
		Rejected:  []string{},
	}, nil
}

// SendGridTransport sends through the SendGrid v3 mail API.
type SendGridTransport struct {
	APIKey string
	From   string
	Client *http.Client
}

func (t *SendGridTransport) Send(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = t.From
	}

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{
			{"to": []map[string]string{{"email": msg.To}}},
		},
		"from":    map[string]string{"email": from},
		"subject": msg.Subject,
		"content": []map[string]string{
			{"type": "text/plain", "value": msg.Body},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.sendgrid.com/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		messageID = uuid.New().String()
	}

	return &SendResult{
		MessageID: messageID,
		Accepted:  []string{msg.To},
		Rejected:  []string{},
	}, nil
}
