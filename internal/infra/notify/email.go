package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bryanwahyu/shopwatch/internal/domain/issues"
)

// Mailer delivers issue alerts through an HTTP mail API.
type Mailer struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

func NewMailer(endpoint, apiKey, from string) *Mailer {
	return &Mailer{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type mailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (m *Mailer) Send(ctx context.Context, recipient string, iss *issues.Issue) error {
	if recipient == "" {
		return fmt.Errorf("no recipient for tenant %s", iss.TenantID)
	}

	payload := mailPayload{
		From:    m.from,
		To:      recipient,
		Subject: fmt.Sprintf("[shopwatch] %s: %s", iss.Severity, iss.Title),
		Text:    mailBody(iss),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail API returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func mailBody(iss *issues.Issue) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "An issue on one of your monitored product pages needs attention.\n\n")
	fmt.Fprintf(&b, "Issue: %s\nSeverity: %s\nDetected: %s\nSeen: %d times\n\n%s\n",
		iss.Title, iss.Severity, iss.FirstSeenAt.Format(time.RFC1123), iss.Occurrences, iss.Description)
	if iss.Annotation.Explanation != "" {
		fmt.Fprintf(&b, "\nAnalysis: %s\n", iss.Annotation.Explanation)
	}
	if iss.Annotation.SuggestedFix != "" {
		fmt.Fprintf(&b, "Suggested fix: %s\n", iss.Annotation.SuggestedFix)
	}
	return b.String()
}
