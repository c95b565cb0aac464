// Package notify is the C8 notifier: it formats and dispatches
// failure/warning mails through an injected mail transport. Per design note
// 9, the process-wide SEND_MAIL/CUSTOMER/etc. globals of the original
// driver become a value threaded into the dispatcher; disabling mail is
// just a different Notifier implementation that no-ops.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/consultant-1379/backup-scheduler/pkg/log"
)

// Info carries the fields appended to every notification body:
// Customer, Tag, ID, and the workflow URL built from LCMHost+ID.
type Info struct {
	Customer string
	Tag      string
	ID       string
	LCMHost  string
}

// workflowURL builds the backup-deployment workflow-instance URL, or the
// literal "None" when either the LCM host or instance id is unknown.
func (i Info) workflowURL() string {
	if i.LCMHost == "" || i.ID == "" {
		return "None"
	}
	return fmt.Sprintf(
		"http://%s/index.html#workflows/workflow/enmdeploymentworkflows.--.Backup%%20Deployment/workflowinstance/%s",
		i.LCMHost, i.ID,
	)
}

func (i Info) appendLines(body string) string {
	return body +
		fmt.Sprintf("\nCustomer: %s\nTag: %s\nID: %s\nWF URL: %s", i.Customer, i.Tag, i.ID, i.workflowURL())
}

// Notifier sends a formatted subject/body mail. Notify never returns an
// error to its caller in practice: transport errors are logged and
// swallowed, matching the "never escalated" rule for mail delivery.
type Notifier interface {
	Notify(subject, message string, warning bool, addInfo bool, info Info)
}

// Payload mirrors the SendGrid-style JSON body the configured mail URL
// expects.
type Payload struct {
	Personalizations []Personalization `json:"personalizations"`
	From             Address           `json:"from"`
	Content          []Content         `json:"content"`
}

type Personalization struct {
	To      []Address `json:"to"`
	Subject string    `json:"subject"`
}

type Address struct {
	Email string `json:"email"`
}

type Content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// MailNotifier POSTs the JSON payload described in the external interfaces
// section to a configured mail relay URL.
type MailNotifier struct {
	URL       string
	Sender    string
	Recipient string
	Client    *http.Client
}

// NewMailNotifier returns a MailNotifier with a bounded-timeout client.
func NewMailNotifier(url, sender, recipient string) *MailNotifier {
	return &MailNotifier{
		URL:       url,
		Sender:    sender,
		Recipient: recipient,
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Notify builds the subject/body and POSTs it. The recipient is checked up
// front: a null/empty recipient block is a silent no-op, never a call with
// a null recipient. Transport errors are logged and swallowed.
func (m *MailNotifier) Notify(subject, message string, warning bool, addInfo bool, info Info) {
	if m == nil || m.Recipient == "" {
		return
	}

	prefix := "Backup failure: "
	if warning {
		prefix = "Backup warning: "
	}
	fullSubject := prefix + subject

	body := message
	if addInfo {
		body = info.appendLines(message)
	}

	payload := Payload{
		Personalizations: []Personalization{{
			To:      []Address{{Email: m.Recipient}},
			Subject: fullSubject,
		}},
		From:    Address{Email: m.Sender},
		Content: []Content{{Type: "text/plain", Value: body}},
	}

	logger := log.WithComponent("notify")
	encoded, err := json.Marshal(payload)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode mail payload")
		return
	}

	req, err := http.NewRequest(http.MethodPost, m.URL, bytes.NewReader(encoded))
	if err != nil {
		logger.Error().Err(err).Msg("failed to build mail request")
		return
	}
	req.Header.Set("content-type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		logger.Error().Err(err).Str("subject", fullSubject).Msg("mail transport failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logger.Error().Int("status", resp.StatusCode).Str("subject", fullSubject).Msg("mail relay rejected message")
	}
}

// NoopNotifier discards every notification. Selected when mail is disabled
// by configuration (or --nomail on the CLI).
type NoopNotifier struct{}

func (NoopNotifier) Notify(subject, message string, warning bool, addInfo bool, info Info) {}
