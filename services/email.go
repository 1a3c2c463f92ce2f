package services

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"log"
	"strings"
	texttemplate "text/template"
	"time"

	"contact_flow_app_go/config"
	"contact_flow_app_go/models"

	"github.com/resend/resend-go/v2"
)

//go:embed emails/*.html emails/*.txt
var emailTemplates embed.FS

// Email represents an email message
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// Mailer delivers emails. Send returns only after the provider accepted the
// message so callers can roll back on failure.
type Mailer interface {
	Send(email *Email) error
}

// Mail is the global mailer instance
var Mail Mailer

// ResendMailer sends emails through the Resend API
type ResendMailer struct {
	cfg    *config.Config
	client *resend.Client
}

// NewResendMailer creates a mailer from configuration
func NewResendMailer(cfg *config.Config) *ResendMailer {
	m := &ResendMailer{cfg: cfg}
	if cfg.ResendAPIKey != "" {
		m.client = resend.NewClient(cfg.ResendAPIKey)
	}
	return m
}

// Send sends an email using Resend API
func (m *ResendMailer) Send(email *Email) error {
	// In development mode, log the email instead of sending
	if m.cfg.EmailTestMode {
		logEmailToConsole(email)
		log.Printf("Email logged successfully (development mode - not actually sent)")
		return nil
	}

	if m.client == nil {
		return fmt.Errorf("RESEND_API_KEY not configured")
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", m.cfg.EmailFromName, m.cfg.EmailFrom),
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTMLBody,
		Text:    email.TextBody,
	}

	if params.Html == "" && params.Text == "" {
		return fmt.Errorf("email must have either HTMLBody or TextBody")
	}

	sent, err := m.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}

	log.Printf("Email sent successfully via Resend (ID: %s) to: %v", sent.Id, email.To)
	return nil
}

// logEmailToConsole logs email details to console in development mode
func logEmailToConsole(email *Email) {
	separator := strings.Repeat("=", 80)
	log.Printf("\n%s\nEMAIL (Development Mode - Not Actually Sent)\n%s", separator, separator)
	log.Printf("To: %v", email.To)
	log.Printf("Subject: %s", email.Subject)
	log.Printf("\n--- TEXT BODY ---\n%s", email.TextBody)
	log.Printf("\n--- HTML BODY (first 500 chars) ---\n%s...", truncate(email.HTMLBody, 500))
	log.Printf("%s\n", separator)
}

// truncate truncates a string to a maximum length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// renderEmail executes the embedded html and txt templates of the given name
func renderEmail(name string, data interface{}) (string, string, error) {
	htmlTmpl, err := htmltemplate.ParseFS(emailTemplates, "emails/"+name+".html")
	if err != nil {
		return "", "", fmt.Errorf("failed to parse template %s.html: %w", name, err)
	}
	textTmpl, err := texttemplate.ParseFS(emailTemplates, "emails/"+name+".txt")
	if err != nil {
		return "", "", fmt.Errorf("failed to parse template %s.txt: %w", name, err)
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute template %s.html: %w", name, err)
	}
	if err := textTmpl.Execute(&textBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute template %s.txt: %w", name, err)
	}
	return htmlBuf.String(), textBuf.String(), nil
}

// RequestEmailData is the template data shared by request emails
type RequestEmailData struct {
	RequestID   uint
	FullName    string
	Phone       string
	Email       string
	Company     string
	CompanyName string
	Message     string
	Token       string
	ExpiresAt   string
	AccessURL   string
	Link        string
}

func requestEmailData(request *models.Request) RequestEmailData {
	return RequestEmailData{
		RequestID:   request.ID,
		FullName:    request.FullName(),
		Phone:       request.Phone,
		Email:       request.Email,
		Company:     request.Company,
		CompanyName: request.CompanyName,
		Message:     request.Message,
	}
}

// BuildAccessTokenEmail creates the email that hands the raw token to the submitter
func BuildAccessTokenEmail(request *models.Request, token, appURL string) (*Email, error) {
	data := requestEmailData(request)
	data.Token = token
	data.AccessURL = fmt.Sprintf("%s/r/%d", strings.TrimSuffix(appURL, "/"), request.ID)
	if request.AccessTokenExpiresAt != nil {
		data.ExpiresAt = request.AccessTokenExpiresAt.UTC().Format("2006-01-02 15:04 MST")
	}

	htmlBody, textBody, err := renderEmail("access_token", data)
	if err != nil {
		return nil, err
	}
	return &Email{
		To:       []string{request.Email},
		Subject:  fmt.Sprintf("Your request #%d", request.ID),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}, nil
}

// BuildCompanyNotificationEmail creates the internal "new request" notice.
// It returns nil when there is nobody to notify.
func BuildCompanyNotificationEmail(request *models.Request, link string, recipients []string) (*Email, error) {
	if len(recipients) == 0 {
		return nil, nil
	}
	data := requestEmailData(request)
	data.Link = link

	htmlBody, textBody, err := renderEmail("company_notification", data)
	if err != nil {
		return nil, err
	}
	return &Email{
		To:       recipients,
		Subject:  fmt.Sprintf("New request #%d to review", request.ID),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}, nil
}

// NotificationRecipients parses the configured company notification addresses
func NotificationRecipients(cfg *config.Config) []string {
	var out []string
	for _, addr := range strings.Split(cfg.CompanyNotificationEmail, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// formatTimestamp renders times the same way across emails and exports
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}
