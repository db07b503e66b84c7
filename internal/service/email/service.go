package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v3"

	"okuri/internal/config"
)

type Service interface {
	SendPasswordResetEmail(ctx context.Context, toEmail, displayName, resetToken string) error
	SendFamilyInviteEmail(ctx context.Context, toEmail, familyName, inviterName, inviteCode string) error
}

type service struct {
	client *resend.Client
	config *config.Config
}

func NewService(cfg *config.Config) Service {
	return &service{
		client: resend.NewClient(cfg.ResendAPIKey),
		config: cfg,
	}
}

var passwordResetTmpl = template.Must(template.New("password-reset").Parse(`
<h2>Reset your password</h2>
<p>Hi {{.Name}},</p>
<p>We received a request to reset your password. The link below is valid for one hour.</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>If you did not request this, you can ignore this email.</p>`))

var familyInviteTmpl = template.Must(template.New("family-invite").Parse(`
<h2>You're invited to {{.FamilyName}}</h2>
<p>{{.InviterName}} invited you to join their family on Okuri.</p>
<p>Use this invite code after signing up:</p>
<p><strong>{{.InviteCode}}</strong></p>
<p><a href="{{.Link}}">Open Okuri</a></p>`))

func (s *service) sendEmail(toEmail, subject string, tmpl *template.Template, data any) error {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to execute email template: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("Okuri <%s>", s.config.FromEmail),
		To:      []string{toEmail},
		Html:    body.String(),
		Subject: subject,
	}

	_, err := s.client.Emails.Send(params)
	return err
}

func (s *service) SendPasswordResetEmail(ctx context.Context, toEmail, displayName, resetToken string) error {
	data := struct {
		Name string
		Link string
	}{
		Name: displayName,
		Link: fmt.Sprintf("https://%s/reset-password?token=%s", s.config.AppURL, resetToken),
	}
	return s.sendEmail(toEmail, "Reset your Okuri password", passwordResetTmpl, data)
}

func (s *service) SendFamilyInviteEmail(ctx context.Context, toEmail, familyName, inviterName, inviteCode string) error {
	data := struct {
		FamilyName  string
		InviterName string
		InviteCode  string
		Link        string
	}{
		FamilyName:  familyName,
		InviterName: inviterName,
		InviteCode:  inviteCode,
		Link:        fmt.Sprintf("https://%s/family/join", s.config.AppURL),
	}
	return s.sendEmail(toEmail, fmt.Sprintf("Invitation to join %s on Okuri", familyName), familyInviteTmpl, data)
}
