package services

import (
	"fmt"
	"html"
	"log"

	"github.com/resendlabs/resend-go"
)

// Email templates
const (
	EmailApprovalRequest = "approval_request"
	EmailAccountApproved = "account_approved"
	EmailDeviceApproval  = "device_approval"
)

// EmailJob is the outbox payload for a queued email.
type EmailJob struct {
	Template string            `json:"template"`
	To       string            `json:"to"`
	Data     map[string]string `json:"data,omitempty"`
}

type EmailService struct {
	client    *resend.Client
	fromEmail string
	skipSend  bool
}

// NewEmailService builds a sender. With skipSend set, or without an API key,
// emails are logged instead of sent.
func NewEmailService(apiKey, fromEmail string, skipSend bool) *EmailService {
	s := &EmailService{fromEmail: fromEmail, skipSend: skipSend}
	if apiKey != "" {
		s.client = resend.NewClient(apiKey)
	} else if !skipSend {
		log.Println("Warning: RESEND_API_KEY not set, emails will only be logged")
	}
	return s
}

// Deliver renders and sends a queued email.
func (s *EmailService) Deliver(job EmailJob) error {
	if job.To == "" {
		return fmt.Errorf("email has no recipient")
	}
	switch job.Template {
	case EmailApprovalRequest:
		return s.SendApprovalRequest(job.To, job.Data["name"], job.Data["email"], job.Data["role"], job.Data["estate"])
	case EmailAccountApproved:
		return s.SendAccountApproved(job.To, job.Data["name"])
	case EmailDeviceApproval:
		return s.SendDeviceApproval(job.To, job.Data["device"], job.Data["link"])
	}
	return fmt.Errorf("unknown email template %q", job.Template)
}

func (s *EmailService) SendApprovalRequest(to, name, email, role, estate string) error {
	if estate == "" {
		estate = "no estate selected"
	}
	return s.send(to, "New Musa account awaiting approval", fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
			<h2 style="color: #333;">Account awaiting approval</h2>
			<p><strong>%s</strong> (%s) signed up as <strong>%s</strong>.</p>
			<p>Estate: %s</p>
			<p>Review the request in the Musa admin panel.</p>
			<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
			<p style="color: #999; font-size: 12px;">Musa Estate Access</p>
		</div>
	`, html.EscapeString(name), html.EscapeString(email), html.EscapeString(role), html.EscapeString(estate)))
}

func (s *EmailService) SendAccountApproved(to, name string) error {
	return s.send(to, "Your Musa account is approved", fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
			<h2 style="color: #333;">Welcome, %s!</h2>
			<p>Your account has been approved. You can now sign in and create access codes for your visitors.</p>
			<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
			<p style="color: #999; font-size: 12px;">Musa Estate Access</p>
		</div>
	`, html.EscapeString(name)))
}

func (s *EmailService) SendDeviceApproval(to, device, link string) error {
	return s.send(to, "Confirm your new device", fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
			<h2 style="color: #333;">New sign-in from %s</h2>
			<p>If this was you, confirm the device:</p>
			<p><a href="%s" style="background-color: #333; color: #fff; padding: 12px 20px; text-decoration: none;">Approve device</a></p>
			<p style="color: #666;">This link expires in 24 hours. If you didn't sign in, ignore this email.</p>
			<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
			<p style="color: #999; font-size: 12px;">Musa Estate Access</p>
		</div>
	`, html.EscapeString(device), html.EscapeString(link)))
}

func (s *EmailService) send(to, subject, body string) error {
	if s.skipSend || s.client == nil {
		log.Printf("Email to %s skipped: %s", to, subject)
		return nil
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	if _, err := s.client.Emails.Send(params); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
