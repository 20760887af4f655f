package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"splitledger/config"
	"splitledger/logger"
	"splitledger/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Notifier tells members about ledger changes. Delivery is best-effort.
type Notifier interface {
	NotifyExpenseAdded(ctx context.Context, expense models.Expense, payer models.User, group models.Group, members map[uuid.UUID]models.User)
	NotifySettlement(ctx context.Context, settlement models.Settlement, payer, payee models.User, group models.Group)
	NotifyMemberAdded(ctx context.Context, group models.Group, adder, newMember models.User)
	NotifyInvitation(ctx context.Context, email, inviterName, groupName string)
}

type mailFunc func(ctx context.Context, msg *mail.SGMailV3) error
type pushFunc func(ctx context.Context, msg *messaging.Message) error

type NotificationService struct {
	appName  string
	appURL   string
	fromAddr string
	sendMail mailFunc
	sendPush pushFunc
	log      *zap.SugaredLogger
}

// NewNotificationService wires SendGrid and Firebase Cloud Messaging from
// cfg. A channel without credentials is left disabled.
func NewNotificationService(ctx context.Context, cfg *config.Config) *NotificationService {
	ns := &NotificationService{
		appName:  cfg.AppName,
		appURL:   cfg.AppURL,
		fromAddr: cfg.SendGridFrom,
		log:      logger.With("component", "notifications"),
	}

	if cfg.SendGridAPIKey != "" {
		client := sendgrid.NewSendClient(cfg.SendGridAPIKey)
		ns.sendMail = func(ctx context.Context, msg *mail.SGMailV3) error {
			resp, err := client.SendWithContext(ctx, msg)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
			}
			return nil
		}
	} else {
		ns.log.Warn("⚠️  SendGrid API key not set, email notifications disabled")
	}

	if cfg.FirebaseCredPath != "" {
		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.FirebaseCredPath))
		if err != nil {
			ns.log.Warnw("⚠️  Firebase init failed, push notifications disabled", "error", err)
			return ns
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			ns.log.Warnw("⚠️  FCM client init failed, push notifications disabled", "error", err)
			return ns
		}
		ns.sendPush = func(ctx context.Context, msg *messaging.Message) error {
			_, err := client.Send(ctx, msg)
			return err
		}
	} else {
		ns.log.Warn("⚠️  Firebase credentials not set, push notifications disabled")
	}

	return ns
}

func (ns *NotificationService) push(ctx context.Context, fcmToken, title, body string, data map[string]string) {
	if ns.sendPush == nil || fcmToken == "" {
		return
	}
	err := ns.sendPush(ctx, &messaging.Message{
		Token:        fcmToken,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
	})
	if err != nil {
		ns.log.Warnw("❌ push notification failed", "type", data["type"], "error", err)
		return
	}
	ns.log.Debugw("✅ push notification sent", "type", data["type"])
}

func (ns *NotificationService) email(ctx context.Context, toEmail, toName, subject, htmlBody, textBody string) {
	if ns.sendMail == nil || toEmail == "" {
		return
	}
	from := mail.NewEmail(ns.appName, ns.fromAddr)
	to := mail.NewEmail(toName, toEmail)
	if err := ns.sendMail(ctx, mail.NewSingleEmail(from, subject, to, textBody, htmlBody)); err != nil {
		ns.log.Warnw("❌ email failed", "to", toEmail, "error", err)
		return
	}
	ns.log.Debugw("✅ email sent", "to", toEmail)
}

// NotifyExpenseAdded tells every participant except the payer what they owe.
func (ns *NotificationService) NotifyExpenseAdded(ctx context.Context, expense models.Expense, payer models.User, group models.Group, members map[uuid.UUID]models.User) {
	for _, p := range expense.Participants {
		if p.UserID == expense.PaidBy || p.AmountOwed.IsZero() {
			continue
		}
		user, ok := members[p.UserID]
		if !ok {
			continue
		}

		title := fmt.Sprintf("%s added an expense", payer.DisplayName())
		body := fmt.Sprintf("You owe %s %s for \"%s\" in %s", expense.Currency, p.AmountOwed.StringFixed(2), expense.Description, group.Name)

		ns.push(ctx, user.FCMToken, title, body, map[string]string{
			"type":       models.ActivityExpenseAdded,
			"expense_id": expense.ID.String(),
			"group_id":   expense.GroupID.String(),
		})

		html := renderEmail(expenseTmpl, map[string]string{
			"AppName":     ns.appName,
			"PayerName":   payer.DisplayName(),
			"UserName":    user.DisplayName(),
			"Description": expense.Description,
			"Total":       expense.Amount.StringFixed(2),
			"Owed":        p.AmountOwed.StringFixed(2),
			"Currency":    expense.Currency,
			"GroupName":   group.Name,
		})
		ns.email(ctx, user.Email, user.DisplayName(),
			fmt.Sprintf("%s added \"%s\" in %s", payer.DisplayName(), expense.Description, group.Name), html, body)
	}
}

func (ns *NotificationService) NotifySettlement(ctx context.Context, settlement models.Settlement, payer, payee models.User, group models.Group) {
	title := fmt.Sprintf("%s paid you", payer.DisplayName())
	body := fmt.Sprintf("%s paid you %s in %s", payer.DisplayName(), settlement.Amount.StringFixed(2), group.Name)

	ns.push(ctx, payee.FCMToken, title, body, map[string]string{
		"type":          models.ActivitySettlement,
		"group_id":      settlement.GroupID.String(),
		"settlement_id": settlement.ID.String(),
		"status":        settlement.Status,
	})

	html := renderEmail(settlementTmpl, map[string]string{
		"AppName":   ns.appName,
		"PayerName": payer.DisplayName(),
		"PayeeName": payee.DisplayName(),
		"Amount":    settlement.Amount.StringFixed(2),
		"Status":    settlement.Status,
		"GroupName": group.Name,
	})
	ns.email(ctx, payee.Email, payee.DisplayName(),
		fmt.Sprintf("%s settled up with you in %s", payer.DisplayName(), group.Name), html, body)
}

func (ns *NotificationService) NotifyMemberAdded(ctx context.Context, group models.Group, adder, newMember models.User) {
	title := fmt.Sprintf("You were added to \"%s\"", group.Name)
	body := fmt.Sprintf("%s added you to the group \"%s\"", adder.DisplayName(), group.Name)

	ns.push(ctx, newMember.FCMToken, title, body, map[string]string{
		"type":     models.ActivityMemberJoined,
		"group_id": group.ID.String(),
	})

	html := renderEmail(memberAddedTmpl, map[string]string{
		"AppName":    ns.appName,
		"AdderName":  adder.DisplayName(),
		"MemberName": newMember.DisplayName(),
		"GroupName":  group.Name,
	})
	ns.email(ctx, newMember.Email, newMember.DisplayName(), title, html, body)
}

func (ns *NotificationService) NotifyInvitation(ctx context.Context, email, inviterName, groupName string) {
	subject := fmt.Sprintf("%s invited you to join \"%s\" on %s", inviterName, groupName, ns.appName)
	html := renderEmail(invitationTmpl, map[string]string{
		"AppName":     ns.appName,
		"AppURL":      ns.appURL,
		"InviterName": inviterName,
		"GroupName":   groupName,
	})
	ns.email(ctx, email, "", subject, html, subject)
}

// ============================================================
// EMAIL TEMPLATES
// ============================================================

const emailShell = `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background-color: #f5f5f5;">
	<div style="background: white; border-radius: 12px; padding: 32px; box-shadow: 0 2px 8px rgba(0,0,0,0.1);">
		{{template "content" .}}
		<p style="color: #999; font-size: 12px; margin-top: 24px;">{{.AppName}}</p>
	</div>
</body>
</html>`

var (
	expenseTmpl = mustEmail(`{{define "content"}}
		<h2 style="color: #1DB954; margin-top: 0;">💰 New Expense Added</h2>
		<p>Hi <strong>{{.UserName}}</strong>,</p>
		<p><strong>{{.PayerName}}</strong> added a new expense in <strong>{{.GroupName}}</strong>:</p>
		<div style="background: #f8f9fa; border-radius: 8px; padding: 16px; margin: 16px 0;">
			<p style="margin: 4px 0; font-size: 18px;"><strong>{{.Description}}</strong></p>
			<p style="margin: 4px 0; color: #666;">Total: {{.Currency}} {{.Total}}</p>
			<p style="margin: 4px 0; color: #e53e3e; font-size: 18px;"><strong>Your share: {{.Currency}} {{.Owed}}</strong></p>
		</div>{{end}}`)

	settlementTmpl = mustEmail(`{{define "content"}}
		<h2 style="color: #1DB954; margin-top: 0;">✅ Payment Recorded</h2>
		<p>Hi <strong>{{.PayeeName}}</strong>,</p>
		<p><strong>{{.PayerName}}</strong> recorded a {{.Status}} payment of <strong>{{.Amount}}</strong> to you in <strong>{{.GroupName}}</strong>.</p>
		<p>Check the app to see your updated balances.</p>{{end}}`)

	memberAddedTmpl = mustEmail(`{{define "content"}}
		<h2 style="color: #1DB954; margin-top: 0;">👋 You've been added to a group!</h2>
		<p>Hi <strong>{{.MemberName}}</strong>,</p>
		<p><strong>{{.AdderName}}</strong> added you to the group <strong>"{{.GroupName}}"</strong>.</p>
		<p>Open the app to start splitting expenses with your group!</p>{{end}}`)

	invitationTmpl = mustEmail(`{{define "content"}}
		<h2 style="color: #1DB954; margin-top: 0;">🎉 You're invited!</h2>
		<p><strong>{{.InviterName}}</strong> invited you to join <strong>"{{.GroupName}}"</strong> on {{.AppName}}.</p>
		<div style="margin: 24px 0;">
			<a href="{{.AppURL}}" style="background: #1DB954; color: white; padding: 12px 32px; border-radius: 8px; text-decoration: none; font-weight: bold;">Join Now</a>
		</div>{{end}}`)
)

func mustEmail(content string) *template.Template {
	t := template.Must(template.New("email").Parse(emailShell))
	return template.Must(t.Parse(content))
}

func renderEmail(t *template.Template, data map[string]string) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		logger.L().Errorw("email template failed", "error", err)
		return ""
	}
	return buf.String()
}
