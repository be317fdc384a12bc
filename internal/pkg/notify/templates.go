package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

type mailTemplate struct {
	subject *texttemplate.Template
	body    *htmltemplate.Template
}

var templateSources = map[string][2]string{
	TemplatePaymentFailed: {
		"Payment failed (attempt {{.attempt}})",
		`<p>Hello {{.name}},</p>
<p>we could not collect {{.amount}} {{.currency}} for your subscription.</p>
<p>This was attempt {{.attempt}} of {{.max_attempts}}. We will try again on {{.next_retry}}.</p>
{{if .card_declined}}<p>Your card was declined. Please update your payment method.</p>{{end}}`,
	},
	TemplateDunningExhausted: {
		"Your subscription has been canceled",
		`<p>Hello {{.name}},</p>
<p>after {{.attempt}} failed payment attempts your subscription was canceled and your account moved to the free plan.</p>`,
	},
	TemplateTrialWillEnd: {
		"Your trial ends on {{.trial_end}}",
		`<p>Hello {{.name}},</p>
<p>your trial of {{.tier}} ends on {{.trial_end}}.</p>`,
	},
	TemplateSubscriptionChanged: {
		"Your plan changed to {{.tier}}",
		`<p>Hello {{.name}},</p>
<p>your plan changed from {{.previous_tier}} to {{.tier}}.</p>`,
	},
	TemplateSubscriptionStatus: {
		"Your subscription is {{.status}}",
		`<p>Hello {{.name}},</p>
<p>the status of your {{.tier}} subscription changed from {{.previous_status}} to {{.status}}.</p>`,
	},
	TemplateCancellationChanged: {
		"{{if .cancel_at_period_end}}Your subscription will end{{else}}Your subscription will renew{{end}}",
		`<p>Hello {{.name}},</p>
{{if .cancel_at_period_end}}<p>your {{.tier}} subscription will end on {{.period_end}}.</p>{{else}}<p>your {{.tier}} subscription will renew as usual.</p>{{end}}`,
	},
	TemplateSubscriptionCanceled: {
		"Your subscription has ended",
		`<p>Hello {{.name}},</p>
<p>your subscription has ended and your account is on the free plan.</p>`,
	},
	TemplatePayoutCompleted: {
		"Payout of {{.net_amount}} {{.currency}} sent",
		`<p>Hello {{.name}},</p>
<p>we sent {{.net_amount}} {{.currency}} via {{.payment_method}} (reference {{.reference}}).</p>
<p>Gross {{.gross_amount}}, fee {{.fee}}, tax withheld {{.tax}}.</p>`,
	},
	TemplatePayoutFailed: {
		"Payout failed",
		`<p>Hello {{.name}},</p>
<p>your payout of {{.gross_amount}} {{.currency}} could not be sent: {{.reason}}.</p>
<p>We will retry it. Please check your payout details.</p>`,
	},
}

// Renderer turns a Message into a subject and an HTML body.
type Renderer struct {
	templates map[string]mailTemplate
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]mailTemplate, len(templateSources))}
	for name, src := range templateSources {
		subject, err := texttemplate.New(name + ".subject").Option("missingkey=zero").Parse(src[0])
		if err != nil {
			return nil, fmt.Errorf("parse subject %s: %w", name, err)
		}
		body, err := htmltemplate.New(name + ".body").Option("missingkey=zero").Parse(src[1])
		if err != nil {
			return nil, fmt.Errorf("parse body %s: %w", name, err)
		}
		r.templates[name] = mailTemplate{subject: subject, body: body}
	}
	return r, nil
}

func (r *Renderer) Render(msg Message) (string, string, error) {
	tpl, ok := r.templates[msg.Template]
	if !ok {
		return "", "", fmt.Errorf("unknown notification template %q", msg.Template)
	}
	data := msg.Data
	if data == nil {
		data = map[string]string{}
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return "", "", err
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return "", "", err
	}
	return subject.String(), body.String(), nil
}
