package services

import (
	"log"
	"strings"
)

// Reply template names
const (
	TemplateIntroduction     = "introduction"
	TemplateCompanyConfirm   = "company_confirmation"
	TemplatePurposeExplain   = "purpose_explanation"
	TemplateIdentity         = "identity"
	TemplateClarify          = "clarify"
	TemplateClarifyApology   = "clarify_apology"
	TemplateSilencePrompt    = "silence_prompt"
	TemplateAbsentClose      = "absent_close"
	TemplateRejectionClose   = "rejection_close"
	TemplateWebsiteClose     = "website_close"
	TemplateCallbackClose    = "callback_close"
	TemplateClosing          = "closing"
	TemplateUnknownSoft      = "unknown_soft"
	TemplateUnknownRetry     = "unknown_retry"
	TemplateTransferAnnounce = "transfer_announcement"
	TemplateHandoffNotice    = "handoff_notice"
	TemplateConfigApology    = "config_apology"
)

// replyTemplates are the scripted AI replies. Variables use {{name}} and are
// substituted from the resolved per-call configuration.
var replyTemplates = map[string]string{
	TemplateIntroduction: "Hello, this is {{representative}} calling from {{company}} about {{service}}. " +
		"Could I speak with someone in your {{department}} department?",
	TemplateCompanyConfirm: "Thank you. Just to confirm, am I speaking with the right person for {{department}} matters?",
	TemplatePurposeExplain: "I appreciate your time. {{pitch}} Would you be open to hearing a little more?",
	TemplateIdentity: "Of course. My name is {{representative}} and I am calling from {{company}} " +
		"regarding {{service}}.",
	TemplateClarify:        "I'm sorry, let me repeat that. ",
	TemplateClarifyApology: "I apologize for the confusion. I seem to be having trouble making myself clear, so I won't take any more of your time. Thank you, and have a good day.",
	TemplateSilencePrompt:  "Hello? Are you still there?",
	TemplateAbsentClose:    "I understand, I'll try again another time. Thank you, and have a good day.",
	TemplateRejectionClose: "Understood, I won't take any more of your time. Thank you, and have a good day.",
	TemplateWebsiteClose:   "Certainly, we will follow up through your website instead. Thank you for your time.",
	TemplateCallbackClose:  "No problem at all, I'll call back at a better time. Thank you, and have a good day.",
	TemplateClosing:        "Completely understandable. If anything changes, {{company}} would be glad to hear from you. Thank you for your time today.",
	TemplateUnknownSoft:    "I see. Just so I'm sure I've been clear: {{pitch}} Is that something worth a quick conversation?",
	TemplateUnknownRetry:   "I'm sorry, I want to make sure I understand you correctly. Could you say that once more?",
	TemplateTransferAnnounce: "Wonderful. Let me connect you with {{representative}} from our {{department}} team now. " +
		"One moment please.",
	TemplateHandoffNotice: "Let me connect you with a member of our team who can help. One moment please.",
	TemplateConfigApology: "I'm very sorry, but I'm unable to continue this call right now. Someone will follow up with you shortly. Thank you, and goodbye.",
}

// RenderTemplate substitutes per-call configuration into a reply template.
// Every variable has a documented default, so no placeholder survives
// rendering.
func RenderTemplate(name string, cfg CallConfig) string {
	tmpl, ok := replyTemplates[name]
	if !ok {
		log.Printf("Unknown reply template: %s", name)
		return replyTemplates[TemplateUnknownRetry]
	}

	replacer := strings.NewReplacer(
		"{{company}}", firstNonEmpty(cfg.CompanyName, DefaultCompanyName),
		"{{service}}", firstNonEmpty(cfg.ServiceName, DefaultServiceName),
		"{{representative}}", firstNonEmpty(cfg.RepresentativeName, DefaultRepresentativeName),
		"{{department}}", firstNonEmpty(cfg.Department, DefaultDepartment),
		"{{pitch}}", firstNonEmpty(cfg.PitchText, DefaultPitchText),
	)
	return replacer.Replace(tmpl)
}
