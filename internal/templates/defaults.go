package templates

import (
	"time"

	"github.com/unclebandit/leadnurture/internal/model"
)

const day = 24 * time.Hour

// Defaults is the built-in template set used when no document is configured.
func Defaults() map[string]*model.Template {
	welcome := []model.Step{
		{
			Delay:      0,
			Channel:    model.ChannelEmail,
			TemplateID: "welcome_email",
			Subject:    "Welcome to Our Service!",
			Content:    "Hi {name},\n\nWelcome aboard! We're excited to have you...",
		},
		{
			Delay:      3 * day,
			Channel:    model.ChannelEmail,
			TemplateID: "getting_started",
			Subject:    "Getting Started Guide",
			Content:    "Hi {name},\n\nHere are some tips to get started...",
		},
		{
			Delay:      7 * day,
			Channel:    model.ChannelEmail,
			TemplateID: "follow_up",
			Subject:    "How are you finding our service?",
			Content:    "Hi {name},\n\nWe'd love to hear your feedback...",
		},
	}
	reEngagement := []model.Step{
		{
			Delay:      0,
			Channel:    model.ChannelEmail,
			TemplateID: "miss_you",
			Subject:    "We miss you!",
			Content:    "Hi {name},\n\nWe noticed you haven't been around lately...",
		},
		{
			Delay:      5 * day,
			Channel:    model.ChannelEmail,
			TemplateID: "special_offer",
			Subject:    "Special Offer Just for You",
			Content:    "Hi {name},\n\nHere's a special offer to welcome you back...",
		},
	}

	return map[string]*model.Template{
		"welcome_series": {
			Name:        "welcome_series",
			DisplayName: "Welcome Series",
			Version:     model.Fingerprint(welcome),
			Steps:       welcome,
		},
		"re_engagement": {
			Name:        "re_engagement",
			DisplayName: "Re-engagement Campaign",
			Version:     model.Fingerprint(reEngagement),
			Steps:       reEngagement,
		},
	}
}
