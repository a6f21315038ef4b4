// internal/service/template_service.go
package service

import (
	"maps"
	"slices"
	"strings"

	"github.com/unclebandit/leadnurture/internal/dispatch"
	"github.com/unclebandit/leadnurture/internal/model"
)

// RenderTemplate substitutes {key} placeholders in a single pass, so
// substituted values are never rendered again. Unknown placeholders are
// left in place.
func RenderTemplate(template string, data map[string]string) string {
	pairs := make([]string, 0, 2*len(data))
	for _, k := range slices.Sorted(maps.Keys(data)) {
		pairs = append(pairs, "{"+k+"}", data[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// stepData returns the lead fields a step may interpolate. A step with
// DataKeys only sees those keys.
func stepData(step model.Step, lead *model.Lead) map[string]string {
	all := lead.Data()
	if len(step.DataKeys) == 0 {
		return all
	}
	data := make(map[string]string, len(step.DataKeys))
	for _, k := range step.DataKeys {
		if v, ok := all[k]; ok {
			data[k] = v
		}
	}
	return data
}

// BuildMessage renders step idx of an instance for its lead.
func BuildMessage(c *model.CampaignInstance, idx int, step model.Step, lead *model.Lead) dispatch.Message {
	data := stepData(step, lead)
	return dispatch.Message{
		Channel:    step.Channel,
		Recipient:  lead.Recipient(step.Channel),
		Subject:    RenderTemplate(step.Subject, data),
		Body:       RenderTemplate(step.Content, data),
		TemplateID: step.TemplateID,
		CampaignID: c.ID,
		LeadID:     lead.ID,
		StepIndex:  idx,
	}
}
