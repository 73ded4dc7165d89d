package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate_SubstitutesConfig(t *testing.T) {
	cfg := CallConfig{
		CompanyName:        "Acme Corp",
		ServiceName:        "logistics automation",
		RepresentativeName: "Dana",
		Department:         "operations",
	}

	got := RenderTemplate(TemplateIntroduction, cfg)
	assert.Contains(t, got, "Acme Corp")
	assert.Contains(t, got, "logistics automation")
	assert.Contains(t, got, "Dana")
	assert.Contains(t, got, "operations")
	assert.NotContains(t, got, "{{")
}

func TestRenderTemplate_DefaultsWhenEmpty(t *testing.T) {
	got := RenderTemplate(TemplateIntroduction, CallConfig{})
	assert.Contains(t, got, DefaultCompanyName)
	assert.Contains(t, got, DefaultRepresentativeName)
	assert.NotContains(t, got, "{{")
}

func TestRenderTemplate_UnknownNameFallsBack(t *testing.T) {
	got := RenderTemplate("no_such_template", CallConfig{})
	assert.Equal(t, replyTemplates[TemplateUnknownRetry], got)
}

func TestRenderTemplate_NoPlaceholderSurvivesAnyTemplate(t *testing.T) {
	for name := range replyTemplates {
		got := RenderTemplate(name, CallConfig{})
		assert.False(t, strings.Contains(got, "{{"), "template %s leaked a placeholder: %s", name, got)
	}
}
