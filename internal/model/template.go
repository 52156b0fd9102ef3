package model

import "fmt"

// TemplateKey identifies a drip campaign message in the content store
type TemplateKey string

// Known template keys. The content store may only hold these.
const (
	TemplateWelcome     TemplateKey = "welcome"
	TemplateMasterclass TemplateKey = "masterclass_invite"
	TemplateCaseStudy   TemplateKey = "case_study"
	TemplateObjections  TemplateKey = "objection_handling"
	TemplateSocialProof TemplateKey = "social_proof"
	TemplateLastCall    TemplateKey = "last_call"
)

// TemplateSpec is the code-side definition paired with a content-store row.
type TemplateSpec struct {
	Key TemplateKey
	// CTAPath is appended to the campaign CTA base URL.
	CTAPath string
}

// TemplateRegistry lists every template the sequencer knows how to send.
var TemplateRegistry = map[TemplateKey]TemplateSpec{
	TemplateWelcome:     {Key: TemplateWelcome, CTAPath: "/start"},
	TemplateMasterclass: {Key: TemplateMasterclass, CTAPath: "/masterclass"},
	TemplateCaseStudy:   {Key: TemplateCaseStudy, CTAPath: "/case-studies"},
	TemplateObjections:  {Key: TemplateObjections, CTAPath: "/faq"},
	TemplateSocialProof: {Key: TemplateSocialProof, CTAPath: "/reviews"},
	TemplateLastCall:    {Key: TemplateLastCall, CTAPath: "/register"},
}

// LookupTemplateSpec returns the registry entry for key.
func LookupTemplateSpec(key TemplateKey) (TemplateSpec, error) {
	spec, ok := TemplateRegistry[key]
	if !ok {
		return TemplateSpec{}, fmt.Errorf("unknown template key %q", key)
	}
	return spec, nil
}

// Template is a drip campaign message as supplied by the content store
type Template struct {
	Key           TemplateKey `json:"key"`
	Subject       string      `json:"subject"`
	PreviewText   string      `json:"previewText"`
	Body          string      `json:"-"`
	OrderSequence int         `json:"orderSequence"`
	Active        bool        `json:"active"`
}
