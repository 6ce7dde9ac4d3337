// Package brand loads tenant configuration: identity, voice, policies and
// the seed data that backs the support tools.
package brand

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	ErrBrandNotFound = errors.New("brand not found")
	ErrBrandExists   = errors.New("brand already exists")
	ErrInvalidBrand  = errors.New("invalid brand")
)

const (
	DefaultIndustry              = "general"
	DefaultFreeShippingThreshold = 1500
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

type Voice struct {
	Tone             string            `yaml:"tone,omitempty"`
	Formality        string            `yaml:"formality,omitempty"`
	EmojiUsage       string            `yaml:"emoji_usage,omitempty"`
	EmojiPreferences map[string]string `yaml:"emoji_preferences,omitempty"`
	SignaturePhrases []string          `yaml:"signature_phrases,omitempty"`
	ForbiddenPhrases []string          `yaml:"forbidden_phrases,omitempty"`
}

// UsesEmoji is false for the "none" policy and when no policy is set.
func (v Voice) UsesEmoji() bool {
	return v.EmojiUsage != "" && v.EmojiUsage != "none"
}

type Policies struct {
	ReturnWindowDays      int      `yaml:"return_window_days,omitempty"`
	FreeShippingThreshold float64  `yaml:"free_shipping_threshold,omitempty"`
	CODAvailable          *bool    `yaml:"cod_available,omitempty"`
	InternationalShipping *bool    `yaml:"international_shipping,omitempty"`
	ForbiddenActions      []string `yaml:"forbidden_actions,omitempty"`
}

// ShippingThreshold falls back to the platform default when unset.
func (p Policies) ShippingThreshold() float64 {
	if p.FreeShippingThreshold > 0 {
		return p.FreeShippingThreshold
	}
	return DefaultFreeShippingThreshold
}

// Brand is one tenant. Values handed out by the registry are snapshots and
// must not be modified.
type Brand struct {
	ID       string   `yaml:"brand_id"`
	Name     string   `yaml:"name"`
	Industry string   `yaml:"industry"`
	Domain   string   `yaml:"domain,omitempty"`
	Active   bool     `yaml:"active"`
	Voice    Voice    `yaml:"voice"`
	Policies Policies `yaml:"policies"`

	// Dir is the brand's directory on disk, empty for in-memory brands.
	Dir string `yaml:"-"`
}

func (b *Brand) applyDefaults(dirName string) {
	if b.ID == "" {
		b.ID = dirName
	}
	if b.Name == "" {
		b.Name = titleCase(b.ID)
	}
	if b.Industry == "" {
		b.Industry = DefaultIndustry
	}
}

func (b *Brand) Validate() error {
	if b == nil {
		return ErrInvalidBrand
	}
	if !idPattern.MatchString(b.ID) {
		return errors.Join(ErrInvalidBrand, errors.New("brand_id must be lowercase letters, digits, '-' or '_'"))
	}
	return nil
}

func titleCase(id string) string {
	parts := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' })
	for i, p := range parts {
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

func boolPtr(v bool) *bool { return &v }
