// Package injector applies CSS patch sets to document snapshots.
package injector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
)

// PatchAttribute marks style blocks written by the injector.
const PatchAttribute = "data-mender-patch"

var (
	// Pseudo-classes and pseudo-elements that only exist at interaction time.
	// Structural pseudo-classes such as :nth-of-type are kept.
	dynamicPseudo = regexp.MustCompile(`::[A-Za-z-]+|:(?:hover|active|focus-visible|focus-within|focus|visited|target)\b`)
	propertyName  = regexp.MustCompile(`^-{0,2}[A-Za-z][A-Za-z0-9-]*$`)
)

// Injector implements schemas.Injector.
type Injector struct {
	// Strict makes any unresolved patch fail the whole injection.
	Strict bool
	logger *zap.Logger
}

var _ schemas.Injector = (*Injector)(nil)

// New creates an injector.
func New(logger *zap.Logger, strict bool) *Injector {
	return &Injector{Strict: strict, logger: logger.Named("injector")}
}

// declarations keeps the property order of first appearance while letting
// later values overwrite earlier ones.
type declarations struct {
	order  []string
	values map[string]string
}

func (d *declarations) set(name, value string) {
	if _, ok := d.values[name]; !ok {
		d.order = append(d.order, name)
	}
	d.values[name] = value
}

func (d *declarations) remove(name string) {
	if _, ok := d.values[name]; !ok {
		return
	}
	delete(d.values, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// stylesheet is the merged result of one PatchSet.
type stylesheet struct {
	selectors []string
	rules     map[string]*declarations
}

func (s *stylesheet) rule(selector string) *declarations {
	d, ok := s.rules[selector]
	if !ok {
		d = &declarations{values: map[string]string{}}
		s.rules[selector] = d
		s.selectors = append(s.selectors, selector)
	}
	return d
}

func (s *stylesheet) render() string {
	var b strings.Builder
	for _, sel := range s.selectors {
		d := s.rules[sel]
		if len(d.order) == 0 {
			continue
		}
		b.WriteString(sel)
		b.WriteString(" { ")
		for _, name := range d.order {
			fmt.Fprintf(&b, "%s: %s; ", name, important(d.values[name]))
		}
		b.WriteString("}\n")
	}
	return b.String()
}

// Inject applies set to document. Unresolvable or malformed patches are
// reported in Failed; the remaining patches still apply.
func (i *Injector) Inject(document string, set schemas.PatchSet) schemas.InjectionResult {
	result := schemas.InjectionResult{Document: document, Applied: []schemas.Patch{}, Failed: []schemas.Patch{}}
	if len(set.Patches) == 0 {
		result.Success = true
		return result
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		i.logger.Warn("Document could not be parsed for injection", zap.Error(err))
		result.Failed = append(result.Failed, set.Patches...)
		return result
	}

	sheet := &stylesheet{rules: map[string]*declarations{}}
	for _, p := range set.Patches {
		matches, reason := resolve(doc, p)
		if reason != "" {
			i.logger.Debug("Patch not applied", zap.String("selector", p.TargetSelector), zap.String("reason", reason))
			result.Failed = append(result.Failed, p)
			continue
		}

		decl := sheet.rule(strings.TrimSpace(p.TargetSelector))
		for _, prop := range p.PropertiesToSet {
			decl.set(strings.ToLower(prop.Name), strings.TrimSpace(prop.Value))
		}
		for _, name := range p.PropertiesToRemove {
			name = strings.ToLower(name)
			decl.remove(name)
			matches.Each(func(_ int, s *goquery.Selection) { removeInlineProperty(s, name) })
		}
		result.Applied = append(result.Applied, p)
	}

	if css := sheet.render(); css != "" {
		doc.Find("head").First().AppendHtml(fmt.Sprintf("<style %s=%q>\n%s</style>", PatchAttribute, set.Source, css))
	}
	doc.Find("body").First().AppendHtml(fmt.Sprintf("<!-- mender:patch source=%s applied=%d failed=%d -->",
		set.Source, len(result.Applied), len(result.Failed)))

	rendered, err := doc.Html()
	if err != nil {
		i.logger.Warn("Patched document could not be serialized", zap.Error(err))
		result.Failed = append(result.Failed[:0], set.Patches...)
		result.Applied = []schemas.Patch{}
		return result
	}
	result.Document = rendered

	if i.Strict {
		result.Success = len(result.Failed) == 0
	} else {
		result.Success = len(result.Applied) > 0
	}
	return result
}

// resolve finds the elements a patch targets, or explains why it cannot apply.
func resolve(doc *goquery.Document, p schemas.Patch) (*goquery.Selection, string) {
	if p.IsEmpty() {
		return nil, "patch changes nothing"
	}
	for _, prop := range p.PropertiesToSet {
		if !propertyName.MatchString(prop.Name) {
			return nil, "invalid property name " + prop.Name
		}
		if strings.ContainsAny(prop.Value, "{}<;") || strings.TrimSpace(prop.Value) == "" {
			return nil, "invalid value for " + prop.Name
		}
	}
	for _, name := range p.PropertiesToRemove {
		if !propertyName.MatchString(name) {
			return nil, "invalid property name " + name
		}
	}
	if strings.ContainsAny(p.TargetSelector, "{}<") {
		return nil, "invalid selector"
	}

	structural := strings.TrimSpace(dynamicPseudo.ReplaceAllString(p.TargetSelector, ""))
	if structural == "" {
		return nil, "empty selector"
	}
	// goquery matches nothing for selectors it cannot compile.
	matches := doc.Find(structural)
	if matches.Length() == 0 {
		return nil, "selector matches no element"
	}
	return matches, ""
}

func removeInlineProperty(s *goquery.Selection, name string) {
	style, ok := s.Attr("style")
	if !ok {
		return
	}
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		key, _, _ := strings.Cut(decl, ":")
		if strings.EqualFold(strings.TrimSpace(key), name) {
			continue
		}
		kept = append(kept, decl)
	}
	if len(kept) == 0 {
		s.RemoveAttr("style")
		return
	}
	s.SetAttr("style", strings.Join(kept, "; "))
}

func important(value string) string {
	if strings.HasSuffix(strings.ToLower(value), "!important") {
		return value
	}
	return value + " !important"
}
