// Package static inspects a generated document without rendering it: inline
// scripts are parsed with tree-sitter and the markup with goquery, and the two
// are cross-checked for handlers and ids that do not resolve.
package static

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// InteractiveSelector matches the elements the sandbox exercises.
const InteractiveSelector = `button, a[href], input:not([type=hidden]), select, textarea, summary, ` +
	`[onclick], [role=button], [role=link], [role=tab], [role=checkbox], [role=switch]`

var (
	bareIDSelector = regexp.MustCompile(`^#([A-Za-z_][\w-]*)$`)
	cssIdent       = regexp.MustCompile(`^[A-Za-z_][\w-]*$`)
)

// NameSet is an unordered set of identifiers.
type NameSet map[string]struct{}

func (s NameSet) add(name string) { s[name] = struct{}{} }

// Has reports membership.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the members in lexical order.
func (s NameSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DOMReference is one document lookup made from script.
type DOMReference struct {
	Method   string `json:"method"`
	Argument string `json:"argument"`
	Static   bool   `json:"static"`
}

// MissingElement is an id lookup with no matching element.
type MissingElement struct {
	Selector string `json:"selector"`
	Method   string `json:"method"`
	Argument string `json:"argument"`
}

// ScriptInfo describes one <script> element.
type ScriptInfo struct {
	Index          int    `json:"index"`
	Src            string `json:"src,omitempty"`
	Type           string `json:"type,omitempty"`
	IsExternal     bool   `json:"is_external"`
	IsModule       bool   `json:"is_module"`
	Parsed         bool   `json:"parsed"`
	HasSyntaxError bool   `json:"has_syntax_error"`
	Size           int    `json:"size"`
}

// HandlerRef is a function call made from an inline event handler attribute.
type HandlerRef struct {
	Function        string `json:"function"`
	Attribute       string `json:"attribute"`
	ElementTag      string `json:"element_tag"`
	ElementSelector string `json:"element_selector"`
}

// Result is the analyzer's view of one document.
type Result struct {
	DefinedFunctions   NameSet          `json:"defined_functions"`
	DOMReferences      []DOMReference   `json:"dom_references"`
	MissingFunctions   NameSet          `json:"missing_functions"`
	MissingDOMElements []MissingElement `json:"missing_dom_elements"`
	Scripts            []ScriptInfo     `json:"scripts"`
	Handlers           []HandlerRef     `json:"handlers"`
	DynamicIDs         NameSet          `json:"dynamic_ids"`
	InteractiveCount   int              `json:"interactive_count"`
	HasErrors          bool             `json:"has_errors"`
}

// SyntaxErrorScripts returns the scripts whose parse produced error nodes.
func (r *Result) SyntaxErrorScripts() []ScriptInfo {
	var out []ScriptInfo
	for _, s := range r.Scripts {
		if s.HasSyntaxError {
			out = append(out, s)
		}
	}
	return out
}

// HandlersFor returns the handler call sites of a function.
func (r *Result) HandlersFor(name string) []HandlerRef {
	var out []HandlerRef
	for _, h := range r.Handlers {
		if h.Function == name {
			out = append(out, h)
		}
	}
	return out
}

// Analyzer performs static analysis. It is safe for concurrent use; every
// call gets its own parser.
type Analyzer struct {
	logger *zap.Logger
}

// NewAnalyzer creates a new static analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("static_analyzer")}
}

// Analyze parses document and reports missing functions and DOM targets.
func (a *Analyzer) Analyze(ctx context.Context, document string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	res := &Result{
		DefinedFunctions:   NameSet{},
		DOMReferences:      []DOMReference{},
		MissingFunctions:   NameSet{},
		MissingDOMElements: []MissingElement{},
		Scripts:            []ScriptInfo{},
		Handlers:           []HandlerRef{},
		DynamicIDs:         NameSet{},
	}

	// Pass 1: every inline script block. Definitions are aggregated across
	// all blocks before anything is judged missing.
	var scriptErr error
	doc.Find("script").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		info, facts, err := a.analyzeScript(ctx, parser, i, sel)
		if err != nil {
			scriptErr = err
			return false
		}
		res.Scripts = append(res.Scripts, info)
		defined := facts.functions
		if info.IsModule {
			defined = facts.globals
		}
		for _, fn := range defined {
			res.DefinedFunctions.add(fn)
		}
		res.DOMReferences = append(res.DOMReferences, facts.domRefs...)
		for _, id := range facts.dynamicIDs {
			res.DynamicIDs.add(id)
		}
		return true
	})
	if scriptErr != nil {
		return nil, scriptErr
	}

	// Pass 2: inline handlers.
	ids := NameSet{}
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		node := sel.Get(0)
		for _, attr := range node.Attr {
			key := strings.ToLower(attr.Key)
			if key == "id" && attr.Val != "" {
				ids.add(attr.Val)
				continue
			}
			code, ok := handlerCode(key, attr.Val)
			if !ok {
				continue
			}
			calls, err := a.handlerCalls(ctx, parser, code)
			if err != nil {
				a.logger.Debug("Skipping unparsable handler", zap.String("attribute", key), zap.Error(err))
				continue
			}
			for _, fn := range calls {
				res.Handlers = append(res.Handlers, HandlerRef{
					Function:        fn,
					Attribute:       key,
					ElementTag:      node.Data,
					ElementSelector: CSSPath(sel),
				})
			}
		}
	})
	res.InteractiveCount = doc.Find(InteractiveSelector).Length()

	for _, h := range res.Handlers {
		if !res.DefinedFunctions.Has(h.Function) && !IsBuiltin(h.Function) {
			res.MissingFunctions.add(h.Function)
		}
	}

	// Pass 3: id lookups against the parsed tree.
	seen := NameSet{}
	for _, ref := range res.DOMReferences {
		id, ok := idFromReference(ref)
		if !ok || ids.Has(id) || res.DynamicIDs.Has(id) || seen.Has(id) {
			continue
		}
		seen.add(id)
		res.MissingDOMElements = append(res.MissingDOMElements, MissingElement{
			Selector: "#" + id,
			Method:   ref.Method,
			Argument: ref.Argument,
		})
	}

	res.HasErrors = len(res.MissingFunctions) > 0 || len(res.MissingDOMElements) > 0 || len(res.SyntaxErrorScripts()) > 0

	a.logger.Debug("Static analysis complete",
		zap.Int("scripts", len(res.Scripts)),
		zap.Int("defined_functions", len(res.DefinedFunctions)),
		zap.Int("missing_functions", len(res.MissingFunctions)),
		zap.Int("missing_dom_elements", len(res.MissingDOMElements)),
	)
	return res, nil
}

func (a *Analyzer) analyzeScript(ctx context.Context, parser *sitter.Parser, index int, sel *goquery.Selection) (ScriptInfo, scriptFacts, error) {
	src, hasSrc := sel.Attr("src")
	typ, _ := sel.Attr("type")
	body := sel.Text()

	info := ScriptInfo{
		Index:      index,
		Src:        src,
		Type:       typ,
		IsExternal: hasSrc && strings.TrimSpace(src) != "",
		IsModule:   strings.EqualFold(strings.TrimSpace(typ), "module"),
		Size:       len(body),
	}
	// External bodies are never fetched, and inline text next to a src is ignored by browsers.
	if info.IsExternal || !isJavaScriptType(typ) || strings.TrimSpace(body) == "" {
		return info, scriptFacts{}, nil
	}

	source := []byte(body)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return info, scriptFacts{}, fmt.Errorf("tree-sitter failed to parse script %d: %w", index, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	info.Parsed = true
	if root.HasError() {
		info.HasSyntaxError = true
		a.logger.Debug("Script has syntax errors", zap.Int("script", index))
	}
	return info, scanScript(root, source), nil
}

func (a *Analyzer) handlerCalls(ctx context.Context, parser *sitter.Parser, code string) ([]string, error) {
	source := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	facts := scanScript(tree.RootNode(), source)
	// Functions declared inside the handler body itself are local.
	local := NameSet{}
	for _, fn := range facts.functions {
		local.add(fn)
	}
	var out []string
	seen := NameSet{}
	for _, c := range facts.calls {
		if local.Has(c) || seen.Has(c) {
			continue
		}
		seen.add(c)
		out = append(out, c)
	}
	return out, nil
}

// handlerCode returns the script carried by an on* attribute or a
// javascript: URL.
func handlerCode(key, val string) (string, bool) {
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false
	}
	if strings.HasPrefix(key, "on") && len(key) > 2 {
		return val, true
	}
	if key == "href" && strings.HasPrefix(strings.ToLower(val), "javascript:") {
		return val[len("javascript:"):], true
	}
	return "", false
}

func idFromReference(ref DOMReference) (string, bool) {
	if !ref.Static {
		return "", false
	}
	switch ref.Method {
	case "getElementById":
		id := strings.TrimSpace(ref.Argument)
		return id, id != ""
	case "querySelector", "querySelectorAll":
		if m := bareIDSelector.FindStringSubmatch(strings.TrimSpace(ref.Argument)); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func isJavaScriptType(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "module", "text/ecmascript",
		"application/ecmascript", "application/x-javascript", "text/jscript":
		return true
	}
	return false
}

// CSSPath builds a selector that identifies sel: its id when it has a usable
// one, otherwise a child-combinator path anchored at the nearest ancestor
// with an id or at body.
func CSSPath(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	var parts []string
	for n := sel.Get(0); n != nil && n.Type == html.ElementNode; n = n.Parent {
		if id := attrValue(n, "id"); id != "" && cssIdent.MatchString(id) {
			parts = append(parts, "#"+id)
			break
		}
		if n.Data == "body" || n.Data == "html" {
			parts = append(parts, n.Data)
			break
		}
		parts = append(parts, n.Data+nthOfType(n))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func nthOfType(n *html.Node) string {
	if n.Parent == nil {
		return ""
	}
	index, total := 0, 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != n.Data {
			continue
		}
		total++
		if c == n {
			index = total
		}
	}
	if total <= 1 {
		return ""
	}
	return ":nth-of-type(" + strconv.Itoa(index) + ")"
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
