package static

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// domLookupMethods are the document queries recorded as DOM references.
var domLookupMethods = map[string]bool{
	"getElementById":         true,
	"querySelector":          true,
	"querySelectorAll":       true,
	"getElementsByClassName": true,
}

// globalObjects are receivers whose properties behave like global bindings.
var globalObjects = map[string]bool{
	"window":     true,
	"self":       true,
	"globalThis": true,
}

// markupIDPattern finds id attributes inside HTML built from string literals.
var markupIDPattern = regexp.MustCompile(`\bid\s*=\s*["']([^"'\s]+)["']`)

// scriptFacts is everything one pass over a script's syntax tree yields.
type scriptFacts struct {
	functions []string
	// globals are functions bound on the global object explicitly. They are
	// the only definitions a module script exposes to inline handlers.
	globals    []string
	domRefs    []DOMReference
	dynamicIDs []string
	calls      []string
}

// scriptScanner walks a tree-sitter syntax tree and records definitions,
// DOM lookups, ids created at runtime and global call names.
type scriptScanner struct {
	source []byte
	facts  scriptFacts
}

func scanScript(root *sitter.Node, source []byte) scriptFacts {
	s := &scriptScanner{source: source}
	s.walk(root)
	return s.facts
}

func (s *scriptScanner) walk(node *sitter.Node) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_declaration", "generator_function_declaration", "class_declaration":
		if name := node.ChildByFieldName("name"); name != nil {
			s.facts.functions = append(s.facts.functions, name.Content(s.source))
		}

	case "variable_declarator":
		name := node.ChildByFieldName("name")
		value := node.ChildByFieldName("value")
		if name != nil && name.Type() == "identifier" && isFunctionNode(value) {
			s.facts.functions = append(s.facts.functions, name.Content(s.source))
		}

	case "assignment_expression":
		s.visitAssignment(node)

	case "call_expression":
		s.visitCall(node)

	case "string", "template_string":
		for _, m := range markupIDPattern.FindAllStringSubmatch(node.Content(s.source), -1) {
			s.facts.dynamicIDs = append(s.facts.dynamicIDs, m[1])
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		s.walk(node.NamedChild(i))
	}
}

func (s *scriptScanner) visitAssignment(node *sitter.Node) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil {
		return
	}

	switch left.Type() {
	case "identifier":
		if isFunctionNode(right) {
			s.facts.functions = append(s.facts.functions, left.Content(s.source))
		}
	case "member_expression":
		object := left.ChildByFieldName("object")
		property := left.ChildByFieldName("property")
		if object == nil || property == nil {
			return
		}
		prop := property.Content(s.source)
		// window.handler = function () {...}
		if globalObjects[object.Content(s.source)] && isFunctionNode(right) {
			s.facts.functions = append(s.facts.functions, prop)
			s.facts.globals = append(s.facts.globals, prop)
		}
		// el.id = 'panel'
		if prop == "id" {
			if id, ok := stringLiteral(right, s.source); ok {
				s.facts.dynamicIDs = append(s.facts.dynamicIDs, id)
			}
		}
	}
}

func (s *scriptScanner) visitCall(node *sitter.Node) {
	fn := node.ChildByFieldName("function")
	args := node.ChildByFieldName("arguments")
	if fn == nil {
		return
	}

	switch fn.Type() {
	case "identifier":
		s.facts.calls = append(s.facts.calls, fn.Content(s.source))

	case "member_expression":
		object := fn.ChildByFieldName("object")
		property := fn.ChildByFieldName("property")
		if property == nil {
			return
		}
		method := property.Content(s.source)

		if object != nil && globalObjects[object.Content(s.source)] {
			s.facts.calls = append(s.facts.calls, method)
		}

		if domLookupMethods[method] {
			ref := DOMReference{Method: method}
			if first := firstArgument(args); first != nil {
				ref.Argument, ref.Static = stringLiteral(first, s.source)
				if !ref.Static {
					ref.Argument = first.Content(s.source)
				}
			}
			s.facts.domRefs = append(s.facts.domRefs, ref)
		}

		// el.setAttribute('id', 'panel')
		if method == "setAttribute" && args != nil && args.NamedChildCount() >= 2 {
			name, okName := stringLiteral(args.NamedChild(0), s.source)
			value, okValue := stringLiteral(args.NamedChild(1), s.source)
			if okName && okValue && strings.EqualFold(name, "id") {
				s.facts.dynamicIDs = append(s.facts.dynamicIDs, value)
			}
		}
	}
}

func firstArgument(args *sitter.Node) *sitter.Node {
	if args == nil || args.NamedChildCount() == 0 {
		return nil
	}
	return args.NamedChild(0)
}

// stringLiteral returns the value of a quoted string or a template string
// without substitutions.
func stringLiteral(node *sitter.Node, source []byte) (string, bool) {
	if node == nil {
		return "", false
	}
	raw := node.Content(source)
	switch node.Type() {
	case "string":
		if len(raw) >= 2 {
			return raw[1 : len(raw)-1], true
		}
	case "template_string":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if node.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
		if len(raw) >= 2 {
			return raw[1 : len(raw)-1], true
		}
	}
	return "", false
}

// isFunctionNode accepts both the older "function" and newer
// "function_expression" node names emitted by different grammar releases.
func isFunctionNode(node *sitter.Node) bool {
	if node == nil {
		return false
	}
	switch node.Type() {
	case "function", "function_expression", "arrow_function", "generator_function", "class":
		return true
	}
	return false
}
