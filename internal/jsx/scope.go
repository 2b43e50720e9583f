package jsx

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Declaration is a top-level binding in the program.
type Declaration struct {
	Name     string
	Node     *sitter.Node // the declaring statement
	Value    *sitter.Node // initializer or the declaration itself for functions and classes
	Exported bool
	Pos      Position
}

// IsFunction reports whether the declaration binds a function or class.
func (d Declaration) IsFunction() bool { return IsFunctionNode(Unparen(d.Value)) }

// TopLevelDeclarations lists the program's top-level bindings in source order.
func (d *Document) TopLevelDeclarations() []Declaration {
	var out []Declaration
	count := int(d.Root.NamedChildCount())
	for i := 0; i < count; i++ {
		stmt := d.Root.NamedChild(i)
		exported := false
		if stmt.Type() == "export_statement" {
			exported = true
			inner := stmt.ChildByFieldName("declaration")
			if inner == nil {
				continue
			}
			stmt = inner
		}
		out = append(out, d.declarationsOf(stmt, exported)...)
	}
	return out
}

func (d *Document) declarationsOf(stmt *sitter.Node, exported bool) []Declaration {
	switch stmt.Type() {
	case "lexical_declaration", "variable_declaration":
		var out []Declaration
		count := int(stmt.NamedChildCount())
		for i := 0; i < count; i++ {
			decl := stmt.NamedChild(i)
			if decl.Type() != "variable_declarator" {
				continue
			}
			name := decl.ChildByFieldName("name")
			if name == nil || name.Type() != "identifier" {
				continue
			}
			out = append(out, Declaration{
				Name:     d.Text(name),
				Node:     stmt,
				Value:    decl.ChildByFieldName("value"),
				Exported: exported,
				Pos:      PositionOf(name),
			})
		}
		return out
	case "function_declaration", "generator_function_declaration", "class_declaration":
		name := stmt.ChildByFieldName("name")
		if name == nil {
			return nil
		}
		return []Declaration{{Name: d.Text(name), Node: stmt, Value: stmt, Exported: exported, Pos: PositionOf(name)}}
	}
	return nil
}

// FindDeclaration returns the top-level declaration named name.
func (d *Document) FindDeclaration(name string) (Declaration, bool) {
	for _, decl := range d.TopLevelDeclarations() {
		if decl.Name == name {
			return decl, true
		}
	}
	return Declaration{}, false
}

// BoundNames collects every name the program binds anywhere: variables, parameters,
// destructured names, function and class names, catch parameters and loop variables.
// Block scoping is ignored, so a name bound in any scope counts as bound everywhere.
func (d *Document) BoundNames() map[string]bool {
	bound := make(map[string]bool)
	Walk(d.Root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "variable_declarator":
			d.collectPattern(n.ChildByFieldName("name"), bound)
		case "function_declaration", "generator_function_declaration", "class_declaration",
			"function", "function_expression", "class":
			if name := n.ChildByFieldName("name"); name != nil {
				bound[d.Text(name)] = true
			}
		case "formal_parameters":
			count := int(n.NamedChildCount())
			for i := 0; i < count; i++ {
				d.collectPattern(n.NamedChild(i), bound)
			}
		case "arrow_function":
			if p := n.ChildByFieldName("parameter"); p != nil {
				d.collectPattern(p, bound)
			}
		case "catch_clause":
			d.collectPattern(n.ChildByFieldName("parameter"), bound)
		case "for_in_statement":
			d.collectPattern(n.ChildByFieldName("left"), bound)
		}
		return true
	})
	return bound
}

func (d *Document) collectPattern(n *sitter.Node, into map[string]bool) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		into[d.Text(n)] = true
	case "pair_pattern":
		d.collectPattern(n.ChildByFieldName("value"), into)
	case "assignment_pattern", "object_assignment_pattern":
		d.collectPattern(n.ChildByFieldName("left"), into)
	case "required_parameter", "optional_parameter":
		d.collectPattern(n.ChildByFieldName("pattern"), into)
	default:
		count := int(n.NamedChildCount())
		for i := 0; i < count; i++ {
			d.collectPattern(n.NamedChild(i), into)
		}
	}
}

// RefKind classifies a name reference.
type RefKind int

const (
	RefTag         RefKind = iota // JSX element name
	RefHook                       // call of a use* function
	RefCall                       // call whose callee starts with a capitalized name
	RefConstructor                // new X(...)
	RefValue                      // any other identifier read
)

func (k RefKind) String() string {
	switch k {
	case RefTag:
		return "JSX tag"
	case RefHook:
		return "hook call"
	case RefCall:
		return "capitalized call"
	case RefConstructor:
		return "constructor"
	case RefValue:
		return "identifier"
	default:
		return "reference"
	}
}

// Reference is one use of a name the program does not necessarily bind.
type Reference struct {
	Kind   RefKind
	Name   string // full dotted text, e.g. Icons.Sun
	Root   string // first segment
	Member string // second segment, empty for plain names
	Pos    Position
}

var hookName = regexp.MustCompile(`^use[A-Z0-9]`)

// References returns JSX tag names, hook-like calls and capitalized calls in source order.
// Intrinsic lower-case JSX tags are omitted.
func (d *Document) References() []Reference {
	var refs []Reference
	Walk(d.Root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "jsx_opening_element", "jsx_self_closing_element":
			name := n.ChildByFieldName("name")
			if name == nil {
				return true
			}
			ref := d.reference(RefTag, name)
			if ref.Member == "" && !IsCapitalized(ref.Root) {
				return true
			}
			refs = append(refs, ref)
		case "call_expression":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			switch fn.Type() {
			case "identifier":
				text := d.Text(fn)
				if hookName.MatchString(text) {
					refs = append(refs, d.reference(RefHook, fn))
				} else if IsCapitalized(text) {
					refs = append(refs, d.reference(RefCall, fn))
				}
			case "member_expression":
				ref := d.reference(RefCall, fn)
				if ref.Root != "" && IsCapitalized(ref.Root) {
					if hookName.MatchString(ref.Member) {
						ref.Kind = RefHook
					}
					refs = append(refs, ref)
				}
			}
		case "new_expression":
			ctor := n.ChildByFieldName("constructor")
			if ctor == nil {
				return true
			}
			if ctor.Type() == "identifier" || ctor.Type() == "member_expression" {
				refs = append(refs, d.reference(RefConstructor, ctor))
			}
		}
		return true
	})
	return refs
}

// ValueReferences returns every identifier the program reads, in source order: variables,
// shorthand properties and callees of any case. JSX element and attribute names are omitted.
// Binding sites are included; filter them with BoundNames.
func (d *Document) ValueReferences() []Reference {
	var refs []Reference
	d.collectValues(d.Root, &refs)
	return refs
}

func (d *Document) collectValues(n *sitter.Node, into *[]Reference) {
	Walk(n, func(n *sitter.Node) bool {
		switch n.Type() {
		case "identifier", "shorthand_property_identifier":
			text := d.Text(n)
			*into = append(*into, Reference{Kind: RefValue, Name: text, Root: text, Pos: PositionOf(n)})
		case "jsx_opening_element", "jsx_closing_element", "jsx_self_closing_element":
			count := int(n.NamedChildCount())
			for i := 0; i < count; i++ {
				switch c := n.NamedChild(i); c.Type() {
				case "jsx_expression":
					d.collectValues(c, into)
				case "jsx_attribute":
					// the first child is the attribute name
					for j := 1; j < int(c.NamedChildCount()); j++ {
						d.collectValues(c.NamedChild(j), into)
					}
				}
			}
			return false
		}
		return true
	})
}

func (d *Document) reference(kind RefKind, n *sitter.Node) Reference {
	text := d.Text(n)
	ref := Reference{Kind: kind, Name: text, Pos: PositionOf(n)}
	if n.Type() == "identifier" {
		ref.Root = text
		return ref
	}
	if strings.Contains(text, "?.") || strings.ContainsAny(text, "()[]") {
		return ref
	}
	parts := strings.Split(text, ".")
	ref.Root = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		ref.Member = strings.TrimSpace(parts[1])
	}
	return ref
}
