package uitree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"genui/internal/catalog"
)

var (
	intrinsicTag  = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	attributeName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)
)

// blockedTags are intrinsic names the preview never emits as elements.
var blockedTags = map[string]bool{
	"script": true, "style": true, "iframe": true, "object": true, "embed": true, "link": true,
	"meta": true, "base": true, "frame": true, "frameset": true, "template": true, "noscript": true,
}

var voidTags = map[string]bool{
	"area": true, "br": true, "col": true, "hr": true, "img": true, "input": true, "source": true, "wbr": true,
}

// transparentTypes render only their children.
var transparentTypes = map[string]bool{FragmentType: true, "AnimatePresence": true}

var unitless = map[string]bool{
	"opacity": true, "zIndex": true, "fontWeight": true, "lineHeight": true, "flex": true,
	"flexGrow": true, "flexShrink": true, "order": true, "scale": true,
}

// HTML renders the tree as an HTML fragment.
func HTML(n *Node) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render writes the tree as an HTML fragment. Catalog components become div[data-ui],
// charts figure[data-chart], icons i[data-icon]; handlers and unsafe attributes are dropped.
func Render(w io.Writer, n *Node) error {
	for _, h := range convert(n, catalog.Default()) {
		if err := html.Render(w, h); err != nil {
			return fmt.Errorf("failed to render html: %w", err)
		}
	}
	return nil
}

// Page writes a standalone preview document around the tree.
func Page(w io.Writer, title string, n *Node) error {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	root := element("html", nil)
	doc.AppendChild(root)

	head := element("head", nil)
	head.AppendChild(element("meta", []html.Attribute{{Key: "charset", Val: "utf-8"}}))
	t := element("title", nil)
	t.AppendChild(&html.Node{Type: html.TextNode, Data: title})
	head.AppendChild(t)
	root.AppendChild(head)

	body := element("body", nil)
	content := element("main", []html.Attribute{{Key: "data-genui", Val: catalog.Version}})
	for _, h := range convert(n, catalog.Default()) {
		content.AppendChild(h)
	}
	body.AppendChild(content)
	root.AppendChild(body)

	if err := html.Render(w, doc); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	return nil
}

func element(tag string, attrs []html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag)), Attr: attrs}
}

func convert(n *Node, cat *catalog.Catalog) []*html.Node {
	if n == nil {
		return nil
	}
	if n.IsText() {
		return []*html.Node{{Type: html.TextNode, Data: n.Text}}
	}
	if transparentTypes[n.Type] {
		return convertChildren(n.Children, cat)
	}

	var el *html.Node
	switch {
	case strings.HasPrefix(n.Type, "Icons."):
		el = element("i", []html.Attribute{
			{Key: "data-icon", Val: strings.TrimPrefix(n.Type, "Icons.")},
			{Key: "aria-hidden", Val: "true"},
		})
		if cls := classOf(n); cls != "" {
			el.Attr = append(el.Attr, html.Attribute{Key: "class", Val: cls})
		}
		return []*html.Node{el}
	case strings.HasPrefix(n.Type, "motion."):
		tag := strings.TrimPrefix(n.Type, "motion.")
		if !intrinsicTag.MatchString(tag) || blockedTags[tag] {
			tag = "div"
		}
		el = element(tag, append(intrinsicAttrs(n), html.Attribute{Key: "data-motion", Val: "true"}))
	case intrinsicTag.MatchString(n.Type):
		if blockedTags[n.Type] {
			el = element("div", []html.Attribute{{Key: "data-blocked", Val: n.Type}})
			return []*html.Node{el}
		}
		el = element(n.Type, intrinsicAttrs(n))
	default:
		tag, marker := "div", "data-ui"
		if e, ok := cat.Lookup(n.Type); ok && e.Kind == catalog.KindChart {
			tag, marker = "figure", "data-chart"
		}
		el = element(tag, append([]html.Attribute{{Key: marker, Val: n.Type}}, componentAttrs(n)...))
	}

	if voidTags[el.Data] {
		return []*html.Node{el}
	}
	for _, c := range convertChildren(n.Children, cat) {
		el.AppendChild(c)
	}
	return []*html.Node{el}
}

func convertChildren(children []*Node, cat *catalog.Catalog) []*html.Node {
	var out []*html.Node
	for _, c := range children {
		out = append(out, convert(c, cat)...)
	}
	return out
}

func classOf(n *Node) string {
	if s, ok := n.Props["className"].(string); ok {
		return s
	}
	return ""
}

func intrinsicAttrs(n *Node) []html.Attribute {
	var attrs []html.Attribute
	for _, k := range n.PropKeys() {
		v := n.Props[k]
		switch {
		case k == "key" || k == "ref" || k == "children" || k == "dangerouslySetInnerHTML":
			continue
		case isHandlerName(k):
			continue
		case k == "className":
			if s, ok := scalar(v); ok {
				attrs = append(attrs, html.Attribute{Key: "class", Val: s})
			}
		case k == "htmlFor":
			if s, ok := scalar(v); ok {
				attrs = append(attrs, html.Attribute{Key: "for", Val: s})
			}
		case k == "style":
			if m, ok := v.(map[string]any); ok {
				if css := CSS(m); css != "" {
					attrs = append(attrs, html.Attribute{Key: "style", Val: css})
				}
			}
		case k == "href" || k == "src":
			if s, ok := v.(string); ok && safeURL(s) {
				attrs = append(attrs, html.Attribute{Key: k, Val: s})
			}
		case !attributeName.MatchString(k):
			continue
		default:
			if b, isBool := v.(bool); isBool {
				if b {
					attrs = append(attrs, html.Attribute{Key: strings.ToLower(k)})
				}
				continue
			}
			if s, ok := scalar(v); ok {
				attrs = append(attrs, html.Attribute{Key: strings.ToLower(k), Val: s})
			}
		}
	}
	return attrs
}

// componentAttrs exposes component props as data-* attributes. Structured props are JSON.
func componentAttrs(n *Node) []html.Attribute {
	var attrs []html.Attribute
	for _, k := range n.PropKeys() {
		v := n.Props[k]
		if k == "key" || k == "ref" || k == "children" || isHandlerName(k) || !attributeName.MatchString(k) {
			continue
		}
		if k == "className" {
			if s, ok := scalar(v); ok {
				attrs = append(attrs, html.Attribute{Key: "class", Val: s})
			}
			continue
		}
		name := "data-" + kebab(k)
		if s, ok := scalar(v); ok {
			attrs = append(attrs, html.Attribute{Key: name, Val: s})
			continue
		}
		if b, err := json.Marshal(v); err == nil {
			attrs = append(attrs, html.Attribute{Key: name, Val: string(b)})
		}
	}
	return attrs
}

// CSS renders a React style object as a declaration list with sorted properties.
func CSS(style map[string]any) string {
	keys := make([]string, 0, len(style))
	for k := range style {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		v, ok := scalar(style[k])
		if !ok || v == "" {
			continue
		}
		if isNumber(style[k]) && !unitless[k] && v != "0" {
			v += "px"
		}
		parts = append(parts, kebab(k)+": "+v)
	}
	return strings.Join(parts, "; ")
}

func isHandlerName(k string) bool {
	return len(k) > 2 && strings.HasPrefix(k, "on") && k[2] >= 'A' && k[2] <= 'Z'
}

func safeURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, p := range []string{"http://", "https://", "mailto:", "/", "#"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func kebab(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

// scalar formats strings, numbers and booleans.
func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}
