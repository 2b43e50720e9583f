// Package fallback renders request data as a generic structured view when the generated
// component cannot be rendered.
package fallback

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"genui/internal/uitree"
)

// Options bound the walk.
type Options struct {
	MaxDepth int // nesting levels rendered before values are summarized
	MaxItems int // entries rendered per object or array
}

// DefaultOptions returns depth 4 and 20 items per collection.
func DefaultOptions() Options {
	return Options{MaxDepth: 4, MaxItems: 20}
}

// Renderer builds fallback views. The zero value is not usable; call New.
type Renderer struct {
	opts Options
}

// New creates a Renderer. Non-positive options take their defaults.
func New(opts Options) *Renderer {
	def := DefaultOptions()
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = def.MaxItems
	}
	return &Renderer{opts: opts}
}

// View wraps the data view in a card. A non-empty note is shown above the data as an alert.
func (r *Renderer) View(title, note string, data any) *uitree.Node {
	if title == "" {
		title = "Data"
	}
	content := uitree.NewElement("CardContent", nil)
	if note != "" {
		content.Append(uitree.NewElement("Alert", nil,
			uitree.NewElement("AlertTitle", nil, uitree.NewText("Showing the underlying data")),
			uitree.NewElement("AlertDescription", nil, uitree.NewText(note)),
		))
	}
	content.Append(r.Render(data))
	return uitree.NewElement("Card", map[string]any{"variant": "fallback"},
		uitree.NewElement("CardHeader", nil,
			uitree.NewElement("CardTitle", nil, uitree.NewText(title)),
		),
		content,
	)
}

// Render walks data and returns its generic view. Output is deterministic: object keys are
// sorted and every collection is capped.
func (r *Renderer) Render(data any) *uitree.Node {
	return r.render(normalize(data), 0)
}

func (r *Renderer) render(v any, depth int) *uitree.Node {
	switch t := v.(type) {
	case map[string]any:
		if depth >= r.opts.MaxDepth {
			return summary(fmt.Sprintf("{%d %s}", len(t), plural(len(t), "field", "fields")))
		}
		return r.object(t, depth)
	case []any:
		if depth >= r.opts.MaxDepth {
			return summary(fmt.Sprintf("[%d %s]", len(t), plural(len(t), "item", "items")))
		}
		if cols, ok := tableColumns(t); ok {
			return r.table(t, cols, depth)
		}
		return r.list(t, depth)
	default:
		return uitree.NewElement("span", map[string]any{"className": "value"}, uitree.NewText(Scalar(t)))
	}
}

func (r *Renderer) object(m map[string]any, depth int) *uitree.Node {
	keys := sortedKeys(m)
	dl := uitree.NewElement("dl", map[string]any{"className": "fallback-object"})
	for i, k := range keys {
		if i == r.opts.MaxItems {
			dl.Append(more(len(keys) - i))
			break
		}
		dl.Append(
			uitree.NewElement("dt", nil, uitree.NewText(k)),
			uitree.NewElement("dd", nil, r.render(m[k], depth+1)),
		)
	}
	return dl
}

func (r *Renderer) list(items []any, depth int) *uitree.Node {
	ul := uitree.NewElement("ul", map[string]any{"className": "fallback-list"})
	for i, item := range items {
		if i == r.opts.MaxItems {
			ul.Append(uitree.NewElement("li", nil, more(len(items)-i)))
			break
		}
		ul.Append(uitree.NewElement("li", nil, r.render(item, depth+1)))
	}
	return ul
}

func (r *Renderer) table(rows []any, cols []string, depth int) *uitree.Node {
	if len(cols) > r.opts.MaxItems {
		cols = cols[:r.opts.MaxItems]
	}
	head := uitree.NewElement("TableRow", nil)
	for _, c := range cols {
		head.Append(uitree.NewElement("TableHead", nil, uitree.NewText(c)))
	}
	body := uitree.NewElement("TableBody", nil)
	for i, row := range rows {
		if i == r.opts.MaxItems {
			body.Append(uitree.NewElement("TableRow", nil,
				uitree.NewElement("TableCell", map[string]any{"colSpan": int64(len(cols))}, more(len(rows)-i))))
			break
		}
		m := row.(map[string]any)
		tr := uitree.NewElement("TableRow", nil)
		for _, c := range cols {
			tr.Append(uitree.NewElement("TableCell", nil, r.render(m[c], depth+2)))
		}
		body.Append(tr)
	}
	return uitree.NewElement("Table", map[string]any{"className": "fallback-table"},
		uitree.NewElement("TableHeader", nil, head),
		body,
	)
}

// tableColumns reports the shared key set when every item is an object with the same keys.
func tableColumns(items []any) ([]string, bool) {
	if len(items) == 0 {
		return nil, false
	}
	first, ok := items[0].(map[string]any)
	if !ok || len(first) == 0 {
		return nil, false
	}
	cols := sortedKeys(first)
	for _, item := range items[1:] {
		m, ok := item.(map[string]any)
		if !ok || len(m) != len(cols) {
			return nil, false
		}
		for _, c := range cols {
			if _, has := m[c]; !has {
				return nil, false
			}
		}
	}
	return cols, true
}

// Scalar formats a leaf value the way the fallback view shows it.
func Scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// normalize converts arbitrary Go values, nested ones included, to the shapes produced by
// decoding JSON.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func summary(s string) *uitree.Node {
	return uitree.NewElement("span", map[string]any{"className": "summary"}, uitree.NewText(s))
}

func more(n int) *uitree.Node {
	return uitree.NewElement("span", map[string]any{"className": "truncated"},
		uitree.NewText(fmt.Sprintf("and %d more", n)))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
