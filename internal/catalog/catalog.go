// Package catalog is the single source of truth for the names generated components may use.
// The Scope gate validates against it and the sandbox installs exactly these bindings.
package catalog

import (
	"sort"
	"strings"
)

// Version identifies the catalog surface. Bump it whenever a name is added or removed.
const Version = "2025.3"

// Kind classifies a catalog entry.
type Kind int

const (
	KindComponent Kind = iota // UI primitive or layout helper
	KindChart                 // chart primitive
	KindNamespace             // member-accessed namespace (Icons, motion, React)
	KindHook                  // React-style hook
	KindHelper                // plain helper function
	KindTimer                 // inert timer function
	KindGlobal                // language builtin exposed by the interpreter
	KindData                  // the request's data binding
)

func (k Kind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindChart:
		return "chart"
	case KindNamespace:
		return "namespace"
	case KindHook:
		return "hook"
	case KindHelper:
		return "helper"
	case KindTimer:
		return "timer"
	case KindGlobal:
		return "global"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Entry is one exposed name.
type Entry struct {
	Name    string
	Kind    Kind
	Members []string // namespace members, nil otherwise
}

// DataBinding is the name under which the request's data is injected.
const DataBinding = "data"

var components = []string{
	// cards
	"Card", "CardHeader", "CardTitle", "CardDescription", "CardContent", "CardFooter",
	// controls
	"Button", "Badge", "Input", "Label", "Textarea", "Switch", "Slider", "Checkbox", "Progress",
	"Select", "SelectTrigger", "SelectValue", "SelectContent", "SelectItem",
	// structure
	"Tabs", "TabsList", "TabsTrigger", "TabsContent",
	"Table", "TableHeader", "TableBody", "TableRow", "TableHead", "TableCell",
	"Accordion", "AccordionItem", "AccordionTrigger", "AccordionContent",
	"Alert", "AlertTitle", "AlertDescription",
	"Avatar", "AvatarImage", "AvatarFallback",
	"Separator", "ScrollArea", "Skeleton", "Tooltip",
	// layout helpers
	"Stack", "Grid", "Section",
	// numeric display
	"AnimatedNumber",
	// animation presence wrapper
	"AnimatePresence",
}

var charts = []string{
	"ResponsiveContainer", "LineChart", "Line", "BarChart", "Bar", "AreaChart", "Area",
	"PieChart", "Pie", "Cell", "RadarChart", "Radar", "PolarGrid", "PolarAngleAxis",
	"XAxis", "YAxis", "CartesianGrid", "ChartTooltip", "Legend",
}

var icons = []string{
	"Activity", "AlertCircle", "AlertTriangle", "ArrowDown", "ArrowRight", "ArrowUp", "Award",
	"BarChart3", "Book", "Calendar", "Check", "CheckCircle", "ChevronDown", "ChevronRight",
	"Clock", "Cloud", "CloudRain", "CloudSnow", "Code", "Compass", "Cpu", "Database",
	"DollarSign", "Droplets", "Flame", "Globe", "Heart", "Home", "Info", "Leaf", "Lightbulb",
	"Link", "MapPin", "Minus", "Moon", "Music", "Plus", "RefreshCw", "Search", "Settings",
	"Shield", "Sparkles", "Star", "Sun", "Sunrise", "Sunset", "Target", "Thermometer",
	"Timer", "TrendingDown", "TrendingUp", "Trophy", "User", "Users", "Wind", "X", "Zap",
}

var motionTags = []string{
	"div", "span", "section", "article", "ul", "li", "p", "h1", "h2", "h3", "button", "img", "svg", "path",
}

var hooks = []string{"useState", "useEffect", "useLayoutEffect", "useMemo", "useCallback", "useRef", "useReducer"}

var helpers = []string{"cn", "formatNumber", "formatCurrency", "formatPercent", "formatDate", "clamp"}

var timers = []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"}

var globals = []string{
	"Math", "Object", "Array", "JSON", "Number", "String", "Boolean", "Date", "RegExp", "Map", "Set",
	"Symbol", "Error", "TypeError", "RangeError", "Promise",
	"parseInt", "parseFloat", "isNaN", "isFinite", "encodeURIComponent", "decodeURIComponent",
	"Infinity", "NaN", "undefined", "console",
}

// Catalog is an immutable, enumerable set of entries.
type Catalog struct {
	entries []Entry
	byName  map[string]Entry
}

var defaultCatalog = build()

// Default returns the shared catalog. It is never mutated after init.
func Default() *Catalog { return defaultCatalog }

func build() *Catalog {
	c := &Catalog{byName: make(map[string]Entry)}
	add := func(e Entry) {
		c.entries = append(c.entries, e)
		c.byName[e.Name] = e
	}
	for _, n := range components {
		add(Entry{Name: n, Kind: KindComponent})
	}
	for _, n := range charts {
		add(Entry{Name: n, Kind: KindChart})
	}
	add(Entry{Name: "Icons", Kind: KindNamespace, Members: icons})
	add(Entry{Name: "motion", Kind: KindNamespace, Members: motionTags})
	reactMembers := append([]string{"createElement", "Fragment"}, hooks...)
	add(Entry{Name: "React", Kind: KindNamespace, Members: reactMembers})
	add(Entry{Name: "Fragment", Kind: KindComponent})
	for _, n := range hooks {
		add(Entry{Name: n, Kind: KindHook})
	}
	for _, n := range helpers {
		add(Entry{Name: n, Kind: KindHelper})
	}
	for _, n := range timers {
		add(Entry{Name: n, Kind: KindTimer})
	}
	for _, n := range globals {
		add(Entry{Name: n, Kind: KindGlobal})
	}
	add(Entry{Name: DataBinding, Kind: KindData})
	return c
}

// Has reports whether name is exposed.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	e, ok := c.byName[name]
	return e, ok
}

// HasMember reports whether ns.member is exposed.
func (c *Catalog) HasMember(ns, member string) bool {
	e, ok := c.byName[ns]
	if !ok || e.Kind != KindNamespace {
		return false
	}
	for _, m := range e.Members {
		if m == member {
			return true
		}
	}
	return false
}

// Entries returns a copy of every entry in declaration order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Names returns the names of the given kinds, sorted. No kinds means every kind.
func (c *Catalog) Names(kinds ...Kind) []string {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var out []string
	for _, e := range c.entries {
		if len(kinds) == 0 || want[e.Kind] {
			out = append(out, e.Name)
		}
	}
	sort.Strings(out)
	return out
}

// IsIcon reports whether name is an icon member.
func (c *Catalog) IsIcon(name string) bool { return c.HasMember("Icons", name) }

// Describe renders the catalog for inclusion in a generation prompt.
func (c *Catalog) Describe() string {
	var sb strings.Builder
	sb.WriteString("Available components: ")
	sb.WriteString(strings.Join(c.Names(KindComponent), ", "))
	sb.WriteString("\nChart primitives: ")
	sb.WriteString(strings.Join(c.Names(KindChart), ", "))
	sb.WriteString("\nIcons (use as <Icons.Name />): ")
	e := c.byName["Icons"]
	sb.WriteString(strings.Join(e.Members, ", "))
	sb.WriteString("\nAnimation: motion.div, motion.span, motion.li and the other motion.<tag> elements, AnimatePresence")
	sb.WriteString("\nHooks: ")
	sb.WriteString(strings.Join(c.Names(KindHook), ", "))
	sb.WriteString("\nHelpers: ")
	sb.WriteString(strings.Join(c.Names(KindHelper), ", "))
	sb.WriteString("\nThe request data is available as the global `data`.")
	return sb.String()
}
