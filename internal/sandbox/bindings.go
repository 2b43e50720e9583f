package sandbox

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"genui/internal/catalog"
	"genui/internal/logging"
	"genui/internal/uitree"
)

const (
	maxExportDepth = 12
	maxLogLines    = 50
)

var nodeType = reflect.TypeOf((*uitree.Node)(nil))

// renderState is the per-render bookkeeping shared by the native bindings.
type renderState struct {
	vm        *goja.Runtime
	depth     int // component calls currently on the stack
	effects   int
	timers    int
	nextTimer int64
	logs      []string
}

func newRenderState(vm *goja.Runtime) *renderState {
	return &renderState{vm: vm}
}

// native is an alias so goja recognises bindings as native functions.
type native = func(goja.FunctionCall) goja.Value

// install strips every interpreter global the catalog does not name (eval and Function
// included) and defines exactly the catalog's names. A catalog entry without a binding is an
// error, so the catalog and the sandbox cannot drift apart silently.
func install(vm *goja.Runtime, st *renderState, cat *catalog.Catalog, data any) error {
	if err := stripGlobals(vm, cat); err != nil {
		return err
	}

	hooks := st.hooks()
	helpers := st.helpers()
	timers := st.timerFuncs()

	for _, e := range cat.Entries() {
		var value any
		switch e.Kind {
		case catalog.KindComponent, catalog.KindChart:
			value = e.Name
		case catalog.KindNamespace:
			obj, err := st.namespace(e, hooks)
			if err != nil {
				return err
			}
			value = obj
		case catalog.KindHook:
			fn, ok := hooks[e.Name]
			if !ok {
				return fmt.Errorf("catalog hook %s has no sandbox binding", e.Name)
			}
			value = fn
		case catalog.KindHelper:
			fn, ok := helpers[e.Name]
			if !ok {
				return fmt.Errorf("catalog helper %s has no sandbox binding", e.Name)
			}
			value = fn
		case catalog.KindTimer:
			fn, ok := timers[e.Name]
			if !ok {
				return fmt.Errorf("catalog timer %s has no sandbox binding", e.Name)
			}
			value = fn
		case catalog.KindGlobal:
			if e.Name == "console" {
				value = st.console()
				break
			}
			if e.Name != "undefined" && vm.Get(e.Name) == nil {
				return fmt.Errorf("catalog global %s is not provided by the interpreter", e.Name)
			}
			continue
		case catalog.KindData:
			v, err := injectData(vm, data)
			if err != nil {
				return err
			}
			value = v
		default:
			return fmt.Errorf("catalog entry %s has unsupported kind %s", e.Name, e.Kind)
		}
		if err := vm.Set(e.Name, value); err != nil {
			return fmt.Errorf("failed to bind %s: %w", e.Name, err)
		}
	}
	return nil
}

// stripGlobals deletes the own properties of the global object that are not catalog names.
func stripGlobals(vm *goja.Runtime, cat *catalog.Catalog) error {
	v, err := vm.RunString("Object.getOwnPropertyNames(globalThis)")
	if err != nil {
		return fmt.Errorf("failed to list globals: %w", err)
	}
	var names []string
	if err := vm.ExportTo(v, &names); err != nil {
		return fmt.Errorf("failed to list globals: %w", err)
	}
	global := vm.GlobalObject()
	for _, name := range names {
		if cat.Has(name) {
			continue
		}
		if err := global.Delete(name); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func (st *renderState) namespace(e catalog.Entry, hooks map[string]native) (*goja.Object, error) {
	obj := st.vm.NewObject()
	for _, m := range e.Members {
		var value any
		switch {
		case e.Name == "React" && m == "createElement":
			value = st.createElement
		case e.Name == "React" && m == "Fragment":
			value = uitree.FragmentType
		case e.Name == "React":
			fn, ok := hooks[m]
			if !ok {
				return nil, fmt.Errorf("catalog member React.%s has no sandbox binding", m)
			}
			value = fn
		default:
			value = e.Name + "." + m
		}
		if err := obj.Set(m, value); err != nil {
			return nil, fmt.Errorf("failed to bind %s.%s: %w", e.Name, m, err)
		}
	}
	return obj, nil
}

// injectData parses the JSON encoding of data inside the runtime, so the program only ever
// sees its own copy.
func injectData(vm *goja.Runtime, data any) (goja.Value, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}
	parse, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse is unavailable")
	}
	v, err := parse(goja.Undefined(), vm.ToValue(string(b)))
	if err != nil {
		return nil, fmt.Errorf("failed to inject data: %w", err)
	}
	return v, nil
}

// createElement implements React.createElement for string types and component functions.
func (st *renderState) createElement(call goja.FunctionCall) goja.Value {
	vm := st.vm
	typ := call.Argument(0)
	props := call.Argument(1)
	var children []goja.Value
	if len(call.Arguments) > 2 {
		children = call.Arguments[2:]
	}

	if s, ok := typ.Export().(string); ok && !isObject(typ) {
		node := &uitree.Node{Type: s}
		hasChildren := st.fillProps(node, props)
		if len(children) == 0 && hasChildren {
			children = []goja.Value{props.ToObject(vm).Get("children")}
		}
		for _, c := range children {
			if err := st.appendChild(node, c); err != nil {
				panic(vm.NewTypeError(err.Error()))
			}
		}
		return vm.ToValue(node)
	}

	if fn, ok := goja.AssertFunction(typ); ok {
		arg := vm.NewObject()
		if !isNullish(props) {
			src := props.ToObject(vm)
			for _, k := range src.Keys() {
				_ = arg.Set(k, src.Get(k))
			}
		}
		switch len(children) {
		case 0:
		case 1:
			_ = arg.Set("children", children[0])
		default:
			items := make([]any, len(children))
			for i, c := range children {
				items[i] = c
			}
			_ = arg.Set("children", vm.NewArray(items...))
		}
		st.depth++
		defer func() { st.depth-- }()
		out, err := fn(goja.Undefined(), arg)
		if err != nil {
			panic(err)
		}
		return out
	}

	panic(vm.NewTypeError("element type is invalid: expected a component name or function but got %s", describe(typ)))
}

// fillProps copies props onto node, recording functions as handlers. It reports whether
// props carries a children value.
func (st *renderState) fillProps(node *uitree.Node, props goja.Value) bool {
	if isNullish(props) {
		return false
	}
	obj := props.ToObject(st.vm)
	hasChildren := false
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		if k == "children" {
			hasChildren = !isNullish(v)
			continue
		}
		if _, isFn := goja.AssertFunction(v); isFn {
			node.Handlers = append(node.Handlers, k)
			continue
		}
		ex, ok := exportValue(v, 0)
		if !ok {
			continue
		}
		if node.Props == nil {
			node.Props = make(map[string]any)
		}
		node.Props[k] = ex
	}
	sort.Strings(node.Handlers)
	return hasChildren
}

// appendChild normalizes one child value: arrays flatten, null/undefined/booleans vanish,
// strings and numbers become text, elements are appended and plain objects are rejected.
func (st *renderState) appendChild(parent *uitree.Node, v goja.Value) error {
	if isNullish(v) {
		return nil
	}
	obj, isObj := v.(*goja.Object)
	if !isObj {
		switch v.Export().(type) {
		case bool:
			return nil
		default:
			parent.Children = append(parent.Children, uitree.NewText(v.String()))
			return nil
		}
	}
	if obj.ExportType() == nodeType {
		parent.Children = append(parent.Children, obj.Export().(*uitree.Node))
		return nil
	}
	if obj.ClassName() == "Array" {
		n := int(obj.Get("length").ToInteger())
		for i := 0; i < n; i++ {
			if err := st.appendChild(parent, obj.Get(strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return fmt.Errorf("functions are not valid as a child of %s", parent.Type)
	}
	return fmt.Errorf("objects are not valid as a child of %s (found: object with keys {%s})",
		parent.Type, strings.Join(obj.Keys(), ", "))
}

// root turns the anchor's return value into a single tree.
func (st *renderState) root(v goja.Value) (*uitree.Node, error) {
	if obj, ok := v.(*goja.Object); ok && obj.ExportType() == nodeType {
		return obj.Export().(*uitree.Node), nil
	}
	frag := &uitree.Node{Type: uitree.FragmentType}
	if err := st.appendChild(frag, v); err != nil {
		return nil, err
	}
	return frag, nil
}

// exportValue converts a prop value to plain Go data. Functions are dropped.
func exportValue(v goja.Value, depth int) (any, bool) {
	if v == nil || goja.IsUndefined(v) {
		return nil, false
	}
	if goja.IsNull(v) {
		return nil, true
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return nil, false
	}
	obj, isObj := v.(*goja.Object)
	if !isObj {
		return v.Export(), true
	}
	if obj.ExportType() == nodeType {
		return obj.Export(), true
	}
	if depth >= maxExportDepth {
		return nil, false
	}
	switch obj.ClassName() {
	case "Array":
		n := int(obj.Get("length").ToInteger())
		out := make([]any, 0, n)
		for i := 0; i < n; i++ {
			item, ok := exportValue(obj.Get(strconv.Itoa(i)), depth+1)
			if !ok {
				item = nil
			}
			out = append(out, item)
		}
		return out, true
	case "Object":
		out := make(map[string]any)
		for _, k := range obj.Keys() {
			if item, ok := exportValue(obj.Get(k), depth+1); ok {
				out[k] = item
			}
		}
		return out, true
	default:
		return v.String(), true
	}
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func isObject(v goja.Value) bool {
	_, ok := v.(*goja.Object)
	return ok
}

func describe(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	case isObject(v):
		return "object"
	default:
		return fmt.Sprintf("%T", v.Export())
	}
}

func (st *renderState) requireRender(name string) {
	if st.depth == 0 {
		panic(st.vm.NewTypeError("%s can only be called while a component renders", name))
	}
}

// hooks implement a single server-side render: state is the initial value, setters and
// dispatchers do nothing, effects are counted but never run.
func (st *renderState) hooks() map[string]native {
	vm := st.vm
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	initial := func(v goja.Value) goja.Value {
		if fn, ok := goja.AssertFunction(v); ok {
			out, err := fn(goja.Undefined())
			if err != nil {
				panic(err)
			}
			return out
		}
		return v
	}
	effect := func(name string) native {
		return func(call goja.FunctionCall) goja.Value {
			st.requireRender(name)
			st.effects++
			return goja.Undefined()
		}
	}
	return map[string]native{
		"useState": func(call goja.FunctionCall) goja.Value {
			st.requireRender("useState")
			return vm.NewArray(initial(call.Argument(0)), noop)
		},
		"useReducer": func(call goja.FunctionCall) goja.Value {
			st.requireRender("useReducer")
			state := call.Argument(1)
			if fn, ok := goja.AssertFunction(call.Argument(2)); ok {
				out, err := fn(goja.Undefined(), state)
				if err != nil {
					panic(err)
				}
				state = out
			}
			return vm.NewArray(state, noop)
		},
		"useEffect":       effect("useEffect"),
		"useLayoutEffect": effect("useLayoutEffect"),
		"useMemo": func(call goja.FunctionCall) goja.Value {
			st.requireRender("useMemo")
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("useMemo expects a function"))
			}
			out, err := fn(goja.Undefined())
			if err != nil {
				panic(err)
			}
			return out
		},
		"useCallback": func(call goja.FunctionCall) goja.Value {
			st.requireRender("useCallback")
			return call.Argument(0)
		},
		"useRef": func(call goja.FunctionCall) goja.Value {
			st.requireRender("useRef")
			ref := vm.NewObject()
			_ = ref.Set("current", call.Argument(0))
			return ref
		},
	}
}

// timerFuncs hand out ids but never schedule anything.
func (st *renderState) timerFuncs() map[string]native {
	schedule := func(call goja.FunctionCall) goja.Value {
		if _, ok := goja.AssertFunction(call.Argument(0)); !ok {
			panic(st.vm.NewTypeError("timer callback must be a function"))
		}
		st.timers++
		st.nextTimer++
		return st.vm.ToValue(st.nextTimer)
	}
	cancel := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	return map[string]native{
		"setTimeout":    schedule,
		"setInterval":   schedule,
		"clearTimeout":  cancel,
		"clearInterval": cancel,
	}
}

func (st *renderState) console() *goja.Object {
	obj := st.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = obj.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				parts = append(parts, a.String())
			}
			line := level + ": " + strings.Join(parts, " ")
			if len(st.logs) < maxLogLines {
				st.logs = append(st.logs, line)
			}
			logging.SandboxDebug("component console %s", line)
			return goja.Undefined()
		})
	}
	return obj
}
