package sandbox

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.English)

const missingValue = "-"

var currencySymbols = map[string]string{
	"USD": "$", "EUR": "€", "GBP": "£", "JPY": "¥", "CNY": "¥", "INR": "₹", "KRW": "₩",
}

// zeroDecimalCurrencies are printed without minor units.
var zeroDecimalCurrencies = map[string]bool{"JPY": true, "KRW": true}

// helpers are the formatting utilities a component may call during render.
func (st *renderState) helpers() map[string]native {
	vm := st.vm
	return map[string]native{
		"cn": func(call goja.FunctionCall) goja.Value {
			var classes []string
			for _, a := range call.Arguments {
				classes = appendClasses(classes, a, 0)
			}
			return vm.ToValue(strings.Join(classes, " "))
		},
		"formatNumber": func(call goja.FunctionCall) goja.Value {
			v, ok := finite(call.Argument(0))
			if !ok {
				return vm.ToValue(missingValue)
			}
			opts := []number.Option{number.MaxFractionDigits(2)}
			if d, set := digits(call.Argument(1)); set {
				opts = []number.Option{number.MinFractionDigits(d), number.MaxFractionDigits(d)}
			}
			return vm.ToValue(printer.Sprint(number.Decimal(v, opts...)))
		},
		"formatCurrency": func(call goja.FunctionCall) goja.Value {
			v, ok := finite(call.Argument(0))
			if !ok {
				return vm.ToValue(missingValue)
			}
			code := "USD"
			if a := call.Argument(1); !isNullish(a) {
				code = strings.ToUpper(a.String())
			}
			return vm.ToValue(formatCurrency(v, code))
		},
		"formatPercent": func(call goja.FunctionCall) goja.Value {
			v, ok := finite(call.Argument(0))
			if !ok {
				return vm.ToValue(missingValue)
			}
			d, _ := digits(call.Argument(1))
			// values above one are already percentages
			if math.Abs(v) > 1 {
				v /= 100
			}
			return vm.ToValue(printer.Sprint(number.Percent(v,
				number.MinFractionDigits(d), number.MaxFractionDigits(d))))
		},
		"formatDate": func(call goja.FunctionCall) goja.Value {
			t, ok := parseTime(call.Argument(0))
			if !ok {
				return vm.ToValue(missingValue)
			}
			layout := "Jan 2, 2006"
			switch strings.ToLower(call.Argument(1).String()) {
			case "short":
				layout = "01/02/2006"
			case "long":
				layout = "January 2, 2006"
			case "time":
				layout = "15:04"
			case "datetime":
				layout = "Jan 2, 2006 15:04"
			}
			return vm.ToValue(t.Format(layout))
		},
		"clamp": func(call goja.FunctionCall) goja.Value {
			v := call.Argument(0).ToFloat()
			lo := call.Argument(1).ToFloat()
			hi := call.Argument(2).ToFloat()
			if lo > hi {
				lo, hi = hi, lo
			}
			return vm.ToValue(math.Min(math.Max(v, lo), hi))
		},
	}
}

func formatCurrency(v float64, code string) string {
	d := 2
	if zeroDecimalCurrencies[code] {
		d = 0
	}
	amount := printer.Sprint(number.Decimal(math.Abs(v),
		number.MinFractionDigits(d), number.MaxFractionDigits(d)))
	sign := ""
	if v < 0 {
		sign = "-"
	}
	if sym, ok := currencySymbols[code]; ok {
		return sign + sym + amount
	}
	return sign + code + " " + amount
}

// appendClasses flattens cn arguments: strings and numbers are kept, arrays recurse and
// object keys are kept when their value is truthy.
func appendClasses(out []string, v goja.Value, depth int) []string {
	if isNullish(v) || depth > 4 {
		return out
	}
	obj, isObj := v.(*goja.Object)
	if !isObj {
		if !v.ToBoolean() {
			return out
		}
		if _, isBool := v.Export().(bool); isBool {
			return out
		}
		return append(out, strings.Fields(v.String())...)
	}
	if obj.ClassName() == "Array" {
		n := int(obj.Get("length").ToInteger())
		for i := 0; i < n; i++ {
			out = appendClasses(out, obj.Get(strconv.Itoa(i)), depth+1)
		}
		return out
	}
	for _, k := range obj.Keys() {
		if obj.Get(k).ToBoolean() {
			out = append(out, k)
		}
	}
	return out
}

func finite(v goja.Value) (float64, bool) {
	if isNullish(v) {
		return 0, false
	}
	f := v.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func digits(v goja.Value) (int, bool) {
	if isNullish(v) {
		return 0, false
	}
	d := int(v.ToInteger())
	if d < 0 {
		d = 0
	}
	if d > 10 {
		d = 10
	}
	return d, true
}

// parseTime accepts epoch milliseconds, RFC 3339 strings, plain dates and Date objects.
func parseTime(v goja.Value) (time.Time, bool) {
	if isNullish(v) {
		return time.Time{}, false
	}
	if t, ok := v.Export().(time.Time); ok {
		return t.UTC(), true
	}
	switch x := v.Export().(type) {
	case int64:
		return time.UnixMilli(x).UTC(), true
	case float64:
		return time.UnixMilli(int64(x)).UTC(), true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
