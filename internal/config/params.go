package config

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// BindParams overwrites the fields of dst (a pointer to a params struct already
// holding its documented defaults) from the raw parameter dictionary. Keys are
// the fields' json names; bounds come from the minimum/maximum entries of the
// jsonschema tag. A value that is missing keeps the default silently; a value
// that does not parse or is out of bounds keeps the default and yields a warning.
func BindParams(dst any, raw map[string]any) []string {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return []string{fmt.Sprintf("BindParams: %T is not a pointer to struct", dst)}
	}
	rv = rv.Elem()
	rt := rv.Type()

	var warnings []string
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		key := jsonName(field)
		if key == "" || !field.IsExported() {
			continue
		}
		value, ok := raw[key]
		if !ok || value == nil {
			continue
		}
		lo, hi := bounds(field.Tag.Get("jsonschema"))
		fv := rv.Field(i)
		if err := assign(fv, value, lo, hi); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v, using default %v", key, err, fv.Interface()))
		}
	}
	return warnings
}

// Schema returns the JSON schema of a params struct.
func Schema[T any](t T) (string, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	schema := r.Reflect(t)

	data, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

func bounds(tag string) (lo, hi float64) {
	lo, hi = math.Inf(-1), math.Inf(1)
	for _, part := range strings.Split(tag, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			continue
		}
		switch strings.TrimSpace(k) {
		case "minimum":
			lo = f
		case "maximum":
			hi = f
		}
	}
	return lo, hi
}

func assign(fv reflect.Value, value any, lo, hi float64) error {
	switch fv.Kind() {
	case reflect.Int, reflect.Int64:
		n, err := toInt(value)
		if err != nil {
			return err
		}
		if float64(n) < lo || float64(n) > hi {
			return fmt.Errorf("%d out of range [%g, %g]", n, lo, hi)
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := toFloat(value)
		if err != nil {
			return err
		}
		if f < lo || f > hi {
			return fmt.Errorf("%g out of range [%g, %g]", f, lo, hi)
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := toBool(value)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.String:
		fv.SetString(strings.TrimSpace(fmt.Sprint(value)))
	case reflect.Slice:
		items, err := toList(value)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("empty list")
		}
		out := reflect.MakeSlice(fv.Type(), 0, len(items))
		for _, item := range items {
			elem := reflect.New(fv.Type().Elem()).Elem()
			if err := assign(elem, item, lo, hi); err != nil {
				return err
			}
			out = reflect.Append(out, elem)
		}
		fv.Set(out)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, fmt.Errorf("invalid number %q", x)
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return 0, fmt.Errorf("invalid number %q", x)
		}
	default:
		return 0, fmt.Errorf("invalid number %v (%T)", v, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number %v", v)
	}
	return f, nil
}

func toInt(v any) (int64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid integer %v", v)
	}
	return int64(f), nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("invalid bool %q", x)
	default:
		f, err := toFloat(v)
		if err != nil {
			return false, fmt.Errorf("invalid bool %v", v)
		}
		return f != 0, nil
	}
}

// toList accepts JSON arrays, Go slices and comma separated strings.
func toList(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []float64:
		out := make([]any, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, nil
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, nil
	case string:
		s := strings.TrimSpace(x)
		if strings.HasPrefix(s, "[") {
			var items []any
			if err := json.Unmarshal([]byte(s), &items); err != nil {
				return nil, fmt.Errorf("invalid list %q", x)
			}
			return items, nil
		}
		var items []any
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("invalid list %v (%T)", v, v)
	}
}
