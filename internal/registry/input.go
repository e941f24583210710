package registry

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Input is what a handler receives for one run.
type Input struct {
	NodeID     string
	Prototype  string
	Properties map[string]cty.Value
	// Out is where handlers write user-facing output.
	Out io.Writer
}

// Decode fills the struct pointed to by target from the input properties.
// Fields are matched through their `filter:"name"` tag; a field tagged
// `filter:"name,optional"` keeps its current value when the property is
// absent. Properties that match no field are rejected.
func (in *Input) Decode(ctx context.Context, target any) error {
	logger := ctxlog.FromContext(ctx)

	structVal := reflect.ValueOf(target)
	if structVal.Kind() != reflect.Ptr || structVal.IsNil() || structVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a non-nil pointer to a struct, got %T", target)
	}
	structVal = structVal.Elem()
	structType := structVal.Type()

	used := make(map[string]bool, len(in.Properties))
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		tag := field.Tag.Get("filter")
		if tag == "" || !structVal.Field(i).CanSet() {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		optional := opts == "optional"

		val, ok := in.Properties[name]
		if !ok || val.IsNull() {
			if !optional {
				return fmt.Errorf("missing required property %q", name)
			}
			continue
		}
		used[name] = true

		if err := decodeValue(val, structVal.Field(i).Addr().Interface()); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		logger.Debug("Decoded property.", "property", name, "type", val.Type().FriendlyName())
	}

	var unknown []string
	for name := range in.Properties {
		if !used[name] {
			if _, declared := fieldByTag(structType, name); !declared {
				unknown = append(unknown, name)
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unsupported properties: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func fieldByTag(t reflect.Type, name string) (int, bool) {
	for i := 0; i < t.NumField(); i++ {
		tagName, _, _ := strings.Cut(t.Field(i).Tag.Get("filter"), ",")
		if tagName == name {
			return i, true
		}
	}
	return 0, false
}

// decodeValue converts val to the cty type implied by the Go target and
// decodes it. cty.Value targets receive the value unchanged.
func decodeValue(val cty.Value, goVal any) error {
	if p, ok := goVal.(*cty.Value); ok {
		*p = val
		return nil
	}

	impliedType, err := gocty.ImpliedType(reflect.ValueOf(goVal).Elem().Interface())
	if err != nil {
		return gocty.FromCtyValue(val, goVal)
	}

	converted, err := convert.Convert(val, impliedType)
	if err != nil {
		return fmt.Errorf("cannot convert %s to required type %s: %w", val.Type().FriendlyName(), impliedType.FriendlyName(), err)
	}
	return gocty.FromCtyValue(converted, goVal)
}
