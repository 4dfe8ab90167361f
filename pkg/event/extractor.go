package event

import (
	"reflect"
	"strings"
)

type DefaultFieldExtractor struct{}

// ExtractFields returns the named fields of obj keyed by their json name.
func (e *DefaultFieldExtractor) ExtractFields(obj interface{}, fields []string) map[string]interface{} {
	result := make(map[string]interface{})
	if obj == nil || len(fields) == 0 {
		return result
	}

	val := reflect.ValueOf(obj)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return result
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return result
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "" {
			jsonTag = strings.ToLower(field.Name)
		}
		jsonTag = strings.Split(jsonTag, ",")[0]

		if contains(fields, jsonTag) {
			result[jsonTag] = val.Field(i).Interface()
		}
	}
	return result
}

// ExtractChanges returns {"old", "new"} pairs for the named fields that
// differ between old and new.
func (e *DefaultFieldExtractor) ExtractChanges(old, new interface{}, fields []string) map[string]interface{} {
	changes := make(map[string]interface{})
	if old == nil || new == nil || len(fields) == 0 {
		return changes
	}

	oldFields := e.ExtractFields(old, fields)
	newFields := e.ExtractFields(new, fields)

	for field, newValue := range newFields {
		if oldValue, exists := oldFields[field]; exists {
			if !reflect.DeepEqual(oldValue, newValue) {
				changes[field] = map[string]interface{}{
					"old": oldValue,
					"new": newValue,
				}
			}
		}
	}
	return changes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
