// Package event extracts field-level changes between two versions of a
// record for audit and event payloads.
package event

type FieldExtractor interface {
	ExtractFields(obj interface{}, fields []string) map[string]interface{}
	ExtractChanges(old, new interface{}, fields []string) map[string]interface{}
}
