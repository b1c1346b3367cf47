package commands

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestConfigSchemaCommandEmitsValidJSONSchema(t *testing.T) {
	root := GetRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"config", "schema"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(buf.Bytes(), &schema); err != nil {
		t.Fatalf("schema output is not valid JSON: %v", err)
	}
	if schema["title"] != "btstack Configuration" {
		t.Fatalf("title = %v", schema["title"])
	}
	if _, ok := schema["properties"]; !ok {
		t.Fatalf("schema missing properties: %v", schema)
	}
}
