package cliutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintTable(t *testing.T) {
	data := NewTableData("DEV", "NAME", "POWERED")
	data.AddRow("0", "adapter0", "true")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, data))
	assert.Contains(t, buf.String(), "adapter0")
	assert.Contains(t, buf.String(), "DEV")
}

func TestPrinterPrintFallsBackToJSONWithoutRenderer(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatTable)
	require.NoError(t, p.Print(map[string]int{"a": 1}))
	assert.Contains(t, buf.String(), `"a": 1`)
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON)
	require.NoError(t, p.Print(struct {
		Name string `json:"name"`
	}{Name: "adapter0"}))
	assert.Contains(t, buf.String(), `"name": "adapter0"`)
}

func TestPrinterYAML(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatYAML)
	require.NoError(t, p.Print(struct {
		Name string `yaml:"name"`
	}{Name: "adapter0"}))
	assert.Contains(t, buf.String(), "name: adapter0")
}
