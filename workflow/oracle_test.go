// ABOUTME: Tests for the fence-tolerant oracle JSON decoder.
package workflow

import (
	"testing"
)

func TestDecodeOracleJSON(t *testing.T) {
	type doc struct {
		Name string `json:"name"`
	}

	tests := []struct {
		label   string
		text    string
		want    string
		wantErr bool
	}{
		{label: "plain", text: `{"name": "a"}`, want: "a"},
		{label: "json fence", text: "```json\n{\"name\": \"b\"}\n```", want: "b"},
		{label: "bare fence", text: "```\n{\"name\": \"c\"}\n```", want: "c"},
		{label: "preamble", text: "Here is the result:\n{\"name\": \"d\"}\nHope that helps!", want: "d"},
		{label: "no json", text: "I cannot answer that.", wantErr: true},
		{label: "broken json", text: `{"name": `, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			var out doc
			err := decodeOracleJSON(tt.text, &out)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeOracleJSON(%q) = nil error, want error", tt.text)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeOracleJSON(%q) error = %v", tt.text, err)
			}
			if out.Name != tt.want {
				t.Errorf("name = %q, want %q", out.Name, tt.want)
			}
		})
	}
}
