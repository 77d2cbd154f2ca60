package structured_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/mathmentor/internal/structured"
)

type routing struct {
	Topic    string `json:"topic"`
	Strategy string `json:"strategy"`
}

var routingSchema = structured.MustCompileSchema("routing.json", []byte(`{
	"type": "object",
	"required": ["topic", "strategy"],
	"properties": {
		"topic": {"type": "string", "minLength": 1},
		"strategy": {"type": "string"}
	}
}`))

func routingDecoder() structured.Decoder[routing] {
	return structured.Decoder[routing]{
		Stage:  "router",
		Schema: routingSchema,
		Default: func(string) routing {
			return routing{Topic: "algebra", Strategy: "symbolic"}
		},
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, false},
		{"commentary", "Sure! {\"a\":1} hope that helps", `{"a":1}`, false},
		{"fenced json", "Here is the result:\n```json\n{\"a\":1}\n```\nDone.", `{"a":1}`, false},
		{"fenced without info string", "```\n{\"a\":1}\n```", `{"a":1}`, false},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`, false},
		{"nested", `x {"a":{"b":[1,2]}} y`, `{"a":{"b":[1,2]}}`, false},
		{"braces in strings", `{"s":"}{ \" }"}`, `{"s":"}{ \" }"}`, false},
		{"skips invalid span", `set {x} then {"a":1}`, `{"a":1}`, false},
		{"second fence holds json", "```text\nno json\n```\n```json\n{\"a\":2}\n```", `{"a":2}`, false},
		{"truncated", `{"a": {"b": 1`, "", true},
		{"no object", "I cannot answer that.", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := structured.Extract(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, structured.ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_WellFormed(t *testing.T) {
	res := routingDecoder().Decode(`{"topic":"calculus","strategy":"numerical","extra":true}`)
	assert.False(t, res.Recovered)
	assert.Nil(t, res.Err)
	assert.Equal(t, routing{Topic: "calculus", Strategy: "numerical"}, res.Value)
}

func TestDecode_FencedEqualsBare(t *testing.T) {
	bare := `{"topic":"probability","strategy":"heuristic"}`
	fenced := "Here is the result:\n```json\n" + bare + "\n```"

	d := routingDecoder()
	a := d.Decode(bare)
	b := d.Decode(fenced)
	assert.False(t, b.Recovered)
	assert.Equal(t, a, b)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"prose", "The topic is algebra."},
		{"truncated", `{"topic": "calculus", "strategy": `},
		{"schema violation", `{"topic": "", "strategy": "symbolic"}`},
		{"missing field", `{"topic": "calculus"}`},
		{"wrong type", `{"topic": 7, "strategy": "symbolic"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := routingDecoder().Decode(tt.raw)
			require.True(t, res.Recovered)
			require.NotNil(t, res.Err)
			assert.Equal(t, "router", res.Err.Stage)
			assert.Equal(t, tt.raw, res.Err.Raw)
			assert.Equal(t, routing{Topic: "algebra", Strategy: "symbolic"}, res.Value)
		})
	}
}

func TestDecode_NoJSONUnwraps(t *testing.T) {
	res := routingDecoder().Decode("nothing here")
	require.NotNil(t, res.Err)
	assert.True(t, errors.Is(res.Err, structured.ErrNoJSON))
}

func TestDecode_NilSchemaAndDefault(t *testing.T) {
	d := structured.Decoder[map[string]any]{Stage: "evaluator"}
	res := d.Decode("```json\n{\"clarity\": 80}\n```")
	assert.False(t, res.Recovered)
	assert.Equal(t, 80.0, res.Value["clarity"])

	res = d.Decode("not json")
	assert.True(t, res.Recovered)
	assert.Nil(t, res.Value)
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := structured.CompileSchema("bad.json", []byte(`{`))
	assert.Error(t, err)
}
