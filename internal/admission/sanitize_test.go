package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString_StripsScriptTags(t *testing.T) {
	t.Parallel()
	out := SanitizeString(`<script>alert(1)</script>`)
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "</script")
}

func TestSanitizeString_CaseInsensitive(t *testing.T) {
	t.Parallel()
	out := SanitizeString(`<ScRiPt>alert(1)</SCRIPT>`)
	assert.NotContains(t, out, "ScRiPt")
	assert.NotContains(t, out, "SCRIPT")
}

func TestSanitizeString_StripsEventHandlers(t *testing.T) {
	t.Parallel()
	assert.NotContains(t, SanitizeString(`<img src=x onerror=alert(1)>`), "onerror=")
	assert.NotContains(t, SanitizeString(`<body onload = boom()>`), "onload")
}

func TestSanitizeString_StripsProtocolPrefixes(t *testing.T) {
	t.Parallel()
	assert.NotContains(t, SanitizeString(`javascript:alert(1)`), "javascript:")
	assert.NotContains(t, SanitizeString(`JAVASCRIPT:alert(1)`), "JAVASCRIPT:")
	assert.NotContains(t, SanitizeString(`data:text/html,<b>`), "data:text/html")
}

func TestSanitizeString_LeavesCleanContentAlone(t *testing.T) {
	t.Parallel()
	in := "what is the BTC/USD outlook for Q3? my loaded question < your onion"
	assert.Equal(t, in, SanitizeString(in))
}

func TestSanitizeValue_WalksNestedStructures(t *testing.T) {
	t.Parallel()
	in := map[string]any{
		"messages": []any{
			map[string]any{
				"role":    "user",
				"content": `hi <script>alert(1)</script> there`,
			},
		},
		"temperature": 0.7,
	}

	out := SanitizeValue(in).(map[string]any)
	messages := out["messages"].([]any)
	content := messages[0].(map[string]any)["content"].(string)

	assert.NotContains(t, content, "<script")
	assert.Contains(t, content, "hi ")
	assert.Contains(t, content, " there")
	assert.Equal(t, 0.7, out["temperature"])
}
