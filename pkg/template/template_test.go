package template

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clubflow/clubflow/pkg/models"
)

func TestRender(t *testing.T) {
	rc := models.NewContext()
	rc.SetNamespace("lead", map[string]any{
		"nome":   "Acme",
		"valore": float64(1500),
	})
	rc.Set("source", "fiera")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple path", "{{lead.nome}}", "Acme"},
		{"whitespace tolerant", "Ciao {{ lead.nome }}!", "Ciao Acme!"},
		{"root key", "from {{source}}", "from fiera"},
		{"numeric value", "valore: {{lead.valore}}", "valore: 1500"},
		{"missing path", "{{missing.path}}", ""},
		{"missing leaf", "[{{lead.email}}]", "[]"},
		{"multiple fields", "{{lead.nome}} / {{source}}", "Acme / fiera"},
		{"no placeholders", "plain text", "plain text"},
		{"unterminated", "oops {{lead.nome", "oops {{lead.nome"},
		{"empty placeholder", "x{{}}y", "xy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.in, rc))
		})
	}
}

func TestRenderEmptyContext(t *testing.T) {
	assert.Equal(t, "", Render("{{missing.path}}", models.NewContext()))
}

func TestRenderNonMappingIntermediate(t *testing.T) {
	rc := models.NewContext()
	rc.Set("flat", "value")

	assert.Equal(t, "", Render("{{flat.nested}}", rc))
}
