package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const saveButton = `button.btn.primary:attr__class="btn primary"attr__id="save"attr_id="save"nth-child="2"nth-of-type="1"text="Save";form.space-y-4:attr__class="space-y-4"nth-child="1"nth-of-type="1";body`

func TestParse(t *testing.T) {
	els := Parse(saveButton)
	require.Len(t, els, 3)

	leaf := els[0]
	assert.Equal(t, "button", leaf.Tag)
	assert.Equal(t, []string{"btn", "primary"}, leaf.Classes)
	assert.Equal(t, "save", leaf.Attributes["id"])
	assert.Equal(t, "btn primary", leaf.Attributes["class"])
	assert.Equal(t, "Save", leaf.Text)
	require.NotNil(t, leaf.NthChild)
	assert.Equal(t, 2, *leaf.NthChild)
	require.NotNil(t, leaf.NthOfType)
	assert.Equal(t, 1, *leaf.NthOfType)

	assert.Equal(t, "form", els[1].Tag)
	assert.Equal(t, "body", els[2].Tag)
	assert.Empty(t, els[2].Classes)
	assert.Nil(t, els[2].NthChild)
}

func TestParseEmpty(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse(" ; ;"))
}

func TestCompareEscapingInsensitive(t *testing.T) {
	assert.True(t, Compare(`button:attr__id=\"x\"`, `button:attr__id="x"`))
	assert.True(t, Compare(`button:attr__id="x"`, `button:attr__id=\"x\"`))
}

func TestCompareSubsetContainment(t *testing.T) {
	required := `button:attr__id="save"`
	assert.True(t, Compare(saveButton, required), "observed may carry extra attributes")
	assert.False(t, Compare(required, saveButton), "required attributes missing from observed")
	assert.False(t, Compare(`button:attr__id="cancel"`, required))
}

func TestCompareLeafOnly(t *testing.T) {
	a := `a:attr__id="go";div:attr__id="left"`
	b := `a:attr__id="go";div:attr__id="right"`
	assert.True(t, Compare(a, b))
}

func TestCompareFallsBackToRawEquality(t *testing.T) {
	assert.True(t, Compare(`div.card:attr__class="card"`, `div.card:attr__class="card"`))
	assert.True(t, Compare(`div.card:attr__class="card"`, `div.card:attr__class=\"card\"`))
	assert.False(t, Compare(`div.card:attr__class="card"nth-child="2"`, `div.card:attr__class="card"`))
}

func TestCompareEmpty(t *testing.T) {
	assert.True(t, Compare("", ""))
	assert.False(t, Compare("", `button:attr__id="x"`))
	assert.False(t, Compare(`button:attr__id="x"`, ""))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(`a:attr__id="go"`, `a:attr__id=\"go\"`))
	assert.False(t, Equal(saveButton, `button:attr__id="save"`))
}

func TestXPath(t *testing.T) {
	cases := []struct {
		name  string
		chain string
		want  string
	}{
		{"id wins", saveButton, "//button[@id='save']"},
		{"test id", `button:attr__data-testid="buy"text="Buy"`, "//button[@data-testid='buy']"},
		{"predicates", `input:attr__type="email"attr__name="email"attr__placeholder="you@x.io"`, "//input[@type='email' and @name='email' and @placeholder='you@x.io']"},
		{"text and role", `a:attr__role="button"text="Next"`, "//a[text()='Next' and @role='button']"},
		{"bare tag", `div.card:attr__class="card"`, "//div"},
		{"no tag", `:attr__class="x"`, "//*"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, XPath(tc.chain))
		})
	}
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, `Button "Save"`, Summarize(saveButton))
	assert.Equal(t, `Input with placeholder "Email"`, Summarize(`input:attr__placeholder="Email"`))
	assert.Equal(t, "Div #main", Summarize(`div:attr__id="main"`))
	assert.Equal(t, "Input (checkbox)", Summarize(`input:attr__type="checkbox"`))
	assert.Equal(t, "Span element", Summarize(`span`))
	assert.Equal(t, "Unknown Element", Summarize(""))
}

func TestComparisonKeyIgnoresClasses(t *testing.T) {
	a := ComparisonKey(`button.p-2.text-sm:attr__class="p-2 text-sm"attr__type="submit"text="Go"`)
	b := ComparisonKey(`button.p-4:attr__class="p-4"attr__type="submit"text="Go"`)
	assert.Equal(t, a, b)
	assert.Equal(t, "tag=button|text=Go|type=submit", a)
}
