package injector

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/mender/api/schemas"
)

const page = `<!DOCTYPE html><html><head><title>t</title></head><body>
<div class="overlay"></div>
<button id="buy" style="color: red; pointer-events: none">Buy</button>
<ul><li>a</li><li>b</li></ul>
</body></html>`

func set(patches ...schemas.Patch) schemas.PatchSet {
	return schemas.PatchSet{Source: schemas.SourceDeterministic, Patches: patches}
}

func patchStyle(t *testing.T, document string) string {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	require.NoError(t, err)
	return doc.Find("style[" + PatchAttribute + "]").Text()
}

func TestInject_AppliesAndMarks(t *testing.T) {
	inj := New(zaptest.NewLogger(t), true)

	res := inj.Inject(page, set(
		schemas.Patch{TargetSelector: "#buy", PropertiesToSet: []schemas.Property{{Name: "z-index", Value: "10"}}},
		schemas.Patch{TargetSelector: "#buy:active", PropertiesToSet: []schemas.Property{{Name: "transform", Value: "scale(0.97)"}}},
		schemas.Patch{TargetSelector: "ul > li:nth-of-type(2)", PropertiesToSet: []schemas.Property{{Name: "cursor", Value: "pointer"}}},
	))

	require.True(t, res.Success)
	assert.Len(t, res.Applied, 3)
	assert.Empty(t, res.Failed)
	css := patchStyle(t, res.Document)
	assert.Contains(t, css, "#buy { z-index: 10 !important; }")
	assert.Contains(t, css, "#buy:active { transform: scale(0.97) !important; }")
	assert.Contains(t, css, "ul > li:nth-of-type(2) { cursor: pointer !important; }")
	assert.Contains(t, res.Document, "<!-- mender:patch source=deterministic applied=3 failed=0 -->")
	assert.NotContains(t, page, PatchAttribute, "input must not be modified")
}

func TestInject_LastWinsWithinSet(t *testing.T) {
	inj := New(zap.NewNop(), true)

	res := inj.Inject(page, set(
		schemas.Patch{TargetSelector: "#buy", PropertiesToSet: []schemas.Property{{Name: "z-index", Value: "5"}, {Name: "cursor", Value: "pointer"}}},
		schemas.Patch{TargetSelector: "#buy", PropertiesToSet: []schemas.Property{{Name: "Z-Index", Value: "50"}}},
	))

	require.True(t, res.Success)
	assert.Contains(t, patchStyle(t, res.Document), "#buy { z-index: 50 !important; cursor: pointer !important; }")
}

func TestInject_RemovalCancelsEarlierSetAndInlineStyle(t *testing.T) {
	inj := New(zap.NewNop(), true)

	res := inj.Inject(page, set(
		schemas.Patch{TargetSelector: "#buy", PropertiesToSet: []schemas.Property{{Name: "pointer-events", Value: "auto"}, {Name: "cursor", Value: "pointer"}}},
		schemas.Patch{TargetSelector: "#buy", PropertiesToRemove: []string{"pointer-events"}},
	))

	require.True(t, res.Success)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Document))
	require.NoError(t, err)
	style, _ := doc.Find("#buy").Attr("style")
	assert.Equal(t, "color: red", style)
	css := patchStyle(t, res.Document)
	assert.NotContains(t, css, "pointer-events")
	assert.Contains(t, css, "cursor: pointer")
}

func TestInject_UnresolvedPatches(t *testing.T) {
	patches := set(
		schemas.Patch{TargetSelector: "#buy", PropertiesToSet: []schemas.Property{{Name: "z-index", Value: "10"}}},
		schemas.Patch{TargetSelector: "#missing", PropertiesToSet: []schemas.Property{{Name: "z-index", Value: "10"}}},
		schemas.Patch{TargetSelector: "div[[", PropertiesToSet: []schemas.Property{{Name: "z-index", Value: "10"}}},
		schemas.Patch{TargetSelector: "#buy", PropertiesToSet: []schemas.Property{{Name: "color", Value: "red}</style><script>"}}},
		schemas.Patch{TargetSelector: "#buy"},
	)

	t.Run("strict", func(t *testing.T) {
		res := New(zap.NewNop(), true).Inject(page, patches)
		assert.False(t, res.Success)
		assert.Len(t, res.Applied, 1)
		assert.Len(t, res.Failed, 4)
		assert.NotContains(t, res.Document, "<script>")
		assert.Contains(t, res.Document, "applied=1 failed=4")
	})

	t.Run("lenient", func(t *testing.T) {
		res := New(zap.NewNop(), false).Inject(page, patches)
		assert.True(t, res.Success)
		assert.Len(t, res.Applied, 1)
	})

	t.Run("lenient with nothing resolvable", func(t *testing.T) {
		res := New(zap.NewNop(), false).Inject(page, set(patches.Patches[1]))
		assert.False(t, res.Success)
	})
}

func TestInject_EmptySet(t *testing.T) {
	res := New(zap.NewNop(), true).Inject(page, set())
	assert.True(t, res.Success)
	assert.Equal(t, page, res.Document)
	assert.Empty(t, res.Applied)
	assert.Empty(t, res.Failed)
}

// FuzzInject_Structured throws arbitrary patches at a fixed page: injection
// must never panic and every patch is accounted for exactly once.
func FuzzInject_Structured(f *testing.F) {
	f.Add([]byte("seed"))
	inj := New(zap.NewNop(), true)

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var patches []schemas.Patch
		if err := consumer.CreateSlice(&patches); err != nil {
			return
		}
		res := inj.Inject(page, set(patches...))
		assert.Equal(t, len(patches), len(res.Applied)+len(res.Failed))
		assert.Equal(t, len(res.Failed) == 0, res.Success)
	})
}
