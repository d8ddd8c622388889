package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	smartctx "smartim/internal/context"
)

func TestResolveKinds(t *testing.T) {
	cfg := Config{
		StringLiteral:   Named("ABC"),
		ConstantLiteral: Latin(),
		SingleComment:   Native(),
		MultiComment:    Keep(),
		DocComment:      Named("搜狗拼音"),
	}

	tests := []struct {
		kind smartctx.Kind
		want Target
	}{
		{smartctx.StringLiteral, Named("ABC")},
		{smartctx.ConstantLiteral, Latin()},
		{smartctx.SingleLineComment, Native()},
		{smartctx.MultiLineComment, Keep()},
		{smartctx.DocComment, Named("搜狗拼音")},
		{smartctx.ExternalCommitContext, Native()},
		{smartctx.CustomKeywordHit, Native()},
		{smartctx.Code, Latin()},
	}

	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.want, Resolve(tc.kind, cfg, "x := 1"))
		})
	}
}

func TestResolveCustomKeywords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomKeywords = " log.info ; ;TODO;"

	assert.Equal(t, Native(), Resolve(smartctx.Code, cfg, `    log.info("`))
	assert.Equal(t, Native(), Resolve(smartctx.Code, cfg, "// TODO"))
	assert.Equal(t, Latin(), Resolve(smartctx.Code, cfg, "log.debug("))
	assert.Equal(t, Latin(), Resolve(smartctx.Code, cfg, ""))

	// Keywords only apply to code.
	assert.Equal(t, Latin(), Resolve(smartctx.StringLiteral, cfg, "log.info"))
}

func TestResolveEmptyKeywordsNeverMatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomKeywords = " ; ;; "
	assert.Equal(t, Latin(), Resolve(smartctx.Code, cfg, "anything at all"))
}

func TestParseKeywords(t *testing.T) {
	assert.Nil(t, ParseKeywords(""))
	assert.Nil(t, ParseKeywords("   "))
	assert.Equal(t, []string{"a", "b c"}, ParseKeywords(" a ;; b c ;"))
}

func TestBucketFor(t *testing.T) {
	tests := map[string]Bucket{
		"JAVA":       Java,
		"java":       Java,
		"Kotlin":     Kotlin,
		"Python":     Python,
		"PythonCore": Python,
		"JavaScript": General,
		"":           General,
	}
	for lang, want := range tests {
		assert.Equal(t, want, BucketFor(lang), lang)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Latin(), cfg.StringLiteral)
	assert.Equal(t, Latin(), cfg.ConstantLiteral)
	assert.Equal(t, Native(), cfg.SingleComment)
	assert.Equal(t, Native(), cfg.MultiComment)
	assert.Equal(t, Native(), cfg.DocComment)
	assert.Empty(t, cfg.Keywords())
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want Target
	}{
		{"", Keep()},
		{"keep_current", Keep()},
		{"保持现状", Keep()},
		{"default_native", Native()},
		{"默认中文", Native()},
		{"中文", Native()},
		{"Default_Latin", Latin()},
		{"默认英文", Latin()},
		{"英文", Latin()},
		{" ABC ", Named("ABC")},
		{"搜狗拼音", Named("搜狗拼音")},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseTarget(tc.in), tc.in)
	}
}

func TestTargetText(t *testing.T) {
	for _, target := range []Target{Native(), Latin(), Keep(), Named("com.apple.keylayout.ABC")} {
		b, err := target.MarshalText()
		require.NoError(t, err)

		var back Target
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, target, back)
	}

	assert.True(t, Native().IsSymbolic())
	assert.False(t, Named("ABC").IsSymbolic())
}
