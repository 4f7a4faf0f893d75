package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		stop Set
		want []string
	}{
		{name: "snake case", text: "compute_total(x)", want: []string{"compute", "total"}},
		{name: "camel case", text: "computeTotal", want: []string{"compute", "total"}},
		{name: "pascal case", text: "ComputeTotal", want: []string{"compute", "total"}},
		{name: "acronym prefix", text: "HTTPServer", want: []string{"http", "server"}},
		{name: "trailing acronym", text: "parseURL", want: []string{"parse", "url"}},
		{name: "snake with camel part", text: "get_HTTPResponse", want: []string{"get", "http", "response"}},
		{name: "digits kept whole", text: "port 8080", want: []string{"port", "8080"}},
		{name: "snake part with digits", text: "x86_64", want: []string{"x86", "64"}},
		{name: "version prefix", text: "v2_api", want: []string{"v2", "api"}},
		{name: "digit inside snake part", text: "utf8_decode", want: []string{"utf8", "decode"}},
		{name: "camel word with digits", text: "getX1", want: []string{"getx1"}},
		{name: "single chars dropped", text: "a b c_d", want: nil},
		{name: "stopwords dropped", text: "the total of all", stop: NewSet("the", "of", "all"), want: []string{"total"}},
		{name: "punctuation separates", text: "foo.bar->baz", want: []string{"foo", "bar", "baz"}},
		{name: "empty", text: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Texts(tt.text, tt.stop))
		})
	}
}

func TestTokenizePositions(t *testing.T) {
	var positions []int
	for tok := range Tokenize("alpha x betaGamma", nil) {
		positions = append(positions, tok.Position)
	}
	assert.Equal(t, []int{0, 1, 2}, positions)
}

func TestTokenizeRestartable(t *testing.T) {
	seq := Tokenize("fooBar baz_qux", nil)
	var first, second []string
	for tok := range seq {
		first = append(first, tok.Text)
	}
	for tok := range seq {
		second = append(second, tok.Text)
	}
	assert.Equal(t, first, second)
}

func TestTokenizeEarlyStop(t *testing.T) {
	count := 0
	for range Tokenize("one two three four", nil) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestTokenizeIdempotentAndLowercase(t *testing.T) {
	inputs := []string{
		"def compute_total(items): return sum(i.price for i in items)",
		"class HTTPServerConfig { parseURL(raw_input2) }",
		"XMLHttpRequest __init__ getX1 v2_beta",
		"x86_64 utf8_decode sha256Sum",
	}
	for _, in := range inputs {
		once := Texts(in, DefaultStopwords)
		twice := Texts(Join(once), DefaultStopwords)
		assert.Equal(t, once, twice, in)
		for _, tok := range once {
			assert.Equal(t, strings.ToLower(tok), tok)
			assert.Greater(t, len(tok), 1)
		}
	}
}

func TestTokenizeKeepsSnakeFragments(t *testing.T) {
	inputs := []string{"x86_64", "v2_api_v10", "utf8_decode_base64", "load_cfg2_now"}
	for _, in := range inputs {
		got := Texts(in, nil)
		for _, part := range strings.Split(in, "_") {
			if len(part) > 1 {
				assert.Contains(t, got, part, in)
			}
		}
	}
}

func TestCorpusStopwords(t *testing.T) {
	texts := []string{
		"self value self value self",
		"self value return",
		"return other",
	}
	stop := CorpusStopwords(texts, 2)
	require.Len(t, stop, 2)
	assert.True(t, stop.Has("self"))
	assert.True(t, stop.Has("value"))

	stop = CorpusStopwords(texts, 3)
	assert.True(t, stop.Has("return"))
	assert.False(t, stop.Has("other"))

	assert.Empty(t, CorpusStopwords(texts, 0))
}

func TestCorpusStopwordsTieBreak(t *testing.T) {
	stop := CorpusStopwords([]string{"beta alpha gamma"}, 2)
	assert.True(t, stop.Has("alpha"))
	assert.True(t, stop.Has("beta"))
	assert.False(t, stop.Has("gamma"))
}
