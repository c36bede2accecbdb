package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
)

const itemURL = "https://ex.com/post/1"

func TestHeaderSize(t *testing.T) {
	t.Parallel()
	assert.Len(t, Header, 359)
}

func TestExtract_EmptyInput(t *testing.T) {
	t.Parallel()
	assert.Empty(t, New(nil).Extract("", itemURL, feedconf.Selectors{Classes: []string{"c"}}))
}

func TestExtract_ByClass(t *testing.T) {
	t.Parallel()

	in := `<html><body><div class="c other"><p>Hello <b>world</b></p>` +
		`<img src="/a.png" width="10" height="3"><a href="x.html" target="_blank">link</a></div>` +
		`<div class="skip">no</div></body></html>`
	want := Header + "<div>\n<p>\nHello <b>\nworld</b>\n</p>\n" +
		"<img src='https://ex.com/a.png' width='10'/>\n" +
		"<a href='https://ex.com/post/x.html' target='_blank'>link</a>\n</div>\n"

	assert.Equal(t, want, New(nil).Extract(in, itemURL, feedconf.Selectors{Classes: []string{"c"}}))
}

func TestExtract_ByIDAndPath(t *testing.T) {
	t.Parallel()

	in := `<body><div id="main">one</div><section><p>a</p><p>b</p></section></body>`
	got := New(nil).Extract(in, itemURL, feedconf.Selectors{
		IDs:   []string{"main"},
		Paths: []string{"/html/body/section/p[2]"},
	})
	assert.Equal(t, Header+"<div>\none</div>\n<p>\nb</p>\n", got)
}

func TestExtract_AllSelectorKindsAppendBody(t *testing.T) {
	t.Parallel()

	in := `<html><body><div id="i">A</div><div class="c">B</div><p>C</p></body></html>`
	got := New(nil).Extract(in, itemURL, feedconf.Selectors{
		Classes: []string{"c"},
		IDs:     []string{"i"},
		Paths:   []string{"/p"},
	})
	want := Header +
		"<div>\nB</div>\n" +
		"<div>\nA</div>\n" +
		"<p>\nC</p>\n" +
		"<body>\n<div>\nA</div>\n<div>\nB</div>\n<p>\nC</p>\n</body>\n"
	assert.Equal(t, want, got)
}

func TestExtract_NothingSelectedIsHeaderOnly(t *testing.T) {
	t.Parallel()

	got := New(nil).Extract(`<div class="x">text</div>`, itemURL, feedconf.Selectors{Classes: []string{"missing"}})
	assert.Equal(t, Header, got)
}

func TestExtract_IsFixedPoint(t *testing.T) {
	t.Parallel()

	in := `<div class="c"><p>Hello <b>world</b> &amp; "friends"</p>` +
		`<ul><li>one</li><li>two<br>three</li></ul>` +
		`<img data-src="//cdn.ex.com/i.png"><a href="/rel">rel</a>` +
		`<pre>  keep
  spacing</pre></div>`
	e := New(nil)
	first := e.Extract(in, itemURL, feedconf.Selectors{Classes: []string{"c"}})
	second := e.Extract(strings.TrimPrefix(first, Header), itemURL, feedconf.Selectors{Paths: []string{"/div"}})
	assert.Equal(t, first, second)
}

func TestExtract_FallsBackToNextParser(t *testing.T) {
	t.Parallel()

	empty := Parser{Name: "empty", Parse: func(string) (*html.Node, error) {
		return &html.Node{Type: html.DocumentNode}, nil
	}}
	e := &Extractor{parsers: []Parser{empty, {Name: "html5", Parse: parseHTML5}}, log: New(nil).log}
	got := e.Extract(`<div class="c">x</div>`, itemURL, feedconf.Selectors{Classes: []string{"c"}})
	assert.Equal(t, Header+"<div>\nx</div>\n", got)
}

func TestTraverse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"comment dropped", `<div><!-- c -->t</div>`, "<div>\nt</div>\n"},
		{"script and style dropped", `<div><script>x()</script><style>a{}</style>t</div>`, "<div>\nt</div>\n"},
		{"hidden subtree dropped", `<div><span style="display: none">h</span><i style="visibility:hidden">v</i>t</div>`, "<div>\nt</div>\n"},
		{"lazy image preferred", `<div><img src="/s.png" data-lazy-src="/l.png"></div>`, "<div>\n<img src='https://ex.com/l.png'/>\n</div>\n"},
		{"protocol relative image", `<div><img src="//cdn/x.png"></div>`, "<div>\n<img src='https://cdn/x.png'/>\n</div>\n"},
		{"data uri image kept", `<div><img src="data:image/png;base64,AA"></div>`, "<div>\n<img src='data:image/png;base64,AA'/>\n</div>\n"},
		{"origin src input", `<div><input class="origin_src" value="/o.jpg"></div>`, "<div>\n<img src='https://ex.com/o.jpg'/>\n</div>\n"},
		{"canvas", `<div><canvas data-src="https://c/1.png" width="5"></canvas></div>`, "<div>\n<img src='https://c/1.png' width='5'/>\n</div>\n"},
		{"anchor without href", `<div><a name="x">n</a></div>`, "<div>\nn</div>\n"},
		{"flash iframe", `<div><iframe src="https://v/p.swf"></iframe></div>`, "<div>\n<iframe src='https://v/p.swf'></iframe><br/>\n<a href='https://v/p.swf'>https://v/p.swf</a><br/>\n</div>\n"},
		{"plain iframe", `<div><iframe src="https://v/embed"></iframe></div>`, "<div>\n<iframe src=\"https://v/embed\"></iframe></div>\n"},
		{"flash object", `<div><object><param name="Src" value="https://v/m.swf"></object></div>`, "<div>\n<video src='https://v/m.swf'></video><br/>\n<a href='https://v/m.swf'>https://v/m.swf</a><br/>\n</div>\n"},
		{"image map", `<div><map><area href="https://m/1" alt="One"><area></map></div>`, "<div>\n<br/><br/><strong><a href='https://m/1'>One</a></strong><br/><br/>\n<br/><br/><strong><a href='#'>empty link title</a></strong><br/><br/>\n</div>\n"},
		{"void element", `<div>a<br>b</div>`, "<div>\na<br/>\nb</div>\n"},
		{"text escaped", `<div>a &lt; b 'q'</div>`, "<div>\na &lt; b &#x27;q&#x27;</div>\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc, err := parseHTML5(Sanitize(tt.in))
			require.NoError(t, err)
			div := body(doc).FirstChild
			require.NotNil(t, div)
			tr := &traverser{itemURL: itemURL}
			assert.Equal(t, tt.want, tr.render(div))
		})
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	in := "<?xml version=\"1.0\"?><img alt=\"a<br>b\">x<br>y\x01\x08"
	assert.Equal(t, `<img alt="a b">x<br/>y`, Sanitize(in))
}

func TestParseLenientXML(t *testing.T) {
	t.Parallel()

	doc, err := parseLenientXML(`<root><body><div class="x">hi<br>there</div></body></root>`)
	require.NoError(t, err)
	b := body(doc)
	require.NotNil(t, b)
	assert.Equal(t, "body", b.Data)
	div := b.FirstChild
	require.NotNil(t, div)
	assert.Equal(t, "div", div.Data)
	assert.Equal(t, "x", attr(div, "class"))
}
