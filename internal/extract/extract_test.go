package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextPrefersMain(t *testing.T) {
	doc := `<html><body>
		<div>navigation</div>
		<article>article text</article>
		<main><h1>Title</h1><script>var x = 1;</script><p>Main   body
		text.</p></main>
	</body></html>`

	got, err := Text(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "Title Main body text.", got)
}

func TestTextFallsBackToArticleThenDiv(t *testing.T) {
	got, err := Text(strings.NewReader(`<div>first div</div><article><p>story</p></article>`))
	require.NoError(t, err)
	assert.Equal(t, "story", got)

	got, err = Text(strings.NewReader(`<body><div><style>p{}</style>only div</div></body>`))
	require.NoError(t, err)
	assert.Equal(t, "only div", got)
}

func TestTextNoContainer(t *testing.T) {
	got, err := Text(strings.NewReader(`<p>loose paragraph</p>`))
	require.NoError(t, err)
	assert.Equal(t, NoContent, got)
}

func TestMainContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<main>hello from the page</main>`))
	}))
	defer srv.Close()

	got, err := NewFetcher(5 * time.Second).MainContent(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello from the page", got)
}

func TestMainContentHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewFetcher(5*time.Second).MainContent(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
