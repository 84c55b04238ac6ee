package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	require.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
}

func TestRenderSheetHTMLSendsA4Document(t *testing.T) {
	var gotName string
	var gotFields map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		require.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFields = make(map[string]string)
		for field, values := range r.MultipartForm.Value {
			gotFields[field] = values[0]
		}
		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		gotName = header.Filename
		body, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Contains(t, string(body), "Lista de intretinere")
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 stub"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	pdf, err := c.RenderSheetHTML(context.Background(), "<html><body>Lista de intretinere</body></html>")
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.7 stub"), pdf)

	require.Equal(t, "index.html", gotName)
	for field, want := range a4 {
		require.Equal(t, want, gotFields[field], field)
	}
}

func TestRenderSheetHTMLRejectedConversion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.RenderSheetHTML(context.Background(), "<html></html>")
	require.ErrorIs(t, err, ErrRenderFailed)
}
