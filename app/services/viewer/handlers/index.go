package handlers

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"net/url"
	"strings"
)

type index struct {
	page []byte
}

// newIndex renders the page once. Only the socket address changes between
// deployments.
func newIndex(build string, nodeURL string) (*index, error) {
	u, err := url.Parse(nodeURL)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/events"

	tmpl, err := template.ParseFS(assets, "assets/views/index.html")
	if err != nil {
		return nil, err
	}

	data := struct {
		Build     string
		SocketURL string
	}{
		Build:     build,
		SocketURL: u.String(),
	}

	var b bytes.Buffer
	if err := tmpl.Execute(&b, data); err != nil {
		return nil, err
	}

	return &index{page: b.Bytes()}, nil
}

func (ig *index) handler(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := w.Write(ig.page)
	return err
}
