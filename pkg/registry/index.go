// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"html/template"
	"net/http"
)

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>mpkg registry</title>
</head>
<body>
<h1>mpkg registry</h1>
<form action="/" method="get"><input type="search" name="q" value="{{.Query}}" placeholder="search packages"></form>
{{if .Packages}}
<table>
<tr><th>Name</th><th>Version</th><th>Description</th><th>ID</th></tr>
{{range .Packages}}<tr><td>{{.Name}}</td><td>{{.Version}}</td><td>{{.Description}}</td><td><a href="/download/{{.ID}}"><code>{{.ID}}</code></a></td></tr>
{{end}}</table>
{{else}}
<p>No packages found.</p>
{{end}}
</body>
</html>
`))

type indexData struct {
	Query    string
	Packages []PackageInfo
}

// handleIndex renders a browsable listing of packages, filtered by ?q=.
func (r *Registry) handleIndex(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query().Get("q")
	pkgs, err := r.storage.Search(req.Context(), q)
	if err != nil {
		r.internalError(w, "index", err)
		return
	}
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, indexData{Query: q, Packages: pkgs}); err != nil {
		r.internalError(w, "render index", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
