package internal

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// The inspector is a development aid: it walks a key prefix of the live
// store and renders the rows, next to an engine stats block. It must
// never be exposed outside localhost.
const inspectPage = `<!DOCTYPE html>
<html>
<head>
<title>Store inspector</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #999; padding: 4px 8px; text-align: left; }
th { background: #eee; }
.stats { margin-bottom: 1.5em; }
.stats span { margin-right: 2em; }
</style>
</head>
<body>
<h1>Store inspector</h1>
<div class="stats">
{{range $k, $v := .Stats}}<span>{{$k}}: {{$v}}</span>{{end}}
</div>
<form method="get">
<input type="text" name="prefix" value="{{.Prefix}}" size="40"/>
<input type="submit" value="Browse"/>
</form>
<table>
<tr><th>Key</th><th>Namespace</th><th>Value</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Namespace}}</td><td>{{.Value}}</td></tr>{{end}}
</table>
</body>
</html>`

type InspectRow struct {
	Key       string
	Namespace string
	Value     string
}

type StatsProvider func() map[string]any

type pageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// StartDebugServer serves the inspector on its own port, detached from
// the public API surface.
func StartDebugServer(db *badger.DB, port int, statsProvider StatsProvider) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.New("inspect").Parse(inspectPage))

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "conv:"
		}

		data := pageData{Prefix: prefix, Stats: make(map[string]any)}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		_ = db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				_ = item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapRow(string(item.Key()), val))
					return nil
				})
			}
			return nil
		})

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		_ = http.ListenAndServe(fmt.Sprintf("127.0.0.1:%d", port), mux)
	}()
}

func mapRow(key string, val []byte) InspectRow {
	namespace, _, found := strings.Cut(key, ":")
	if !found {
		namespace = "raw"
	}
	value := string(val)
	if len(value) > 200 {
		value = value[:200] + "…"
	}
	return InspectRow{Key: key, Namespace: namespace, Value: value}
}
