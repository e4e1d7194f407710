package admin

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/nulpointcorp/ai-gateway/internal/analytics"
	"github.com/nulpointcorp/ai-gateway/internal/providers"
	"github.com/nulpointcorp/ai-gateway/internal/proxy"
	"github.com/nulpointcorp/ai-gateway/pkg/apierr"
)

// providerRow merges the three per-provider counter maps for the table.
type providerRow struct {
	Provider     string
	Requests     int64
	InputTokens  int64
	OutputTokens int64
}

type cacheSummary struct {
	Count      int
	TTL        string
	MaxEntries int
}

type dashboardData struct {
	Version   string
	Status    string
	Uptime    string
	Generated string
	Stats     analytics.Snapshot
	HitRate   string
	Rows      []providerRow
	Cache     *cacheSummary
	Slots     []providerView
	Routes    []routeView
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	// Render into a buffer first so a template error cannot leave a
	// half-written page behind a 200.
	var buf bytes.Buffer
	if err := dashboardTmpl.Execute(&buf, s.dashboardData()); err != nil {
		apierr.WriteHTTP(w, http.StatusInternalServerError, "render dashboard: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) dashboardData() dashboardData {
	snap := s.stats.Snapshot()

	data := dashboardData{
		Version:   s.version,
		Status:    proxy.HealthOK,
		Generated: time.Now().UTC().Format(time.RFC3339),
		Stats:     snap,
		HitRate:   "n/a",
	}

	if s.health != nil {
		hs := s.health.Snapshot()
		data.Status = hs.Status
		data.Uptime = (time.Duration(hs.UptimeSeconds) * time.Second).String()
	}

	if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 {
		data.HitRate = fmt.Sprintf("%.1f%%", float64(snap.CacheHits)/float64(lookups)*100)
	}

	for _, name := range providers.Names {
		row := providerRow{
			Provider:     name,
			Requests:     snap.RequestsByProvider[name],
			InputTokens:  snap.InputTokensByProvider[name],
			OutputTokens: snap.OutputTokensByProvider[name],
		}
		if row.Requests > 0 || row.InputTokens > 0 || row.OutputTokens > 0 {
			data.Rows = append(data.Rows, row)
		}
	}

	if s.cache != nil {
		data.Cache = &cacheSummary{
			Count:      s.cache.Len(),
			TTL:        s.cache.TTL().String(),
			MaxEntries: s.cache.MaxEntries(),
		}
	}

	slots := s.store.Providers()
	for _, name := range providers.Names {
		data.Slots = append(data.Slots, viewOf(name, slots[name]))
	}

	for _, rt := range s.routes.List() {
		data.Routes = append(data.Routes, routeView{
			Name:         rt.Name,
			Upstream:     rt.Upstream,
			BreakerState: s.breakers.State(rt.Name),
		})
	}

	return data
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardHTML))

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="10">
<title>ai-gateway dashboard</title>
<style>
body { font-family: ui-monospace, Menlo, Consolas, monospace; margin: 2rem; color: #1a1a2e; }
h1 { font-size: 1.3rem; } h2 { font-size: 1rem; margin-top: 1.5rem; }
table { border-collapse: collapse; margin-top: .5rem; }
th, td { border: 1px solid #ccc; padding: .3rem .7rem; text-align: left; font-size: .85rem; }
th { background: #f0f0f5; }
.ok { color: #0a7d33; } .degraded { color: #b33a00; }
.meta { color: #666; font-size: .8rem; }
</style>
</head>
<body>
<h1>ai-gateway <span class="meta">{{.Version}}</span></h1>
<p class="meta">status <span class="{{.Status}}">{{.Status}}</span>{{if .Uptime}} · up {{.Uptime}}{{end}} · generated {{.Generated}}</p>

<h2>Requests</h2>
<table>
<tr><th>total</th><th>successful</th><th>failed</th><th>cache hits</th><th>cache misses</th><th>hit rate</th></tr>
<tr>
<td>{{.Stats.TotalRequests}}</td>
<td>{{.Stats.SuccessfulRequests}}</td>
<td>{{.Stats.FailedRequests}}</td>
<td>{{.Stats.CacheHits}}</td>
<td>{{.Stats.CacheMisses}}</td>
<td>{{.HitRate}}</td>
</tr>
</table>

{{if .Rows}}
<h2>Providers</h2>
<table>
<tr><th>provider</th><th>requests</th><th>input tokens</th><th>output tokens</th></tr>
{{range .Rows}}
<tr><td>{{.Provider}}</td><td>{{.Requests}}</td><td>{{.InputTokens}}</td><td>{{.OutputTokens}}</td></tr>
{{end}}
</table>
{{end}}

<h2>Slots</h2>
<table>
<tr><th>provider</th><th>model</th><th>endpoint</th><th>key</th><th>configured</th></tr>
{{range .Slots}}
<tr><td>{{.Name}}</td><td>{{.Model}}</td><td>{{.Endpoint}}</td><td>{{if .APIKeySet}}set{{else}}-{{end}}</td><td>{{.Configured}}</td></tr>
{{end}}
</table>

{{if .Cache}}
<h2>Cache</h2>
<table>
<tr><th>entries</th><th>ttl</th><th>max entries</th></tr>
<tr><td>{{.Cache.Count}}</td><td>{{.Cache.TTL}}</td><td>{{if .Cache.MaxEntries}}{{.Cache.MaxEntries}}{{else}}unbounded{{end}}</td></tr>
</table>
{{end}}

{{if .Stats.ErrorsByType}}
<h2>Errors by type</h2>
<table>
<tr><th>type</th><th>count</th></tr>
{{range $type, $n := .Stats.ErrorsByType}}
<tr><td>{{$type}}</td><td>{{$n}}</td></tr>
{{end}}
</table>
{{end}}

{{if .Stats.RecentErrors}}
<h2>Recent errors</h2>
<table>
<tr><th>time</th><th>provider</th><th>type</th><th>message</th></tr>
{{range .Stats.RecentErrors}}
<tr><td>{{.Timestamp.Format "15:04:05"}}</td><td>{{.Provider}}</td><td>{{.Type}}</td><td>{{.Message}}</td></tr>
{{end}}
</table>
{{end}}

{{if .Routes}}
<h2>Service routes</h2>
<table>
<tr><th>name</th><th>upstream</th><th>breaker</th></tr>
{{range .Routes}}
<tr><td>{{.Name}}</td><td>{{.Upstream}}</td><td>{{.BreakerState}}</td></tr>
{{end}}
</table>
{{end}}

</body>
</html>
`
