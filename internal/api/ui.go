package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const uiRefreshSeconds = 2

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Refresh}}<meta http-equiv="refresh" content="{{.Refresh}}"/>{{end}}
  <title>Image Variants</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:960px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    a:hover{text-decoration:underline}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    textarea,input[type=text]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%;box-sizing:border-box}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .grid{display:grid;grid-template-columns:repeat(auto-fill,minmax(220px,1fr));gap:12px}
    .list{margin:0;padding-left:18px}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .status.failed{background:#fde7e6;color:#b3261e}
    .status.succeeded{background:#e6f4ea;color:#137333}
    .tile img{width:100%;border-radius:8px;background:#f0f0f0}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1><a href="/">Image Variants</a></h1>
    <div class="muted">One image, many prompts</div>
  </header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  {{if eq .Page "batch"}}{{template "content-batch" .}}{{else}}{{template "content-home" .}}{{end}}
  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "content-home"}}
  <div class="card">
    <h2>New batch</h2>
    <form method="post" action="/ui/batches" enctype="multipart/form-data">
      <div><input type="file" name="image" accept="image/png,image/jpeg,image/webp" required/></div>
      <div style="margin-top:12px">
        <textarea name="prompts_text" rows="6" placeholder="One prompt per line" required></textarea>
      </div>
      <div style="margin-top:12px">
        <label><input type="radio" name="strategy" value="concurrent" {{if eq .Strategy "concurrent"}}checked{{end}}/> concurrent</label>
        <label style="margin-left:12px"><input type="radio" name="strategy" value="sequential" {{if eq .Strategy "sequential"}}checked{{end}}/> sequential</label>
      </div>
      <div style="margin-top:12px"><button class="btn" type="submit">Generate</button></div>
    </form>
  </div>

  <div class="card">
    <h2>Open batch</h2>
    <form method="get" action="/ui/batches">
      <input type="text" name="id" placeholder="batch id"/>
      <div style="margin-top:12px"><button class="btn secondary" type="submit">Open</button></div>
    </form>
  </div>

  {{if .Batches}}
  <div class="card">
    <h2>Recent batches</h2>
    <ul class="list">
    {{range .Batches}}
      <li>
        <a class="mono" href="/ui/batches/{{.ID}}">{{.ID}}</a>
        <span class="status">{{.Status}}</span>
        <span class="muted">{{.Summary.Succeeded}} ok · {{.Summary.Failed}} failed · {{.Summary.Pending}} pending</span>
      </li>
    {{end}}
    </ul>
  </div>
  {{end}}
{{end}}

{{define "content-batch"}}
  <div class="card">
    <h2>Batch <span class="mono">{{.Batch.ID}}</span></h2>
    <div>Status: <span class="status">{{.Batch.Status}}</span> <span class="muted">({{.Batch.Strategy}})</span></div>
    <div class="muted">Created at: {{.Batch.CreatedAt}}</div>
    <div class="muted">{{.Batch.Summary.Succeeded}} of {{.Batch.Summary.Total}} succeeded, {{.Batch.Summary.Failed}} failed</div>
    {{if .Batch.ArchiveURL}}
    <div style="margin-top:12px"><a class="btn" href="{{.Batch.ArchiveURL}}">Download zip</a></div>
    {{end}}
  </div>

  <div class="grid">
  {{range .Batch.Tasks}}
    <div class="card tile">
      {{if .ImageURL}}<a href="{{.ImageURL}}" target="_blank"><img src="{{.ImageURL}}" alt="{{.Prompt}}"/></a>{{end}}
      <div><span class="status {{.State}}">{{.State}}</span></div>
      <div style="margin-top:6px">{{.Prompt}}</div>
      {{if .Error}}<div class="muted" style="margin-top:6px">{{.Error.Message}}</div>{{end}}
    </div>
  {{end}}
  </div>
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.GET("/ui/batches", a.UIOpenExisting)
	router.POST("/ui/batches", a.UICreateBatch)
	router.GET("/ui/batches/:id", a.UIBatch)
}

// UIHome renders the upload form and recent batches
func (a *API) UIHome(c *gin.Context) { a.renderHome(c, http.StatusOK, "") }

// UIOpenExisting redirects to the batch page by id
func (a *API) UIOpenExisting(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, "/ui/batches/"+id)
}

// UICreateBatch starts a batch from the form and redirects to its page
func (a *API) UICreateBatch(c *gin.Context) {
	if a.manager.IsBusy() {
		a.renderHome(c, http.StatusServiceUnavailable, "server busy: try again later")
		return
	}
	run, err := a.startBatch(c)
	if err != nil {
		log.Warn().Err(err).Msg("ui batch creation failed")
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	c.Redirect(http.StatusSeeOther, "/ui/batches/"+run.Batch.ID)
}

// UIBatch renders a batch page; it refreshes itself while tasks are pending
func (a *API) UIBatch(c *gin.Context) {
	run, ok := a.manager.Get(c.Param("id"))
	if !ok {
		a.renderHome(c, http.StatusNotFound, "batch not found")
		return
	}
	view := a.toBatchResponse(run, run.Results.Snapshot())
	data := gin.H{"Page": "batch", "Batch": view}
	if view.Summary.Pending > 0 {
		data["Refresh"] = uiRefreshSeconds
	}
	c.HTML(http.StatusOK, "layout", data)
}

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	c.HTML(status, "layout", gin.H{
		"Page":     "home",
		"Error":    errMsg,
		"Batches":  a.listItems(),
		"Strategy": string(a.manager.DefaultStrategy()),
	})
}
