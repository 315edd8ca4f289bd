package server

import "html/template"

// indexData feeds the overview template.
type indexData struct {
	BasePath      string
	MaxConcurrent int
	Profiles      []statusView
}

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>profilr</title>
<style>
body { font-family: sans-serif; margin: 2em; max-width: 60em; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
form { margin: 0.5em 0 1.5em; }
input[type=text] { width: 24em; }
.status-error { color: #b00; }
.status-started { color: #070; }
</style>
</head>
<body>
<h1>profilr</h1>
<p>{{len .Profiles}} profile(s) tracked, at most {{.MaxConcurrent}} launching at once.</p>
<table>
<tr><th>profile</th><th>status</th><th>debug</th><th>websocket</th><th>started</th><th>error</th></tr>
{{range .Profiles}}<tr>
<td>{{.ProfileID}}</td>
<td class="status-{{.Status}}">{{.Status}}</td>
<td>{{if .DebugHost}}{{.DebugHost}}:{{.DebugPort}}{{end}}</td>
<td>{{.WebSocketURL}}</td>
<td>{{.StartedAtHuman}}</td>
<td>{{.Error}}</td>
</tr>{{end}}
</table>
<h2>Start profile</h2>
<form method="post" action="{{.BasePath}}/start_profile">
<label>profile id <input type="text" name="profile_id"></label>
<button type="submit">start</button>
</form>
<h2>Inject script</h2>
<form method="post" action="{{.BasePath}}/inject">
<p><label>profile id <input type="text" name="profile_id"></label></p>
<p><label>script url <input type="text" name="script_url"></label></p>
<p><label>inline js <input type="text" name="inline_js"></label></p>
<button type="submit">inject</button>
</form>
</body>
</html>
`
