package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>StudySync Dev Console</title>
  <style>
    :root {
      --ink: #14212b;
      --paper: #f6f8fa;
      --card: #ffffff;
      --line: #d5dde4;
      --accent: #2563b0;
      --muted: #64748b;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Segoe UI", "Helvetica Neue", sans-serif;
      color: var(--ink);
      background: var(--paper);
      padding: 20px;
    }

    .shell { max-width: 960px; margin: 0 auto; display: grid; gap: 14px; }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 10px;
      padding: 16px;
    }

    h1 { margin: 0; font-size: 1.4rem; }
    .sub { color: var(--muted); font-size: 0.9rem; margin-top: 4px; }

    input {
      border: 1px solid var(--line);
      border-radius: 6px;
      padding: 8px 10px;
      font-size: 0.9rem;
      width: 100%;
    }

    button {
      border: 0;
      border-radius: 6px;
      padding: 8px 14px;
      background: var(--accent);
      color: #fff;
      font-weight: 600;
      cursor: pointer;
    }

    .row { display: grid; grid-template-columns: 1fr auto; gap: 10px; margin-top: 10px; }

    table { width: 100%; border-collapse: collapse; font-size: 0.9rem; }
    th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid var(--line); }
    th { color: var(--muted); font-weight: 600; }

    .status { font-weight: 600; }
    .status.pending, .status.processing { color: #b45309; }
    .status.completed { color: #15803d; }
    .status.failed { color: #b91c1c; }

    #events {
      font-family: ui-monospace, monospace;
      font-size: 0.8rem;
      max-height: 220px;
      overflow-y: auto;
      white-space: pre-wrap;
      background: #0f172a;
      color: #bae6fd;
      border-radius: 6px;
      padding: 10px;
    }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>StudySync Dev Console</h1>
      <div class="sub">Paste a user token, load the catalog, and watch push events arrive live.</div>
      <div class="row">
        <input id="token" type="password" placeholder="JWT token" />
        <button onclick="connect()">Connect</button>
      </div>
    </div>

    <div class="card">
      <table>
        <thead>
          <tr><th>ID</th><th>File</th><th>Status</th><th>Updated</th><th>Children</th></tr>
        </thead>
        <tbody id="materials"></tbody>
      </table>
    </div>

    <div class="card">
      <div class="sub">Push events</div>
      <div id="events"></div>
    </div>
  </div>

  <script>
    let socket = null;

    async function refresh(token) {
      const resp = await fetch('/api/v1/study-materials', {
        headers: { 'Authorization': 'Bearer ' + token }
      });
      if (!resp.ok) {
        logEvent('list failed: ' + resp.status);
        return;
      }
      const materials = await resp.json();
      const rows = materials.map(m => {
        const children = (m.summaries || []).length + (m.flashcard_sets || []).length + (m.quizzes || []).length;
        return '<tr><td>' + m.id + '</td><td>' + m.file_name +
          '</td><td class="status ' + m.processing_status + '">' + m.processing_status +
          '</td><td>' + m.updated_at + '</td><td>' + children + '</td></tr>';
      });
      document.getElementById('materials').innerHTML = rows.join('');
    }

    function connect() {
      const token = document.getElementById('token').value.trim();
      if (!token) return;
      if (socket) socket.close();
      refresh(token);
      const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
      socket = new WebSocket(proto + location.host + '/ws/events?token=' + encodeURIComponent(token));
      socket.onopen = () => logEvent('connected');
      socket.onclose = () => logEvent('disconnected');
      socket.onmessage = (msg) => {
        logEvent(msg.data);
        refresh(token);
      };
    }

    function logEvent(text) {
      const pane = document.getElementById('events');
      pane.textContent += text + '\n';
      pane.scrollTop = pane.scrollHeight;
    }
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, dashboardHTML)
}
