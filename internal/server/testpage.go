package server

import (
	"net/http"
)

// TestPageHandler serves a minimal HTML page for exercising the relay by hand:
// join a document, edit its title and body, and watch the roster.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(testPageHTML))
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>docsync test page</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        input[type="text"] { width: 240px; padding: 5px; margin-right: 10px; }
        #title { width: 480px; font-size: 1.2em; margin: 10px 0; }
        #content { width: 100%; height: 300px; font-family: monospace; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .user { display: inline-block; margin-right: 6px; padding: 3px 6px; border-radius: 10px; color: white; }
        .bg-green-500 { background: #22c55e; } .bg-blue-500 { background: #3b82f6; }
        .bg-purple-500 { background: #a855f7; } .bg-red-500 { background: #ef4444; }
        .bg-yellow-500 { background: #eab308; }
    </style>
</head>
<body>
    <h1>docsync</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="documentId" placeholder="Document id">
        <input type="text" id="username" placeholder="Your name">
        <button onclick="createDocument()">New document</button>
        <button id="joinButton" onclick="join()">Join</button>
    </div>

    <div id="users"></div>
    <input type="text" id="title" disabled>
    <textarea id="content" disabled></textarea>

    <script>
        let ws = null;
        const statusDiv = document.getElementById('status');
        const titleInput = document.getElementById('title');
        const contentArea = document.getElementById('content');
        const usersDiv = document.getElementById('users');

        function send(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function setConnected(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            titleInput.disabled = !connected;
            contentArea.disabled = !connected;
        }

        function renderUsers(users) {
            usersDiv.innerHTML = '';
            users.forEach(function(u) {
                const el = document.createElement('span');
                el.className = 'user ' + u.color;
                el.title = u.name;
                el.textContent = u.initials;
                usersDiv.appendChild(el);
            });
        }

        async function createDocument() {
            const res = await fetch('/api/create-document');
            const body = await res.json();
            document.getElementById('documentId').value = body.documentId;
        }

        function join() {
            const documentId = document.getElementById('documentId').value.trim();
            const username = document.getElementById('username').value.trim();
            if (!documentId) {
                return;
            }
            if (ws) {
                send('join-document', { documentId: documentId, username: username });
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                setConnected(true);
                send('join-document', { documentId: documentId, username: username });
            };
            ws.onmessage = function(msg) {
                const frame = JSON.parse(msg.data);
                switch (frame.event) {
                case 'load-document':
                    titleInput.value = frame.data.title;
                    contentArea.value = frame.data.content;
                    renderUsers(frame.data.users);
                    break;
                case 'receive-content-change':
                    contentArea.value = frame.data;
                    break;
                case 'receive-title-change':
                    titleInput.value = frame.data;
                    break;
                case 'users-changed':
                    renderUsers(frame.data);
                    break;
                }
            };
            ws.onclose = function() {
                setConnected(false);
                ws = null;
            };
        }

        titleInput.addEventListener('input', function() { send('title-change', titleInput.value); });
        contentArea.addEventListener('input', function() { send('content-change', contentArea.value); });
    </script>
</body>
</html>`
