package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Zone Sentry Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/monitor.css">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 960px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #444; font-size: 0.85em; }
        .badge.online { background: #1f7a35; }
        .badge.offline { background: #8a1c1c; }
        #alert-banner { display: none; margin: 12px 0; padding: 12px; background: #c0392b;
            font-weight: bold; text-align: center; border-radius: 6px; }
        #alert-banner.visible { display: block; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; margin-top: 12px; }
        .panel { background: #1c1c1c; border-radius: 6px; padding: 12px; }
        #feed { width: 100%; background: #000; }
        dl { display: grid; grid-template-columns: auto 1fr; gap: 4px 12px; margin: 0; }
        dt { color: #999; }
        ul { list-style: none; padding: 0; margin: 0; font-size: 0.9em; }
        li { padding: 4px 0; border-bottom: 1px solid #333; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>Zone Sentry</h1>
            <span class="badge" id="status-badge">Waiting for data...</span>
        </div>

        <div id="alert-banner"></div>

        <div class="grid">
            <div class="panel">
                <h2>Live Feed</h2>
                <img id="feed" src="/stream" alt="Live feed">
            </div>
            <div class="panel">
                <h2>Status</h2>
                <dl>
                    <dt>Sequences</dt><dd id="sequence-count">-</dd>
                    <dt>Last sequence</dt><dd id="last-sequence">never</dd>
                    <dt>Polls</dt><dd id="polls">-</dd>
                    <dt>Failures</dt><dd id="failures">-</dd>
                </dl>
                <h2>Alerts</h2>
                <ul id="alert-list"></ul>
            </div>
        </div>
    </div>

    <script src="/assets/monitor.js" defer></script>
    <script type="module">
        const banner = document.getElementById('alert-banner');
        const badge = document.getElementById('status-badge');
        const alertList = document.getElementById('alert-list');
        let bannerTimer = null;

        function showAlert(alert) {
            banner.textContent = alert.message + ' (sequence #' + alert.sequence_count + ')';
            banner.classList.add('visible');
            clearTimeout(bannerTimer);
            bannerTimer = setTimeout(() => banner.classList.remove('visible'), 5000);
        }

        function renderAlerts(alerts) {
            alertList.innerHTML = '';
            for (const a of alerts || []) {
                const li = document.createElement('li');
                li.textContent = new Date(a.time).toLocaleTimeString() + '  #' + a.sequence_count;
                alertList.appendChild(li);
            }
        }

        function renderStatus(data) {
            const m = data.monitor;
            badge.textContent = m.online ? 'Detector online' : 'Detector offline';
            badge.className = 'badge ' + (m.online ? 'online' : 'offline');
            document.getElementById('sequence-count').textContent = m.status.sequence_count;
            document.getElementById('last-sequence').textContent =
                m.status.last_sequence ? new Date(m.status.last_sequence).toLocaleString() : 'never';
            document.getElementById('polls').textContent = m.polls;
            document.getElementById('failures').textContent = m.failures;
            renderAlerts(m.alerts);
        }

        async function refresh() {
            try {
                const resp = await fetch('/api/status');
                renderStatus(await resp.json());
            } catch (err) {
                badge.textContent = 'Monitor unreachable';
                badge.className = 'badge offline';
            }
        }

        function connectSocket() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/ws');
            ws.onmessage = (msg) => {
                const ev = JSON.parse(msg.data);
                if (ev.event === 'motion_alert') {
                    showAlert(ev.data);
                    refresh();
                }
            };
            ws.onclose = () => setTimeout(connectSocket, 2000);
        }

        refresh();
        setInterval(refresh, 1000);
        connectSocket();
    </script>
</body>
</html>
`
