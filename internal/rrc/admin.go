package rrc

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"
)

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!DOCTYPE html>
<html>
<head><title>rrc send command</title></head>
<body>
<form method="POST" action="rrc-send-api">
  <select name="instruction">
  {{range $name, $help := .}}<option value="{{$name}}">{{$name}}: {{$help}}</option>
  {{end}}</select>
  <input name="strings" placeholder="string values, comma separated">
  <input name="floats" placeholder="float values, comma separated">
  <label><input type="checkbox" name="wait" value="1"> wait for feedback</label>
  <button type="submit">Send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("rrc-tail").onmessage = (e) => { tail.textContent += e.data + "\n"; };
</script>
</body>
</html>
`))

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// commandFromForm builds a command from the admin form fields.
func commandFromForm(r *http.Request) (Command, error) {
	instruction := strings.TrimSpace(r.FormValue("instruction"))
	if !IsAllowed(instruction) {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownInstruction, instruction)
	}
	c := cmd(instruction, splitList(r.FormValue("strings")))
	for _, f := range splitList(r.FormValue("floats")) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Command{}, fmt.Errorf("invalid float value %q", f)
		}
		c.FloatValues = append(c.FloatValues, v)
	}
	return c, nil
}

// AttachAdminRoutes adds the send-command form and a live feedback tail to
// the debug mux. Moves sent from here are not coordinated with a running
// fabrication loop.
func (c *Client) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("rrc-send", "send a command to the robot controller", func(w http.ResponseWriter, r *http.Request) {
		if err := sendCommandTemplate.Execute(w, allowedInstructions); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("rrc-send-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command, err := commandFromForm(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("wait") == "" {
			f, err := c.Send(command)
			if err != nil {
				http.Error(w, "Failed to send command", http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"seq": f.Seq(), "sent": command.String()})
			return
		}
		fb, err := c.SendAndWait(r.Context(), command, DefaultTimeout)
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		json.NewEncoder(w).Encode(fb)
	})

	debug.HandleSilentFunc("rrc-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, lines := c.link.Subscribe()
		defer c.link.Unsubscribe(id)

		flusher, _ := w.(http.Flusher)
		w.Write([]byte(": ping\n\n"))
		if flusher != nil {
			flusher.Flush()
		}

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	})
}
