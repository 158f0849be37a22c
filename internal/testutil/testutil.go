package testutil

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// AllocateTestPort returns a deterministic port based on test name
func AllocateTestPort(t *testing.T) int {
	t.Helper()
	return AllocateTestPortN(t, 0)
}

// AllocateTestPortN returns a deterministic port based on test name and index.
// Use different index values to get multiple unique ports within the same test.
func AllocateTestPortN(t *testing.T, n int) int {
	t.Helper()
	h := fnv.New32a()
	h.Write([]byte(t.Name()))
	h.Write([]byte{byte(n)})
	return 10000 + int(h.Sum32()%10000)
}

// WaitForHealthy waits for a URL to return 200 OK
func WaitForHealthy(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("Service at %s did not become healthy within %v", url, timeout)
}

// Eventually retries a condition until it returns true or timeout expires
func Eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Condition did not become true within timeout")
}

// WriteScript writes an executable bash script into a fresh temp dir and
// returns its path.
func WriteScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/bash\n" + body
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing script %s: %v", path, err)
	}
	return path
}

// Line builders for the backend protocol.

// TextLine is an assistant message carrying text.
func TextLine(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"text","text":%q}]}}`, text)
}

// ToolUseLine is an assistant message requesting one tool call.
func ToolUseLine(name, inputJSON string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":%q,"input":%s}]}}`, name, inputJSON)
}

// ResultLine closes a response with a usage record.
func ResultLine(result string, inputTokens, outputTokens int) string {
	return fmt.Sprintf(`{"type":"result","subtype":"success","result":%q,"usage":{"input_tokens":%d,"output_tokens":%d}}`,
		result, inputTokens, outputTokens)
}

// EchoBackend answers every request line with a fixed text reply and exits on EOF.
func EchoBackend(t *testing.T, reply string) string {
	t.Helper()
	return WriteScript(t, "echo-backend", fmt.Sprintf(`while IFS= read -r line; do
  echo '%s'
  echo '%s'
done
`, TextLine(reply), ResultLine(reply, 10, 2)))
}

// ScriptedBackend answers request i with responses[i], one protocol line per
// element. Requests beyond the script get an empty successful result.
func ScriptedBackend(t *testing.T, responses [][]string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("n=0\nwhile IFS= read -r line; do\n  n=$((n+1))\n  case $n in\n")
	for i, lines := range responses {
		fmt.Fprintf(&b, "    %d)\n      cat <<'EOF_%d'\n", i+1, i+1)
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "EOF_%d\n      ;;\n", i+1)
	}
	b.WriteString("    *)\n      echo '{\"type\":\"result\",\"subtype\":\"success\",\"result\":\"\"}'\n      ;;\n  esac\ndone\n")
	return WriteScript(t, "scripted-backend", b.String())
}

// StubbornBackend ignores EOF on stdin and only dies when killed.
func StubbornBackend(t *testing.T) string {
	t.Helper()
	return WriteScript(t, "stubborn-backend", "trap '' TERM\nsleep 60\n")
}

// RecordingBackend writes its arguments and environment to dir, then drains
// stdin until EOF.
func RecordingBackend(t *testing.T, dir string) string {
	t.Helper()
	return WriteScript(t, "recording-backend", fmt.Sprintf(`for a in "$@"; do printf '%%s\n' "$a"; done > %q
env > %q
pwd > %q
cat > /dev/null
`, filepath.Join(dir, "args"), filepath.Join(dir, "env"), filepath.Join(dir, "pwd")))
}
