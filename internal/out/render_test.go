package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/hubroute/internal/config"
	"github.com/ggonzalez94/hubroute/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    map[string]any{"owner": "hub", "quote": map[string]any{"out_amount": "0.5", "session_id": "s"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"owner", "quote.out_amount"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if out["owner"] != "hub" || out["quote.out_amount"] != "0.5" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out["quote"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderPlainFlattensNested(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    []map[string]any{{"owner": "dex", "quote": map[string]any{"out_amount": "1"}}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "owner=dex quote.out_amount=1" {
		t.Fatalf("unexpected plain output: %s", got)
	}
}

func TestRenderLineIsCompact(t *testing.T) {
	var buf bytes.Buffer
	tick := model.WatchTick{Owner: "hub", OutAmount: "2"}
	if err := RenderLine(&buf, tick, config.Settings{OutputMode: "json"}); err != nil {
		t.Fatalf("RenderLine failed: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 1 || !strings.Contains(buf.String(), `"owner":"hub"`) {
		t.Fatalf("unexpected line: %q", buf.String())
	}
}
