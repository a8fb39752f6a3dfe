package agentsim

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gosuda/datachat/internal/protocol"
)

// Script decides which events the simulated backend emits for a question.
type Script func(question string) []protocol.Event

var (
	dataPipeline   = []string{"router", "architect", "coder", "critic", "executor", "final_responder"}
	chartPipeline  = []string{"router", "architect", "coder", "critic", "executor", "viz_router", "visualizer", "final_responder"}
	schemaPipeline = []string{"router", "schema_responder"}
	failPipeline   = []string{"router", "architect", "coder", "executor", "error_handler"}
)

// DefaultScript walks the node sequence a real agent graph would take for the
// question and reports each node as it finishes:
//   - questions mentioning "fail" end in an error event,
//   - questions about the schema or tables short-circuit to the schema responder,
//   - questions asking for a chart or plot carry a visualization,
//   - everything else is answered as a plain data query.
func DefaultScript(question string) []protocol.Event {
	q := strings.ToLower(question)

	switch {
	case strings.Contains(q, "fail"):
		events := nodeUpdates(failPipeline)
		return append(events, protocol.ErrorEvent{Message: fmt.Sprintf("query execution failed for %q", question)})

	case strings.Contains(q, "schema") || strings.Contains(q, "tables"):
		events := nodeUpdates(schemaPipeline)
		return append(events, protocol.FinalResponse{Answer: "Available tables: " + strings.Join(tableNames(), ", ")})

	case strings.Contains(q, "chart") || strings.Contains(q, "plot"):
		events := nodeUpdates(chartPipeline)
		return append(events, protocol.FinalResponse{
			Answer:        "Here is the visualization for your data.",
			Visualization: barChart(),
		})

	default:
		events := nodeUpdates(dataPipeline)
		return append(events, protocol.FinalResponse{Answer: fmt.Sprintf("Here is the response to %q.", question)})
	}
}

func nodeUpdates(nodes []string) []protocol.Event {
	events := make([]protocol.Event, 0, len(nodes)+1)
	for _, node := range nodes {
		events = append(events, protocol.AgentUpdate{
			Agent:  node,
			Status: "completed",
			Text:   fmt.Sprintf("%s finished processing.", capitalize(node)),
		})
	}
	return events
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func barChart() json.RawMessage {
	tables := tableNames()
	rows := make([]int, len(tables))
	for i, t := range tables {
		rows[i] = len(sampleTables[t]) * 10
	}
	chart := map[string]any{
		"data": []map[string]any{{
			"type": "bar",
			"x":    tables,
			"y":    rows,
		}},
		"layout": map[string]any{"title": "Rows per table"},
	}
	b, err := json.Marshal(chart)
	if err != nil {
		return nil
	}
	return b
}
