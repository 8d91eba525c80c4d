package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/intelliinspect/internal/apperr"
	"github.com/kalambet/intelliinspect/internal/evaluate"
	"github.com/kalambet/intelliinspect/internal/storage"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_TrainModel(t *testing.T) {
	svc := &mockService{rec: evaluate.Record{
		Status:           evaluate.StatusSuccess,
		Message:          "Model trained successfully",
		ModelPerformance: &evaluate.Performance{Accuracy: 90, F1Score: 88.5},
	}}
	handler := mcpTrainModel(MCPDeps{Service: svc})

	result, err := handler(context.Background(), makeCallToolRequest("train_model", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var rec evaluate.Record
	if err := json.Unmarshal([]byte(toolText(t, result)), &rec); err != nil {
		t.Fatalf("result is not a record: %v", err)
	}
	if rec.ModelPerformance.F1Score != 88.5 {
		t.Errorf("f1_score = %v", rec.ModelPerformance.F1Score)
	}
}

func TestMCPTool_TrainModel_FailFast(t *testing.T) {
	svc := &mockService{trainErr: apperr.New(apperr.EmptyPartition, "No test data found")}
	handler := mcpTrainModel(MCPDeps{Service: svc})

	result, err := handler(context.Background(), makeCallToolRequest("train_model", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if text := toolText(t, result); !strings.Contains(text, "No test data found") || !strings.Contains(text, "EmptyPartitionError") {
		t.Errorf("text = %q", text)
	}
}

func TestMCPTool_TrainModel_FailureRecord(t *testing.T) {
	err := apperr.Wrap(apperr.Training, errors.New("diverged"), "fitting classifier")
	svc := &mockService{rec: evaluate.Failure(err), trainErr: err}
	handler := mcpTrainModel(MCPDeps{Service: svc})

	result, _ := handler(context.Background(), makeCallToolRequest("train_model", nil))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if text := toolText(t, result); !strings.HasPrefix(text, "Training failed: ") {
		t.Errorf("text = %q", text)
	}
}

func TestMCPTool_TrainingStatus(t *testing.T) {
	handler := mcpTrainingStatus(MCPDeps{Service: &mockService{}})

	result, err := handler(context.Background(), makeCallToolRequest("training_status", nil))
	if err != nil || result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if text := toolText(t, result); !strings.Contains(text, `"latest_training":"success"`) {
		t.Errorf("text = %q", text)
	}
}

func TestMCPTool_TrainingMetrics(t *testing.T) {
	raw := `{"status": "success"}`
	handler := mcpTrainingMetrics(MCPDeps{Service: &mockService{metrics: []byte(raw)}})

	result, err := handler(context.Background(), makeCallToolRequest("training_metrics", nil))
	if err != nil || result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if text := toolText(t, result); text != raw {
		t.Errorf("text = %q, want %q", text, raw)
	}
}

func TestMCPTool_TrainingMetrics_Missing(t *testing.T) {
	svc := &mockService{metricErr: apperr.Wrap(apperr.MissingArtifact, fs.ErrNotExist, "No training metrics found. Train a model first.")}
	handler := mcpTrainingMetrics(MCPDeps{Service: svc})

	result, _ := handler(context.Background(), makeCallToolRequest("training_metrics", nil))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_TrainingRuns(t *testing.T) {
	svc := &mockService{runs: []storage.Run{{ID: "r1"}, {ID: "r2"}}}
	handler := mcpTrainingRuns(MCPDeps{Service: svc})

	result, err := handler(context.Background(), makeCallToolRequest("training_runs", map[string]interface{}{"limit": 2}))
	if err != nil || result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if svc.runsLimit != 2 {
		t.Errorf("limit = %d, want 2", svc.runsLimit)
	}
	var runs []storage.Run
	if err := json.Unmarshal([]byte(toolText(t, result)), &runs); err != nil || len(runs) != 2 {
		t.Errorf("runs = %v (%v)", runs, err)
	}

	if _, err := handler(context.Background(), makeCallToolRequest("training_runs", nil)); err != nil {
		t.Fatal(err)
	}
	if svc.runsLimit != 10 {
		t.Errorf("default limit = %d, want 10", svc.runsLimit)
	}
}

func TestMCPResource_Metrics(t *testing.T) {
	raw := `{"status": "success"}`
	handler := mcpResourceMetrics(MCPDeps{Service: &mockService{metrics: []byte(raw)}})

	contents, err := handler(context.Background(), makeReadResourceRequest(metricsURI))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.Text != raw || tc.URI != metricsURI || tc.MIMEType != "application/json" {
		t.Errorf("contents = %+v", tc)
	}
}

func TestMCPResource_Metrics_Missing(t *testing.T) {
	svc := &mockService{metricErr: apperr.New(apperr.MissingArtifact, "No training metrics found. Train a model first.")}
	handler := mcpResourceMetrics(MCPDeps{Service: svc})

	if _, err := handler(context.Background(), makeReadResourceRequest(metricsURI)); err == nil {
		t.Fatal("expected error")
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	svc := &mockService{metrics: []byte(`{}`)}
	deps := MCPDeps{Service: svc}
	statusHandler := mcpTrainingStatus(deps)
	metricsHandler := mcpTrainingMetrics(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if r, err := statusHandler(context.Background(), makeCallToolRequest("training_status", nil)); err != nil || r.IsError {
				errs <- errors.New("status call failed")
			}
		}()
		go func() {
			defer wg.Done()
			if r, err := metricsHandler(context.Background(), makeCallToolRequest("training_metrics", nil)); err != nil || r.IsError {
				errs <- errors.New("metrics call failed")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNewMCPServer(t *testing.T) {
	if s := NewMCPServer(MCPDeps{Service: &mockService{}}); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
