package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kalambet/intelliinspect/internal/evaluate"
	"github.com/kalambet/intelliinspect/internal/pipeline"
	"github.com/kalambet/intelliinspect/internal/simulate"
	"github.com/kalambet/intelliinspect/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecord(rec evaluate.Record) {
	if rec.Status != evaluate.StatusSuccess {
		printError("%s", rec.Message)
		if rec.ErrorType != "" {
			printStatus("Error type", "%s", rec.ErrorType)
		}
		return
	}
	printSuccess("%s", rec.Message)
	if info := rec.TrainingInfo; info != nil {
		printStatus("Rows", "%d train / %d test (%d total)", info.TrainRows, info.TestRows, info.TotalRowsUsed)
		printStatus("Classes", "%d positive / %d negative, scale_pos_weight %.2f",
			info.PositiveSamples, info.NegativeSamples, info.ScalePosWeight)
		printStatus("Features", "%d", info.FeaturesUsed)
	}
	if p := rec.ModelPerformance; p != nil {
		printStatus("Accuracy", "%.2f%%", p.Accuracy)
		printStatus("Precision", "%.2f%%", p.Precision)
		printStatus("Recall", "%.2f%%", p.Recall)
		printStatus("F1", "%.2f%%", p.F1Score)
	}
	if c := rec.ConfusionMatrix; c != nil {
		printStatus("Confusion", "TP %d  TN %d  FP %d  FN %d", c.TruePositive, c.TrueNegative, c.FalsePositive, c.FalseNegative)
	}
	if m := rec.TrainingMetrics; m != nil {
		printStatus("Rounds", "%d", m.EpochsTrained)
	}
}

// formatEvent renders one simulation event as a single line.
func formatEvent(ev simulate.Event) string {
	switch ev.Type {
	case simulate.TypePrediction:
		label := colorize(colorGreen, ev.Prediction)
		if ev.Prediction == simulate.LabelFail {
			label = colorize(colorRed, ev.Prediction)
		}
		conf := 0.0
		if ev.Confidence != nil {
			conf = *ev.Confidence
		}
		return fmt.Sprintf("%s  %-12v %s %6.2f%%  actual %-7s %s",
			ev.Timestamp, ev.ID, label, conf, ev.Actual, formatFeatures(ev.Features))
	case simulate.TypeError:
		if ev.ID != nil {
			return colorize(colorYellow, fmt.Sprintf("%s  %-12v Error: %s", ev.Timestamp, ev.ID, ev.Error))
		}
		return colorize(colorRed, "error: "+ev.Error)
	default:
		return colorize(colorCyan, ev.Message)
	}
}

func formatFeatures(f map[string]float64) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.2f", k, f[k])
	}
	return strings.Join(parts, " ")
}

func printStatusReport(rep pipeline.StatusReport) {
	printStatus("Storage", "%s", rep.StoragePath)
	names := make([]string, 0, len(rep.Files))
	for name := range rep.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fi := rep.Files[name]
		if fi.Exists {
			printStatus(name, "%.2f MB", fi.SizeMB)
		} else {
			printStatus(name, "missing")
		}
	}
	if rep.LatestTraining != "" {
		printStatus("Latest training", "%s", rep.LatestTraining)
	}
	if p := rep.LatestPerformance; p != nil {
		printStatus("Accuracy", "%.2f%%", p.Accuracy)
	}
	if r := rep.LastRun; r != nil {
		printStatus("Last run", "%s at %s", r.Status, r.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

func printRuns(w io.Writer, runs []storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no training runs recorded")
		return
	}
	for _, r := range runs {
		status := colorize(colorGreen, r.Status)
		if r.Status != storage.RunSuccess {
			status = colorize(colorRed, r.Status)
		}
		line := fmt.Sprintf("%s  %s  %-7s", r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.ID[:min(8, len(r.ID))], status)
		if r.Status == storage.RunSuccess {
			line += fmt.Sprintf("  acc %.2f%%  f1 %.2f%%  rounds %d", r.Accuracy, r.F1Score, r.Epochs)
		} else {
			line += "  " + r.ErrorKind + ": " + r.Message
		}
		fmt.Fprintln(w, line)
	}
}
