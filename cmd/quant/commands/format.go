package commands

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wonny/altquant/internal/contracts"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintHeader prints a formatted command header
func PrintHeader(title string, fields [][2]string) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", title)
	PrintSeparator()
	for _, f := range fields {
		fmt.Printf("  %-10s: %s\n", f[0], f[1])
	}
	PrintSeparator()
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	fmt.Println(strings.Repeat("─", totalWidth))
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

var rankedWidths = []int{5, 32, 9, 8, 8, 7, 6}

// PrintRanked prints ranked optimization results as a table
func PrintRanked(results []contracts.RankedResult) {
	PrintTableHeader([]string{"RANK", "PARAMS", "RETURN", "SHARPE", "MDD", "WIN", "TRADES"}, rankedWidths)
	for _, r := range results {
		m := r.Result.Metrics
		if r.Result.Failed() {
			PrintTableRow([]string{fmt.Sprint(r.Rank), r.Result.Params.Key(), "failed: " + r.Result.Error, "", "", "", ""}, rankedWidths)
			continue
		}
		PrintTableRow([]string{
			fmt.Sprint(r.Rank),
			r.Result.Params.Key(),
			formatPct(m.TotalReturn),
			formatFloat(m.SharpeRatio),
			formatPct(m.MaxDrawdown),
			formatPct(m.WinRate),
			fmt.Sprint(m.TradeCount),
		}, rankedWidths)
	}
}

func formatPct(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
