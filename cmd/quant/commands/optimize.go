package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/altquant/internal/contracts"
	"github.com/wonny/altquant/internal/research"
)

// optimizeCmd represents the optimize command
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "파라미터 그리드 최적화",
	Long: `전략 파라미터 그리드를 백테스트하여 순위를 매깁니다.

Subcommands:
  run       - 그리드 최적화 실행 (완료까지 대기)
  validate  - in-sample/out-of-sample 분할 또는 walk-forward 검증

Grid 형식: name=min:max:step[,name=min:max:step...]

Example:
  go run ./cmd/quant optimize run --preset card_spend_overlay --symbol 005930
  go run ./cmd/quant optimize run --strategy cumret --symbol 005930 \
      --grid window=5:60:5,threshold=0.01:0.1:0.01 --metric sharpe_ratio
  go run ./cmd/quant optimize validate --preset price_baseline --symbol 005930 --folds 4`,
}

var (
	optStrategy   string
	optSymbol     string
	optIndicators string
	optGrid       string
	optMetric     string
	optPreset     string
	optStart      string
	optEnd        string
	optWorkers    int
	optTop        int
	optFolds      int
	optParam      string
)

var (
	optimizeRunCmd = &cobra.Command{
		Use:   "run",
		Short: "그리드 최적화 실행",
		RunE:  runOptimize,
	}

	optimizeValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "과최적화 검증 (split / walk-forward)",
		RunE:  runValidate,
	}
)

func init() {
	rootCmd.AddCommand(optimizeCmd)
	optimizeCmd.AddCommand(optimizeRunCmd)
	optimizeCmd.AddCommand(optimizeValidateCmd)

	for _, c := range []*cobra.Command{optimizeRunCmd, optimizeValidateCmd} {
		c.Flags().StringVar(&optStrategy, "strategy", "", "전략 이름 (preset 사용 시 생략 가능)")
		c.Flags().StringVar(&optSymbol, "symbol", "", "종목 코드 (필수)")
		c.Flags().StringVar(&optIndicators, "indicators", "", "대체 지표 ID (쉼표 구분)")
		c.Flags().StringVar(&optGrid, "grid", "", "파라미터 그리드 (name=min:max:step,...)")
		c.Flags().StringVar(&optMetric, "metric", "", "최적화 지표 (default sharpe_ratio)")
		c.Flags().StringVar(&optPreset, "preset", "", "프리셋 이름")
		c.Flags().StringVar(&optStart, "start", "", "시작일 (YYYY-MM-DD, default 1년 전)")
		c.Flags().StringVar(&optEnd, "end", "", "종료일 (YYYY-MM-DD, default 오늘)")
		c.Flags().IntVar(&optWorkers, "workers", 0, "워커 수 (0 = 기본값)")
		_ = c.MarkFlagRequired("symbol")
	}
	optimizeRunCmd.Flags().IntVar(&optTop, "top", 10, "출력할 상위 결과 수")
	optimizeRunCmd.Flags().StringVar(&optParam, "sensitivity", "", "완료 후 민감도를 분석할 파라미터")
	optimizeValidateCmd.Flags().IntVar(&optFolds, "folds", 0, "walk-forward fold 수 (0 = 50/50 split)")
}

func optimizeRequest() (research.StartRequest, error) {
	r, err := parseRangeFlags(optStart, optEnd)
	if err != nil {
		return research.StartRequest{}, err
	}
	grid, err := parseGridFlag(optGrid)
	if err != nil {
		return research.StartRequest{}, err
	}
	req := research.StartRequest{
		Strategy:   optStrategy,
		Symbol:     optSymbol,
		Indicators: splitCSV(optIndicators),
		Grid:       grid,
		Range:      r,
		Preset:     optPreset,
		Workers:    optWorkers,
	}
	if optMetric != "" {
		m, err := contracts.ParseMetric(optMetric)
		if err != nil {
			return research.StartRequest{}, err
		}
		req.Metric = m
	}
	return req, nil
}

func runOptimize(cmd *cobra.Command, args []string) error {
	req, err := optimizeRequest()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runID, err := a.research.StartOptimization(ctx, req)
	if err != nil {
		return fmt.Errorf("start optimization: %w", err)
	}
	run, err := a.research.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	PrintHeader("Grid Optimization", [][2]string{
		{"Run ID", runID},
		{"Strategy", run.Strategy},
		{"Symbol", run.Symbol},
		{"Period", formatDate(run.Range.Start) + " ~ " + formatDate(run.Range.End)},
		{"Metric", string(run.Metric)},
		{"Grid", fmt.Sprintf("%d combinations", run.TotalCombinations)},
	})

	run, err = a.research.Wait(ctx, runID)
	if err != nil {
		// Ctrl+C: 실행을 취소하고 종료 기록까지 대기
		_ = a.research.CancelRun(context.Background(), runID)
		run, err = a.research.Wait(context.Background(), runID)
		if err != nil {
			return err
		}
	}

	switch {
	case run.Status == contracts.RunStatusFailed:
		PrintError("Run failed: " + run.Reason)
	case run.Partial:
		PrintWarning("Partial result: " + run.Reason)
	default:
		PrintSuccess("Run completed")
	}
	for _, f := range run.Omissions {
		PrintWarning(fmt.Sprintf("Omitted %s (%s): %s", f.IndicatorID, f.Stage, f.Reason))
	}

	results, err := a.research.GetResults(context.Background(), runID, optTop)
	if err != nil {
		return err
	}
	fmt.Println()
	PrintRanked(results)

	if optParam != "" && run.Status == contracts.RunStatusCompleted {
		report, err := a.research.GetSensitivity(context.Background(), runID, optParam)
		if err != nil {
			return fmt.Errorf("sensitivity: %w", err)
		}
		printSensitivity(report)
	}

	if run.Status == contracts.RunStatusFailed {
		return fmt.Errorf("run %s failed", runID)
	}
	return nil
}

func printSensitivity(report *contracts.SensitivityReport) {
	fmt.Println()
	PrintSeparator()
	fmt.Printf("  Sensitivity: %s (%s)\n", report.Parameter, report.Metric)
	PrintSeparator()
	for i, v := range report.Values {
		fmt.Printf("   %-10g %s\n", v, formatFloat(report.MetricValues[i]))
	}
	for _, e := range report.Errors {
		PrintWarning(e)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	req, err := optimizeRequest()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if optFolds > 0 {
		report, err := a.research.WalkForward(ctx, req, optFolds)
		if err != nil {
			return fmt.Errorf("walk-forward: %w", err)
		}
		PrintHeader("Walk-Forward Validation", [][2]string{
			{"Folds", strconv.Itoa(len(report.Folds))},
			{"Scored", strconv.Itoa(report.Scored)},
			{"Mean test", formatFloat(report.MeanTestScore)},
		})
		widths := []int{23, 23, 28, 8, 8}
		PrintTableHeader([]string{"TRAIN", "TEST", "BEST", "TRAIN", "TEST"}, widths)
		for _, f := range report.Folds {
			best := f.Best.Key()
			if f.Error != "" {
				best = "error: " + f.Error
			}
			PrintTableRow([]string{
				formatDate(f.Train.Start) + "~" + formatDate(f.Train.End),
				formatDate(f.Test.Start) + "~" + formatDate(f.Test.End),
				best,
				formatFloat(f.TrainScore),
				formatFloat(f.TestScore),
			}, widths)
		}
		return nil
	}

	report, err := a.research.SplitValidate(ctx, req)
	if err != nil {
		return fmt.Errorf("split validate: %w", err)
	}
	PrintHeader("In/Out-of-Sample Validation", [][2]string{
		{"In", formatDate(report.InSample.Start) + " ~ " + formatDate(report.InSample.End)},
		{"Out", formatDate(report.OutOfSample.Start) + " ~ " + formatDate(report.OutOfSample.End)},
		{"Best", report.Best.Key()},
	})
	PrintKeyValue("In-sample Sharpe", formatFloat(report.InSharpe), 18)
	PrintKeyValue("Out-sample Sharpe", formatFloat(report.OutSharpe), 18)
	PrintKeyValue("Degradation", formatPct(report.Degradation), 18)
	if report.Overfit {
		PrintWarning("Potential overfitting: out-of-sample Sharpe degraded beyond the preset limit")
	} else {
		PrintSuccess("No overfitting detected")
	}
	return nil
}

// parseGridFlag parses "window=5:60:5,threshold=0.01:0.1:0.01"
func parseGridFlag(s string) (contracts.ParameterGrid, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	grid := contracts.ParameterGrid{}
	for _, part := range splitCSV(s) {
		name, spec, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("grid %q: want name=min:max:step", part)
		}
		bounds := strings.Split(spec, ":")
		if len(bounds) == 1 {
			bounds = []string{bounds[0], bounds[0], "0"}
		}
		if len(bounds) != 3 {
			return nil, fmt.Errorf("grid %q: want name=min:max:step", part)
		}
		var vals [3]float64
		for i, b := range bounds {
			v, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
			if err != nil {
				return nil, fmt.Errorf("grid %q: %w", part, err)
			}
			vals[i] = v
		}
		grid[strings.TrimSpace(name)] = contracts.ParameterRange{Min: vals[0], Max: vals[1], Step: vals[2]}
	}
	return grid, grid.Validate()
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
