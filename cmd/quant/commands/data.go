package commands

import (
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/wonny/altquant/internal/contracts"
)

// dataCmd represents the data command
var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "대체 데이터 파이프라인",
	Long: `대체 데이터를 수집/정제/정렬/정규화하고 품질을 확인합니다.

Subcommands:
  align    - 가격과 지표를 거래일 기준으로 정렬
  quality  - 지표 품질 재평가

Example:
  go run ./cmd/quant data align --symbol 005930 --indicators card_spend,web_traffic
  go run ./cmd/quant data quality card_spend`,
}

var (
	dataSymbol     string
	dataIndicators string
	dataStart      string
	dataEnd        string
)

var (
	dataAlignCmd = &cobra.Command{
		Use:   "align",
		Short: "정렬 데이터셋 생성",
		RunE:  runDataAlign,
	}

	dataQualityCmd = &cobra.Command{
		Use:   "quality [indicator_id...]",
		Short: "지표 품질 재평가",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDataQuality,
	}
)

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataAlignCmd)
	dataCmd.AddCommand(dataQualityCmd)

	dataAlignCmd.Flags().StringVar(&dataSymbol, "symbol", "", "종목 코드 (필수)")
	dataAlignCmd.Flags().StringVar(&dataIndicators, "indicators", "", "대체 지표 ID (쉼표 구분)")
	_ = dataAlignCmd.MarkFlagRequired("symbol")
	for _, c := range []*cobra.Command{dataAlignCmd, dataQualityCmd} {
		c.Flags().StringVar(&dataStart, "start", "", "시작일 (YYYY-MM-DD, default 1년 전)")
		c.Flags().StringVar(&dataEnd, "end", "", "종료일 (YYYY-MM-DD, default 오늘)")
	}
}

func runDataAlign(cmd *cobra.Command, args []string) error {
	r, err := parseRangeFlags(dataStart, dataEnd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ds, err := a.data.GetAlignedData(cmd.Context(), dataSymbol, splitCSV(dataIndicators), r)
	var partial *contracts.PartialDataError
	if err != nil && !errors.As(err, &partial) {
		return fmt.Errorf("align: %w", err)
	}

	PrintHeader("Aligned Dataset", [][2]string{
		{"Symbol", ds.Symbol},
		{"Period", formatDate(r.Start) + " ~ " + formatDate(r.End)},
		{"Days", fmt.Sprint(ds.Len())},
	})

	widths := []int{24, 8, 10, 8, 6}
	PrintTableHeader([]string{"SERIES", "VALID", "LAST", "QUALITY", "GRADE"}, widths)
	for _, name := range ds.Names() {
		s := ds.Series[name]
		valid, last := 0, math.NaN()
		for _, v := range s.Values() {
			if !math.IsNaN(v) {
				valid++
				last = v
			}
		}
		score, grade := "-", "-"
		if q, ok := ds.Quality[name]; ok {
			score, grade = formatFloat(q.Overall), string(q.Grade)
		}
		PrintTableRow([]string{name, fmt.Sprint(valid), formatFloat(last), score, grade}, widths)
	}

	for _, w := range ds.Warnings {
		PrintWarning(fmt.Sprintf("%s: stale (%s)", w.IndicatorID, w.Recommendation))
	}
	if partial != nil {
		for _, f := range partial.Failures {
			PrintError(fmt.Sprintf("%s failed at %s: %s", f.IndicatorID, f.Stage, f.Reason))
		}
	}
	return nil
}

func runDataQuality(cmd *cobra.Command, args []string) error {
	r, err := parseRangeFlags(dataStart, dataEnd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	failed := 0
	for _, id := range args {
		report, err := a.data.RefreshQuality(cmd.Context(), id, r)
		if err != nil {
			failed++
			PrintError(fmt.Sprintf("%s: %v", id, err))
			continue
		}
		q := report.Current
		fmt.Printf("📊 %s\n", id)
		PrintKeyValue("Completeness", formatFloat(q.Completeness), 12)
		PrintKeyValue("Freshness", formatFloat(q.Freshness), 12)
		PrintKeyValue("Consistency", formatFloat(q.Consistency), 12)
		PrintKeyValue("Overall", fmt.Sprintf("%s (%s)", formatFloat(q.Overall), q.Grade), 12)
		if report.Previous != nil {
			PrintKeyValue("Previous", formatFloat(report.Previous.Overall), 12)
		}
		if report.Warning != nil {
			PrintWarning(report.Warning.Recommendation)
		}
		fmt.Println()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d indicators failed", failed, len(args))
	}
	return nil
}
