package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	presetsFile string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "altquant - 대체 데이터 기반 전략 리서치",
	Long: `altquant Unified CLI

대체 데이터(카드 결제, 검색량 등)를 가격 데이터와 정렬하고,
누적 수익률 시그널 전략을 백테스트/그리드 최적화합니다.

Usage:
  go run ./cmd/quant [command]

Examples:
  go run ./cmd/quant api
  go run ./cmd/quant data align --symbol 005930 --indicators card_spend
  go run ./cmd/quant optimize run --preset card_spend_overlay --symbol 005930
  go run ./cmd/quant presets list
  go run ./cmd/quant scheduler start`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&presetsFile, "presets", "", "presets YAML (default is PRESETS_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
