package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/altquant/internal/strategyconfig"
	"github.com/wonny/altquant/pkg/config"
)

// presetsCmd represents the presets command
var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "최적화 프리셋 관리",
	Long: `YAML 프리셋 파일을 조회하고 검증합니다.

Example:
  go run ./cmd/quant presets list
  go run ./cmd/quant presets check --presets config/presets.yaml`,
}

var (
	presetsListCmd = &cobra.Command{
		Use:   "list",
		Short: "프리셋 목록",
		RunE:  listPresets,
	}

	presetsCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "프리셋 파일 검증",
		RunE:  checkPresets,
	}
)

func init() {
	rootCmd.AddCommand(presetsCmd)
	presetsCmd.AddCommand(presetsListCmd)
	presetsCmd.AddCommand(presetsCheckCmd)
}

func presetsPath() (string, error) {
	if presetsFile != "" {
		return presetsFile, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.PresetsPath, nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	path, err := presetsPath()
	if err != nil {
		return err
	}
	f, _, err := strategyconfig.Load(path)
	if err != nil {
		return err
	}
	catalog, err := strategyconfig.NewCatalog(f)
	if err != nil {
		return err
	}

	widths := []int{22, 10, 12, 8, 16}
	PrintTableHeader([]string{"NAME", "STRATEGY", "METRIC", "GRID", "HASH"}, widths)
	for _, name := range catalog.Names() {
		p, hash, err := catalog.Get(name)
		if err != nil {
			return err
		}
		PrintTableRow([]string{
			p.Name,
			p.Strategy,
			string(p.ParsedMetric()),
			fmt.Sprint(p.ParameterGrid().Size()),
			hash[:12],
		}, widths)
	}
	return nil
}

func checkPresets(cmd *cobra.Command, args []string) error {
	path, err := presetsPath()
	if err != nil {
		return err
	}
	f, _, err := strategyconfig.Load(path)
	if err != nil {
		PrintError(err.Error())
		return fmt.Errorf("presets invalid")
	}
	warnings := strategyconfig.Warnings(f)
	for _, w := range warnings {
		PrintWarning(fmt.Sprintf("[%s] %s: %s", w.Code, w.Preset, w.Message))
	}
	PrintSuccess(fmt.Sprintf("%s: %d presets valid, %d warnings", path, len(f.Presets), len(warnings)))
	return nil
}
