package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/altquant/internal/api"
	"github.com/wonny/altquant/internal/api/handlers"
	"github.com/wonny/altquant/internal/scheduler"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

이 명령어는:
- HTTP API 서버 시작
- 정렬 데이터 조회/최적화 실행 엔드포인트 제공
- (--with-scheduler) 백그라운드 작업 실행

Endpoints:
  GET  /health                       - Health check
  GET  /metrics                      - Prometheus metrics
  GET  /api/data/aligned             - 정렬 데이터셋 조회
  GET  /api/presets                  - 프리셋 목록
  POST /api/runs                     - 최적화 시작
  GET  /api/runs                     - 실행 목록
  GET  /api/runs/{id}                - 실행 상태
  POST /api/runs/{id}/cancel         - 실행 취소
  GET  /api/runs/{id}/results        - 순위 결과
  GET  /api/runs/{id}/sensitivity    - 파라미터 민감도

Example:
  go run ./cmd/quant api
  go run ./cmd/quant api --port 8080 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort       string
	withScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (default PORT)")
	apiCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "스케줄러를 같은 프로세스에서 실행")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== altquant API Server ===")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if apiPort != "" {
		a.cfg.Port = apiPort
	}
	log := a.log
	log.WithFields(map[string]interface{}{
		"port":  a.cfg.Port,
		"env":   a.cfg.Env,
		"store": a.cfg.StoreBackend,
	}).Info("Initializing API server")

	var sched *scheduler.Scheduler
	if withScheduler {
		sched, err = newScheduler(a)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
	}

	checks := []api.HealthCheck{{Name: "redis", Ping: a.redis.Ping}}
	if a.db != nil {
		checks = append(checks, api.HealthCheck{Name: "postgres", Ping: a.db.Ping})
	}
	researchHandler := handlers.NewResearchHandler(a.research, log)
	router := api.NewRouter(researchHandler, a.cfg.MetricsEnabled, log, checks...)
	server := api.New(a.cfg, log, router)

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	// Ctrl+C / SIGTERM 까지 실행
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	serveErr := server.Run(ctx)

	log.Info("Shutting down...")
	if sched != nil {
		sched.Stop()
	}
	// 실행 중인 최적화는 취소 후 FAILED 로 기록
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.research.Shutdown(sctx); err != nil {
		log.WithError(err).Warn("Research shutdown incomplete")
	}

	log.Info("Server stopped")
	return serveErr
}
