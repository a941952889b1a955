// Package cleanup は失効トークンの定期削除ジョブを提供する。
// ログアウトで失効させたトークンは有効期限を過ぎれば検証で拒否されるため、
// 期限切れの失効レコードはcronスケジュールで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule はデフォルトの実行スケジュール（毎時0分）。
const DefaultSchedule = "0 * * * *"

// runTimeout は1回の削除処理のタイムアウト。
const runTimeout = time.Minute

// Purger は期限切れの失効レコードを削除するインターフェース。
// repository.RevokedTokenRepository が満たす。
type Purger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れの失効トークンを削除するジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	purger Purger
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(purger Purger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		purger: purger,
		logger: logger,
		now:    time.Now,
	}
}

// Run は現在時刻より前に期限切れとなった失効レコードを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	deleted, err := j.purger.DeleteExpired(ctx, start)
	if err != nil {
		j.logger.Error("失効トークンのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("失効トークンのクリーンアップに失敗: %w", err)
	}

	j.logger.Info("失効トークンのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Scheduler はCleanupJobをcron式に従って実行する。
type Scheduler struct {
	cron   *cron.Cron
	job    *CleanupJob
	logger *slog.Logger
}

// NewScheduler はスケジュールを検証してSchedulerを生成する。
// schedule が空の場合は DefaultSchedule を使用する。
func NewScheduler(job *CleanupJob, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s := &Scheduler{
		cron:   cron.New(),
		job:    job,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("クリーンアップスケジュールが不正です %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	// エラーはRun内でログ出力済み
	_ = s.job.Run(ctx)
}

// Start は起動直後に1回実行した後、コンテキストがキャンセルされるまでスケジュール実行を続ける。
// 戻るのは実行中のジョブが完了してから。
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("クリーンアップスケジューラを開始しました")

	s.runOnce()
	s.cron.Start()

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("クリーンアップスケジューラを停止しました")
}
