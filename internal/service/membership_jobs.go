package service

import (
	"context"
	"log/slog"
	"time"

	"Lee_Social/internal/logging"
	"Lee_Social/internal/metrics"
	"Lee_Social/internal/model"
)

const (
	DefaultRelayBatch     = 200
	DefaultRelayInterval  = time.Second
	DefaultRelayMaxRetry  = 10
	DefaultReconcileBatch = 500
	DefaultReconcileEvery = 5 * time.Minute
)

// OutboxRelayer 从 outbox 表读取成员事件并投递到 kafka
type OutboxRelayer struct {
	repo      OutboxRepository
	publisher Publisher
	logger    *slog.Logger
	batchSize int
	maxRetry  int
	interval  time.Duration
}

func NewOutboxRelayer(repo OutboxRepository, publisher Publisher, logger *slog.Logger) *OutboxRelayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxRelayer{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		batchSize: DefaultRelayBatch,
		maxRetry:  DefaultRelayMaxRetry,
		interval:  DefaultRelayInterval,
	}
}

// WithSchedule overrides the interval and batch size; zero values keep the defaults.
func (r *OutboxRelayer) WithSchedule(interval time.Duration, batchSize int) *OutboxRelayer {
	if interval > 0 {
		r.interval = interval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	return r
}

// Run outbox启动器，ctx 取消后返回
func (r *OutboxRelayer) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.DrainOnce(ctx)
		}
	}
}

// DrainOnce 投递一批事件，返回成功投递的条数
func (r *OutboxRelayer) DrainOnce(ctx context.Context) int {
	rows, err := r.repo.ListPending(ctx, r.batchSize, r.maxRetry)
	if err != nil {
		logging.LogError(ctx, r.logger, "outbox query failed", errStore("list outbox", err))
		return 0
	}
	sent := 0
	for i := range rows {
		ob := &rows[i]
		if err := r.publisher.Send(ctx, ob.CommunityID, []byte(ob.Payload)); err != nil {
			metrics.OutboxEventsTotal.WithLabelValues("failed").Inc()
			r.logger.WarnContext(ctx, "outbox publish failed", "id", ob.ID, "event", ob.EventType, "retry", ob.Retry, "error", err)
			if err := r.repo.MarkFailed(ctx, ob.ID); err != nil {
				logging.LogError(ctx, r.logger, "outbox mark failed", errStore("mark failed", err))
			}
			continue
		}
		if err := r.repo.MarkSent(ctx, ob.ID); err != nil {
			logging.LogError(ctx, r.logger, "outbox mark sent", errStore("mark sent", err))
			continue
		}
		metrics.OutboxEventsTotal.WithLabelValues("sent").Inc()
		sent++
	}
	return sent
}

// MemberCountReconciler 对账：用有效成员数修正 communities.member_count
type MemberCountReconciler struct {
	communities CommunityRepository
	members     MemberRepository
	logger      *slog.Logger
	batchSize   int
	interval    time.Duration
}

func NewMemberCountReconciler(communities CommunityRepository, members MemberRepository, logger *slog.Logger) *MemberCountReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemberCountReconciler{
		communities: communities,
		members:     members,
		logger:      logger,
		batchSize:   DefaultReconcileBatch, // 设置一次对账的大小
		interval:    DefaultReconcileEvery, // 对账的间隔时间
	}
}

func (r *MemberCountReconciler) WithSchedule(interval time.Duration, batchSize int) *MemberCountReconciler {
	if interval > 0 {
		r.interval = interval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	return r
}

// Run 对账定时任务启动器
func (r *MemberCountReconciler) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce 按 id 分批走完所有社区，返回修正的条数
func (r *MemberCountReconciler) ReconcileOnce(ctx context.Context) int {
	fixed := 0
	lastID := ""
	for {
		if ctx.Err() != nil {
			return fixed
		}
		batch, err := r.communities.ListAfter(ctx, lastID, r.batchSize)
		if err != nil {
			logging.LogError(ctx, r.logger, "reconcile list failed", errStore("list communities", err))
			return fixed
		}
		if len(batch) == 0 {
			return fixed
		}
		for i := range batch {
			if r.reconcile(ctx, &batch[i]) {
				fixed++
			}
		}
		lastID = batch[len(batch)-1].ID
		if len(batch) < r.batchSize {
			return fixed
		}
	}
}

func (r *MemberCountReconciler) reconcile(ctx context.Context, c *model.Community) bool {
	actual, err := r.members.CountForCommunity(ctx, c.ID)
	if err != nil {
		logging.LogError(ctx, r.logger, "count members failed", errStore("count members", err))
		return false
	}
	if actual == c.MemberCount {
		return false
	}
	if err := r.communities.SetMemberCount(ctx, c.ID, actual); err != nil {
		logging.LogError(ctx, r.logger, "fix member count failed", errStore("set member count", err))
		return false
	}
	metrics.MemberCountCorrections.Inc()
	r.logger.InfoContext(ctx, "member count corrected", "community_id", c.ID, "was", c.MemberCount, "now", actual)
	return true
}
