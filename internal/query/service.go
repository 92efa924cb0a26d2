package query

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"geojoin/internal/dataset"
	"geojoin/internal/geo"
	"geojoin/internal/logger"
	"geojoin/internal/metrics"
	"geojoin/internal/utils"

	"github.com/ammario/tlru"
	"github.com/redis/go-redis/v9"
	"golang.org/x/xerrors"
)

// Catalog：数据集查找（dataset.Registry 实现）
type Catalog interface {
	Lookup(id string) (dataset.Dataset, bool)
}

// Outcome：一次查询的缓存命中情况
type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeShared Outcome = "shared"
	OutcomeMiss   Outcome = "miss"
)

// Config：缓存容量与过期配置
type Config struct {
	// MaxFeatures：已完成条目的容量上限（按要素数计）
	MaxFeatures   int
	TTL           time.Duration
	RedisTTL      time.Duration
	RedisMaxBytes int
}

// ConfigFromEnv：QUERY_CACHE_MAX_FEATURES / QUERY_CACHE_TTL_S / QUERY_REDIS_TTL_S / QUERY_REDIS_MAX_BYTES
func ConfigFromEnv() Config {
	return Config{
		MaxFeatures:   utils.EnvInt("QUERY_CACHE_MAX_FEATURES", 200000),
		TTL:           utils.EnvSeconds("QUERY_CACHE_TTL_S", time.Hour),
		RedisTTL:      utils.EnvSeconds("QUERY_REDIS_TTL_S", 24*time.Hour),
		RedisMaxBytes: utils.EnvInt("QUERY_REDIS_MAX_BYTES", 8<<20),
	}
}

// 文档注释：过滤查询服务
// 背景：同一签名的并发请求共享一次扫描；完成的结果进入按要素数计费、带 TTL 的进程内缓存，可选 Redis 作为跨进程预热层。
// 约束：s.mu 只保护签名到进行中条目的映射与消费者计数，持锁期间不做 I/O；
// 数据集文件被替换（Generation 变化）后旧条目视为未命中。
type Service struct {
	catalog Catalog
	rc      *redis.Client
	cfg     Config
	open    func(path string) (io.ReadCloser, error)
	log     *slog.Logger

	mu       sync.Mutex
	inflight map[string]*entry
	done     *tlru.Cache[string, *entry]
	scans    sync.WaitGroup
}

// NewService：rc 可为 nil（不启用 Redis 层）
func NewService(catalog Catalog, rc *redis.Client, cfg Config) *Service {
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = 200000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Service{
		catalog:  catalog,
		rc:       rc,
		cfg:      cfg,
		open:     func(path string) (io.ReadCloser, error) { return os.Open(path) },
		log:      logger.L(),
		inflight: make(map[string]*entry),
		done:     tlru.New[string](entryCost, cfg.MaxFeatures),
	}
}

func entryCost(e *entry) int { return len(e.feats) + 1 }

// 文档注释：执行过滤查询并逐条输出结果
// 约束：未知数据集返回 ErrNotFound 且不创建条目；emit 出错或 ctx 结束时本消费者退出，
// 最后一个消费者在扫描完成前退出会取消扫描。
func (s *Service) Query(ctx context.Context, req *Request, emit func([]byte) error) (Outcome, error) {
	ds, ok := s.catalog.Lookup(req.Dataset)
	if !ok {
		return "", ErrNotFound
	}
	e, outcome := s.acquire(ds, req)
	defer s.release(e)
	n, err := e.stream(ctx, emit)
	metrics.QueryFeaturesTotal.Add(float64(n))
	return outcome, err
}

func (s *Service) acquire(ds dataset.Dataset, req *Request) (*entry, Outcome) {
	sig := req.Signature()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.inflight[sig]; ok && !e.abandoned && e.generation == ds.Generation {
		e.consumers++
		return e, OutcomeShared
	}
	if e, _, ok := s.done.Get(sig); ok && e.generation == ds.Generation {
		e.consumers++
		return e, OutcomeHit
	}
	e := newEntry(sig, ds.Generation)
	e.consumers = 1
	scanCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	s.inflight[sig] = e
	s.scans.Add(1)
	go s.fill(scanCtx, e, ds, req)
	return e, OutcomeMiss
}

func (s *Service) release(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.consumers--
	if e.consumers > 0 || e.cancel == nil || e.finished() {
		return
	}
	e.abandoned = true
	e.cancel()
	metrics.ScanAbandonedTotal.Inc()
	s.log.Debug("query_scan_abandoned", "sig", e.sig)
}

// fill：扫描协程，条目唯一写者
func (s *Service) fill(ctx context.Context, e *entry, ds dataset.Dataset, req *Request) {
	defer s.scans.Done()
	defer e.cancel()
	metrics.ScansInflight.Inc()
	defer metrics.ScansInflight.Dec()

	start := time.Now()
	fromRedis := s.loadRedis(ctx, e, ds)
	var err error
	if !fromRedis {
		err = s.scan(ctx, e, ds, req)
	}
	e.finish(err)

	// 被同签名的新条目取代（数据集已替换或本条目已放弃）后不再写入完成缓存
	s.mu.Lock()
	current := s.inflight[e.sig] == e
	if current {
		delete(s.inflight, e.sig)
	}
	if err == nil && current {
		s.done.Set(e.sig, e, s.cfg.TTL)
	}
	s.mu.Unlock()

	feats, size := e.snapshot()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("query_scan_error", "sig", e.sig, "path", ds.Path, "err", err)
		return
	}
	s.log.Debug("query_scan_done", "sig", e.sig, "features", len(feats), "bytes", size,
		"redis", fromRedis, "duration_ms", time.Since(start).Milliseconds())
	if !fromRedis {
		s.storeRedis(e, feats, size)
	}
}

func (s *Service) scan(ctx context.Context, e *entry, ds dataset.Dataset, req *Request) error {
	f, err := s.open(ds.Path)
	if err != nil {
		return xerrors.Errorf("open dataset %s: %w", ds.ID, err)
	}
	defer f.Close()
	r := geo.NewReader(bufio.NewReaderSize(f, 1<<20))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := r.NextRaw()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("read dataset %s: %w", ds.ID, err)
		}
		out, ok, err := match(raw, req, ds.KeyField)
		if err != nil {
			return xerrors.Errorf("dataset %s: %w", ds.ID, err)
		}
		if ok {
			e.append(out)
		}
	}
}

func redisKey(e *entry) string {
	return "geojoin:q:" + strconv.FormatInt(e.generation, 10) + ":" + e.sig
}

// loadRedis：命中时把缓存结果追加到条目
// 约束：Redis 错误只记录日志并回退到扫描
func (s *Service) loadRedis(ctx context.Context, e *entry, ds dataset.Dataset) bool {
	if s.rc == nil {
		return false
	}
	b, err := s.rc.Get(ctx, redisKey(e)).Bytes()
	if err == redis.Nil {
		metrics.RedisMissesTotal.Inc()
		return false
	}
	if err != nil {
		s.log.Warn("query_redis_get_error", "sig", e.sig, "err", err)
		return false
	}
	var feats []json.RawMessage
	if err := json.Unmarshal(b, &feats); err != nil {
		s.log.Warn("query_redis_decode_error", "sig", e.sig, "err", err)
		return false
	}
	metrics.RedisHitsTotal.Inc()
	for _, f := range feats {
		e.append(f)
	}
	return true
}

func (s *Service) storeRedis(e *entry, feats [][]byte, size int) {
	if s.rc == nil || (s.cfg.RedisMaxBytes > 0 && size > s.cfg.RedisMaxBytes) {
		return
	}
	arr := make([]json.RawMessage, len(feats))
	for i, f := range feats {
		arr[i] = f
	}
	b, err := json.Marshal(arr)
	if err != nil {
		s.log.Warn("query_redis_encode_error", "sig", e.sig, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.rc.Set(ctx, redisKey(e), b, s.cfg.RedisTTL).Err(); err != nil {
		s.log.Warn("query_redis_set_error", "sig", e.sig, "err", err)
	}
}

// Wait：等待所有扫描协程退出（关停与测试使用）
func (s *Service) Wait() { s.scans.Wait() }
