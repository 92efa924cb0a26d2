// 包 dataset：连接结果目录的数据集注册表，支持文件变化热加载
package dataset

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"geojoin/internal/logger"
	"geojoin/internal/metrics"
	"geojoin/internal/profile"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/xerrors"
)

// JoinSuffix：连接结果文件后缀
const JoinSuffix = "_join.geojson"

// DataSuffix：表格数据文件后缀
const DataSuffix = "_data.csv"

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidID：数据集标识只允许字母数字与 _ . -，且不含 ".."，避免路径穿越
func ValidID(id string) bool {
	return validID.MatchString(id) && !strings.Contains(id, "..")
}

// Dataset：一个已落盘的连接结果
// 约束：Generation 取文件修改时间（纳秒），文件被原子替换后随之变化，用于淘汰旧缓存。
type Dataset struct {
	ID         string
	Path       string
	DataPath   string
	Generation int64
	Size       int64
	KeyField   string
	Profile    string
}

// 文档注释：数据集注册表
// 背景：查询服务按标识定位连接结果；批处理重新产出文件后无需重启服务。
// 约束：快照通过 atomic.Value 整体替换，读路径无锁；未知档案的数据集回退到 GISJOIN 作为键字段。
type Registry struct {
	dir      string
	dataDir  string
	profiles *profile.Registry
	snap     atomic.Value
}

func NewRegistry(dir, dataDir string, profiles *profile.Registry) *Registry {
	r := &Registry{dir: dir, dataDir: dataDir, profiles: profiles}
	r.snap.Store(map[string]Dataset{})
	return r
}

// generation：修改时间（纳秒）加文件大小；修改时间精度不足时，大小不同的重写也能区分
func generation(info fs.FileInfo) int64 {
	return info.ModTime().UnixNano() + info.Size()
}

// Reload：重新扫描目录
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return xerrors.Errorf("scan %s: %w", r.dir, err)
	}
	next := make(map[string]Dataset)
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, JoinSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, JoinSuffix)
		if !ValidID(id) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		ds := Dataset{
			ID:         id,
			Path:       filepath.Join(r.dir, name),
			DataPath:   filepath.Join(r.dataDir, id+DataSuffix),
			Generation: generation(info),
			Size:       info.Size(),
			KeyField:   profile.DefaultCanonicalField,
		}
		if r.profiles != nil {
			if p, err := r.profiles.Lookup(id); err == nil {
				ds.KeyField = p.CanonicalField
				ds.Profile = p.ID
			}
		}
		next[id] = ds
	}
	r.snap.Store(next)
	metrics.DatasetsLoaded.Set(float64(len(next)))
	logger.L().Debug("dataset_reload", "dir", r.dir, "count", len(next))
	return nil
}

func (r *Registry) current() map[string]Dataset {
	return r.snap.Load().(map[string]Dataset)
}

// Lookup：按标识查找数据集
func (r *Registry) Lookup(id string) (Dataset, bool) {
	ds, ok := r.current()[id]
	return ds, ok
}

// List：当前数据集（按标识排序）
func (r *Registry) List() []Dataset {
	cur := r.current()
	out := make([]Dataset, 0, len(cur))
	for _, ds := range cur {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// 文档注释：监听目录变化并重新加载
// 背景：批处理以“临时文件 + 重命名”方式产出，create/rename/write/remove 均触发一次全量扫描（目录规模很小）。
// 约束：ctx 取消后关闭监听器；扫描失败只记录日志，保留上一份快照。
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Errorf("new watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		_ = w.Close()
		return xerrors.Errorf("watch %s: %w", r.dir, err)
	}
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, JoinSuffix) {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					logger.L().Error("dataset_reload_error", "err", err)
				} else {
					logger.L().Info("dataset_reloaded", "event", ev.Op.String(), "file", filepath.Base(ev.Name))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.L().Error("dataset_watch_error", "err", err)
			}
		}
	}()
	return nil
}

// 文档注释：定时全量扫描
// 背景：网络文件系统上 fsnotify 可能收不到事件，退化为固定间隔重扫；错误由日志记录，调度继续。
// 约束：ctx 取消后退出；interval<=0 时不启动。
func (r *Registry) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := r.Reload(); err != nil {
					logger.L().Error("dataset_reload_error", "err", err)
				}
			}
		}
	}()
}
