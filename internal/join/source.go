// 包 join：普查/NHGIS 边界差异比对与表格-边界外连接（单遍流式，只缓存未匹配记录）
package join

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"os"
	"sync"

	"geojoin/internal/geo"
	"geojoin/internal/profile"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Opener：打开一个输入流；外部边界文件在两个阶段各读一遍，因此以函数形式传入
type Opener func() (io.ReadCloser, error)

// FileOpener：按路径打开文件
func FileOpener(path string) Opener {
	return func() (io.ReadCloser, error) { return os.Open(path) }
}

// Source：边界记录来源（分类后的标签）
type Source int

const (
	SourceCensus Source = iota
	SourceExternal
)

func (s Source) String() string {
	if s == SourceExternal {
		return "external"
	}
	return "census"
}

// boundary：分类后的边界记录
type boundary struct {
	src Source
	key string
	f   *geo.Feature
}

// 文档注释：入口分类
// 背景：NHGIS 记录同时携带统一键与普查键；普查记录只有普查键。分类只在入口做一次，后续逻辑统一消费标签。
// 约束：无属性或两类都不符合视为 SchemaError。
func classify(p *profile.Profile, f *geo.Feature) (boundary, error) {
	if len(f.Properties) == 0 {
		return boundary{}, &profile.SchemaError{Reason: "feature missing properties"}
	}
	key, ok := p.CensusKey(f.Properties)
	if !ok {
		return boundary{}, &profile.SchemaError{Field: p.CensusKeyFields[0], Reason: "feature is neither a census nor an external boundary"}
	}
	if p.HasCanonical(f.Properties) {
		return boundary{src: SourceExternal, key: key, f: f}, nil
	}
	return boundary{src: SourceCensus, key: key, f: f}, nil
}

// item：合并流中的一条记录（要素或表格行，二者取其一）
type item struct {
	feature *geo.Feature
	row     []string
}

type producer func(ctx context.Context, out chan<- item) error

// mergeBuffer：合并通道容量；生产者在通道满时阻塞，形成背压
const mergeBuffer = 256

// 文档注释：多源合并消费
// 背景：每个输入由独立协程读取并写入同一通道，单个消费者顺序处理，匹配状态无需加锁。
// 约束：任一生产者或消费者出错即取消其余协程；不做重试。
func consume(ctx context.Context, producers []producer, handle func(item) error) error {
	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan item, mergeBuffer)
	var wg sync.WaitGroup
	for _, p := range producers {
		p := p
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return p(gctx, ch)
		})
	}
	go func() {
		wg.Wait()
		close(ch)
	}()
	g.Go(func() error {
		for it := range ch {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := handle(it); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func send(ctx context.Context, out chan<- item, it item) error {
	select {
	case out <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// featureSource：逐个读取 GeoJSON 要素
func featureSource(name string, open Opener) producer {
	return func(ctx context.Context, out chan<- item) error {
		rc, err := open()
		if err != nil {
			return xerrors.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		r := geo.NewReader(bufio.NewReaderSize(rc, 1<<20))
		for {
			f, err := r.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return xerrors.Errorf("read %s: %w", name, err)
			}
			if err := send(ctx, out, item{feature: f}); err != nil {
				return err
			}
		}
	}
}

// rowSource：逐行读取 CSV，首行为表头
func rowSource(name string, open Opener) producer {
	return func(ctx context.Context, out chan<- item) error {
		rc, err := open()
		if err != nil {
			return xerrors.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		cr := csv.NewReader(bufio.NewReaderSize(rc, 1<<20))
		cr.FieldsPerRecord = -1
		for {
			row, err := cr.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return xerrors.Errorf("read %s: %w", name, err)
			}
			if err := send(ctx, out, item{row: row}); err != nil {
				return err
			}
		}
	}
}
