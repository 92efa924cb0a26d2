package query

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"io/fs"

	"geojoin/internal/geo"

	"golang.org/x/xerrors"
)

// 文档注释：按统一键查询边界几何
// 背景：前端按需拉取少量单元的形状；结果只含几何与键字段，不进入缓存。
func (s *Service) Shapes(ctx context.Context, datasetID string, keys []string, emit func([]byte) error) error {
	ds, ok := s.catalog.Lookup(datasetID)
	if !ok {
		return ErrNotFound
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	f, err := s.open(ds.Path)
	if err != nil {
		return xerrors.Errorf("open dataset %s: %w", ds.ID, err)
	}
	defer f.Close()
	r := geo.NewReader(bufio.NewReaderSize(f, 1<<20))
	for len(want) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		feat, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("read dataset %s: %w", ds.ID, err)
		}
		k, _ := geo.Scalar(feat.Properties[ds.KeyField])
		if _, hit := want[k]; !hit {
			continue
		}
		delete(want, k)
		feat.Properties = map[string]any{ds.KeyField: k}
		b, err := json.Marshal(feat)
		if err != nil {
			return xerrors.Errorf("encode feature: %w", err)
		}
		if err := emit(b); err != nil {
			return err
		}
	}
	return nil
}

// 文档注释：按统一键查询表格数据中的指定列
// 约束：数据文件不存在视为 ErrNotFound；不存在的列被忽略；未命中的键不出现在结果中。
func (s *Service) Tabular(ctx context.Context, datasetID string, keys, props []string) (map[string]map[string]string, error) {
	ds, ok := s.catalog.Lookup(datasetID)
	if !ok {
		return nil, ErrNotFound
	}
	f, err := s.open(ds.DataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Errorf("open data %s: %w", ds.ID, err)
	}
	defer f.Close()

	cr := csv.NewReader(bufio.NewReader(f))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, xerrors.Errorf("read header %s: %w", ds.ID, err)
	}
	keyCol := -1
	cols := make(map[string]int, len(props))
	for i, h := range header {
		if h == ds.KeyField {
			keyCol = i
		}
		for _, p := range props {
			if h == p {
				cols[p] = i
			}
		}
	}
	if keyCol < 0 {
		return nil, xerrors.Errorf("data %s: no %s column", ds.ID, ds.KeyField)
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := make(map[string]map[string]string, len(keys))
	for len(want) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("read data %s: %w", ds.ID, err)
		}
		if keyCol >= len(row) {
			continue
		}
		k := row[keyCol]
		if _, hit := want[k]; !hit {
			continue
		}
		delete(want, k)
		vals := make(map[string]string, len(cols))
		for p, i := range cols {
			if i < len(row) {
				vals[p] = row[i]
			}
		}
		out[k] = vals
	}
	return out, nil
}
