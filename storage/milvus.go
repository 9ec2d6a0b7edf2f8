package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"videorag/config"
	"videorag/core"
)

// Milvus stores records in a Milvus collection with an HNSW cosine
// index. The unit id is the primary key, so Upsert is idempotent.
type Milvus struct {
	mc   client.Client
	coll string
	dim  int
}

func NewMilvus(ctx context.Context, cfg *config.Config) (*Milvus, error) {
	mc, err := client.NewClient(ctx, client.Config{Address: cfg.MilvusAddr})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	s := &Milvus{mc: mc, coll: cfg.MilvusCollection, dim: cfg.EmbeddingDim}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Milvus) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("unit_id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("kind").WithDataType(entity.FieldTypeVarChar).WithMaxLength(32))
		schema.WithField(entity.NewField().WithName("start").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("ts").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("frame_path").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		schema.WithField(entity.NewField().WithName("thumbnail_path").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		schema.WithField(entity.NewField().WithName("document").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))
		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func quoteExpr(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

func filterExpr(f Filter) string {
	var parts []string
	if f.VideoID != "" {
		parts = append(parts, fmt.Sprintf("video_id == %s", quoteExpr(f.VideoID)))
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = quoteExpr(string(k))
		}
		parts = append(parts, fmt.Sprintf("kind in [%s]", strings.Join(kinds, ", ")))
	}
	return strings.Join(parts, " && ")
}

var milvusOutputFields = []string{"unit_id", "video_id", "kind", "start", "end", "ts", "frame_path", "thumbnail_path", "document"}

func (s *Milvus) Upsert(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	n := len(records)
	ids := make([]string, 0, n)
	videoIDs := make([]string, 0, n)
	kinds := make([]string, 0, n)
	starts := make([]float64, 0, n)
	ends := make([]float64, 0, n)
	tss := make([]float64, 0, n)
	frames := make([]string, 0, n)
	thumbs := make([]string, 0, n)
	docs := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	for _, r := range records {
		ids = append(ids, r.ID)
		videoIDs = append(videoIDs, r.Meta.VideoID)
		kinds = append(kinds, string(r.Meta.Kind))
		starts = append(starts, r.Meta.Start)
		ends = append(ends, r.Meta.End)
		tss = append(tss, r.Meta.Timestamp)
		frames = append(frames, r.Meta.FramePath)
		thumbs = append(thumbs, r.Meta.ThumbnailPath)
		docs = append(docs, r.Document)
		vectors = append(vectors, r.Vector)
	}
	_, err := s.mc.Upsert(ctx, s.coll, "",
		entity.NewColumnVarChar("unit_id", ids),
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnVarChar("kind", kinds),
		entity.NewColumnDouble("start", starts),
		entity.NewColumnDouble("end", ends),
		entity.NewColumnDouble("ts", tss),
		entity.NewColumnVarChar("frame_path", frames),
		entity.NewColumnVarChar("thumbnail_path", thumbs),
		entity.NewColumnVarChar("document", docs),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return 0, fmt.Errorf("milvus upsert: %w", err)
	}
	return n, nil
}

func (s *Milvus) Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)
	res, err := s.mc.Search(ctx, s.coll, []string{}, filterExpr(f), milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}
	var matches []Match
	for _, r := range res {
		recs := decodeColumns(r.Fields, r.ResultCount)
		for i, rec := range recs {
			// COSINE scores are similarities.
			matches = append(matches, Match{Record: rec, Distance: 1 - float64(r.Scores[i])})
		}
	}
	return matches, nil
}

func (s *Milvus) Fetch(ctx context.Context, f Filter) ([]Record, error) {
	res, err := s.mc.Query(ctx, s.coll, []string{}, filterExpr(f), milvusOutputFields, client.WithLimit(16384))
	if err != nil {
		return nil, fmt.Errorf("milvus query: %w", err)
	}
	count := 0
	for _, c := range res {
		if c.Name() == "unit_id" {
			count = c.Len()
		}
	}
	return decodeColumns(res, count), nil
}

func (s *Milvus) Delete(ctx context.Context, f Filter) (int, error) {
	count, err := s.Count(ctx, f)
	if err != nil {
		return 0, err
	}
	if err := s.mc.Delete(ctx, s.coll, "", filterExpr(f)); err != nil {
		return 0, fmt.Errorf("milvus delete: %w", err)
	}
	return count, nil
}

func (s *Milvus) Count(ctx context.Context, f Filter) (int, error) {
	res, err := s.mc.Query(ctx, s.coll, []string{}, filterExpr(f), []string{"count(*)"})
	if err != nil {
		return 0, fmt.Errorf("milvus count: %w", err)
	}
	for _, c := range res {
		if col, ok := c.(*entity.ColumnInt64); ok && col.Len() > 0 {
			v, err := col.ValueByIdx(0)
			if err != nil {
				return 0, err
			}
			return int(v), nil
		}
	}
	return 0, nil
}

func (s *Milvus) VideoIDs(ctx context.Context) ([]string, error) {
	res, err := s.mc.Query(ctx, s.coll, []string{}, "video_id != \"\"", []string{"video_id"}, client.WithLimit(16384))
	if err != nil {
		return nil, fmt.Errorf("milvus list videos: %w", err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, c := range res {
		col, ok := c.(*entity.ColumnVarChar)
		if !ok || col.Name() != "video_id" {
			continue
		}
		for _, v := range col.Data() {
			if !seen[v] {
				seen[v] = true
				ids = append(ids, v)
			}
		}
	}
	return ids, nil
}

func (s *Milvus) Close(context.Context) error {
	return s.mc.Close()
}

// decodeColumns rebuilds records from a Milvus scalar column set.
func decodeColumns(cols []entity.Column, count int) []Record {
	byName := map[string]entity.Column{}
	for _, c := range cols {
		byName[c.Name()] = c
	}
	str := func(name string, i int) string {
		if c, ok := byName[name].(*entity.ColumnVarChar); ok {
			if data := c.Data(); i < len(data) {
				return data[i]
			}
		}
		return ""
	}
	dbl := func(name string, i int) float64 {
		if c, ok := byName[name].(*entity.ColumnDouble); ok {
			if data := c.Data(); i < len(data) {
				return data[i]
			}
		}
		return 0
	}
	out := make([]Record, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Record{
			ID:       str("unit_id", i),
			Document: str("document", i),
			Meta: Meta{
				VideoID:       str("video_id", i),
				Kind:          core.ContentKind(str("kind", i)),
				Start:         dbl("start", i),
				End:           dbl("end", i),
				Timestamp:     dbl("ts", i),
				FramePath:     str("frame_path", i),
				ThumbnailPath: str("thumbnail_path", i),
			},
		})
	}
	return out
}
