// Package memory is a flat exact vector index kept in process and optionally
// persisted to one directory per tenant.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tenantrag/internal/domain"
	"tenantrag/internal/vectorstore"
)

// Storage is a brute-force vector index with one namespace per tenant.
type Storage struct {
	dir    string
	metric domain.Metric
	logger *zap.Logger

	mu     sync.Mutex
	spaces map[domain.TenantID]*namespace
}

type Config struct {
	// Path is the root directory for persisted namespaces. Empty keeps
	// everything in memory.
	Path   string
	Metric domain.Metric
}

// namespace holds the rows of one tenant. ids[i] owns vectors[i].
type namespace struct {
	mu        sync.RWMutex
	dimension int
	ids       []string
	vectors   [][]float32
	records   map[string]vectorstore.Metadata
}

func NewStorage(cfg Config, logger *zap.Logger) (*Storage, error) {
	switch cfg.Metric {
	case "":
		cfg.Metric = domain.MetricL2
	case domain.MetricL2, domain.MetricCosine:
	default:
		return nil, fmt.Errorf("%w: memory index metric %q", domain.ErrConfiguration, cfg.Metric)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	return &Storage{
		dir:    cfg.Path,
		metric: cfg.Metric,
		logger: logger.With(zap.String("backend", "memory")),
		spaces: make(map[domain.TenantID]*namespace),
	}, nil
}

func (s *Storage) Backend() string { return "memory" }

// lookup returns the tenant's namespace, loading it from disk on first use.
// It only creates an empty namespace when create is set.
func (s *Storage) lookup(tenant domain.TenantID, create bool) (*namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.spaces[tenant]; ok {
		return ns, nil
	}
	ns, err := s.load(tenant)
	if err != nil {
		return nil, err
	}
	if ns == nil {
		if !create {
			return nil, nil
		}
		ns = &namespace{records: make(map[string]vectorstore.Metadata)}
	}
	s.spaces[tenant] = ns
	return ns, nil
}

func (s *Storage) Add(ctx context.Context, tenant domain.TenantID, chunks []domain.EmbeddedChunk) error {
	dim, err := vectorstore.ValidateChunks(tenant, chunks)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ns, err := s.lookup(tenant, true)
	if err != nil {
		return err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.dimension != 0 && ns.dimension != dim {
		return fmt.Errorf("%w: namespace %s has %d dimensions, got %d", domain.ErrDimensionMismatch, tenant.Namespace(), ns.dimension, dim)
	}

	next := ns.clone()
	next.dimension = dim
	rows := make(map[string]int, len(next.ids))
	for i, id := range next.ids {
		rows[id] = i
	}
	for _, c := range chunks {
		vec := append([]float32(nil), c.Vector...)
		if i, ok := rows[c.ID]; ok {
			next.vectors[i] = vec
		} else {
			rows[c.ID] = len(next.ids)
			next.ids = append(next.ids, c.ID)
			next.vectors = append(next.vectors, vec)
		}
		next.records[c.ID] = vectorstore.MetadataOf(c.Chunk)
	}
	if err := s.persist(tenant, next); err != nil {
		return err
	}
	ns.replace(next)
	s.logger.Debug("upserted chunks", zap.String("tenant_id", tenant.String()), zap.Int("chunks", len(chunks)), zap.Int("total", len(ns.ids)))
	return nil
}

func (s *Storage) Search(ctx context.Context, tenant domain.TenantID, vector []float32, k int) ([]domain.SearchResult, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	ns, err := s.lookup(tenant, false)
	if err != nil || ns == nil {
		return nil, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if len(ns.ids) == 0 {
		return nil, nil
	}
	if len(vector) != ns.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, namespace %s has %d", domain.ErrDimensionMismatch, len(vector), tenant.Namespace(), ns.dimension)
	}

	type scored struct {
		row  int
		dist float64
	}
	all := make([]scored, len(ns.vectors))
	for i, v := range ns.vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		all[i] = scored{row: i, dist: s.distance(vector, v)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	n := min(vectorstore.OverFetch(k, vectorstore.FlatOverFetch), len(all))

	candidates := make([]domain.SearchResult, 0, n)
	for _, c := range all[:n] {
		meta, ok := ns.records[ns.ids[c.row]]
		if !ok {
			meta = vectorstore.Metadata{ChunkID: ns.ids[c.row]}
		}
		candidates = append(candidates, domain.SearchResult{Chunk: meta.Chunk(), Distance: c.dist, Metric: s.metric})
	}
	return vectorstore.FilterTenant(s.logger, tenant, candidates, k), nil
}

func (s *Storage) Info(_ context.Context, tenant domain.TenantID) (domain.NamespaceInfo, error) {
	info := domain.NamespaceInfo{Tenant: tenant, Backend: s.Backend()}
	if err := tenant.Validate(); err != nil {
		return info, err
	}
	ns, err := s.lookup(tenant, false)
	if err != nil || ns == nil {
		return info, err
	}
	ns.mu.RLock()
	info.Count = len(ns.ids)
	ns.mu.RUnlock()
	return info, nil
}

func (s *Storage) DeleteNamespace(_ context.Context, tenant domain.TenantID) (bool, error) {
	if err := tenant.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.spaces[tenant]
	delete(s.spaces, tenant)
	if s.dir == "" {
		return existed, nil
	}
	dir := s.namespaceDir(tenant)
	if _, err := os.Stat(dir); err == nil {
		existed = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove namespace %s: %w", tenant.Namespace(), err)
	}
	if existed {
		s.logger.Info("deleted namespace", zap.String("tenant_id", tenant.String()))
	}
	return existed, nil
}

func (s *Storage) PruneDocument(_ context.Context, tenant domain.TenantID, documentID string, keep int) (int, error) {
	if err := tenant.Validate(); err != nil {
		return 0, err
	}
	ns, err := s.lookup(tenant, false)
	if err != nil || ns == nil {
		return 0, err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()

	next := &namespace{dimension: ns.dimension, records: make(map[string]vectorstore.Metadata, len(ns.records))}
	removed := 0
	for i, id := range ns.ids {
		meta := ns.records[id]
		if meta.DocumentID == documentID && meta.ChunkIndex >= keep {
			removed++
			continue
		}
		next.ids = append(next.ids, id)
		next.vectors = append(next.vectors, ns.vectors[i])
		next.records[id] = meta
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(tenant, next); err != nil {
		return 0, err
	}
	ns.replace(next)
	return removed, nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) distance(a, b []float32) float64 {
	if s.metric == domain.MetricCosine {
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (s *Storage) namespaceDir(tenant domain.TenantID) string {
	return filepath.Join(s.dir, tenant.Namespace())
}

func (ns *namespace) clone() *namespace {
	out := &namespace{
		dimension: ns.dimension,
		ids:       append([]string(nil), ns.ids...),
		vectors:   append([][]float32(nil), ns.vectors...),
		records:   make(map[string]vectorstore.Metadata, len(ns.records)),
	}
	for k, v := range ns.records {
		out.records[k] = v
	}
	return out
}

// replace swaps in rows from next. Caller holds ns.mu.
func (ns *namespace) replace(next *namespace) {
	ns.dimension = next.dimension
	ns.ids = next.ids
	ns.vectors = next.vectors
	ns.records = next.records
}
