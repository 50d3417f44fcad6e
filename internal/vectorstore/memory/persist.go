package memory

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tenantrag/internal/domain"
	"tenantrag/internal/vectorstore"
)

const (
	indexFile    = "index.bin"
	metadataFile = "metadata.json"
	indexMagic   = "TRAGIDX1"
)

// metadataDoc is the id map stored next to index.bin. IDs are in row order.
type metadataDoc struct {
	Dimension int                             `json:"dimension"`
	IDs       []string                        `json:"ids"`
	Records   map[string]vectorstore.Metadata `json:"records"`
}

func (s *Storage) persist(tenant domain.TenantID, ns *namespace) error {
	if s.dir == "" {
		return nil
	}
	dir := s.namespaceDir(tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create namespace dir: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, indexFile), func(w io.Writer) error {
		return encodeVectors(w, ns.dimension, ns.vectors)
	}); err != nil {
		return fmt.Errorf("write %s index: %w", tenant.Namespace(), err)
	}
	doc := metadataDoc{Dimension: ns.dimension, IDs: ns.ids, Records: ns.records}
	if err := writeAtomic(filepath.Join(dir, metadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		return enc.Encode(doc)
	}); err != nil {
		return fmt.Errorf("write %s metadata: %w", tenant.Namespace(), err)
	}
	return nil
}

// load reads a persisted namespace. A missing directory yields nil, nil.
func (s *Storage) load(tenant domain.TenantID) (*namespace, error) {
	if s.dir == "" {
		return nil, nil
	}
	dir := s.namespaceDir(tenant)
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s metadata: %w", tenant.Namespace(), err)
	}
	var doc metadataDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", tenant.Namespace(), err)
	}

	f, err := os.Open(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, fmt.Errorf("open %s index: %w", tenant.Namespace(), err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s index: %w", tenant.Namespace(), err)
	}
	dim, vectors, err := decodeVectors(bufio.NewReader(f), st.Size())
	if err != nil {
		return nil, fmt.Errorf("decode %s index: %w", tenant.Namespace(), err)
	}
	if len(vectors) != len(doc.IDs) || (len(vectors) > 0 && dim != doc.Dimension) {
		return nil, fmt.Errorf("namespace %s is inconsistent: %d vectors, %d ids", tenant.Namespace(), len(vectors), len(doc.IDs))
	}
	if doc.Records == nil {
		doc.Records = make(map[string]vectorstore.Metadata)
	}
	s.logger.Debug("loaded namespace from disk", zap.String("tenant_id", tenant.String()), zap.Int("count", len(vectors)))
	return &namespace{dimension: doc.Dimension, ids: doc.IDs, vectors: vectors, records: doc.Records}, nil
}

func encodeVectors(w io.Writer, dim int, vectors [][]float32) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(indexMagic); err != nil {
		return err
	}
	header := [2]uint32{uint32(dim), uint32(len(vectors))}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, v := range vectors {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// decodeVectors reads an index of size bytes. The header must account for
// exactly the remaining bytes before any row is allocated.
func decodeVectors(r io.Reader, size int64) (int, [][]float32, error) {
	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, nil, err
	}
	if string(magic) != indexMagic {
		return 0, nil, fmt.Errorf("bad index header %q", magic)
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, nil, err
	}
	dim, count := int(header[0]), int(header[1])
	payload := size - int64(len(indexMagic)) - 8
	if (dim == 0 && count > 0) || int64(count)*int64(dim)*4 != payload {
		return 0, nil, fmt.Errorf("index header claims %d x %d vectors, file holds %d bytes", count, dim, payload)
	}
	vectors := make([][]float32, count)
	buf := make([]byte, 4*dim)
	for i := range vectors {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, nil, err
		}
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		vectors[i] = v
	}
	return dim, vectors, nil
}

// writeAtomic writes through a temp file in the same directory and renames
// it over path.
func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
