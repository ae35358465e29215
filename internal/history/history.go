// Package history records every evaluation of a search run, keyed by
// generation and by the evaluated vector, and rewrites the record file after
// each update.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/arkilian/indexsearch/internal/storage"
	"github.com/arkilian/indexsearch/pkg/types"
)

// Record is one evaluation. Metrics fields are inlined in the JSON form.
type Record struct {
	types.Metrics
	Fitness     *float64  `json:"fitness,omitempty"`
	Error       string    `json:"error,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	RunID       string    `json:"run_id"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Generations maps generation to vector string to record.
type Generations map[int]map[string]Record

// History is safe for concurrent use.
type History struct {
	mu          sync.Mutex
	path        string
	runID       string
	generation  int
	evaluations int
	records     Generations
	logger      *slog.Logger
}

// New creates dir if needed and returns an empty history that serializes to
// dir/fileName. Every history gets a fresh run ID.
func New(dir, fileName string, logger *slog.Logger) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create %s: %w", dir, err)
	}
	if fileName == "" {
		fileName = "history.json"
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &History{
		path:    filepath.Join(dir, fileName),
		runID:   uuid.NewString(),
		records: make(Generations),
	}
	h.logger = logger.With("component", "history", "run_id", h.runID)
	h.logger.Info("recording history", "path", h.path)
	return h, nil
}

// Path returns the file the history serializes to.
func (h *History) Path() string {
	return h.path
}

// RunID returns the run identifier stamped on every record.
func (h *History) RunID() string {
	return h.runID
}

// Generation returns the current generation.
func (h *History) Generation() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation
}

// Evaluations returns how many records were added.
func (h *History) Evaluations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evaluations
}

// Update stores rec for v under the current generation, replacing an earlier
// record of the same vector in that generation.
func (h *History) Update(v types.Vector, rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec.RunID = h.runID
	rec.Fingerprint = v.Fingerprint()
	if rec.EvaluatedAt.IsZero() {
		rec.EvaluatedAt = time.Now().UTC()
	}
	gen, ok := h.records[h.generation]
	if !ok {
		gen = make(map[string]Record)
		h.records[h.generation] = gen
	}
	gen[v.String()] = rec
	h.evaluations++
}

// NextGeneration advances the generation counter and returns the new value.
func (h *History) NextGeneration() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generation++
	h.logger.Debug("generation advanced", "generation", h.generation)
	return h.generation
}

// Snapshot returns a deep copy of all records.
func (h *History) Snapshot() Generations {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(Generations, len(h.records))
	for g, recs := range h.records {
		cp := make(map[string]Record, len(recs))
		for k, r := range recs {
			cp[k] = r
		}
		out[g] = cp
	}
	return out
}

// Lookup returns the record of v in generation gen.
func (h *History) Lookup(gen int, v types.Vector) (Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[gen][v.String()]
	return rec, ok
}

// MarshalJSON renders {"<generation>": {"<vector>": record}} with
// generations in ascending order.
func (g Generations) MarshalJSON() ([]byte, error) {
	gens := make([]int, 0, len(g))
	for k := range g {
		gens = append(gens, k)
	}
	sort.Ints(gens)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, gen := range gens {
		if i > 0 {
			buf.WriteByte(',')
		}
		body, err := json.Marshal(g[gen])
		if err != nil {
			return nil, err
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(gen)))
		buf.WriteByte(':')
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Serialize rewrites the history file. The previous file stays intact until
// the new one is complete.
func (h *History) Serialize() error {
	data, err := json.MarshalIndent(h.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}

	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("history: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return fmt.Errorf("history: rename %s: %w", tmp, err)
	}
	h.logger.Debug("history serialized", "path", h.path)
	return nil
}

// Load reads a serialized history file.
func Load(path string) (Generations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", path, err)
	}
	var out Generations
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", path, err)
	}
	return out, nil
}

// Archive uploads a snappy-compressed copy of the serialized history to
// remote as <prefix>/<run id>/<file name>.sz and returns the object path.
func (h *History) Archive(ctx context.Context, remote storage.ObjectStorage, prefix string) (string, error) {
	if err := h.Serialize(); err != nil {
		return "", err
	}

	src, err := os.Open(h.path)
	if err != nil {
		return "", fmt.Errorf("history: open %s: %w", h.path, err)
	}
	defer src.Close()

	compressed := h.path + ".sz"
	if err := compressFile(src, compressed); err != nil {
		return "", err
	}
	defer os.Remove(compressed)

	objectPath := path.Join(prefix, h.runID, filepath.Base(compressed))
	if err := remote.Upload(ctx, compressed, objectPath); err != nil {
		return "", fmt.Errorf("history: archive to %s: %w", objectPath, err)
	}
	h.logger.Info("history archived", "object", objectPath)
	return objectPath, nil
}

func compressFile(src io.Reader, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("history: create %s: %w", dst, err)
	}
	w := snappy.NewBufferedWriter(out)
	if _, err := io.Copy(w, src); err != nil {
		out.Close()
		return fmt.Errorf("history: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		out.Close()
		return fmt.Errorf("history: compress: %w", err)
	}
	return out.Close()
}

// ReadArchive decompresses an archived history.
func ReadArchive(r io.Reader) (Generations, error) {
	var out Generations
	if err := json.NewDecoder(snappy.NewReader(r)).Decode(&out); err != nil {
		return nil, fmt.Errorf("history: decode archive: %w", err)
	}
	return out, nil
}

// Entry is a record together with where it sits in the history.
type Entry struct {
	Generation int    `json:"generation"`
	Vector     string `json:"vector"`
	Record
}

// Best returns up to k scored records across every generation, highest
// fitness first. Unscored records (baseline and failures) are skipped.
// k <= 0 returns all of them.
func (g Generations) Best(k int) []Entry {
	var out []Entry
	for gen, recs := range g {
		for vec, rec := range recs {
			if rec.Fitness == nil {
				continue
			}
			out = append(out, Entry{Generation: gen, Vector: vec, Record: rec})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if *a.Fitness != *b.Fitness {
			return *a.Fitness > *b.Fitness
		}
		if a.Generation != b.Generation {
			return a.Generation < b.Generation
		}
		return a.Vector < b.Vector
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Count returns the number of records over all generations.
func (g Generations) Count() int {
	n := 0
	for _, recs := range g {
		n += len(recs)
	}
	return n
}
