package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
	"github.com/KaramelBytes/equiplens-cli/internal/utils"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	indexFileName   = "index.json"
	datasetFileName = "dataset.json"
	sourceFileName  = "source.csv"
	datasetsDirName = "datasets"
	stagingDirName  = "tmp"
	lockFileName    = ".lock"
)

// ErrNotFound is returned when a dataset ID is not in the store.
var ErrNotFound = errors.New("dataset not found")

// Entry is the history line kept in the index for each dataset.
type Entry struct {
	ID             int       `json:"id"`
	Owner          string    `json:"owner,omitempty"`
	Filename       string    `json:"filename"`
	UploadedAt     time.Time `json:"uploaded_at"`
	TotalEquipment int       `json:"total_equipment"`
}

type index struct {
	NextID   int     `json:"next_id"`
	Datasets []Entry `json:"datasets"`
}

// Options configures a Store.
type Options struct {
	Limits equipment.Limits
	// Retention keeps the newest N datasets per owner; 0 keeps everything.
	Retention int
	Logger    *slog.Logger
}

// Store persists datasets under a root directory:
//
//	<root>/index.json
//	<root>/datasets/<id>/dataset.json
//	<root>/datasets/<id>/source.csv
//
// Index updates hold an advisory lock on <root>/.lock, so several processes
// (a running server and CLI uploads) can share one root.
type Store struct {
	root      string
	limits    equipment.Limits
	retention int
	log       *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	flock *flock.Flock
}

// Open prepares root for use and returns a Store over it.
func Open(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root directory not set")
	}
	for _, d := range []string{root, filepath.Join(root, datasetsDirName), filepath.Join(root, stagingDirName)} {
		if err := utils.EnsureDir(d); err != nil {
			return nil, fmt.Errorf("ensure dir: %w", err)
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		root:      root,
		limits:    opts.Limits,
		retention: opts.Retention,
		log:       log,
		now:       time.Now,
		flock:     flock.New(filepath.Join(root, lockFileName)),
	}, nil
}

// lock serializes index updates within the process and across processes.
func (s *Store) lock() (func(), error) {
	s.mu.Lock()
	if err := s.flock.Lock(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("lock store: %w", err)
	}
	return func() {
		if err := s.flock.Unlock(); err != nil {
			s.log.Warn("unlock store", "err", err)
		}
		s.mu.Unlock()
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Upload is one CSV handed to Create.
type Upload struct {
	Owner    string
	Filename string
	Body     io.Reader
	// Annotate, when set, fills Summary.AIInsights before the record is written.
	Annotate func(ctx context.Context, sum equipment.Summary) string
}

// Create validates and summarizes an upload, stores it under a new ID and
// applies retention for the owner. Validation failures are returned as
// *equipment.ValidationError and leave nothing behind.
func (s *Store) Create(ctx context.Context, up Upload) (*Dataset, error) {
	staged, size, err := s.stage(up.Body)
	if err != nil {
		return nil, err
	}
	defer os.Remove(staged)

	f, err := os.Open(staged)
	if err != nil {
		return nil, fmt.Errorf("open staged upload: %w", err)
	}
	rows, err := equipment.Ingest(f, up.Filename, size, s.limits)
	f.Close()
	if err != nil {
		return nil, err
	}
	sum := equipment.Summarize(rows)
	if up.Annotate != nil {
		sum.AIInsights = up.Annotate(ctx, sum)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	idx.NextID++
	d := &Dataset{
		ID:         idx.NextID,
		Owner:      up.Owner,
		Filename:   filepath.Base(up.Filename),
		UploadedAt: s.now().UTC(),
		Summary:    sum,
		dir:        s.datasetDir(idx.NextID),
	}
	if err := s.write(d, staged); err != nil {
		_ = os.RemoveAll(d.dir)
		return nil, err
	}
	idx.Datasets = append(idx.Datasets, d.entry())
	if err := s.writeIndex(idx); err != nil {
		_ = os.RemoveAll(d.dir)
		return nil, err
	}
	s.log.Info("dataset stored", "id", d.ID, "filename", d.Filename, "rows", sum.TotalEquipment, "owner", d.Owner)

	if _, err := s.retain(up.Owner); err != nil {
		s.log.Warn("retention cleanup failed", "owner", up.Owner, "err", err)
	}
	return d, nil
}

// stage copies body into the staging area, reading at most one byte past
// the size limit.
func (s *Store) stage(body io.Reader) (string, int64, error) {
	if body == nil {
		return "", 0, errors.New("upload body is nil")
	}
	path := filepath.Join(s.root, stagingDirName, uuid.NewString()+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}
	src := body
	if s.limits.MaxBytes > 0 {
		src = io.LimitReader(body, s.limits.MaxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("stage upload: %w", err)
	}
	return path, n, nil
}

func (s *Store) write(d *Dataset, staged string) error {
	if err := utils.EnsureDir(d.dir); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	src, err := os.ReadFile(staged)
	if err != nil {
		return fmt.Errorf("read staged upload: %w", err)
	}
	if err := utils.SafeWriteFile(filepath.Join(d.dir, sourceFileName), src); err != nil {
		return err
	}
	return utils.WriteJSON(filepath.Join(d.dir, datasetFileName), d)
}

// Get loads a dataset by ID.
func (s *Store) Get(id int) (*Dataset, error) {
	dir := s.datasetDir(id)
	var d Dataset
	if err := utils.ReadJSON(filepath.Join(dir, datasetFileName), &d); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("dataset %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("read dataset %d: %w", id, err)
	}
	d.dir = dir
	return &d, nil
}

// List returns history entries newest first. An empty owner lists everyone.
func (s *Store) List(owner string) ([]Entry, error) {
	s.mu.Lock()
	idx, err := s.readIndex()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(idx.Datasets))
	for _, e := range idx.Datasets {
		if owner == "" || e.Owner == owner {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete removes a dataset and its files.
func (s *Store) Delete(id int) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	pos := -1
	for i, e := range idx.Datasets {
		if e.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("dataset %d: %w", id, ErrNotFound)
	}
	idx.Datasets = append(idx.Datasets[:pos], idx.Datasets[pos+1:]...)
	if err := s.writeIndex(idx); err != nil {
		return err
	}
	if err := os.RemoveAll(s.datasetDir(id)); err != nil {
		return fmt.Errorf("remove dataset %d: %w", id, err)
	}
	return nil
}

// Cleanup applies the retention limit to owner and returns the removed IDs.
func (s *Store) Cleanup(owner string) ([]int, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.retain(owner)
}

// retain drops everything past the newest s.retention datasets of owner.
// Callers hold the store lock.
func (s *Store) retain(owner string) ([]int, error) {
	if s.retention <= 0 {
		return nil, nil
	}
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	var mine []Entry
	for _, e := range idx.Datasets {
		if e.Owner == owner {
			mine = append(mine, e)
		}
	}
	if len(mine) <= s.retention {
		return nil, nil
	}
	sortNewestFirst(mine)
	drop := map[int]bool{}
	var removed []int
	for _, e := range mine[s.retention:] {
		drop[e.ID] = true
		removed = append(removed, e.ID)
	}
	kept := idx.Datasets[:0]
	for _, e := range idx.Datasets {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	idx.Datasets = kept
	if err := s.writeIndex(idx); err != nil {
		return nil, err
	}
	for _, id := range removed {
		if err := os.RemoveAll(s.datasetDir(id)); err != nil {
			s.log.Warn("remove expired dataset", "id", id, "err", err)
			continue
		}
		s.log.Debug("dataset expired", "id", id, "owner", owner)
	}
	return removed, nil
}

func (s *Store) datasetDir(id int) string {
	return filepath.Join(s.root, datasetsDirName, strconv.Itoa(id))
}

func (s *Store) readIndex() (*index, error) {
	var idx index
	if err := utils.ReadJSON(filepath.Join(s.root, indexFileName), &idx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &index{}, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	return &idx, nil
}

func (s *Store) writeIndex(idx *index) error {
	return utils.WriteJSON(filepath.Join(s.root, indexFileName), idx)
}

func sortNewestFirst(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].UploadedAt.Equal(es[j].UploadedAt) {
			return es[i].ID > es[j].ID
		}
		return es[i].UploadedAt.After(es[j].UploadedAt)
	})
}
