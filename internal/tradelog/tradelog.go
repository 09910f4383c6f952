package tradelog

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const dayLayout = "2006-01-02"

// Entry is one submitted order as recorded in the daily journal.
type Entry struct {
	Time       string          `json:"time"`
	Market     string          `json:"market"`
	Side       string          `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Notional   decimal.Decimal `json:"notional"`
	OrderID    string          `json:"order_id"`
	ExternalID string          `json:"external_id,omitempty"`
	Status     string          `json:"status"`
	Mode       string          `json:"mode"`
	Reason     string          `json:"reason,omitempty"`
}

// Journal appends order entries as JSON lines to one file per UTC day.
type Journal struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func New(dir string) *Journal {
	if dir == "" {
		dir = "logs"
	}
	return &Journal{dir: dir, now: time.Now}
}

func (j *Journal) Dir() string { return j.dir }

func (j *Journal) DailyPath(t time.Time) string {
	return filepath.Join(j.dir, t.UTC().Format(dayLayout)+".txt")
}

func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().UTC()
	e.Time = now.Format(time.RFC3339)
	if e.Notional.IsZero() {
		e.Notional = e.Qty.Mul(e.Price)
	}

	p := j.DailyPath(now)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// Read returns the entries journaled on t's UTC day, falling back to the
// compressed file. A day without a journal yields no entries.
func (j *Journal) Read(t time.Time) ([]Entry, error) {
	p := j.DailyPath(t)
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		f, err = os.Open(p + ".gz")
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return readEntries(gr)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// CompressOlder gzips journal files last written more than retentionDays
// ago. Zero or negative retention disables it.
func (j *Journal) CompressOlder(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	des, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := j.now().AddDate(0, 0, -retentionDays)
	compressed := 0
	for _, d := range des {
		if d.IsDir() || filepath.Ext(d.Name()) != ".txt" {
			continue
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(j.dir, d.Name())
		if err := gzipFile(p); err != nil {
			return compressed, fmt.Errorf("compress %s: %w", p, err)
		}
		compressed++
	}
	return compressed, nil
}

func gzipFile(p string) error {
	gz := p + ".gz"
	// an earlier run may have archived the day but died before removing it
	if archived(gz, p) {
		return os.Remove(p)
	}

	in, err := os.Open(p)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := gz + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, gz); err != nil {
		os.Remove(tmp)
		return err
	}
	in.Close()
	return os.Remove(p)
}

// archived reports whether gz decompresses cleanly to the contents of p.
func archived(gz, p string) bool {
	f, err := os.Open(gz)
	if err != nil {
		return false
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return false
	}
	defer zr.Close()
	got, err := io.ReadAll(zr)
	if err != nil {
		return false
	}
	want, err := os.ReadFile(p)
	if err != nil {
		return false
	}
	return bytes.Equal(got, want)
}
