package benchmark

import (
	"bytes"
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"os"
	"strconv"

	"github.com/boltdb/bolt"
)

var runsBucket = []byte("Runs")

// Store archives benchmark results in a bolt database so sweeps can
// be compared across invocations. Only finished results go in here;
// nothing about a live simulation is ever persisted.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) the results database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("benchmark: open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("benchmark: init store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save archives one result under its run id.
func (s *Store) Save(r Result) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return fmt.Errorf("benchmark: encode result: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Put([]byte(r.RunID), buf.Bytes())
	})
}

// List returns every archived result, in key order.
func (s *Store) List() ([]Result, error) {
	var results []Result
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(_, v []byte) error {
			var r Result
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&r); err != nil {
				return fmt.Errorf("benchmark: decode result: %w", err)
			}
			results = append(results, r)
			return nil
		})
	})
	return results, err
}

var csvHeader = []string{
	"run_id", "protocol", "nodes", "clients", "packet_loss", "base_delay",
	"crashed", "requests", "commits", "aborts", "commit_rate",
	"messages", "dropped", "sync_violations", "duration_ms", "tps",
	"lat_min", "lat_avg", "lat_median", "lat_p95", "lat_p99", "lat_max",
}

// WriteCSV writes results to path, overwriting it.
func WriteCSV(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("benchmark: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.RunID,
			r.Protocol,
			strconv.Itoa(r.NumNodes),
			strconv.Itoa(r.NumClients),
			ftoa(r.PacketLoss),
			ftoa(r.BaseDelay),
			strconv.FormatBool(r.Crashed),
			strconv.Itoa(r.Requests),
			strconv.Itoa(r.Commits),
			strconv.Itoa(r.Aborts),
			ftoa(r.CommitRate),
			strconv.Itoa(r.MessagesSent),
			strconv.Itoa(r.Dropped),
			strconv.Itoa(r.SyncViolations),
			ftoa(r.Duration),
			ftoa(r.ThroughputTPS),
			ftoa(r.Latency.Min),
			ftoa(r.Latency.Avg),
			ftoa(r.Latency.Median),
			ftoa(r.Latency.P95),
			ftoa(r.Latency.P99),
			ftoa(r.Latency.Max),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
