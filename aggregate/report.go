package aggregate

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/sha3"
	"gonum.org/v1/gonum/stat"
)

const (
	reportTitle = "--- Truly Aggregated Word Count Summary ---"
	reportRule  = "-------------------------------------------"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// TEXT REPORT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Report renders the aggregated text report.
func (s *Summary) Report() []byte {
	var b bytes.Buffer
	b.WriteString(reportTitle + "\n")
	b.WriteString("Total Unique Words: " + strconv.Itoa(s.Unique) + "\n")
	b.WriteString("Total Words Processed (sum of all consumers): " + strconv.FormatUint(s.Total, 10) + "\n")
	b.WriteString(reportRule + "\n")
	for _, e := range s.Ranked {
		b.WriteString(e.Token)
		b.WriteString(": ")
		b.WriteString(strconv.FormatUint(e.Count, 10))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// Digest is the hex SHA3-256 of the text report.
func (s *Summary) Digest() string {
	sum := sha3.Sum256(s.Report())
	return hex.EncodeToString(sum[:])
}

// WriteReport writes the text report to path. With no data nothing is
// written and ErrNoData is returned.
func (s *Summary) WriteReport(path string) error {
	if s.Unique == 0 {
		return ErrNoData
	}
	if err := os.WriteFile(path, s.Report(), 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// JSON SUMMARY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Stats describes the distribution of per-token counts.
type Stats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Max    uint64  `json:"max"`
	Min    uint64  `json:"min"`
}

// Stats computes count statistics. StdDev is the sample deviation and zero
// for fewer than two tokens.
func (s *Summary) Stats() Stats {
	if len(s.Ranked) == 0 {
		return Stats{}
	}
	xs := make([]float64, len(s.Ranked))
	for i, e := range s.Ranked {
		xs[i] = float64(e.Count)
	}
	st := Stats{
		Max: s.Ranked[0].Count,
		Min: s.Ranked[len(s.Ranked)-1].Count,
	}
	if len(xs) < 2 {
		st.Mean = xs[0]
		return st
	}
	st.Mean, st.StdDev = stat.MeanStdDev(xs, nil)
	return st
}

type jsonSummary struct {
	Files   []string `json:"files"`
	Unique  int      `json:"unique"`
	Total   uint64   `json:"total"`
	Skipped int      `json:"skipped"`
	Digest  string   `json:"digest"`
	Stats   Stats    `json:"stats"`
	Words   []Entry  `json:"words"`
}

// WriteJSON writes the machine-readable summary to path.
func (s *Summary) WriteJSON(path string) error {
	data, err := sonnet.Marshal(jsonSummary{
		Files:   s.Files,
		Unique:  s.Unique,
		Total:   s.Total,
		Skipped: s.Skipped,
		Digest:  s.Digest(),
		Stats:   s.Stats(),
		Words:   s.Ranked,
	})
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write summary %s: %w", path, err)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SQLITE STORE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// SaveSQLite replaces the word_counts table of the database at path with the
// ranked table, in a single transaction.
func (s *Summary) SaveSQLite(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS word_counts (
		token TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		rank  INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM word_counts`); err != nil {
		return fmt.Errorf("failed to clear table: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO word_counts (token, count, rank) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range s.Ranked {
		if _, err := stmt.Exec(e.Token, int64(e.Count), e.Rank); err != nil {
			return fmt.Errorf("failed to insert %q: %w", e.Token, err)
		}
	}
	return tx.Commit()
}
