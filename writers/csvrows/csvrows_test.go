package csvrows

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/sadewadee/mapharvest/gmaps"
	"github.com/sadewadee/mapharvest/web"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	return rows
}

func TestWriteAllBasic(t *testing.T) {
	dir := t.TempDir()
	job := &web.Job{ID: "job-1"}

	records := []gmaps.Business{
		{
			Name:        "Cafe",
			Address:     "Main St 1",
			DetailURL:   "https://maps.example/1",
			Emails:      []string{"a@cafe.test", "b@cafe.test"},
			EmailStatus: []string{"deliverable", "risky"},
		},
	}

	if err := New(dir).WriteAll(context.Background(), job, records); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows := readCSV(t, filepath.Join(dir, "job-1.csv"))

	if len(rows) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(rows))
	}

	header, row := rows[0], rows[1]

	if len(header) != len(row) {
		t.Fatalf("header/row width mismatch: %d != %d", len(header), len(row))
	}

	if header[len(header)-1] != "email_status" {
		t.Fatalf("last column got %q", header[len(header)-1])
	}

	if row[len(row)-1] != "deliverable,risky" {
		t.Fatalf("email_status cell got %q", row[len(row)-1])
	}

	// No review columns without filtered reviews.
	for _, h := range header {
		if h == "reviews_count" {
			t.Fatalf("review columns must be absent")
		}
	}
}

func TestWriteAllReviewColumns(t *testing.T) {
	dir := t.TempDir()
	job := &web.Job{ID: "job-2"}

	records := []gmaps.Business{
		{
			Name:      "Two Reviews",
			DetailURL: "x",
			FilteredReviews: []gmaps.FilteredReview{
				{Text: "great", Rating: 5, Date: "2026-05-01"},
				{Text: "fine", Rating: 4, Date: "2026-04-01"},
			},
		},
		{Name: "No Reviews", DetailURL: "y"},
	}

	if err := New(dir).WriteAll(context.Background(), job, records); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows := readCSV(t, filepath.Join(dir, "job-2.csv"))

	header := rows[0]

	base := len((&gmaps.Business{}).CsvHeaders()) + 1 // + email_status
	want := base + 1 + 2*3                            // + reviews_count + two review triples

	if len(header) != want {
		t.Fatalf("expected %d columns, got %d", want, len(header))
	}

	if header[base] != "reviews_count" || header[base+1] != "review_1_text" {
		t.Fatalf("review headers wrong: %v", header[base:])
	}

	withReviews, without := rows[1], rows[2]

	if withReviews[base] != "2" || withReviews[base+1] != "great" {
		t.Fatalf("review cells wrong: %v", withReviews[base:])
	}

	// The short record pads out to the same width.
	if without[base] != "0" || without[base+1] != "" {
		t.Fatalf("padding wrong: %v", without[base:])
	}
}

func TestWriteAllEmptyRecords(t *testing.T) {
	dir := t.TempDir()

	if err := New(dir).WriteAll(context.Background(), &web.Job{ID: "empty"}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	rows := readCSV(t, filepath.Join(dir, "empty.csv"))

	if len(rows) != 1 {
		t.Fatalf("empty job still writes the header, got %d rows", len(rows))
	}
}
