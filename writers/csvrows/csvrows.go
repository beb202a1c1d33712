// Package csvrows writes a job's records to its downloadable CSV.
package csvrows

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sadewadee/mapharvest/gmaps"
	"github.com/sadewadee/mapharvest/web"
)

// Writer persists one CSV per job under the data folder. Review
// columns appear only when at least one record carries filtered
// reviews; the verification summary never makes it into the file.
type Writer struct {
	dataFolder string
}

func New(dataFolder string) *Writer {
	return &Writer{dataFolder: dataFolder}
}

func (w *Writer) WriteAll(_ context.Context, job *web.Job, records []gmaps.Business) error {
	if err := os.MkdirAll(w.dataFolder, 0o755); err != nil {
		return err
	}

	path := filepath.Join(w.dataFolder, job.ID+".csv")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)

	maxReviews := 0
	for i := range records {
		if n := len(records[i].FilteredReviews); n > maxReviews {
			maxReviews = n
		}
	}

	headers := append([]string{}, (&gmaps.Business{}).CsvHeaders()...)
	headers = append(headers, "email_status")

	if maxReviews > 0 {
		headers = append(headers, "reviews_count")
		for i := 1; i <= maxReviews; i++ {
			headers = append(headers,
				fmt.Sprintf("review_%d_text", i),
				fmt.Sprintf("review_%d_rating", i),
				fmt.Sprintf("review_%d_date", i),
			)
		}
	}

	if err := cw.Write(headers); err != nil {
		return err
	}

	for i := range records {
		rec := &records[i]

		row := append([]string{}, rec.CsvRow()...)
		row = append(row, strings.Join(rec.EmailStatus, ","))

		if maxReviews > 0 {
			row = append(row, strconv.Itoa(len(rec.FilteredReviews)))

			for j := 0; j < maxReviews; j++ {
				if j < len(rec.FilteredReviews) {
					rv := rec.FilteredReviews[j]
					row = append(row, rv.Text, strconv.Itoa(rv.Rating), rv.Date)
				} else {
					row = append(row, "", "", "")
				}
			}
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
