package runner

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadewadee/mapharvest/browser"
	"github.com/sadewadee/mapharvest/deduper"
	"github.com/sadewadee/mapharvest/emails"
	"github.com/sadewadee/mapharvest/emailverify"
	"github.com/sadewadee/mapharvest/geo"
	"github.com/sadewadee/mapharvest/gmaps"
	"github.com/sadewadee/mapharvest/web"
)

// CancelledMessage is the terminal error recorded when a user deletes
// a running job.
const CancelledMessage = "Job cancelled by user deletion"

const (
	perListingTimeout  = 25 * time.Second
	pageRetryAttempts  = 2
	pageRetryBaseDelay = 500 * time.Millisecond

	// Consecutive transport-level SMTP failures before the run decides
	// outbound port 25 is blocked.
	smtpBlockedThreshold = 5
)

// PageProvider hands out search/detail pages. The browser pool
// satisfies it through poolPages; tests inject fakes.
type PageProvider interface {
	Acquire(ctx context.Context) (gmaps.DetailPage, func(), error)
}

// DetailExtractor produces one record per detail URL.
type DetailExtractor interface {
	Extract(ctx context.Context, page gmaps.DetailPage, detailURL string) *gmaps.Business
}

// EmailHarvester collects addresses for one website.
type EmailHarvester interface {
	Harvest(ctx context.Context, siteURL string) emails.Result
}

// EmailVerifier decides deliverability for one address.
type EmailVerifier interface {
	Verify(ctx context.Context, addr string) (emailverify.Outcome, error)
	VerifyFallback(ctx context.Context, addr string) emailverify.Outcome
}

// ResultWriter receives the finished record set.
type ResultWriter interface {
	WriteAll(ctx context.Context, job *web.Job, records []gmaps.Business) error
}

// JobControl is the slice of the web service the runner needs.
type JobControl interface {
	Update(ctx context.Context, job *web.Job) error
	Cancelled(jobID string) bool
	ClearCancel(jobID string)
}

// poolPages adapts the browser pool to PageProvider.
type poolPages struct {
	pool *browser.Pool
}

func (p poolPages) Acquire(ctx context.Context) (gmaps.DetailPage, func(), error) {
	page, err := p.pool.AcquirePage(ctx, browser.PageOptions{})
	if err != nil {
		return nil, nil, err
	}

	return page.Raw(), func() { p.pool.ReleasePage(page) }, nil
}

// NewPoolPages wraps the browser pool for the runner.
func NewPoolPages(pool *browser.Pool) PageProvider {
	return poolPages{pool: pool}
}

// Runner executes one job at a time against shared components.
type Runner struct {
	cfg       Config
	catalog   *geo.Catalog
	pages     PageProvider
	extractor DetailExtractor
	harvester EmailHarvester
	preflight *emails.Preflight
	verifier  EmailVerifier
	dedup     deduper.Deduper
	writers   []ResultWriter
	control   JobControl
	log       zerolog.Logger

	newRand func() *rand.Rand
	now     func() time.Time
}

// Options wires a Runner. Catalog, Pages, Extractor and Control are
// required; the rest degrade to no-ops.
type Options struct {
	Config    Config
	Catalog   *geo.Catalog
	Pages     PageProvider
	Extractor DetailExtractor
	Harvester EmailHarvester
	Preflight *emails.Preflight
	Verifier  EmailVerifier
	Deduper   deduper.Deduper
	Writers   []ResultWriter
	Control   JobControl
	Logger    zerolog.Logger
}

func New(opts Options) *Runner {
	if opts.Deduper == nil {
		opts.Deduper = deduper.New()
	}

	return &Runner{
		cfg:       opts.Config,
		catalog:   opts.Catalog,
		pages:     opts.Pages,
		extractor: opts.Extractor,
		harvester: opts.Harvester,
		preflight: opts.Preflight,
		verifier:  opts.Verifier,
		dedup:     opts.Deduper,
		writers:   opts.Writers,
		control:   opts.Control,
		log:       opts.Logger.With().Str("component", "runner").Logger(),
		newRand:   func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) },
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Claim flips a waiting job to active and persists it, so no other
// worker picks it up.
func (r *Runner) Claim(ctx context.Context, job *web.Job) error {
	if err := job.Transition(web.StatusActive, r.now()); err != nil {
		return err
	}

	return r.control.Update(ctx, job)
}

// jobState tracks one run's mutable accounting.
type jobState struct {
	job          *web.Job
	records      []gmaps.Business
	seenLocation map[geo.Key]bool
	lastReported int
	smtpFailures int
	smtpBlocked  bool
}

// RunJob drives a job from active to a terminal status. The returned
// error reflects infrastructure failures; per-city errors are absorbed.
func (r *Runner) RunJob(ctx context.Context, job *web.Job) error {
	defer r.control.ClearCancel(job.ID)

	start := r.now()

	// The worker claims jobs before handing them over; tolerate callers
	// that skip that step.
	if job.Status != web.StatusActive {
		if err := r.Claim(ctx, job); err != nil {
			return err
		}
	}

	log := r.log.With().Str("job", job.ID).Str("keyword", job.Params.Keyword).Logger()
	ctx = log.WithContext(ctx)

	locations, err := ExpandScope(r.catalog, job.Params, r.newRand())
	if err != nil {
		return r.settleFailed(ctx, job, err.Error())
	}

	st := &jobState{
		job:          job,
		seenLocation: make(map[geo.Key]bool),
	}

	job.Metrics.CitiesPlanned = len(locations)

	for _, loc := range locations {
		if r.cancelRequested(ctx, st) {
			return nil
		}

		if remaining(st) <= 0 {
			break
		}

		key := loc.Key()
		if st.seenLocation[key] {
			continue
		}

		st.seenLocation[key] = true

		display := loc.Display(r.catalog)
		job.Progress.CurrentLocation = display

		log.Info().Str("location", display).Int("remaining", remaining(st)).Msg("processing city")

		cityRecords, err := r.harvestCity(ctx, st, loc)
		if err != nil {
			job.Metrics.CitiesFailed++

			log.Warn().Err(err).Str("location", display).Msg("city failed, moving on")

			continue
		}

		job.Metrics.CitiesProcessed++

		r.collect(ctx, st, cityRecords)
	}

	if r.cancelRequested(ctx, st) {
		return nil
	}

	job.Metrics.Duration = r.now().Sub(start)
	job.Progress.CurrentLocation = ""

	for _, w := range r.writers {
		if err := w.WriteAll(ctx, job, st.records); err != nil {
			return r.settleFailed(ctx, job, fmt.Sprintf("writing results: %v", err))
		}
	}

	if err := job.Transition(web.StatusCompleted, r.now()); err != nil {
		return err
	}

	r.reportProgress(ctx, st, true)

	log.Info().
		Int("records", len(st.records)).
		Int("cities", job.Metrics.CitiesProcessed).
		Dur("duration", job.Metrics.Duration).
		Msg("job completed")

	return r.control.Update(ctx, job)
}

func remaining(st *jobState) int {
	return st.job.Params.MaxRecords - len(st.records)
}

// cancelRequested polls the deletion flag; when set it settles the job
// as failed with the cancellation message.
func (r *Runner) cancelRequested(ctx context.Context, st *jobState) bool {
	if !r.control.Cancelled(st.job.ID) {
		return false
	}

	_ = r.settleFailed(ctx, st.job, CancelledMessage)

	return true
}

func (r *Runner) settleFailed(ctx context.Context, job *web.Job, message string) error {
	if err := job.Fail(message, r.now()); err != nil {
		return err
	}

	return r.control.Update(ctx, job)
}

// harvestCity renders one search page, scrolls it out, filters the
// listings and extracts detail records with the configured worker
// count.
func (r *Runner) harvestCity(ctx context.Context, st *jobState, loc Location) ([]gmaps.Business, error) {
	log := zerolog.Ctx(ctx)

	page, release, err := r.pages.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire search page: %w", err)
	}

	searchURL := SearchURL(st.job.Params.Keyword, loc, r.catalog)

	if _, err := page.Goto(searchURL); err != nil {
		release()

		return nil, fmt.Errorf("navigate search: %w", err)
	}

	scroll := gmaps.Scroll(ctx, page, gmaps.ScrollOptions{})

	log.Debug().Str("reason", string(scroll.Reason)).Int("attempts", scroll.Attempts).Msg("scroll finished")

	listings, err := gmaps.HarvestListings(ctx, page)

	release()

	if err != nil {
		return nil, fmt.Errorf("harvest listings: %w", err)
	}

	kept, total := gmaps.FilterListings(listings, st.job.Params.RatingFilter, st.job.Params.ReviewCountFilter)

	st.job.Metrics.ListingsFiltered += total - len(kept)
	st.job.Progress.TotalListings += len(kept)

	toProcess := len(kept)
	if rem := remaining(st); toProcess > rem {
		toProcess = rem
	}

	if toProcess == 0 {
		return nil, nil
	}

	return r.extractListings(ctx, st, loc, kept[:toProcess])
}

// extractListings fans the detail work across ScraperConcurrency
// workers. Each worker owns one page and pulls the next listing off a
// shared monotonic index; a page lost to a connection error is rebuilt
// with a bounded linear backoff.
func (r *Runner) extractListings(ctx context.Context, st *jobState, loc Location, listings []gmaps.Listing) ([]gmaps.Business, error) {
	log := zerolog.Ctx(ctx)

	workers := r.cfg.ScraperConcurrency
	if workers < 1 {
		workers = 1
	}

	if workers > len(listings) {
		workers = len(listings)
	}

	var (
		next    atomic.Int64
		mu      sync.Mutex
		records []gmaps.Business
		wg      sync.WaitGroup
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			page, release, err := r.pages.Acquire(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("detail worker could not acquire page")

				return
			}

			defer func() {
				if release != nil {
					release()
				}
			}()

			retries := 0
			retryURL := ""

			for {
				if ctx.Err() != nil {
					return
				}

				detailURL := retryURL
				retryURL = ""

				if detailURL == "" {
					i := int(next.Add(1)) - 1
					if i >= len(listings) {
						return
					}

					detailURL = listings[i].URL
				}

				lctx, cancel := context.WithTimeout(ctx, perListingTimeout)
				rec := r.extractor.Extract(lctx, page, detailURL)
				cancel()

				if rec == nil {
					// Distinguish a dead page from a dud listing: probe
					// the page with a no-op evaluation.
					if _, err := page.Evaluate("() => 1"); err != nil && browser.IsConnectionError(err) {
						if retries >= pageRetryAttempts {
							return
						}

						retries++

						release()
						release = nil

						select {
						case <-ctx.Done():
							return
						case <-time.After(time.Duration(retries) * pageRetryBaseDelay):
						}

						page, release, err = r.pages.Acquire(ctx)
						if err != nil {
							return
						}

						// The failed listing stays with this worker and
						// runs again on the fresh page; the shared index
						// keeps moving for the others.
						retryURL = detailURL
					}

					continue
				}

				rec.SearchTerm = st.job.Params.Keyword
				rec.SearchLocation = loc.Display(r.catalog)

				// The page still shows the detail view; pull reviews
				// while it is hot.
				if tr := st.job.Params.ReviewTimeRange; tr != nil {
					rec.FilteredReviews = gmaps.HarvestReviews(ctx, page, *tr, r.now())
					rec.FilteredReviewCount = len(rec.FilteredReviews)
				}

				mu.Lock()
				records = append(records, *rec)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	st.job.Progress.ProcessedListings += len(listings)

	return records, nil
}

// collect applies policy filters, dedupes, enriches with emails and
// folds the survivors into the job, truncating at the record budget.
func (r *Runner) collect(ctx context.Context, st *jobState, cityRecords []gmaps.Business) {
	params := st.job.Params

	for i := range cityRecords {
		if remaining(st) <= 0 {
			break
		}

		rec := cityRecords[i]

		if params.OnlyWithoutWebsite && rec.Website != nil {
			continue
		}

		// Email extraction needs a website to crawl; without one the
		// record is silently dropped.
		if params.IsExtractEmail && !params.OnlyWithoutWebsite && rec.Website == nil {
			continue
		}

		dedupeKey := fmt.Sprintf("%s|%s", st.job.ID, rec.DetailURL)
		if !r.dedup.AddIfNotExists(ctx, dedupeKey) {
			continue
		}

		if params.IsExtractEmail {
			r.enrichEmails(ctx, st, &rec)
		}

		st.records = append(st.records, rec)
		st.job.Progress.RecordsCollected = len(st.records)

		r.reportProgress(ctx, st, false)

		if r.control.Cancelled(st.job.ID) {
			return
		}
	}
}

// enrichEmails harvests the record's website and verifies what it
// finds. A globally blocked SMTP path downgrades the whole run to
// fallback verification when configured.
func (r *Runner) enrichEmails(ctx context.Context, st *jobState, rec *gmaps.Business) {
	if r.harvester == nil || rec.Website == nil {
		return
	}

	site := *rec.Website
	if !rec.IsWebsiteValidForEmail() {
		return
	}

	if r.preflight != nil && !r.preflight.Alive(ctx, site) {
		return
	}

	hctx, cancel := context.WithTimeout(ctx, r.cfg.EmailTimeout)
	res := r.harvester.Harvest(hctx, site)
	cancel()

	if len(res.Emails) == 0 {
		return
	}

	rec.Emails = res.Emails
	st.job.Metrics.EmailsFound += len(res.Emails)

	if !st.job.Params.IsValidate || r.verifier == nil {
		statuses := make([]string, len(res.Emails))
		for i := range statuses {
			statuses[i] = emailverify.StatusUnknown
		}

		rec.EmailStatus = statuses
		rec.EmailVerification = gmaps.EmailVerification{Mode: gmaps.VerificationUnverified}

		return
	}

	statuses := make([]string, len(res.Emails))

	for i, addr := range res.Emails {
		if st.smtpBlocked {
			statuses[i] = r.verifier.VerifyFallback(ctx, addr).Status

			continue
		}

		out, err := r.verifier.Verify(ctx, addr)
		statuses[i] = out.Status

		if err != nil {
			st.smtpFailures++

			if r.cfg.FallbackOnSMTPFailure && st.smtpFailures >= smtpBlockedThreshold {
				st.smtpBlocked = true

				zerolog.Ctx(ctx).Warn().Msg("smtp unreachable repeatedly, switching to fallback verification")
			}
		} else {
			st.smtpFailures = 0
		}
	}

	mode := gmaps.VerificationVerified
	if st.smtpBlocked {
		mode = gmaps.VerificationFallback
	}

	rec.EmailStatus = statuses
	rec.EmailVerification = gmaps.EmailVerification{Mode: mode}
}

// reportProgress pushes an update when the percentage crosses a tenth
// or the run finishes. The percentage never moves backwards.
func (r *Runner) reportProgress(ctx context.Context, st *jobState, final bool) {
	p := &st.job.Progress

	pct := 0
	if p.MaxRecords > 0 {
		pct = int(float64(p.RecordsCollected)/float64(p.MaxRecords)*100 + 0.5)
	}

	if pct > 100 {
		pct = 100
	}

	if pct > p.Percentage {
		p.Percentage = pct
	}

	if final {
		p.Percentage = max(p.Percentage, pct)

		return
	}

	if p.Percentage/10 > st.lastReported/10 {
		st.lastReported = p.Percentage

		if err := r.control.Update(ctx, st.job); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("progress update failed")
		}
	}
}
