// Package analytics computes reporting rollups over the audit log and the
// case store. Every aggregation pass reads one immutable snapshot of each,
// so concurrent evaluations never skew a report mid-computation.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelai/risk-engine/internal/config"
	"github.com/sentinelai/risk-engine/internal/domain"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
	"github.com/sentinelai/risk-engine/internal/repository"
	"github.com/sentinelai/risk-engine/internal/signals"
)

// DailyCount is one day's flagged detection count.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// KeywordCount ranks one mined fraud keyword.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Overview is the reporting snapshot for one trailing window.
type Overview struct {
	PeriodDays      int `json:"period_days"`
	TotalAnalyses   int `json:"total_analyses"`
	FlaggedAnalyses int `json:"flagged_analyses"`

	// FraudPerDay lists flagged detection counts per day, oldest first.
	FraudPerDay []DailyCount `json:"fraud_per_day"`

	// AIFraudPercentage is the share of flagged detections where the AI
	// generation probability dominated the fraud intent probability.
	AIFraudPercentage float64 `json:"ai_fraud_percentage"`

	RiskBreakdown map[domain.RiskLevel]int     `json:"risk_breakdown"`
	TypeBreakdown map[domain.SourceChannel]int `json:"type_breakdown"`

	TotalCases     int                       `json:"total_cases"`
	TotalEscalated int                       `json:"total_escalated"`
	CaseStatus     map[domain.CaseStatus]int `json:"case_status"`

	// AvgResolutionHours averages updated_at-created_at over cases that
	// reached a terminal state. Nil when the window closed no cases;
	// open cases are excluded, never counted as zero.
	AvgResolutionHours *float64 `json:"avg_resolution_hours"`

	TopFraudKeywords []KeywordCount `json:"top_fraud_keywords"`

	GeneratedAt time.Time `json:"generated_at"`
}

// OverviewProvider is what the transport layer consumes; both the plain
// aggregator and its caching wrapper satisfy it.
type OverviewProvider interface {
	Overview(ctx context.Context, windowDays int) (*Overview, error)
}

// Aggregator computes overviews straight from the stores.
type Aggregator struct {
	store  repository.SnapshotReader
	cfg    config.AnalyticsConfig
	log    *logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New creates an aggregator over the given snapshot reader.
func New(store repository.SnapshotReader, cfg config.AnalyticsConfig, log *logger.Logger) *Aggregator {
	if cfg.DefaultWindowDays <= 0 {
		cfg.DefaultWindowDays = 30
	}
	if cfg.MaxWindowDays <= 0 {
		cfg.MaxWindowDays = 365
	}
	if cfg.TopKeywords <= 0 {
		cfg.TopKeywords = 10
	}

	return &Aggregator{
		store:  store,
		cfg:    cfg,
		log:    log.Named("analytics"),
		tracer: otel.Tracer("github.com/sentinelai/risk-engine/internal/analytics"),
		now:    time.Now,
	}
}

// resolveWindow applies the default and bounds-checks the caller's window.
func (a *Aggregator) resolveWindow(windowDays int) (int, error) {
	if windowDays == 0 {
		return a.cfg.DefaultWindowDays, nil
	}
	if windowDays < 1 || windowDays > a.cfg.MaxWindowDays {
		return 0, fmt.Errorf("%w: window_days must be between 1 and %d",
			domain.ErrInvalidInput, a.cfg.MaxWindowDays)
	}
	return windowDays, nil
}

// Overview aggregates the trailing windowDays of audit and case activity.
// A zero windowDays selects the configured default.
func (a *Aggregator) Overview(ctx context.Context, windowDays int) (*Overview, error) {
	ctx, span := a.tracer.Start(ctx, "analytics.Overview")
	defer span.End()

	days, err := a.resolveWindow(windowDays)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("analytics.window_days", days))

	now := a.now().UTC()
	since := now.AddDate(0, 0, -days)

	var (
		entries []*domain.AuditLogEntry
		cases   []*domain.Case
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = a.store.AuditEntriesSince(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		cases, err = a.store.CasesSince(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ov := &Overview{
		PeriodDays:    days,
		FraudPerDay:   []DailyCount{},
		RiskBreakdown: make(map[domain.RiskLevel]int),
		TypeBreakdown: make(map[domain.SourceChannel]int),
		CaseStatus:    make(map[domain.CaseStatus]int),
		GeneratedAt:   now,
	}
	a.rollupAudit(ov, entries)
	a.rollupCases(ov, cases)

	a.log.Debug("analytics overview computed",
		logger.IntField("window_days", days),
		logger.IntField("analyses", ov.TotalAnalyses),
		logger.IntField("cases", ov.TotalCases))

	return ov, nil
}

func (a *Aggregator) rollupAudit(ov *Overview, entries []*domain.AuditLogEntry) {
	perDay := make(map[string]int)
	freq := make(map[string]int)
	firstSeen := make(map[string]int)
	aiDominant := 0

	for _, e := range entries {
		ov.TotalAnalyses++
		ov.RiskBreakdown[e.RiskLevel]++
		ov.TypeBreakdown[e.SourceChannel]++

		if !e.Flagged {
			continue
		}
		ov.FlaggedAnalyses++
		perDay[e.Timestamp.UTC().Format("2006-01-02")]++

		if e.AIProbability > e.FraudProbability {
			aiDominant++
		}

		for _, kw := range signals.Keywords(e.Detail) {
			if _, seen := freq[kw]; !seen {
				firstSeen[kw] = len(firstSeen)
			}
			freq[kw]++
		}
	}

	if ov.FlaggedAnalyses > 0 {
		ov.AIFraudPercentage = round1(float64(aiDominant) / float64(ov.FlaggedAnalyses) * 100)
	}

	days := make([]string, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		ov.FraudPerDay = append(ov.FraudPerDay, DailyCount{Date: d, Count: perDay[d]})
	}

	ov.TopFraudKeywords = rankKeywords(freq, firstSeen, a.cfg.TopKeywords)
}

func (a *Aggregator) rollupCases(ov *Overview, cases []*domain.Case) {
	var hours float64
	terminal := 0

	for _, c := range cases {
		ov.TotalCases++
		ov.CaseStatus[c.Status]++
		if c.Status == domain.CaseStatusEscalated {
			ov.TotalEscalated++
		}
		if c.Status.Terminal() {
			terminal++
			hours += c.UpdatedAt.Sub(c.CreatedAt).Hours()
		}
	}

	if terminal > 0 {
		avg := round2(hours / float64(terminal))
		ov.AvgResolutionHours = &avg
	}
}

// rankKeywords orders keywords by descending count, breaking ties by the
// order each keyword was first seen in the scan.
func rankKeywords(freq, firstSeen map[string]int, topK int) []KeywordCount {
	type ranked struct {
		kw    string
		count int
		seen  int
	}

	all := make([]ranked, 0, len(freq))
	for kw, count := range freq {
		all = append(all, ranked{kw: kw, count: count, seen: firstSeen[kw]})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].seen < all[j].seen
	})
	if len(all) > topK {
		all = all[:topK]
	}

	out := make([]KeywordCount, 0, len(all))
	for _, r := range all {
		out = append(out, KeywordCount{Keyword: r.kw, Count: r.count})
	}
	return out
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
