// Package stats derives simple counts from stored raw events. All bucketing
// is done in UTC on the event's own ts; events without a parseable ts are
// not counted.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"teamclaude/internal/model"
)

type EventLister interface {
	ListByTenant(ctx context.Context, tenantID string) ([]model.IngestEvent, error)
	ListByTenantUser(ctx context.Context, tenantID, userID string) ([]model.IngestEvent, error)
}

type PresenceReader interface {
	State(ctx context.Context, tenantID, userID string) (model.PresenceState, error)
}

const trendDays = 7

type HourlyInteractions struct {
	Hour         int `json:"hour"`
	Interactions int `json:"interactions"`
}

type DailyInteractions struct {
	Date         string `json:"date"`
	Interactions int    `json:"interactions"`
}

type Today struct {
	Interactions int                  `json:"interactions"`
	LastActiveAt *time.Time           `json:"lastActiveAt"`
	Heatmap      []HourlyInteractions `json:"heatmap"`
}

type MemberStats struct {
	UserID       string              `json:"userId"`
	Interactions int                 `json:"interactions"`
	LastActiveAt *time.Time          `json:"lastActiveAt"`
	State        model.PresenceState `json:"state"`
}

type TeamSummary struct {
	TotalInteractions int  `json:"totalInteractions"`
	ActiveMembers     int  `json:"activeMembers"`
	PeakHour          *int `json:"peakHour"`
}

type TeamMembers struct {
	Members []MemberStats        `json:"members"`
	Summary TeamSummary          `json:"summary"`
	Heatmap []HourlyInteractions `json:"heatmap"`
}

type Service struct {
	events   EventLister
	presence PresenceReader
	now      func() time.Time
}

func NewService(events EventLister, presence PresenceReader) *Service {
	return NewServiceWithNow(events, presence, time.Now)
}

func NewServiceWithNow(events EventLister, presence PresenceReader, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{events: events, presence: presence, now: now}
}

func (s *Service) dayBounds() (time.Time, time.Time) {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// todayTimes returns the sorted ts values of events that fall on the current
// UTC day.
func (s *Service) todayTimes(events []model.IngestEvent) []time.Time {
	start, end := s.dayBounds()
	times := make([]time.Time, 0, len(events))
	for _, ev := range events {
		ts, ok := eventTime(ev)
		if !ok || ts.Before(start) || !ts.Before(end) {
			continue
		}
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

func (s *Service) MyToday(ctx context.Context, tenantID, userID string) (Today, error) {
	events, err := s.events.ListByTenantUser(ctx, tenantID, userID)
	if err != nil {
		return Today{}, fmt.Errorf("stats: list events: %w", err)
	}
	times := s.todayTimes(events)

	out := Today{Interactions: len(times), Heatmap: heatmap(times)}
	if len(times) > 0 {
		last := times[len(times)-1]
		out.LastActiveAt = &last
	}
	return out, nil
}

// TeamTrend counts the tenant's events per UTC day for the last seven days,
// oldest first. Days without events are present with zero.
func (s *Service) TeamTrend(ctx context.Context, tenantID string) ([]DailyInteractions, error) {
	events, err := s.events.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("stats: list events: %w", err)
	}

	today, _ := s.dayBounds()
	trend := make([]DailyInteractions, trendDays)
	index := make(map[string]int, trendDays)
	for i := 0; i < trendDays; i++ {
		date := today.AddDate(0, 0, i-(trendDays-1)).Format(time.DateOnly)
		trend[i] = DailyInteractions{Date: date}
		index[date] = i
	}
	for _, ev := range events {
		ts, ok := eventTime(ev)
		if !ok {
			continue
		}
		if i, ok := index[ts.Format(time.DateOnly)]; ok {
			trend[i].Interactions++
		}
	}
	return trend, nil
}

// TeamMembers reports today's activity per user together with their current
// presence state. Users with no event today are not listed.
func (s *Service) TeamMembers(ctx context.Context, tenantID string) (TeamMembers, error) {
	events, err := s.events.ListByTenant(ctx, tenantID)
	if err != nil {
		return TeamMembers{}, fmt.Errorf("stats: list events: %w", err)
	}

	byUser := make(map[string][]model.IngestEvent)
	for _, ev := range events {
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}

	var all []time.Time
	out := TeamMembers{Members: make([]MemberStats, 0, len(byUser))}
	for userID, userEvents := range byUser {
		times := s.todayTimes(userEvents)
		if len(times) == 0 {
			continue
		}
		all = append(all, times...)

		state := model.StateOffline
		if s.presence != nil {
			state, err = s.presence.State(ctx, tenantID, userID)
			if err != nil {
				return TeamMembers{}, fmt.Errorf("stats: presence of %s: %w", userID, err)
			}
		}
		last := times[len(times)-1]
		out.Members = append(out.Members, MemberStats{
			UserID:       userID,
			Interactions: len(times),
			LastActiveAt: &last,
			State:        state,
		})
		out.Summary.TotalInteractions += len(times)
		if state == model.StateCoding {
			out.Summary.ActiveMembers++
		}
	}
	sort.Slice(out.Members, func(i, j int) bool {
		if out.Members[i].Interactions != out.Members[j].Interactions {
			return out.Members[i].Interactions > out.Members[j].Interactions
		}
		return out.Members[i].UserID < out.Members[j].UserID
	})

	out.Heatmap = heatmap(all)
	var peak *HourlyInteractions
	for i := range out.Heatmap {
		if peak == nil || out.Heatmap[i].Interactions > peak.Interactions {
			peak = &out.Heatmap[i]
		}
	}
	if peak != nil {
		hour := peak.Hour
		out.Summary.PeakHour = &hour
	}
	return out, nil
}

func heatmap(times []time.Time) []HourlyInteractions {
	counts := make(map[int]int)
	for _, ts := range times {
		counts[ts.Hour()]++
	}
	out := make([]HourlyInteractions, 0, len(counts))
	for hour, n := range counts {
		out = append(out, HourlyInteractions{Hour: hour, Interactions: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out
}

func eventTime(ev model.IngestEvent) (time.Time, bool) {
	if ev.TS == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, *ev.TS)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
