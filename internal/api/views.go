package api

import (
	"errors"
	"fmt"
	"time"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/service"
)

var errBadInput = errors.New("bad input")

type generateResult struct {
	TemplateID       uint              `json:"template_id"`
	InstancesCreated int               `json:"instances_created"`
	Error            string            `json:"error,omitempty"`
	ErrorKind        service.ErrorKind `json:"error_kind,omitempty"`
}

type generateSuccess struct {
	Success               bool             `json:"success"`
	RunID                 string           `json:"runId"`
	TemplatesProcessed    int              `json:"templatesProcessed"`
	TotalInstancesCreated int              `json:"totalInstancesCreated"`
	Results               []generateResult `json:"results"`
	Skipped               []uint           `json:"skipped,omitempty"`
	Timestamp             time.Time        `json:"timestamp"`
}

type generateFailure struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func newGenerateSuccess(r service.Report) generateSuccess {
	results := make([]generateResult, len(r.Results))
	for i, res := range r.Results {
		results[i] = generateResult{
			TemplateID:       res.TemplateID,
			InstancesCreated: res.InstancesCreated,
			Error:            res.Error,
			ErrorKind:        res.ErrorKind,
		}
	}
	return generateSuccess{
		Success:               true,
		RunID:                 r.RunID.String(),
		TemplatesProcessed:    r.TemplatesProcessed(),
		TotalInstancesCreated: r.TotalInstancesCreated(),
		Results:               results,
		Skipped:               r.Skipped,
		Timestamp:             r.Timestamp,
	}
}

type patternRequest struct {
	Frequency      string `json:"frequency"`
	Interval       *int   `json:"interval"`
	DaysOfWeek     []int  `json:"daysOfWeek"`
	DayOfMonth     int    `json:"dayOfMonth"`
	EndDate        string `json:"endDate"`
	MaxOccurrences int    `json:"maxOccurrences"`
}

// input converts the request. A missing interval means 1.
func (p patternRequest) input() (recurrence.PatternInput, error) {
	in := recurrence.PatternInput{
		Frequency:      p.Frequency,
		Interval:       1,
		DaysOfWeek:     p.DaysOfWeek,
		DayOfMonth:     p.DayOfMonth,
		MaxOccurrences: p.MaxOccurrences,
	}
	if p.Interval != nil {
		in.Interval = *p.Interval
	}
	if p.EndDate != "" {
		end, err := parseDate("endDate", p.EndDate)
		if err != nil {
			return in, err
		}
		in.EndDate = &end
	}
	return in, nil
}

type templateRequest struct {
	patternRequest
	UserID      uint   `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	AnchorDate  string `json:"anchorDate"`
}

func (t templateRequest) input() (service.TemplateInput, error) {
	pattern, err := t.patternRequest.input()
	if err != nil {
		return service.TemplateInput{}, err
	}
	anchor, err := parseDate("anchorDate", t.AnchorDate)
	if err != nil {
		return service.TemplateInput{}, err
	}
	return service.TemplateInput{
		UserID:      t.UserID,
		Title:       t.Title,
		Description: t.Description,
		Category:    t.Category,
		AnchorDate:  anchor,
		Pattern:     pattern,
	}, nil
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", errBadInput, field, raw)
	}
	return d, nil
}

type templateView struct {
	ID                   uint    `json:"id"`
	UserID               uint    `json:"userId"`
	CategoryID           *uint   `json:"categoryId,omitempty"`
	Title                string  `json:"title"`
	Description          string  `json:"description,omitempty"`
	Frequency            string  `json:"frequency"`
	Interval             int     `json:"interval"`
	DaysOfWeek           []int   `json:"daysOfWeek,omitempty"`
	DayOfMonth           int     `json:"dayOfMonth,omitempty"`
	EndDate              *string `json:"endDate,omitempty"`
	MaxOccurrences       int     `json:"maxOccurrences,omitempty"`
	AnchorDate           string  `json:"anchorDate"`
	GeneratedUntil       *string `json:"generatedUntil,omitempty"`
	OccurrencesGenerated int     `json:"occurrencesGenerated"`
	Active               bool    `json:"active"`
	RRule                string  `json:"rrule"`
	Summary              string  `json:"summary"`
}

func newTemplateView(t model.Template, rrule string) templateView {
	v := templateView{
		ID:                   t.ID,
		UserID:               t.UserID,
		CategoryID:           t.CategoryID,
		Title:                t.Title,
		Description:          t.Description,
		Frequency:            t.Frequency,
		Interval:             t.Interval,
		DayOfMonth:           t.DayOfMonth,
		EndDate:              formatDate(t.EndDate),
		MaxOccurrences:       t.MaxOccurrences,
		AnchorDate:           t.AnchorDate.Format(time.DateOnly),
		GeneratedUntil:       formatDate(t.GeneratedUntil),
		OccurrencesGenerated: t.OccurrencesGenerated,
		Active:               t.Active,
		RRule:                rrule,
		Summary:              service.Describe(t),
	}
	for _, d := range t.DaysOfWeek {
		v.DaysOfWeek = append(v.DaysOfWeek, int(d))
	}
	return v
}

type instanceView struct {
	ID           uint       `json:"id"`
	TemplateID   uint       `json:"templateId"`
	InstanceDate string     `json:"instanceDate"`
	Title        string     `json:"title"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	IsCompleted  bool       `json:"isCompleted"`
}

func newInstanceView(t model.Task) instanceView {
	v := instanceView{
		ID:          t.ID,
		Title:       t.Title,
		Deadline:    t.Deadline,
		IsCompleted: t.IsCompleted,
	}
	if t.TemplateID != nil {
		v.TemplateID = *t.TemplateID
	}
	if d := formatDate(t.InstanceDate); d != nil {
		v.InstanceDate = *d
	}
	return v
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.DateOnly)
	return &s
}
