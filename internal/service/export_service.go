package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	"github.com/LoganDawes/Smart-Registration-Services/internal/schedule"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/export"
)

type exportEnrollmentReader interface {
	ListEnrolledByStudentTerm(ctx context.Context, studentID, term string, year int) ([]models.EnrollmentDetail, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFormat selects the rendered output type.
type ExportFormat string

// Supported export formats.
const (
	ExportFormatICS ExportFormat = "ics"
	ExportFormatPDF ExportFormat = "pdf"
	ExportFormatCSV ExportFormat = "csv"
)

// ExportResult is a rendered schedule document.
type ExportResult struct {
	Format      ExportFormat
	ContentType string
	Filename    string
	Data        []byte
}

// TermDates anchors a term's weekly meetings on the calendar for ICS output.
type TermDates struct {
	Start time.Time
	End   time.Time
}

var icsDayCodes = map[string]string{
	"MON": "MO",
	"TUE": "TU",
	"WED": "WE",
	"THU": "TH",
	"FRI": "FR",
	"SAT": "SA",
	"SUN": "SU",
}

// ExportService renders a student's enrolled schedule as ICS, PDF or CSV.
type ExportService struct {
	enrollments exportEnrollmentReader
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(enrollments exportEnrollmentReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{enrollments: enrollments, csv: csv, pdf: pdf, logger: logger}
}

// Schedule renders the student's ENROLLED sections for a term in the
// requested format.
func (s *ExportService) Schedule(ctx context.Context, studentID, term string, year int, format ExportFormat, dates TermDates) (*ExportResult, error) {
	enrollments, err := s.enrollments.ListEnrolledByStudentTerm(ctx, studentID, term, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}

	base := fmt.Sprintf("schedule-%s-%d", strings.ToLower(term), year)
	switch format {
	case ExportFormatICS:
		data, err := s.renderICS(enrollments, dates)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Format: format, ContentType: "text/calendar", Filename: base + ".ics", Data: data}, nil
	case ExportFormatCSV:
		data, err := s.csv.Render(scheduleDataset(enrollments))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{Format: format, ContentType: "text/csv", Filename: base + ".csv", Data: data}, nil
	case ExportFormatPDF:
		title := fmt.Sprintf("Class Schedule %s %d", term, year)
		data, err := s.pdf.Render(scheduleDataset(enrollments), title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{Format: format, ContentType: "application/pdf", Filename: base + ".pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}

// renderICS emits one weekly recurring VEVENT per section, anchored on the
// first matching weekday at or after the term start.
func (s *ExportService) renderICS(enrollments []models.EnrollmentDetail, dates TermDates) ([]byte, error) {
	if dates.Start.IsZero() || dates.End.IsZero() || !dates.End.After(dates.Start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "term start and end dates are required for calendar export")
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//Smart Registration Services//Schedule//EN")

	until := dates.End.UTC().Format("20060102T150405Z")
	for _, e := range enrollments {
		days := schedule.ParseMeetingDays(e.MeetingDays)
		if len(days) == 0 {
			continue
		}

		byDay := make([]string, 0, len(days))
		for _, d := range days {
			byDay = append(byDay, icsDayCodes[d])
		}

		first := firstMeeting(dates.Start, days)
		start := time.Date(first.Year(), first.Month(), first.Day(), e.StartMinutes/60, e.StartMinutes%60, 0, 0, time.UTC)
		end := time.Date(first.Year(), first.Month(), first.Day(), e.EndMinutes/60, e.EndMinutes%60, 0, 0, time.UTC)

		event := cal.AddEvent(fmt.Sprintf("%s@smart-registration", e.ID))
		event.SetCreatedTime(time.Now().UTC())
		event.SetStartAt(start)
		event.SetEndAt(end)
		event.SetSummary(fmt.Sprintf("%s %s (%s)", e.CourseCode, e.CourseTitle, e.SectionNumber))
		event.SetLocation(e.Location)
		event.AddRrule(fmt.Sprintf("FREQ=WEEKLY;BYDAY=%s;UNTIL=%s", strings.Join(byDay, ","), until))
	}

	return []byte(cal.Serialize()), nil
}

func scheduleDataset(enrollments []models.EnrollmentDetail) export.Dataset {
	headers := []string{"Course", "Title", "Section", "Days", "Start", "End", "Location", "Credits"}
	rows := make([]map[string]string, 0, len(enrollments))
	for _, e := range enrollments {
		rows = append(rows, map[string]string{
			"Course":   e.CourseCode,
			"Title":    e.CourseTitle,
			"Section":  e.SectionNumber,
			"Days":     strings.Join(schedule.ParseMeetingDays(e.MeetingDays), " "),
			"Start":    schedule.FormatMinutes(e.StartMinutes),
			"End":      schedule.FormatMinutes(e.EndMinutes),
			"Location": e.Location,
			"Credits":  fmt.Sprintf("%d", e.Credits),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

var weekdayCodes = map[time.Weekday]string{
	time.Monday:    "MON",
	time.Tuesday:   "TUE",
	time.Wednesday: "WED",
	time.Thursday:  "THU",
	time.Friday:    "FRI",
	time.Saturday:  "SAT",
	time.Sunday:    "SUN",
}

func firstMeeting(termStart time.Time, days []string) time.Time {
	meets := make(map[string]struct{}, len(days))
	for _, d := range days {
		meets[d] = struct{}{}
	}
	day := termStart
	for i := 0; i < 7; i++ {
		if _, ok := meets[weekdayCodes[day.Weekday()]]; ok {
			return day
		}
		day = day.AddDate(0, 0, 1)
	}
	return termStart
}
