package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univent/timetable-api/internal/models"
	appErrors "github.com/univent/timetable-api/pkg/errors"
	"github.com/univent/timetable-api/pkg/export"
	"github.com/univent/timetable-api/pkg/storage"
)

// ExportFormat names a supported rendering format.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type exportStore interface {
	Save(timetableID, exportID, format string, data []byte) (string, error)
	Open(name string) (*os.File, error)
}

type csvRenderer interface {
	Render(table export.Table) ([]byte, error)
}

type pdfRenderer interface {
	Render(table export.Table) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string       `json:"relative_path"`
	Token        string       `json:"token"`
	URL          string       `json:"url"`
	Format       ExportFormat `json:"format"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// ExportService renders a timetable's active entries into downloadable CSV
// or PDF files behind signed URLs.
type ExportService struct {
	timetables *TimetableService
	storage    exportStore
	csv        csvRenderer
	pdf        pdfRenderer
	signer     *storage.SignedURLSigner
	logger     *zap.Logger
	cfg        ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(timetables *TimetableService, files exportStore, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		timetables: timetables,
		storage:    files,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		signer:     signer,
		logger:     logger,
		cfg:        cfg,
	}
}

// Generate renders the timetable and stores the file, returning a signed
// download URL.
func (s *ExportService) Generate(ctx context.Context, timetableID string, format ExportFormat) (*ExportResult, error) {
	detail, err := s.timetables.Get(ctx, timetableID)
	if err != nil {
		return nil, err
	}

	table := buildTimetableTable(detail.Timetable.Name, detail.Entries)

	var payload []byte
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(table)
	case ExportFormatPDF:
		payload, err = s.pdf.Render(table)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	exportID := uuid.New().String()
	relPath, err := s.storage.Save(timetableID, exportID[:8], string(format), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}

	token, expiresAt, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export url")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.logger.Info("timetable exported",
		zap.String("timetable_id", timetableID),
		zap.String("format", string(format)),
		zap.String("path", relPath))

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:       format,
		ExpiresAt:    expiresAt,
	}, nil
}

// OpenDownload validates a signed token and opens the referenced file.
func (s *ExportService) OpenDownload(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

var exportColumns = []string{"Day", "Start", "End", "Event", "Venue", "Faculty", "Status"}

func buildTimetableTable(name string, entries []models.ScheduleEntry) export.Table {
	dayOrder := map[models.Weekday]int{
		models.Monday: 0, models.Tuesday: 1, models.Wednesday: 2, models.Thursday: 3,
		models.Friday: 4, models.Saturday: 5, models.Sunday: 6,
	}
	active := make([]models.ScheduleEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Status == models.EntryActive {
			active = append(active, entry)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if dayOrder[active[i].Slot.Day] != dayOrder[active[j].Slot.Day] {
			return dayOrder[active[i].Slot.Day] < dayOrder[active[j].Slot.Day]
		}
		return active[i].Slot.Start < active[j].Slot.Start
	})

	rows := make([][]string, 0, len(active))
	for _, entry := range active {
		rows = append(rows, []string{
			string(entry.Slot.Day),
			models.FormatMinutes(entry.Slot.Start),
			models.FormatMinutes(entry.Slot.End),
			entry.EventID,
			entry.VenueID,
			strings.Join(entry.FacultyIDs, " "),
			string(entry.Status),
		})
	}
	return export.Table{
		Title:   fmt.Sprintf("%s timetable", name),
		Columns: exportColumns,
		Rows:    rows,
	}
}
