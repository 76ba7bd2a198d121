package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/teslashibe/go-rehearse/pkg/session"
)

// DefaultSheetName is the tab receiving records.
const DefaultSheetName = "Sessions"

// sheetColumns is the column order after the leading user key column.
// Names match the record's JSON fields so rows decode like stored blobs.
var sheetColumns = []string{
	"id", "questionId", "scenarioTitle", "category", "difficulty", "stakes",
	"avgConfidence", "minConfidence", "confidenceVariance",
	"silenceCount", "silenceRatio", "longPauseCount", "speechBursts", "volumeVariance",
	"cameraEnabled", "eyeContactRatio", "headMovementRatio",
	"duration", "neverSpoke", "deltaConfidenceVsBaseline", "time",
}

// SheetsConfig addresses the spreadsheet.
type SheetsConfig struct {
	SpreadsheetID string
	// CredentialsFile is a service account JSON key.
	CredentialsFile string
	// Sheet is the tab name; default DefaultSheetName.
	Sheet string
}

// rowAPI is the slice of the Sheets values API the store uses.
type rowAPI interface {
	Append(ctx context.Context, row []any) error
	Rows(ctx context.Context) ([][]any, error)
}

// SheetsStore appends one row per record to a Google spreadsheet, for
// teams that review rehearsal history outside the app.
type SheetsStore struct {
	api    rowAPI
	logger *slog.Logger
}

// NewSheetsStore authenticates with a service account and opens the
// spreadsheet.
func NewSheetsStore(ctx context.Context, cfg SheetsConfig, logger *slog.Logger) (*SheetsStore, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("sheets store: spreadsheet id is required")
	}
	if cfg.CredentialsFile == "" {
		return nil, errors.New("sheets store: credentials file is required")
	}
	if cfg.Sheet == "" {
		cfg.Sheet = DefaultSheetName
	}

	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets store: read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets store: parse credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("sheets store: create service: %w", err)
	}

	return newSheetsStore(&sheetValues{
		svc:   svc,
		id:    cfg.SpreadsheetID,
		sheet: cfg.Sheet,
	}, logger), nil
}

func newSheetsStore(api rowAPI, logger *slog.Logger) *SheetsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetsStore{api: api, logger: logger}
}

// Save implements Store.
func (s *SheetsStore) Save(ctx context.Context, userID string, r session.Record) error {
	if err := s.api.Append(ctx, recordRow(Key(userID), session.Sanitize(r))); err != nil {
		return fmt.Errorf("sheets store: append: %w", err)
	}
	return nil
}

// ListAll implements Store.
func (s *SheetsStore) ListAll(ctx context.Context, userID string) ([]session.Record, error) {
	rows, err := s.api.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets store: read: %w", err)
	}

	key := Key(userID)
	var records []session.Record
	for _, row := range rows {
		if len(row) == 0 || fmt.Sprint(row[0]) != key {
			continue
		}
		raw := make(map[string]any, len(sheetColumns))
		for i, col := range sheetColumns {
			if i+1 >= len(row) {
				break
			}
			if v := row[i+1]; v != nil && v != "" {
				raw[col] = v
			}
		}
		records = append(records, session.SanitizeRaw(raw))
	}
	return records, nil
}

// BaselineAverage implements Store.
func (s *SheetsStore) BaselineAverage(ctx context.Context, userID, category string) (float64, bool, error) {
	records, err := s.ListAll(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	avg, ok := session.BaselineAverage(records, category)
	return avg, ok, nil
}

// Close implements Store.
func (s *SheetsStore) Close() error { return nil }

func recordRow(key string, r session.Record) []any {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	delta := ""
	if r.DeltaConfidenceVsBaseline != nil {
		delta = f(*r.DeltaConfidenceVsBaseline)
	}

	return []any{
		key,
		r.ID, r.QuestionID, r.ScenarioTitle, r.Category, r.Difficulty, r.Stakes,
		f(r.AvgConfidence), f(r.MinConfidence), f(r.ConfidenceVariance),
		strconv.Itoa(r.SilenceCount), f(r.SilenceRatio), strconv.Itoa(r.LongPauseCount),
		strconv.Itoa(r.SpeechBursts), f(r.VolumeVariance),
		strconv.FormatBool(r.CameraEnabled), f(r.EyeContactRatio), f(r.HeadMovementRatio),
		f(r.Duration), strconv.FormatBool(r.NeverSpoke), delta,
		r.Timestamp.UTC().Format(time.RFC3339),
	}
}

// sheetValues is the live rowAPI.
type sheetValues struct {
	svc   *sheets.Service
	id    string
	sheet string
}

func (v *sheetValues) Append(ctx context.Context, row []any) error {
	_, err := v.svc.Spreadsheets.Values.Append(v.id, v.sheet+"!A1", &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (v *sheetValues) Rows(ctx context.Context) ([][]any, error) {
	resp, err := v.svc.Spreadsheets.Values.Get(v.id, v.sheet+"!A:V").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}
