package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"spendlog/internal/core"
	"spendlog/internal/log"
	ports "spendlog/internal/sheets"
)

// valuesAPI is the part of the Sheets values service the exporter needs.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) (updatedRange string, err error)
}

type Client struct {
	values        valuesAPI
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger

	// serializes the read-then-append so one process never writes an ID twice
	mu sync.Mutex
}

var _ ports.ExpenseExporter = (*Client)(nil)

type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountFile string
	ServiceAccountJSON string
}

// New creates a Sheets exporter authenticated with a service account.
// Inline JSON wins over a file; with neither, Application Default
// Credentials are used.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Expenses"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(log.FieldComponent, log.ComponentSheets)

	opts := []goption.ClientOption{goption.WithScopes(gsheet.SpreadsheetsScope)}
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		logger.InfoContext(ctx, "Using inline service account credentials")
		opts = append(opts, goption.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	case strings.TrimSpace(cfg.ServiceAccountFile) != "":
		logger.InfoContext(ctx, "Using service account credentials file", "path", cfg.ServiceAccountFile)
		opts = append(opts, goption.WithCredentialsFile(cfg.ServiceAccountFile))
	default:
		logger.InfoContext(ctx, "No service account configured, using application default credentials")
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return newWithValues(serviceValues{svc: svc}, cfg.SpreadsheetID, cfg.SheetName, logger), nil
}

func newWithValues(v valuesAPI, spreadsheetID, sheetName string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		values:        v,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		logger:        logger,
	}
}

// Append writes e as a new row unless its ID is already in the sheet. A
// header row is written first when the sheet is empty.
func (c *Client) Append(ctx context.Context, e core.Expense) (string, error) {
	if e.ID == "" {
		return "", errors.New("expense has no id")
	}
	if c.values == nil {
		return "", errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idRange := fmt.Sprintf("%s!E:E", c.sheetName)
	ids, err := c.values.Get(ctx, c.spreadsheetID, idRange)
	if err != nil {
		return "", fmt.Errorf("read ids from %s: %w", c.sheetName, err)
	}
	if row := findRow(ids, e.ID); row > 0 {
		ref := rowRef(c.sheetName, row)
		c.logger.InfoContext(ctx, "Expense already exported",
			log.FieldExpenseID, e.ID,
			log.FieldSheetsRef, ref)
		return ref, nil
	}

	rows := [][]interface{}{expenseRow(e)}
	if len(ids) == 0 {
		rows = append([][]interface{}{headerRow}, rows...)
	}

	target := fmt.Sprintf("%s!A:%s", c.sheetName, lastColumn)
	ref, err := c.values.Append(ctx, c.spreadsheetID, target, rows)
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", c.sheetName, err)
	}
	return ref, nil
}

// serviceValues adapts *gsheet.Service to valuesAPI.
type serviceValues struct {
	svc *gsheet.Service
}

func (s serviceValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (s serviceValues) Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) (string, error) {
	vr := &gsheet.ValueRange{Values: rows}
	resp, err := s.svc.Spreadsheets.Values.Append(spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if resp.Updates == nil {
		return rng, nil
	}
	return resp.Updates.UpdatedRange, nil
}
