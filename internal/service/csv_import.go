package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Freeeeeet/community_hub/internal/metrics"
	"github.com/Freeeeeet/community_hub/internal/model"
	"go.uber.org/zap"
)

// MaxImportRows caps the data rows accepted in one import file.
const MaxImportRows = 20000

const (
	reasonMalformedRow  = "malformed row"
	reasonMissingEmail  = "missing email"
	reasonInvalidRole   = "invalid role"
	reasonUnknownCohort = "unknown cohort"
	reasonUnknownEmail  = "unknown email"
)

var (
	importHeader = []string{"email", "full_name", "role", "cohort"}
	utf8BOM      = []byte{0xEF, 0xBB, 0xBF}
)

// ImportCSV reconciles memberships from a roster file with the header
// email,full_name,role,cohort. The cohort column names an existing group.
// A bad row is reported and skipped; only a bad file fails as a whole, and
// then nothing is written.
func (s *GroupService) ImportCSV(ctx context.Context, r io.Reader) (*model.ImportReport, error) {
	rows, report, err := parseImportCSV(r)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*model.Group)
	for _, row := range rows {
		group, err := s.resolveCohort(ctx, groups, row.CohortLabel)
		if err != nil {
			return nil, err
		}
		if group == nil {
			report.AddError(row.Row, reasonUnknownCohort)
			continue
		}

		user, err := s.users.FindByEmail(ctx, row.Email)
		if err != nil {
			return nil, fmt.Errorf("find user by email: %w", err)
		}
		if user == nil {
			report.AddError(row.Row, reasonUnknownEmail)
			continue
		}

		added, err := s.addMember(ctx, group, user, model.MemberRole(row.Role))
		if err != nil {
			return nil, err
		}
		if added {
			report.Added++
		} else {
			report.Skipped++
		}
	}

	// shape errors were reported while parsing, before any lookup error
	sort.SliceStable(report.Errors, func(i, j int) bool {
		return report.Errors[i].Row < report.Errors[j].Row
	})

	metrics.ImportRows.WithLabelValues("added").Add(float64(report.Added))
	metrics.ImportRows.WithLabelValues("skipped").Add(float64(report.Skipped))
	metrics.ImportRows.WithLabelValues("error").Add(float64(len(report.Errors)))

	s.logger.Info("CSV import finished",
		zap.Int("added", report.Added),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// resolveCohort looks a cohort label up once per import. Archived groups
// do not accept new members and resolve to nil.
func (s *GroupService) resolveCohort(ctx context.Context, cache map[string]*model.Group, label string) (*model.Group, error) {
	key := strings.ToLower(label)
	if g, ok := cache[key]; ok {
		return g, nil
	}

	group, err := s.groups.GetByName(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("get group by name: %w", err)
	}
	if group != nil && group.Archived {
		group = nil
	}
	cache[key] = group
	return group, nil
}

// parseImportCSV validates the file and every row's shape. Rows that pass
// are returned for reconciliation; the others are already in the report.
func parseImportCSV(r io.Reader) ([]model.CsvImportRow, *model.ImportReport, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("%w: file is empty", ErrValidation)
		}
		return nil, nil, fmt.Errorf("%w: unreadable header: %w", ErrValidation, err)
	}
	if !validHeader(header) {
		return nil, nil, fmt.Errorf("%w: header must be %s", ErrValidation, strings.Join(importHeader, ","))
	}

	report := &model.ImportReport{}
	var rows []model.CsvImportRow
	for n := 1; ; n++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if n > MaxImportRows {
			return nil, nil, fmt.Errorf("%w: more than %d rows", ErrValidation, MaxImportRows)
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, nil, fmt.Errorf("%w: unreadable file: %w", ErrValidation, err)
			}
			report.AddError(n, reasonMalformedRow)
			continue
		}

		row, reason := parseImportRow(n, record)
		if reason != "" {
			report.AddError(n, reason)
			continue
		}
		rows = append(rows, row)
	}

	return rows, report, nil
}

func parseImportRow(n int, record []string) (model.CsvImportRow, string) {
	if len(record) != len(importHeader) {
		return model.CsvImportRow{}, reasonMalformedRow
	}

	row := model.CsvImportRow{
		Row:         n,
		Email:       strings.TrimSpace(record[0]),
		FullName:    strings.TrimSpace(record[1]),
		Role:        strings.ToLower(strings.TrimSpace(record[2])),
		CohortLabel: strings.TrimSpace(record[3]),
	}

	if row.Email == "" {
		return row, reasonMissingEmail
	}
	if row.Role == "" {
		row.Role = string(model.MemberRoleMember)
	}
	if !model.MemberRole(row.Role).Valid() {
		return row, reasonInvalidRole
	}
	if row.CohortLabel == "" {
		return row, reasonUnknownCohort
	}
	return row, ""
}

func validHeader(header []string) bool {
	if len(header) != len(importHeader) {
		return false
	}
	for i, col := range header {
		if strings.ToLower(strings.TrimSpace(col)) != importHeader[i] {
			return false
		}
	}
	return true
}
