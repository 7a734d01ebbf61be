// Package snapshot loads a directory of legacy CRM extracts (CSV or XLSX) into typed
// rows. Row-level problems become findings on the snapshot; only unreadable or missing
// required extracts fail the load.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-migrate/internal/finance"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/normalize"
)

// autoLink is the placeholder the legacy CRM writes for generated social links.
const autoLink = "#AUTO#"

// Legacy related-table ids of social links.
const (
	relatedCompany = "5"
	relatedPerson  = "13"
)

// timeLayouts are the timestamp formats found in legacy extracts, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02.01.2006",
}

// Load reads every extract of dir. Tables are read concurrently; the snapshot is
// returned only when all of them loaded.
func Load(ctx context.Context, dir string) (*model.Snapshot, error) {
	files, err := discover(dir)
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{}
	var companyF, contactF, dealF, commF, socialF []model.Finding

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Companies, companyF, err = loadTable(gCtx, files[TableCompanies], TableCompanies, parseCompany)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Contacts, contactF, err = loadTable(gCtx, files[TableContacts], TableContacts, parseContact)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Deals, dealF, err = loadTable(gCtx, files[TableDeals], TableDeals, parseDeal)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Communications, commF, err = loadTable(gCtx, files[TableCommunications], TableCommunications, parseCommunication)
		return err
	})
	g.Go(func() error {
		var err error
		snap.SocialLinks, socialF, err = loadTable(gCtx, files[TableSocialLinks], TableSocialLinks, parseSocialLink)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "snapshot: load %s", dir)
	}

	for _, fs := range [][]model.Finding{companyF, contactF, dealF, commF, socialF} {
		snap.Findings = append(snap.Findings, fs...)
	}

	zap.L().Info("snapshot: loaded",
		zap.String("dir", dir),
		zap.Int("companies", len(snap.Companies)),
		zap.Int("contacts", len(snap.Contacts)),
		zap.Int("deals", len(snap.Deals)),
		zap.Int("communications", len(snap.Communications)),
		zap.Int("social_links", len(snap.SocialLinks)),
		zap.Int("findings", len(snap.Findings)),
	)
	return snap, nil
}

// discover finds the extract file of each table in dir.
func discover(dir string) (map[Table]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: read dir %s", dir)
	}
	byName := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			byName[strings.ToLower(e.Name())] = e.Name()
		}
	}

	files := make(map[Table]string)
	for t, names := range fileNames {
	search:
		for _, n := range names {
			for _, ext := range []string{".csv", ".xlsx"} {
				if name, ok := byName[n+ext]; ok {
					files[t] = filepath.Join(dir, name)
					break search
				}
			}
		}
		if _, ok := files[t]; !ok {
			if required[t] {
				return nil, eris.Errorf("snapshot: no %s extract in %s (expected one of %s)", t, dir, strings.Join(names, ", "))
			}
			zap.L().Warn("snapshot: extract missing; loading as empty", zap.String("table", string(t)))
		}
	}
	return files, nil
}

// readRows reads all rows of a CSV or XLSX extract.
func readRows(ctx context.Context, path string) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: open %s", path)
	}
	defer f.Close()
	return readCSV(ctx, f)
}

// rowParser turns one row into a typed value. ok is false when the row must be skipped.
type rowParser[T any] func(h header, row []string, rec *recorder) (v T, ok bool)

// loadTable reads and parses one extract. An empty path loads nothing.
func loadTable[T any](ctx context.Context, path string, t Table, parse rowParser[T]) ([]T, []model.Finding, error) {
	if path == "" {
		return nil, nil, nil
	}
	rows, err := readRows(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	h := newHeader(t, rows[0])
	data := rows[1:]
	headerless := false
	if !h.has(colID) {
		if t != TableCompanies || len(rows[0]) != len(headerlessCompanies) {
			return nil, nil, eris.Errorf("snapshot: %s: no id column in header %q", filepath.Base(path), rows[0])
		}
		h, data, headerless = positional(headerlessCompanies), rows, true
	}

	rec := &recorder{entity: entityOf[t], file: filepath.Base(path)}
	out := make([]T, 0, len(data))
	seen := make(map[int64]bool)
	for i, row := range data {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "snapshot: load cancelled")
		}
		if blank(row) {
			continue
		}
		rec.line = i + 2
		if headerless {
			rec.line = i + 1
			// The headerless company export repeats a company once per opportunity.
			id, ok := parseInt(h.get(row, colID))
			if ok && seen[id] {
				continue
			}
			seen[id] = true
		}
		if v, ok := parse(h, row, rec); ok {
			out = append(out, v)
		}
	}
	return out, rec.findings, nil
}

var entityOf = map[Table]model.Entity{
	TableCompanies:      model.EntityCompany,
	TableContacts:       model.EntityContact,
	TableDeals:          model.EntityDeal,
	TableCommunications: model.EntityCommunication,
	TableSocialLinks:    model.EntitySocialLink,
}

// recorder collects validation findings for one extract.
type recorder struct {
	entity   model.Entity
	file     string
	line     int
	id       int64
	findings []model.Finding
}

func (r *recorder) add(field, msg string) {
	r.findings = append(r.findings, model.Finding{
		Kind: model.FindingValidation, Entity: r.entity, RecordID: r.id, Field: field,
		Message: fmt.Sprintf("%s:%d: %s", r.file, r.line, msg),
	})
	zap.L().Warn("snapshot: invalid value",
		zap.String("file", r.file),
		zap.Int("line", r.line),
		zap.Int64("record_id", r.id),
		zap.String("field", field),
		zap.String("message", msg),
	)
}

// primary parses the row's primary key. Rows without a usable id are skipped.
func (r *recorder) primary(h header, row []string) (int64, bool) {
	r.id = 0
	raw := h.get(row, colID)
	id, ok := parseInt(raw)
	if !ok {
		r.add(colID, fmt.Sprintf("missing or invalid id %q; row skipped", raw))
		return 0, false
	}
	r.id = id
	return id, true
}

// ref parses an optional foreign key. Null text is nil; garbage is nil plus a finding.
func (r *recorder) ref(h header, row []string, col string) *int64 {
	raw := h.get(row, col)
	if normalize.IsNullText(raw) {
		return nil
	}
	id, ok := parseInt(raw)
	if !ok {
		r.add(col, fmt.Sprintf("%q is not an id; treated as empty", raw))
		return nil
	}
	return &id
}

// amount parses a money or percent field. Non-numeric text is nil plus a finding, so
// the value counts as zero downstream.
func (r *recorder) amount(h header, row []string, col string) *decimal.Decimal {
	d, err := finance.ParseAmount(col, h.get(row, col))
	if err != nil {
		r.add(col, err.Error()+"; defaulted to 0")
		return nil
	}
	return d
}

// timestamp parses an optional date cell.
func (r *recorder) timestamp(h header, row []string, col string) *time.Time {
	raw := h.get(row, col)
	if normalize.IsNullText(raw) {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	r.add(col, fmt.Sprintf("unrecognized date %q", raw))
	return nil
}

// text returns a free-text cell with legacy null markers blanked.
func text(h header, row []string, col string) string {
	v := h.get(row, col)
	if normalize.IsNullText(v) {
		return ""
	}
	return v
}

func parseCompany(h header, row []string, rec *recorder) (model.LegacyCompany, bool) {
	id, ok := rec.primary(h, row)
	if !ok {
		return model.LegacyCompany{}, false
	}
	c := model.LegacyCompany{
		ID:       id,
		Name:     text(h, row, colName),
		ParentID: rec.ref(h, row, colParentID),
	}
	if w := text(h, row, colWebsite); w != "" {
		c.Website = &w
	}
	return c, true
}

func parseContact(h header, row []string, rec *recorder) (model.LegacyContact, bool) {
	id, ok := rec.primary(h, row)
	if !ok {
		return model.LegacyContact{}, false
	}
	return model.LegacyContact{
		ID:        id,
		FirstName: text(h, row, colFirstName),
		LastName:  text(h, row, colLastName),
		Email:     strings.ToLower(text(h, row, colEmail)),
		CompanyID: rec.ref(h, row, colCompanyID),
	}, true
}

func parseDeal(h header, row []string, rec *recorder) (model.LegacyDeal, bool) {
	id, ok := rec.primary(h, row)
	if !ok {
		return model.LegacyDeal{}, false
	}
	return model.LegacyDeal{
		ID:               id,
		Description:      text(h, row, colDescription),
		PipelineType:     text(h, row, colPipeline),
		LegacyType:       text(h, row, colType),
		LegacyStage:      text(h, row, colStage),
		LegacyStatus:     text(h, row, colStatus),
		Source:           text(h, row, colSource),
		ForecastAmount:   rec.amount(h, row, colForecast),
		Cost:             rec.amount(h, row, colCost),
		CertaintyPercent: rec.amount(h, row, colCertainty),
		CompanyID:        rec.ref(h, row, colCompanyID),
		ContactID:        rec.ref(h, row, colContactID),
		TargetClose:      rec.timestamp(h, row, colTargetClose),
		CreatedAt:        rec.timestamp(h, row, colCreated),
		UpdatedAt:        rec.timestamp(h, row, colUpdated),
	}, true
}

func parseCommunication(h header, row []string, rec *recorder) (model.LegacyCommunication, bool) {
	id, ok := rec.primary(h, row)
	if !ok {
		return model.LegacyCommunication{}, false
	}
	c := model.LegacyCommunication{
		ID:        id,
		Subject:   text(h, row, colSubject),
		Channel:   strings.ToLower(text(h, row, colChannel)),
		Timestamp: rec.timestamp(h, row, colTimestamp),
		CompanyID: rec.ref(h, row, colCompanyID),
		ContactID: rec.ref(h, row, colContactID),
		DealID:    rec.ref(h, row, colDealID),
	}
	if c.Channel == "" {
		c.Channel = ChannelFromSubject(c.Subject)
	}
	return c, true
}

func parseSocialLink(h header, row []string, rec *recorder) (model.LegacySocialLink, bool) {
	link := text(h, row, colLink)
	if link == "" || link == autoLink {
		return model.LegacySocialLink{}, false
	}
	id, ok := rec.primary(h, row)
	if !ok {
		return model.LegacySocialLink{}, false
	}
	return model.LegacySocialLink{
		ID:         id,
		Link:       link,
		EntityType: socialEntity(text(h, row, colEntityType)),
		RecordID:   rec.ref(h, row, colRecordID),
	}, true
}

// socialEntity maps a legacy related-table id or entity name to an entity.
func socialEntity(raw string) model.Entity {
	switch normalize.Key(raw) {
	case relatedCompany, "company":
		return model.EntityCompany
	case relatedPerson, "person", "contact":
		return model.EntityContact
	default:
		return model.Entity(raw)
	}
}

// ChannelFromSubject infers the channel of a communication whose extract has no channel
// column, from keywords of its subject.
func ChannelFromSubject(subject string) string {
	s := normalize.Key(subject)
	switch {
	case s == "":
		return "unknown"
	case strings.Contains(s, "suivi"):
		return "note"
	case strings.Contains(s, "call"), strings.Contains(s, "appel"):
		return "call"
	case strings.Contains(s, "mail"):
		return "email"
	case strings.Contains(s, "meeting"), strings.Contains(s, "reunion"), strings.Contains(s, "rdv"):
		return "meeting"
	default:
		return "other"
	}
}

// parseInt parses an id cell. Spreadsheet exports may render ids as "42.0".
func parseInt(raw string) (int64, bool) {
	if normalize.IsNullText(raw) {
		return 0, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsInteger() {
		return 0, false
	}
	return d.IntPart(), true
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
