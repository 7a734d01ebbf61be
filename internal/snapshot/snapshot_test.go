package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crm-migrate/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func writeXLSX(t *testing.T, dir, name string, rows [][]string) {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	require.NoError(t, f.Save(filepath.Join(dir, name)))
}

func legacyDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "Legacy_companies.csv", "\ufeffComp_CompanyId,Comp_Name,Comp_Website\n"+
		"1,Acme Paris,www.acme.com\n"+
		"2,Acme Lyon,NULL\n"+
		"x,Broken,\n")
	writeFile(t, dir, "Legacy_persons.csv", "Pers_PersonId;Pers_FirstName;Pers_LastName;Pers_EmailAddress;Pers_CompanyId\n"+
		"10;Jean;Dupont;Jean@ACME.com;1\n"+
		"11;Anna;Berg;;NULL\n")
	writeFile(t, dir, "Legacy_Opportunities.csv", "Oppo_OpportunityId,Oppo_Description,Oppo_Type,Oppo_Stage,Oppo_Status,Oppo_Forecast,oppo_cout,Oppo_Certainty,Oppo_PrimaryCompanyId,Oppo_PrimaryPersonId,Oppo_CreatedDate\n"+
		"100,Chip A,FTK,01 - Identification,Perdue,\"100 000,50\",20000,80,1,10,2024-03-01 09:30:00\n"+
		"101,Study B,Preetude,02 - Qualification,En cours,abc,,NULL,2,,01/02/2024\n"+
		"102,Study C,Preetude,,En cours,,,,,,someday\n")
	writeFile(t, dir, "Legacy_comm.csv", "Comm_CommunicationId,Comm_Subject,Comm_DateTime,Comp_CompanyId,Pers_PersonId,Oppo_OpportunityId\n"+
		"500,Appel de suivi,2024-03-02 10:00:00,99,10,100\n"+
		"501,Call back,,1,,\n")
	writeFile(t, dir, "legacy_socialnetworks.csv", "sone_networklinkid,sone_networklink,Related_TableID,Related_RecordID\n"+
		"1,https://linkedin.com/company/acme,5,1\n"+
		"2,#AUTO#,13,10\n"+
		"3,https://linkedin.com/in/jean,13,10\n"+
		"4,https://example.com,7,3\n")
	return dir
}

func TestLoad_LegacyExtracts(t *testing.T) {
	snap, err := Load(context.Background(), legacyDir(t))
	require.NoError(t, err)

	require.Len(t, snap.Companies, 2)
	assert.Equal(t, "Acme Paris", snap.Companies[0].Name)
	require.NotNil(t, snap.Companies[0].Website)
	assert.Equal(t, "www.acme.com", *snap.Companies[0].Website)
	assert.Nil(t, snap.Companies[1].Website)

	require.Len(t, snap.Contacts, 2)
	assert.Equal(t, "jean@acme.com", snap.Contacts[0].Email)
	require.NotNil(t, snap.Contacts[0].CompanyID)
	assert.Equal(t, int64(1), *snap.Contacts[0].CompanyID)
	assert.Nil(t, snap.Contacts[1].CompanyID)

	require.Len(t, snap.Deals, 3)
	d := snap.Deals[0]
	assert.Equal(t, "FTK", d.LegacyType)
	assert.Equal(t, "01 - Identification", d.LegacyStage)
	require.NotNil(t, d.ForecastAmount)
	assert.Equal(t, "100000.5", d.ForecastAmount.String())
	require.NotNil(t, d.CreatedAt)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), *d.CreatedAt)
	require.NotNil(t, d.ContactID)

	// Non-numeric forecast defaults to zero downstream and is reported.
	assert.Nil(t, snap.Deals[1].ForecastAmount)
	assert.Nil(t, snap.Deals[1].CertaintyPercent)
	require.NotNil(t, snap.Deals[1].CreatedAt)
	assert.Equal(t, time.February, snap.Deals[1].CreatedAt.Month())
	assert.Nil(t, snap.Deals[2].CreatedAt)

	require.Len(t, snap.Communications, 2)
	assert.Equal(t, "note", snap.Communications[0].Channel)
	assert.Equal(t, "call", snap.Communications[1].Channel)
	require.NotNil(t, snap.Communications[0].CompanyID)
	assert.Equal(t, int64(99), *snap.Communications[0].CompanyID)

	require.Len(t, snap.SocialLinks, 3)
	assert.Equal(t, model.EntityCompany, snap.SocialLinks[0].EntityType)
	assert.Equal(t, model.EntityContact, snap.SocialLinks[1].EntityType)
	assert.Equal(t, model.Entity("7"), snap.SocialLinks[2].EntityType)

	byField := make(map[string]model.Finding)
	for _, f := range snap.Findings {
		assert.Equal(t, model.FindingValidation, f.Kind)
		byField[string(f.Entity)+"/"+f.Field] = f
	}
	require.Contains(t, byField, "Company/id")
	assert.Contains(t, byField["Company/id"].Message, "Legacy_companies.csv:4")
	require.Contains(t, byField, "Deal/forecast_amount")
	assert.Equal(t, int64(101), byField["Deal/forecast_amount"].RecordID)
	require.Contains(t, byField, "Deal/created_at")
	assert.Equal(t, int64(102), byField["Deal/created_at"].RecordID)
}

func TestLoad_XLSX(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, dir, "companies.xlsx", [][]string{
		{"id", "name", "website"},
		{"1", "Beta Corp", ""},
		{"2.0", "Gamma SA", "https://gamma.ch"},
	})
	writeXLSX(t, dir, "deals.xlsx", [][]string{
		{"id", "pipeline", "stage", "status", "forecast"},
		{"7", "Hardware", "Negotiation", "Won", "1500"},
	})

	snap, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, snap.Companies, 2)
	assert.Equal(t, int64(2), snap.Companies[1].ID)
	require.Len(t, snap.Deals, 1)
	assert.Equal(t, "Hardware", snap.Deals[0].PipelineType)
	assert.Equal(t, "1500", snap.Deals[0].ForecastAmount.String())
	assert.Empty(t, snap.Contacts)
	assert.Empty(t, snap.Findings)
}

func TestLoad_HeaderlessCompanies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Legacy_companies.csv",
		"1,Acme Paris,acme.com,,100,Deal A\n"+
			"1,Acme Paris,acme.com,,101,Deal B\n"+
			"2,Beta,,,102,Deal C\n")
	writeFile(t, dir, "deals.csv", "id,stage\n")

	snap, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, snap.Companies, 2)
	assert.Equal(t, int64(1), snap.Companies[0].ID)
	assert.Equal(t, "Beta", snap.Companies[1].Name)
	assert.Empty(t, snap.Deals)
}

func TestLoad_MissingRequired(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "companies.csv", "id,name\n1,Acme\n")

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no deals extract")
}

func TestLoad_NoIDColumn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "companies.csv", "id,name\n1,Acme\n")
	writeFile(t, dir, "deals.csv", "stage,status\nx,y\n")

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id column")
}

func TestLoad_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load(ctx, legacyDir(t))
	require.Error(t, err)
}

func TestReadCSV_SniffsDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  [][]string
	}{
		{"comma", "a,b\n1,2\n", [][]string{{"a", "b"}, {"1", "2"}}},
		{"semicolon", "a;b\n1,5;2\n", [][]string{{"a", "b"}, {"1,5", "2"}}},
		{"tab", "a\tb\n1\t2\n", [][]string{{"a", "b"}, {"1", "2"}}},
		{"trims", " a , b \n", [][]string{{"a", "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := readCSV(context.Background(), strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestChannelFromSubject(t *testing.T) {
	tests := map[string]string{
		"":                     "unknown",
		"Suivi projet":         "note",
		"Appel client":         "call",
		"Follow-up call":       "call",
		"E-mail envoyé":        "email",
		"Réunion de lancement": "meeting",
		"Devis":                "other",
	}
	for subject, want := range tests {
		assert.Equal(t, want, ChannelFromSubject(subject), subject)
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"42", 42, true},
		{" 42.0 ", 42, true},
		{"42.5", 0, false},
		{"NULL", 0, false},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseInt(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestNewHeader_Aliases(t *testing.T) {
	h := newHeader(TableDeals, []string{"\ufeffOPPO_OpportunityId", "Oppo_Stage", "status", "oppo_cout"})
	row := []string{"9", "Qualification", "Open", "12"}
	assert.Equal(t, "9", h.get(row, colID))
	assert.Equal(t, "Qualification", h.get(row, colStage))
	assert.Equal(t, "Open", h.get(row, colStatus))
	assert.Equal(t, "12", h.get(row, colCost))
	assert.Equal(t, "", h.get(row, colForecast))
	assert.False(t, h.has(colForecast))
}
