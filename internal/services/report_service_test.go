package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"stockipv/server/internal/models"
)

func TestBuildReportRows(t *testing.T) {
	fx := newFixture(t)
	ipv := fx.turn(t, line(fx, "pizza", "2"), line(fx, "soda", "3"))
	reports := NewReportService(fx.store, fx.ipv, nil)

	rep, err := reports.BuildReport(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if rep.Name != ipv.Name || len(rep.Rows) != len(ipv.Lines) {
		t.Fatalf("report = %s with %d rows, want %s with %d", rep.Name, len(rep.Rows), ipv.Name, len(ipv.Lines))
	}
	byProduct := make(map[string]ReportRow)
	for _, r := range rep.Rows {
		byProduct[r.Product] = r
	}
	if r := byProduct["Pizza"]; r.Kind != models.LineManufactured || !r.Requested.Equal(d("2")) {
		t.Errorf("pizza row = %+v", r)
	}
	if r := byProduct["Dough"]; r.Parent != "Pizza" || !r.Requested.Equal(d("4")) {
		t.Errorf("dough row = %+v", r)
	}
	if r := byProduct["Soda"]; r.Parent != "" || r.Kind != models.LineSimple {
		t.Errorf("soda row = %+v", r)
	}
}

func TestExportXLSX(t *testing.T) {
	fx := newFixture(t)
	ipv := fx.turn(t, line(fx, "soda", "3"))
	reports := NewReportService(fx.store, fx.ipv, nil)

	rep, err := reports.BuildReport(fx.ctx, ipv.ID)
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	data, err := reports.ExportXLSX(rep)
	if err != nil {
		t.Fatalf("ExportXLSX: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(reportSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want title, blank, header and one line", len(rows))
	}
	if rows[0][0] != ipv.Name {
		t.Errorf("title = %q", rows[0][0])
	}
	if rows[2][0] != "Товар" || rows[3][0] != "Soda" || rows[3][5] != "3" {
		t.Errorf("sheet rows = %v", rows)
	}
}

func TestConsumptionHistoryNeedsDatabase(t *testing.T) {
	fx := newFixture(t)
	reports := NewReportService(fx.store, fx.ipv, nil)
	_, err := reports.ConsumptionHistory(fx.ctx, "", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

type memoryFile struct {
	bytes.Buffer
	closed bool
}

func (f *memoryFile) Close() error {
	f.closed = true
	return nil
}

type memoryDir struct {
	dirs  []string
	files map[string]*memoryFile
}

func (d *memoryDir) MkdirAll(dir string) error {
	d.dirs = append(d.dirs, dir)
	return nil
}

func (d *memoryDir) Create(name string) (io.WriteCloser, error) {
	f := &memoryFile{}
	d.files[name] = f
	return f, nil
}

func (d *memoryDir) Close() error { return nil }

func TestReportUploaderOnClose(t *testing.T) {
	fx := newFixture(t)
	reports := NewReportService(fx.store, fx.ipv, nil)
	dir := &memoryDir{files: make(map[string]*memoryFile)}
	up := &ReportUploader{
		reports:   reports,
		remoteDir: "/upload/ipv",
		dial:      func() (RemoteDir, error) { return dir, nil },
	}

	ipv := fx.turn(t, line(fx, "soda", "3"))
	at := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)

	if err := up.Publish(context.Background(), NewTurnEvent(EventTurnUpdated, ipv, at)); err != nil {
		t.Fatalf("Publish updated: %v", err)
	}
	if len(dir.files) != 0 {
		t.Fatalf("uploaded on a non-close event")
	}

	if err := up.Publish(context.Background(), NewTurnEvent(EventTurnClosed, ipv, at)); err != nil {
		t.Fatalf("Publish closed: %v", err)
	}
	want := "/upload/ipv/IPV_00001_20260301_223000.xlsx"
	f, ok := dir.files[want]
	if !ok {
		t.Fatalf("files = %v, want %s", dir.files, want)
	}
	if !f.closed || f.Len() == 0 {
		t.Errorf("file closed=%v size=%d", f.closed, f.Len())
	}
	if len(dir.dirs) != 1 || dir.dirs[0] != "/upload/ipv" {
		t.Errorf("dirs = %v", dir.dirs)
	}
}

func TestReportFileName(t *testing.T) {
	got := reportFileName("IPV/00042", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if !strings.HasPrefix(got, "IPV_00042_20260102_030405") || !strings.HasSuffix(got, ".xlsx") {
		t.Fatalf("name = %q", got)
	}
}
