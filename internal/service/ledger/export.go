package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// ParseFormat defaults to CSV.
func ParseFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", errors.NewBadRequest(fmt.Sprintf("unsupported export format %q", s), nil)
}

func (f ExportFormat) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

var entryHeader = []string{
	"entry_id", "appointment_id", "created_at", "transaction_type", "consultation_type",
	"consultation_fee", "commission_amount", "gst_amount", "gateway_total",
	"net_doctor_payout", "net_platform_revenue", "status", "payout_status",
}

// ExportDoctorReport writes the report as one row per entry followed by
// totals rows, or as the JSON document.
func ExportDoctorReport(w io.Writer, report *model.DoctorEarningsReport, format ExportFormat) error {
	if format == FormatJSON {
		return writeJSON(w, report)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(entryHeader); err != nil {
		return err
	}
	for _, e := range report.Entries {
		row := []string{
			e.ID.String(),
			e.AppointmentID.String(),
			e.CreatedAt.UTC().Format(time.RFC3339),
			string(e.TransactionType),
			string(e.ConsultationType),
			e.ConsultationFee.String(),
			e.CommissionAmount.String(),
			e.GSTAmount.String(),
			e.GatewayTotal.String(),
			e.NetDoctorPayout.String(),
			e.NetPlatformRevenue.String(),
			string(e.Status),
			string(e.PayoutStatus),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, r := range [][]string{
		totalsRow("TOTAL", report.Totals),
		totalsRow("REFUNDS", report.Refunds),
		{"PENDING_PAYOUT", "", "", "", "", "", "", "", "", report.PendingPayout.String()},
		{"COMPLETED_PAYOUT", "", "", "", "", "", "", "", "", report.CompletedPayout.String()},
	} {
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var revenueHeader = []string{
	"group", "count", "consultation_fees", "commission", "gst", "gateway_fees",
	"net_doctor_payout", "net_platform_revenue", "platform_gst_liability",
}

// ExportRevenueReport writes one row per consultation type plus totals.
func ExportRevenueReport(w io.Writer, report *model.RevenueReport, format ExportFormat) error {
	if format == FormatJSON {
		return writeJSON(w, report)
	}

	types := make([]string, 0, len(report.ByConsultationType))
	for t := range report.ByConsultationType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	cw := csv.NewWriter(w)
	if err := cw.Write(revenueHeader); err != nil {
		return err
	}
	for _, t := range types {
		if err := cw.Write(revenueRow(t, report.ByConsultationType[model.ConsultationType(t)])); err != nil {
			return err
		}
	}
	if err := cw.Write(revenueRow("refunds", report.Refunds)); err != nil {
		return err
	}
	if err := cw.Write(revenueRow("total", report.Totals)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func totalsRow(label string, t model.LedgerTotals) []string {
	return []string{
		label, strconv.Itoa(t.Count), "", "", "",
		t.ConsultationFees.String(),
		t.Commission.String(),
		t.GST.String(),
		t.GatewayFees.String(),
		t.NetDoctorPayout.String(),
		t.NetPlatformRevenue.String(),
		"", "",
	}
}

func revenueRow(label string, t model.LedgerTotals) []string {
	return []string{
		label,
		strconv.Itoa(t.Count),
		t.ConsultationFees.String(),
		t.Commission.String(),
		t.GST.String(),
		t.GatewayFees.String(),
		t.NetDoctorPayout.String(),
		t.NetPlatformRevenue.String(),
		t.PlatformGSTLiability.String(),
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
