package main

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/zombor/dealsafe/internal/voucher"
)

const descriptionWidth = 48

var voucherHeaders = table.Row{"ID", "Status", "Value", "Method", "Persons", "Expires", "Description"}

// renderVouchers draws the list newest first, as the backend returned it
func renderVouchers(vouchers []voucher.Voucher) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(voucherHeaders)

	for _, v := range vouchers {
		persons := ""
		if v.NumberOfPersons != nil {
			persons = strconv.Itoa(*v.NumberOfPersons)
		}
		status := v.Status()
		if v.UsedAt != nil {
			status = "used"
		}
		tw.AppendRow(table.Row{
			v.ID,
			status,
			deref(v.RedemptionValue),
			deref(v.RedemptionMethod),
			persons,
			deref(v.ExpiresAt),
			truncate(firstLine(deref(v.Description)), descriptionWidth),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

// renderSteps lists the usage guide for a single voucher
func renderSteps(v voucher.Voucher) string {
	if v.UsageGuide == nil || len(v.UsageGuide.Steps) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "How to redeem"})
	for i, step := range v.UsageGuide.Steps {
		tw.AppendRow(table.Row{i + 1, step})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
