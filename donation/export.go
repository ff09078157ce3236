package donation

import (
	"io"
	"time"

	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/xuri/excelize/v2"
)

const reviewSheet = "Review"

var reviewHeadings = []string{
	"RequestId", "ReferenceId", "Platform", "Organization", "Amount", "Currency",
	"DonorId", "FundraiserId", "ServiceId", "Status", "Reason", "CreatedAt", "ResolvedAt",
}

// WriteReviewWorkbook writes the rows that need manual follow-up as xlsx.
func WriteReviewWorkbook(w io.Writer, rows []models.DonationRequest) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reviewSheet); err != nil {
		return err
	}
	for i, h := range reviewHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(reviewSheet, cell, h); err != nil {
			return err
		}
	}

	for i, r := range rows {
		amount, _ := r.DonationAmount.Float64()
		reason := ""
		if r.ReviewReason != nil {
			reason = string(*r.ReviewReason)
		}
		resolved := ""
		if r.ResolvedAt != nil {
			resolved = r.ResolvedAt.UTC().Format(time.RFC3339)
		}
		values := []interface{}{
			r.ID, r.ReferenceId, string(r.Platform), r.OrganizationName, amount, r.Currency,
			r.DonorId, r.FundraiserId, r.ServiceId, string(r.Status), reason,
			r.CreatedAt.UTC().Format(time.RFC3339), resolved,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(reviewSheet, cell, &values); err != nil {
			return err
		}
	}
	return f.Write(w)
}
