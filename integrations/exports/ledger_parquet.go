package exports

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"homeescrow/native/listing"
)

type parquetRow struct {
	PropertyID         string `parquet:"name=property_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status             string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Buyer              string `parquet:"name=buyer, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountHash         string `parquet:"name=amount_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	Deposit            string `parquet:"name=deposit, type=BYTE_ARRAY, convertedtype=UTF8"`
	Refund             string `parquet:"name=refund, type=BYTE_ARRAY, convertedtype=UTF8"`
	TitleCompany       string `parquet:"name=title_company, type=BYTE_ARRAY, convertedtype=UTF8"`
	MortgageCompany    string `parquet:"name=mortgage_company, type=BYTE_ARRAY, convertedtype=UTF8"`
	InspectionDays     int32  `parquet:"name=inspection_days, type=INT32"`
	SubmittedAt        string `parquet:"name=submitted_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	AcceptedAt         string `parquet:"name=accepted_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	MortgageCommitment bool   `parquet:"name=mortgage_commitment, type=BOOLEAN"`
	Withdrawn          bool   `parquet:"name=withdrawn, type=BOOLEAN"`
	Successful         bool   `parquet:"name=successful, type=BOOLEAN"`
}

// WriteLedgerParquet streams the listing's offer ledger to w as a
// snappy-compressed parquet file. It returns the number of rows written.
func WriteLedgerParquet(w io.Writer, l *listing.Listing) (int, error) {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return 0, fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	rows := LedgerRows(l)
	for _, row := range rows {
		pr := &parquetRow{
			PropertyID:         row.PropertyID,
			Status:             row.Status,
			Buyer:              row.Buyer,
			AmountHash:         row.AmountHash,
			Deposit:            row.Deposit,
			Refund:             row.Refund,
			TitleCompany:       row.TitleCompany,
			MortgageCompany:    row.MortgageCompany,
			InspectionDays:     int32(row.InspectionDays),
			SubmittedAt:        row.SubmittedAt,
			AcceptedAt:         row.AcceptedAt,
			MortgageCommitment: row.MortgageCommitment,
			Withdrawn:          row.Withdrawn,
			Successful:         row.Successful,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			return 0, fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return 0, fmt.Errorf("exports: parquet flush: %w", err)
	}
	return len(rows), nil
}
