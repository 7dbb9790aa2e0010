package utils

import (
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
)

// TablePrinter can be used to print data as a table
type TablePrinter struct {
	out io.Writer
}

// NewTablePrinter returns a new table printer writing to stdout
func NewTablePrinter() *TablePrinter {
	return &TablePrinter{out: os.Stdout}
}

// NewTablePrinterTo returns a new table printer writing to w
func NewTablePrinterTo(w io.Writer) *TablePrinter {
	return &TablePrinter{out: w}
}

// Print prints the table
func (t *TablePrinter) Print(headers []string, data [][]string) error {
	table := tablewriter.NewWriter(t.out)

	h := make([]any, 0, len(headers))
	for _, header := range headers {
		h = append(h, header)
	}
	table.Header(h...)

	if err := table.Bulk(data); err != nil {
		return err
	}

	return table.Render()
}
