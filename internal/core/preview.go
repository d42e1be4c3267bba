package core

// DefaultPreviewRows is the number of rows shown before conversion.
const DefaultPreviewRows = 5

// Preview is a read-only view of the first rows of a table.
type Preview struct {
	Columns      []string   `json:"columns"`
	Kinds        []string   `json:"kinds"`
	Labels       []int      `json:"labels"`
	Rows         [][]string `json:"rows"`
	TotalRows    int        `json:"totalRows"`
	TotalColumns int        `json:"totalColumns"`
}

// NewPreview renders up to n rows of t as display strings. Missing values
// render as empty cells. n <= 0 uses DefaultPreviewRows.
func NewPreview(t *Table, n int) Preview {
	if n <= 0 {
		n = DefaultPreviewRows
	}
	head := t.Slice(0, n)

	p := Preview{
		Columns:      t.Columns,
		Kinds:        make([]string, len(t.Kinds)),
		Labels:       make([]int, 0, len(head.Rows)),
		Rows:         make([][]string, 0, len(head.Rows)),
		TotalRows:    t.NumRows(),
		TotalColumns: t.NumColumns(),
	}
	for i, k := range t.Kinds {
		p.Kinds[i] = k.String()
	}

	for _, row := range head.Rows {
		cells := make([]string, len(row.Values))
		for i, v := range row.Values {
			cells[i] = v.String()
		}
		p.Labels = append(p.Labels, row.Label)
		p.Rows = append(p.Rows, cells)
	}

	return p
}
