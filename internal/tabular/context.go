package tabular

// Context is the derived, non-persisted dataset context for one session.
// It is replaced wholesale on every new attachment — never merged.
type Context struct {
	Table   *Table
	Summary string
	SlimCSV string
}

// NewContext parses an attachment and derives the full dataset context:
// parse → enrich → summarize → slim projection.
func NewContext(text string, kind Kind) (*Context, error) {
	table, err := Parse(text, kind)
	if err != nil {
		return nil, err
	}
	Enrich(table)
	return &Context{
		Table:   table,
		Summary: Summarize(table),
		SlimCSV: SlimProjection(table),
	}, nil
}
