package archive

import "github.com/JonMunkholm/dbarchive/internal/model"

// TableSummary describes one parsed table.
type TableSummary struct {
	Name       string `json:"name"`
	PrimaryKey string `json:"primaryKey"`
	Rows       int    `json:"rows"`
	NullCells  int    `json:"nullCells"`
}

// Summary describes a parsed archive without its cell values.
type Summary struct {
	Tables  []TableSummary `json:"tables"`
	Rows    int            `json:"rows"`
	Columns int            `json:"columns"`
}

// Summarize counts the tables, rows and cells of db.
func Summarize(db *model.Database) Summary {
	s := Summary{Tables: make([]TableSummary, 0, len(db.Tables))}
	for _, t := range db.Tables {
		ts := TableSummary{Name: t.Name, PrimaryKey: t.PrimaryKey, Rows: len(t.Rows)}
		for _, r := range t.Rows {
			s.Columns += len(r.Columns)
			for _, c := range r.Columns {
				if !c.Value().Valid {
					ts.NullCells++
				}
			}
		}
		s.Rows += ts.Rows
		s.Tables = append(s.Tables, ts)
	}
	return s
}
