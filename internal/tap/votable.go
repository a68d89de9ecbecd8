package tap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field describes one VOTable column.
type Field struct {
	Name     string
	Datatype string
	Unit     string
	UCD      string
}

// Table is the TABLEDATA of the first result table of a VOTable document.
// Cell values are kept as the raw trimmed text; empty means null.
type Table struct {
	Fields []Field
	Rows   [][]string

	index map[string]int
}

func newTable(fields []Field, rows [][]string) *Table {
	t := &Table{Fields: fields, Rows: rows, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		t.index[strings.ToLower(f.Name)] = i
	}
	return t
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns the index of a column, matched case-insensitively.
func (t *Table) Column(name string) (int, bool) {
	i, ok := t.index[strings.ToLower(name)]
	return i, ok
}

func (t *Table) Record(i int) Record {
	return Record{table: t, cells: t.Rows[i]}
}

// Record is a row accessor keyed by column name.
type Record struct {
	table *Table
	cells []string
}

// String returns the cell value, or "" if the column is absent or null.
func (r Record) String(column string) string {
	i, ok := r.table.Column(column)
	if !ok || i >= len(r.cells) {
		return ""
	}
	return r.cells[i]
}

// Float parses the cell as a float. ok is false for absent, null or NaN cells.
func (r Record) Float(column string) (float64, bool) {
	s := r.String(column)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

type voTableDoc struct {
	XMLName   xml.Name     `xml:"VOTABLE"`
	Infos     []voInfo     `xml:"INFO"`
	Resources []voResource `xml:"RESOURCE"`
}

type voResource struct {
	Type      string       `xml:"type,attr"`
	Infos     []voInfo     `xml:"INFO"`
	Tables    []voTable    `xml:"TABLE"`
	Resources []voResource `xml:"RESOURCE"`
}

type voInfo struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	Text  string `xml:",chardata"`
}

type voTable struct {
	Fields []voField `xml:"FIELD"`
	Data   *voData   `xml:"DATA"`
}

type voField struct {
	Name     string `xml:"name,attr"`
	ID       string `xml:"ID,attr"`
	Datatype string `xml:"datatype,attr"`
	Unit     string `xml:"unit,attr"`
	UCD      string `xml:"ucd,attr"`
}

type voData struct {
	TableData *voTableData `xml:"TABLEDATA"`
	Binary    *struct{}    `xml:"BINARY"`
	Binary2   *struct{}    `xml:"BINARY2"`
	FITS      *struct{}    `xml:"FITS"`
}

type voTableData struct {
	Rows []voRow `xml:"TR"`
}

type voRow struct {
	Cells []string `xml:"TD"`
}

// ParseVOTable decodes a VOTable document and returns its first table.
// Only the TABLEDATA serialization is supported.
func ParseVOTable(body []byte) (*Table, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty VOTable document")
	}
	var doc voTableDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode VOTable: %w", err)
	}
	if msg, failed := queryStatusError(doc.Infos); failed {
		return nil, fmt.Errorf("query failed: %s", msg)
	}

	tbl, err := firstTable(doc.Resources)
	if err != nil {
		return nil, err
	}

	fields := make([]Field, len(tbl.Fields))
	for i, f := range tbl.Fields {
		name := f.Name
		if name == "" {
			name = f.ID
		}
		fields[i] = Field{Name: name, Datatype: f.Datatype, Unit: f.Unit, UCD: f.UCD}
	}

	var rows [][]string
	if tbl.Data != nil {
		if tbl.Data.TableData == nil {
			return nil, errors.New("unsupported VOTable serialization, only TABLEDATA is handled")
		}
		rows = make([][]string, 0, len(tbl.Data.TableData.Rows))
		for i, tr := range tbl.Data.TableData.Rows {
			if len(tr.Cells) != len(fields) {
				return nil, fmt.Errorf("row %d has %d cells, table has %d fields", i, len(tr.Cells), len(fields))
			}
			cells := make([]string, len(tr.Cells))
			for j, td := range tr.Cells {
				cells[j] = strings.TrimSpace(td)
			}
			rows = append(rows, cells)
		}
	}
	return newTable(fields, rows), nil
}

func firstTable(resources []voResource) (*voTable, error) {
	for i := range resources {
		res := &resources[i]
		if msg, failed := queryStatusError(res.Infos); failed {
			return nil, fmt.Errorf("query failed: %s", msg)
		}
		if len(res.Tables) > 0 {
			return &res.Tables[0], nil
		}
		if t, err := firstTable(res.Resources); err == nil {
			return t, nil
		}
	}
	return nil, errors.New("VOTable contains no TABLE element")
}

func queryStatusError(infos []voInfo) (string, bool) {
	for _, info := range infos {
		if info.Name == "QUERY_STATUS" && strings.EqualFold(info.Value, "ERROR") {
			msg := strings.TrimSpace(info.Text)
			if msg == "" {
				msg = "service reported QUERY_STATUS=ERROR"
			}
			return msg, true
		}
	}
	return "", false
}
