package business

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/openkcm/inventory-client/internal/items"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat accepts table, json and yaml. An empty value means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Table is implemented by values with a tabular rendering.
type Table interface {
	Header() []string
	Rows() [][]string
}

type ItemTable []items.Item

func (t ItemTable) Header() []string {
	return []string{"ID", "NAME", "DESCRIPTION", "PRICE", "CREATED AT"}
}

func (t ItemTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, item := range t {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.Name,
			item.Description,
			item.Price,
			formatTime(item.CreatedAt),
		})
	}
	return rows
}

func (s Status) Header() []string {
	return []string{"LOGGED IN", "VIEW", "STORE", "SUBJECT", "EXPIRES AT"}
}

func (s Status) Rows() [][]string {
	expires := ""
	if s.ExpiresAt != nil {
		expires = formatTime(*s.ExpiresAt)
	}
	return [][]string{{strconv.FormatBool(s.LoggedIn), s.View, s.Store, s.Subject, expires}}
}

// Render writes v in the given format. The table format needs a Table.
func Render(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	case FormatTable, "":
		table, ok := v.(Table)
		if !ok {
			return fmt.Errorf("%w: %T has no table form", ErrUnknownFormat, v)
		}
		return renderTable(w, table)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func renderTable(w io.Writer, table Table) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(table.Header(), "\t"))
	for _, row := range table.Rows() {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.DateTime)
}
