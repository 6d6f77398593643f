package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputJSON  OutputFormat = "json"
	OutputYAML  OutputFormat = "yaml"
)

type OutputOptions struct {
	Format OutputFormat
	Quiet  bool
	Writer io.Writer
	// ErrWriter receives PrintError output. Defaults to os.Stderr.
	ErrWriter io.Writer
}

func NewOutputOptions() *OutputOptions {
	return &OutputOptions{
		Format:    OutputTable,
		Quiet:     false,
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

// Tabular is implemented by values that render as a table with fixed
// columns instead of the reflected field list.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

func FormatOutput(data any, format OutputFormat) (string, error) {
	switch format {
	case OutputJSON:
		return formatJSON(data)
	case OutputYAML:
		return formatYAML(data)
	default:
		return formatTable(data)
	}
}

func formatJSON(data any) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal JSON: %w", err)
	}
	return string(b) + "\n", nil
}

// formatYAML round-trips through JSON so json tags and MarshalText
// methods shape the YAML the same way they shape the JSON.
func formatYAML(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal YAML: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(b, &generic); err != nil {
		return "", fmt.Errorf("marshal YAML: %w", err)
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("marshal YAML: %w", err)
	}
	return string(out), nil
}

func formatTable(data any) (string, error) {
	if data == nil {
		return "", nil
	}
	if t, ok := data.(Tabular); ok {
		return renderTable(t.Header(), t.Rows()), nil
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		return formatMapTable(v), nil
	case reflect.Struct:
		return formatStructTable(v), nil
	default:
		return fmt.Sprintf("%v\n", data), nil
	}
}

func renderTable(header []string, rows [][]string) string {
	if len(rows) == 0 {
		return "No items\n"
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return sb.String()
}

func formatMapTable(v reflect.Value) string {
	keys := make([]string, 0, v.Len())
	values := make(map[string]string, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k := fmt.Sprintf("%v", iter.Key())
		keys = append(keys, k)
		values[k] = formatValue(iter.Value().Interface())
	}
	sort.Strings(keys)

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, values[k])
	}
	w.Flush()
	return sb.String()
}

func formatStructTable(v reflect.Value) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", fieldName(field), formatValue(v.Field(i).Interface()))
	}

	w.Flush()
	return sb.String()
}

func fieldName(field reflect.StructField) string {
	name := field.Tag.Get("json")
	if idx := strings.Index(name, ","); idx != -1 {
		name = name[:idx]
	}
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return ""
		}
		v = rv.Elem().Interface()
	}

	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val)
	case float32, float64:
		return fmt.Sprintf("%.2f", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func PrintOutput(data any, opts *OutputOptions) error {
	if opts.Quiet {
		return nil
	}

	output, err := FormatOutput(data, opts.Format)
	if err != nil {
		return err
	}

	fmt.Fprint(opts.Writer, output)
	return nil
}

func printEnvelope(w io.Writer, format OutputFormat, data map[string]any, text string) {
	switch format {
	case OutputJSON:
		b, _ := json.MarshalIndent(data, "", "  ")
		fmt.Fprintln(w, string(b))
	case OutputYAML:
		b, _ := yaml.Marshal(data)
		fmt.Fprint(w, string(b))
	default:
		fmt.Fprintln(w, text)
	}
}

func PrintError(err error, opts *OutputOptions) {
	w := opts.ErrWriter
	if w == nil {
		w = os.Stderr
	}
	printEnvelope(w, opts.Format, map[string]any{
		"success": false,
		"error": map[string]string{
			"message": err.Error(),
		},
	}, "Error: "+err.Error())
}

func PrintSuccess(message string, opts *OutputOptions) {
	if opts.Quiet {
		return
	}
	printEnvelope(opts.Writer, opts.Format, map[string]any{
		"success": true,
		"message": message,
	}, message)
}
