package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	colorSuccess = color.New(color.FgGreen)
	colorError   = color.New(color.FgRed)
	colorWarning = color.New(color.FgYellow)
	colorInfo    = color.New(color.FgCyan)
	colorBold    = color.New(color.Bold)
	colorDim     = color.New(color.Faint)
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && !color.NoColor && isTerminal(),
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Print prints a message.
func (o *Output) Print(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.colored(colorSuccess, format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.colored(colorError, format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.colored(colorWarning, format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.colored(colorInfo, format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.colored(colorBold, format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.colored(colorDim, format, args...)
}

func (o *Output) colored(c *color.Color, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if o.colorEnabled {
		fmt.Fprintln(o.writer, c.Sprint(msg))
	} else {
		fmt.Fprintln(o.writer, msg)
	}
}

func (o *Output) coloredString(c *color.Color, text string) string {
	if o.colorEnabled {
		return c.Sprint(text)
	}
	return text
}

// Green returns green colored text.
func (o *Output) Green(text string) string {
	return o.coloredString(colorSuccess, text)
}

// Red returns red colored text.
func (o *Output) Red(text string) string {
	return o.coloredString(colorError, text)
}

// Yellow returns yellow colored text.
func (o *Output) Yellow(text string) string {
	return o.coloredString(colorWarning, text)
}

// Cyan returns cyan colored text.
func (o *Output) Cyan(text string) string {
	return o.coloredString(colorInfo, text)
}

// DimText returns dimmed text.
func (o *Output) DimText(text string) string {
	return o.coloredString(colorDim, text)
}

// BoldText returns bold text.
func (o *Output) BoldText(text string) string {
	return o.coloredString(colorBold, text)
}

// PnL returns an amount colored by its sign.
func (o *Output) PnL(amount decimal.Decimal) string {
	formatted := FormatSignedUSD(amount)
	switch {
	case amount.IsPositive():
		return o.Green(formatted)
	case amount.IsNegative():
		return o.Red(formatted)
	}
	return formatted
}

// OrderStatus returns an order status colored by its kind.
func (o *Output) OrderStatus(status string) string {
	switch status {
	case "filled":
		return o.Green(status)
	case "canceled", "rejected", "expired":
		return o.Red(status)
	case "partially_filled":
		return o.Yellow(status)
	}
	return status
}

// SessionState returns a session state colored by severity.
func (o *Output) SessionState(state string) string {
	switch state {
	case "AUTHENTICATED":
		return o.Green(state)
	case "REVOKED":
		return o.Red(state)
	case "EXPIRING", "REFRESHING":
		return o.Yellow(state)
	}
	return o.DimText(state)
}

// Table represents a simple table for output.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		output:  output,
	}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(stripANSI(h))
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				cellLen := len(stripANSI(cell))
				if cellLen > widths[i] {
					widths[i] = cellLen
				}
			}
		}
	}

	t.printRow(t.headers, widths, true)
	t.printSeparator(widths)

	for _, row := range t.rows {
		t.printRow(row, widths, false)
	}
}

func (t *Table) printRow(cells []string, widths []int, isHeader bool) {
	var parts []string
	for i, cell := range cells {
		if i < len(widths) {
			padding := widths[i] - len(stripANSI(cell))
			if padding < 0 {
				padding = 0
			}
			padded := cell + strings.Repeat(" ", padding)
			if isHeader {
				padded = t.output.coloredString(colorBold, padded)
			}
			parts = append(parts, padded)
		}
	}
	t.output.Println(strings.Join(parts, "  "))
}

func (t *Table) printSeparator(widths []int) {
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	t.output.Println(t.output.DimText(strings.Repeat("-", total-2)))
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes ANSI escape codes so padding math sees visible width.
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
