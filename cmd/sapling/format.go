package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// formatTreesText prints each tree as a header line followed by its
// s-expression and captures.
func formatTreesText(w io.Writer, trees []CLITree) {
	for i, t := range trees {
		if i > 0 {
			fmt.Fprintln(w)
		}
		label := t.File
		if t.BufferID != nil {
			label = fmt.Sprintf("buffer %d", *t.BufferID)
		}
		fmt.Fprintf(w, "%s (%s, %d bytes, %d errors)\n", label, t.Scope, t.Bytes, t.Errors)
		fmt.Fprintln(w, t.Tree)
		if len(t.Captures) > 0 {
			formatCapturesText(w, t.Captures)
		}
	}
}

// formatCapturesText formats captures as aligned columns.
func formatCapturesText(w io.Writer, caps []CLICapture) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CAPTURE\tTYPE\tLINE\tCOL\tTEXT")
	for _, c := range caps {
		fmt.Fprintf(tw, "@%s\t%s\t%d\t%d\t%s\n",
			c.Name, c.Type, c.StartLine+1, c.StartCol+1, firstLine(c.Text))
	}
	tw.Flush()
}

// formatLanguagesText formats languages as aligned columns.
func formatLanguagesText(w io.Writer, langs []CLILanguage) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINSTALLED\tSCOPES\tUPDATED")
	for _, l := range langs {
		state := "no"
		switch {
		case l.Installed:
			state = "yes"
		case l.Configured:
			state = "config"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			l.Name, state, strings.Join(l.Scopes, ","), l.UpdatedAt)
	}
	tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLITree:
		formatTreesText(w, []CLITree{v})
	case []CLITree:
		formatTreesText(w, v)
	case CLIReplay:
		fmt.Fprintf(w, "%d events, %d notifications\n\n", v.Events, v.Notifications)
		formatTreesText(w, v.Trees)
	case []CLILanguage:
		formatLanguagesText(w, v)
	case CLILanguage:
		formatLanguagesText(w, []CLILanguage{v})
	case CLINotification:
		fmt.Fprintf(w, "%s buffer=%d file=%s scope=%s has_error=%t\n",
			v.Command, v.BufferID, v.File, v.Scope, v.HasError)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// outputResult writes result to w in the selected format.
func outputResult(w io.Writer, result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
