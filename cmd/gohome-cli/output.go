package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

type outputMode struct {
	json bool
	w    io.Writer
}

func (o outputMode) writer() io.Writer {
	if o.w != nil {
		return o.w
	}
	return os.Stdout
}

func (o outputMode) printJSON(value any) {
	enc := json.NewEncoder(o.writer())
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		fatal("format json", err)
	}
}

// table prints rows aligned; the first row is the header.
func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(o.writer(), 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}
