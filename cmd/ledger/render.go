package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/jmerrifield20/minichain/internal/chain"
	"github.com/jmerrifield20/minichain/pkg/client"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown format %q (want %s or %s)", format, formatTable, formatJSON)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shortHash trims a hex digest for table output.
func shortHash(h string, full bool) string {
	if full || len(h) <= 16 {
		return h
	}
	return h[:16] + "…"
}

func renderRecords(w io.Writer, recs []chain.Record, format string, full bool) error {
	if format == formatJSON {
		return writeJSON(w, map[string]any{"blocks": recs})
	}
	data := pterm.TableData{{"Index", "Timestamp", "Transaction", "Previous hash", "Hash"}}
	for _, r := range recs {
		data = append(data, []string{
			strconv.Itoa(r.Index),
			r.Timestamp.Format(time.RFC3339Nano),
			r.Transaction,
			shortHash(r.PreviousHash, full),
			shortHash(r.Hash, full),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).WithWriter(w).Render()
}

func renderVerify(w io.Writer, name string, valid bool, vs []chain.Violation, format string) error {
	if format == formatJSON {
		if vs == nil {
			vs = []chain.Violation{}
		}
		return writeJSON(w, map[string]any{"name": name, "valid": valid, "violations": vs})
	}
	if valid {
		pterm.Success.WithWriter(w).Printfln("%s: chain is valid", name)
		return nil
	}
	pterm.Error.WithWriter(w).Printfln("%s: %d violation(s)", name, len(vs))
	data := pterm.TableData{{"Block", "Check", "Problem"}}
	for _, v := range vs {
		data = append(data, []string{strconv.Itoa(v.Index), string(v.Check), v.Message})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(w).Render()
}

func renderInfo(w io.Writer, verb string, info *client.Info, format string) error {
	if format == formatJSON {
		return writeJSON(w, info)
	}
	pterm.Success.WithWriter(w).Printfln("%s %s (length %d, head %s)", verb, info.Name, info.Length, shortHash(info.Head, false))
	return nil
}

func fromClientBlocks(bs []client.Block) []chain.Record {
	out := make([]chain.Record, len(bs))
	for i, b := range bs {
		out[i] = chain.Record{
			Index:        b.Index,
			Timestamp:    b.Timestamp,
			Transaction:  b.Transaction,
			PreviousHash: b.PreviousHash,
			Hash:         b.Hash,
		}
	}
	return out
}

func fromClientViolations(vs []client.Violation) []chain.Violation {
	out := make([]chain.Violation, len(vs))
	for i, v := range vs {
		out[i] = chain.Violation{Index: v.Index, Check: chain.Check(v.Check), Message: v.Message}
	}
	return out
}
