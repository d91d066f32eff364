package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/Mindburn-Labs/caseledger/pkg/cases"
	"github.com/Mindburn-Labs/caseledger/pkg/event"
	"github.com/Mindburn-Labs/caseledger/pkg/projection"
)

// withSession opens the ledger, runs fn and releases everything afterwards.
func withSession(stderr io.Writer, fn func(ctx context.Context, svc *cases.Service) int) int {
	ctx := context.Background()
	s, err := openSession(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	defer s.Close(ctx)
	return fn(ctx, s.svc)
}

// caseArg parses flags and returns the single positional case id.
func caseArg(cmd *flag.FlagSet, args []string, stderr io.Writer) (string, bool) {
	if err := cmd.Parse(args); err != nil {
		return "", false
	}
	if cmd.NArg() != 1 || cmd.Arg(0) == "" {
		_, _ = fmt.Fprintf(stderr, "Usage: caseledger %s <case-id>\n", cmd.Name())
		return "", false
	}
	return cmd.Arg(0), true
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// runAppendCmd implements `caseledger append`.
//
// Reads one or more JSON objects from stdin and appends them in order. The
// first invalid record stops the run; records before it stay appended.
func runAppendCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("append", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	force := cmd.Bool("force", false, "Append status_check records too")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	var opts []cases.AppendOption
	if *force {
		opts = append(opts, cases.AllowStatusCheck())
	}

	return withSession(stderr, func(ctx context.Context, svc *cases.Service) int {
		dec := json.NewDecoder(stdin)
		n := 0
		for {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				_, _ = fmt.Fprintf(stderr, "Error: read record %d: %v\n", n+1, err)
				return exitFailure
			}
			rec, err := event.ParseRecord(raw)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: record %d: %v\n", n+1, err)
				return exitFailure
			}
			if err := svc.Append(ctx, rec, opts...); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: record %d: %v\n", n+1, err)
				return exitFailure
			}
			n++
		}
		_, _ = fmt.Fprintf(stdout, "appended %d record(s)\n", n)
		return exitOK
	})
}

// runProjectCmd implements `caseledger project <case-id>`.
func runProjectCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("project", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	caseID, ok := caseArg(cmd, args, stderr)
	if !ok {
		return exitUsage
	}

	return withSession(stderr, func(ctx context.Context, svc *cases.Service) int {
		c, err := svc.Project(ctx, caseID)
		if errors.Is(err, projection.ErrNotFound) {
			_, _ = fmt.Fprintf(stderr, "case %s not found\n", caseID)
			return exitNotFound
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailure
		}
		if err := writeJSON(stdout, c); err != nil {
			return exitFailure
		}
		return exitOK
	})
}

// runExistsCmd implements `caseledger exists <case-id>`.
func runExistsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("exists", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	caseID, ok := caseArg(cmd, args, stderr)
	if !ok {
		return exitUsage
	}

	return withSession(stderr, func(ctx context.Context, svc *cases.Service) int {
		exists, err := svc.Exists(ctx, caseID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailure
		}
		_, _ = fmt.Fprintln(stdout, exists)
		if !exists {
			return exitNotFound
		}
		return exitOK
	})
}

// runStatsCmd implements `caseledger stats`.
func runStatsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("stats", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	return withSession(stderr, func(ctx context.Context, svc *cases.Service) int {
		st, err := svc.Stats(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailure
		}
		if *jsonOutput {
			if err := writeJSON(stdout, st); err != nil {
				return exitFailure
			}
			return exitOK
		}
		if !st.Exists {
			_, _ = fmt.Fprintln(stdout, "ledger is empty")
			return exitOK
		}
		_, _ = fmt.Fprintf(stdout, "records: %d (skipped %d of %d lines)\n", st.Records, st.Skipped, st.Lines)
		_, _ = fmt.Fprintf(stdout, "cases:   %d (%d created)\n", st.Cases, st.Created)
		kinds := make([]string, 0, len(st.ByKind))
		for k := range st.ByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			_, _ = fmt.Fprintf(stdout, "  %-14s %d\n", k, st.ByKind[event.Kind(k)])
		}
		return exitOK
	})
}

// runTailCmd implements `caseledger tail [-n N]`.
func runTailCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("tail", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	n := cmd.Int("n", 10, "Number of records (0 for all)")
	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}

	return withSession(stderr, func(ctx context.Context, svc *cases.Service) int {
		recs, err := svc.Tail(ctx, *n)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailure
		}
		for _, rec := range recs {
			line, err := rec.MarshalLine()
			if err != nil {
				continue
			}
			_, _ = stdout.Write(line)
		}
		return exitOK
	})
}
