// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLineage/services/lineage/lineage"
)

var (
	whereUsedKind    string
	whereUsedName    string
	whereUsedLineage bool
)

var whereUsedCmd = &cobra.Command{
	Use:   "where-used [paths...]",
	Short: "List every reference to a field, paragraph, copybook, file, program or table",
	Long: `Analyze the sources under the given paths and list the references to one
entity, ordered by program and line.

Kinds: field, paragraph, copybook, file, program, table.
Without --name the names known for the kind are listed.

--lineage adds the fields a field is derived from (upstream) and the fields
derived from it (downstream).

Examples:
  lineage where-used --kind field --name CUST-ID src/
  lineage where-used --kind field --name WS-TOTAL --lineage src/
  lineage where-used --kind copybook src/`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWhereUsed(cmd.Context(), current, args)
	},
}

func init() {
	whereUsedCmd.Flags().StringVar(&whereUsedKind, "kind", "field",
		"Entity kind")
	whereUsedCmd.Flags().StringVar(&whereUsedName, "name", "",
		"Entity name (omit to list names)")
	whereUsedCmd.Flags().BoolVar(&whereUsedLineage, "lineage", false,
		"Include upstream and downstream fields (field kind only)")
	rootCmd.AddCommand(whereUsedCmd)
}

// entityKinds maps flag values to where-used kinds.
var entityKinds = map[string]lineage.EntityKind{
	"field":     lineage.EntityField,
	"paragraph": lineage.EntityParagraph,
	"copybook":  lineage.EntityCopybook,
	"file":      lineage.EntityFile,
	"program":   lineage.EntityProgram,
	"table":     lineage.EntityTable,
}

func parseEntityKind(s string) (lineage.EntityKind, error) {
	if k, ok := entityKinds[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// whereUsedResult is the --json output of where-used.
type whereUsedResult struct {
	Kind       lineage.EntityKind  `json:"kind"`
	Name       string              `json:"name,omitempty"`
	Names      []string            `json:"names,omitempty"`
	References []lineage.Reference `json:"references,omitempty"`
	Upstream   []string            `json:"upstream,omitempty"`
	Downstream []string            `json:"downstream,omitempty"`

	withLineage bool
}

func runWhereUsed(ctx context.Context, a *app, roots []string) error {
	kind, err := parseEntityKind(whereUsedKind)
	if err != nil {
		return err
	}
	name := strings.ToUpper(strings.TrimSpace(whereUsedName))
	if whereUsedLineage && (kind != lineage.EntityField || name == "") {
		return errors.New("--lineage needs --kind field and --name")
	}

	s, err := a.load(ctx, roots)
	if err != nil {
		return err
	}
	defer s.Close()
	res := s.svc.Result()

	out := whereUsedResult{Kind: kind, Name: name, withLineage: whereUsedLineage}
	if name == "" {
		out.Names = res.WhereUsed.Names(kind)
	} else {
		out.References = res.WhereUsed.Lookup(kind, name)
	}
	if whereUsedLineage {
		out.Upstream = res.Lineage.Upstream(name)
		out.Downstream = res.Lineage.Downstream(name)
	}

	if a.json {
		return a.writeJSON(out)
	}
	printWhereUsed(a, out)
	return nil
}

func printWhereUsed(a *app, r whereUsedResult) {
	p := a.printer
	kind := strings.ToLower(string(r.Kind))

	if r.Name == "" {
		p.Title(fmt.Sprintf("%s names (%d)", strings.ToUpper(kind[:1])+kind[1:], len(r.Names)))
		for _, n := range r.Names {
			p.Item(n)
		}
		return
	}

	p.Title(fmt.Sprintf("Where used: %s %s", kind, r.Name))
	if len(r.References) == 0 {
		p.Warning("No references found")
	}
	for _, ref := range r.References {
		where := ref.Program
		if ref.Paragraph != "" {
			where += "/" + ref.Paragraph
		}
		detail := string(ref.Context)
		if ref.Role != "" {
			detail += " " + string(ref.Role)
		}
		if !ref.Declared && r.Kind == lineage.EntityField {
			detail += " " + p.Muted("(undeclared)")
		}
		p.Row([]int{40, 6}, where, fmt.Sprintf("%d", ref.Line), detail)
	}

	if r.withLineage {
		p.Section("Upstream")
		for _, f := range r.Upstream {
			p.Item(f)
		}
		p.Section("Downstream")
		for _, f := range r.Downstream {
			p.Item(f)
		}
	}
}
