package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"schemamodel/internal/logger"
	"schemamodel/internal/model"
)

func newTreeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Load the whole schema and print it as a tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			d, release, err := openTree(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()
			if err := model.PopulateAll(cmd.Context(), d); err != nil {
				// print what loaded
				logger.Error("populate: %v", err)
			}
			printTree(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

// printTree writes the populated part of d, one object per line. Key
// columns are starred.
func printTree(w io.Writer, d *model.Database) {
	fmt.Fprintln(w, d.Name())
	printTables(w, 1, d.Tables())
	for _, s := range d.Schemas() {
		fmt.Fprintf(w, "%sschema %s\n", indent(1), s.Name())
		printTables(w, 2, s.Tables())
	}
	for _, c := range d.Catalogs() {
		fmt.Fprintf(w, "%scatalog %s\n", indent(1), c.Name())
		printTables(w, 2, c.Tables())
		for _, s := range c.Schemas() {
			fmt.Fprintf(w, "%sschema %s\n", indent(2), s.Name())
			printTables(w, 3, s.Tables())
		}
	}
}

func printTables(w io.Writer, depth int, tables []*model.Table) {
	for _, t := range tables {
		fmt.Fprintf(w, "%s%s %s\n", indent(depth), strings.ToLower(string(t.ObjectType())), t.Name())
		in := indent(depth + 1)
		for _, c := range t.Columns() {
			mark := " "
			if c.InPrimaryKey() {
				mark = "*"
			}
			null := ""
			if !c.IsNullable() {
				null = " not null"
			}
			fmt.Fprintf(w, "%s%s %s %s%s\n", in, mark, c.Name(), c.TypeName(), null)
		}
		for _, ix := range t.Indexes() {
			kind := "index"
			switch {
			case ix.IsPrimaryKey():
				kind = "primary key"
			case ix.IsUnique():
				kind = "unique index"
			}
			var cols []string
			for _, ic := range ix.Columns() {
				cols = append(cols, strings.TrimSpace(ic.Name()+" "+ic.Order().String()))
			}
			fmt.Fprintf(w, "%s%s %s (%s)\n", in, kind, ix.Name(), strings.Join(cols, ", "))
		}
		for _, r := range t.ImportedKeys() {
			var pairs []string
			for _, m := range r.Mappings() {
				pairs = append(pairs, m.FKColumn().Name()+" -> "+m.PKColumn().Name())
			}
			fk := "references"
			if r.IsIdentifying() {
				fk = "identified by"
			}
			fmt.Fprintf(w, "%skey %s %s %s (%s)\n", in, r.Name(), fk, r.PKTable().Name(), strings.Join(pairs, ", "))
		}
	}
}

func indent(depth int) string { return strings.Repeat("  ", depth) }
