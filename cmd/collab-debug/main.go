// collab-debug inspects a project's accumulated update log: it prints
// the change DAG as graphviz dot on stdout and can render it to SVG.
// The log is read either from a raw dump file or straight out of the
// server database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/automerge/automerge-go"

	"github.com/codecollab/engine/pkg/replica"
	"github.com/codecollab/engine/pkg/store"
	"github.com/codecollab/engine/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	dbVar := flag.String("db", "", "read the update log from this database instead of a dump file")
	projectVar := flag.Int64("project", 0, "project id, required with -db")
	fileVar := flag.String("file", "", "label each change with this file's text")
	svgVar := flag.String("svg", "", "also render the DAG to this SVG path, or to a temp file when empty with -render")
	renderVar := flag.Bool("render", false, "render the DAG to a temp SVG file")
	flag.Parse()

	var raw []byte
	var err error
	if *dbVar != "" {
		if *projectVar == 0 {
			return fmt.Errorf("-project is required with -db")
		}
		st, err := store.Open(*dbVar)
		if err != nil {
			return err
		}
		defer st.Close()
		if raw, err = st.ReadDocUpdates(context.Background(), *projectVar); err != nil {
			return err
		}
	} else {
		if flag.NArg() != 1 {
			return fmt.Errorf("expected one positional argument: the update log dump to read")
		}
		if raw, err = os.ReadFile(flag.Arg(0)); err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
	}
	if len(raw) == 0 {
		return fmt.Errorf("update log is empty")
	}

	doc, err := automerge.Load(raw)
	if err != nil {
		return fmt.Errorf("failed to load update log: %w", err)
	}
	slog.Info("loaded doc", "contents", doc.RootMap().GoString())
	slog.Info("loaded heads", "heads", doc.Heads())

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "dep", change.Dependencies())
	}

	fmt.Println(`digraph "log" {`)
	for _, change := range changes {
		label := fmt.Sprintf("%s %s@%d", change.Hash().String()[:8], change.ActorID(), change.ActorSeq())
		if *fileVar != "" {
			if docAt, err := doc.Fork(change.Hash()); err == nil {
				if text, ok := replica.FileText(docAt, *fileVar); ok {
					label = fmt.Sprintf("%s %s", label, text)
				}
			}
		}
		fmt.Printf("    %q [label=%q]\n", change.Hash(), label)
		for _, hash := range change.Dependencies() {
			fmt.Printf("    %q -> %q\n", hash, change.Hash())
		}
	}
	fmt.Println("}")

	switch {
	case *svgVar != "":
		if err := viz.RenderFileHistorySVG(doc, *fileVar, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
	case *renderVar:
		svgPath, err := viz.RenderToTemp(doc, *fileVar)
		if err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+svgPath)
	}
	return nil
}
