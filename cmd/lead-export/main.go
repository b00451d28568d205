package main

import (
	"flag"
	"os"
	"time"

	"leadengine/internal/analytics"
	"leadengine/internal/leads/store"
	"leadengine/platform/config"
	"leadengine/platform/logger"
)

func main() {
	kind := flag.String("kind", string(analytics.ExportLeads), "export kind: leads or conversations")
	leadID := flag.String("lead", "", "restrict a conversations export to one lead")
	out := flag.String("out", "", "output file (defaults to a dated name in the working directory)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting lead export", "kind", *kind, "file", cfg.GetDataFile())

	st, savedAt, err := store.New(cfg, log).Load()
	if err != nil {
		log.Error("failed to read store", "error", err)
		os.Exit(1)
	}

	name := *out
	if name == "" {
		name = analytics.FileName(analytics.ExportKind(*kind), time.Now())
	}
	f, err := os.Create(name)
	if err != nil {
		log.Error("failed to create export file", "file", name, "error", err)
		os.Exit(1)
	}

	if err := analytics.Write(f, st, analytics.ExportKind(*kind), *leadID); err != nil {
		f.Close()
		log.Error("export failed", "error", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		log.Error("failed to close export file", "file", name, "error", err)
		os.Exit(1)
	}
	log.Info("lead export written", "file", name, "leads", len(st.Leads), "saved_at", savedAt)
}
