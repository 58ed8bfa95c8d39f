package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/formvault/internal/export"
	"github.com/wesm/formvault/internal/store"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the formvault database with the required schema.

Creates the forms, form_fields, submissions and viewer_preferences tables
when missing and prints their row counts. Existing data is left alone, so
running it again is harmless.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabaseDSN()
		logger.Info("initializing database", "path", dbPath)

		s, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer s.Close()

		if err := s.InitSchema(); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}

		logger.Info("database initialized successfully")
		return printStats(s)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return printStats(a.store)
	},
}

func printStats(s *store.Store) error {
	stats, err := s.GetStats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	writeStats(os.Stdout, stdoutIsTerminal(), cfg.DatabaseDSN(), stats)
	return nil
}

func writeStats(w io.Writer, tty bool, path string, st *store.Stats) {
	count := func(n int64) string { return strconv.FormatInt(n, 10) }
	writeTable(w, tty, []string{"DATABASE", "FORMS", "FIELDS", "SUBMISSIONS", "PREFERENCES", "SIZE"}, [][]string{{
		path,
		count(st.FormCount),
		count(st.FieldCount),
		count(st.SubmissionCount),
		count(st.PreferenceCount),
		export.FormatBytesLong(st.DatabaseSize),
	}})
}

func init() {
	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(statsCmd)
}
