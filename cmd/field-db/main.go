// Field database CLI tool.
// Provides command-line access to the controller's local database.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

var (
	dbPath  string
	rootCmd = &cobra.Command{
		Use:   "field-db",
		Short: "AgriNet Field Database CLI",
		Long:  "Command-line tool for inspecting the field controller's local database.",
	}

	readingsCmd = &cobra.Command{
		Use:   "readings",
		Short: "Show recent sensor readings",
		RunE:  showReadings,
	}

	eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "Show irrigation events",
		RunE:  showEvents,
	}

	uplinksCmd = &cobra.Command{
		Use:   "uplinks",
		Short: "Show uplink attempt log",
		RunE:  showUplinks,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE:  showStats,
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw SQL query",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}

	pruneCmd = &cobra.Command{
		Use:   "prune [days]",
		Short: "Delete rows older than the given number of days",
		Args:  cobra.ExactArgs(1),
		RunE:  pruneOld,
	}

	limit int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/field-controller/field.db", "Database file path")

	readingsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	uplinksCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	rootCmd.AddCommand(readingsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(uplinksCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	return sql.Open("sqlite3", dbPath+"?mode=ro")
}

func showReadings(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT temperature, humidity, light_level, rain_level, air_quality_ppm,
		       soil_moisture, timestamp, time_synced, valid, uplinked, stored_at
		FROM readings ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TEMP\tHUM\tLIGHT\tRAIN\tAIR PPM\tSOIL\tTIMESTAMP\tSYNC\tVALID\tUP\tSTORED")
	fmt.Fprintln(w, "----\t---\t-----\t----\t-------\t----\t---------\t----\t-----\t--\t------")

	for rows.Next() {
		var temp, hum, ppm float64
		var light, rain, soil int
		var ts int64
		var synced, valid, uplinked bool
		var storedAt time.Time

		if err := rows.Scan(&temp, &hum, &light, &rain, &ppm, &soil, &ts, &synced, &valid, &uplinked, &storedAt); err != nil {
			return err
		}

		tsStr := fmt.Sprintf("+%ds", ts)
		if synced {
			tsStr = time.Unix(ts, 0).Format("01-02 15:04:05")
		}

		fmt.Fprintf(w, "%.1f\t%.0f%%\t%d\t%d\t%.0f\t%d\t%s\t%s\t%s\t%s\t%s\n",
			temp, hum, light, rain, ppm, soil, tsStr,
			yn(synced), yn(valid), yn(uplinked), storedAt.Format("01-02 15:04"))
	}
	w.Flush()
	return nil
}

func showEvents(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT mode, reason, start_soil, end_soil, started_at, ended_at
		FROM irrigation_events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tREASON\tSOIL START\tSOIL END\tSTARTED\tDURATION")
	fmt.Fprintln(w, "----\t------\t----------\t--------\t-------\t--------")

	for rows.Next() {
		var mode, reason string
		var startSoil, endSoil int
		var startedAt, endedAt time.Time

		if err := rows.Scan(&mode, &reason, &startSoil, &endSoil, &startedAt, &endedAt); err != nil {
			return err
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			strings.ToUpper(mode), reason, startSoil, endSoil,
			startedAt.Format("01-02 15:04:05"),
			endedAt.Sub(startedAt).Round(time.Second))
	}
	w.Flush()
	return nil
}

func showUplinks(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT ok, detail, timestamp
		FROM uplink_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OK\tDETAIL\tTIME")
	fmt.Fprintln(w, "--\t------\t----")

	for rows.Next() {
		var ok bool
		var detail sql.NullString
		var ts time.Time

		if err := rows.Scan(&ok, &detail, &ts); err != nil {
			return err
		}

		detailStr := detail.String
		if detailStr == "" {
			detailStr = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", yn(ok), detailStr, ts.Format("01-02 15:04:05"))
	}
	w.Flush()
	return nil
}

func showStats(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("=== Field Controller Database Statistics ===")
	fmt.Println()

	var readingCount, unuplinked int
	db.QueryRow("SELECT COUNT(*) FROM readings").Scan(&readingCount)
	db.QueryRow("SELECT COUNT(*) FROM readings WHERE uplinked = 0 AND valid = 1").Scan(&unuplinked)
	fmt.Printf("Readings: %d (awaiting uplink: %d)\n", readingCount, unuplinked)

	var eventCount, waterings int
	db.QueryRow("SELECT COUNT(*) FROM irrigation_events").Scan(&eventCount)
	db.QueryRow("SELECT COUNT(*) FROM irrigation_events WHERE mode != 'skip'").Scan(&waterings)
	fmt.Printf("Irrigation events: %d (waterings: %d)\n", eventCount, waterings)

	var uplinkCount, uplinkFailed int
	db.QueryRow("SELECT COUNT(*) FROM uplink_log").Scan(&uplinkCount)
	db.QueryRow("SELECT COUNT(*) FROM uplink_log WHERE ok = 0").Scan(&uplinkFailed)
	fmt.Printf("Uplink attempts: %d (failed: %d)\n", uplinkCount, uplinkFailed)

	var oldest sql.NullString
	db.QueryRow("SELECT MIN(stored_at) FROM readings").Scan(&oldest)
	if oldest.Valid {
		fmt.Printf("Oldest reading: %s\n", oldest.String)
	}

	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	query := args[0]

	// Only allow SELECT queries for safety
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))

	values := make([]interface{}, len(cols))
	valuePtrs := make([]interface{}, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}

		var row []string
		for _, v := range values {
			switch val := v.(type) {
			case nil:
				row = append(row, "NULL")
			case []byte:
				row = append(row, string(val))
			default:
				row = append(row, fmt.Sprintf("%v", val))
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return nil
}

func pruneOld(cmd *cobra.Command, args []string) error {
	var days int
	if _, err := fmt.Sscanf(args[0], "%d", &days); err != nil || days < 1 {
		return fmt.Errorf("invalid day count %q", args[0])
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	cutoff := time.Now().AddDate(0, 0, -days)
	for _, table := range []struct{ name, col string }{
		{"readings", "stored_at"},
		{"irrigation_events", "started_at"},
		{"uplink_log", "timestamp"},
	} {
		res, err := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table.name, table.col), cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune %s: %w", table.name, err)
		}
		n, _ := res.RowsAffected()
		fmt.Printf("%s: deleted %d rows\n", table.name, n)
	}
	return nil
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
