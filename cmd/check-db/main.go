// Package main is a deployment diagnostic: it connects to the billing
// database, summarises the clients, time_entries and invoices tables, and
// reports whether an accounting provider is connected. It exits non-zero on
// any failure, so pipelines can gate a rollout on a reachable, populated
// database. Encrypted credential material is never printed, only presence.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func main() {
	dsn := flag.String("dsn", defaultDSN(), "PostgreSQL connection string")
	flag.Parse()

	if err := run(*dsn); err != nil {
		log.Fatal(err)
	}
}

// defaultDSN targets the local development database, with the password
// overridable the same way the server reads it.
func defaultDSN() string {
	password := os.Getenv("DATABASE_PASSWORD")
	if password == "" {
		password = "chronobill"
	}
	return fmt.Sprintf("host=localhost port=5432 user=chronobill password=%s dbname=chronobill sslmode=disable", password)
}

func run(dsn string) error {
	// sqlx.Connect pings, so a bad DSN fails here instead of at the first
	// query.
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer db.Close()

	sections := []func(*sqlx.DB) error{
		clientSection,
		timeEntrySection,
		invoiceSection,
		integrationSection,
	}
	for _, section := range sections {
		if err := section(db); err != nil {
			return err
		}
	}
	return nil
}

func clientSection(db *sqlx.DB) error {
	var clients []struct {
		ID       string `db:"id"`
		Name     string `db:"name"`
		Archived bool   `db:"archived"`
	}
	if err := db.Select(&clients, "SELECT id, name, archived FROM clients ORDER BY name"); err != nil {
		return fmt.Errorf("reading clients: %w", err)
	}

	fmt.Printf("clients (%d):\n", len(clients))
	for _, c := range clients {
		state := "active"
		if c.Archived {
			state = "archived"
		}
		fmt.Printf("  %s  %s  %s\n", c.ID, state, c.Name)
	}
	return nil
}

func timeEntrySection(db *sqlx.DB) error {
	var counts struct {
		Total      int `db:"total"`
		Uninvoiced int `db:"uninvoiced"`
	}
	const q = `SELECT COUNT(*) AS total,
	                  COUNT(*) FILTER (WHERE invoiced = FALSE) AS uninvoiced
	           FROM time_entries`
	if err := db.Get(&counts, q); err != nil {
		return fmt.Errorf("counting time entries: %w", err)
	}

	fmt.Printf("\ntime entries: %d total, %d awaiting export\n", counts.Total, counts.Uninvoiced)
	return nil
}

func invoiceSection(db *sqlx.DB) error {
	var invoices []struct {
		ID             string  `db:"id"`
		ExternalNumber string  `db:"external_number"`
		Total          float64 `db:"total"`
		Currency       string  `db:"currency"`
		EntryCount     int     `db:"entry_count"`
	}
	const q = `SELECT id, external_number, total, currency, entry_count
	           FROM invoices ORDER BY created_at DESC`
	if err := db.Select(&invoices, q); err != nil {
		return fmt.Errorf("reading invoices: %w", err)
	}

	fmt.Printf("\nexported invoices (%d):\n", len(invoices))
	if len(invoices) == 0 {
		fmt.Println("  none exported yet")
		return nil
	}
	for _, inv := range invoices {
		fmt.Printf("  #%s  %.2f %s  %d entries  (%s)\n",
			inv.ExternalNumber, inv.Total, inv.Currency, inv.EntryCount, inv.ID)
	}
	return nil
}

func integrationSection(db *sqlx.DB) error {
	var cred struct {
		Provider string `db:"provider"`
		Legacy   bool   `db:"legacy"`
	}
	err := db.Get(&cred, "SELECT provider, legacy FROM integration_credentials LIMIT 1")
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fmt.Println("\nintegration: no accounting provider connected")
	case err != nil:
		return fmt.Errorf("reading integration credentials: %w", err)
	case cred.Legacy:
		fmt.Printf("\nintegration: %s connected, legacy token, migration required\n", cred.Provider)
	default:
		fmt.Printf("\nintegration: %s connected\n", cred.Provider)
	}
	return nil
}
