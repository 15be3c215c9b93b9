// Command catalog-inspect is an operational CLI for poking at a deckforge
// catalog database directly, grounded on the teacher's cmd/log-analyzer
// convention of a small standalone inspection binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deckforge/deckforge/internal/catalog"
)

var (
	dbPath = flag.String("db-path", "deckforge.db", "Catalog database path")
	query  = flag.String("query", "", "Optional text to search for (name/oracle text/type line)")
	format = flag.String("format", "", "Optional format legality filter, e.g. Standard")
	limit  = flag.Int("limit", 10, "Max sample results to print")
)

func main() {
	flag.Parse()

	db, err := catalog.Open(&catalog.DBConfig{
		Path:            *dbPath,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		BusyTimeout:     5 * time.Second,
		JournalMode:     "WAL",
		Synchronous:     "NORMAL",
		AutoMigrate:     false,
	})
	if err != nil {
		log.Fatalf("open catalog database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("error closing catalog database: %v", err)
		}
	}()

	store := catalog.NewStore(db)
	ctx := context.Background()

	total, err := store.Count(ctx)
	if err != nil {
		log.Fatalf("count cards: %v", err)
	}
	fmt.Printf("Catalog: %s\n", *dbPath)
	fmt.Printf("Total cards: %d\n", total)

	if *query == "" && *format == "" {
		return
	}

	filters := catalog.SearchFilters{TextContains: *query, LegalInFormat: *format}
	cards, err := store.Search(ctx, filters, *limit)
	if err != nil {
		log.Fatalf("search cards: %v", err)
	}

	fmt.Println()
	fmt.Printf("Sample results (query=%q format=%q, showing up to %d):\n", *query, *format, *limit)
	fmt.Println(strings.Repeat("-", 60))
	for _, c := range cards {
		fmt.Printf("%-30s CMC %-4.1f %-20s %s\n", c.Name, c.CMC, c.TypeLine, strings.Join(c.Colors, ""))
	}
	if len(cards) == 0 {
		fmt.Println("(no matches)")
	}
}
