// Package main is a diagnostic tool for testing connectivity to the
// Dataverse database before a report run. It connects, summarizes the
// guestbook response and file download tables, and prints the top datasets
// by download count to stdout. The binary exits with a non-zero code on any
// failure so it can gate scheduled report runs on a reachable database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "dvnapp"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=dvnapp password=%s dbname=dvndb sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Check guestbook responses
	fmt.Println("=== GUESTBOOK RESPONSES ===")
	var responses, datasets int64
	if err := db.QueryRow("SELECT COUNT(id), COUNT(DISTINCT dataset_id) FROM guestbookresponse").Scan(&responses, &datasets); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Responses: %d across %d dataset(s)\n", responses, datasets)

	// Check recorded downloads
	fmt.Println("\n=== FILE DOWNLOADS ===")
	var downloads int64
	if err := db.QueryRow("SELECT COUNT(id) FROM filedownload").Scan(&downloads); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Downloads: %d\n", downloads)

	// Top datasets by download count, same join the reports use
	fmt.Println("\n=== TOP DATASETS BY DOWNLOADS ===")
	rows, err := db.Query(`SELECT g.dataset_id, COUNT(g.id)
		FROM guestbookresponse g
		LEFT JOIN filedownload f ON g.id = f.guestbookresponse_id
		GROUP BY g.dataset_id
		ORDER BY COUNT(g.id) DESC
		LIMIT 10`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var datasetID, total int64
		if err := rows.Scan(&datasetID, &total); err != nil {
			log.Printf("Warning: failed to scan download row: %v", err)
			continue
		}
		fmt.Printf("Dataset %d: %d download(s)\n", datasetID, total)
		count++
	}

	if count == 0 {
		fmt.Println("No downloads recorded!")
	}
}
