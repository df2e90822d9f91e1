package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"negotiation-hub/infrastructure/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	// Records only by default, index keys are noise most of the time
	prefix := flag.String("prefix", "", "Prefix to scan (msg:, conv:, outbox:, idx:)")
	withIndex := flag.Bool("index", false, "Also list index keys")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Entity ID", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			rawKey := string(item.Key())
			if strings.HasPrefix(rawKey, "idx:") && !*withIndex && !strings.HasPrefix(*prefix, "idx:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				described, err := storage.Describe(rawKey, v)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", rawKey, err)
					return nil
				}

				displayID := described.EntityID
				if len(displayID) > 8 {
					displayID = displayID[:8]
				}
				timestamp := "--:--:--"
				if !described.Timestamp.IsZero() {
					timestamp = described.Timestamp.Format("15:04:05")
				}

				table.Append([]string{rawKey, described.Kind, timestamp, displayID, described.Detail})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil {
		// A crashed writer leaves a vlog to truncate, which a read-only open refuses
		if strings.Contains(err.Error(), "Log truncate required") {
			fmt.Println("Truncating value log before inspection")
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			_ = db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
